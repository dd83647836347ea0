package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/snapshot"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusConverted Status = "converted_to_invoice"
	StatusCancelled Status = "cancelled"
)

// Receipt is a standalone payment document owning one income transaction
// until it is converted to an invoice.
type Receipt struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	Number        string        `gorm:"type:varchar(32);not null;uniqueIndex:ux_receipts_number" json:"number"`
	AppointmentID *snowflake.ID `gorm:"index" json:"appointment_id,omitempty"`

	Customer snapshot.Customer `gorm:"embedded" json:"customer"`
	Company  snapshot.Company  `gorm:"embedded" json:"company"`

	Amount        int64                      `gorm:"not null" json:"amount"`
	PaymentMethod ledgerdomain.PaymentMethod `gorm:"type:varchar(16);not null" json:"payment_method"`
	Description   string                     `gorm:"type:text;not null;default:''" json:"description"`
	Status        Status                     `gorm:"type:varchar(32);not null;index" json:"status"`
	TransactionID snowflake.ID               `gorm:"not null;uniqueIndex:ux_receipts_transaction" json:"transaction_id"`

	ConvertedInvoiceID *snowflake.ID `json:"converted_invoice_id,omitempty"`
	ConvertedAt        *time.Time    `json:"converted_at,omitempty"`

	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelledByID   *string    `gorm:"type:varchar(64)" json:"cancelled_by_id,omitempty"`
	CancelledByName *string    `gorm:"type:text" json:"cancelled_by_name,omitempty"`
	CancelReason    *string    `gorm:"type:text" json:"cancel_reason,omitempty"`

	CreatedByID   string    `gorm:"type:varchar(64);not null" json:"created_by_id"`
	CreatedByName string    `gorm:"type:text;not null;default:''" json:"created_by_name"`
	CreatedAt     time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (Receipt) TableName() string { return "receipts" }

func (r *Receipt) Ref() ledgerdomain.DocumentRef {
	return ledgerdomain.DocumentRef{Type: ledgerdomain.DocumentTypeReceipt, ID: r.ID, Number: r.Number}
}
