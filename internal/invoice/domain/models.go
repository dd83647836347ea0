// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/snapshot"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusPartial   InvoiceStatus = "partial"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Invoice represents a billable document paid down by payments.
type Invoice struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Number      string       `gorm:"type:varchar(32);not null;uniqueIndex:ux_invoices_number" json:"number"`
	InvoiceType string       `gorm:"type:varchar(32);not null" json:"invoice_type"`

	Customer snapshot.Customer `gorm:"embedded" json:"customer"`
	Company  snapshot.Company  `gorm:"embedded" json:"company"`

	AppointmentID   *snowflake.ID `gorm:"index" json:"appointment_id,omitempty"`
	SourceReceiptID *snowflake.ID `gorm:"uniqueIndex:ux_invoices_source_receipt" json:"source_receipt_id,omitempty"`

	Subtotal   int64           `gorm:"not null" json:"subtotal"`
	Discount   int64           `gorm:"not null;default:0" json:"discount"`
	TaxRate    decimal.Decimal `gorm:"type:numeric(6,4);not null" json:"tax_rate"`
	TaxAmount  int64           `gorm:"not null;default:0" json:"tax_amount"`
	Total      int64           `gorm:"not null" json:"total"`
	PaidAmount int64           `gorm:"not null;default:0" json:"paid_amount"`
	// RemainingAmount is derived from Total and PaidAmount and never stored.
	RemainingAmount int64         `gorm:"-" json:"remaining_amount"`
	Status          InvoiceStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	Notes           string        `gorm:"type:text;not null;default:''" json:"notes,omitempty"`

	CreatedByID   string `gorm:"type:varchar(64);not null" json:"created_by_id"`
	CreatedByName string `gorm:"type:text;not null;default:''" json:"created_by_name"`

	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelledByID   *string    `gorm:"type:varchar(64)" json:"cancelled_by_id,omitempty"`
	CancelledByName *string    `gorm:"type:text" json:"cancelled_by_name,omitempty"`
	CancelReason    *string    `gorm:"type:text" json:"cancel_reason,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	LineItems []LineItem `gorm:"foreignKey:InvoiceID" json:"line_items"`
	Payments  []Payment  `gorm:"foreignKey:InvoiceID" json:"payments"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Derive recomputes the paid and remaining amounts from payments and moves
// the status accordingly. A cancelled invoice keeps its status.
func (i *Invoice) Derive() {
	var paid int64
	for _, p := range i.Payments {
		if !p.Refunded {
			paid += p.Amount
		}
	}
	i.PaidAmount = paid
	i.RemainingAmount = i.Total - paid
	if i.Status == InvoiceStatusCancelled {
		return
	}
	switch {
	case i.RemainingAmount <= 0:
		i.Status = InvoiceStatusPaid
	case paid > 0:
		i.Status = InvoiceStatusPartial
	default:
		i.Status = InvoiceStatusDraft
	}
}

// Payment looks up a payment loaded with the invoice.
func (i *Invoice) Payment(id snowflake.ID) (*Payment, bool) {
	for idx := range i.Payments {
		if i.Payments[idx].ID == id {
			return &i.Payments[idx], true
		}
	}
	return nil, false
}

// Ref is the document reference used for a payment's ledger transaction.
func (i *Invoice) Ref(paymentID snowflake.ID) ledgerdomain.DocumentRef {
	return ledgerdomain.DocumentRef{Type: ledgerdomain.DocumentTypeInvoice, ID: paymentID, Number: i.Number}
}

// LineItem represents a line on an invoice.
type LineItem struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	Position    int          `gorm:"not null" json:"position"`
	Description string       `gorm:"type:text;not null" json:"description"`
	Quantity    int64        `gorm:"not null" json:"quantity"`
	UnitPrice   int64        `gorm:"not null" json:"unit_price"`
	Amount      int64        `gorm:"not null" json:"amount"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "invoice_line_items" }

// Payment is one instalment against an invoice. It owns exactly one
// ledger transaction.
type Payment struct {
	ID            snowflake.ID               `gorm:"primaryKey" json:"id"`
	InvoiceID     snowflake.ID               `gorm:"not null;index" json:"invoice_id"`
	Amount        int64                      `gorm:"not null" json:"amount"`
	PaymentMethod ledgerdomain.PaymentMethod `gorm:"type:varchar(16);not null" json:"payment_method"`
	TransactionID snowflake.ID               `gorm:"not null;uniqueIndex:ux_invoice_payments_transaction" json:"transaction_id"`

	Refunded            bool          `gorm:"not null;default:false" json:"refunded"`
	RefundTransactionID *snowflake.ID `json:"refund_transaction_id,omitempty"`
	RefundedAt          *time.Time    `json:"refunded_at,omitempty"`
	RefundedByID        *string       `gorm:"type:varchar(64)" json:"refunded_by_id,omitempty"`
	RefundReason        *string       `gorm:"type:text" json:"refund_reason,omitempty"`

	CreatedByID   string    `gorm:"type:varchar(64);not null" json:"created_by_id"`
	CreatedByName string    `gorm:"type:text;not null;default:''" json:"created_by_name"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "invoice_payments" }
