package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

func (k Kind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

// Inverse is the kind of the compensating transaction.
func (k Kind) Inverse() Kind {
	if k == KindIncome {
		return KindExpense
	}
	return KindIncome
}

// Signed returns amount with the sign it has on the register.
func (k Kind) Signed(amount int64) int64 {
	if k == KindExpense {
		return -amount
	}
	return amount
}

type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodTransfer:
		return true
	default:
		return false
	}
}

type Origin string

const (
	OriginManual    Origin = "manual"
	OriginAutomatic Origin = "automatic"
)

type DocumentType string

const (
	DocumentTypeManual  DocumentType = "manual"
	DocumentTypeReceipt DocumentType = "receipt"
	// DocumentTypeInvoice points at an InvoicePayment; the number is the invoice's.
	DocumentTypeInvoice DocumentType = "invoice"
)

// DocumentRef is the back-reference from a transaction to what caused it.
type DocumentRef struct {
	Type   DocumentType `json:"type"`
	ID     snowflake.ID `json:"id"`
	Number string       `json:"number,omitempty"`
}

// RegisterID is the primary key of the single cash register row.
const RegisterID int64 = 1

// CashRegister is the singleton balance aggregate. Only the ledger append
// path writes it.
type CashRegister struct {
	ID              int64     `gorm:"primaryKey;autoIncrement:false"`
	TotalBalance    int64     `gorm:"not null;default:0"`
	CashBalance     int64     `gorm:"not null;default:0"`
	CardBalance     int64     `gorm:"not null;default:0"`
	TransferBalance int64     `gorm:"not null;default:0"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (CashRegister) TableName() string { return "cash_registers" }

// Balance returns the sub-balance for method.
func (r CashRegister) Balance(method PaymentMethod) int64 {
	switch method {
	case PaymentMethodCash:
		return r.CashBalance
	case PaymentMethodCard:
		return r.CardBalance
	case PaymentMethodTransfer:
		return r.TransferBalance
	default:
		return 0
	}
}

func (r CashRegister) Snapshot() RegisterSnapshot {
	return RegisterSnapshot{
		Total:    r.TotalBalance,
		Cash:     r.CashBalance,
		Card:     r.CardBalance,
		Transfer: r.TransferBalance,
	}
}

// RegisterSnapshot is the balance view returned with every operation result.
type RegisterSnapshot struct {
	Total    int64 `json:"total"`
	Cash     int64 `json:"cash"`
	Card     int64 `json:"card"`
	Transfer int64 `json:"transfer"`
}

// Consistent reports whether the total equals the sum of the sub-balances.
func (s RegisterSnapshot) Consistent() bool {
	return s.Total == s.Cash+s.Card+s.Transfer
}

// Transaction is an immutable ledger record. Only the activity and
// cancellation fields change after commit, when the record is reversed.
type Transaction struct {
	ID                   snowflake.ID  `gorm:"primaryKey" json:"id"`
	Number               string        `gorm:"type:varchar(32);not null;uniqueIndex:ux_ledger_transactions_number" json:"number"`
	Kind                 Kind          `gorm:"type:varchar(16);not null" json:"kind"`
	Amount               int64         `gorm:"not null" json:"amount"`
	Description          string        `gorm:"type:text;not null;default:''" json:"description"`
	Category             string        `gorm:"type:text;not null;default:''" json:"category"`
	CategoryKey          string        `gorm:"type:varchar(64);not null;default:'';index" json:"category_key"`
	PaymentMethod        PaymentMethod `gorm:"type:varchar(16);not null" json:"payment_method"`
	Origin               Origin        `gorm:"type:varchar(16);not null" json:"origin"`
	OriginDocumentType   DocumentType  `gorm:"type:varchar(16);not null;index:ix_ledger_transactions_document,priority:1" json:"origin_document_type"`
	OriginDocumentID     snowflake.ID  `gorm:"not null;default:0;index:ix_ledger_transactions_document,priority:2" json:"origin_document_id"`
	OriginDocumentNumber string        `gorm:"type:varchar(32);not null;default:''" json:"origin_document_number"`
	BalanceBefore        int64         `gorm:"not null" json:"balance_before"`
	BalanceAfter         int64         `gorm:"not null" json:"balance_after"`
	CreatedByID          string        `gorm:"type:varchar(64);not null" json:"created_by_id"`
	CreatedByName        string        `gorm:"type:text;not null;default:''" json:"created_by_name"`
	Active               bool          `gorm:"not null;index" json:"active"`

	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelledByID   *string    `gorm:"type:varchar(64)" json:"cancelled_by_id,omitempty"`
	CancelledByName *string    `gorm:"type:text" json:"cancelled_by_name,omitempty"`
	CancelReason    *string    `gorm:"type:text" json:"cancel_reason,omitempty"`

	// ReversesTransactionID is set on compensating records.
	ReversesTransactionID *snowflake.ID `gorm:"index" json:"reverses_transaction_id,omitempty"`
	// ReversedByTransactionID is set on the original once reversed.
	ReversedByTransactionID *snowflake.ID `json:"reversed_by_transaction_id,omitempty"`

	LegacyRef *string `gorm:"type:varchar(128);uniqueIndex:ux_ledger_transactions_legacy_ref" json:"legacy_ref,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (Transaction) TableName() string { return "ledger_transactions" }

func (t Transaction) Document() DocumentRef {
	return DocumentRef{Type: t.OriginDocumentType, ID: t.OriginDocumentID, Number: t.OriginDocumentNumber}
}

// SignedAmount is the register effect of the record.
func (t Transaction) SignedAmount() int64 {
	return t.Kind.Signed(t.Amount)
}

// Cancellation is the metadata stamped on a reversed transaction.
type Cancellation struct {
	At         time.Time
	ActorID    string
	ActorName  string
	Reason     string
	ReversalID snowflake.ID
}
