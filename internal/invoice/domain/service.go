package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/snapshot"
	"github.com/smallbiznis/agencyledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	// FindForUpdate loads the invoice with line items and payments and locks
	// the invoice row where the dialect allows.
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Invoice, error)
	UpdateTotals(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	MarkCancelled(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	MarkRefunded(ctx context.Context, db *gorm.DB, payment *Payment) error
}

type LineItemInput struct {
	Description string `json:"description" binding:"required"`
	Quantity    int64  `json:"quantity" binding:"required,gt=0"`
	UnitPrice   int64  `json:"unit_price" binding:"gte=0"`
}

type CreateInvoiceRequest struct {
	InvoiceType   string
	Customer      snapshot.Customer
	AppointmentID *snowflake.ID
	LineItems     []LineItemInput
	// TaxRate falls back to the configured default when nil.
	TaxRate  *decimal.Decimal
	Discount int64
	Notes    string
}

// FromReceiptRequest seeds an invoice with the payment a receipt already
// collected.
type FromReceiptRequest struct {
	ReceiptID     snowflake.ID
	ReceiptNumber string
	InvoiceType   string
	Customer      snapshot.Customer
	AppointmentID *snowflake.ID
	LineItems     []LineItemInput
	TaxRate       *decimal.Decimal
	Discount      int64
	Amount        int64
	PaymentMethod ledgerdomain.PaymentMethod
	TransactionID snowflake.ID
	Actor         auditcontext.Actor
}

type AddPaymentRequest struct {
	InvoiceID     snowflake.ID
	Amount        int64
	PaymentMethod ledgerdomain.PaymentMethod
}

type RefundPaymentRequest struct {
	InvoiceID snowflake.ID
	PaymentID snowflake.ID
	Reason    string
}

type CancelInvoiceRequest struct {
	InvoiceID snowflake.ID
	Reason    string
}

// Result carries the invoice and the register right after the operation.
type Result struct {
	Invoice  *Invoice                      `json:"invoice"`
	Register ledgerdomain.RegisterSnapshot `json:"cash_register"`
}

type PaymentResult struct {
	Invoice     *Invoice                      `json:"invoice"`
	Payment     *Payment                      `json:"payment"`
	Transaction *ledgerdomain.Transaction     `json:"transaction"`
	Register    ledgerdomain.RegisterSnapshot `json:"cash_register"`
}

type RefundResult struct {
	Invoice  *Invoice                     `json:"invoice"`
	Payment  *Payment                     `json:"payment"`
	Reversal *ledgerdomain.ReversalResult `json:"reversal"`
}

type ListFilter struct {
	Status      InvoiceStatus
	InvoiceType string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Cursor      *pagination.Cursor
	Limit       int
}

type ListInvoiceRequest struct {
	pagination.Pagination
	Status      InvoiceStatus `form:"status"`
	InvoiceType string        `form:"invoice_type"`
	CreatedFrom *time.Time    `form:"created_from" time_format:"2006-01-02T15:04:05Z07:00"`
	CreatedTo   *time.Time    `form:"created_to" time_format:"2006-01-02T15:04:05Z07:00"`
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []*Invoice `json:"invoices"`
}

type Service interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Result, error)
	// CreateFromReceipt runs inside the caller's transaction and returns
	// the invoice with its single seeded payment.
	CreateFromReceipt(ctx context.Context, tx *gorm.DB, req FromReceiptRequest) (*Invoice, *Payment, error)
	AddPayment(ctx context.Context, req AddPaymentRequest) (*PaymentResult, error)
	RefundPayment(ctx context.Context, req RefundPaymentRequest) (*RefundResult, error)
	CancelInvoice(ctx context.Context, req CancelInvoiceRequest) (*Result, error)
	GetInvoice(ctx context.Context, id snowflake.ID) (*Invoice, error)
	ListInvoices(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
}

var (
	ErrInvalidInvoiceType = errors.New("invalid_invoice_type")
	ErrInvalidCustomer    = errors.New("invalid_customer")
	ErrInvalidLineItems   = errors.New("invalid_line_items")
	ErrInvalidDiscount    = errors.New("invalid_discount")
	ErrInvalidTaxRate     = errors.New("invalid_tax_rate")
	ErrInvalidTotal       = errors.New("invalid_invoice_total")
	ErrInvalidAmount      = errors.New("invalid_payment_amount")
	ErrOverpayment        = errors.New("payment_exceeds_remaining_amount")
	ErrInvalidReason      = errors.New("invalid_reason")
	ErrInvalidStatus      = errors.New("invalid_status")

	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrPaymentNotFound     = errors.New("payment_not_found")
	ErrPaymentNotOnInvoice = errors.New("payment_not_on_invoice")
	ErrAlreadyRefunded     = errors.New("payment_already_refunded")
)
