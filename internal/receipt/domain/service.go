package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/agencyledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/snapshot"
	"github.com/smallbiznis/agencyledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, receipt *Receipt) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Receipt, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Receipt, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Receipt, error)
	MarkCancelled(ctx context.Context, db *gorm.DB, receipt *Receipt) error
	MarkConverted(ctx context.Context, db *gorm.DB, receipt *Receipt) error
}

type CreateReceiptRequest struct {
	Customer      snapshot.Customer
	Amount        int64
	PaymentMethod ledgerdomain.PaymentMethod
	AppointmentID *snowflake.ID
	Description   string
}

type CancelReceiptRequest struct {
	ReceiptID snowflake.ID
	Reason    string
}

type ConvertRequest struct {
	ReceiptID   snowflake.ID
	InvoiceType string
	LineItems   []invoicedomain.LineItemInput
	TaxRate     *decimal.Decimal
	Discount    int64
}

type Result struct {
	Receipt     *Receipt                      `json:"receipt"`
	Transaction *ledgerdomain.Transaction     `json:"transaction"`
	Register    ledgerdomain.RegisterSnapshot `json:"cash_register"`
}

type CancelResult struct {
	Receipt  *Receipt                     `json:"receipt"`
	Reversal *ledgerdomain.ReversalResult `json:"reversal"`
}

type ConvertResult struct {
	Receipt  *Receipt                      `json:"receipt"`
	Invoice  *invoicedomain.Invoice        `json:"invoice"`
	Register ledgerdomain.RegisterSnapshot `json:"cash_register"`
}

type ListFilter struct {
	Status      Status
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Cursor      *pagination.Cursor
	Limit       int
}

type ListReceiptRequest struct {
	pagination.Pagination
	Status      Status     `form:"status"`
	CreatedFrom *time.Time `form:"created_from" time_format:"2006-01-02T15:04:05Z07:00"`
	CreatedTo   *time.Time `form:"created_to" time_format:"2006-01-02T15:04:05Z07:00"`
}

type ListReceiptResponse struct {
	pagination.PageInfo
	Receipts []*Receipt `json:"receipts"`
}

type Service interface {
	CreateReceipt(ctx context.Context, req CreateReceiptRequest) (*Result, error)
	CancelReceipt(ctx context.Context, req CancelReceiptRequest) (*CancelResult, error)
	ConvertToInvoice(ctx context.Context, req ConvertRequest) (*ConvertResult, error)
	GetReceipt(ctx context.Context, id snowflake.ID) (*Receipt, error)
	ListReceipts(ctx context.Context, req ListReceiptRequest) (ListReceiptResponse, error)
}

var (
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrInvalidReason   = errors.New("invalid_reason")
	ErrInvalidStatus   = errors.New("invalid_status")

	ErrReceiptNotFound  = errors.New("receipt_not_found")
	ErrAlreadyConverted = errors.New("receipt_already_converted")
)
