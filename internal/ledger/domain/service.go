package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// EnsureRegister creates the register row when it does not exist yet.
	EnsureRegister(ctx context.Context, db *gorm.DB, now time.Time) error
	// LockRegister reads the register row, locking it where the dialect allows.
	LockRegister(ctx context.Context, db *gorm.DB) (*CashRegister, error)
	GetRegister(ctx context.Context, db *gorm.DB) (*CashRegister, error)
	// ApplyToRegister adds delta to the total and the method sub-balance.
	// It returns false without writing when the sub-balance would go negative.
	ApplyToRegister(ctx context.Context, db *gorm.DB, method PaymentMethod, delta int64, now time.Time) (bool, error)

	Insert(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindByLegacyRef(ctx context.Context, db *gorm.DB, ref string) (*Transaction, error)
	FindByNumber(ctx context.Context, db *gorm.DB, number string) (*Transaction, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Transaction, error)
	// MarkReversed deactivates an active transaction. It returns false when
	// the row was already inactive.
	MarkReversed(ctx context.Context, db *gorm.DB, id snowflake.ID, c Cancellation) (bool, error)
	Repoint(ctx context.Context, db *gorm.DB, id snowflake.ID, doc DocumentRef) error
	// ActiveSums returns the signed sum of active transactions per method.
	ActiveSums(ctx context.Context, db *gorm.DB) (map[PaymentMethod]int64, error)
}

// AppendRequest is one money movement against the register.
type AppendRequest struct {
	Kind          Kind
	Amount        int64
	PaymentMethod PaymentMethod
	Origin        Origin
	Document      DocumentRef
	Description   string
	Category      string
	Actor         auditcontext.Actor
}

type ManualTransactionRequest struct {
	Kind          Kind
	Amount        int64
	PaymentMethod PaymentMethod
	Description   string
	Category      string
}

type ReverseRequest struct {
	TransactionID snowflake.ID
	Reason        string
}

// Result carries the ledger record and the register right after it.
type Result struct {
	Transaction *Transaction     `json:"transaction"`
	Register    RegisterSnapshot `json:"cash_register"`
}

// ReversalResult is returned by reversals: the deactivated original and
// the compensating record.
type ReversalResult struct {
	Original *Transaction     `json:"original"`
	Reversal *Transaction     `json:"reversal"`
	Register RegisterSnapshot `json:"cash_register"`
}

// LegacyEntry is one row of the pre-ledger register history.
type LegacyEntry struct {
	Ref           string
	Kind          Kind
	Amount        int64
	PaymentMethod PaymentMethod
	Description   string
	Category      string
	Number        string
	Document      DocumentRef
	Active        bool
	ActorID       string
	ActorName     string
	CreatedAt     time.Time
}

type ListFilter struct {
	Kind          Kind
	PaymentMethod PaymentMethod
	Origin        Origin
	Active        *bool
	From          *time.Time
	To            *time.Time
	Cursor        *pagination.Cursor
	Limit         int
	// Ascending orders oldest first; the default is newest first.
	Ascending bool
}

type ListRequest struct {
	Kind          Kind
	PaymentMethod PaymentMethod
	Origin        Origin
	Active        *bool
	From          *time.Time
	To            *time.Time
	pagination.Pagination
}

type ListResponse struct {
	Transactions []*Transaction     `json:"transactions"`
	PageInfo     pagination.PageInfo `json:"page_info"`
}

type Service interface {
	// Append records a movement inside the caller's transaction. It is the
	// only path that writes the cash register.
	Append(ctx context.Context, tx *gorm.DB, req AppendRequest) (*Transaction, error)
	// ReverseOwned reverses an automatic transaction on behalf of the
	// document that owns it.
	ReverseOwned(ctx context.Context, tx *gorm.DB, owner DocumentRef, id snowflake.ID, actor auditcontext.Actor, reason string) (*ReversalResult, error)
	// Repoint moves an automatic transaction to a new owning document.
	Repoint(ctx context.Context, tx *gorm.DB, id snowflake.ID, from, to DocumentRef) error
	// ImportLegacy appends a historical record keeping its number and timestamp.
	ImportLegacy(ctx context.Context, tx *gorm.DB, entry LegacyEntry) (*Transaction, error)
	Snapshot(ctx context.Context, tx *gorm.DB) (RegisterSnapshot, error)

	CreateManualTransaction(ctx context.Context, req ManualTransactionRequest) (*Result, error)
	ReverseTransaction(ctx context.Context, req ReverseRequest) (*ReversalResult, error)
	GetTransaction(ctx context.Context, id snowflake.ID) (*Transaction, error)
	ListTransactions(ctx context.Context, req ListRequest) (ListResponse, error)
	CashRegister(ctx context.Context) (RegisterSnapshot, error)
}
