package domain

import (
	"errors"
	"fmt"

	numberingdomain "github.com/smallbiznis/agencyledger/internal/numbering/domain"
	"github.com/smallbiznis/agencyledger/pkg/db"
)

var (
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidKind          = errors.New("invalid_transaction_kind")
	ErrInvalidPaymentMethod = errors.New("invalid_payment_method")
	ErrInvalidDocument      = errors.New("invalid_document_reference")
	ErrInvalidActor         = errors.New("invalid_actor")
	ErrInvalidReason        = errors.New("invalid_reason")
	ErrInvalidDescription   = errors.New("invalid_description")

	ErrTransactionNotFound = errors.New("transaction_not_found")

	ErrInsufficientBalance                  = errors.New("insufficient_balance")
	ErrInvalidStateTransition               = errors.New("invalid_state_transition")
	ErrAlreadyReversed                      = errors.New("already_reversed")
	ErrAutomaticOriginNotDirectlyReversible = errors.New("automatic_origin_not_directly_reversible")
	ErrTransactionNotOwned                  = errors.New("transaction_not_owned_by_document")
	ErrReversalNotReversible                = errors.New("reversal_not_reversible")
	ErrLegacyAlreadyImported                = errors.New("legacy_entry_already_imported")

	// ErrPersistenceFailure is the store failure marker shared by every
	// service; nothing was committed when it is returned.
	ErrPersistenceFailure = db.ErrPersistence
)

// InsufficientBalanceError reports a debit the method sub-balance cannot cover.
type InsufficientBalanceError struct {
	Method    PaymentMethod `json:"payment_method"`
	Available int64         `json:"available"`
	Requested int64         `json:"requested"`
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: available %d, requested %d", e.Method, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

func (e *InsufficientBalanceError) Shortfall() int64 {
	return e.Requested - e.Available
}

// TransitionError describes a rejected lifecycle move.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

func InvalidTransition(entity, from, to string) error {
	return &TransitionError{Entity: entity, From: from, To: to}
}

// IsRetryable reports whether the operation failed without committing
// anything and can be submitted again as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistenceFailure) || errors.Is(err, numberingdomain.ErrDuplicateNumber)
}

// IsClientError reports errors caused by the request rather than the system.
func IsClientError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidKind),
		errors.Is(err, ErrInvalidPaymentMethod),
		errors.Is(err, ErrInvalidDocument),
		errors.Is(err, ErrInvalidActor),
		errors.Is(err, ErrInvalidReason),
		errors.Is(err, ErrInvalidDescription),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrAlreadyReversed),
		errors.Is(err, ErrAutomaticOriginNotDirectlyReversible),
		errors.Is(err, ErrTransactionNotOwned),
		errors.Is(err, ErrReversalNotReversible):
		return true
	default:
		return false
	}
}
