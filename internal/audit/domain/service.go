package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

// Entry is what a service wants recorded. Before and After are marshalled
// to JSON as given.
type Entry struct {
	Action       Action
	EntityType   string
	EntityID     string
	EntityNumber string
	Actor        auditcontext.Actor
	Before       any
	After        any
	Description  string
}

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     Action     `form:"action"`
	EntityType string     `form:"entity_type"`
	EntityID   string     `form:"entity_id"`
	ActorID    string     `form:"actor_id"`
	StartAt    *time.Time `form:"start_at" time_format:"2006-01-02T15:04:05Z07:00"`
	EndAt      *time.Time `form:"end_at" time_format:"2006-01-02T15:04:05Z07:00"`
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	// Record writes entry inside tx under a savepoint. A failed write rolls
	// back only the savepoint and is returned as *IncompleteError so the
	// caller can still commit its own work.
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	// Report raises an alert for every *IncompleteError in err. Call it
	// once the surrounding transaction has committed.
	Report(ctx context.Context, err error)
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidEntity    = errors.New("invalid_entity")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")

	// ErrAuditIncomplete marks results that committed without their audit entry.
	ErrAuditIncomplete = errors.New("audit_incomplete")
)

// IncompleteError is returned next to a committed result whose audit entry
// could not be written.
type IncompleteError struct {
	Action       Action
	EntityType   string
	EntityID     string
	EntityNumber string
	ActorID      string
	Err          error
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("audit %s %s/%s not recorded: %v", e.Action, e.EntityType, e.EntityID, e.Err)
}

func (e *IncompleteError) Unwrap() []error {
	return []error{ErrAuditIncomplete, e.Err}
}

// IsCommitted reports whether err accompanies an operation whose financial
// effect is already durable.
func IsCommitted(err error) bool {
	return errors.Is(err, ErrAuditIncomplete)
}

// Join folds audit failures of one operation into a single error.
func Join(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return errors.Join(kept...)
	}
}

// Incomplete lists the individual audit failures inside err.
func Incomplete(err error) []*IncompleteError {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		if single, ok := err.(*IncompleteError); ok {
			return []*IncompleteError{single}
		}
		var out []*IncompleteError
		for _, inner := range joined.Unwrap() {
			out = append(out, Incomplete(inner)...)
		}
		return out
	}
	var single *IncompleteError
	if errors.As(err, &single) {
		return []*IncompleteError{single}
	}
	return nil
}
