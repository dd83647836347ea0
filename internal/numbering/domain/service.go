package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/agencyledger/pkg/db"
	"gorm.io/gorm"
)

type Repository interface {
	// Increment bumps the counter for scope and returns the new value.
	Increment(ctx context.Context, db *gorm.DB, scope string, now time.Time) (int64, error)
	// Raise moves the counter forward to at least value.
	Raise(ctx context.Context, db *gorm.DB, scope string, value int64, now time.Time) error
	NumberTaken(ctx context.Context, db *gorm.DB, docType DocumentType, number string) (bool, error)
}

type Service interface {
	// Next returns the next free PREFIX-YYYYMMDD-NNN number for the day of at.
	Next(ctx context.Context, tx *gorm.DB, docType DocumentType, at time.Time) (string, error)
	// NextRunning returns the next free PREFIX<N> number.
	NextRunning(ctx context.Context, tx *gorm.DB, docType DocumentType, prefix string) (string, error)
	// Raise moves a sequence forward past numbers written outside the allocator.
	Raise(ctx context.Context, tx *gorm.DB, seq Sequence, value int64) error
	// Retry reruns fn while it fails with ErrDuplicateNumber.
	Retry(ctx context.Context, fn func() error) error
}

var (
	ErrDuplicateNumber     = errors.New("duplicate_document_number")
	ErrUnknownDocumentType = errors.New("unknown_document_type")
	ErrInvalidPrefix       = errors.New("invalid_number_prefix")
)

// CheckInsert maps a unique violation on a document insert to
// ErrDuplicateNumber and any other failure to a persistence error.
func CheckInsert(err error) error {
	if err == nil {
		return nil
	}
	if db.IsDuplicateKeyErr(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateNumber, err)
	}
	return db.WrapPersistence(err)
}
