package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrPersistence marks failures of the underlying store. Nothing was
// committed when an operation returns it, so the caller may retry.
var ErrPersistence = errors.New("persistence_failure")

// WrapPersistence tags a driver error with ErrPersistence.
func WrapPersistence(err error) error {
	if err == nil || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// Atomic runs fn in one database transaction. Errors returned by fn are
// passed through untouched; begin and commit failures become ErrPersistence.
func Atomic(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var fnErr error
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(tx)
		return fnErr
	})
	if err != nil && fnErr == nil {
		return WrapPersistence(err)
	}
	return err
}
