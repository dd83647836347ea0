package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/agencyledger/internal/numbering/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

var numberTables = map[domain.DocumentType]string{
	domain.DocumentTypeTransaction: "ledger_transactions",
	domain.DocumentTypeReceipt:     "receipts",
	domain.DocumentTypeInvoice:     "invoices",
}

func (r *repo) Increment(ctx context.Context, db *gorm.DB, scope string, now time.Time) (int64, error) {
	db = db.WithContext(ctx)
	if db.Dialector.Name() == "mysql" {
		return r.incrementMySQL(db, scope, now)
	}

	var value int64
	err := db.Raw(
		`INSERT INTO document_counters (scope, last_value, updated_at)
		 VALUES (?, 1, ?)
		 ON CONFLICT (scope) DO UPDATE
		 SET last_value = document_counters.last_value + 1,
		     updated_at = excluded.updated_at
		 RETURNING last_value`,
		scope,
		now,
	).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	return value, nil
}

// incrementMySQL has no RETURNING; the row lock taken by the UPDATE keeps the
// follow-up read consistent for the rest of the transaction.
func (r *repo) incrementMySQL(db *gorm.DB, scope string, now time.Time) (int64, error) {
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.DocumentCounter{Scope: scope, LastValue: 0, UpdatedAt: now}).Error; err != nil {
		return 0, err
	}
	if err := db.Exec(
		`UPDATE document_counters SET last_value = last_value + 1, updated_at = ? WHERE scope = ?`,
		now, scope,
	).Error; err != nil {
		return 0, err
	}
	var value int64
	if err := db.Raw(`SELECT last_value FROM document_counters WHERE scope = ?`, scope).Scan(&value).Error; err != nil {
		return 0, err
	}
	return value, nil
}

func (r *repo) Raise(ctx context.Context, db *gorm.DB, scope string, value int64, now time.Time) error {
	db = db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.DocumentCounter{Scope: scope, LastValue: 0, UpdatedAt: now}).Error; err != nil {
		return err
	}
	return db.Exec(
		`UPDATE document_counters SET last_value = ?, updated_at = ? WHERE scope = ? AND last_value < ?`,
		value, now, scope, value,
	).Error
}

func (r *repo) NumberTaken(ctx context.Context, db *gorm.DB, docType domain.DocumentType, number string) (bool, error) {
	table, ok := numberTables[docType]
	if !ok {
		return false, domain.ErrUnknownDocumentType
	}
	var count int64
	err := db.WithContext(ctx).Raw(fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE number = ?`, table), number).
		Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
