package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/receipt/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, receipt *domain.Receipt) error {
	return db.WithContext(ctx).Create(receipt).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Receipt, error) {
	return r.find(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Receipt, error) {
	return r.find(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *repo) find(stmt *gorm.DB) (*domain.Receipt, error) {
	var receipt domain.Receipt
	err := stmt.Take(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Receipt, error) {
	var items []*domain.Receipt
	stmt := db.WithContext(ctx).Model(&domain.Receipt{})

	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", filter.CreatedFrom.UTC())
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", filter.CreatedTo.UTC())
	}
	if filter.Cursor != nil {
		createdAt, err := filter.Cursor.CursorTime()
		if err != nil {
			return nil, err
		}
		id, err := snowflake.ParseString(filter.Cursor.ID)
		if err != nil {
			return nil, err
		}
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkCancelled(ctx context.Context, db *gorm.DB, receipt *domain.Receipt) error {
	return r.transition(db.WithContext(ctx).Exec(
		`UPDATE receipts
		 SET status = ?, cancelled_at = ?, cancelled_by_id = ?, cancelled_by_name = ?,
		     cancel_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusCancelled,
		receipt.CancelledAt,
		receipt.CancelledByID,
		receipt.CancelledByName,
		receipt.CancelReason,
		receipt.UpdatedAt,
		receipt.ID,
		domain.StatusActive,
	))
}

func (r *repo) MarkConverted(ctx context.Context, db *gorm.DB, receipt *domain.Receipt) error {
	return r.transition(db.WithContext(ctx).Exec(
		`UPDATE receipts
		 SET status = ?, converted_invoice_id = ?, converted_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusConverted,
		receipt.ConvertedInvoiceID,
		receipt.ConvertedAt,
		receipt.UpdatedAt,
		receipt.ID,
		domain.StatusActive,
	))
}

// transition fails when the guarded status no longer matched.
func (r *repo) transition(result *gorm.DB) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.ErrInvalidStateTransition
	}
	return nil
}
