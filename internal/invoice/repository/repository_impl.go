package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyledger/internal/invoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(invoice).Error; err != nil {
		return err
	}
	if len(invoice.LineItems) > 0 {
		if err := db.WithContext(ctx).Create(&invoice.LineItems).Error; err != nil {
			return err
		}
	}
	for idx := range invoice.Payments {
		if err := r.InsertPayment(ctx, db, &invoice.Payments[idx]); err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.load(ctx, db, id, true)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.load(ctx, db, id, false)
}

// load reads the invoice with its line items and payments. Only the invoice
// row is locked; children are read with fresh statements.
func (r *repo) load(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Invoice, error) {
	var invoice domain.Invoice
	stmt := db.WithContext(ctx)
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.Where("id = ?", id).Take(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := db.WithContext(ctx).Where("invoice_id = ?", id).Order("position asc").Find(&invoice.LineItems).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Where("invoice_id = ?", id).Order("created_at asc, id asc").Find(&invoice.Payments).Error; err != nil {
		return nil, err
	}
	invoice.Derive()
	return &invoice, nil
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Where("id = ?", id).Take(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Invoice, error) {
	var items []*domain.Invoice
	stmt := db.WithContext(ctx).Model(&domain.Invoice{})

	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.InvoiceType != "" {
		stmt = stmt.Where("invoice_type = ?", filter.InvoiceType)
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
	for _, item := range items {
		item.RemainingAmount = item.Total - item.PaidAmount
	}
	return items, nil
}

func (r *repo) UpdateTotals(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET paid_amount = ?, status = ?, updated_at = ? WHERE id = ?`,
		invoice.PaidAmount,
		invoice.Status,
		invoice.UpdatedAt,
		invoice.ID,
	).Error
}

func (r *repo) MarkCancelled(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, paid_amount = ?, cancelled_at = ?, cancelled_by_id = ?,
		     cancelled_by_name = ?, cancel_reason = ?, updated_at = ?
		 WHERE id = ?`,
		domain.InvoiceStatusCancelled,
		invoice.PaidAmount,
		invoice.CancelledAt,
		invoice.CancelledByID,
		invoice.CancelledByName,
		invoice.CancelReason,
		invoice.UpdatedAt,
		invoice.ID,
	).Error
}

func (r *repo) MarkRefunded(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE invoice_payments
		 SET refunded = ?, refund_transaction_id = ?, refunded_at = ?, refunded_by_id = ?, refund_reason = ?
		 WHERE id = ? AND refunded = ?`,
		true,
		payment.RefundTransactionID,
		payment.RefundedAt,
		payment.RefundedByID,
		payment.RefundReason,
		payment.ID,
		false,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrAlreadyRefunded
	}
	return nil
}
