package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// balanceColumns maps a payment method to its register column. Column
// names never come from input.
var balanceColumns = map[domain.PaymentMethod]string{
	domain.PaymentMethodCash:     "cash_balance",
	domain.PaymentMethodCard:     "card_balance",
	domain.PaymentMethodTransfer: "transfer_balance",
}

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) EnsureRegister(ctx context.Context, db *gorm.DB, now time.Time) error {
	register := domain.CashRegister{ID: domain.RegisterID, UpdatedAt: now}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&register).Error
}

func (r *repo) LockRegister(ctx context.Context, db *gorm.DB) (*domain.CashRegister, error) {
	var register domain.CashRegister
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", domain.RegisterID).
		Take(&register).Error
	if err != nil {
		return nil, err
	}
	return &register, nil
}

func (r *repo) GetRegister(ctx context.Context, db *gorm.DB) (*domain.CashRegister, error) {
	var register domain.CashRegister
	err := db.WithContext(ctx).
		Where("id = ?", domain.RegisterID).
		Take(&register).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.CashRegister{ID: domain.RegisterID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &register, nil
}

func (r *repo) ApplyToRegister(ctx context.Context, db *gorm.DB, method domain.PaymentMethod, delta int64, now time.Time) (bool, error) {
	column, ok := balanceColumns[method]
	if !ok {
		return false, domain.ErrInvalidPaymentMethod
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE cash_registers
		 SET total_balance = total_balance + ?, `+column+` = `+column+` + ?, updated_at = ?
		 WHERE id = ? AND `+column+` + ? >= 0`,
		delta,
		delta,
		now,
		domain.RegisterID,
		delta,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	return db.WithContext(ctx).Create(txn).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	return r.find(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	return r.find(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repo) FindByLegacyRef(ctx context.Context, db *gorm.DB, ref string) (*domain.Transaction, error) {
	return r.find(db.WithContext(ctx).Where("legacy_ref = ?", ref))
}

func (r *repo) FindByNumber(ctx context.Context, db *gorm.DB, number string) (*domain.Transaction, error) {
	return r.find(db.WithContext(ctx).Where("number = ?", number))
}

func (r *repo) find(stmt *gorm.DB) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := stmt.Take(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Transaction, error) {
	var items []*domain.Transaction
	stmt := db.WithContext(ctx).Model(&domain.Transaction{})

	if filter.Kind != "" {
		stmt = stmt.Where("kind = ?", filter.Kind)
	}
	if filter.PaymentMethod != "" {
		stmt = stmt.Where("payment_method = ?", filter.PaymentMethod)
	}
	if filter.Origin != "" {
		stmt = stmt.Where("origin = ?", filter.Origin)
	}
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}
	if filter.From != nil {
		stmt = stmt.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("created_at < ?", filter.To.UTC())
	}

	order := "created_at desc, id desc"
	if filter.Ascending {
		order = "created_at asc, id asc"
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
		if filter.Ascending {
			stmt = stmt.Where("(created_at > ?) OR (created_at = ? AND id > ?)", createdAt, createdAt, id)
		} else {
			stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
		}
	}

	stmt = stmt.Order(order)
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkReversed(ctx context.Context, db *gorm.DB, id snowflake.ID, c domain.Cancellation) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE ledger_transactions
		 SET active = ?, cancelled_at = ?, cancelled_by_id = ?, cancelled_by_name = ?,
		     cancel_reason = ?, reversed_by_transaction_id = ?
		 WHERE id = ? AND active = ?`,
		false,
		c.At,
		c.ActorID,
		c.ActorName,
		c.Reason,
		c.ReversalID,
		id,
		true,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Repoint(ctx context.Context, db *gorm.DB, id snowflake.ID, doc domain.DocumentRef) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE ledger_transactions
		 SET origin_document_type = ?, origin_document_id = ?, origin_document_number = ?
		 WHERE id = ?`,
		doc.Type,
		doc.ID,
		doc.Number,
		id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (r *repo) ActiveSums(ctx context.Context, db *gorm.DB) (map[domain.PaymentMethod]int64, error) {
	var rows []struct {
		PaymentMethod domain.PaymentMethod
		Total         int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT payment_method,
		        COALESCE(SUM(CASE WHEN kind = ? THEN amount ELSE -amount END), 0) AS total
		 FROM ledger_transactions
		 WHERE active = ?
		 GROUP BY payment_method`,
		domain.KindIncome,
		true,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	sums := make(map[domain.PaymentMethod]int64, len(rows))
	for _, row := range rows {
		sums[row.PaymentMethod] = row.Total
	}
	return sums, nil
}
