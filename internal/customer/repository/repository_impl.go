package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyledger/internal/customer/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Directory {
	return &repo{}
}

func (r *repo) IncrementLifetimeSpend(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, delta int64) error {
	if delta == 0 {
		return nil
	}
	result := tx.WithContext(ctx).Exec(
		`UPDATE customers SET lifetime_spend = lifetime_spend + ?, updated_at = ? WHERE id = ?`,
		delta,
		time.Now().UTC(),
		customerID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrCustomerNotFound
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).
		Raw(`SELECT id, name, phone, lifetime_spend, updated_at FROM customers WHERE id = ?`, customerID).
		Take(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}
