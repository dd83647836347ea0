package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Customer is the ledger's view of a directory entry. Only the lifetime
// spend counter is written from here.
type Customer struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	Name          string       `gorm:"type:text;not null" json:"name"`
	Phone         string       `gorm:"type:varchar(32);not null;default:''" json:"phone"`
	LifetimeSpend int64        `gorm:"not null;default:0" json:"lifetime_spend"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

//go:generate mockgen -destination=../mock/directory_mock.go -package=mock . Directory

// Directory is the customer collaborator used inside ledger transactions.
type Directory interface {
	// IncrementLifetimeSpend adds delta (negative on reversal) to the
	// customer's lifetime spend within tx.
	IncrementLifetimeSpend(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, delta int64) error
	FindByID(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*Customer, error)
}

var ErrCustomerNotFound = errors.New("customer_not_found")
