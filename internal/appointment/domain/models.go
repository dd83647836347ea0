package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Appointment mirrors the booking registry row whose paid total the ledger
// keeps current.
type Appointment struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID snowflake.ID `gorm:"not null;default:0;index" json:"customer_id"`
	Title      string       `gorm:"type:text;not null;default:''" json:"title"`
	PaidAmount int64        `gorm:"not null;default:0" json:"paid_amount"`
	UpdatedAt  time.Time    `gorm:"not null" json:"updated_at"`
}

func (Appointment) TableName() string { return "appointments" }

//go:generate mockgen -destination=../mock/registry_mock.go -package=mock . Registry

type Registry interface {
	// IncrementPaidAmount adds delta (negative on reversal) to the
	// appointment's paid total within tx.
	IncrementPaidAmount(ctx context.Context, tx *gorm.DB, appointmentID snowflake.ID, delta int64) error
	FindByID(ctx context.Context, db *gorm.DB, appointmentID snowflake.ID) (*Appointment, error)
}

var ErrAppointmentNotFound = errors.New("appointment_not_found")
