package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyledger/internal/appointment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Registry {
	return &repo{}
}

func (r *repo) IncrementPaidAmount(ctx context.Context, tx *gorm.DB, appointmentID snowflake.ID, delta int64) error {
	if delta == 0 {
		return nil
	}
	result := tx.WithContext(ctx).Exec(
		`UPDATE appointments SET paid_amount = paid_amount + ?, updated_at = ? WHERE id = ?`,
		delta,
		time.Now().UTC(),
		appointmentID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrAppointmentNotFound
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, appointmentID snowflake.ID) (*domain.Appointment, error) {
	var appt domain.Appointment
	err := db.WithContext(ctx).
		Raw(`SELECT id, customer_id, title, paid_amount, updated_at FROM appointments WHERE id = ?`, appointmentID).
		Take(&appt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &appt, nil
}
