package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/booking"
)

// Repository is the Postgres record store for bookings and doctors.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

var _ booking.Records = (*Repository)(nil)

func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ConfirmBooking marks the booking paid. Re-confirming keeps the first
// confirmation time.
func (r *Repository) ConfirmBooking(ctx context.Context, c booking.PaymentConfirmation) error {
	query := `
		UPDATE bookings
		SET status = $2,
		    payment_id = COALESCE(NULLIF($3, ''), payment_id),
		    amount_paid = $4,
		    confirmed_at = COALESCE(confirmed_at, NOW()),
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool().Exec(ctx, query, c.BookingID, BookingStatusConfirmed, c.PaymentID, c.AmountPaid)
	if err != nil {
		r.logger.Error("failed to confirm booking",
			zap.Error(err),
			zap.String("booking_id", c.BookingID),
		)
		return fmt.Errorf("confirm booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking %s: %w", c.BookingID, booking.ErrNotFound)
	}

	r.logger.Info("booking confirmed",
		zap.String("booking_id", c.BookingID),
		zap.String("payment_id", c.PaymentID),
	)
	return nil
}

// DoctorIDForBooking follows the booking's doctor reference. An unassigned
// booking yields an empty id.
func (r *Repository) DoctorIDForBooking(ctx context.Context, bookingID string) (string, error) {
	var doctorID *string
	err := r.db.Pool().QueryRow(ctx, `SELECT doctor_id FROM bookings WHERE id = $1`, bookingID).Scan(&doctorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("booking %s: %w", bookingID, booking.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query booking doctor: %w", err)
	}
	if doctorID == nil {
		return "", nil
	}
	return *doctorID, nil
}

func (r *Repository) GetDoctor(ctx context.Context, doctorID string) (booking.Doctor, error) {
	query := `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(specialty, '')
		FROM doctors
		WHERE id = $1
	`

	var d booking.Doctor
	err := r.db.Pool().QueryRow(ctx, query, doctorID).Scan(&d.ID, &d.Name, &d.Email, &d.Phone, &d.Specialty)
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Doctor{}, fmt.Errorf("doctor %s: %w", doctorID, booking.ErrNotFound)
	}
	if err != nil {
		return booking.Doctor{}, fmt.Errorf("query doctor: %w", err)
	}
	return d, nil
}
