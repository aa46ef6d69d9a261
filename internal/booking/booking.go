// Package booking turns paid booking confirmations into doctor
// notifications. Confirming the booking and notifying the doctor are
// reported independently.
package booking

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/lalithlochan/medinotify/internal/notify"
)

// ErrNotFound is returned by Records when a booking or doctor is unknown.
var ErrNotFound = errors.New("record not found")

// PaymentConfirmation is the payload emitted when a booking is paid.
type PaymentConfirmation struct {
	BookingID       string         `json:"bookingId" validate:"required"`
	PaymentID       string         `json:"paymentId,omitempty"`
	DoctorID        string         `json:"doctorId,omitempty"`
	AmountPaid      int64          `json:"amountPaid" validate:"gte=0"`
	Patient         notify.Patient `json:"patient"`
	Specialty       string         `json:"specialty,omitempty"`
	AppointmentDate string         `json:"appointmentDate" validate:"required,datetime=2006-01-02"`
	AppointmentTime string         `json:"appointmentTime" validate:"required,datetime=15:04"`
	Timezone        string         `json:"timezone,omitempty" validate:"omitempty,timezone"`
	Notes           string         `json:"notes,omitempty"`
}

var validate = validator.New()

// Validate checks c against its field rules. Failures are returned as
// validator.ValidationErrors.
func (c PaymentConfirmation) Validate() error {
	return validate.Struct(c)
}

// Doctor is the record-store view of a care provider.
type Doctor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Specialty string `json:"specialty,omitempty"`
}

// Records is the record-store collaborator.
type Records interface {
	// ConfirmBooking marks the booking as paid. Confirming twice is not an error.
	ConfirmBooking(ctx context.Context, c PaymentConfirmation) error
	DoctorIDForBooking(ctx context.Context, bookingID string) (string, error)
	GetDoctor(ctx context.Context, doctorID string) (Doctor, error)
}

// Notifier is satisfied by *notify.Engine.
type Notifier interface {
	NotifyDoctor(ctx context.Context, req notify.NotificationRequest) notify.Result
}

// Alerter raises an operational alert when a confirmed booking could not be
// notified.
type Alerter interface {
	NotificationFailed(ctx context.Context, bookingID string, errs []string) error
}

// Outcome reports both halves of a payment confirmation.
type Outcome struct {
	BookingConfirmed   bool           `json:"bookingConfirmed"`
	DoctorNotified     bool           `json:"doctorNotified"`
	NotificationResult *notify.Result `json:"notificationResult,omitempty"`
	Errors             []string       `json:"errors"`
}
