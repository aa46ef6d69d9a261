package booking

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/metrics"
	"github.com/lalithlochan/medinotify/internal/notify"
	"github.com/lalithlochan/medinotify/internal/observ"
)

// Config carries the clinic wide values every notification shares.
type Config struct {
	ClinicName     string
	BookingURLBase string
}

// Orchestrator confirms paid bookings and notifies the booked doctor.
type Orchestrator struct {
	records  Records
	notifier Notifier
	alerter  Alerter
	cfg      Config
	logger   *zap.Logger
}

// NewOrchestrator wires the collaborators. alerter may be nil.
func NewOrchestrator(records Records, notifier Notifier, alerter Alerter, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		records:  records,
		notifier: notifier,
		alerter:  alerter,
		cfg:      cfg,
		logger:   logger,
	}
}

// ProcessPaymentConfirmation confirms the booking, then tries to notify the
// doctor. Notification problems never undo the confirmation; everything
// that went wrong is listed in Outcome.Errors.
func (o *Orchestrator) ProcessPaymentConfirmation(ctx context.Context, c PaymentConfirmation) Outcome {
	ctx = observ.WithBookingID(ctx, c.BookingID)
	log := observ.Logger(o.logger, ctx)

	out := Outcome{Errors: []string{}}
	defer func() { metrics.RecordPaymentConfirmation(out.BookingConfirmed, out.DoctorNotified) }()

	if err := o.records.ConfirmBooking(ctx, c); err != nil {
		log.Error("booking confirmation failed", zap.Error(err))
		out.Errors = append(out.Errors, fmt.Sprintf("booking confirmation failed: %v", err))
		return out
	}
	out.BookingConfirmed = true
	log.Info("booking confirmed", zap.String("payment_id", c.PaymentID))

	doctor, err := o.resolveDoctor(ctx, c)
	if err != nil {
		log.Warn("doctor not resolved, notification skipped", zap.Error(err))
		out.Errors = append(out.Errors, fmt.Sprintf("doctor not resolved: %v", err))
		return out
	}

	res := o.notifier.NotifyDoctor(ctx, o.buildRequest(c, doctor))
	out.NotificationResult = &res
	out.DoctorNotified = res.Success

	if !res.Success {
		out.Errors = append(out.Errors, res.Errors...)
		o.alert(ctx, log, c.BookingID, res.Errors)
	}

	return out
}

// resolveDoctor prefers the doctor id on the payment and falls back to the
// booking's doctor reference.
func (o *Orchestrator) resolveDoctor(ctx context.Context, c PaymentConfirmation) (Doctor, error) {
	doctorID := c.DoctorID
	if doctorID == "" {
		id, err := o.records.DoctorIDForBooking(ctx, c.BookingID)
		if err != nil {
			return Doctor{}, fmt.Errorf("lookup doctor for booking: %w", err)
		}
		doctorID = id
	}
	if doctorID == "" {
		return Doctor{}, fmt.Errorf("booking has no doctor: %w", ErrNotFound)
	}

	doctor, err := o.records.GetDoctor(ctx, doctorID)
	if err != nil {
		return Doctor{}, fmt.Errorf("get doctor %s: %w", doctorID, err)
	}
	return doctor, nil
}

func (o *Orchestrator) buildRequest(c PaymentConfirmation, d Doctor) notify.NotificationRequest {
	tz := c.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	specialty := c.Specialty
	if specialty == "" {
		specialty = d.Specialty
	}

	return notify.NotificationRequest{
		BookingID: c.BookingID,
		Doctor: notify.Doctor{
			Name:  d.Name,
			Email: d.Email,
			Phone: d.Phone,
		},
		Appointment: notify.Appointment{
			DateTime: FormatAppointment(c.AppointmentDate, c.AppointmentTime, tz),
			Timezone: tz,
		},
		Patient:    c.Patient,
		Specialty:  specialty,
		ClinicName: o.cfg.ClinicName,
		PricePaid:  c.AmountPaid,
		Notes:      c.Notes,
		BookingURL: o.bookingURL(c.BookingID),
	}
}

func (o *Orchestrator) bookingURL(bookingID string) string {
	if o.cfg.BookingURLBase == "" {
		return ""
	}
	u, err := url.JoinPath(o.cfg.BookingURLBase, url.PathEscape(bookingID))
	if err != nil {
		return ""
	}
	return u
}

func (o *Orchestrator) alert(ctx context.Context, log *zap.Logger, bookingID string, errs []string) {
	if o.alerter == nil {
		return
	}
	if err := o.alerter.NotificationFailed(ctx, bookingID, errs); err != nil {
		log.Error("failed to publish notification alert", zap.Error(err))
	}
}
