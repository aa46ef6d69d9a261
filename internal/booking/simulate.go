package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/notify"
)

// Mode selects the payload a simulation dispatches.
type Mode string

const (
	// ModeSynthetic sends a fixed request straight to the dispatch engine.
	ModeSynthetic Mode = "synthetic"
	// ModeSimulation runs a full payment confirmation against in-memory records.
	ModeSimulation Mode = "simulation"
	// ModeCustom dispatches a caller supplied NotificationRequest.
	ModeCustom Mode = "custom"
)

var ErrUnknownMode = errors.New("unknown simulation mode")

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeSynthetic, ModeSimulation, ModeCustom:
		return m, nil
	case "":
		return ModeSynthetic, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Simulator drives the dispatch engine for operational verification.
type Simulator struct {
	notifier Notifier
	cfg      Config
	doctor   Doctor
	logger   *zap.Logger
	now      func() time.Time
}

// NewSimulator uses doctor as the destination for synthetic and simulation
// runs. Point it at a test inbox, or enable sandbox mode.
func NewSimulator(notifier Notifier, cfg Config, doctor Doctor, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if doctor.ID == "" {
		doctor.ID = "sim-doctor"
	}
	if doctor.Name == "" {
		doctor.Name = "Dr. Simulación"
	}
	if doctor.Specialty == "" {
		doctor.Specialty = "Medicina General"
	}
	return &Simulator{notifier: notifier, cfg: cfg, doctor: doctor, logger: logger, now: time.Now}
}

// Run dispatches bookingID in the given mode. Only malformed input is
// returned as an error; delivery problems are in the Result.
func (s *Simulator) Run(ctx context.Context, mode Mode, bookingID string, payload json.RawMessage) (notify.Result, error) {
	if bookingID == "" && mode != ModeCustom {
		bookingID = "sim-" + uuid.NewString()
	}

	s.logger.Info("running notification simulation",
		zap.String("mode", string(mode)),
		zap.String("booking_id", bookingID),
	)

	switch mode {
	case ModeSynthetic:
		return s.notifier.NotifyDoctor(ctx, s.syntheticRequest(bookingID)), nil
	case ModeSimulation:
		return s.simulate(ctx, bookingID), nil
	case ModeCustom:
		req, err := decodeRequest(payload)
		if err != nil {
			return notify.Result{}, err
		}
		if req.BookingID == "" {
			req.BookingID = bookingID
		}
		return s.notifier.NotifyDoctor(ctx, req), nil
	default:
		return notify.Result{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

func (s *Simulator) syntheticRequest(bookingID string) notify.NotificationRequest {
	return notify.NotificationRequest{
		BookingID: bookingID,
		Doctor: notify.Doctor{
			Name:  s.doctor.Name,
			Email: s.doctor.Email,
			Phone: s.doctor.Phone,
		},
		Appointment: notify.Appointment{
			DateTime: "lunes 1 de enero de 2024, 10:00 (America/Santiago)",
			Timezone: DefaultTimezone,
		},
		Patient: notify.Patient{
			Name:  "Paciente de Prueba",
			Rut:   "11.111.111-1",
			Phone: "+56911111111",
			Email: "paciente.prueba@example.com",
			Age:   35,
		},
		Specialty:  s.doctor.Specialty,
		ClinicName: s.clinicName(),
		PricePaid:  25000,
		Notes:      "Notificación de prueba",
	}
}

// simulate runs the orchestrator end to end for a booking scheduled
// tomorrow, so content formatting and doctor resolution are exercised.
func (s *Simulator) simulate(ctx context.Context, bookingID string) notify.Result {
	records := NewMemoryRecords()
	records.AddDoctor(s.doctor)
	records.AddBooking(bookingID, s.doctor.ID)

	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}
	when := s.now().In(loc).AddDate(0, 0, 1)

	orch := NewOrchestrator(records, s.notifier, nil, Config{
		ClinicName:     s.clinicName(),
		BookingURLBase: s.cfg.BookingURLBase,
	}, s.logger)

	out := orch.ProcessPaymentConfirmation(ctx, PaymentConfirmation{
		BookingID:       bookingID,
		PaymentID:       "sim-" + bookingID,
		AmountPaid:      35000,
		Patient:         notify.Patient{Name: "María González", Rut: "12.345.678-5", Phone: "+56987654321", Age: 29},
		AppointmentDate: when.Format("2006-01-02"),
		AppointmentTime: "09:30",
		Timezone:        DefaultTimezone,
		Notes:           "Reserva simulada",
	})

	if out.NotificationResult != nil {
		return *out.NotificationResult
	}
	return notify.Result{Errors: out.Errors, MessageIDs: []string{}}
}

func (s *Simulator) clinicName() string {
	if s.cfg.ClinicName != "" {
		return s.cfg.ClinicName
	}
	return "Clínica de Prueba"
}

func decodeRequest(payload json.RawMessage) (notify.NotificationRequest, error) {
	var req notify.NotificationRequest
	if len(bytes.TrimSpace(payload)) == 0 {
		return req, errors.New("custom mode requires a payload")
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("invalid payload: %w", err)
	}
	return req, nil
}
