package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/booking"
	"github.com/lalithlochan/medinotify/internal/notify"
)

// ConfirmationProcessor is satisfied by *booking.Orchestrator.
type ConfirmationProcessor interface {
	ProcessPaymentConfirmation(ctx context.Context, c booking.PaymentConfirmation) booking.Outcome
}

// ConfirmationQueue is satisfied by *sqs.Producer.
type ConfirmationQueue interface {
	Enqueue(ctx context.Context, c booking.PaymentConfirmation) (string, error)
}

// RecordLookup is satisfied by *notify.Engine.
type RecordLookup interface {
	Lookup(ctx context.Context, bookingID string) (notify.Record, bool, error)
}

// Simulator is satisfied by *booking.Simulator.
type Simulator interface {
	Run(ctx context.Context, mode booking.Mode, bookingID string, payload json.RawMessage) (notify.Result, error)
}

// TestNotificationRequest is the body of POST /v1/notifications/test.
type TestNotificationRequest struct {
	BookingID string          `json:"bookingId"`
	Mode      string          `json:"mode"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EnqueuedResponse is returned when a confirmation is queued.
type EnqueuedResponse struct {
	BookingID string `json:"bookingId"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	processor ConfirmationProcessor
	records   RecordLookup
	simulator Simulator
	queue     ConfirmationQueue // nil if SQS not configured
}

// NewHandler creates a handler that processes confirmations synchronously.
func NewHandler(logger *zap.Logger, processor ConfirmationProcessor, records RecordLookup, simulator Simulator) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:    logger,
		processor: processor,
		records:   records,
		simulator: simulator,
	}
}

// NewHandlerWithSQS creates a handler that enqueues confirmations instead.
func NewHandlerWithSQS(logger *zap.Logger, processor ConfirmationProcessor, records RecordLookup, simulator Simulator, queue ConfirmationQueue) *Handler {
	h := NewHandler(logger, processor, records, simulator)
	h.queue = queue
	return h
}

// Register mounts the /v1 routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/payments/confirmations", h.ConfirmPayment)
	r.Post("/notifications/test", h.TestNotification)
	r.Get("/notifications/{bookingId}", h.GetNotification)
}

// ConfirmPayment handles POST /v1/payments/confirmations
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var c booking.PaymentConfirmation
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if err := c.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid payment confirmation", validationDetail(err))
		return
	}

	if h.queue != nil {
		msgID, err := h.queue.Enqueue(ctx, c)
		if err != nil {
			h.logger.Error("failed to enqueue payment confirmation",
				zap.Error(err),
				zap.String("booking_id", c.BookingID),
			)
			h.writeError(w, http.StatusInternalServerError, "enqueue_error", "Failed to enqueue payment confirmation", "")
			return
		}

		h.writeJSON(w, http.StatusAccepted, EnqueuedResponse{
			BookingID: c.BookingID,
			MessageID: msgID,
			Status:    "queued",
		})
		return
	}

	out := h.processor.ProcessPaymentConfirmation(ctx, c)

	status := http.StatusOK
	if !out.BookingConfirmed {
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, out)
}

// TestNotification handles POST /v1/notifications/test
func (h *Handler) TestNotification(w http.ResponseWriter, r *http.Request) {
	var req TestNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	mode, err := booking.ParseMode(req.Mode)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid mode", "mode must be synthetic, simulation, or custom")
		return
	}

	res, err := h.simulator.Run(r.Context(), mode, req.BookingID, req.Payload)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid test payload", err.Error())
		return
	}

	h.logger.Info("test notification dispatched",
		zap.String("mode", string(mode)),
		zap.String("booking_id", req.BookingID),
		zap.Bool("success", res.Success),
	)

	h.writeJSON(w, http.StatusOK, res)
}

// GetNotification handles GET /v1/notifications/{bookingId}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingId")
	if strings.TrimSpace(bookingID) == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing booking id", "")
		return
	}

	rec, ok, err := h.records.Lookup(r.Context(), bookingID)
	if err != nil {
		h.logger.Error("failed to look up notification record",
			zap.Error(err),
			zap.String("booking_id", bookingID),
		)
		h.writeError(w, http.StatusInternalServerError, "store_error", "Failed to look up notification", "")
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
