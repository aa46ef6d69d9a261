// Package worker drains queued payment confirmations and runs them through
// the booking orchestrator.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/medinotify/internal/booking"
	"github.com/lalithlochan/medinotify/internal/metrics"
	"github.com/lalithlochan/medinotify/internal/retry"
	"github.com/lalithlochan/medinotify/internal/sqs"
)

// Queue is satisfied by *sqs.Consumer.
type Queue interface {
	Receive(ctx context.Context, max int32) ([]sqs.Delivery, error)
	Delete(ctx context.Context, receiptHandle string) error
	ChangeVisibility(ctx context.Context, receiptHandle string, seconds int32) error
}

// Processor is satisfied by *booking.Orchestrator.
type Processor interface {
	ProcessPaymentConfirmation(ctx context.Context, c booking.PaymentConfirmation) booking.Outcome
}

type Worker struct {
	queue     Queue
	processor Processor
	config    Config
	logger    *zap.Logger
}

type Config struct {
	// BatchSize is the number of messages requested per receive (max 10).
	BatchSize int
	// Concurrency bounds how many confirmations are processed at once.
	Concurrency int
	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration
	// Redelivery delays a message whose booking could not be confirmed,
	// indexed by receive count.
	Redelivery retry.Schedule
}

func New(queue Queue, processor Processor, cfg Config, logger *zap.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.BatchSize
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if len(cfg.Redelivery) == 0 {
		cfg.Redelivery = retry.Schedule{1 * time.Minute, 5 * time.Minute, 15 * time.Minute}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		queue:     queue,
		processor: processor,
		config:    cfg,
		logger:    logger,
	}
}

// Start polls until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("worker started",
		zap.Int("batch_size", w.config.BatchSize),
		zap.Int("concurrency", w.config.Concurrency),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		default:
		}

		if err := w.processBatch(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("failed to receive payment confirmations", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(w.config.ErrorBackoff):
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	deliveries, err := w.queue.Receive(ctx, int32(w.config.BatchSize))
	if err != nil {
		return err
	}
	if len(deliveries) == 0 {
		return nil
	}

	metrics.SetSQSMessagesInFlight(len(deliveries))
	defer metrics.SetSQSMessagesInFlight(0)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.Concurrency)
	for _, d := range deliveries {
		g.Go(func() error {
			w.handle(gctx, d)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) handle(ctx context.Context, d sqs.Delivery) {
	log := w.logger.With(zap.String("message_id", d.MessageID))

	// Malformed bodies stay on the queue so the redrive policy moves them
	// to the dead letter queue.
	if d.DecodeErr != nil {
		log.Error("undecodable payment confirmation left for redrive", zap.Error(d.DecodeErr))
		return
	}

	c := d.Message.Confirmation
	log = log.With(zap.String("booking_id", c.BookingID))

	out := w.processor.ProcessPaymentConfirmation(ctx, c)

	if !out.BookingConfirmed {
		delay := w.redeliveryDelay(d.ReceiveCount)
		log.Warn("booking not confirmed, message will be redelivered",
			zap.Strings("errors", out.Errors),
			zap.Int("receive_count", d.ReceiveCount),
			zap.Duration("delay", delay),
		)
		if err := w.queue.ChangeVisibility(ctx, d.ReceiptHandle, int32(delay/time.Second)); err != nil {
			log.Error("failed to delay redelivery", zap.Error(err))
		}
		return
	}

	// Notification failures were already reported through the alerter and
	// are not retried from the queue.
	if err := w.queue.Delete(ctx, d.ReceiptHandle); err != nil {
		log.Error("failed to delete processed message", zap.Error(err))
		return
	}

	log.Info("payment confirmation processed",
		zap.Bool("doctor_notified", out.DoctorNotified),
	)
}

func (w *Worker) redeliveryDelay(receiveCount int) time.Duration {
	if receiveCount < 1 {
		receiveCount = 1
	}
	return w.config.Redelivery.NextDelay(receiveCount)
}
