package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/medinotify/internal/metrics"
	"github.com/lalithlochan/medinotify/internal/observ"
	"github.com/lalithlochan/medinotify/internal/retry"
	"github.com/lalithlochan/medinotify/internal/sender"
)

// ErrFeatureDisabled is the only error reported while notifications are off.
var ErrFeatureDisabled = errors.New("feature disabled")

// persistTimeout bounds the record write that follows a delivery.
const persistTimeout = 5 * time.Second

// channels is the fixed dispatch and reporting order.
var channels = []sender.Channel{sender.ChannelEmail, sender.ChannelMessaging}

// Config is read once at startup and never mutated.
type Config struct {
	FeatureEnabled bool
	Sandbox        Sandbox
	CountryCode    string
	Retry          retry.Policy
}

// Engine dispatches doctor notifications. Safe for concurrent use.
type Engine struct {
	cfg     Config
	router  Router
	senders map[sender.Channel]sender.Sender
	store   Store
	locker  Locker
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine wires the transports and the idempotency store. A nil sender
// leaves that channel unconfigured. When store also implements Locker it
// serializes concurrent dispatches of the same booking.
func NewEngine(cfg Config, email, messaging sender.Sender, store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore(0)
	}

	senders := make(map[sender.Channel]sender.Sender, 2)
	if email != nil {
		senders[sender.ChannelEmail] = email
	}
	if messaging != nil {
		senders[sender.ChannelMessaging] = messaging
	}

	locker, _ := store.(Locker)

	return &Engine{
		cfg:     cfg,
		router:  NewRouter(cfg.Sandbox, cfg.CountryCode),
		senders: senders,
		store:   store,
		locker:  locker,
		logger:  logger,
		now:     time.Now,
	}
}

// Lookup returns the stored record for bookingID, if any.
func (e *Engine) Lookup(ctx context.Context, bookingID string) (Record, bool, error) {
	return e.store.Lookup(ctx, bookingID)
}

// NotifyDoctor delivers req on every channel that has a destination and
// reports the aggregate. It never returns an error: every failure is
// reported in Result.Errors.
func (e *Engine) NotifyDoctor(ctx context.Context, req NotificationRequest) Result {
	ctx = observ.WithBookingID(ctx, req.BookingID)
	log := observ.Logger(e.logger, ctx)

	if !e.cfg.FeatureEnabled {
		log.Info("doctor notifications disabled, skipping")
		metrics.RecordDispatch("disabled")
		return failure(ErrFeatureDisabled.Error())
	}

	if res, ok := e.replay(ctx, log, req.BookingID); ok {
		return res
	}

	if violations := Validate(req, e.router.countryCode); len(violations) > 0 {
		log.Warn("notification request rejected", zap.Strings("violations", violations))
		metrics.RecordDispatch("invalid")
		return failure(violations...)
	}

	dispatchCtx := ctx
	if e.locker != nil {
		unlock, err := e.locker.Lock(ctx, req.BookingID)
		if err != nil {
			log.Error("failed to acquire idempotency lock", zap.Error(err))
			metrics.RecordDispatch("failed")
			return failure(fmt.Sprintf("idempotency lock unavailable: %v", err))
		}
		defer unlock()

		// Another caller may have finished while we waited.
		if res, ok := e.replay(ctx, log, req.BookingID); ok {
			return res
		}

		// Deliveries must finish, and the record be written, before an
		// expiring lock can pass to another caller.
		if l, ok := e.locker.(Leaser); ok && l.Lease() > 0 {
			var cancel context.CancelFunc
			dispatchCtx, cancel = context.WithTimeout(ctx, l.Lease()*3/4)
			defer cancel()
		}
	}

	content, err := BuildContent(req)
	if err != nil {
		log.Error("failed to render notification content", zap.Error(err))
		metrics.RecordDispatch("failed")
		return failure(fmt.Sprintf("content rendering failed: %v", err))
	}

	outcomes := make([]ChannelOutcome, len(channels))
	var g errgroup.Group
	for i, ch := range channels {
		g.Go(func() error {
			outcomes[i] = e.dispatchChannel(dispatchCtx, ch, req.destination(ch), content)
			return nil
		})
	}
	_ = g.Wait()

	res := aggregate(outcomes)

	if res.Success {
		e.persist(ctx, log, NewRecord(req.BookingID, res, e.now()))
		metrics.RecordDispatch("sent")
	} else {
		metrics.RecordDispatch("failed")
	}

	log.Info("doctor notification finished",
		zap.Bool("success", res.Success),
		zap.Bool("email_sent", res.EmailSent),
		zap.Bool("messaging_sent", res.MessagingSent),
		zap.Int("attempts", res.Attempts),
		zap.Strings("errors", res.Errors),
	)

	return res
}

// replay returns the stored result for bookingID. Store failures are logged
// and treated as a miss.
func (e *Engine) replay(ctx context.Context, log *zap.Logger, bookingID string) (Result, bool) {
	if bookingID == "" {
		return Result{}, false
	}

	rec, ok, err := e.store.Lookup(ctx, bookingID)
	if err != nil {
		log.Warn("idempotency lookup failed, proceeding", zap.Error(err))
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}

	log.Info("booking already notified, returning stored result",
		zap.Time("notified_at", rec.NotifiedAt),
	)
	metrics.RecordIdempotencyHit()
	metrics.RecordDispatch("replayed")
	return rec.Result(), true
}

// persist is detached from the caller's cancellation: once a channel has
// delivered, a caller that gave up must still find the record on retry.
func (e *Engine) persist(ctx context.Context, log *zap.Logger, rec Record) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	inserted, err := e.store.Save(ctx, rec)
	if err != nil {
		log.Error("failed to store idempotency record", zap.Error(err))
		return
	}
	if !inserted {
		log.Warn("idempotency record already existed, kept the original")
	}
}

func (e *Engine) dispatchChannel(ctx context.Context, channel sender.Channel, raw string, content Content) ChannelOutcome {
	log := observ.Logger(e.logger, ctx).With(zap.String("channel", string(channel)))
	start := time.Now()

	outcome := e.deliver(ctx, log, channel, raw, content)

	if outcome.Status != StatusSkipped {
		metrics.RecordChannelOutcome(string(channel), string(outcome.Status), time.Since(start))
	}
	return outcome
}

func (e *Engine) deliver(ctx context.Context, log *zap.Logger, channel sender.Channel, raw string, content Content) ChannelOutcome {
	if raw == "" {
		log.Debug("no destination, channel skipped")
		return skipped(channel)
	}

	s, ok := e.senders[channel]
	if !ok {
		err := &sender.ConfigError{Channel: channel, Reason: "no transport configured"}
		log.Error("channel unusable", zap.Error(err))
		return failed(channel, StatusMisconfigured, 0, err)
	}
	if err := s.Ready(); err != nil {
		log.Error("channel unusable", zap.Error(err))
		return failed(channel, StatusMisconfigured, 0, err)
	}

	to, err := e.router.Recipient(channel, raw)
	if err != nil {
		log.Error("could not resolve recipient", zap.Error(err))
		if sender.IsConfigError(err) {
			return failed(channel, StatusMisconfigured, 0, err)
		}
		return failed(channel, StatusPermanentlyFailed, 0, err)
	}

	msg := sender.Message{
		To:       to,
		Subject:  content.Subject,
		HTMLBody: content.HTMLBody,
		Text:     content.EmailText,
		Metadata: content.Metadata,
	}
	if channel == sender.ChannelMessaging {
		msg.Subject, msg.HTMLBody, msg.Text = "", "", content.Text
	}

	policy := e.cfg.Retry
	policy.OnAttempt = func(attempt int, err error, class retry.Class) {
		if err == nil {
			metrics.RecordChannelAttempt(string(channel), "success")
			return
		}
		metrics.RecordChannelAttempt(string(channel), class.String())
		log.Warn("delivery attempt failed",
			zap.Int("attempt", attempt),
			zap.String("class", class.String()),
			zap.Error(err),
		)
	}

	receipt, report := retry.Do(ctx, policy, classify, func(ctx context.Context, attempt int) (sender.Receipt, error) {
		return s.Send(ctx, msg)
	})

	outcome := outcomeFromReport(channel, receipt, report)
	if outcome.Succeeded() {
		log.Info("notification delivered",
			zap.Int("attempts", outcome.Attempts),
			zap.String("message_id", outcome.MessageID),
		)
	} else {
		log.Error("notification not delivered",
			zap.Int("attempts", outcome.Attempts),
			zap.String("state", report.State.String()),
			zap.String("error", outcome.Error),
		)
	}
	return outcome
}

// classify treats a transport discovering its own misconfiguration as
// permanent; everything else follows the transport taxonomy.
func classify(err error) retry.Class {
	if sender.IsConfigError(err) {
		return retry.Permanent
	}
	return sender.Classify(err)
}
