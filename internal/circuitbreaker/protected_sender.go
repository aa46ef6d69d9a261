package circuitbreaker

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/retry"
	"github.com/lalithlochan/medinotify/internal/sender"
)

// ProtectedSender puts a CircuitBreaker in front of a channel sender. Only
// transient failures count against the breaker: a rejected recipient says
// nothing about provider health.
type ProtectedSender struct {
	sender  sender.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

var _ sender.Sender = (*ProtectedSender)(nil)

func NewProtectedSender(s sender.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProtectedSender{sender: s, breaker: breaker, logger: logger}
}

func (p *ProtectedSender) Channel() sender.Channel { return p.sender.Channel() }

func (p *ProtectedSender) Ready() error { return p.sender.Ready() }

// Send returns an *OpenError without calling the provider while the breaker
// is open. The retry controller treats it as transient.
func (p *ProtectedSender) Send(ctx context.Context, msg sender.Message) (sender.Receipt, error) {
	if err := p.breaker.Allow(); err != nil {
		p.logger.Warn("provider circuit open, skipping send",
			zap.String("breaker", p.breaker.Name()),
			zap.String("channel", string(p.sender.Channel())),
			zap.String("booking_id", msg.Metadata["booking_id"]),
			zap.Error(err),
		)
		return sender.Receipt{}, err
	}

	receipt, err := p.sender.Send(ctx, msg)
	switch {
	case err == nil:
		p.breaker.Success()
	case sender.Classify(err) == retry.Transient:
		p.breaker.Failure()
	default:
		// The provider answered, so it is healthy.
		p.breaker.Success()
	}
	return receipt, err
}

func (p *ProtectedSender) Breaker() *CircuitBreaker { return p.breaker }
