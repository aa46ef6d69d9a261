// Package sender holds the outbound channel transports (email, messaging)
// behind one interface, plus their failure taxonomy.
package sender

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Channel identifies an outbound transport.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelMessaging Channel = "messaging"
)

// Label is the human facing channel name used to prefix errors.
func (c Channel) Label() string {
	switch c {
	case ChannelEmail:
		return "Email"
	case ChannelMessaging:
		return "Messaging"
	default:
		return string(c)
	}
}

// Message is the channel-agnostic content handed to a transport.
// Email transports use Subject/HTMLBody/Text; messaging transports use Text.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	Text     string
	Metadata map[string]string
}

// Receipt is returned when a provider accepted a message.
type Receipt struct {
	MessageID string
}

// Sender is the unified interface for all notification channels.
// Implementations: Email (SES), Messaging (SNS SMS, chat API), Log.
type Sender interface {
	Channel() Channel
	// Ready reports a *ConfigError when the transport lacks credentials or
	// settings. It is checked once before the first attempt.
	Ready() error
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// LogSender only logs messages. It accepts everything; used in development
// and for the CLI simulation modes.
type LogSender struct {
	channel Channel
	logger  *zap.Logger
}

func NewLogSender(channel Channel, logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{channel: channel, logger: logger}
}

func (s *LogSender) Channel() Channel { return s.channel }

func (s *LogSender) Ready() error { return nil }

func (s *LogSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	id := "log-" + uuid.NewString()
	s.logger.Info("logging notification (development mode)",
		zap.String("channel", string(s.channel)),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("booking_id", msg.Metadata["booking_id"]),
		zap.String("message_id", id),
	)
	return Receipt{MessageID: id}, nil
}
