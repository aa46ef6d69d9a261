package sender

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const defaultChatTimeout = 15 * time.Second

// ChatConfig configures an HTTP chat-messaging provider (WhatsApp-style API).
type ChatConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type chatRequest struct {
	To       string            `json:"to"`
	Type     string            `json:"type"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type chatResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
}

// ChatSender delivers the messaging channel through an HTTP chat API.
type ChatSender struct {
	client *resty.Client
	url    string
	token  string
	logger *zap.Logger
}

// NewChatSender never fails: missing settings surface through Ready so the
// engine can report them as a configuration error for this channel only.
func NewChatSender(cfg ChatConfig, logger *zap.Logger) *ChatSender {
	return NewChatSenderWithClient(cfg, resty.New(), logger)
}

func NewChatSenderWithClient(cfg ChatConfig, client *resty.Client, logger *zap.Logger) *ChatSender {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultChatTimeout
	}
	client.SetTimeout(timeout)
	// Retries belong to the engine's retry controller.
	client.SetRetryCount(0)

	return &ChatSender{
		client: client,
		url:    strings.TrimSpace(cfg.URL),
		token:  cfg.Token,
		logger: logger,
	}
}

func (s *ChatSender) Channel() Channel { return ChannelMessaging }

func (s *ChatSender) Ready() error {
	if s.url == "" {
		return &ConfigError{Channel: ChannelMessaging, Reason: "CHAT_API_URL not set"}
	}
	if _, err := url.ParseRequestURI(s.url); err != nil {
		return &ConfigError{Channel: ChannelMessaging, Reason: fmt.Sprintf("invalid CHAT_API_URL: %v", err)}
	}
	if s.token == "" {
		return &ConfigError{Channel: ChannelMessaging, Reason: "CHAT_API_TOKEN not set"}
	}
	return nil
}

func (s *ChatSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.To == "" {
		return Receipt{}, &SendError{Message: "chat message missing recipient", Permanent: true}
	}

	var out chatResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(s.token).
		SetHeader("Content-Type", "application/json").
		SetBody(chatRequest{
			To:       msg.To,
			Type:     "text",
			Text:     msg.Text,
			Metadata: msg.Metadata,
		}).
		SetResult(&out).
		Post(s.url)
	if err != nil {
		return Receipt{}, &SendError{
			Message: "chat request failed",
			Cause:   err,
		}
	}
	if resp == nil {
		return Receipt{}, &SendError{Message: "chat provider returned empty response", Cause: errors.New("nil response")}
	}

	if !resp.IsSuccess() {
		return Receipt{}, FromStatus(resp.StatusCode(), chatErrorMessage(resp.StatusCode(), resp.String()))
	}

	messageID := out.MessageID
	if messageID == "" {
		messageID = out.ID
	}
	if messageID == "" {
		messageID = strings.TrimSpace(resp.Header().Get("X-Message-Id"))
	}

	s.logger.Info("chat message delivered",
		zap.String("to", msg.To),
		zap.String("booking_id", msg.Metadata["booking_id"]),
		zap.Int("status_code", resp.StatusCode()),
		zap.String("message_id", messageID),
	)

	return Receipt{MessageID: messageID}, nil
}

func chatErrorMessage(status int, body string) string {
	body = strings.TrimSpace(body)
	if len(body) > 256 {
		body = body[:256]
	}
	if body == "" {
		return fmt.Sprintf("chat provider returned status %d", status)
	}
	return fmt.Sprintf("chat provider returned status %d: %s", status, body)
}
