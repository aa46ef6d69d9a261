package sender

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// sesAPI is the subset of the SES client used here.
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender delivers the email channel through AWS SES.
type SESSender struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	return newSESSender(ses.NewFromConfig(awsCfg), cfg.FromEmail, logger), nil
}

func newSESSender(client sesAPI, from string, logger *zap.Logger) *SESSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SESSender{client: client, from: from, logger: logger}
}

func (s *SESSender) Channel() Channel { return ChannelEmail }

func (s *SESSender) Ready() error {
	if s.client == nil {
		return &ConfigError{Channel: ChannelEmail, Reason: "ses client missing"}
	}
	if s.from == "" {
		return &ConfigError{Channel: ChannelEmail, Reason: "SES_FROM_EMAIL not set"}
	}
	return nil
}

// Send sends an email via AWS SES. Metadata entries become SES message tags.
func (s *SESSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.To == "" {
		return Receipt{}, &SendError{Message: "email message missing recipient", Permanent: true}
	}
	if msg.Subject == "" {
		return Receipt{}, &SendError{Message: "email message missing subject", Permanent: true}
	}

	body := &types.Body{}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: body,
		},
		Tags: messageTags(msg.Metadata),
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return Receipt{}, FromAWS("ses send failed", err)
	}

	messageID := aws.ToString(result.MessageId)
	s.logger.Info("email sent via SES",
		zap.String("to", msg.To),
		zap.String("booking_id", msg.Metadata["booking_id"]),
		zap.String("message_id", messageID),
	)

	return Receipt{MessageID: messageID}, nil
}

// messageTags converts metadata into SES tags in a stable order.
func messageTags(metadata map[string]string) []types.MessageTag {
	if len(metadata) == 0 {
		return nil
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tags := make([]types.MessageTag, 0, len(keys))
	for _, k := range keys {
		v := sanitizeTag(metadata[k])
		if v == "" {
			continue
		}
		tags = append(tags, types.MessageTag{Name: aws.String(sanitizeTag(k)), Value: aws.String(v)})
	}
	return tags
}

// sanitizeTag keeps only the characters SES accepts in tag names and values.
func sanitizeTag(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) > 256 {
		out = out[:256]
	}
	return string(out)
}
