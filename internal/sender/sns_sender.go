package sender

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender delivers the messaging channel as SMS through AWS SNS.
type SNSSender struct {
	client   snsAPI
	senderID string
	logger   *zap.Logger
}

type SNSConfig struct {
	Region string
	// SenderID is shown as the SMS originator where carriers support it.
	SenderID string
}

// NewSNSSender creates a new SNS sender for SMS notifications
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return newSNSSender(sns.NewFromConfig(awsCfg), cfg.SenderID, logger), nil
}

func newSNSSender(client snsAPI, senderID string, logger *zap.Logger) *SNSSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SNSSender{client: client, senderID: senderID, logger: logger}
}

func (s *SNSSender) Channel() Channel { return ChannelMessaging }

func (s *SNSSender) Ready() error {
	if s.client == nil {
		return &ConfigError{Channel: ChannelMessaging, Reason: "sns client missing"}
	}
	return nil
}

// Send publishes msg.Text to the E.164 number in msg.To.
func (s *SNSSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.To == "" {
		return Receipt{}, &SendError{Message: "sms missing phone number", Permanent: true}
	}
	if msg.Text == "" {
		return Receipt{}, &SendError{Message: "sms missing body", Permanent: true}
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(msg.To),
		Message:     aws.String(msg.Text),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	}
	if s.senderID != "" {
		input.MessageAttributes["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return Receipt{}, FromAWS("sns publish failed", err)
	}

	messageID := aws.ToString(result.MessageId)
	s.logger.Info("SMS sent via SNS",
		zap.String("phone_number", msg.To),
		zap.String("booking_id", msg.Metadata["booking_id"]),
		zap.String("message_id", messageID),
	)

	return Receipt{MessageID: messageID}, nil
}
