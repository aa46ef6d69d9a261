// Package sns publishes operational alerts to an SNS topic when a confirmed
// booking could not be notified to its doctor.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/booking"
)

// AlertNotificationFailed is the only alert kind published today.
const AlertNotificationFailed = "doctor_notification_failed"

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Alert is the JSON body published to the topic.
type Alert struct {
	Kind       string    `json:"kind"`
	BookingID  string    `json:"booking_id"`
	Errors     []string  `json:"errors"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Alerter publishes alerts to a single topic.
type Alerter struct {
	client   snsAPI
	topicARN string
	logger   *zap.Logger
	now      func() time.Time
}

var _ booking.Alerter = (*Alerter)(nil)

// NewAlerter creates an alerter for topicARN using the default AWS credential chain.
func NewAlerter(ctx context.Context, region, topicARN string, logger *zap.Logger) (*Alerter, error) {
	if topicARN == "" {
		return nil, errors.New("alert topic arn is required")
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newAlerter(sns.NewFromConfig(cfg), topicARN, logger), nil
}

// NewAlerterWithEndpoint targets a custom endpoint (LocalStack).
func NewAlerterWithEndpoint(ctx context.Context, region, topicARN, endpoint string, logger *zap.Logger) (*Alerter, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return newAlerter(client, topicARN, logger), nil
}

func newAlerter(client snsAPI, topicARN string, logger *zap.Logger) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerter{
		client:   client,
		topicARN: topicARN,
		logger:   logger,
		now:      time.Now,
	}
}

// NotificationFailed publishes a doctor_notification_failed alert.
func (a *Alerter) NotificationFailed(ctx context.Context, bookingID string, errs []string) error {
	if errs == nil {
		errs = []string{}
	}

	alert := Alert{
		Kind:       AlertNotificationFailed,
		BookingID:  bookingID,
		Errors:     errs,
		OccurredAt: a.now().UTC(),
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(a.topicARN),
		Subject:  aws.String("Doctor notification failed"),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(alert.Kind),
			},
			"booking_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(bookingID),
			},
		},
	}

	result, err := a.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to publish alert to SNS: %w", err)
	}

	a.logger.Info("notification failure alert published",
		zap.String("booking_id", bookingID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
