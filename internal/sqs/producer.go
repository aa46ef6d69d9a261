// Package sqs carries payment confirmations between the HTTP gateway and
// the worker through an SQS queue.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/booking"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	// Endpoint overrides the service endpoint (LocalStack).
	Endpoint string
}

// Message is the body sent to SQS.
type Message struct {
	RequestID    string                      `json:"request_id"`
	Confirmation booking.PaymentConfirmation `json:"confirmation"`
	EnqueuedAt   int64                       `json:"enqueued_at"`
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

func newClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("sqs queue url is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Producer sends payment confirmations to SQS.
type Producer struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
	now      func() time.Time
}

// NewProducer creates a new SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return newProducer(client, cfg.QueueURL, logger), nil
}

func newProducer(client sqsAPI, queueURL string, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
		now:      time.Now,
	}
}

// Enqueue sends a confirmation for asynchronous processing and returns the
// SQS message id.
func (p *Producer) Enqueue(ctx context.Context, c booking.PaymentConfirmation) (string, error) {
	msg := Message{
		RequestID:    uuid.NewString(),
		Confirmation: c,
		EnqueuedAt:   p.now().UnixNano(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"booking_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(c.BookingID),
			},
		},
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("booking_id", c.BookingID),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	p.logger.Info("payment confirmation enqueued",
		zap.String("booking_id", c.BookingID),
		zap.String("message_id", messageID),
		zap.String("request_id", msg.RequestID),
	)
	return messageID, nil
}

// Delivery is one received message. DecodeErr is set when the body could
// not be parsed, leaving Message zero, or when the confirmation it carries
// is invalid.
type Delivery struct {
	MessageID     string
	ReceiptHandle string
	ReceiveCount  int
	Message       Message
	DecodeErr     error
}

// Consumer reads payment confirmations from SQS.
type Consumer struct {
	client            sqsAPI
	queueURL          string
	waitSeconds       int32
	visibilitySeconds int32
	logger            *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return newConsumer(client, cfg.QueueURL, logger), nil
}

func newConsumer(client sqsAPI, queueURL string, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Visibility must outlast a full retry schedule on both channels.
	return &Consumer{
		client:            client,
		queueURL:          queueURL,
		waitSeconds:       20,
		visibilitySeconds: 120,
		logger:            logger,
	}
}

// Receive long-polls for up to max messages (1..10).
func (c *Consumer) Receive(ctx context.Context, max int32) ([]Delivery, error) {
	if max < 1 {
		max = 1
	}
	if max > 10 {
		max = 10
	}

	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     c.waitSeconds,
		VisibilityTimeout:   c.visibilitySeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	deliveries := make([]Delivery, 0, len(result.Messages))
	for _, m := range result.Messages {
		d := Delivery{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		}
		if n, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
			d.ReceiveCount = n
		}
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &d.Message); err != nil {
			c.logger.Error("failed to unmarshal message",
				zap.Error(err),
				zap.String("message_id", d.MessageID),
			)
			d.Message = Message{}
			d.DecodeErr = fmt.Errorf("invalid message format: %w", err)
		} else if err := d.Message.Confirmation.Validate(); err != nil {
			c.logger.Error("received invalid payment confirmation",
				zap.Error(err),
				zap.String("message_id", d.MessageID),
				zap.String("booking_id", d.Message.Confirmation.BookingID),
			)
			d.DecodeErr = fmt.Errorf("invalid payment confirmation: %w", err)
		}
		deliveries = append(deliveries, d)
	}

	return deliveries, nil
}

// Delete removes a message from SQS after processing.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	if _, err := c.client.DeleteMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

// ChangeVisibility sets the visibility timeout of a received message. Zero
// makes it immediately visible again.
func (c *Consumer) ChangeVisibility(ctx context.Context, receiptHandle string, seconds int32) error {
	input := &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: seconds,
	}

	if _, err := c.client.ChangeMessageVisibility(ctx, input); err != nil {
		return fmt.Errorf("sqs change visibility failed: %w", err)
	}
	return nil
}
