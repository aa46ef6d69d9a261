package sender

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/retry"
)

func awsResponseError(status int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      errors.New("api error"),
		},
		RequestID: "req-1",
	}
}

func TestLogSender_Send(t *testing.T) {
	s := NewLogSender(ChannelEmail, zap.NewNop())

	if err := s.Ready(); err != nil {
		t.Fatalf("LogSender should always be ready: %v", err)
	}

	receipt, err := s.Send(context.Background(), Message{To: "doc@clinic.cl", Subject: "hi"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.HasPrefix(receipt.MessageID, "log-") {
		t.Errorf("unexpected message id %q", receipt.MessageID)
	}
	if s.Channel() != ChannelEmail {
		t.Errorf("channel = %s, want email", s.Channel())
	}
}

func TestChannelLabel(t *testing.T) {
	tests := []struct {
		channel Channel
		want    string
	}{
		{ChannelEmail, "Email"},
		{ChannelMessaging, "Messaging"},
		{Channel("fax"), "fax"},
	}

	for _, tt := range tests {
		if got := tt.channel.Label(); got != tt.want {
			t.Errorf("Label(%s) = %s, want %s", tt.channel, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Class
	}{
		{"bad request is permanent", FromStatus(http.StatusBadRequest, "bad"), retry.Permanent},
		{"not found is permanent", FromStatus(http.StatusNotFound, ""), retry.Permanent},
		{"too many requests is transient", FromStatus(http.StatusTooManyRequests, ""), retry.Transient},
		{"request timeout is transient", FromStatus(http.StatusRequestTimeout, ""), retry.Transient},
		{"server error is transient", FromStatus(http.StatusBadGateway, ""), retry.Transient},
		{"plain error is transient", errors.New("connection reset"), retry.Transient},
		{"aws 400 is permanent", FromAWS("op", awsResponseError(400)), retry.Permanent},
		{"aws 503 is transient", FromAWS("op", awsResponseError(503)), retry.Transient},
		{"aws without response is transient", FromAWS("op", errors.New("dial tcp: timeout")), retry.Transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSendError_Message(t *testing.T) {
	err := &SendError{StatusCode: 422, Message: "rejected", Cause: errors.New("bad number")}
	if got := err.Error(); got != "status 422: rejected: bad number" {
		t.Errorf("unexpected message %q", got)
	}
	if !errors.Is(err, err.Cause) {
		t.Error("SendError should unwrap to its cause")
	}
}

func TestIsConfigError(t *testing.T) {
	err := &ConfigError{Channel: ChannelEmail, Reason: "missing"}
	if !IsConfigError(err) {
		t.Error("expected config error")
	}
	if IsConfigError(FromStatus(500, "")) {
		t.Error("send error is not a config error")
	}
}

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	id := "ses-123"
	return &ses.SendEmailOutput{MessageId: &id}, nil
}

func TestSESSender_Send(t *testing.T) {
	client := &fakeSES{}
	s := newSESSender(client, "noreply@clinic.cl", zap.NewNop())

	receipt, err := s.Send(context.Background(), Message{
		To:       "doc@clinic.cl",
		Subject:  "Nueva reserva",
		HTMLBody: "<p>hola</p>",
		Text:     "hola",
		Metadata: map[string]string{"booking_id": "bk-1", "specialty": "Cardiología"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.MessageID != "ses-123" {
		t.Errorf("message id = %s, want ses-123", receipt.MessageID)
	}
	if got := client.input.Destination.ToAddresses[0]; got != "doc@clinic.cl" {
		t.Errorf("to = %s", got)
	}
	if client.input.Message.Body.Html == nil || client.input.Message.Body.Text == nil {
		t.Error("expected both html and text bodies")
	}
	if len(client.input.Tags) != 2 || *client.input.Tags[0].Name != "booking_id" {
		t.Errorf("unexpected tags: %+v", client.input.Tags)
	}
	if *client.input.Tags[1].Value != "Cardiolog_a" {
		t.Errorf("tag value should be sanitized, got %q", *client.input.Tags[1].Value)
	}
}

func TestSESSender_ClassifiesFailures(t *testing.T) {
	s := newSESSender(&fakeSES{err: awsResponseError(400)}, "noreply@clinic.cl", zap.NewNop())

	_, err := s.Send(context.Background(), Message{To: "doc@clinic.cl", Subject: "x", Text: "y"})
	if Classify(err) != retry.Permanent {
		t.Errorf("400 from SES should be permanent, got %v", err)
	}

	s = newSESSender(&fakeSES{err: awsResponseError(500)}, "noreply@clinic.cl", zap.NewNop())
	_, err = s.Send(context.Background(), Message{To: "doc@clinic.cl", Subject: "x", Text: "y"})
	if Classify(err) != retry.Transient {
		t.Errorf("500 from SES should be transient, got %v", err)
	}
}

func TestSESSender_Ready(t *testing.T) {
	if err := newSESSender(&fakeSES{}, "", nil).Ready(); !IsConfigError(err) {
		t.Errorf("missing from address should be a config error, got %v", err)
	}
	if err := newSESSender(&fakeSES{}, "noreply@clinic.cl", nil).Ready(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	id := "sns-1"
	return &sns.PublishOutput{MessageId: &id}, nil
}

func TestSNSSender_Send(t *testing.T) {
	client := &fakeSNS{}
	s := newSNSSender(client, "CLINICA", zap.NewNop())

	receipt, err := s.Send(context.Background(), Message{To: "+56912345678", Text: "Nueva reserva"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.MessageID != "sns-1" {
		t.Errorf("message id = %s", receipt.MessageID)
	}
	if *client.input.PhoneNumber != "+56912345678" {
		t.Errorf("phone = %s", *client.input.PhoneNumber)
	}
	if _, ok := client.input.MessageAttributes["AWS.SNS.SMS.SenderID"]; !ok {
		t.Error("expected sender id attribute")
	}
}

func TestSNSSender_MissingBodyIsPermanent(t *testing.T) {
	s := newSNSSender(&fakeSNS{}, "", zap.NewNop())

	_, err := s.Send(context.Background(), Message{To: "+56912345678"})
	if Classify(err) != retry.Permanent {
		t.Errorf("missing body should be permanent, got %v", err)
	}
}
