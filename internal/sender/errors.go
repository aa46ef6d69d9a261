package sender

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"

	"github.com/lalithlochan/medinotify/internal/retry"
)

// SendError classifies a provider failure as permanent or transient.
type SendError struct {
	StatusCode int
	Message    string
	Permanent  bool
	Cause      error
}

func (e *SendError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 3)
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status %d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if len(parts) == 0 {
		return "send failed"
	}

	return strings.Join(parts, ": ")
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ConfigError means the channel cannot be used at all. It is never retried
// and costs zero attempts.
type ConfigError struct {
	Channel Channel
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s transport not configured: %s", e.Channel, e.Reason)
}

// IsConfigError reports whether err is (or wraps) a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// IsPermanentStatus reports whether an HTTP status will not succeed on retry.
// 4xx is permanent except 408 and 429.
func IsPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

// FromStatus builds a SendError for a non-2xx provider response.
func FromStatus(code int, message string) *SendError {
	return &SendError{
		StatusCode: code,
		Message:    message,
		Permanent:  IsPermanentStatus(code),
	}
}

// FromAWS wraps an AWS SDK error, classifying it by the HTTP status of the
// failed response. Errors without a response (network, DNS) are transient.
func FromAWS(op string, err error) error {
	if err == nil {
		return nil
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return &SendError{
			StatusCode: code,
			Message:    op,
			Permanent:  IsPermanentStatus(code),
			Cause:      err,
		}
	}

	return &SendError{Message: op, Cause: err}
}

// Classify maps a transport error onto the retry taxonomy. Anything that is
// not explicitly permanent is transient.
func Classify(err error) retry.Class {
	var sendErr *SendError
	if errors.As(err, &sendErr) && sendErr.Permanent {
		return retry.Permanent
	}
	return retry.Transient
}
