package observ

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a structured logger based on environment
func NewLogger(env, level string) (*zap.Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build()
}

type bookingIDKey struct{}

// WithBookingID returns a context carrying the booking being processed.
func WithBookingID(ctx context.Context, bookingID string) context.Context {
	return context.WithValue(ctx, bookingIDKey{}, bookingID)
}

// BookingID returns the booking id stored on ctx, if any.
func BookingID(ctx context.Context) string {
	id, _ := ctx.Value(bookingIDKey{}).(string)
	return id
}

// Logger returns logger annotated with the booking id carried by ctx.
func Logger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if id := BookingID(ctx); id != "" {
		return logger.With(zap.String("booking_id", id))
	}
	return logger
}
