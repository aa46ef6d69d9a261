package observ

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		env   string
		level string
	}{
		{"production", "info"},
		{"development", "debug"},
		{"development", "not-a-level"},
	}

	for _, tt := range tests {
		logger, err := NewLogger(tt.env, tt.level)
		if err != nil {
			t.Fatalf("NewLogger(%s, %s) failed: %v", tt.env, tt.level, err)
		}
		if logger == nil {
			t.Fatal("logger should not be nil")
		}
	}
}

func TestLogger_AttachesBookingID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := WithBookingID(context.Background(), "bk-42")
	Logger(base, ctx).Info("dispatching")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["booking_id"]; got != "bk-42" {
		t.Errorf("booking_id = %v, want bk-42", got)
	}
}

func TestLogger_WithoutBookingID(t *testing.T) {
	if BookingID(context.Background()) != "" {
		t.Error("empty context should carry no booking id")
	}
	if Logger(nil, context.Background()) == nil {
		t.Error("nil logger should be replaced")
	}
}
