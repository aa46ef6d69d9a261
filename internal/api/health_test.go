package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/circuitbreaker"
)

func TestHealthHandler(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("connection refused") }

	closed := circuitbreaker.New(circuitbreaker.Config{Name: "ses", MaxFailures: 1, RecoveryTimeout: time.Minute, HalfOpenMaxRequests: 1}, zap.NewNop())
	open := circuitbreaker.New(circuitbreaker.Config{Name: "chat", MaxFailures: 1, RecoveryTimeout: time.Minute, HalfOpenMaxRequests: 1}, zap.NewNop())
	_ = open.Allow()
	open.Failure()

	tests := []struct {
		name       string
		checks     map[string]HealthCheck
		breakers   []*circuitbreaker.CircuitBreaker
		wantCode   int
		wantStatus string
	}{
		{"all healthy", map[string]HealthCheck{"redis": ok}, []*circuitbreaker.CircuitBreaker{closed}, http.StatusOK, "ok"},
		{"dependency down", map[string]HealthCheck{"redis": ok, "postgres": down}, nil, http.StatusServiceUnavailable, "unavailable"},
		{"breaker open", nil, []*circuitbreaker.CircuitBreaker{closed, open}, http.StatusOK, "degraded"},
		{"no checks", nil, nil, http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HealthHandler(tt.checks, tt.breakers...)(rec, httptest.NewRequest("GET", "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}

			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", resp.Status, tt.wantStatus)
			}
			if len(resp.Breakers) != len(tt.breakers) {
				t.Errorf("breakers = %d, want %d", len(resp.Breakers), len(tt.breakers))
			}
		})
	}
}
