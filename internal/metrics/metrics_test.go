package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestRecorders(t *testing.T) {
	RecordRequest("GET", "/health", 200, 10*time.Millisecond)
	RecordDispatch("sent")
	RecordDispatch("replayed")
	RecordChannelAttempt("email", "transient")
	RecordChannelOutcome("messaging", "succeeded", 2*time.Second)
	RecordIdempotencyHit()
	RecordPaymentConfirmation(true, false)
	SetSQSMessagesInFlight(3)
	RecordRateLimitRejection("/v1/notifications/test")
	SetBreakerState("ses", 1)
	SetDBConnections(4)
	SetRedisConnections(2)
}

func TestHandler(t *testing.T) {
	RecordDispatch("failed")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "medinotify_dispatch_results_total") {
		t.Error("dispatch counter should be exported")
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/notifications/{bookingId}", func(w http.ResponseWriter, r *http.Request) {
		if routePattern(r) != "/v1/notifications/{bookingId}" {
			t.Errorf("route pattern = %q", routePattern(r))
		}
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/notifications/bk-1", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

func TestRoutePattern_FallsBackToPath(t *testing.T) {
	req := httptest.NewRequest("GET", "/plain", nil)
	if got := routePattern(req); got != "/plain" {
		t.Errorf("routePattern() = %q, want /plain", got)
	}
}

func TestResponseWriter_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusAccepted)

	if rw.status != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", rw.status)
	}
}
