package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/lalithlochan/medinotify/internal/circuitbreaker"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Checks   map[string]string      `json:"checks,omitempty"`
	Breakers []circuitbreaker.Stats `json:"breakers,omitempty"`
}

// HealthHandler runs every check and reports breaker state. A failed check
// turns the response into 503; an open breaker only degrades the status.
func HealthHandler(checks map[string]HealthCheck, breakers ...*circuitbreaker.CircuitBreaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		code := http.StatusOK

		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "unavailable"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		for _, b := range breakers {
			if b == nil {
				continue
			}
			stats := b.Stats()
			if stats.State != circuitbreaker.StateClosed.String() && code == http.StatusOK {
				resp.Status = "degraded"
			}
			resp.Breakers = append(resp.Breakers, stats)
		}
		sort.Slice(resp.Breakers, func(i, j int) bool { return resp.Breakers[i].Name < resp.Breakers[j].Name })

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
