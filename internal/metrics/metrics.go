package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medinotify_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medinotify_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
		[]string{"method", "path"},
	)

	dispatchResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medinotify_dispatch_results_total",
			Help: "Doctor notification dispatches by outcome",
		},
		[]string{"outcome"},
	)

	channelAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medinotify_channel_attempts_total",
			Help: "Transport attempts by channel and result class",
		},
		[]string{"channel", "result"},
	)

	channelOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medinotify_channel_outcomes_total",
			Help: "Final per-channel retry states",
		},
		[]string{"channel", "state"},
	)

	dispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medinotify_channel_dispatch_seconds",
			Help:    "Time spent delivering on one channel, retries included",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"channel"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medinotify_idempotency_hits_total",
			Help: "Dispatches answered from a stored idempotency record",
		},
	)

	paymentConfirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medinotify_payment_confirmations_total",
			Help: "Processed payment confirmations by booking and notification result",
		},
		[]string{"booking_confirmed", "doctor_notified"},
	)

	sqsMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "medinotify_sqs_messages_in_flight",
			Help: "Current payment confirmations being processed from SQS",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medinotify_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"route"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medinotify_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "medinotify_db_connections_active",
			Help: "Acquired database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "medinotify_redis_connections_active",
			Help: "Open Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDispatch counts one NotifyDoctor call. outcome is one of
// sent, failed, replayed, invalid, disabled.
func RecordDispatch(outcome string) {
	dispatchResults.WithLabelValues(outcome).Inc()
}

// RecordChannelAttempt counts a single transport attempt.
func RecordChannelAttempt(channel, result string) {
	channelAttempts.WithLabelValues(channel, result).Inc()
}

// RecordChannelOutcome counts the final retry state of a channel and how long it took.
func RecordChannelOutcome(channel, state string, elapsed time.Duration) {
	channelOutcomes.WithLabelValues(channel, state).Inc()
	dispatchLatency.WithLabelValues(channel).Observe(elapsed.Seconds())
}

// RecordIdempotencyHit records a replayed dispatch
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordPaymentConfirmation records an orchestrator outcome
func RecordPaymentConfirmation(bookingConfirmed, doctorNotified bool) {
	paymentConfirmations.WithLabelValues(strconv.FormatBool(bookingConfirmed), strconv.FormatBool(doctorNotified)).Inc()
}

// SetSQSMessagesInFlight sets the current in-flight message count
func SetSQSMessagesInFlight(count int) {
	sqsMessagesInFlight.Set(float64(count))
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(route string) {
	rateLimitRejections.WithLabelValues(route).Inc()
}

// SetBreakerState publishes a breaker state as its numeric value.
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets open Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics labelled by the chi route pattern, so
// booking ids never become label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, routePattern(r), wrapped.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
