// Package circuitbreaker stops calling a channel provider (SES, SNS, chat API)
// after a run of transient failures and probes it again after a cool-down.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of a breaker.
//
//	Closed -> Open:      MaxFailures transient failures in a row
//	Open -> HalfOpen:    RecoveryTimeout elapsed since opening
//	HalfOpen -> Closed:  a probe succeeds
//	HalfOpen -> Open:    a probe fails
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen matches every *OpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned by Allow while a provider is being skipped. RetryAt
// is zero when the breaker is half-open and its probe slots are taken.
type OpenError struct {
	Name    string
	RetryAt time.Time
}

func (e *OpenError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s provider unavailable: probe in flight", e.Name)
	}
	return fmt.Sprintf("%s provider unavailable until %s", e.Name, e.RetryAt.UTC().Format(time.RFC3339))
}

func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

type Config struct {
	// Name identifies the protected provider, e.g. "ses" or "chat".
	Name string

	MaxFailures         int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int

	// OnStateChange runs with the breaker lock held; keep it cheap.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the defaults used for every channel provider.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Name)
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = d.HalfOpenMaxRequests
	}
	return c
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	state     State
	streak    int
	probes    int
	openedAt  time.Time
	changedAt time.Time

	sent     int64
	failed   int64
	rejected int64
}

func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	logger.Info("circuit breaker created",
		zap.String("breaker", cfg.Name),
		zap.Int("max_failures", cfg.MaxFailures),
		zap.Duration("recovery_timeout", cfg.RecoveryTimeout),
	)

	return &CircuitBreaker{
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		state:     StateClosed,
		changedAt: time.Now(),
	}
}

func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow returns nil when a call may go to the provider, or an *OpenError.
// Every nil return must be followed by Success or Failure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		retryAt := cb.openedAt.Add(cb.cfg.RecoveryTimeout)
		if cb.now().Before(retryAt) {
			cb.rejected++
			return &OpenError{Name: cb.cfg.Name, RetryAt: retryAt}
		}
		cb.setState(StateHalfOpen)
		fallthrough

	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMaxRequests {
			cb.rejected++
			return &OpenError{Name: cb.cfg.Name}
		}
		cb.probes++
		return nil

	default:
		return nil
	}
}

// Success ends the failure streak and closes a half-open breaker.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.sent++
	cb.streak = 0
	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
	}
}

// Failure records a transient provider failure. Callers must not report
// permanent failures such as a rejected recipient.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failed++
	cb.streak++

	switch {
	case cb.state == StateHalfOpen:
		cb.setState(StateOpen)
	case cb.state == StateClosed && cb.streak >= cb.cfg.MaxFailures:
		cb.setState(StateOpen)
	}
}

// Stats is the breaker snapshot served by /health.
type Stats struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	FailureStreak int        `json:"failure_streak"`
	Sent          int64      `json:"sent"`
	Failed        int64      `json:"failed"`
	Rejected      int64      `json:"rejected"`
	ChangedAt     time.Time  `json:"changed_at"`
	RetryAt       *time.Time `json:"retry_at,omitempty"`
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		Name:          cb.cfg.Name,
		State:         cb.state.String(),
		FailureStreak: cb.streak,
		Sent:          cb.sent,
		Failed:        cb.failed,
		Rejected:      cb.rejected,
		ChangedAt:     cb.changedAt.UTC(),
	}
	if cb.state == StateOpen {
		retryAt := cb.openedAt.Add(cb.cfg.RecoveryTimeout).UTC()
		s.RetryAt = &retryAt
	}
	return s
}

// setState must be called with the lock held.
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	cb.changedAt = cb.now()
	cb.probes = 0
	if to == StateOpen {
		cb.openedAt = cb.changedAt
	}

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}

	fields := []zap.Field{
		zap.String("breaker", cb.cfg.Name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	}
	switch to {
	case StateOpen:
		cb.logger.Warn("provider circuit opened",
			append(fields, zap.Int("failure_streak", cb.streak), zap.Duration("recovery_timeout", cb.cfg.RecoveryTimeout))...)
	case StateClosed:
		cb.logger.Info("provider circuit closed", fields...)
	default:
		cb.logger.Debug("provider circuit probing", fields...)
	}
}
