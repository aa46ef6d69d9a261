package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/sender"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	cb := New(cfg, zap.NewNop())
	cb.now = clock.now
	return cb, clock
}

func tripBreaker(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Allow()
		cb.Failure()
	}
}

func TestCircuitBreaker_StartsClosedAndAllows(t *testing.T) {
	cb, _ := newTestBreaker(DefaultConfig("ses"))
	if cb.State() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cb.State())
	}
	for i := 0; i < 10; i++ {
		if err := cb.Allow(); err != nil {
			t.Fatalf("request %d should be allowed: %v", i, err)
		}
		cb.Success()
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "ses", MaxFailures: 3, RecoveryTimeout: time.Minute})
	tripBreaker(cb, 3)
	if cb.State() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.State())
	}

	err := cb.Allow()
	var open *OpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected *OpenError, got %v", err)
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("OpenError should match ErrCircuitOpen")
	}
	if want := clock.now().Add(time.Minute); !open.RetryAt.Equal(want) {
		t.Errorf("RetryAt = %s, want %s", open.RetryAt, want)
	}
}

func TestCircuitBreaker_ProbeLifecycle(t *testing.T) {
	tests := []struct {
		name      string
		probeOK   bool
		wantState State
	}{
		{"successful probe closes", true, StateClosed},
		{"failed probe reopens", false, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(Config{Name: "chat", MaxFailures: 2, RecoveryTimeout: 30 * time.Second})
			tripBreaker(cb, 2)

			clock.advance(10 * time.Second)
			if cb.Allow() == nil {
				t.Fatal("should still reject before recovery timeout")
			}

			clock.advance(30 * time.Second)
			if err := cb.Allow(); err != nil {
				t.Fatalf("should allow probe after timeout: %v", err)
			}
			if cb.State() != StateHalfOpen {
				t.Fatalf("expected StateHalfOpen, got %s", cb.State())
			}

			err := cb.Allow()
			var open *OpenError
			if !errors.As(err, &open) || !open.RetryAt.IsZero() {
				t.Fatalf("second probe should be rejected without a retry time, got %v", err)
			}

			if tt.probeOK {
				cb.Success()
			} else {
				cb.Failure()
			}
			if cb.State() != tt.wantState {
				t.Fatalf("expected %s, got %s", tt.wantState, cb.State())
			}
		})
	}
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "sns", MaxFailures: 3})
	tripBreaker(cb, 2)
	_ = cb.Allow()
	cb.Success()
	tripBreaker(cb, 2)
	if cb.State() != StateClosed {
		t.Fatal("success should have reset the failure streak")
	}
}

func TestCircuitBreaker_StatsAndTransitions(t *testing.T) {
	var transitions []string
	cb, clock := newTestBreaker(Config{
		Name:            "stats",
		MaxFailures:     2,
		RecoveryTimeout: time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = cb.Allow()
	cb.Success()
	tripBreaker(cb, 2)
	_ = cb.Allow()

	stats := cb.Stats()
	if stats.Name != "stats" || stats.State != "open" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Sent != 1 || stats.Failed != 2 || stats.Rejected != 1 || stats.FailureStreak != 2 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	if stats.RetryAt == nil || !stats.RetryAt.Equal(clock.now().Add(time.Minute)) {
		t.Fatalf("retry_at = %v", stats.RetryAt)
	}

	clock.advance(time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatalf("probe: %v", err)
	}
	cb.Success()

	if cb.Stats().RetryAt != nil {
		t.Error("closed breaker should not report retry_at")
	}
	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	cb := New(Config{Name: "ses"}, nil)
	if cb.cfg.MaxFailures != 5 || cb.cfg.RecoveryTimeout != 30*time.Second || cb.cfg.HalfOpenMaxRequests != 1 {
		t.Fatalf("unexpected defaults: %+v", cb.cfg)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.s, got, tt.want)
		}
	}
}

type stubSender struct {
	err   error
	calls int
}

func (s *stubSender) Channel() sender.Channel { return sender.ChannelEmail }

func (s *stubSender) Ready() error { return nil }

func (s *stubSender) Send(ctx context.Context, msg sender.Message) (sender.Receipt, error) {
	s.calls++
	if s.err != nil {
		return sender.Receipt{}, s.err
	}
	return sender.Receipt{MessageID: "m-1"}, nil
}

func TestProtectedSender_PassesThrough(t *testing.T) {
	stub := &stubSender{}
	cb, _ := newTestBreaker(Config{Name: "ses", MaxFailures: 5})
	ps := NewProtectedSender(stub, cb, zap.NewNop())

	receipt, err := ps.Send(context.Background(), sender.Message{To: "doc@clinic.cl"})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if receipt.MessageID != "m-1" || stub.calls != 1 {
		t.Fatalf("receipt = %+v, calls = %d", receipt, stub.calls)
	}
	if ps.Channel() != sender.ChannelEmail || ps.Ready() != nil {
		t.Fatal("channel and readiness should delegate")
	}
}

func TestProtectedSender_FailFastWhenOpen(t *testing.T) {
	stub := &stubSender{err: sender.FromStatus(503, "down")}
	cb, _ := newTestBreaker(Config{Name: "ses", MaxFailures: 2})
	ps := NewProtectedSender(stub, cb, zap.NewNop())

	ps.Send(context.Background(), sender.Message{})
	ps.Send(context.Background(), sender.Message{})
	stub.calls = 0

	_, err := ps.Send(context.Background(), sender.Message{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got: %v", err)
	}
	if stub.calls != 0 {
		t.Fatalf("sender called %d times when circuit open", stub.calls)
	}
}

func TestProtectedSender_PermanentFailuresDoNotTrip(t *testing.T) {
	stub := &stubSender{err: sender.FromStatus(400, "bad recipient")}
	cb, _ := newTestBreaker(Config{Name: "ses", MaxFailures: 2})
	ps := NewProtectedSender(stub, cb, zap.NewNop())

	for i := 0; i < 5; i++ {
		ps.Send(context.Background(), sender.Message{})
	}

	if cb.State() != StateClosed {
		t.Fatalf("permanent failures must not open the circuit, got %s", cb.State())
	}
	if stub.calls != 5 {
		t.Fatalf("calls = %d, want 5", stub.calls)
	}
}

func TestProtectedSender_Recovers(t *testing.T) {
	stub := &stubSender{err: errors.New("connection refused")}
	cb, clock := newTestBreaker(Config{Name: "chat", MaxFailures: 3, RecoveryTimeout: time.Minute})
	ps := NewProtectedSender(stub, cb, zap.NewNop())

	for i := 0; i < 3; i++ {
		ps.Send(context.Background(), sender.Message{})
	}
	if ps.Breaker().State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	clock.advance(2 * time.Minute)
	stub.err = nil
	if _, err := ps.Send(context.Background(), sender.Message{}); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}
}
