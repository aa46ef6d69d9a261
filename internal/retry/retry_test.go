package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTransient = errors.New("server unavailable")
	errPermanent = errors.New("recipient rejected")
)

func classifyTest(err error) Class {
	if errors.Is(err, errPermanent) {
		return Permanent
	}
	return Transient
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func TestSchedule_NextDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 5 * time.Second},
		{3, 25 * time.Second},
		{4, 25 * time.Second},
	}

	for _, tt := range tests {
		if got := DefaultSchedule.NextDelay(tt.attempt); got != tt.want {
			t.Errorf("NextDelay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}

	if got := (Schedule{}).NextDelay(1); got != 0 {
		t.Errorf("empty schedule delay = %s, want 0", got)
	}
}

func TestExponential_NextDelay(t *testing.T) {
	b := Exponential{Base: time.Second, Factor: 5, Max: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 5 * time.Second},
		{3, 25 * time.Second},
		{4, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := b.NextDelay(tt.attempt); got != tt.want {
			t.Errorf("NextDelay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("1s, 5s,25s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) != 3 || s[2] != 25*time.Second {
		t.Fatalf("unexpected schedule: %v", s)
	}

	for _, bad := range []string{"", "1s,abc", "-1s"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Errorf("ParseSchedule(%q) should fail", bad)
		}
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	rec := &sleepRecorder{}
	p := Policy{MaxAttempts: 3, Backoff: DefaultSchedule, Sleep: rec.Sleep}

	got, report := Do(context.Background(), p, classifyTest, func(ctx context.Context, attempt int) (string, error) {
		return "msg-1", nil
	})

	if got != "msg-1" {
		t.Errorf("result = %q, want msg-1", got)
	}
	if report.State != Succeeded || report.Attempts != 1 || report.Err != nil {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(rec.delays) != 0 {
		t.Errorf("expected no sleeps, got %v", rec.delays)
	}
}

func TestDo_RetryThenSucceed(t *testing.T) {
	rec := &sleepRecorder{}
	p := Policy{MaxAttempts: 3, Backoff: DefaultSchedule, Sleep: rec.Sleep}

	got, report := Do(context.Background(), p, classifyTest, func(ctx context.Context, attempt int) (string, error) {
		if attempt < 3 {
			return "", errTransient
		}
		return "msg-3", nil
	})

	if got != "msg-3" {
		t.Errorf("result = %q, want msg-3", got)
	}
	if report.State != Succeeded || report.Attempts != 3 {
		t.Errorf("unexpected report: %+v", report)
	}
	want := []time.Duration{1 * time.Second, 5 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", rec.delays, want)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("delay[%d] = %s, want %s", i, rec.delays[i], want[i])
		}
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	rec := &sleepRecorder{}
	p := Policy{MaxAttempts: 3, Backoff: DefaultSchedule, Sleep: rec.Sleep}
	calls := 0

	_, report := Do(context.Background(), p, classifyTest, func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "", errPermanent
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if report.State != PermanentlyFailed || report.Attempts != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if !errors.Is(report.Err, errPermanent) {
		t.Errorf("report.Err = %v, want %v", report.Err, errPermanent)
	}
	if len(rec.delays) != 0 {
		t.Errorf("permanent failure must not sleep, got %v", rec.delays)
	}
}

func TestDo_ExhaustsBudget(t *testing.T) {
	rec := &sleepRecorder{}
	p := Policy{MaxAttempts: 3, Backoff: DefaultSchedule, Sleep: rec.Sleep}
	calls := 0

	_, report := Do(context.Background(), p, classifyTest, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errTransient
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if report.State != Exhausted || report.Attempts != 3 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(rec.delays) != 2 {
		t.Errorf("expected 2 sleeps (none after final attempt), got %v", rec.delays)
	}
}

func TestDo_CancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxAttempts: 3, Backoff: Schedule{time.Hour}}
	calls := 0

	_, report := Do(ctx, p, classifyTest, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errTransient
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if report.State != Exhausted {
		t.Errorf("state = %s, want exhausted", report.State)
	}
	if !errors.Is(report.Err, errTransient) {
		t.Errorf("report.Err should wrap the last failure, got %v", report.Err)
	}
}

func TestDo_OnAttemptObservesEveryAttempt(t *testing.T) {
	var seen []Class
	p := Policy{
		MaxAttempts: 3,
		Backoff:     Schedule{0},
		Sleep:       (&sleepRecorder{}).Sleep,
		OnAttempt: func(attempt int, err error, class Class) {
			if err != nil {
				seen = append(seen, class)
			}
		},
	}

	Do(context.Background(), p, classifyTest, func(ctx context.Context, attempt int) (int, error) {
		if attempt == 1 {
			return 0, errTransient
		}
		return 0, errPermanent
	})

	if len(seen) != 2 || seen[0] != Transient || seen[1] != Permanent {
		t.Errorf("unexpected classes: %v", seen)
	}
}

func TestStateString(t *testing.T) {
	if PermanentlyFailed.String() != "permanently_failed" {
		t.Errorf("unexpected string: %s", PermanentlyFailed)
	}
	if Permanent.String() != "permanent" {
		t.Errorf("unexpected string: %s", Permanent)
	}
}
