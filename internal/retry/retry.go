package retry

import (
	"context"
	"fmt"
	"time"
)

// Class tells the loop whether a failed attempt may succeed if repeated.
type Class int

const (
	Transient Class = iota
	Permanent
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// State is the lifecycle of one retry loop.
//
//	NotAttempted -> Attempting -> Succeeded | PermanentlyFailed | Exhausted
type State int

const (
	NotAttempted State = iota
	Attempting
	Succeeded
	PermanentlyFailed
	Exhausted
)

func (s State) String() string {
	switch s {
	case NotAttempted:
		return "not_attempted"
	case Attempting:
		return "attempting"
	case Succeeded:
		return "succeeded"
	case PermanentlyFailed:
		return "permanently_failed"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// DefaultMaxAttempts is the reference attempt budget.
const DefaultMaxAttempts = 3

// Policy configures a retry loop.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff

	// Sleep waits for d or until ctx is done. Defaults to SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnAttempt, when set, observes every finished attempt.
	OnAttempt func(attempt int, err error, class Class)
}

// DefaultPolicy returns the reference policy: 3 attempts, 1s/5s/25s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultSchedule,
	}
}

// Report summarizes a finished loop. Err is the last failure and is nil on success.
type Report struct {
	Attempts int
	State    State
	Err      error
}

// SleepContext blocks for d, returning early with ctx.Err() when ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op until it succeeds, fails permanently, or the attempt budget is spent.
// op receives the 1-based attempt number. The delay is never slept after the
// final attempt.
func Do[T any](ctx context.Context, p Policy, classify func(error) Class, op func(ctx context.Context, attempt int) (T, error)) (T, Report) {
	var zero T

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = DefaultSchedule
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	report := Report{State: NotAttempted}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		report.State = Attempting
		report.Attempts = attempt

		result, err := op(ctx, attempt)
		if err == nil {
			report.State = Succeeded
			report.Err = nil
			if p.OnAttempt != nil {
				p.OnAttempt(attempt, nil, Transient)
			}
			return result, report
		}

		class := Transient
		if classify != nil {
			class = classify(err)
		}
		report.Err = err
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, err, class)
		}

		if class == Permanent {
			report.State = PermanentlyFailed
			return zero, report
		}

		if attempt == maxAttempts {
			break
		}

		if sleepErr := sleep(ctx, backoff.NextDelay(attempt)); sleepErr != nil {
			report.State = Exhausted
			report.Err = fmt.Errorf("%w (retry aborted: %v)", err, sleepErr)
			return zero, report
		}
	}

	report.State = Exhausted
	return zero, report
}
