// Package retry implements the per-channel attempt loop: a fixed attempt
// budget, a pluggable backoff calculator and a transient/permanent classifier.
package retry

import (
	"fmt"
	"strings"
	"time"
)

// Backoff returns the delay to wait after the given (1-based) attempt failed.
type Backoff interface {
	NextDelay(attempt int) time.Duration
}

// Schedule is a fixed delay table. Attempt k waits Schedule[k-1]; attempts past
// the end of the table reuse the last entry.
type Schedule []time.Duration

// DefaultSchedule is the reference 1s, 5s, 25s progression.
var DefaultSchedule = Schedule{1 * time.Second, 5 * time.Second, 25 * time.Second}

func (s Schedule) NextDelay(attempt int) time.Duration {
	if len(s) == 0 {
		return 0
	}

	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s) {
		idx = len(s) - 1
	}

	return s[idx]
}

// ParseSchedule parses a comma separated list of durations such as "1s,5s,25s".
func ParseSchedule(raw string) (Schedule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty retry schedule")
	}

	parts := strings.Split(raw, ",")
	schedule := make(Schedule, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid retry delay %q: %w", part, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("negative retry delay %q", part)
		}
		schedule = append(schedule, d)
	}

	return schedule, nil
}

// Exponential grows the delay geometrically: Base * Factor^(attempt-1), capped at Max.
type Exponential struct {
	Base   time.Duration
	Factor int
	Max    time.Duration
}

func (e Exponential) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	factor := e.Factor
	if factor < 1 {
		factor = 1
	}

	delay := e.Base
	for i := 1; i < attempt; i++ {
		delay *= time.Duration(factor)
		if e.Max > 0 && delay >= e.Max {
			return e.Max
		}
	}

	if e.Max > 0 && delay > e.Max {
		delay = e.Max
	}

	return delay
}
