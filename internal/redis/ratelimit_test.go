package redis

import (
	"context"
	"testing"
	"time"
)

func setupTestRateLimiter(t *testing.T, limit int, window time.Duration) *RateLimiter {
	t.Helper()
	client, _ := setupTestRedis(t)
	return NewRateLimiter(client, nil, RateLimitConfig{Limit: limit, Window: window})
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := setupTestRateLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if result.Remaining != 4-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 4-i, result.Remaining)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	limiter := setupTestRateLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if result, _ := limiter.Allow(ctx, "10.0.0.1"); !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	result, err := limiter.Allow(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed || result.Remaining != 0 {
		t.Fatalf("request should be blocked with nothing remaining: %+v", result)
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	limiter := setupTestRateLimiter(t, 2, time.Minute)
	ctx := context.Background()

	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow(ctx, "10.0.0.1")
	limiter.Allow(ctx, "10.0.0.1")
	if result, _ := limiter.Allow(ctx, "10.0.0.1"); result.Allowed {
		t.Fatal("third request in the window should be blocked")
	}

	now = now.Add(61 * time.Second)
	if result, _ := limiter.Allow(ctx, "10.0.0.1"); !result.Allowed {
		t.Fatal("request after the window should be allowed")
	}
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	limiter := setupTestRateLimiter(t, 2, time.Minute)
	ctx := context.Background()

	limiter.Allow(ctx, "key-a")
	limiter.Allow(ctx, "key-a")

	result, _ := limiter.Allow(ctx, "key-b")
	if !result.Allowed || result.Remaining != 1 {
		t.Fatalf("key-b should have its own budget: %+v", result)
	}
}

func TestRateLimiter_AllowN(t *testing.T) {
	limiter := setupTestRateLimiter(t, 10, time.Minute)
	ctx := context.Background()

	result, err := limiter.AllowN(ctx, "batch", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.Remaining != 5 {
		t.Fatalf("unexpected result: %+v", result)
	}

	if result, _ = limiter.AllowN(ctx, "batch", 6); result.Allowed {
		t.Fatal("should be blocked")
	}
}

func TestRateLimiter_ResetAtTracksOldestRequest(t *testing.T) {
	limiter := setupTestRateLimiter(t, 2, time.Minute)
	ctx := context.Background()

	start := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	now := start
	limiter.now = func() time.Time { return now }

	limiter.Allow(ctx, "10.0.0.9")
	now = start.Add(20 * time.Second)
	limiter.Allow(ctx, "10.0.0.9")

	now = start.Add(30 * time.Second)
	result, err := limiter.Allow(ctx, "10.0.0.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("third request should be blocked")
	}
	if want := start.Add(time.Minute); !result.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %s, want %s", result.ResetAt, want)
	}
}
