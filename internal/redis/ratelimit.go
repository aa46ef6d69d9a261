package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int
	// ResetAt is when the oldest request in the window expires.
	ResetAt time.Time
}

// slidingWindow trims, counts and records in one step so concurrent gateway
// instances cannot overshoot the limit. Scores are unix microseconds and are
// handed to redis.call as the original ARGV strings, since Lua number
// formatting would round them.
//
// KEYS[1] window key
// ARGV    now_us, cutoff_us, limit, n, ttl_ms, member...
// returns {allowed, count, oldest_us}
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[3])
local n = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local count = redis.call('ZCARD', key)

local allowed = 0
if count + n <= limit then
	for i = 1, n do
		redis.call('ZADD', key, ARGV[1], ARGV[5 + i])
	end
	redis.call('PEXPIRE', key, ARGV[5])
	count = count + n
	allowed = 1
end

local oldest = ARGV[1]
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
	oldest = first[2]
end
return {allowed, count, oldest}
`)

// RateLimiter is a sliding window limiter over Redis sorted sets. It guards
// the confirmation and test endpoints per client address.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
	now    func() time.Time
}

func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{client: client, logger: logger, config: config, now: time.Now}
}

// Limit returns the request budget per window.
func (r *RateLimiter) Limit() int { return r.config.Limit }

func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN records n requests for key when all of them fit in the window, and
// none of them otherwise.
func (r *RateLimiter) AllowN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	now := r.now()

	args := make([]any, 0, 5+n)
	args = append(args,
		now.UnixMicro(),
		now.Add(-r.config.Window).UnixMicro(),
		r.config.Limit,
		n,
		(r.config.Window + time.Second).Milliseconds(),
	)
	for i := 0; i < n; i++ {
		args = append(args, uuid.NewString())
	}

	out, err := slidingWindow.Run(ctx, r.client.rdb, []string{"medinotify:ratelimit:" + key}, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("rate limit script: unexpected reply %v", out)
	}

	res := &RateLimitResult{
		Allowed:   out[0] == 1,
		Remaining: max(0, r.config.Limit-int(out[1])),
		ResetAt:   time.UnixMicro(out[2]).Add(r.config.Window),
	}
	if !res.Allowed {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("in_window", out[1]),
			zap.Int("limit", r.config.Limit),
		)
	}
	return res, nil
}
