package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/notify"
)

const (
	// DefaultRecordTTL is how long a booking stays deduplicated.
	DefaultRecordTTL = 30 * 24 * time.Hour

	// lockTTL bounds how long a crashed dispatcher can hold a booking. It
	// must outlast a full retry cycle on both channels.
	lockTTL = 2 * time.Minute

	lockPollInterval = 50 * time.Millisecond
)

// unlockScript deletes the lock only if we still own it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// IdempotencyStore keeps one record per booking using SET NX, and
// serializes dispatches of the same booking with a SET NX lock.
type IdempotencyStore struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration

	lockTTL      time.Duration
	pollInterval time.Duration
}

var (
	_ notify.Store  = (*IdempotencyStore)(nil)
	_ notify.Locker = (*IdempotencyStore)(nil)
	_ notify.Leaser = (*IdempotencyStore)(nil)
)

// NewIdempotencyStore creates a store whose records expire after ttl
// (DefaultRecordTTL when zero).
func NewIdempotencyStore(client *Client, logger *zap.Logger, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdempotencyStore{
		client:       client,
		logger:       logger,
		ttl:          ttl,
		lockTTL:      lockTTL,
		pollInterval: lockPollInterval,
	}
}

// Lease reports how long a booking lock survives without being released.
func (s *IdempotencyStore) Lease() time.Duration { return s.lockTTL }

func recordKey(bookingID string) string {
	return fmt.Sprintf("notify:record:%s", bookingID)
}

func lockKey(bookingID string) string {
	return fmt.Sprintf("notify:lock:%s", bookingID)
}

// Lookup returns the stored record for bookingID.
func (s *IdempotencyStore) Lookup(ctx context.Context, bookingID string) (notify.Record, bool, error) {
	val, err := s.client.rdb.Get(ctx, recordKey(bookingID)).Result()
	if errors.Is(err, redis.Nil) {
		return notify.Record{}, false, nil
	}
	if err != nil {
		return notify.Record{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var rec notify.Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		s.logger.Error("failed to unmarshal idempotency record",
			zap.String("booking_id", bookingID),
			zap.Error(err),
		)
		return notify.Record{}, false, fmt.Errorf("invalid stored record: %w", err)
	}

	s.logger.Debug("idempotency cache hit", zap.String("booking_id", bookingID))
	return rec, true, nil
}

// Save writes rec with SET NX; an existing record is never replaced.
func (s *IdempotencyStore) Save(ctx context.Context, rec notify.Record) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal record: %w", err)
	}

	inserted, err := s.client.rdb.SetNX(ctx, recordKey(rec.BookingID), data, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return inserted, nil
}

// Lock polls until the booking lock is acquired or ctx is done. The lock
// expires on its own if the holder dies.
func (s *IdempotencyStore) Lock(ctx context.Context, bookingID string) (func(), error) {
	key := lockKey(bookingID)
	token := uuid.NewString()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := s.client.rdb.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock failed: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		// The caller's context may already be cancelled; release regardless.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := unlockScript.Run(releaseCtx, s.client.rdb, []string{key}, token).Err(); err != nil {
			s.logger.Warn("failed to release booking lock",
				zap.String("booking_id", bookingID),
				zap.Error(err),
			)
		}
	}, nil
}
