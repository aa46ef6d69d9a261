package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/notify"
)

// IdempotencyStore keeps notification records in notification_records,
// keyed by booking id. Inserts use ON CONFLICT DO NOTHING so the table
// itself enforces write-once; session advisory locks serialize concurrent
// dispatches of one booking across instances.
type IdempotencyStore struct {
	db     *DB
	logger *zap.Logger

	// lockSlots caps the pool connections pinned by held advisory locks so
	// Lookup and Save always find a free one.
	lockSlots chan struct{}
}

var (
	_ notify.Store  = (*IdempotencyStore)(nil)
	_ notify.Locker = (*IdempotencyStore)(nil)
)

func NewIdempotencyStore(db *DB, logger *zap.Logger) *IdempotencyStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdempotencyStore{
		db:        db,
		logger:    logger,
		lockSlots: make(chan struct{}, lockSlotCount(db.Pool().Config().MaxConns)),
	}
}

// lockSlotCount leaves half the pool to record reads and writes.
func lockSlotCount(maxConns int32) int {
	return max(1, int(maxConns)/2)
}

func (s *IdempotencyStore) Lookup(ctx context.Context, bookingID string) (notify.Record, bool, error) {
	query := `
		SELECT booking_id, notified_at, email_sent, messaging_sent, attempts,
		       errors, message_ids, skipped, channels
		FROM notification_records
		WHERE booking_id = $1
	`

	var row notificationRow
	err := s.db.Pool().QueryRow(ctx, query, bookingID).Scan(
		&row.BookingID,
		&row.NotifiedAt,
		&row.EmailSent,
		&row.MessagingSent,
		&row.Attempts,
		&row.Errors,
		&row.MessageIDs,
		&row.Skipped,
		&row.Channels,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return notify.Record{}, false, nil
	}
	if err != nil {
		return notify.Record{}, false, fmt.Errorf("query notification record: %w", err)
	}

	rec, err := row.record()
	if err != nil {
		return notify.Record{}, false, fmt.Errorf("decode notification record: %w", err)
	}
	return rec, true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec notify.Record) (bool, error) {
	row, err := rowFromRecord(rec)
	if err != nil {
		return false, fmt.Errorf("encode notification record: %w", err)
	}

	query := `
		INSERT INTO notification_records (
			booking_id, notified_at, email_sent, messaging_sent, attempts,
			errors, message_ids, skipped, channels
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (booking_id) DO NOTHING
	`

	tag, err := s.db.Pool().Exec(ctx, query,
		row.BookingID,
		row.NotifiedAt,
		row.EmailSent,
		row.MessagingSent,
		row.Attempts,
		row.Errors,
		row.MessageIDs,
		row.Skipped,
		row.Channels,
	)
	if err != nil {
		s.logger.Error("failed to insert notification record",
			zap.Error(err),
			zap.String("booking_id", rec.BookingID),
		)
		return false, fmt.Errorf("insert notification record: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Lock takes a session advisory lock on a dedicated connection. The lock is
// released with the connection if this process dies.
//
// At most cap(lockSlots) locks are held or awaited at once; further callers
// wait for a slot until ctx is done.
func (s *IdempotencyStore) Lock(ctx context.Context, bookingID string) (func(), error) {
	select {
	case s.lockSlots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for lock slot: %w", ctx.Err())
	}
	freeSlot := func() { <-s.lockSlots }

	conn, err := s.db.Pool().Acquire(ctx)
	if err != nil {
		freeSlot()
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, lockName(bookingID)); err != nil {
		// The connection may be mid-query after a cancel; drop it.
		conn.Conn().Close(context.Background())
		conn.Release()
		freeSlot()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}

	release := func() {
		defer freeSlot()

		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if _, err := conn.Exec(releaseCtx, `SELECT pg_advisory_unlock(hashtext($1))`, lockName(bookingID)); err != nil {
			s.logger.Warn("failed to release advisory lock, closing connection",
				zap.String("booking_id", bookingID),
				zap.Error(err),
			)
			conn.Conn().Close(releaseCtx)
		}
		conn.Release()
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func lockName(bookingID string) string {
	return "notify:" + bookingID
}

// Purge deletes records notified more than olderThan ago and returns how
// many were removed. Records are otherwise never deleted.
func (s *IdempotencyStore) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	var removed int
	err := s.db.Pool().QueryRow(ctx,
		`SELECT purge_notification_records(make_interval(secs => $1))`,
		olderThan.Seconds(),
	).Scan(&removed)
	if err != nil {
		return 0, fmt.Errorf("purge notification records: %w", err)
	}
	return removed, nil
}
