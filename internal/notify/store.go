package notify

import (
	"context"
	"sync"
	"time"
)

// Store maps booking ids to the record of their first effective dispatch.
type Store interface {
	// Lookup returns the record for bookingID; ok is false when absent.
	Lookup(ctx context.Context, bookingID string) (rec Record, ok bool, err error)

	// Save writes rec unless a record for the same booking exists. inserted
	// reports whether this call wrote it. Records are never overwritten.
	Save(ctx context.Context, rec Record) (inserted bool, err error)
}

// Locker serializes dispatches for the same booking across callers.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Leaser is implemented by Lockers whose locks expire on their own after
// Lease. The engine keeps a dispatch well inside the lease.
type Leaser interface {
	Lease() time.Duration
}

// MemoryStore is a process-local Store and Locker.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	records map[string]Record
	locks   map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Locker = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store. A zero ttl keeps records for the
// life of the process.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		records: make(map[string]Record),
		locks:   make(map[string]*keyLock),
	}
}

func (s *MemoryStore) Lookup(ctx context.Context, bookingID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[bookingID]
	if !ok {
		return Record{}, false, nil
	}
	if s.expired(rec) {
		delete(s.records, bookingID)
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *MemoryStore) Save(ctx context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.BookingID]; ok && !s.expired(existing) {
		return false, nil
	}
	s.records[rec.BookingID] = rec
	return true, nil
}

func (s *MemoryStore) expired(rec Record) bool {
	return s.ttl > 0 && s.now().Sub(rec.NotifiedAt) > s.ttl
}

// Lock blocks until key is free or ctx is done.
func (s *MemoryStore) Lock(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		s.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			s.release(key, l)
		})
	}, nil
}

func (s *MemoryStore) release(key string, l *keyLock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}
