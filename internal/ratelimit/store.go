package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Counter is the state of one fixed window after an increment. Remaining is
// measured by the store's own clock.
type Counter struct {
	Count     int64
	Remaining time.Duration
}

// Store increments per-key counters. Incr creates or resets the counter for
// key with a fresh window when it is absent or expired, then adds one.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (Counter, error)
}

// sweepEvery is the number of increments between sweeps of expired keys.
const sweepEvery = 1024

// MemoryStore keeps counters in a process-local map. Counters are not shared
// between processes.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[string]memCounter
	incrs    int
}

type memCounter struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates an empty MemoryStore reading time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{now: now, counters: make(map[string]memCounter)}
}

func (m *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.counters[key]
	if !ok || !w.expiresAt.After(now) {
		w = memCounter{expiresAt: now.Add(window)}
	}
	w.count++
	m.counters[key] = w

	m.incrs++
	if m.incrs >= sweepEvery {
		m.incrs = 0
		m.sweep(now)
	}
	return Counter{Count: w.count, Remaining: w.expiresAt.Sub(now)}, nil
}

// Len returns the number of tracked keys, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

// sweep drops expired counters. Callers hold mu.
func (m *MemoryStore) sweep(now time.Time) {
	for k, w := range m.counters {
		if !w.expiresAt.After(now) {
			delete(m.counters, k)
		}
	}
}
