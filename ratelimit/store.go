package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowCounter struct {
	count int64
	start time.Time
}

// MemoryStore keeps fixed-window counters in process memory. Suitable for a
// single instance; multi-instance deployments should use the Redis store or
// a custom backend.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
	now      func() time.Time
}

// StoreOption configures a built-in counter store.
type StoreOption func(clockSetter)

type clockSetter interface {
	setClock(now func() time.Time)
}

// WithStoreClock overrides the store wall clock, used by tests.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s clockSetter) {
		if now != nil {
			s.setClock(now)
		}
	}
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		counters: map[string]*windowCounter{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryStore) setClock(now func() time.Time) {
	s.now = now
}

// Increment implements CounterStore with a single lock per call, so two
// concurrent requests for the same key always observe distinct counts.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	counter, ok := s.counters[key]
	if !ok || now.Sub(counter.start) >= window {
		counter = &windowCounter{start: now}
		s.counters[key] = counter
	}
	counter.count++

	return Hit{Count: counter.count, WindowStart: counter.start}, nil
}

// Record is the persisted shape of one key's window, used by custom get/set
// backends.
type Record struct {
	Count       int64     `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// GetFunc loads the record for a key. A missing key returns (nil, nil).
type GetFunc func(ctx context.Context, key string) (*Record, error)

// SetFunc stores the record for a key with the remaining window as TTL hint.
type SetFunc func(ctx context.Context, key string, record Record, ttl time.Duration) error

// FuncStore adapts a custom get/set pair into a CounterStore. A process-wide
// mutex serializes read-modify-write cycles; atomicity across processes is
// the backend's responsibility.
type FuncStore struct {
	mu  sync.Mutex
	get GetFunc
	set SetFunc
	now func() time.Time
}

// NewFuncStore wraps the custom get/set pair.
func NewFuncStore(get GetFunc, set SetFunc, opts ...StoreOption) *FuncStore {
	s := &FuncStore{get: get, set: set, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *FuncStore) setClock(now func() time.Time) {
	s.now = now
}

// Increment implements CounterStore over the custom pair.
func (s *FuncStore) Increment(ctx context.Context, key string, window time.Duration) (Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	record, err := s.get(ctx, key)
	if err != nil {
		return Hit{}, err
	}

	if record == nil || now.Sub(record.WindowStart) >= window {
		record = &Record{WindowStart: now}
	}
	record.Count++

	ttl := window - now.Sub(record.WindowStart)
	if err := s.set(ctx, key, *record, ttl); err != nil {
		return Hit{}, err
	}

	return Hit{Count: record.Count, WindowStart: record.WindowStart}, nil
}
