package repository

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity/ratelimit"
	"github.com/uptrace/bun"
)

// RateLimitRecord is the persisted fixed-window counter for one key.
type RateLimitRecord struct {
	bun.BaseModel `bun:"table:rate_limit_counters"`

	Key         string    `bun:"key,pk"`
	Count       int64     `bun:"count,notnull"`
	WindowStart time.Time `bun:"window_start,notnull"`
}

// RateLimitStore backs the limiter with a database counter so limits hold
// across processes sharing the same database.
type RateLimitStore struct {
	db  *bun.DB
	now func() time.Time
}

var _ ratelimit.CounterStore = (*RateLimitStore)(nil)

// RateLimitStoreOption configures a RateLimitStore.
type RateLimitStoreOption func(*RateLimitStore)

// WithRateLimitClock overrides the wall clock, used by tests.
func WithRateLimitClock(now func() time.Time) RateLimitStoreOption {
	return func(s *RateLimitStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRateLimitStore creates the store over an initialized Bun handle.
func NewRateLimitStore(db *bun.DB, opts ...RateLimitStoreOption) *RateLimitStore {
	s := &RateLimitStore{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

var incrementCounterSQL = `INSERT INTO "rate_limit_counters" ("key", "count", "window_start")
VALUES (?, 1, ?)
ON CONFLICT ("key") DO UPDATE SET
	"count" = CASE
		WHEN "rate_limit_counters"."window_start" <= ? THEN 1
		ELSE "rate_limit_counters"."count" + 1
	END,
	"window_start" = CASE
		WHEN "rate_limit_counters"."window_start" <= ? THEN EXCLUDED."window_start"
		ELSE "rate_limit_counters"."window_start"
	END
RETURNING "count", "window_start";`

// Increment bumps the counter for key, resetting it when the stored window
// has elapsed. The upsert is a single statement so concurrent increments for
// the same key observe distinct counts.
func (s *RateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (ratelimit.Hit, error) {
	now := s.now()
	cutoff := now.Add(-window)

	var count int64
	var windowStart time.Time

	err := s.db.NewRaw(incrementCounterSQL, key, now, cutoff, cutoff).
		Scan(ctx, &count, &windowStart)
	if err != nil {
		return ratelimit.Hit{}, goerrors.Wrap(err, goerrors.CategoryInternal, "could not increment rate limit counter")
	}

	return ratelimit.Hit{Count: count, WindowStart: windowStart}, nil
}
