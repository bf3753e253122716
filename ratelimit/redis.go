package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps fixed-window counters in Redis. The window TTL is set on
// the first hit only, so the count expires with the window that opened it.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a counter store over the given client. Keys are
// namespaced with prefix (default "rl").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// Increment implements CounterStore. INCR is atomic per key, so concurrent
// requests always observe distinct counts.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Hit, error) {
	namespaced := s.prefix + ":" + key

	count, err := s.client.Incr(ctx, namespaced).Result()
	if err != nil {
		return Hit{}, fmt.Errorf("rate limit incr: %w", err)
	}

	now := s.now()

	if count == 1 {
		if err := s.client.Expire(ctx, namespaced, window).Err(); err != nil {
			return Hit{}, fmt.Errorf("rate limit expire: %w", err)
		}
		return Hit{Count: count, WindowStart: now}, nil
	}

	// Recover the window start from the remaining TTL.
	ttl, err := s.client.PTTL(ctx, namespaced).Result()
	if err != nil {
		return Hit{}, fmt.Errorf("rate limit pttl: %w", err)
	}
	start := now
	if ttl > 0 {
		start = now.Add(ttl - window)
	}

	return Hit{Count: count, WindowStart: start}, nil
}
