// Package ratelimit implements a fixed-window request throttle over a
// pluggable counter store. The algorithm is backend independent: a window
// starts on the first hit for a key and the count resets to zero once the
// window has elapsed.
package ratelimit

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
)

// TextCodeRateLimited is the stable machine-readable code for rejections.
const TextCodeRateLimited = "rate_limit_exceeded"

// ErrRateLimited is returned by middleware when a request is rejected.
var ErrRateLimited = errors.New("too many requests", errors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(429)

// Rule is a static throttle policy for a route.
type Rule struct {
	Window time.Duration
	Max    int
}

// RuleFunc derives a throttle policy from the request, evaluated per call.
type RuleFunc func(req Request) Rule

// Request carries the throttle key material for one inbound request.
type Request struct {
	// Key identifies the client, typically the resolved IP address.
	Key string
	// Route is the normalized request path.
	Route string
}

// Verdict is the outcome of a limiter check.
type Verdict struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Hit is one atomic counter observation: the count after incrementing and
// the start of the window it belongs to.
type Hit struct {
	Count       int64
	WindowStart time.Time
}

// CounterStore provides atomic increment-and-observe per key. Implementations
// must guarantee that concurrent increments for the same key observe distinct
// counts.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (Hit, error)
}

// Config tunes the limiter. Route rules take precedence over the default
// window/max pair; a RuleFunc for a route takes precedence over both.
type Config struct {
	Enabled   bool
	Window    time.Duration
	Max       int
	Rules     map[string]Rule
	RuleFuncs map[string]RuleFunc
}

// Limiter evaluates the fixed-window policy against a counter store.
type Limiter struct {
	config Config
	store  CounterStore
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a limiter over the given store. A nil store falls back to
// in-memory counters.
func New(config Config, store CounterStore, opts ...Option) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Limiter{
		config: config,
		store:  store,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Check evaluates the request against the resolved rule. A disabled limiter
// always allows. The counter is incremented even for rejected requests so a
// client hammering the endpoint keeps its window occupied.
func (l *Limiter) Check(ctx context.Context, req Request) (Verdict, error) {
	if !l.config.Enabled {
		return Verdict{Allowed: true, Remaining: -1}, nil
	}

	rule := l.resolveRule(req)
	if rule.Max <= 0 || rule.Window <= 0 {
		return Verdict{Allowed: true, Remaining: -1}, nil
	}

	hit, err := l.store.Increment(ctx, req.Key+":"+req.Route, rule.Window)
	if err != nil {
		return Verdict{}, errors.Wrap(err, errors.CategoryInternal, "rate limit store unavailable")
	}

	remaining := rule.Max - int(hit.Count)
	if remaining < 0 {
		remaining = 0
	}

	return Verdict{
		Allowed:   hit.Count <= int64(rule.Max),
		Remaining: remaining,
		ResetAt:   hit.WindowStart.Add(rule.Window),
	}, nil
}

func (l *Limiter) resolveRule(req Request) Rule {
	if fn, ok := l.config.RuleFuncs[req.Route]; ok && fn != nil {
		return fn(req)
	}
	if rule, ok := l.config.Rules[req.Route]; ok {
		return rule
	}
	return Rule{Window: l.config.Window, Max: l.config.Max}
}
