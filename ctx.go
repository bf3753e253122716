package identity

import (
	"context"
	"strings"

	"github.com/goliatone/go-router"
)

var stateCtxKey = &contextKey{"session_state"}

type contextKey struct {
	name string
}

// WithContext sets the resolved session state in the given context
func WithContext(ctx context.Context, state *SessionState) context.Context {
	return context.WithValue(ctx, stateCtxKey, state)
}

// FromContext finds the resolved session state from the context.
func FromContext(ctx context.Context) (*SessionState, bool) {
	raw, ok := ctx.Value(stateCtxKey).(*SessionState)
	return raw, ok
}

// RequestMeta is the per-request material resolved once at the boundary and
// shared by the session manager, the linker, and the rate limiter.
type RequestMeta struct {
	IP        string
	UserAgent string
	Origin    string
}

// ResolveRequestMeta extracts client identity from the request using the
// configured header precedence list.
func (c Config) ResolveRequestMeta(ctx router.Context) RequestMeta {
	return RequestMeta{
		IP:        c.resolveClientIP(ctx),
		UserAgent: ctx.GetString("User-Agent", ""),
		Origin:    ctx.GetString("Origin", ""),
	}
}

func (c Config) resolveClientIP(ctx router.Context) string {
	for _, header := range c.ClientIPHeaders {
		value := ctx.GetString(header, "")
		if value == "" {
			continue
		}
		// X-Forwarded-For carries a chain; the client is the first hop.
		if i := strings.IndexByte(value, ','); i >= 0 {
			value = value[:i]
		}
		if ip := strings.TrimSpace(value); ip != "" {
			return ip
		}
	}
	// No proxy headers: the transport remote address keys the client.
	return ctx.IP()
}
