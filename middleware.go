package identity

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity/ratelimit"
	"github.com/goliatone/go-router"
)

// SessionContextKey is the router locals key the session middleware stores
// the resolved state under.
const SessionContextKey = "identity_session"

// RateLimit throttles requests by client IP and route using the configured
// limiter. Rejections are JSON 429 responses carrying the reset time.
func (e *Engine) RateLimit() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			meta := e.config.ResolveRequestMeta(ctx)

			verdict, err := e.limiter.Check(ctx.Context(), ratelimit.Request{
				Key:   meta.IP,
				Route: routeKey(ctx),
			})
			if err != nil {
				// A broken counter store must not take the API down with it.
				e.logger.Error("rate limit check failed", "error", err)
				return next(ctx)
			}

			if !verdict.Allowed {
				return ctx.JSON(429, map[string]any{
					"error": map[string]any{
						"message":   ratelimit.ErrRateLimited.Message,
						"text_code": ratelimit.TextCodeRateLimited,
						"reset_at":  verdict.ResetAt,
					},
				})
			}

			return next(ctx)
		}
	}
}

// WithSession resolves the session once per request and stores the state in
// both router locals and the standard context. Requests without a session
// pass through with no state attached.
func (e *Engine) WithSession(controller *HTTPController) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			state, err := e.sessions.Resolve(ctx.Context(), controller.resolveOptions(ctx))
			if err != nil {
				e.logger.Error("session resolution failed", "error", err)
				return next(ctx)
			}

			if state != nil {
				ctx.Locals(SessionContextKey, state)
				ctx.SetContext(WithContext(ctx.Context(), state))
			}

			return next(ctx)
		}
	}
}

// RequireSession rejects requests that did not resolve a session. Mount it
// after WithSession.
func (e *Engine) RequireSession() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if _, ok := FromContext(ctx.Context()); !ok {
				err := goerrors.New("authentication required", goerrors.CategoryAuth).
					WithTextCode("authentication_required").
					WithCode(goerrors.CodeUnauthorized)
				return ctx.JSON(goerrors.CodeUnauthorized, map[string]any{
					"error": map[string]any{
						"message":   err.Message,
						"text_code": err.TextCode,
					},
				})
			}
			return next(ctx)
		}
	}
}

// routeKey normalizes the request into a limiter route: method plus path,
// query string stripped.
func routeKey(ctx router.Context) string {
	path := ctx.OriginalURL()
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return ctx.Method() + " " + path
}
