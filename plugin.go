package identity

import "context"

// Plugin extends the engine at construction time: registering hooks, shaping
// session payloads, or mounting extra endpoints.
type Plugin interface {
	// ID identifies the plugin in logs and duplicate checks.
	ID() string
	// Register is called once during engine construction, before any request
	// is served.
	Register(e *Engine) error
}

// SessionShaper transforms the resolved session state into a plugin-specific
// response payload.
type SessionShaper func(ctx context.Context, state *SessionState) (any, error)

// SessionEndpoint is a plugin-declared GET endpoint that requires a valid
// session and returns a shaped view of it.
type SessionEndpoint struct {
	// Path is relative to the engine mount point, e.g. "/my-plugin/session".
	Path string
	// Shape produces the response body from the resolved state.
	Shape SessionShaper
}
