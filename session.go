package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity/hook"
	"github.com/google/uuid"
)

// SessionState is the resolved {user, session} pair handed to callers and
// plugins.
type SessionState struct {
	User    *User    `json:"user"`
	Session *Session `json:"session"`

	// Fresh reports whether the session age is within the configured fresh
	// window at resolution time.
	Fresh bool `json:"-"`
	// FromCache reports whether the state was served from the signed cookie
	// cache without a storage lookup.
	FromCache bool `json:"-"`
	// Refreshed reports whether this resolution extended the session expiry.
	Refreshed bool `json:"-"`
}

// ResolveOptions carries the request material for one session resolution.
type ResolveOptions struct {
	// Token is the opaque bearer token read from cookie or header.
	Token string
	// CacheValue is the raw signed cookie cache entry, when present.
	CacheValue string
	// DisableCookieCache skips the signed-cache fast path for this request.
	DisableCookieCache bool
	// DisableRefresh skips sliding expiration for this request.
	DisableRefresh bool
}

// SessionManager issues, resolves, refreshes, and revokes sessions. All
// writes flow through the hook pipeline; reads prefer secondary storage when
// one is configured.
type SessionManager struct {
	config    *Config
	adapter   Adapter
	pipeline  *hook.Pipeline
	secondary SecondaryStorage
	cache     *CookieCache
	tokens    TokenGenerator
	logger    Logger
	now       func() time.Time
}

// NewSessionManager wires the session manager. Secondary storage is optional.
func NewSessionManager(
	config *Config,
	adapter Adapter,
	pipeline *hook.Pipeline,
	cache *CookieCache,
	tokens TokenGenerator,
	secondary SecondaryStorage,
	logger Logger,
) *SessionManager {
	if logger == nil {
		logger = defLogger{}
	}
	if tokens == nil {
		tokens = NewTokenGenerator()
	}
	return &SessionManager{
		config:    config,
		adapter:   adapter,
		pipeline:  pipeline,
		secondary: secondary,
		cache:     cache,
		tokens:    tokens,
		logger:    logger,
		now:       time.Now,
	}
}

// Create issues a new session for the user. The token is minted fresh and
// never reused; the record is written through the hook pipeline and mirrored
// into secondary storage when configured.
func (m *SessionManager) Create(ctx context.Context, user *User, meta RequestMeta, data map[string]any) (*SessionState, error) {
	if user == nil {
		return nil, errors.New("cannot create session without a user", errors.CategoryInternal)
	}

	token, err := m.tokens.GenerateToken(m.config.Session.TokenLength)
	if err != nil {
		return nil, err
	}

	now := m.now()
	record := &Session{
		ID:        uuid.New(),
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: now.Add(m.config.Session.ExpiresIn),
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}

	committed, err := m.pipeline.Create(ctx, hook.ModelSession, record)
	if err != nil {
		return nil, err
	}

	session, ok := committed.(*Session)
	if !ok {
		return nil, errors.New("adapter returned unexpected session record", errors.CategoryInternal)
	}

	m.mirrorSecondary(ctx, session)

	return &SessionState{User: user, Session: session, Fresh: true, Refreshed: true}, nil
}

// Resolve implements the read path: signed cookie cache first, then
// authoritative storage, then sliding expiration. Absence of a session is
// never an error: missing, expired, revoked, and malformed inputs all
// resolve to (nil, nil).
func (m *SessionManager) Resolve(ctx context.Context, opts ResolveOptions) (*SessionState, error) {
	if cached := m.resolveFromCache(opts); cached != nil {
		return cached, nil
	}

	if opts.Token == "" {
		return nil, nil
	}

	session := m.lookupSession(ctx, opts.Token)
	if session == nil {
		return nil, nil
	}

	now := m.now()
	if session.Expired(now) {
		return nil, nil
	}

	session = m.maybeRefresh(ctx, session, opts)

	user := m.lookupUser(ctx, session.UserID)
	if user == nil {
		return nil, nil
	}

	state := &SessionState{
		User:      user,
		Session:   session,
		Fresh:     m.isFresh(session, now),
		Refreshed: session.Refreshed(),
	}

	return state, nil
}

// RequireFresh gates sensitive operations: it returns ErrSessionNotFresh when
// the session is older than the configured fresh window.
func (m *SessionManager) RequireFresh(state *SessionState) error {
	if state == nil || state.Session == nil {
		return ErrSessionNotFresh
	}
	if !m.isFresh(state.Session, m.now()) {
		return ErrSessionNotFresh
	}
	return nil
}

// Revoke invalidates the session behind token. With secondary storage
// configured the snapshot is always removed; the database copy is kept when
// PreserveSessionInDatabase is set. Revoked tokens are never reused.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	if m.secondary != nil {
		if err := m.secondary.Delete(ctx, secondaryKey(token)); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to revoke session snapshot")
		}
		if m.config.Session.PreserveSessionInDatabase {
			return nil
		}
	}

	raw, err := m.adapter.FindOne(ctx, hook.ModelSession, Filter{"token": token})
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to look up session for revocation")
	}
	if raw == nil {
		return nil
	}

	session, ok := raw.(*Session)
	if !ok {
		return errors.New("adapter returned unexpected session record", errors.CategoryInternal)
	}

	return m.adapter.Delete(ctx, hook.ModelSession, session.ID)
}

// CacheEntry signs a snapshot for the client cookie. Returns the empty
// string when the cookie cache is disabled.
func (m *SessionManager) CacheEntry(state *SessionState) string {
	if !m.config.CookieCache.Enabled || state == nil {
		return ""
	}
	entry, err := m.cache.Encode(state)
	if err != nil {
		m.logger.Error("failed to encode cookie cache entry", "error", err)
		return ""
	}
	return entry
}

func (m *SessionManager) resolveFromCache(opts ResolveOptions) *SessionState {
	if !m.config.CookieCache.Enabled || opts.DisableCookieCache || opts.CacheValue == "" {
		return nil
	}

	state, err := m.cache.Decode(opts.CacheValue)
	if err != nil {
		// Tampered or stale cache entries degrade to a storage lookup.
		m.logger.Debug("cookie cache miss", "error", err)
		return nil
	}

	state.Fresh = m.isFresh(state.Session, m.now())
	state.FromCache = true
	return state
}

// lookupSession prefers secondary storage when configured; the snapshot
// store is authoritative for reads, so a miss there is a miss outright.
func (m *SessionManager) lookupSession(ctx context.Context, token string) *Session {
	if m.secondary != nil {
		raw, err := m.secondary.Get(ctx, secondaryKey(token))
		if err != nil {
			m.logger.Error("secondary storage read failed", "error", err)
			return nil
		}
		if raw == nil {
			return nil
		}
		session := &Session{}
		if err := json.Unmarshal(raw, session); err != nil {
			m.logger.Error("corrupt session snapshot", "error", err)
			return nil
		}
		// The token never serializes; the lookup key carries it.
		session.Token = token
		return session
	}

	raw, err := m.adapter.FindOne(ctx, hook.ModelSession, Filter{"token": token})
	if err != nil {
		m.logger.Error("session lookup failed", "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}

	session, ok := raw.(*Session)
	if !ok {
		m.logger.Error("adapter returned unexpected session record")
		return nil
	}
	return session
}

// maybeRefresh applies sliding expiration. The new expiry is computed from
// wall-clock time and only ever moves forward, so concurrent refreshes for
// the same token cannot shrink the session.
func (m *SessionManager) maybeRefresh(ctx context.Context, session *Session, opts ResolveOptions) *Session {
	if opts.DisableRefresh || m.config.Session.DisableRefresh {
		return session
	}

	now := m.now()
	if now.Sub(session.UpdatedAt) <= m.config.Session.UpdateAge {
		return session
	}

	newExpiry := now.Add(m.config.Session.ExpiresIn)
	if !newExpiry.After(session.ExpiresAt) {
		return session
	}

	committed, err := m.pipeline.Update(ctx, hook.ModelSession, session.ID, map[string]any{
		"expires_at": newExpiry,
		"updated_at": now,
	})
	if err != nil {
		// A declined or failed refresh leaves the session usable as-is.
		m.logger.Warn("session refresh failed", "error", err)
		return session
	}

	refreshed, ok := committed.(*Session)
	if !ok {
		m.logger.Error("adapter returned unexpected session record")
		return session
	}

	refreshed.markRefreshed()
	m.mirrorSecondary(ctx, refreshed)
	return refreshed
}

func (m *SessionManager) lookupUser(ctx context.Context, id uuid.UUID) *User {
	raw, err := m.adapter.FindOne(ctx, hook.ModelUser, Filter{"id": id})
	if err != nil {
		m.logger.Error("user lookup failed", "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}
	user, ok := raw.(*User)
	if !ok {
		m.logger.Error("adapter returned unexpected user record")
		return nil
	}
	return user
}

func (m *SessionManager) isFresh(session *Session, now time.Time) bool {
	if m.config.Session.FreshAge == 0 {
		return true
	}
	return session.Age(now) < m.config.Session.FreshAge
}

func (m *SessionManager) mirrorSecondary(ctx context.Context, session *Session) {
	if m.secondary == nil {
		return
	}

	raw, err := json.Marshal(session)
	if err != nil {
		m.logger.Error("failed to marshal session snapshot", "error", err)
		return
	}

	ttl := session.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return
	}

	if err := m.secondary.Set(ctx, secondaryKey(session.Token), raw, ttl); err != nil {
		m.logger.Error("failed to mirror session snapshot", "error", err)
	}
}

func secondaryKey(token string) string {
	return "session:" + token
}
