package identity

import (
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity/hook"
	"github.com/goliatone/go-identity/ratelimit"
)

// Engine is the composition root: it validates configuration once, wires the
// hook pipeline in front of the adapter, and exposes the session, linking,
// and verification services plus the HTTP surface.
type Engine struct {
	config  *Config
	adapter Adapter
	logger  Logger

	registry *hook.Registry
	pipeline *hook.Pipeline

	sessions *SessionManager
	linker   *Linker
	verifier *Verifier
	limiter  *ratelimit.Limiter
	cache    *CookieCache

	secondary SecondaryStorage
	hasher    Hasher
	tokens    TokenGenerator
	rateStore ratelimit.CounterStore
	providers map[string]ProviderClient
	plugins   []Plugin
	endpoints []SessionEndpoint
	now       func() time.Time
}

// Option configures the engine at construction time.
type Option func(*Engine)

// WithLogger sets the logger used across the engine.
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSecondaryStorage makes session reads prefer the given store.
func WithSecondaryStorage(storage SecondaryStorage) Option {
	return func(e *Engine) {
		e.secondary = storage
	}
}

// WithHasher overrides the credential hasher.
func WithHasher(hasher Hasher) Option {
	return func(e *Engine) {
		if hasher != nil {
			e.hasher = hasher
		}
	}
}

// WithTokenGenerator overrides the opaque token source.
func WithTokenGenerator(tokens TokenGenerator) Option {
	return func(e *Engine) {
		if tokens != nil {
			e.tokens = tokens
		}
	}
}

// WithRateLimitStore backs the limiter with a shared counter store, e.g.
// redis or the database, instead of in-process memory.
func WithRateLimitStore(store ratelimit.CounterStore) Option {
	return func(e *Engine) {
		e.rateStore = store
	}
}

// WithProviderClient registers an identity provider client under its
// providerId, e.g. "google".
func WithProviderClient(providerID string, client ProviderClient) Option {
	return func(e *Engine) {
		if providerID != "" && client != nil {
			e.providers[providerID] = client
		}
	}
}

// WithPlugin queues a plugin for registration during construction.
func WithPlugin(plugin Plugin) Option {
	return func(e *Engine) {
		if plugin != nil {
			e.plugins = append(e.plugins, plugin)
		}
	}
}

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New validates the configuration, applies defaults, and wires the engine.
// The adapter is required; everything else has a default.
func New(config *Config, adapter Adapter, opts ...Option) (*Engine, error) {
	if config == nil {
		return nil, errors.New("config is required", errors.CategoryBadInput)
	}
	if adapter == nil {
		return nil, errors.New("storage adapter is required", errors.CategoryBadInput)
	}

	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "invalid engine configuration")
	}

	e := &Engine{
		config:    config,
		adapter:   adapter,
		logger:    defLogger{},
		hasher:    BcryptHasher{},
		tokens:    NewTokenGenerator(),
		providers: map[string]ProviderClient{},
		now:       time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	e.registry = hook.NewRegistry()
	e.pipeline = hook.NewPipeline(e.registry, adapter, e.logger)

	e.cache = NewCookieCache([]byte(config.Secret), config.CookieCache.MaxAge, e.logger)
	e.cache.now = e.now

	e.sessions = NewSessionManager(config, adapter, e.pipeline, e.cache, e.tokens, e.secondary, e.logger)
	e.sessions.now = e.now

	e.linker = NewLinker(config, adapter, e.pipeline, e.hasher, e.logger)
	e.linker.now = e.now

	e.verifier = NewVerifier(adapter, e.pipeline, e.tokens, e.logger)
	e.verifier.now = e.now

	e.limiter = ratelimit.New(config.RateLimit, e.rateStore, ratelimit.WithClock(e.now))

	for _, plugin := range e.plugins {
		if err := plugin.Register(e); err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "plugin registration failed").
				WithMetadata(map[string]any{"plugin": plugin.ID()})
		}
	}

	return e, nil
}

// Sessions returns the session service.
func (e *Engine) Sessions() *SessionManager {
	return e.sessions
}

// Accounts returns the account linking service.
func (e *Engine) Accounts() *Linker {
	return e.linker
}

// Verifications returns the one-time token service.
func (e *Engine) Verifications() *Verifier {
	return e.verifier
}

// Hooks returns the interceptor registry.
func (e *Engine) Hooks() *hook.Registry {
	return e.registry
}

// Limiter returns the request throttle.
func (e *Engine) Limiter() *ratelimit.Limiter {
	return e.limiter
}

// Config returns the validated engine configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// RegisterBefore adds a before interceptor for the model and operation.
func (e *Engine) RegisterBefore(m hook.Model, op hook.Operation, fn hook.Before) {
	e.registry.RegisterBefore(m, op, fn)
}

// RegisterAfter adds an after interceptor for the model and operation.
func (e *Engine) RegisterAfter(m hook.Model, op hook.Operation, fn hook.After) {
	e.registry.RegisterAfter(m, op, fn)
}

// OnSessionCreate registers an after interceptor for session creation. The
// callback receives the committed record.
func (e *Engine) OnSessionCreate(fn hook.After) {
	e.registry.RegisterAfter(hook.ModelSession, hook.OpCreate, fn)
}

// OnSessionUpdate registers an after interceptor for session updates, such as
// sliding refreshes.
func (e *Engine) OnSessionUpdate(fn hook.After) {
	e.registry.RegisterAfter(hook.ModelSession, hook.OpUpdate, fn)
}

// RegisterSessionEndpoint mounts a plugin-declared session view endpoint.
func (e *Engine) RegisterSessionEndpoint(endpoint SessionEndpoint) {
	if endpoint.Path == "" || endpoint.Shape == nil {
		return
	}
	e.endpoints = append(e.endpoints, endpoint)
}

// Provider returns the registered client for providerID.
func (e *Engine) Provider(providerID string) (ProviderClient, error) {
	client, ok := e.providers[providerID]
	if !ok {
		return nil, ErrProviderUnknown.WithMetadata(map[string]any{"provider": providerID})
	}
	return client, nil
}
