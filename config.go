package identity

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-identity/ratelimit"
)

// SessionConfig tunes issuance, refresh, and freshness semantics.
type SessionConfig struct {
	// CookieName carries the opaque session token.
	CookieName string
	// ExpiresIn is the session lifetime applied at creation and refresh.
	ExpiresIn time.Duration
	// UpdateAge is the sliding-expiration threshold: a resolve that finds a
	// session untouched for longer than this extends its expiry.
	UpdateAge time.Duration
	// FreshAge bounds the "fresh" window used to gate sensitive operations.
	// Zero disables the gate: every session counts as fresh.
	FreshAge time.Duration
	// DisableRefresh turns off sliding expiration engine-wide. Individual
	// requests can also opt out with the disableRefresh flag.
	DisableRefresh bool
	// TokenLength is the byte length of generated session tokens before
	// encoding.
	TokenLength int
	// PreserveSessionInDatabase keeps the database copy when a session is
	// revoked from secondary storage.
	PreserveSessionInDatabase bool
}

// CookieCacheConfig tunes the signed client-held session snapshot.
type CookieCacheConfig struct {
	Enabled    bool
	CookieName string
	// MaxAge bounds the snapshot independently of the session expiry;
	// typically much shorter.
	MaxAge time.Duration
}

// CookieConfig holds attributes applied to every cookie the engine writes.
type CookieConfig struct {
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite string
}

// LinkingConfig tunes the account-linking policy.
type LinkingConfig struct {
	Enabled bool
	// AllowDifferentEmails permits manual links whose provider email differs
	// from the user's email.
	AllowDifferentEmails bool
	// TrustedProviders bypass both the manual-link email check and the
	// verified-email requirement for sign-in auto-linking.
	TrustedProviders []string
	// UseHashIDs derives new user IDs deterministically from the email.
	UseHashIDs bool
}

// Config is the engine configuration, materialized and validated once at
// construction. Every toggle has an explicit default.
type Config struct {
	// Secret signs the cookie cache entries.
	Secret string

	Session     SessionConfig
	CookieCache CookieCacheConfig
	Cookies     CookieConfig
	Linking     LinkingConfig
	RateLimit   ratelimit.Config

	// TrustedOrigins are allowed values for the Origin header on mutating
	// requests. Empty disables the check.
	TrustedOrigins []string

	// ClientIPHeaders is the precedence list consulted to resolve the client
	// IP for rate-limit keys and session metadata.
	ClientIPHeaders []string
}

const (
	defaultSessionCookie = "identity.session_token"
	defaultCacheCookie   = "identity.session_data"
)

func (c *Config) setDefaults() {
	if c.Session.CookieName == "" {
		c.Session.CookieName = defaultSessionCookie
	}
	if c.Session.ExpiresIn == 0 {
		c.Session.ExpiresIn = 7 * 24 * time.Hour
	}
	if c.Session.UpdateAge == 0 {
		c.Session.UpdateAge = 24 * time.Hour
	}
	if c.Session.TokenLength == 0 {
		c.Session.TokenLength = 32
	}
	if c.CookieCache.CookieName == "" {
		c.CookieCache.CookieName = defaultCacheCookie
	}
	if c.CookieCache.MaxAge == 0 {
		c.CookieCache.MaxAge = 5 * time.Minute
	}
	if c.Cookies.Path == "" {
		c.Cookies.Path = "/"
	}
	if c.Cookies.SameSite == "" {
		c.Cookies.SameSite = "Lax"
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = 10 * time.Second
	}
	if c.RateLimit.Max == 0 {
		c.RateLimit.Max = 100
	}
	if len(c.ClientIPHeaders) == 0 {
		c.ClientIPHeaders = []string{"X-Forwarded-For", "X-Real-IP"}
	}
}

// Validate enforces the invariants the engine assumes after defaults are
// applied.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(
			&c.Secret,
			validation.Required,
			validation.Length(32, 0),
		),
		validation.Field(
			&c.Session,
			validation.By(validateSessionConfig),
		),
		validation.Field(
			&c.CookieCache,
			validation.By(validateCookieCacheConfig),
		),
	)
}

func validateSessionConfig(value any) error {
	cfg, ok := value.(SessionConfig)
	if !ok {
		return fmt.Errorf("unexpected session config type %T", value)
	}
	if cfg.ExpiresIn <= 0 {
		return fmt.Errorf("session expiresIn must be positive")
	}
	if cfg.UpdateAge < 0 {
		return fmt.Errorf("session updateAge must not be negative")
	}
	if cfg.FreshAge < 0 {
		return fmt.Errorf("session freshAge must not be negative")
	}
	if cfg.UpdateAge >= cfg.ExpiresIn {
		return fmt.Errorf("session updateAge must be shorter than expiresIn")
	}
	return nil
}

func validateCookieCacheConfig(value any) error {
	cfg, ok := value.(CookieCacheConfig)
	if !ok {
		return fmt.Errorf("unexpected cookie cache config type %T", value)
	}
	if cfg.MaxAge < 0 {
		return fmt.Errorf("cookie cache maxAge must not be negative")
	}
	return nil
}

func (c Config) trustedProvider(providerID string) bool {
	for _, trusted := range c.Linking.TrustedProviders {
		if trusted == providerID {
			return true
		}
	}
	return false
}

func (c Config) trustedOrigin(origin string) bool {
	if len(c.TrustedOrigins) == 0 {
		return true
	}
	for _, trusted := range c.TrustedOrigins {
		if trusted == origin {
			return true
		}
	}
	return false
}
