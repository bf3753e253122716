package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-identity/hook"
	"github.com/google/uuid"
)

// Logger is the logging surface the engine writes to
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Filter selects records by column values, e.g. {"token": "..."} or
// {"provider_id": "google", "provider_account_id": "123"}.
type Filter map[string]any

// Adapter is the generic CRUD contract the engine requires from storage.
// The engine passes already-hooked payloads; the adapter owns uniqueness
// and index enforcement for fields declared unique (e.g. user email).
//
// FindOne returns (nil, nil) when no record matches.
type Adapter interface {
	hook.Writer

	FindOne(ctx context.Context, model hook.Model, filter Filter) (any, error)
	FindMany(ctx context.Context, model hook.Model, filter Filter) ([]any, error)
	Delete(ctx context.Context, model hook.Model, id uuid.UUID) error
}

// AccountUnlinker is implemented by adapters that can perform the
// count-then-delete of an account as a single atomic unit. Adapters that do
// not implement it fall back to a per-user lock inside the engine.
type AccountUnlinker interface {
	// DeleteAccountGuarded removes the account only if the user holds more
	// than one. It returns ErrLastAccountUnlink when the account is the
	// user's last, and ErrAccountNotFound when no such account exists.
	DeleteAccountGuarded(ctx context.Context, userID, accountID uuid.UUID) error
}

// SecondaryStorage is an optional key/value store used preferentially for
// session reads when configured. Get returns (nil, nil) for missing keys.
type SecondaryStorage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// TokenGenerator mints opaque unguessable tokens
type TokenGenerator interface {
	GenerateToken(length int) (string, error)
}

// Hasher hashes and verifies credential secrets
type Hasher interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// ProviderClaims are the verified claims an identity provider client returns
// after exchanging an authorization code. The engine never speaks the wire
// protocol itself.
type ProviderClaims struct {
	ProviderID    string `json:"provider_id"`
	Subject       string `json:"subject"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	AccessToken   string `json:"-"`
	RefreshToken  string `json:"-"`
	IDToken       string `json:"-"`
}

// ProviderClient exchanges an authorization code and state for verified
// claims. Implementations own the wire protocol and its timeout discipline.
type ProviderClient interface {
	Exchange(ctx context.Context, code, state string) (*ProviderClaims, error)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
