package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProviderCredential is the providerId of locally stored email/password
// credentials. Credential accounts carry a password hash instead of
// provider tokens.
const ProviderCredential = "credential"

// User is the identity anchor. Sessions and accounts reference users and
// never outlive them.
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email          string         `bun:"email,notnull,unique" json:"email,omitempty"`
	EmailVerified  bool           `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	Name           string         `bun:"name" json:"name,omitempty"`
	Username       string         `bun:"username" json:"username,omitempty"`
	ProfilePicture string         `bun:"profile_picture" json:"profile_picture,omitempty"`
	Metadata       map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// AddMetadata will append information to a metadata attribute
func (u *User) AddMetadata(key string, val any) *User {
	if u.Metadata == nil {
		u.Metadata = make(map[string]any)
	}
	u.Metadata[key] = val
	return u
}

// Session is a time-bounded proof of authentication bound to one user. The
// opaque token is the sole lookup key for both cache and storage; token
// values never repeat across currently valid sessions.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Token         string         `bun:"token,notnull,unique" json:"-"`
	UserID        uuid.UUID      `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	ExpiresAt     time.Time      `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	IPAddress     string         `bun:"ip_address" json:"ip_address,omitempty"`
	UserAgent     string         `bun:"user_agent" json:"user_agent,omitempty"`
	Data          map[string]any `bun:"data" json:"data,omitempty"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`

	refreshed bool `bun:"-" json:"-"`
}

// Refreshed reports whether this instance had its expiry extended during the
// current resolution.
func (s *Session) Refreshed() bool {
	return s.refreshed
}

func (s *Session) markRefreshed() {
	s.refreshed = true
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Age returns the time elapsed since the session was created.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Account binds a user to one authentication method: either locally stored
// credentials or an external identity provider subject.
type Account struct {
	bun.BaseModel        `bun:"table:accounts,alias:acc"`
	ID                   uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID               uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	ProviderID           string     `bun:"provider_id,notnull" json:"provider_id,omitempty"`
	ProviderAccountID    string     `bun:"provider_account_id,notnull" json:"provider_account_id,omitempty"`
	PasswordHash         string     `bun:"password_hash" json:"-"`
	AccessToken          string     `bun:"access_token" json:"-"`
	RefreshToken         string     `bun:"refresh_token" json:"-"`
	IDToken              string     `bun:"id_token" json:"-"`
	AccessTokenExpiresAt *time.Time `bun:"access_token_expires_at" json:"access_token_expires_at,omitempty"`
	CreatedAt            time.Time  `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt            time.Time  `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Verification is a one-time token record used for email verification and
// similar flows. Consumed once and then invalid.
type Verification struct {
	bun.BaseModel `bun:"table:verifications,alias:vrf"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Identifier    string    `bun:"identifier,notnull" json:"identifier,omitempty"`
	Value         string    `bun:"value,notnull" json:"-"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	CreatedAt     time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}
