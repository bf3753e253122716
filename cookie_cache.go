package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// ErrInvalidCookieSignature marks a cache entry that failed signature or
// expiry checks. Resolution treats it as a cache miss, never a hard failure.
var ErrInvalidCookieSignature = errors.New("invalid cookie cache signature", errors.CategoryAuth).
	WithTextCode("invalid_cookie_signature").
	WithCode(errors.CodeUnauthorized)

// cookieCacheClaims is the signed client-held snapshot of {user, session}.
// The registered expiry bounds the snapshot independently of the session.
type cookieCacheClaims struct {
	jwt.RegisteredClaims
	User    *User    `json:"usr"`
	Session *Session `json:"ses"`
}

// CookieCache signs and verifies the client-held session snapshot. Entries
// are HMAC-signed (HS256) with the engine secret and carry their own expiry;
// they are re-derivable from storage at any time and never authoritative.
type CookieCache struct {
	secret []byte
	maxAge time.Duration
	logger Logger
	now    func() time.Time
}

// NewCookieCache creates a cache codec with the given signing secret and
// entry max-age.
func NewCookieCache(secret []byte, maxAge time.Duration, logger Logger) *CookieCache {
	if logger == nil {
		logger = defLogger{}
	}
	return &CookieCache{
		secret: secret,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// MaxAge returns the lifetime applied to encoded entries.
func (c *CookieCache) MaxAge() time.Duration {
	return c.maxAge
}

// Encode signs a snapshot of the state with an embedded expiry.
func (c *CookieCache) Encode(state *SessionState) (string, error) {
	if state == nil || state.Session == nil {
		return "", errors.New("cannot cache empty session state", errors.CategoryInternal)
	}

	now := c.now()
	claims := &cookieCacheClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   state.Session.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.maxAge)),
		},
		User:    state.User,
		Session: state.Session,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign cookie cache entry")
	}

	return signed, nil
}

// Decode verifies signature and expiry and returns the cached snapshot. Any
// failure yields ErrInvalidCookieSignature; callers fall through to storage.
func (c *CookieCache) Decode(value string) (*SessionState, error) {
	if value == "" {
		return nil, ErrInvalidCookieSignature
	}

	token, err := jwt.ParseWithClaims(value, &cookieCacheClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidCookieSignature
	}

	claims, ok := token.Claims.(*cookieCacheClaims)
	if !ok || !token.Valid || claims.Session == nil || claims.User == nil {
		return nil, ErrInvalidCookieSignature
	}

	// The snapshot may outlive the session it mirrors; respect the shorter.
	if claims.Session.Expired(c.now()) {
		return nil, ErrInvalidCookieSignature
	}

	return &SessionState{User: claims.User, Session: claims.Session}, nil
}
