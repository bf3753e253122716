package identity_test

import (
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testState(expiresIn time.Duration) *identity.SessionState {
	now := time.Now()
	user := &identity.User{ID: uuid.New(), Email: "tess@example.com"}
	return &identity.SessionState{
		User: user,
		Session: &identity.Session{
			ID:        uuid.New(),
			Token:     "opaque-token",
			UserID:    user.ID,
			ExpiresAt: now.Add(expiresIn),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func TestCookieCacheRoundTrip(t *testing.T) {
	cache := identity.NewCookieCache([]byte(strings.Repeat("k", 32)), 5*time.Minute, nil)

	state := testState(time.Hour)
	entry, err := cache.Encode(state)
	require.NoError(t, err)
	require.NotEmpty(t, entry)

	decoded, err := cache.Decode(entry)
	require.NoError(t, err)
	assert.Equal(t, state.User.ID, decoded.User.ID)
	assert.Equal(t, state.Session.ID, decoded.Session.ID)
}

func TestCookieCacheRejectsWrongSecret(t *testing.T) {
	signer := identity.NewCookieCache([]byte(strings.Repeat("a", 32)), 5*time.Minute, nil)
	verifier := identity.NewCookieCache([]byte(strings.Repeat("b", 32)), 5*time.Minute, nil)

	entry, err := signer.Encode(testState(time.Hour))
	require.NoError(t, err)

	_, err = verifier.Decode(entry)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrInvalidCookieSignature)
}

func TestCookieCacheRejectsTamperedEntry(t *testing.T) {
	cache := identity.NewCookieCache([]byte(strings.Repeat("k", 32)), 5*time.Minute, nil)

	entry, err := cache.Encode(testState(time.Hour))
	require.NoError(t, err)

	_, err = cache.Decode(entry + "x")
	require.Error(t, err)

	_, err = cache.Decode("garbage")
	require.Error(t, err)

	_, err = cache.Decode("")
	require.Error(t, err)
}

func TestCookieCacheRejectsExpiredSession(t *testing.T) {
	cache := identity.NewCookieCache([]byte(strings.Repeat("k", 32)), 5*time.Minute, nil)

	// The snapshot signature is valid but the session it mirrors is over.
	entry, err := cache.Encode(testState(-time.Minute))
	require.NoError(t, err)

	_, err = cache.Decode(entry)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrInvalidCookieSignature)
}

func TestCookieCacheRejectsEmptyState(t *testing.T) {
	cache := identity.NewCookieCache([]byte(strings.Repeat("k", 32)), 5*time.Minute, nil)

	_, err := cache.Encode(nil)
	require.Error(t, err)

	_, err = cache.Encode(&identity.SessionState{})
	require.Error(t, err)
}
