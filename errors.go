package identity

import (
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity/hook"
)

// Stable machine-readable codes surfaced to callers alongside messages.
const (
	TextCodeSessionNotFresh  = "session_not_fresh"
	TextCodeLinkingDisabled  = "account_linking_disabled"
	TextCodeIdentityMismatch = "identity_mismatch"
	TextCodeLastAccount      = "last_account_unlink_rejected"
	TextCodeAccountNotFound  = "account_not_found"
	TextCodeProviderUnknown  = "provider_unknown"
	TextCodeInvalidCreds     = "invalid_credentials"
	TextCodeTokenInvalid     = "verification_token_invalid"
)

// ErrSessionNotFresh gates sensitive operations: the session is valid but
// older than the configured fresh age, so the caller must re-authenticate.
var ErrSessionNotFresh = errors.New("session requires re-authentication", errors.CategoryAuth).
	WithTextCode(TextCodeSessionNotFresh).
	WithCode(errors.CodeForbidden)

// ErrLinkingDisabled is returned when account linking is switched off.
var ErrLinkingDisabled = errors.New("account linking is disabled", errors.CategoryAuth).
	WithTextCode(TextCodeLinkingDisabled).
	WithCode(errors.CodeForbidden)

// ErrIdentityMismatch is returned when the provider email differs from the
// current user's email and neither the different-email override nor provider
// trust applies.
var ErrIdentityMismatch = errors.New("provider email does not match account email", errors.CategoryValidation).
	WithTextCode(TextCodeIdentityMismatch).
	WithCode(errors.CodeConflict)

// ErrLastAccountUnlink is returned when unlinking would leave the user with
// zero accounts. The account is left untouched.
var ErrLastAccountUnlink = errors.New("cannot unlink last account", errors.CategoryValidation).
	WithTextCode(TextCodeLastAccount).
	WithCode(errors.CodeBadRequest)

// ErrAccountNotFound is returned when an unlink or token update names an
// account the user does not hold.
var ErrAccountNotFound = errors.New("account not found", errors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(errors.CodeNotFound)

// ErrProviderUnknown is returned when a sign-in names a provider with no
// configured client.
var ErrProviderUnknown = errors.New("identity provider not configured", errors.CategoryNotFound).
	WithTextCode(TextCodeProviderUnknown).
	WithCode(errors.CodeNotFound)

// ErrInvalidCredentials is returned on a failed credential sign-in. The
// message does not reveal whether the user exists.
var ErrInvalidCredentials = errors.New("invalid email or password", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(errors.CodeUnauthorized)

// ErrVerificationInvalid is returned when a verification token is missing,
// expired, or already consumed.
var ErrVerificationInvalid = errors.New("verification token is invalid or expired", errors.CategoryBadInput).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(errors.CodeBadRequest)

// ErrHookAborted is the declined-mutation outcome propagated from the hook
// pipeline. Re-exported so callers match on one package.
var ErrHookAborted = hook.ErrAborted

// IsSessionNotFresh reports whether err is the freshness gate.
func IsSessionNotFresh(err error) bool {
	return hasTextCode(err, TextCodeSessionNotFresh)
}

// IsLastAccountUnlink reports whether err is the last-account guard.
func IsLastAccountUnlink(err error) bool {
	return hasTextCode(err, TextCodeLastAccount)
}

// IsIdentityMismatch reports whether err is the email mismatch rejection.
func IsIdentityMismatch(err error) bool {
	return hasTextCode(err, TextCodeIdentityMismatch)
}

// IsHookAborted reports whether err is the declined-mutation outcome.
func IsHookAborted(err error) bool {
	return hook.IsAborted(err)
}

func hasTextCode(err error, code string) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}
