package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity/hook"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// LinkRequest describes one authentication method to attach to a user.
type LinkRequest struct {
	ProviderID        string `json:"provider_id"`
	ProviderAccountID string `json:"provider_account_id"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	// Password is only honored for the credential provider.
	Password             string     `json:"password,omitempty"`
	AccessToken          string     `json:"-"`
	RefreshToken         string     `json:"-"`
	IDToken              string     `json:"-"`
	AccessTokenExpiresAt *time.Time `json:"-"`
}

// Linker manages the user/account relationship: explicit linking and
// unlinking for signed-in users, and automatic resolution at sign-in time.
// Every mutation flows through the hook pipeline.
type Linker struct {
	config   *Config
	adapter  Adapter
	pipeline *hook.Pipeline
	hasher   Hasher
	logger   Logger
	now      func() time.Time

	// Per-user locks back the unlink guard when the adapter cannot do the
	// count-and-delete atomically itself.
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewLinker wires the account linker.
func NewLinker(config *Config, adapter Adapter, pipeline *hook.Pipeline, hasher Hasher, logger Logger) *Linker {
	if logger == nil {
		logger = defLogger{}
	}
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &Linker{
		config:   config,
		adapter:  adapter,
		pipeline: pipeline,
		hasher:   hasher,
		logger:   logger,
		now:      time.Now,
		locks:    map[uuid.UUID]*sync.Mutex{},
	}
}

// LinkAccount attaches an authentication method to an existing signed-in
// user. Re-linking the same provider subject updates stored tokens in place.
func (l *Linker) LinkAccount(ctx context.Context, user *User, req LinkRequest) (*Account, error) {
	if !l.config.Linking.Enabled {
		return nil, ErrLinkingDisabled
	}
	if user == nil {
		return nil, errors.New("cannot link account without a user", errors.CategoryInternal)
	}
	if req.ProviderID == "" {
		return nil, errors.New("provider id is required", errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest)
	}

	if err := l.checkEmailOwnership(user, req); err != nil {
		return nil, err
	}

	existing, err := l.findAccount(ctx, req.ProviderID, req.ProviderAccountID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if existing.UserID != user.ID {
			// The provider subject already belongs to someone else.
			return nil, ErrIdentityMismatch
		}
		return l.updateAccountTokens(ctx, existing, req)
	}

	return l.createAccount(ctx, user.ID, req)
}

// UnlinkAccount detaches an authentication method from a user. The last
// remaining account can never be removed; the count-and-delete is atomic so
// concurrent unlinks of a two-account user cannot both succeed.
func (l *Linker) UnlinkAccount(ctx context.Context, user *User, providerID string, providerAccountID string) error {
	if user == nil {
		return ErrAccountNotFound
	}

	var account *Account
	var err error
	if providerAccountID == "" {
		// Single account per provider is the common case; allow unlinking by
		// provider alone.
		account, err = l.findAccountForUser(ctx, user.ID, providerID)
	} else {
		account, err = l.findAccount(ctx, providerID, providerAccountID)
	}
	if err != nil {
		return err
	}
	if account == nil || account.UserID != user.ID {
		return ErrAccountNotFound
	}

	if guarded, ok := l.adapter.(AccountUnlinker); ok {
		return guarded.DeleteAccountGuarded(ctx, user.ID, account.ID)
	}

	lock := l.userLock(user.ID)
	lock.Lock()
	defer lock.Unlock()

	accounts, err := l.adapter.FindMany(ctx, hook.ModelAccount, Filter{"user_id": user.ID})
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to count linked accounts")
	}
	if len(accounts) <= 1 {
		return ErrLastAccountUnlink
	}

	return l.adapter.Delete(ctx, hook.ModelAccount, account.ID)
}

// Accounts lists the authentication methods linked to a user.
func (l *Linker) Accounts(ctx context.Context, userID uuid.UUID) ([]*Account, error) {
	raws, err := l.adapter.FindMany(ctx, hook.ModelAccount, Filter{"user_id": userID})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list linked accounts")
	}

	accounts := make([]*Account, 0, len(raws))
	for _, raw := range raws {
		account, ok := raw.(*Account)
		if !ok {
			return nil, errors.New("adapter returned unexpected account record", errors.CategoryInternal)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// AutoLinkOnSignIn resolves provider claims to a user at sign-in time,
// creating or attaching records as policy allows. Returns the resolved user
// and whether it was created by this call.
//
// Resolution order: existing provider account, then email match against a
// trusted provider or verified email, then a brand-new user. An unverified
// email from an untrusted provider never attaches to an existing user.
func (l *Linker) AutoLinkOnSignIn(ctx context.Context, claims *ProviderClaims) (*User, bool, error) {
	if claims == nil || claims.ProviderID == "" || claims.Subject == "" {
		return nil, false, errors.New("incomplete provider claims", errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest)
	}

	account, err := l.findAccount(ctx, claims.ProviderID, claims.Subject)
	if err != nil {
		return nil, false, err
	}

	if account != nil {
		user, err := l.findUser(ctx, Filter{"id": account.UserID})
		if err != nil {
			return nil, false, err
		}
		if user == nil {
			return nil, false, errors.New("linked account has no user", errors.CategoryInternal)
		}
		if _, err := l.updateAccountTokens(ctx, account, linkRequestFromClaims(claims)); err != nil {
			return nil, false, err
		}
		return user, false, nil
	}

	if claims.Email != "" {
		user, err := l.findUser(ctx, Filter{"email": claims.Email})
		if err != nil {
			return nil, false, err
		}
		if user != nil && l.canAutoAttach(claims) {
			if _, err := l.createAccount(ctx, user.ID, linkRequestFromClaims(claims)); err != nil {
				return nil, false, err
			}
			return user, false, nil
		}
		// Untrusted and unverified claims fall through to a fresh user so a
		// stranger cannot take over the address owner's account.
	}

	user, err := l.createUser(ctx, claims)
	if err != nil {
		return nil, false, err
	}

	if _, err := l.createAccount(ctx, user.ID, linkRequestFromClaims(claims)); err != nil {
		return nil, false, err
	}

	return user, true, nil
}

// VerifyCredentials checks an email/password pair against the stored
// credential account. Lookup failures and bad passwords are indistinguishable
// to the caller.
func (l *Linker) VerifyCredentials(ctx context.Context, email, password string) (*User, error) {
	user, err := l.findUser(ctx, Filter{"email": email})
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Burn a comparison anyway to keep timing uniform.
		_ = l.hasher.ComparePasswordAndHash(password, RandomPasswordHash())
		return nil, ErrInvalidCredentials
	}

	account, err := l.findAccountForUser(ctx, user.ID, ProviderCredential)
	if err != nil {
		return nil, err
	}
	if account == nil {
		_ = l.hasher.ComparePasswordAndHash(password, RandomPasswordHash())
		return nil, ErrInvalidCredentials
	}

	if err := l.hasher.ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

func (l *Linker) canAutoAttach(claims *ProviderClaims) bool {
	if l.config.trustedProvider(claims.ProviderID) {
		return true
	}
	return claims.EmailVerified
}

// checkEmailOwnership rejects explicit links where the incoming identity
// email differs from the session user's, unless configuration or provider
// trust allows it. Trusted providers bypass the mismatch outright; the
// verified-email requirement only gates sign-in auto-attachment.
func (l *Linker) checkEmailOwnership(user *User, req LinkRequest) error {
	if req.Email == "" || strings.EqualFold(req.Email, user.Email) {
		return nil
	}
	if l.config.Linking.AllowDifferentEmails {
		return nil
	}
	if l.config.trustedProvider(req.ProviderID) {
		return nil
	}
	return ErrIdentityMismatch
}

func (l *Linker) findAccount(ctx context.Context, providerID, providerAccountID string) (*Account, error) {
	raw, err := l.adapter.FindOne(ctx, hook.ModelAccount, Filter{
		"provider_id":         providerID,
		"provider_account_id": providerAccountID,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up account")
	}
	if raw == nil {
		return nil, nil
	}
	account, ok := raw.(*Account)
	if !ok {
		return nil, errors.New("adapter returned unexpected account record", errors.CategoryInternal)
	}
	return account, nil
}

func (l *Linker) findAccountForUser(ctx context.Context, userID uuid.UUID, providerID string) (*Account, error) {
	raw, err := l.adapter.FindOne(ctx, hook.ModelAccount, Filter{
		"user_id":     userID,
		"provider_id": providerID,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up account")
	}
	if raw == nil {
		return nil, nil
	}
	account, ok := raw.(*Account)
	if !ok {
		return nil, errors.New("adapter returned unexpected account record", errors.CategoryInternal)
	}
	return account, nil
}

func (l *Linker) findUser(ctx context.Context, filter Filter) (*User, error) {
	raw, err := l.adapter.FindOne(ctx, hook.ModelUser, filter)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up user")
	}
	if raw == nil {
		return nil, nil
	}
	user, ok := raw.(*User)
	if !ok {
		return nil, errors.New("adapter returned unexpected user record", errors.CategoryInternal)
	}
	return user, nil
}

func (l *Linker) createUser(ctx context.Context, claims *ProviderClaims) (*User, error) {
	now := l.now()
	user := &User{
		ID:             uuid.New(),
		Email:          claims.Email,
		EmailVerified:  claims.EmailVerified,
		Name:           claims.Name,
		Username:       usernameFromClaims(claims),
		ProfilePicture: claims.AvatarURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if l.config.Linking.UseHashIDs && claims.Email != "" {
		if id, err := hashid.NewUUID(claims.Email); err == nil {
			user.ID = id
		}
	}

	committed, err := l.pipeline.Create(ctx, hook.ModelUser, user)
	if err != nil {
		return nil, err
	}

	created, ok := committed.(*User)
	if !ok {
		return nil, errors.New("adapter returned unexpected user record", errors.CategoryInternal)
	}
	return created, nil
}

func (l *Linker) createAccount(ctx context.Context, userID uuid.UUID, req LinkRequest) (*Account, error) {
	now := l.now()
	account := &Account{
		ID:                   uuid.New(),
		UserID:               userID,
		ProviderID:           req.ProviderID,
		ProviderAccountID:    req.ProviderAccountID,
		AccessToken:          req.AccessToken,
		RefreshToken:         req.RefreshToken,
		IDToken:              req.IDToken,
		AccessTokenExpiresAt: req.AccessTokenExpiresAt,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if req.ProviderID == ProviderCredential {
		if req.Password == "" {
			return nil, errors.New("credential accounts require a password", errors.CategoryBadInput).
				WithCode(errors.CodeBadRequest)
		}
		hash, err := l.hasher.HashPassword(req.Password)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to hash password")
		}
		account.PasswordHash = hash
		if account.ProviderAccountID == "" {
			account.ProviderAccountID = userID.String()
		}
	}

	committed, err := l.pipeline.Create(ctx, hook.ModelAccount, account)
	if err != nil {
		return nil, err
	}

	created, ok := committed.(*Account)
	if !ok {
		return nil, errors.New("adapter returned unexpected account record", errors.CategoryInternal)
	}
	return created, nil
}

func (l *Linker) updateAccountTokens(ctx context.Context, account *Account, req LinkRequest) (*Account, error) {
	patch := map[string]any{
		"updated_at": l.now(),
	}
	if req.AccessToken != "" {
		patch["access_token"] = req.AccessToken
	}
	if req.RefreshToken != "" {
		patch["refresh_token"] = req.RefreshToken
	}
	if req.IDToken != "" {
		patch["id_token"] = req.IDToken
	}
	if req.AccessTokenExpiresAt != nil {
		patch["access_token_expires_at"] = req.AccessTokenExpiresAt
	}

	committed, err := l.pipeline.Update(ctx, hook.ModelAccount, account.ID, patch)
	if err != nil {
		return nil, err
	}

	updated, ok := committed.(*Account)
	if !ok {
		return nil, errors.New("adapter returned unexpected account record", errors.CategoryInternal)
	}
	return updated, nil
}

func (l *Linker) userLock(userID uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[userID] = lock
	}
	return lock
}

func linkRequestFromClaims(claims *ProviderClaims) LinkRequest {
	return LinkRequest{
		ProviderID:        claims.ProviderID,
		ProviderAccountID: claims.Subject,
		Email:             claims.Email,
		EmailVerified:     claims.EmailVerified,
		AccessToken:       claims.AccessToken,
		RefreshToken:      claims.RefreshToken,
		IDToken:           claims.IDToken,
	}
}

func usernameFromClaims(claims *ProviderClaims) string {
	if claims.Email != "" {
		return strings.Split(claims.Email, "@")[0]
	}
	return claims.ProviderID + "_" + claims.Subject
}
