package identity

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPController exposes the engine over HTTP: session resolution, sign-in
// and sign-out, and account management. All responses are JSON.
type HTTPController struct {
	engine *Engine
	logger Logger

	// Debug dumps response payloads to stdout.
	Debug bool
}

// NewHTTPController creates the HTTP surface for an engine.
func NewHTTPController(engine *Engine) *HTTPController {
	return &HTTPController{
		engine: engine,
		logger: engine.logger,
	}
}

// RegisterRoutes mounts the engine endpoints on the given group, typically
// rooted at "/auth".
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Get("/session", c.GetSession)
	group.Post("/sign-in", c.SignIn)
	group.Post("/sign-in/:provider", c.SignInWithProvider)
	group.Post("/sign-out", c.SignOut)
	group.Get("/accounts", c.ListAccounts)
	group.Post("/accounts/link", c.LinkAccount)
	group.Delete("/accounts/:provider", c.UnlinkAccount)

	for _, endpoint := range c.engine.endpoints {
		group.Get(endpoint.Path, c.sessionEndpointHandler(endpoint))
	}
}

// GetSession resolves the current session and returns the {user, session}
// pair, or JSON null when there is none. Per-request query flags
// disableCookieCache and disableRefresh opt out of the cache fast path and
// sliding expiration respectively.
func (c *HTTPController) GetSession(ctx router.Context) error {
	opts := c.resolveOptions(ctx)

	state, err := c.engine.Sessions().Resolve(ctx.Context(), opts)
	if err != nil {
		return c.handleError(ctx, err)
	}

	if state == nil {
		if opts.Token != "" {
			// The token cookie points at nothing valid; stop resending it.
			c.clearSessionCookies(ctx)
		}
		return ctx.JSON(router.StatusOK, nil)
	}

	c.refreshCookies(ctx, state)

	return c.respond(ctx, router.StatusOK, state)
}

// SignInRequest is the credential sign-in payload.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks the payload shape before any storage work.
func (r SignInRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 512)),
	)
}

// SignIn authenticates stored credentials and issues a session.
func (c *HTTPController) SignIn(ctx router.Context) error {
	if err := c.requireTrustedOrigin(ctx); err != nil {
		return c.handleError(ctx, err)
	}

	req := SignInRequest{}
	if err := ctx.Bind(&req); err != nil {
		return c.handleError(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid sign in payload").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := req.Validate(); err != nil {
		return c.handleError(ctx, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid sign in payload").
			WithCode(goerrors.CodeBadRequest))
	}

	user, err := c.engine.Accounts().VerifyCredentials(ctx.Context(), req.Email, req.Password)
	if err != nil {
		return c.handleError(ctx, err)
	}

	return c.issueSession(ctx, user, false)
}

// SignInWithProvider exchanges an authorization code with the named provider
// client and signs the resolved user in, creating or linking records as
// policy allows.
func (c *HTTPController) SignInWithProvider(ctx router.Context) error {
	if err := c.requireTrustedOrigin(ctx); err != nil {
		return c.handleError(ctx, err)
	}

	providerID := ctx.Param("provider")

	client, err := c.engine.Provider(providerID)
	if err != nil {
		return c.handleError(ctx, err)
	}

	payload := struct {
		Code  string `json:"code"`
		State string `json:"state"`
	}{}
	if err := ctx.Bind(&payload); err != nil {
		return c.handleError(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid provider payload").
			WithCode(goerrors.CodeBadRequest))
	}

	claims, err := client.Exchange(ctx.Context(), payload.Code, payload.State)
	if err != nil {
		return c.handleError(ctx, goerrors.Wrap(err, goerrors.CategoryAuth, "provider exchange failed").
			WithCode(goerrors.CodeUnauthorized))
	}
	claims.ProviderID = providerID

	user, isNew, err := c.engine.Accounts().AutoLinkOnSignIn(ctx.Context(), claims)
	if err != nil {
		return c.handleError(ctx, err)
	}

	return c.issueSession(ctx, user, isNew)
}

// SignOut revokes the current session and clears cookies. Signing out
// without a session is a no-op success.
func (c *HTTPController) SignOut(ctx router.Context) error {
	if err := c.requireTrustedOrigin(ctx); err != nil {
		return c.handleError(ctx, err)
	}

	token := c.sessionToken(ctx)
	if token != "" {
		if err := c.engine.Sessions().Revoke(ctx.Context(), token); err != nil {
			return c.handleError(ctx, err)
		}
	}

	c.clearSessionCookies(ctx)

	return ctx.JSON(router.StatusOK, map[string]string{
		"status": "signed_out",
	})
}

// ListAccounts returns the authentication methods linked to the current user.
func (c *HTTPController) ListAccounts(ctx router.Context) error {
	state, err := c.requireSession(ctx)
	if err != nil {
		return c.handleError(ctx, err)
	}

	accounts, err := c.engine.Accounts().Accounts(ctx.Context(), state.User.ID)
	if err != nil {
		return c.handleError(ctx, err)
	}

	return c.respond(ctx, router.StatusOK, map[string]any{
		"accounts": accounts,
	})
}

// LinkAccount attaches an authentication method to the current user. The
// session must be fresh.
func (c *HTTPController) LinkAccount(ctx router.Context) error {
	if err := c.requireTrustedOrigin(ctx); err != nil {
		return c.handleError(ctx, err)
	}

	state, err := c.requireSession(ctx)
	if err != nil {
		return c.handleError(ctx, err)
	}

	if err := c.engine.Sessions().RequireFresh(state); err != nil {
		return c.handleError(ctx, err)
	}

	req := LinkRequest{}
	if err := ctx.Bind(&req); err != nil {
		return c.handleError(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid link payload").
			WithCode(goerrors.CodeBadRequest))
	}

	account, err := c.engine.Accounts().LinkAccount(ctx.Context(), state.User, req)
	if err != nil {
		return c.handleError(ctx, err)
	}

	return c.respond(ctx, router.StatusOK, map[string]any{
		"account": account,
	})
}

// UnlinkAccount detaches an authentication method from the current user. The
// session must be fresh; the last remaining account is never removed.
func (c *HTTPController) UnlinkAccount(ctx router.Context) error {
	if err := c.requireTrustedOrigin(ctx); err != nil {
		return c.handleError(ctx, err)
	}

	state, err := c.requireSession(ctx)
	if err != nil {
		return c.handleError(ctx, err)
	}

	if err := c.engine.Sessions().RequireFresh(state); err != nil {
		return c.handleError(ctx, err)
	}

	providerID := ctx.Param("provider")
	providerAccountID := ctx.Query("provider_account_id", "")

	if err := c.engine.Accounts().UnlinkAccount(ctx.Context(), state.User, providerID, providerAccountID); err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]string{
		"status": "unlinked",
	})
}

func (c *HTTPController) sessionEndpointHandler(endpoint SessionEndpoint) router.HandlerFunc {
	return func(ctx router.Context) error {
		state, err := c.requireSession(ctx)
		if err != nil {
			return c.handleError(ctx, err)
		}

		payload, err := endpoint.Shape(ctx.Context(), state)
		if err != nil {
			return c.handleError(ctx, err)
		}

		return c.respond(ctx, router.StatusOK, payload)
	}
}

func (c *HTTPController) issueSession(ctx router.Context, user *User, isNew bool) error {
	meta := c.engine.Config().ResolveRequestMeta(ctx)

	state, err := c.engine.Sessions().Create(ctx.Context(), user, meta, nil)
	if err != nil {
		return c.handleError(ctx, err)
	}

	c.refreshCookies(ctx, state)

	return c.respond(ctx, router.StatusOK, map[string]any{
		"user":     state.User,
		"session":  state.Session,
		"new_user": isNew,
	})
}

// resolveOptions gathers token and cache material: bearer header first,
// cookie second.
func (c *HTTPController) resolveOptions(ctx router.Context) ResolveOptions {
	return ResolveOptions{
		Token:              c.sessionToken(ctx),
		CacheValue:         ctx.Cookies(c.engine.Config().CookieCache.CookieName),
		DisableCookieCache: ctx.Query("disableCookieCache", "") == "true",
		DisableRefresh:     ctx.Query("disableRefresh", "") == "true",
	}
}

func (c *HTTPController) sessionToken(ctx router.Context) string {
	if header := ctx.GetString(router.HeaderAuthorization, ""); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return token
		}
	}
	return ctx.Cookies(c.engine.Config().Session.CookieName)
}

func (c *HTTPController) requireSession(ctx router.Context) (*SessionState, error) {
	if state, ok := FromContext(ctx.Context()); ok && state != nil {
		return state, nil
	}

	state, err := c.engine.Sessions().Resolve(ctx.Context(), c.resolveOptions(ctx))
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, goerrors.New("authentication required", goerrors.CategoryAuth).
			WithTextCode("authentication_required").
			WithCode(goerrors.CodeUnauthorized)
	}
	return state, nil
}

func (c *HTTPController) requireTrustedOrigin(ctx router.Context) error {
	origin := ctx.GetString("Origin", "")
	if origin == "" {
		return nil
	}
	if c.engine.Config().trustedOrigin(origin) {
		return nil
	}
	return goerrors.New("origin not allowed", goerrors.CategoryAuthz).
		WithTextCode("untrusted_origin").
		WithCode(goerrors.CodeForbidden)
}

// refreshCookies writes the token cookie and, when the cache is enabled, a
// freshly signed snapshot cookie. Cache-served states carry no token, so the
// token cookie is left alone for those. A cache hit never re-signs the
// entry either: the snapshot must age out within MaxAge so storage gets
// re-consulted and revocations take hold.
func (c *HTTPController) refreshCookies(ctx router.Context, state *SessionState) {
	cfg := c.engine.Config()

	if state.Session.Token != "" {
		c.setCookie(ctx, cfg.Session.CookieName, state.Session.Token, state.Session.ExpiresAt)
	}

	if state.FromCache {
		return
	}

	if entry := c.engine.Sessions().CacheEntry(state); entry != "" {
		c.setCookie(ctx, cfg.CookieCache.CookieName, entry, time.Now().Add(cfg.CookieCache.MaxAge))
	}
}

func (c *HTTPController) setCookie(ctx router.Context, name, value string, expires time.Time) {
	cfg := c.engine.Config().Cookies
	ctx.Cookie(&router.Cookie{
		Name:     name,
		Value:    value,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  expires,
		HTTPOnly: cfg.HTTPOnly,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

func (c *HTTPController) clearSessionCookies(ctx router.Context) {
	cfg := c.engine.Config()
	c.cookieDel(ctx, cfg.Session.CookieName)
	c.cookieDel(ctx, cfg.CookieCache.CookieName)
}

func (c *HTTPController) cookieDel(ctx router.Context, name string) {
	cfg := c.engine.Config().Cookies
	ctx.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: cfg.HTTPOnly,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

func (c *HTTPController) respond(ctx router.Context, status int, payload any) error {
	if c.Debug {
		fmt.Println(print.MaybePrettyJSON(payload))
	}
	return ctx.JSON(status, payload)
}

func (c *HTTPController) handleError(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	code := richErr.Code
	if code == 0 {
		code = goerrors.CodeInternal
	}

	c.logger.Error(
		"request failed",
		"error", richErr.Message,
		"category", richErr.Category,
		"text_code", richErr.TextCode,
		"path", ctx.OriginalURL(),
	)

	if c.Debug {
		fmt.Println(print.MaybePrettyJSON(richErr.Metadata))
	}

	return ctx.JSON(code, map[string]any{
		"error": map[string]any{
			"message":   richErr.Message,
			"category":  richErr.Category,
			"text_code": richErr.TextCode,
		},
	})
}
