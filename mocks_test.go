package identity_test

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"sync"
	"time"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/hook"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// memAdapter is an in-memory identity.Adapter used across the engine tests.
// It applies update patches by column name, mirroring what the Bun adapter
// does against real tables.
type memAdapter struct {
	mu            sync.Mutex
	users         map[uuid.UUID]*identity.User
	sessions      map[uuid.UUID]*identity.Session
	accounts      map[uuid.UUID]*identity.Account
	verifications map[uuid.UUID]*identity.Verification

	createErr error
}

func newMemAdapter() *memAdapter {
	return &memAdapter{
		users:         map[uuid.UUID]*identity.User{},
		sessions:      map[uuid.UUID]*identity.Session{},
		accounts:      map[uuid.UUID]*identity.Account{},
		verifications: map[uuid.UUID]*identity.Verification{},
	}
}

func (a *memAdapter) Create(ctx context.Context, model hook.Model, record any) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.createErr != nil {
		return nil, a.createErr
	}

	switch model {
	case hook.ModelUser:
		user := record.(*identity.User)
		if user.ID == uuid.Nil {
			user.ID = uuid.New()
		}
		for _, existing := range a.users {
			if existing.Email == user.Email {
				return nil, fmt.Errorf("duplicate email %q", user.Email)
			}
		}
		a.users[user.ID] = user
		return user, nil
	case hook.ModelSession:
		session := record.(*identity.Session)
		a.sessions[session.ID] = session
		return session, nil
	case hook.ModelAccount:
		account := record.(*identity.Account)
		a.accounts[account.ID] = account
		return account, nil
	case hook.ModelVerification:
		verification := record.(*identity.Verification)
		a.verifications[verification.ID] = verification
		return verification, nil
	}
	return nil, fmt.Errorf("unknown model %q", model)
}

func (a *memAdapter) Update(ctx context.Context, model hook.Model, id uuid.UUID, patch map[string]any) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch model {
	case hook.ModelSession:
		session, ok := a.sessions[id]
		if !ok {
			return nil, fmt.Errorf("session %s not found", id)
		}
		for column, value := range patch {
			switch column {
			case "expires_at":
				session.ExpiresAt = value.(time.Time)
			case "updated_at":
				session.UpdatedAt = value.(time.Time)
			}
		}
		return session, nil
	case hook.ModelAccount:
		account, ok := a.accounts[id]
		if !ok {
			return nil, fmt.Errorf("account %s not found", id)
		}
		for column, value := range patch {
			switch column {
			case "access_token":
				account.AccessToken = value.(string)
			case "refresh_token":
				account.RefreshToken = value.(string)
			case "id_token":
				account.IDToken = value.(string)
			case "access_token_expires_at":
				account.AccessTokenExpiresAt = value.(*time.Time)
			case "updated_at":
				account.UpdatedAt = value.(time.Time)
			}
		}
		return account, nil
	case hook.ModelUser:
		user, ok := a.users[id]
		if !ok {
			return nil, fmt.Errorf("user %s not found", id)
		}
		for column, value := range patch {
			switch column {
			case "is_email_verified":
				user.EmailVerified = value.(bool)
			case "updated_at":
				user.UpdatedAt = value.(time.Time)
			}
		}
		return user, nil
	}
	return nil, fmt.Errorf("unknown model %q", model)
}

func (a *memAdapter) FindOne(ctx context.Context, model hook.Model, filter identity.Filter) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch model {
	case hook.ModelUser:
		for _, user := range a.users {
			if matchUser(user, filter) {
				return user, nil
			}
		}
	case hook.ModelSession:
		for _, session := range a.sessions {
			if matchSession(session, filter) {
				return session, nil
			}
		}
	case hook.ModelAccount:
		for _, account := range a.accounts {
			if matchAccount(account, filter) {
				return account, nil
			}
		}
	case hook.ModelVerification:
		for _, verification := range a.verifications {
			if matchVerification(verification, filter) {
				return verification, nil
			}
		}
	}
	return nil, nil
}

func (a *memAdapter) FindMany(ctx context.Context, model hook.Model, filter identity.Filter) ([]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := []any{}
	switch model {
	case hook.ModelAccount:
		for _, account := range a.accounts {
			if matchAccount(account, filter) {
				out = append(out, account)
			}
		}
	case hook.ModelSession:
		for _, session := range a.sessions {
			if matchSession(session, filter) {
				out = append(out, session)
			}
		}
	}
	return out, nil
}

func (a *memAdapter) Delete(ctx context.Context, model hook.Model, id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch model {
	case hook.ModelUser:
		delete(a.users, id)
	case hook.ModelSession:
		delete(a.sessions, id)
	case hook.ModelAccount:
		delete(a.accounts, id)
	case hook.ModelVerification:
		delete(a.verifications, id)
	}
	return nil
}

func matchUser(user *identity.User, filter identity.Filter) bool {
	if id, ok := filter["id"]; ok && user.ID != id.(uuid.UUID) {
		return false
	}
	if email, ok := filter["email"]; ok && user.Email != email.(string) {
		return false
	}
	return true
}

func matchSession(session *identity.Session, filter identity.Filter) bool {
	if token, ok := filter["token"]; ok && session.Token != token.(string) {
		return false
	}
	if id, ok := filter["id"]; ok && session.ID != id.(uuid.UUID) {
		return false
	}
	if userID, ok := filter["user_id"]; ok && session.UserID != userID.(uuid.UUID) {
		return false
	}
	return true
}

func matchAccount(account *identity.Account, filter identity.Filter) bool {
	if id, ok := filter["id"]; ok && account.ID != id.(uuid.UUID) {
		return false
	}
	if userID, ok := filter["user_id"]; ok && account.UserID != userID.(uuid.UUID) {
		return false
	}
	if provider, ok := filter["provider_id"]; ok && account.ProviderID != provider.(string) {
		return false
	}
	if subject, ok := filter["provider_account_id"]; ok && account.ProviderAccountID != subject.(string) {
		return false
	}
	return true
}

func matchVerification(verification *identity.Verification, filter identity.Filter) bool {
	if identifier, ok := filter["identifier"]; ok && verification.Identifier != identifier.(string) {
		return false
	}
	if value, ok := filter["value"]; ok && verification.Value != value.(string) {
		return false
	}
	return true
}

// captureLogger records log lines for assertions.
type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) log(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *captureLogger) Debug(format string, args ...any) { l.log("DBG", format, args...) }
func (l *captureLogger) Info(format string, args ...any)  { l.log("INF", format, args...) }
func (l *captureLogger) Warn(format string, args ...any)  { l.log("WRN", format, args...) }
func (l *captureLogger) Error(format string, args ...any) { l.log("ERR", format, args...) }

// testClock is a settable wall clock shared by engine and assertions.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubProvider returns canned claims for provider sign-in tests.
type stubProvider struct {
	claims *identity.ProviderClaims
	err    error
}

func (p *stubProvider) Exchange(ctx context.Context, code, state string) (*identity.ProviderClaims, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.claims, nil
}

// MockContext mocks the router.Context
type MockContext struct {
	mock.Mock
	NextCalled bool
}

func (m *MockContext) Next() error {
	m.NextCalled = true
	return nil
}

func (m *MockContext) Context() context.Context {
	args := m.Called()
	c, ok := args.Get(0).(context.Context)
	if !ok {
		panic("arg needs to be context.Context")
	}
	return c
}

func (m *MockContext) SetContext(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockContext) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Method() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Body() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockContext) Status(code int) router.Context {
	m.Called(code)
	return m
}

func (m *MockContext) SendString(s string) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockContext) Send(b []byte) error {
	args := m.Called(b)
	return args.Error(0)
}

func (m *MockContext) JSON(code int, val any) error {
	args := m.Called(code, val)
	return args.Error(0)
}

func (m *MockContext) NoContent(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) Render(name string, bind any, layout ...string) error {
	if len(layout) > 0 {
		args := m.Called(name, bind, layout[0])
		return args.Error(0)
	}
	args := m.Called(name, bind)
	return args.Error(0)
}

func (m *MockContext) Redirect(path string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(path, status)
		return args.Error(0)
	}
	args := m.Called(path)
	return args.Error(0)
}

func (m *MockContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	if len(status) > 0 {
		args := m.Called(name, data, status[0])
		return args.Error(0)
	}
	args := m.Called(name, data)
	return args.Error(0)
}

func (m *MockContext) RedirectBack(fallback string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(fallback, status)
		return args.Error(0)
	}
	args := m.Called(fallback)
	return args.Error(0)
}

func (m *MockContext) SetHeader(key, val string) router.Context {
	m.Called(key, val)
	return m
}

func (m *MockContext) Header(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Get(key string, defaultValue any) any {
	args := m.Called(key, defaultValue)
	return args.Get(0)
}

func (m *MockContext) GetBool(key string, defaultValue bool) bool {
	args := m.Called(key, defaultValue)
	return args.Bool(0)
}

func (m *MockContext) GetInt(key string, def int) int {
	args := m.Called(key, def)
	return args.Int(0)
}

func (m *MockContext) Set(key string, val any) {
	m.Called(key, val)
}

func (m *MockContext) Bind(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindJSON(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindXML(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindQuery(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) CookieParser(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) Cookie(cookie *router.Cookie) {
	m.Called(cookie)
}

func (m *MockContext) Cookies(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) ParamsInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Query(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) QueryValues(key string) []string {
	args := m.Called(key)
	return args.Get(0).([]string)
}

func (m *MockContext) QueryInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Queries() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}

func (m *MockContext) GetString(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.Called(key, value[0])
		return nil
	}
	args := m.Called(key)
	return args.Get(0)
}

func (m *MockContext) OriginalURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) IP() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) OnNext(callback func() error) {
	m.Called(callback)
}

func (m *MockContext) Referer() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) FormFile(key string) (*multipart.FileHeader, error) {
	args := m.Called(key)
	fh, _ := args.Get(0).(*multipart.FileHeader)
	return fh, args.Error(1)
}

func (m *MockContext) FormValue(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) LocalsMerge(key any, value map[string]any) map[string]any {
	args := m.Called(key, value)
	return args.Get(0).(map[string]any)
}

func (m *MockContext) SendStatus(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) SendStream(r io.Reader) error {
	args := m.Called(r)
	return args.Error(0)
}

func (m *MockContext) RouteName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) RouteParams() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}
