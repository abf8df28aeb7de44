package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/security"
	"github.com/dota-pilot1/dota-admin-backend/internal/transport/http/middleware"
	"github.com/dota-pilot1/dota-admin-backend/internal/usecase"
)

const testSigningSecret = "0123456789abcdef0123456789abcdef"

type fakeAuthenticator struct {
	loginResult   usecase.LoginResult
	loginErr      error
	refreshResult usecase.RefreshResult
	refreshErr    error
	logoutErr     error
	users         map[string]domain.User
	meErr         error

	lastLoginEmail string
	lastMeta       usecase.ClientMetadata
	lastRefresh    string
	loggedOut      []string
}

func (f *fakeAuthenticator) Login(_ context.Context, email, _ string, meta usecase.ClientMetadata) (usecase.LoginResult, error) {
	f.lastLoginEmail = email
	f.lastMeta = meta
	return f.loginResult, f.loginErr
}

func (f *fakeAuthenticator) Refresh(_ context.Context, raw string, meta usecase.ClientMetadata) (usecase.RefreshResult, error) {
	f.lastRefresh = raw
	f.lastMeta = meta
	return f.refreshResult, f.refreshErr
}

func (f *fakeAuthenticator) Logout(_ context.Context, raw string) error {
	f.loggedOut = append(f.loggedOut, raw)
	return f.logoutErr
}

func (f *fakeAuthenticator) Me(_ context.Context, email string) (domain.User, error) {
	if f.meErr != nil {
		return domain.User{}, f.meErr
	}
	user, ok := f.users[email]
	if !ok {
		return domain.User{}, usecase.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeAuthenticator) RefreshTokenTTL() time.Duration {
	return 14 * 24 * time.Hour
}

type fakeRegistrar struct {
	err    error
	inputs []usecase.RegisterInput
	nextID int64
}

func (f *fakeRegistrar) Register(_ context.Context, input usecase.RegisterInput) (domain.User, error) {
	return f.create(input, domain.RoleUser)
}

func (f *fakeRegistrar) RegisterAdmin(_ context.Context, input usecase.RegisterInput) (domain.User, error) {
	return f.create(input, domain.RoleAdmin)
}

func (f *fakeRegistrar) create(input usecase.RegisterInput, role string) (domain.User, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return domain.User{}, f.err
	}
	f.nextID++
	return domain.User{ID: f.nextID, Username: input.Username, Email: input.Email, RoleName: role}, nil
}

func newTestCodec(t *testing.T) *security.TokenCodec {
	t.Helper()
	keys, err := security.NewStaticKeyProvider(testSigningSecret)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	codec, err := security.NewTokenCodec(keys, 5*time.Minute)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return codec
}

func issueToken(t *testing.T, codec *security.TokenCodec, email, role string) string {
	t.Helper()
	token, err := codec.Issue(email, role, nil)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

// newTestEngine returns a router with the request context and bearer
// authentication middleware installed.
func newTestEngine(t *testing.T, codec *security.TokenCodec) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if err := RegisterValidators(); err != nil {
		t.Fatalf("register validators: %v", err)
	}

	router := gin.New()
	router.Use(middleware.EnrichContext(), middleware.Authenticate(codec, nil))
	return router
}

type request struct {
	method string
	path   string
	body   string
	token  string
	cookie *http.Cookie
	header map[string]string
}

func perform(router http.Handler, r request) *httptest.ResponseRecorder {
	var req *http.Request
	if r.body != "" {
		req = httptest.NewRequest(r.method, r.path, strings.NewReader(r.body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(r.method, r.path, nil)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if r.cookie != nil {
		req.AddCookie(r.cookie)
	}
	for key, value := range r.header {
		req.Header.Set(key, value)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
