package routes_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/config"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/security"
	redisrepo "github.com/dota-pilot1/dota-admin-backend/internal/repository/redis"
	"github.com/dota-pilot1/dota-admin-backend/internal/transport/http/handlers"
	"github.com/dota-pilot1/dota-admin-backend/internal/transport/http/middleware"
	httproutes "github.com/dota-pilot1/dota-admin-backend/internal/transport/http/routes"
	"github.com/dota-pilot1/dota-admin-backend/internal/usecase"
)

type stubAuth struct{}

func (stubAuth) Login(context.Context, string, string, usecase.ClientMetadata) (usecase.LoginResult, error) {
	return usecase.LoginResult{}, usecase.ErrInvalidCredentials
}

func (stubAuth) Refresh(context.Context, string, usecase.ClientMetadata) (usecase.RefreshResult, error) {
	return usecase.RefreshResult{}, usecase.ErrInvalidRefreshToken
}

func (stubAuth) Logout(context.Context, string) error { return nil }

func (stubAuth) Me(_ context.Context, email string) (domain.User, error) {
	return domain.User{ID: 1, Username: "alice", Email: email, RoleName: domain.RoleUser}, nil
}

func (stubAuth) RefreshTokenTTL() time.Duration { return time.Hour }

type stubRegistrar struct{}

func (stubRegistrar) Register(_ context.Context, in usecase.RegisterInput) (domain.User, error) {
	return domain.User{ID: 1, Username: in.Username, Email: in.Email, RoleName: domain.RoleUser}, nil
}

func (stubRegistrar) RegisterAdmin(_ context.Context, in usecase.RegisterInput) (domain.User, error) {
	return domain.User{ID: 2, Username: in.Username, Email: in.Email, RoleName: domain.RoleAdmin}, nil
}

type failingCache struct{}

func (failingCache) HealthCheck(context.Context) error { return errors.New("redis unavailable") }

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		App:       config.AppSettings{Env: "test"},
		Auth:      config.AuthSettings{CookieName: "refresh_token"},
		CORS:      config.CORSSettings{AllowedOrigins: []string{"http://localhost:3000"}},
		RateLimit: config.RateLimitSettings{WindowDuration: time.Minute, LoginMaxAttempts: 2},
	}
}

func newCodec(t *testing.T) *security.TokenCodec {
	t.Helper()
	keys, err := security.NewStaticKeyProvider("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	codec, err := security.NewTokenCodec(keys, 5*time.Minute)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return codec
}

func newRateLimiter(t *testing.T) *middleware.RateLimiter {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	store := redisrepo.NewRateLimitRepository(client, redisrepo.SlidingWindowConfig{KeyPrefix: "rl", TTL: 2 * time.Minute})
	return middleware.NewRateLimiter(store, zaptest.NewLogger(t))
}

func newRouter(t *testing.T, deps httproutes.Dependencies) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if deps.Config == nil {
		deps.Config = testConfig()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r, err := httproutes.Register(deps)
	if err != nil {
		t.Fatalf("register routes: %v", err)
	}
	return r
}

func serve(r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for key, value := range header {
		req.Header.Set(key, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	r := newRouter(t, httproutes.Dependencies{})

	if w := serve(r, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/auth/me", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("api routes must not be mounted without a token codec, got %d", w.Code)
	}
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	r := newRouter(t, httproutes.Dependencies{Cache: failingCache{}})

	w := serve(r, http.MethodGet, "/readyz", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"redis":"down"`) {
		t.Fatalf("expected redis check in body, got %s", w.Body.String())
	}
}

func TestMetricsEndpointExposesHTTPMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	r := newRouter(t, httproutes.Dependencies{
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	serve(r, http.MethodGet, "/healthz", "", nil)
	w := serve(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `dota_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("expected healthz request to be counted, got:\n%s", w.Body.String())
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	r := newRouter(t, httproutes.Dependencies{
		RateLimiter: newRateLimiter(t),
		Services:    httproutes.ServiceSet{Auth: stubAuth{}, Registration: stubRegistrar{}},
		Tokens:      newCodec(t),
		Presence:    handlers.NewPresenceHub(usecase.NewPresenceTracker(), nil),
	})

	body := `{"email":"alice@x.com","password":"nope"}`
	for i := 0; i < 2; i++ {
		if w := serve(r, http.MethodPost, "/api/auth/login", body, nil); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, w.Code)
		}
	}

	w := serve(r, http.MethodPost, "/api/auth/login", body, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/problem+json") {
		t.Fatalf("expected problem details, got %q", ct)
	}

	if w := serve(r, http.MethodPost, "/api/auth/register", `{"username":"bob","password":"pw","email":"bob@x.com"}`, nil); w.Code != http.StatusOK {
		t.Fatalf("register has its own budget, got %d", w.Code)
	}
}

func TestLoginRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	r := newRouter(t, httproutes.Dependencies{
		RateLimiter: newRateLimiter(t),
		Services:    httproutes.ServiceSet{Auth: stubAuth{}, Registration: stubRegistrar{}},
		Tokens:      newCodec(t),
	})

	body := `{"email":"alice@x.com","password":"nope"}`
	limited := false
	for i := 0; i < 10; i++ {
		header := map[string]string{"X-Forwarded-For": fmt.Sprintf("10.0.0.%d", i+1)}
		w := serve(r, http.MethodPost, "/api/auth/login", body, header)
		if w.Code == http.StatusTooManyRequests {
			limited = true
			if i != 2 {
				t.Fatalf("expected the third attempt to be limited, got attempt %d", i+1)
			}
			break
		}
	}
	if !limited {
		t.Fatalf("rotating X-Forwarded-For must not escape the per-IP limit")
	}
}

func TestLoginRateLimitHonorsTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.App.TrustedProxies = []string{"192.0.2.1"}

	r := newRouter(t, httproutes.Dependencies{
		Config:      cfg,
		RateLimiter: newRateLimiter(t),
		Services:    httproutes.ServiceSet{Auth: stubAuth{}, Registration: stubRegistrar{}},
		Tokens:      newCodec(t),
	})

	body := `{"email":"alice@x.com","password":"nope"}`
	for i := 0; i < 4; i++ {
		header := map[string]string{"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i+1)}
		if w := serve(r, http.MethodPost, "/api/auth/login", body, header); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d from a distinct forwarded client: expected 401, got %d", i+1, w.Code)
		}
	}
}

func TestRegisterRejectsInvalidTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.App.TrustedProxies = []string{"not-an-ip"}

	if _, err := httproutes.Register(httproutes.Dependencies{Config: cfg}); err == nil {
		t.Fatalf("expected an invalid proxy entry to fail route registration")
	}
}

func TestAuthenticatedRoutesAndCORS(t *testing.T) {
	codec := newCodec(t)
	r := newRouter(t, httproutes.Dependencies{
		Services: httproutes.ServiceSet{Auth: stubAuth{}, Registration: stubRegistrar{}},
		Tokens:   codec,
		Presence: handlers.NewPresenceHub(usecase.NewPresenceTracker(), nil),
	})

	token, err := codec.Issue("alice@x.com", domain.RoleUser, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	w := serve(r, http.MethodGet, "/api/auth/me", "", map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"email":"alice@x.com"`) {
		t.Fatalf("expected current user, got %d: %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/api/presence", "", map[string]string{"Authorization": "Bearer not-a-token"})
	if w.Code != http.StatusUnauthorized || !strings.Contains(w.Body.String(), middleware.CodeInvalidToken) {
		t.Fatalf("expected invalid token rejection, got %d: %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodOptions, "/api/auth/login", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": http.MethodPost,
	})
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("expected preflight to succeed, got %d %v", w.Code, w.Header())
	}
}
