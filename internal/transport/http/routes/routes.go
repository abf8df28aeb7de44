package routes

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dota-pilot1/dota-admin-backend/internal/infra/config"
	"github.com/dota-pilot1/dota-admin-backend/internal/transport/http/handlers"
	"github.com/dota-pilot1/dota-admin-backend/internal/transport/http/middleware"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth         handlers.Authenticator
	Registration handlers.Registrar
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config         *config.AppConfig
	Logger         *zap.Logger
	RateLimiter    *middleware.RateLimiter
	Metrics        *middleware.HTTPMetrics
	MetricsHandler http.Handler
	Services       ServiceSet
	Tokens         middleware.TokenInspector
	Presence       *handlers.PresenceHub
	Database       DatabaseChecker
	Cache          CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("routes: config is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := handlers.RegisterValidators(); err != nil {
		return nil, err
	}

	r := gin.New()
	// Forwarding headers feed ClientIP, which scopes rate limits and is stored
	// with refresh tokens, so only configured proxies may set them.
	if err := r.SetTrustedProxies(deps.Config.App.TrustedProxies); err != nil {
		return nil, fmt.Errorf("routes: trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler())
	}
	r.Use(middleware.CORS(deps.Config.CORS.AllowedOrigins))

	checks := make([]handlers.ReadinessCheck, 0, 2)
	if deps.Database != nil {
		checks = append(checks, handlers.ReadinessCheck{Name: "postgres", Check: deps.Database.Ping})
	}
	if deps.Cache != nil {
		checks = append(checks, handlers.ReadinessCheck{Name: "redis", Check: deps.Cache.HealthCheck})
	}
	healthHandler := handlers.NewHealthHandler(checks...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Ready)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))

	if deps.Tokens == nil {
		return r, nil
	}

	api := r.Group("/api")
	api.Use(middleware.Authenticate(deps.Tokens, deps.Logger))

	if deps.Services.Auth != nil && deps.Services.Registration != nil {
		authHandler := handlers.NewAuthHandler(deps.Services.Auth, deps.Services.Registration, handlers.CookieSettings{
			Name:   deps.Config.Auth.CookieName,
			Secure: deps.Config.Auth.CookieSecure,
		})
		authHandler.RegisterRoutes(api.Group("/auth"), handlers.AuthRouteMiddleware{
			Login:    rateLimitMiddlewares(deps, "auth_login_ip", deps.Config.RateLimit.LoginMaxAttempts),
			Register: rateLimitMiddlewares(deps, "auth_register_ip", deps.Config.RateLimit.RegisterMaxAttempts),
			Refresh:  rateLimitMiddlewares(deps, "auth_refresh_ip", deps.Config.RateLimit.RefreshMaxAttempts),
		})
	}

	if deps.Presence != nil {
		presenceHandler := handlers.NewPresenceHandler(deps.Presence, deps.Tokens, deps.Config.CORS.AllowedOrigins, deps.Logger)
		presenceHandler.RegisterRoutes(api.Group("/presence"))
		r.GET("/ws/presence", presenceHandler.ServeWS)
	}

	return r, nil
}

func rateLimitMiddlewares(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
