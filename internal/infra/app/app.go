package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/port"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/config"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/database"
	kafkainfra "github.com/dota-pilot1/dota-admin-backend/internal/infra/kafka"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/logger"
	redisinfra "github.com/dota-pilot1/dota-admin-backend/internal/infra/redis"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/security"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/telemetry"
	postgresrepo "github.com/dota-pilot1/dota-admin-backend/internal/repository/postgres"
	redisrepo "github.com/dota-pilot1/dota-admin-backend/internal/repository/redis"
	transportgrpc "github.com/dota-pilot1/dota-admin-backend/internal/transport/grpc"
	grpcinterceptors "github.com/dota-pilot1/dota-admin-backend/internal/transport/grpc/interceptors"
	"github.com/dota-pilot1/dota-admin-backend/internal/transport/http/handlers"
	"github.com/dota-pilot1/dota-admin-backend/internal/transport/http/middleware"
	"github.com/dota-pilot1/dota-admin-backend/internal/transport/http/routes"
	"github.com/dota-pilot1/dota-admin-backend/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

type Application struct {
	cfg          *config.AppConfig
	engine       *gin.Engine
	logger       *zap.Logger
	pool         *pgxpool.Pool
	redis        *redisinfra.Client
	producer     *kafkainfra.Producer
	tracer       *telemetry.TracerProvider
	presence     *handlers.PresenceHub
	registration *usecase.RegistrationService
	grpcServer   *transportgrpc.Server
	grpcAddr     string
}

func New(ctx context.Context, cfg *config.AppConfig) (_ *Application, err error) {
	log, err := logger.New(cfg.App.Env, cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	// Resources acquired so far are released when a later step fails.
	var cleanups []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	cleanups = append(cleanups, func() { _ = tracer.Shutdown(context.Background()) })

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	cleanups = append(cleanups, pool.Close)

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	cleanups = append(cleanups, func() { _ = redisClient.Close() })

	repos := postgresrepo.NewRepositories(pool)

	argonCfg := security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	}
	hasher, err := security.NewPasswordHasher(argonCfg)
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	keys, err := security.NewStaticKeyProvider(cfg.JWT.Secret)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	codec, err := security.NewTokenCodec(keys, cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("init token codec: %w", err)
	}

	refreshKey := []byte(cfg.JWT.RefreshHashKey)
	if len(refreshKey) == 0 {
		if refreshKey, err = keys.DeriveKey("refresh-token"); err != nil {
			return nil, fmt.Errorf("derive refresh hash key: %w", err)
		}
	}
	secretHasher, err := security.NewSecretHasher(refreshKey)
	if err != nil {
		return nil, fmt.Errorf("init refresh hasher: %w", err)
	}

	roleSet, err := usecase.NewBootstrapper(repos.Roles, repos.Users, hasher, usecase.BootstrapOptions{
		EnsureRoles:   cfg.Auth.RolesAutocreate,
		AdminRole:     cfg.Auth.AdminRole,
		DefaultRoles:  cfg.Auth.DefaultRoles,
		SeedAdmin:     cfg.Auth.SeedAdmin,
		AdminUsername: cfg.Auth.AdminUsername,
		AdminEmail:    cfg.Auth.AdminEmail,
		AdminPassword: cfg.Auth.AdminPassword,
	}, log).Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap roles: %w", err)
	}

	var (
		eventPublisher port.EventPublisher
		producer       *kafkainfra.Producer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
			err = nil
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			cleanups = append(cleanups, func() { _ = producer.Close() })
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	authMetrics, err := telemetry.NewAuthMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("init auth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	refreshTokens := usecase.NewRefreshTokenService(repos.Tokens, secretHasher, cfg.JWT.RefreshTokenTTL)
	authService, err := usecase.NewAuthService(repos.Users, repos.Authorities, hasher, codec, refreshTokens, usecase.AuthOptions{
		RevokeAllOnReuse: cfg.JWT.RevokeFamilyOnReuse,
		Recorder:         authMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	registrationService := usecase.NewRegistrationService(
		repos.Users,
		usecase.NewRoleResolver(roleSet, repos.Users, cfg.Auth.FirstUserAdmin),
		hasher,
		security.ConfiguredPasswordPolicy(cfg.Auth.PasswordMinLength, cfg.Auth.PasswordMinScore),
		eventPublisher,
		log,
	)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "dota:rate-limit",
		TTL:       rateLimitWindow * 2,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	tracker := usecase.NewPresenceTracker()
	hub := handlers.NewPresenceHub(tracker, log)

	engine, err := routes.Register(routes.Dependencies{
		Config:         cfg,
		Logger:         log,
		RateLimiter:    rateLimiter,
		Metrics:        httpMetrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Tokens:         codec,
		Presence:       hub,
		Database:       pool,
		Cache:          redisClient,
		Services: routes.ServiceSet{
			Auth:         authService,
			Registration: registrationService,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}

	var grpcSrv *transportgrpc.Server
	if cfg.GRPC.Enabled {
		grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{Registerer: registry})
		if err != nil {
			return nil, fmt.Errorf("init grpc metrics: %w", err)
		}

		grpcSrv, err = transportgrpc.NewServer(transportgrpc.ServerDependencies{
			Tokens:   codec,
			Presence: tracker,
			Metrics:  grpcMetrics,
			Tracing: grpcinterceptors.NewTracing(grpcinterceptors.TracingOptions{
				TracerProvider: tracer.TracerProvider(),
				Propagators:    otel.GetTextMapPropagator(),
			}),
			Logger: log,
		})
		if err != nil {
			return nil, fmt.Errorf("init grpc server: %w", err)
		}
	}

	return &Application{
		cfg:          cfg,
		engine:       engine,
		logger:       log,
		pool:         pool,
		redis:        redisClient,
		producer:     producer,
		tracer:       tracer,
		presence:     hub,
		registration: registrationService,
		grpcServer:   grpcSrv,
		grpcAddr:     fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port),
	}, nil
}

// Run serves HTTP and gRPC traffic until ctx is cancelled or a server fails.
func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcListener net.Listener
	if a.grpcServer != nil {
		lis, err := net.Listen("tcp", a.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcListener = lis
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.logger.Info("starting HTTP server",
			zap.String("env", a.cfg.App.Env),
			zap.String("address", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("run http server: %w", err)
		}
		return nil
	})

	if grpcListener != nil {
		group.Go(func() error {
			a.logger.Info("starting gRPC server", zap.String("address", a.grpcAddr))
			if err := a.grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("run grpc server: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		a.logger.Info("shutting down servers")

		// Sockets are closed first so the HTTP server is not held open by hijacked connections.
		a.presence.Close()

		if a.grpcServer != nil {
			a.grpcServer.Health.Shutdown()
			a.grpcServer.GracefulStop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func (a *Application) close() {
	// Pending member-joined events need the producer.
	a.registration.Wait()

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
