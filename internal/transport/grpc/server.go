package transportgrpc

import (
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcinterceptors "github.com/dota-pilot1/dota-admin-backend/internal/transport/grpc/interceptors"
	"github.com/dota-pilot1/dota-admin-backend/internal/transport/http/middleware"
	"github.com/dota-pilot1/dota-admin-backend/internal/usecase"
)

// Health methods are reachable without a token.
var defaultPublicMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/Watch",
	"/grpc.health.v1.Health/List",
}

// ServerDependencies encapsulates services required by the gRPC server layer.
type ServerDependencies struct {
	Tokens        middleware.TokenInspector
	Presence      *usecase.PresenceTracker
	Metrics       *grpcinterceptors.GRPCMetrics
	Tracing       *grpcinterceptors.Tracing
	Logger        *zap.Logger
	PublicMethods []string // methods that don't require authentication
}

// Server bundles the gRPC server with its health service.
type Server struct {
	*grpc.Server
	Health *health.Server
}

// NewServer wires gRPC services with authentication enforced through interceptors.
func NewServer(deps ServerDependencies) (*Server, error) {
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token inspector is required")
	}
	if deps.Presence == nil {
		return nil, fmt.Errorf("presence tracker is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	public := append(append([]string{}, defaultPublicMethods...), deps.PublicMethods...)
	authInterceptor := grpcinterceptors.NewAuthInterceptor(deps.Tokens, grpcinterceptors.AuthOptions{
		Logger:       logger,
		AllowMethods: public,
	})

	unaryInterceptors := []grpc.UnaryServerInterceptor{
		deps.Metrics.UnaryServerInterceptor(),
		authInterceptor.UnaryServerInterceptor(),
	}

	server := grpc.NewServer(
		deps.Tracing.ServerOption(),
		grpc.ChainUnaryInterceptor(unaryInterceptors...),
	)

	RegisterPresenceServiceServer(server, NewPresenceServer(deps.Presence))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(PresenceServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	// Register reflection service for tools like Postman, grpcurl, etc.
	reflection.Register(server)

	return &Server{Server: server, Health: healthServer}, nil
}
