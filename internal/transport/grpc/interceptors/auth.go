package interceptors

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/security"
	"github.com/dota-pilot1/dota-admin-backend/internal/transport/http/middleware"
)

const authorizationKey = "authorization"

var (
	errMissingToken  = errors.New("authorization token required")
	errInvalidHeader = errors.New("invalid authorization header")
)

// AuthOptions fine-tunes interceptor behaviour.
type AuthOptions struct {
	AllowMethods []string
	Logger       *zap.Logger
}

// AuthInterceptor authenticates unary calls with the bearer access token
// carried in the "authorization" metadata.
type AuthInterceptor struct {
	inspector middleware.TokenInspector
	logger    *zap.Logger
	allow     map[string]struct{}
}

// NewAuthInterceptor constructs a new AuthInterceptor instance.
func NewAuthInterceptor(inspector middleware.TokenInspector, opts AuthOptions) *AuthInterceptor {
	allow := make(map[string]struct{}, len(opts.AllowMethods))
	for _, method := range opts.AllowMethods {
		if method = strings.TrimSpace(method); method != "" {
			allow[method] = struct{}{}
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuthInterceptor{inspector: inspector, logger: logger, allow: allow}
}

// UnaryServerInterceptor returns a gRPC unary interceptor that enforces JWT authentication.
func (ai *AuthInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if ai == nil || ai.inspector == nil {
			return handler(ctx, req)
		}

		if _, ok := ai.allow[info.FullMethod]; ok {
			return handler(ctx, req)
		}

		token, err := tokenFromMetadata(ctx)
		if err != nil {
			ai.logger.Debug("gRPC authentication failed", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		principal, err := middleware.ResolvePrincipal(ai.inspector, token)
		if err != nil {
			switch {
			case errors.Is(err, security.ErrTokenExpired):
				return nil, status.Error(codes.Unauthenticated, "access token expired")
			case errors.Is(err, security.ErrMalformedToken):
				return nil, status.Error(codes.Unauthenticated, "invalid access token")
			default:
				ai.logger.Error("gRPC token inspection failed", zap.String("method", info.FullMethod), zap.Error(err))
				return nil, status.Error(codes.Unauthenticated, "authentication failed")
			}
		}

		return handler(WithPrincipal(ctx, principal), req)
	}
}

type principalContextKey struct{}

// WithPrincipal returns a derived context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, principal domain.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext extracts the principal attached by the auth interceptor.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	if ctx == nil {
		return domain.Principal{}, false
	}
	principal, ok := ctx.Value(principalContextKey{}).(domain.Principal)
	return principal, ok && principal.Email != ""
}

func tokenFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errMissingToken
	}

	values := md.Get(authorizationKey)
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return "", errMissingToken
	}

	token, ok := middleware.BearerToken(values[0])
	if !ok {
		return "", errInvalidHeader
	}
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
