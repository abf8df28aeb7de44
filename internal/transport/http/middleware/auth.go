package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/logger"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/security"
)

// Error codes written by the authentication filter.
const (
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	CodeAccessDenied           = "ACCESS_DENIED"
)

const timestampLayout = "2006-01-02T15:04:05"

var errAuthenticationPanic = errors.New("authentication panicked")

// TokenInspector performs the single-pass token extraction.
type TokenInspector interface {
	Inspect(token string) (*security.TokenDetails, error)
}

// ErrorResponse matches the handlers.ErrorResponse envelope.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"traceId,omitempty"`
}

func newErrorResponse(c *gin.Context, code, message string) ErrorResponse {
	return ErrorResponse{
		Success:   false,
		Message:   message,
		ErrorCode: code,
		Timestamp: time.Now().Format(timestampLayout),
		TraceID:   GetTraceID(c),
	}
}

// AccessDeniedResponse is written when an authenticated principal lacks a role.
type AccessDeniedResponse struct {
	Error              string   `json:"error"`
	Message            string   `json:"message"`
	Detail             string   `json:"detail"`
	Suggestion         string   `json:"suggestion"`
	MissingRole        string   `json:"missingRole"`
	CurrentAuthorities []string `json:"currentAuthorities"`
	Status             int      `json:"status"`
	Path               string   `json:"path"`
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// ResolvePrincipal runs the token decision sequence: expired tokens yield
// security.ErrTokenExpired, anything unverifiable yields
// security.ErrMalformedToken, and a panic while inspecting is reported as an error.
func ResolvePrincipal(inspector TokenInspector, token string) (principal domain.Principal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errAuthenticationPanic, r)
		}
	}()

	if strings.TrimSpace(token) == "" {
		return domain.Principal{}, security.ErrMalformedToken
	}

	details, err := inspector.Inspect(token)
	if err != nil {
		return domain.Principal{}, err
	}
	return domain.NewPrincipal(details.Email, details.Role, details.Authorities), nil
}

// Authenticate attaches a principal for requests carrying a bearer token.
// Requests without one continue anonymously; authorization happens downstream.
// Roles and authorities come from the token claims alone, so grant changes
// apply at the next login or refresh.
func Authenticate(inspector TokenInspector, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}

		principal, err := ResolvePrincipal(inspector, token)
		if err != nil {
			reqLog := logger.WithContext(c.Request.Context())
			switch {
			case errors.Is(err, security.ErrTokenExpired):
				reqLog.Debug("access token expired", zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, CodeTokenExpired, "Token expired"))
			case errors.Is(err, security.ErrMalformedToken):
				reqLog.Debug("access token rejected", zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, CodeInvalidToken, "Invalid token"))
			default:
				reqLog.Error("authentication failed", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, CodeInvalidToken, "Authentication failed"))
			}
			return
		}

		SetPrincipal(c, principal)
		c.Next()
	}
}

// RequireAuthenticated rejects anonymous requests.
func RequireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetPrincipal(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, CodeAuthenticationRequired, "Authentication required"))
			return
		}
		c.Next()
	}
}

// RequireRole rejects requests whose principal lacks ROLE_<role>.
func RequireRole(role string) gin.HandlerFunc {
	required := domain.RoleAuthority(role)

	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, CodeAuthenticationRequired, "Authentication required"))
			return
		}

		if !principal.HasAuthority(required) {
			authorities := principal.Authorities
			if authorities == nil {
				authorities = []string{}
			}
			c.AbortWithStatusJSON(http.StatusForbidden, AccessDeniedResponse{
				Error:              CodeAccessDenied,
				Message:            "Access denied",
				Detail:             fmt.Sprintf("This resource requires %s", required),
				Suggestion:         "Sign in with an account holding the required role and request a new token",
				MissingRole:        required,
				CurrentAuthorities: authorities,
				Status:             http.StatusForbidden,
				Path:               c.Request.URL.Path,
			})
			return
		}

		c.Next()
	}
}
