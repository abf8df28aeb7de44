package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/logger"
	"github.com/dota-pilot1/dota-admin-backend/internal/transport/http/middleware"
	"github.com/dota-pilot1/dota-admin-backend/internal/usecase"
)

// Refresh endpoint error codes.
const (
	CodeNoRefreshCookie = "NO_REFRESH_COOKIE"
	CodeInvalidRefresh  = "INVALID_REFRESH"
	CodeRevoked         = "REVOKED"
)

// DefaultRefreshCookieName is used when no cookie name is configured.
const DefaultRefreshCookieName = "refresh_token"

// Authenticator is the slice of the auth service used by the HTTP layer.
type Authenticator interface {
	Login(ctx context.Context, email, password string, meta usecase.ClientMetadata) (usecase.LoginResult, error)
	Refresh(ctx context.Context, raw string, meta usecase.ClientMetadata) (usecase.RefreshResult, error)
	Logout(ctx context.Context, raw string) error
	Me(ctx context.Context, email string) (domain.User, error)
	RefreshTokenTTL() time.Duration
}

// Registrar creates accounts.
type Registrar interface {
	Register(ctx context.Context, input usecase.RegisterInput) (domain.User, error)
	RegisterAdmin(ctx context.Context, input usecase.RegisterInput) (domain.User, error)
}

// CookieSettings controls how the refresh cookie is written.
type CookieSettings struct {
	Name   string
	Secure bool
}

var registrationErrorCases = []ErrorCase{
	{Err: usecase.ErrDuplicateUsername, Status: http.StatusBadRequest, Code: CodeInvalidArgument, Message: "Username already exists"},
	{Err: usecase.ErrDuplicateEmail, Status: http.StatusBadRequest, Code: CodeInvalidArgument, Message: "Email already exists"},
	{Err: usecase.ErrDuplicatePhoneNumber, Status: http.StatusBadRequest, Code: CodeInvalidArgument, Message: "Phone number already exists"},
	{Err: usecase.ErrPasswordPolicyViolation, Status: http.StatusBadRequest, Code: CodeInvalidArgument, Message: "Password does not meet requirements"},
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth         Authenticator
	registration Registrar
	cookie       CookieSettings
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth Authenticator, registration Registrar, cookie CookieSettings) *AuthHandler {
	if strings.TrimSpace(cookie.Name) == "" {
		cookie.Name = DefaultRefreshCookieName
	}
	return &AuthHandler{
		auth:         auth,
		registration: registration,
		cookie:       cookie,
	}
}

// AuthRouteMiddleware holds the per-endpoint middleware chains.
type AuthRouteMiddleware struct {
	Login    []gin.HandlerFunc
	Register []gin.HandlerFunc
	Refresh  []gin.HandlerFunc
}

// RegisterRoutes binds authentication routes under r.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, mw AuthRouteMiddleware) {
	r.POST("/register", chain(mw.Register, h.register)...)
	r.POST("/register-admin", chain([]gin.HandlerFunc{middleware.RequireRole(domain.RoleAdmin)}, h.registerAdmin)...)
	r.POST("/login", chain(mw.Login, h.login)...)
	r.POST("/refresh", chain(mw.Refresh, h.refresh)...)
	r.POST("/logout", h.logout)
	r.GET("/me", h.me)
}

func chain(mws []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	handlers := make([]gin.HandlerFunc, 0, len(mws)+1)
	for _, mw := range mws {
		if mw != nil {
			handlers = append(handlers, mw)
		}
	}
	return append(handlers, handler)
}

func (h *AuthHandler) register(c *gin.Context) {
	h.handleRegistration(c, h.registration.Register, "User registered successfully", false)
}

func (h *AuthHandler) registerAdmin(c *gin.Context) {
	h.handleRegistration(c, h.registration.RegisterAdmin, "Admin registered successfully", true)
}

func (h *AuthHandler) handleRegistration(
	c *gin.Context,
	create func(context.Context, usecase.RegisterInput) (domain.User, error),
	message string,
	includeRole bool,
) {
	var req RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	user, err := create(c.Request.Context(), usecase.RegisterInput{
		Username:                 req.Username,
		Password:                 req.Password,
		Email:                    req.Email,
		PhoneNumber:              req.PhoneNumber,
		KakaoNotificationConsent: req.KakaoNotificationConsent,
	})
	if err != nil {
		RespondError(c, err, registrationErrorCases...)
		return
	}

	resp := RegistrationResponse{
		Success:  true,
		Message:  message,
		UserID:   user.ID,
		Username: user.Username,
	}
	if includeRole {
		resp.Role = user.RoleName
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	result, err := h.auth.Login(c.Request.Context(), strings.TrimSpace(req.Email), req.Password, clientMetadata(c))
	if err != nil {
		RespondError(c, err, ErrorCase{
			Err:     usecase.ErrInvalidCredentials,
			Status:  http.StatusUnauthorized,
			Code:    CodeAuthenticationFailed,
			Message: "Invalid credentials",
		})
		return
	}

	h.setRefreshCookie(c, result.Refresh.Secret)

	authorities := result.Authorities
	if authorities == nil {
		authorities = []string{}
	}

	c.JSON(http.StatusOK, LoginResponse{
		Message:     "Login successful",
		Token:       result.AccessToken,
		ID:          result.User.ID,
		Username:    result.User.Username,
		Email:       result.User.Email,
		Role:        result.User.RoleName,
		Authorities: authorities,
		ExpiresIn:   result.ExpiresIn,
	})
}

func (h *AuthHandler) refresh(c *gin.Context) {
	raw, err := c.Cookie(h.cookie.Name)
	if err != nil || strings.TrimSpace(raw) == "" {
		c.JSON(http.StatusUnauthorized, RefreshErrorResponse{Error: CodeNoRefreshCookie, Message: "Refresh token cookie is missing"})
		return
	}

	result, err := h.auth.Refresh(c.Request.Context(), raw, clientMetadata(c))
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrRefreshTokenRevoked):
			h.clearRefreshCookie(c)
			c.JSON(http.StatusUnauthorized, RefreshErrorResponse{Error: CodeRevoked, Message: "Refresh token has been revoked"})
		case errors.Is(err, usecase.ErrInvalidRefreshToken):
			h.clearRefreshCookie(c)
			c.JSON(http.StatusUnauthorized, RefreshErrorResponse{Error: CodeInvalidRefresh, Message: "Refresh token is invalid or expired"})
		default:
			RespondError(c, err)
		}
		return
	}

	h.setRefreshCookie(c, result.Refresh.Secret)
	c.JSON(http.StatusOK, RefreshResponse{
		AccessToken: result.AccessToken,
		ExpiresIn:   result.ExpiresIn,
	})
}

func (h *AuthHandler) logout(c *gin.Context) {
	if raw, err := c.Cookie(h.cookie.Name); err == nil && raw != "" {
		if err := h.auth.Logout(c.Request.Context(), raw); err != nil {
			RespondError(c, err)
			return
		}
	}

	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, MessageResponse{Message: "Logged out"})
}

func (h *AuthHandler) me(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, CodeNotAuthenticated, "Not authenticated"))
		return
	}

	user, err := h.auth.Me(c.Request.Context(), principal.Email)
	if err != nil {
		if errors.Is(err, usecase.ErrUserNotFound) {
			logger.WithContext(c.Request.Context()).Warn("authenticated principal has no account",
				zap.String("email", logger.MaskEmail(principal.Email)))
		}
		RespondError(c, err, ErrorCase{
			Err:     usecase.ErrUserNotFound,
			Status:  http.StatusNotFound,
			Code:    CodeUserNotFound,
			Message: "User not found",
		})
		return
	}

	c.JSON(http.StatusOK, newUserSummary(user))
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, secret string) {
	maxAge := int(h.auth.RefreshTokenTTL() / time.Second)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, secret, maxAge, "/", "", h.cookie.Secure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, "", -1, "/", "", h.cookie.Secure, true)
}

func clientMetadata(c *gin.Context) usecase.ClientMetadata {
	reqCtx := middleware.GetRequestContext(c)
	return usecase.ClientMetadata{
		IP:        strings.TrimSpace(reqCtx.IP),
		UserAgent: strings.TrimSpace(reqCtx.UserAgent),
	}
}
