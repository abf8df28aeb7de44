package handlers

import (
	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
)

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse describes the response returned for a successful login.
// The refresh token travels in a cookie, never in the body.
type LoginResponse struct {
	Message     string   `json:"message"`
	Token       string   `json:"token"`
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Authorities []string `json:"authorities"`
	ExpiresIn   int64    `json:"expiresIn"`
}

// RefreshResponse is returned by the refresh endpoint.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// RefreshErrorResponse is the 401 body of the refresh endpoint.
type RefreshErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RegistrationRequest defines the account registration payload.
type RegistrationRequest struct {
	Username                 string  `json:"username" binding:"required,username"`
	Password                 string  `json:"password" binding:"required,max=128"`
	Email                    string  `json:"email" binding:"required,email,max=255"`
	PhoneNumber              *string `json:"phoneNumber" binding:"omitempty,max=32"`
	KakaoNotificationConsent bool    `json:"kakaoNotificationConsent"`
}

// RegistrationResponse contains the created account identifiers.
type RegistrationResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

// UserSummary describes the caller returned by /api/auth/me.
type UserSummary struct {
	ID                       int64   `json:"id"`
	Username                 string  `json:"username"`
	Email                    string  `json:"email"`
	Role                     string  `json:"role"`
	PhoneNumber              *string `json:"phoneNumber,omitempty"`
	KakaoNotificationConsent bool    `json:"kakaoNotificationConsent"`
}

func newUserSummary(user domain.User) UserSummary {
	return UserSummary{
		ID:                       user.ID,
		Username:                 user.Username,
		Email:                    user.Email,
		Role:                     user.RoleName,
		PhoneNumber:              user.PhoneNumber,
		KakaoNotificationConsent: user.KakaoNotificationConsent,
	}
}

// PresenceListResponse lists the users currently online.
type PresenceListResponse struct {
	OnlineUsers []string `json:"onlineUsers"`
	Count       int      `json:"count"`
}

// PresenceConnectResponse acknowledges a registered presence session.
type PresenceConnectResponse struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Online    bool   `json:"online"`
}

// PresenceDisconnectRequest identifies the session to drop.
type PresenceDisconnectRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status    string `json:"status"`
	StartedAt string `json:"startedAt"`
}

// ReadinessResponse reports the state of each dependency.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
