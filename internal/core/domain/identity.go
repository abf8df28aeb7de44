package domain

import "time"

// User mirrors the persisted representation in the users table.
type User struct {
	ID                       int64
	Username                 string
	Email                    string
	PasswordHash             string
	RoleID                   int64
	RoleName                 string
	PhoneNumber              *string
	KakaoNotificationConsent bool
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// Sanitized returns a copy with the password hash cleared.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	return u
}

// UserSummary is the public projection of a user returned by the API.
type UserSummary struct {
	ID       int64
	Username string
	Email    string
	Role     string
}

// Summary projects the user into its public fields.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.RoleName,
	}
}

// NewUser carries the fields required to persist a freshly registered account.
type NewUser struct {
	Username                 string
	Email                    string
	PasswordHash             string
	RoleID                   int64
	PhoneNumber              *string
	KakaoNotificationConsent bool
	CreatedAt                time.Time
}
