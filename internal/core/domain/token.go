package domain

import "time"

// RefreshToken represents a persisted refresh token. Only the keyed hash of
// the raw secret is stored.
type RefreshToken struct {
	ID        string
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	IP        *string
	UserAgent *string
	CreatedAt time.Time
}

// IsExpired reports whether the token has elapsed its validity window.
func (t RefreshToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsValid returns true when the token can still be presented for rotation.
func (t RefreshToken) IsValid(at time.Time) bool {
	return !t.Revoked && !t.IsExpired(at)
}
