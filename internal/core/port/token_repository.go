package port

import (
	"context"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
)

// RefreshTokenRepository persists refresh token records.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token domain.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// Revoke flags the record as revoked. Revoking an already revoked record succeeds.
	Revoke(ctx context.Context, id string) error
	// Rotate atomically revokes the consumed record, provided it is still live,
	// and inserts the replacement. It returns repository.ErrConflict when the
	// consumed record was already revoked.
	Rotate(ctx context.Context, consumedID string, replacement domain.RefreshToken) error
	RevokeAllForUser(ctx context.Context, userID int64) (int, error)
}
