package port

import (
	"context"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
)

// RoleRepository manages role definitions.
type RoleRepository interface {
	GetByName(ctx context.Context, name string) (*domain.Role, error)
	List(ctx context.Context) ([]domain.Role, error)
	// Ensure inserts the role when no role with the same name exists.
	Ensure(ctx context.Context, name, description string) error
}

// AuthorityRepository resolves fine-grained authorities granted to a user.
type AuthorityRepository interface {
	// ListNamesForUser returns the distinct authority names granted through
	// the user's role or directly to the user, excluding expired grants.
	ListNamesForUser(ctx context.Context, userID, roleID int64) ([]string, error)
}
