package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/core/port"
	"github.com/dota-pilot1/dota-admin-backend/internal/repository"
)

// ErrRoleNotConfigured indicates a required role is missing from the store.
var ErrRoleNotConfigured = errors.New("role not configured")

// RoleSet holds the roles registration assigns, resolved once at startup.
type RoleSet struct {
	Admin   domain.Role
	Default domain.Role
}

// ResolveRoleSet loads the admin role and the first existing role of the
// ordered fallback list.
func ResolveRoleSet(ctx context.Context, roles port.RoleRepository, adminName string, fallback []string) (RoleSet, error) {
	admin, err := roles.GetByName(ctx, strings.ToUpper(strings.TrimSpace(adminName)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return RoleSet{}, fmt.Errorf("%w: %s", ErrRoleNotConfigured, adminName)
		}
		return RoleSet{}, fmt.Errorf("load admin role: %w", err)
	}

	for _, name := range fallback {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		role, err := roles.GetByName(ctx, name)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return RoleSet{}, fmt.Errorf("load role %s: %w", name, err)
		}
		return RoleSet{Admin: *admin, Default: *role}, nil
	}

	return RoleSet{}, fmt.Errorf("%w: none of %v", ErrRoleNotConfigured, fallback)
}

// RoleResolver picks the role of a newly registered member.
type RoleResolver struct {
	set            RoleSet
	users          port.UserRepository
	firstUserAdmin bool
}

// NewRoleResolver constructs a resolver. With firstUserAdmin set, members
// registering while no admin exists become admins.
func NewRoleResolver(set RoleSet, users port.UserRepository, firstUserAdmin bool) *RoleResolver {
	return &RoleResolver{set: set, users: users, firstUserAdmin: firstUserAdmin}
}

// Roles returns the resolved role handles.
func (r *RoleResolver) Roles() RoleSet {
	return r.set
}

// ForNewMember returns the admin role for the first member when enabled and the default role otherwise.
func (r *RoleResolver) ForNewMember(ctx context.Context) (domain.Role, error) {
	if !r.firstUserAdmin {
		return r.set.Default, nil
	}

	total, err := r.users.Count(ctx)
	if err != nil {
		return domain.Role{}, fmt.Errorf("count users: %w", err)
	}
	if total == 0 {
		return r.set.Admin, nil
	}

	admins, err := r.users.CountByRole(ctx, r.set.Admin.ID)
	if err != nil {
		return domain.Role{}, fmt.Errorf("count admins: %w", err)
	}
	if admins == 0 {
		return r.set.Admin, nil
	}

	return r.set.Default, nil
}
