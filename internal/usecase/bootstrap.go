package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/core/port"
)

var builtinRoles = []domain.Role{
	{Name: domain.RoleUser, Description: "Standard member"},
	{Name: domain.RoleAdmin, Description: "Administrator"},
	{Name: domain.RoleDeveloper, Description: "Developer"},
}

// BootstrapOptions selects the startup seeding steps.
type BootstrapOptions struct {
	EnsureRoles   bool
	AdminRole     string
	DefaultRoles  []string
	SeedAdmin     bool
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// Bootstrapper prepares the role table and the default admin account before the server accepts traffic.
type Bootstrapper struct {
	roles  port.RoleRepository
	users  port.UserRepository
	hasher PasswordHasher
	opts   BootstrapOptions
	logger *zap.Logger
}

// NewBootstrapper constructs a Bootstrapper.
func NewBootstrapper(roles port.RoleRepository, users port.UserRepository, hasher PasswordHasher, opts BootstrapOptions, log *zap.Logger) *Bootstrapper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bootstrapper{roles: roles, users: users, hasher: hasher, opts: opts, logger: log}
}

// Run seeds what is configured and resolves the registration role set.
func (b *Bootstrapper) Run(ctx context.Context) (RoleSet, error) {
	if b.opts.EnsureRoles {
		for _, role := range builtinRoles {
			if err := b.roles.Ensure(ctx, role.Name, role.Description); err != nil {
				return RoleSet{}, err
			}
		}
	}

	set, err := ResolveRoleSet(ctx, b.roles, b.opts.AdminRole, b.opts.DefaultRoles)
	if err != nil {
		return RoleSet{}, err
	}

	if b.opts.SeedAdmin {
		if err := b.seedAdmin(ctx, set.Admin); err != nil {
			return RoleSet{}, err
		}
	}

	b.logger.Info("roles resolved",
		zap.String("admin_role", set.Admin.Name),
		zap.String("default_role", set.Default.Name),
	)

	return set, nil
}

func (b *Bootstrapper) seedAdmin(ctx context.Context, admin domain.Role) error {
	if strings.TrimSpace(b.opts.AdminPassword) == "" {
		b.logger.Warn("admin seeding enabled without a password; skipping")
		return nil
	}

	admins, err := b.users.CountByRole(ctx, admin.ID)
	if err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if admins > 0 {
		return nil
	}

	exists, err := b.users.ExistsByEmail(ctx, b.opts.AdminEmail)
	if err != nil {
		return fmt.Errorf("check admin email: %w", err)
	}
	if exists {
		b.logger.Warn("default admin email already registered under another role; skipping seed")
		return nil
	}

	hash, err := b.hasher.Hash(b.opts.AdminPassword)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	id, err := b.users.Create(ctx, domain.NewUser{
		Username:     b.opts.AdminUsername,
		Email:        b.opts.AdminEmail,
		PasswordHash: hash,
		RoleID:       admin.ID,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("create default admin: %w", err)
	}

	b.logger.Info("default admin created", zap.Int64("user_id", id))
	return nil
}
