package domain

import (
	"strings"
	"time"
)

// Well-known role names.
const (
	RoleUser      = "USER"
	RoleAdmin     = "ADMIN"
	RoleDeveloper = "DEVELOPER"
)

// RolePrefix is prepended to a role name when it is granted as an authority.
const RolePrefix = "ROLE_"

// Role defines a named permission tier.
type Role struct {
	ID          int64
	Name        string
	Description string
}

// Authority defines a fine-grained permission code such as "CHALLENGE_READ".
type Authority struct {
	ID          int64
	Name        string
	Description string
	Category    string
}

// AuthorityGrant links an authority to a role or to a single user.
// A nil ExpiresAt means the grant never lapses.
type AuthorityGrant struct {
	AuthorityID int64
	RoleID      *int64
	UserID      *int64
	GrantedAt   time.Time
	GrantedBy   *string
	ExpiresAt   *time.Time
}

// ActiveAt reports whether the grant is still in force at the supplied instant.
func (g AuthorityGrant) ActiveAt(at time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(at)
}

// RoleAuthority converts a role name into its granted-authority form.
func RoleAuthority(role string) string {
	role = strings.TrimSpace(role)
	if strings.HasPrefix(role, RolePrefix) {
		return role
	}
	return RolePrefix + role
}

// Principal is the identity and permission set attached to an authenticated request.
type Principal struct {
	Email       string
	Role        string
	Authorities []string
}

// NewPrincipal builds a principal whose granted permissions are ROLE_<role>
// unioned with every entry of the authorities claim, first occurrence wins.
func NewPrincipal(email, role string, authorities []string) Principal {
	granted := make([]string, 0, len(authorities)+1)
	seen := make(map[string]struct{}, len(authorities)+1)

	add := func(value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if _, ok := seen[value]; ok {
			return
		}
		seen[value] = struct{}{}
		granted = append(granted, value)
	}

	if strings.TrimSpace(role) != "" {
		add(RoleAuthority(role))
	}
	for _, authority := range authorities {
		add(authority)
	}

	return Principal{
		Email:       email,
		Role:        role,
		Authorities: granted,
	}
}

// HasAuthority reports whether the principal was granted the given authority.
func (p Principal) HasAuthority(authority string) bool {
	for _, granted := range p.Authorities {
		if granted == authority {
			return true
		}
	}
	return false
}

// HasRole reports whether the principal holds ROLE_<role>.
func (p Principal) HasRole(role string) bool {
	return p.HasAuthority(RoleAuthority(role))
}
