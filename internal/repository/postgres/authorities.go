package postgres

import (
	"context"
	"fmt"
	"sort"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/port"
)

// AuthorityRepository resolves authority names granted through roles and direct user grants.
type AuthorityRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.AuthorityRepository = (*AuthorityRepository)(nil)

// NewAuthorityRepository constructs an authority repository instance.
func NewAuthorityRepository(exec pgExecutor) *AuthorityRepository {
	return &AuthorityRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// ListNamesForUser returns the sorted union of role and direct grants.
// Direct grants whose expires_at has passed are excluded.
func (r *AuthorityRepository) ListNamesForUser(ctx context.Context, userID, roleID int64) ([]string, error) {
	viaRole := r.builder.Select("a.name").
		From("authorities a").
		Join("role_authorities ra ON ra.authority_id = a.id").
		Where(squirrel.Eq{"ra.role_id": roleID})

	direct := r.builder.Select("a.name").
		From("authorities a").
		Join("user_authorities ua ON ua.authority_id = a.id").
		Where(squirrel.Eq{"ua.user_id": userID}).
		Where(squirrel.Or{
			squirrel.Eq{"ua.expires_at": nil},
			squirrel.Expr("ua.expires_at > NOW()"),
		})

	directSQL, directArgs, err := direct.PlaceholderFormat(squirrel.Question).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build direct authorities sql: %w", err)
	}

	stmt, args, err := viaRole.
		Suffix("UNION "+directSQL, directArgs...).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build authorities sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query authorities: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan authority: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authorities: %w", err)
	}

	sort.Strings(names)
	return names, nil
}
