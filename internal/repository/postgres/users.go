package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/core/port"
	"github.com/dota-pilot1/dota-admin-backend/internal/repository"
)

var userConstraints = map[string]error{
	"users_username_key":     repository.ErrDuplicateUsername,
	"users_email_key":        repository.ErrDuplicateEmail,
	"users_phone_number_key": repository.ErrDuplicatePhone,
}

var userColumns = []string{
	"u.id",
	"u.username",
	"u.email",
	"u.password_hash",
	"u.role_id",
	"r.name",
	"u.phone_number",
	"u.kakao_notification_consent",
	"u.created_at",
	"u.updated_at",
}

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.UserRepository = (*UserRepository)(nil)

// NewUserRepository wires a PostgreSQL-backed user repository.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	if tx == nil {
		return r
	}
	return &UserRepository{
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a new user row and returns the generated identifier.
func (r *UserRepository) Create(ctx context.Context, user domain.NewUser) (int64, error) {
	var phoneValue any
	if user.PhoneNumber != nil && strings.TrimSpace(*user.PhoneNumber) != "" {
		phoneValue = *user.PhoneNumber
	}

	stmt, args, err := r.builder.Insert("users").
		Columns(
			"username",
			"email",
			"password_hash",
			"role_id",
			"phone_number",
			"kakao_notification_consent",
			"created_at",
			"updated_at",
		).
		Values(
			user.Username,
			user.Email,
			user.PasswordHash,
			user.RoleID,
			phoneValue,
			user.KakaoNotificationConsent,
			user.CreatedAt,
			user.CreatedAt,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert user sql: %w", err)
	}

	var id int64
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&id); err != nil {
		if mapped := constraintError(err, userConstraints); mapped != err {
			return 0, mapped
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}

	return id, nil
}

// GetByID retrieves a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"u.id": id})
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"u.email": email})
}

// ExistsByUsername reports whether the username is taken.
func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, squirrel.Eq{"username": username})
}

// ExistsByEmail reports whether the email is registered.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, squirrel.Eq{"email": email})
}

// Count returns the total number of users.
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	return r.count(ctx, nil)
}

// CountByRole returns the number of users holding the role.
func (r *UserRepository) CountByRole(ctx context.Context, roleID int64) (int, error) {
	return r.count(ctx, squirrel.Eq{"role_id": roleID})
}

// Delete removes a user. Refresh tokens and direct grants cascade.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	stmt, args, err := r.builder.Delete("users").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete user sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) getOne(ctx context.Context, where squirrel.Sqlizer) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(userColumns...).
		From("users u").
		Join("roles r ON r.id = u.role_id").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	user, err := scanUser(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) exists(ctx context.Context, where squirrel.Sqlizer) (bool, error) {
	stmt, args, err := r.builder.Select("1").
		From("users").
		Where(where).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists user sql: %w", err)
	}

	var found bool
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("query user exists: %w", err)
	}
	return found, nil
}

func (r *UserRepository) count(ctx context.Context, where squirrel.Sqlizer) (int, error) {
	query := r.builder.Select("COUNT(*)").From("users")
	if where != nil {
		query = query.Where(where)
	}
	stmt, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count users sql: %w", err)
	}

	var total int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return total, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user  domain.User
		phone sql.NullString
	)

	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.RoleID,
		&user.RoleName,
		&phone,
		&user.KakaoNotificationConsent,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if phone.Valid {
		val := phone.String
		user.PhoneNumber = &val
	}

	return &user, nil
}
