package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/core/port"
	"github.com/dota-pilot1/dota-admin-backend/internal/repository"
)

// ErrDuplicateTokenHash indicates a hash collision on insert.
var ErrDuplicateTokenHash = errors.New("postgres: duplicate refresh token hash")

var tokenConstraints = map[string]error{
	"refresh_tokens_token_hash_key": ErrDuplicateTokenHash,
}

// TokenRepository persists refresh token records.
type TokenRepository struct {
	db      pgDB
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.RefreshTokenRepository = (*TokenRepository)(nil)

// NewTokenRepository constructs a token repository instance.
func NewTokenRepository(db pgDB) *TokenRepository {
	return &TokenRepository{
		db:      db,
		exec:    db,
		builder: newBuilder(),
	}
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *TokenRepository) WithTx(tx pgx.Tx) *TokenRepository {
	if tx == nil {
		return r
	}
	return &TokenRepository{
		db:      r.db,
		exec:    tx,
		builder: r.builder,
	}
}

// Create stores a refresh token record.
func (r *TokenRepository) Create(ctx context.Context, token domain.RefreshToken) error {
	return r.insert(ctx, r.exec, token)
}

// GetByHash fetches a refresh token by its keyed hash.
func (r *TokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	stmt, args, err := r.builder.
		Select("id", "user_id", "token_hash", "expires_at", "revoked", "ip", "user_agent", "created_at").
		From("refresh_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	var (
		token     domain.RefreshToken
		ip        sql.NullString
		userAgent sql.NullString
	)

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.Revoked,
		&ip,
		&userAgent,
		&token.CreatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	if ip.Valid {
		val := ip.String
		token.IP = &val
	}
	if userAgent.Valid {
		val := userAgent.String
		token.UserAgent = &val
	}

	return &token, nil
}

// Revoke marks the record revoked. Revoking twice is not an error.
func (r *TokenRepository) Revoke(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update("refresh_tokens").
		Set("revoked", true).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke refresh token sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Rotate consumes the live record and stores its replacement in one
// transaction. Concurrent rotations of the same record serialize on the row
// lock taken by the conditional update; only the first one commits.
func (r *TokenRepository) Rotate(ctx context.Context, consumedID string, replacement domain.RefreshToken) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotate tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	stmt, args, err := r.builder.Update("refresh_tokens").
		Set("revoked", true).
		Where(squirrel.Eq{"id": consumedID, "revoked": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build consume refresh token sql: %w", err)
	}

	tag, err := tx.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("consume refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConflict
	}

	if err = r.insert(ctx, tx, replacement); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotate tx: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every live record of the user and returns how many changed.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID int64) (int, error) {
	stmt, args, err := r.builder.Update("refresh_tokens").
		Set("revoked", true).
		Where(squirrel.Eq{"user_id": userID, "revoked": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke user refresh tokens sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *TokenRepository) insert(ctx context.Context, exec pgExecutor, token domain.RefreshToken) error {
	var ipValue, userAgentValue any
	if token.IP != nil {
		ipValue = *token.IP
	}
	if token.UserAgent != nil {
		userAgentValue = *token.UserAgent
	}

	stmt, args, err := r.builder.Insert("refresh_tokens").
		Columns("id", "user_id", "token_hash", "expires_at", "revoked", "ip", "user_agent", "created_at").
		Values(token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.Revoked, ipValue, userAgentValue, token.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := exec.Exec(ctx, stmt, args...); err != nil {
		if mapped := constraintError(err, tokenConstraints); mapped != err {
			return mapped
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}
