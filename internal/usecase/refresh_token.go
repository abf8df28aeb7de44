package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/core/port"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/security"
	"github.com/dota-pilot1/dota-admin-backend/internal/repository"
)

const (
	defaultRefreshTokenTTL = 14 * 24 * time.Hour
	maxClientIPLength      = 64
	maxUserAgentLength     = 256
)

var (
	// ErrInvalidRefreshToken indicates the presented secret is unknown or expired.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenRevoked indicates the presented secret was already consumed or revoked.
	ErrRefreshTokenRevoked = errors.New("refresh token revoked")
)

// SecretHasher fingerprints refresh secrets.
type SecretHasher interface {
	Hash(secret string) string
	Matches(secret, stored string) bool
}

// ClientMetadata describes the client a refresh token is issued to.
type ClientMetadata struct {
	IP        string
	UserAgent string
}

// IssuedRefreshToken pairs the raw secret handed to the client with the stored record.
type IssuedRefreshToken struct {
	Secret string
	Record domain.RefreshToken
}

// RefreshTokenService creates, looks up and rotates refresh tokens. Raw
// secrets leave this service only in its return values.
type RefreshTokenService struct {
	tokens port.RefreshTokenRepository
	hasher SecretHasher
	ttl    time.Duration
	now    func() time.Time
}

// NewRefreshTokenService constructs the service.
func NewRefreshTokenService(tokens port.RefreshTokenRepository, hasher SecretHasher, ttl time.Duration) *RefreshTokenService {
	if ttl <= 0 {
		ttl = defaultRefreshTokenTTL
	}
	return &RefreshTokenService{tokens: tokens, hasher: hasher, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source.
func (s *RefreshTokenService) WithClock(now func() time.Time) *RefreshTokenService {
	if now != nil {
		s.now = now
	}
	return s
}

// TTL returns the lifetime of issued refresh tokens.
func (s *RefreshTokenService) TTL() time.Duration {
	return s.ttl
}

// Create issues a fresh refresh token for the user.
func (s *RefreshTokenService) Create(ctx context.Context, userID int64, meta ClientMetadata) (IssuedRefreshToken, error) {
	issued, err := s.mint(userID, meta)
	if err != nil {
		return IssuedRefreshToken{}, err
	}
	if err := s.tokens.Create(ctx, issued.Record); err != nil {
		return IssuedRefreshToken{}, fmt.Errorf("store refresh token: %w", err)
	}
	return issued, nil
}

// Lookup returns the record matching the raw secret in whatever state it is.
func (s *RefreshTokenService) Lookup(ctx context.Context, raw string) (*domain.RefreshToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidRefreshToken
	}

	record, err := s.tokens.GetByHash(ctx, s.hasher.Hash(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	if !s.hasher.Matches(raw, record.TokenHash) {
		return nil, ErrInvalidRefreshToken
	}

	return record, nil
}

// FindValid returns the record only when it is neither revoked nor expired.
func (s *RefreshTokenService) FindValid(ctx context.Context, raw string) (*domain.RefreshToken, error) {
	record, err := s.Lookup(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !record.IsValid(s.now()) {
		return nil, ErrInvalidRefreshToken
	}
	return record, nil
}

// Revoke flags the record revoked. Unknown and already revoked records are not errors.
func (s *RefreshTokenService) Revoke(ctx context.Context, record domain.RefreshToken) error {
	if record.Revoked {
		return nil
	}
	if err := s.tokens.Revoke(ctx, record.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAll revokes every live token of the user.
func (s *RefreshTokenService) RevokeAll(ctx context.Context, userID int64) (int, error) {
	count, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return count, nil
}

// Rotate consumes the record and issues its replacement for the same user.
// A concurrent rotation that already consumed it yields ErrRefreshTokenRevoked.
func (s *RefreshTokenService) Rotate(ctx context.Context, consumed domain.RefreshToken, meta ClientMetadata) (IssuedRefreshToken, error) {
	issued, err := s.mint(consumed.UserID, meta)
	if err != nil {
		return IssuedRefreshToken{}, err
	}

	if err := s.tokens.Rotate(ctx, consumed.ID, issued.Record); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return IssuedRefreshToken{}, ErrRefreshTokenRevoked
		}
		return IssuedRefreshToken{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	return issued, nil
}

func (s *RefreshTokenService) mint(userID int64, meta ClientMetadata) (IssuedRefreshToken, error) {
	secret, err := security.GenerateSecureToken(security.RefreshSecretBytes)
	if err != nil {
		return IssuedRefreshToken{}, fmt.Errorf("generate refresh secret: %w", err)
	}

	now := s.now().UTC()
	record := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: s.hasher.Hash(secret),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
		IP:        truncated(meta.IP, maxClientIPLength),
		UserAgent: truncated(meta.UserAgent, maxUserAgentLength),
	}

	return IssuedRefreshToken{Secret: secret, Record: record}, nil
}

func truncated(value string, limit int) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	// Limits count characters, matching VARCHAR(n); cutting on a rune
	// boundary keeps the stored value valid UTF-8.
	count := 0
	for i := range value {
		if count == limit {
			value = value[:i]
			break
		}
		count++
	}
	return &value
}
