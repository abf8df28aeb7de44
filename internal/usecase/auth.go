package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/core/port"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/logger"
	"github.com/dota-pilot1/dota-admin-backend/internal/repository"
)

var (
	// ErrInvalidCredentials indicates the email or password is incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound indicates no account matches the principal.
	ErrUserNotFound = errors.New("user not found")
)

// Outcome labels reported to the AuthRecorder.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeInvalid            = "invalid"
	OutcomeRevoked            = "revoked"
	OutcomeError              = "error"
)

const timingEqualizerPassword = "timing-equalizer-password"

// AccessTokenIssuer signs access tokens.
type AccessTokenIssuer interface {
	Issue(email, role string, authorities []string) (string, error)
	TTL() time.Duration
}

// AuthRecorder receives authentication outcomes for metrics.
type AuthRecorder interface {
	ObserveLogin(result string)
	ObserveRefresh(result string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveLogin(string)   {}
func (noopRecorder) ObserveRefresh(string) {}

// LoginResult is returned after a successful login.
type LoginResult struct {
	AccessToken string
	ExpiresIn   int64
	User        domain.User
	Authorities []string
	Refresh     IssuedRefreshToken
}

// RefreshResult is returned after a successful rotation.
type RefreshResult struct {
	AccessToken string
	ExpiresIn   int64
	Refresh     IssuedRefreshToken
}

// AuthOptions tunes AuthService behavior.
type AuthOptions struct {
	// RevokeAllOnReuse revokes every live refresh token of a user who presents a revoked one.
	RevokeAllOnReuse bool
	Recorder         AuthRecorder
}

// AuthService coordinates login, refresh, logout and current-user lookups.
type AuthService struct {
	users       port.UserRepository
	authorities port.AuthorityRepository
	hasher      PasswordHasher
	issuer      AccessTokenIssuer
	refresh     *RefreshTokenService
	opts        AuthOptions
	dummyHash   string
	now         func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	users port.UserRepository,
	authorities port.AuthorityRepository,
	hasher PasswordHasher,
	issuer AccessTokenIssuer,
	refresh *RefreshTokenService,
	opts AuthOptions,
) (*AuthService, error) {
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}

	dummy, err := hasher.Hash(timingEqualizerPassword)
	if err != nil {
		return nil, fmt.Errorf("prepare timing equalizer hash: %w", err)
	}

	return &AuthService{
		users:       users,
		authorities: authorities,
		hasher:      hasher,
		issuer:      issuer,
		refresh:     refresh,
		opts:        opts,
		dummyHash:   dummy,
		now:         time.Now,
	}, nil
}

// Login verifies credentials and issues an access token plus a refresh token.
// Unknown email and wrong password both yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string, meta ClientMetadata) (LoginResult, error) {
	result, err := s.login(ctx, strings.TrimSpace(email), password, meta)
	switch {
	case err == nil:
		s.opts.Recorder.ObserveLogin(OutcomeSuccess)
	case errors.Is(err, ErrInvalidCredentials):
		s.opts.Recorder.ObserveLogin(OutcomeInvalidCredentials)
	default:
		s.opts.Recorder.ObserveLogin(OutcomeError)
	}
	return result, err
}

func (s *AuthService) login(ctx context.Context, email, password string, meta ClientMetadata) (LoginResult, error) {
	if email == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_, _ = s.hasher.Verify(password, s.dummyHash)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return LoginResult{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		logger.WithContext(ctx).Info("login rejected", zap.String("email", logger.MaskEmail(email)))
		return LoginResult{}, ErrInvalidCredentials
	}

	authorities, err := s.loadAuthorities(ctx, *user)
	if err != nil {
		return LoginResult{}, err
	}

	token, err := s.issuer.Issue(user.Email, user.RoleName, authorities)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue access token: %w", err)
	}

	issued, err := s.refresh.Create(ctx, user.ID, meta)
	if err != nil {
		return LoginResult{}, err
	}

	logger.WithContext(ctx).Info("login succeeded",
		zap.Int64("user_id", user.ID),
		zap.String("ip", logger.MaskIP(meta.IP)),
	)

	return LoginResult{
		AccessToken: token,
		ExpiresIn:   s.expiresIn(),
		User:        user.Sanitized(),
		Authorities: authorities,
		Refresh:     issued,
	}, nil
}

// Refresh rotates the presented refresh token and issues a new access token
// carrying freshly loaded authorities.
func (s *AuthService) Refresh(ctx context.Context, raw string, meta ClientMetadata) (RefreshResult, error) {
	result, err := s.rotate(ctx, raw, meta)
	switch {
	case err == nil:
		s.opts.Recorder.ObserveRefresh(OutcomeSuccess)
	case errors.Is(err, ErrRefreshTokenRevoked):
		s.opts.Recorder.ObserveRefresh(OutcomeRevoked)
	case errors.Is(err, ErrInvalidRefreshToken):
		s.opts.Recorder.ObserveRefresh(OutcomeInvalid)
	default:
		s.opts.Recorder.ObserveRefresh(OutcomeError)
	}
	return result, err
}

func (s *AuthService) rotate(ctx context.Context, raw string, meta ClientMetadata) (RefreshResult, error) {
	record, err := s.refresh.Lookup(ctx, raw)
	if err != nil {
		return RefreshResult{}, err
	}

	if record.Revoked {
		s.handleReuse(ctx, *record)
		return RefreshResult{}, ErrRefreshTokenRevoked
	}
	if record.IsExpired(s.now()) {
		return RefreshResult{}, ErrInvalidRefreshToken
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return RefreshResult{}, ErrInvalidRefreshToken
		}
		return RefreshResult{}, fmt.Errorf("lookup user: %w", err)
	}

	authorities, err := s.loadAuthorities(ctx, *user)
	if err != nil {
		return RefreshResult{}, err
	}

	token, err := s.issuer.Issue(user.Email, user.RoleName, authorities)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("issue access token: %w", err)
	}

	issued, err := s.refresh.Rotate(ctx, *record, meta)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenRevoked) {
			s.handleReuse(ctx, *record)
		}
		return RefreshResult{}, err
	}

	return RefreshResult{
		AccessToken: token,
		ExpiresIn:   s.expiresIn(),
		Refresh:     issued,
	}, nil
}

// Logout revokes the presented refresh token. Unknown or revoked tokens are not errors.
func (s *AuthService) Logout(ctx context.Context, raw string) error {
	record, err := s.refresh.Lookup(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			return nil
		}
		return err
	}
	return s.refresh.Revoke(ctx, *record)
}

// Me returns the account of the authenticated principal.
func (s *AuthService) Me(ctx context.Context, email string) (domain.User, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user.Sanitized(), nil
}

// AccessTokenTTL returns the lifetime of issued access tokens.
func (s *AuthService) AccessTokenTTL() time.Duration {
	return s.issuer.TTL()
}

// RefreshTokenTTL returns the lifetime of issued refresh tokens.
func (s *AuthService) RefreshTokenTTL() time.Duration {
	return s.refresh.TTL()
}

func (s *AuthService) handleReuse(ctx context.Context, record domain.RefreshToken) {
	log := logger.WithContext(ctx)
	log.Warn("revoked refresh token presented",
		zap.Int64("user_id", record.UserID),
		zap.String("token_id", record.ID),
	)
	if !s.opts.RevokeAllOnReuse {
		return
	}
	revoked, err := s.refresh.RevokeAll(ctx, record.UserID)
	if err != nil {
		log.Error("revoke refresh tokens after reuse failed", zap.Int64("user_id", record.UserID), zap.Error(err))
		return
	}
	log.Warn("refresh tokens revoked after reuse", zap.Int64("user_id", record.UserID), zap.Int("revoked", revoked))
}

func (s *AuthService) loadAuthorities(ctx context.Context, user domain.User) ([]string, error) {
	if s.authorities == nil {
		return []string{}, nil
	}
	names, err := s.authorities.ListNamesForUser(ctx, user.ID, user.RoleID)
	if err != nil {
		return nil, fmt.Errorf("load authorities: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (s *AuthService) expiresIn() int64 {
	return int64(s.issuer.TTL() / time.Second)
}
