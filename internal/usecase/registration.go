package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/core/port"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/logger"
	"github.com/dota-pilot1/dota-admin-backend/internal/repository"
)

const eventPublishTimeout = 5 * time.Second

var (
	// ErrDuplicateUsername indicates the username is already taken.
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrDuplicateEmail indicates the email is already registered.
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrDuplicatePhoneNumber indicates the phone number is already registered.
	ErrDuplicatePhoneNumber = errors.New("phone number already exists")
	// ErrPasswordPolicyViolation indicates the password does not satisfy the configured policy.
	ErrPasswordPolicyViolation = errors.New("password does not meet policy requirements")
)

// PasswordHasher hashes and verifies account passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// PasswordPolicy validates a candidate password against account fields.
type PasswordPolicy interface {
	Validate(password string, userInputs ...string) error
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Username                 string
	Password                 string
	Email                    string
	PhoneNumber              *string
	KakaoNotificationConsent bool
}

// RegistrationService handles new account onboarding.
type RegistrationService struct {
	users     port.UserRepository
	roles     *RoleResolver
	hasher    PasswordHasher
	policy    PasswordPolicy
	publisher port.EventPublisher
	logger    *zap.Logger
	now       func() time.Time

	pending sync.WaitGroup
}

// NewRegistrationService constructs a registration service. A nil publisher disables member-joined events.
func NewRegistrationService(
	users port.UserRepository,
	roles *RoleResolver,
	hasher PasswordHasher,
	policy PasswordPolicy,
	publisher port.EventPublisher,
	log *zap.Logger,
) *RegistrationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RegistrationService{
		users:     users,
		roles:     roles,
		hasher:    hasher,
		policy:    policy,
		publisher: publisher,
		logger:    log,
		now:       time.Now,
	}
}

// Register creates a member account with the role chosen by the resolver.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (domain.User, error) {
	role, err := s.roles.ForNewMember(ctx)
	if err != nil {
		return domain.User{}, err
	}
	return s.register(ctx, input, role)
}

// RegisterAdmin creates an account holding the admin role.
func (s *RegistrationService) RegisterAdmin(ctx context.Context, input RegisterInput) (domain.User, error) {
	return s.register(ctx, input, s.roles.Roles().Admin)
}

// Wait blocks until in-flight event publications finish.
func (s *RegistrationService) Wait() {
	s.pending.Wait()
}

func (s *RegistrationService) register(ctx context.Context, input RegisterInput, role domain.Role) (domain.User, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)
	if username == "" {
		return domain.User{}, fmt.Errorf("username is required")
	}
	if email == "" {
		return domain.User{}, fmt.Errorf("email is required")
	}
	if input.Password == "" {
		return domain.User{}, fmt.Errorf("password is required")
	}

	taken, err := s.users.ExistsByUsername(ctx, username)
	if err != nil {
		return domain.User{}, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return domain.User{}, ErrDuplicateUsername
	}

	taken, err = s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	}
	if taken {
		return domain.User{}, ErrDuplicateEmail
	}

	if s.policy != nil {
		if err := s.policy.Validate(input.Password, username, email); err != nil {
			return domain.User{}, fmt.Errorf("%w: %v", ErrPasswordPolicyViolation, err)
		}
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	var phone *string
	if input.PhoneNumber != nil {
		if trimmed := strings.TrimSpace(*input.PhoneNumber); trimmed != "" {
			phone = &trimmed
		}
	}

	now := s.now().UTC()
	id, err := s.users.Create(ctx, domain.NewUser{
		Username:                 username,
		Email:                    email,
		PasswordHash:             passwordHash,
		RoleID:                   role.ID,
		PhoneNumber:              phone,
		KakaoNotificationConsent: input.KakaoNotificationConsent,
		CreatedAt:                now,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateUsername):
			return domain.User{}, ErrDuplicateUsername
		case errors.Is(err, repository.ErrDuplicateEmail):
			return domain.User{}, ErrDuplicateEmail
		case errors.Is(err, repository.ErrDuplicatePhone):
			return domain.User{}, ErrDuplicatePhoneNumber
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}

	user := domain.User{
		ID:                       id,
		Username:                 username,
		Email:                    email,
		RoleID:                   role.ID,
		RoleName:                 role.Name,
		PhoneNumber:              phone,
		KakaoNotificationConsent: input.KakaoNotificationConsent,
		CreatedAt:                now,
		UpdatedAt:                now,
	}

	logger.WithContext(ctx).Info("member registered",
		zap.Int64("user_id", id),
		zap.String("email", logger.MaskEmail(email)),
		zap.String("role", role.Name),
	)

	s.publishJoined(ctx, user)

	return user, nil
}

// publishJoined emits the member-joined event in the background. Delivery
// failures are logged and never reach the caller.
func (s *RegistrationService) publishJoined(ctx context.Context, user domain.User) {
	if s.publisher == nil {
		return
	}

	event := domain.MemberJoinedEvent{
		EventID:                  uuid.NewString(),
		UserID:                   user.ID,
		Username:                 user.Username,
		Email:                    user.Email,
		PhoneNumber:              user.PhoneNumber,
		KakaoNotificationConsent: user.KakaoNotificationConsent,
		Role:                     user.RoleName,
		JoinedAt:                 user.CreatedAt,
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
		defer cancel()

		if err := s.publisher.PublishMemberJoined(publishCtx, event); err != nil {
			s.logger.Warn("publish member joined event failed",
				zap.Int64("user_id", event.UserID),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
	}()
}
