package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/security"
	"github.com/dota-pilot1/dota-admin-backend/internal/repository"
)

const testSigningSecret = "0123456789abcdef0123456789abcdef"

type fakeUserRepository struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]domain.User
	roles  map[int64]string

	countErr error
}

func newFakeUserRepository(roles ...domain.Role) *fakeUserRepository {
	names := make(map[int64]string, len(roles))
	for _, role := range roles {
		names[role.ID] = role.Name
	}
	return &fakeUserRepository{users: map[int64]domain.User{}, roles: names}
}

func (r *fakeUserRepository) Create(_ context.Context, user domain.NewUser) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Username == user.Username {
			return 0, repository.ErrDuplicateUsername
		}
		if existing.Email == user.Email {
			return 0, repository.ErrDuplicateEmail
		}
	}

	r.nextID++
	r.users[r.nextID] = domain.User{
		ID:                       r.nextID,
		Username:                 user.Username,
		Email:                    user.Email,
		PasswordHash:             user.PasswordHash,
		RoleID:                   user.RoleID,
		RoleName:                 r.roles[user.RoleID],
		PhoneNumber:              user.PhoneNumber,
		KakaoNotificationConsent: user.KakaoNotificationConsent,
		CreatedAt:                user.CreatedAt,
		UpdatedAt:                user.CreatedAt,
	}
	return r.nextID, nil
}

func (r *fakeUserRepository) GetByID(_ context.Context, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		return &user, nil
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			copied := user
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepository) ExistsByUsername(_ context.Context, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *fakeUserRepository) Count(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users), r.countErr
}

func (r *fakeUserRepository) CountByRole(_ context.Context, roleID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, user := range r.users {
		if user.RoleID == roleID {
			total++
		}
	}
	return total, r.countErr
}

func (r *fakeUserRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

type fakeRoleRepository struct {
	mu     sync.Mutex
	nextID int64
	roles  map[string]domain.Role
}

func newFakeRoleRepository(names ...string) *fakeRoleRepository {
	repo := &fakeRoleRepository{roles: map[string]domain.Role{}}
	for _, name := range names {
		_ = repo.Ensure(context.Background(), name, "")
	}
	return repo
}

func (r *fakeRoleRepository) GetByName(_ context.Context, name string) (*domain.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role, ok := r.roles[name]; ok {
		return &role, nil
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRoleRepository) List(context.Context) ([]domain.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	return out, nil
}

func (r *fakeRoleRepository) Ensure(_ context.Context, name, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[name]; ok {
		return nil
	}
	r.nextID++
	r.roles[name] = domain.Role{ID: r.nextID, Name: name, Description: description}
	return nil
}

type fakeAuthorityRepository struct {
	byRole map[int64][]string
	byUser map[int64][]string
}

func (r *fakeAuthorityRepository) ListNamesForUser(_ context.Context, userID, roleID int64) ([]string, error) {
	names := append([]string{}, r.byRole[roleID]...)
	return append(names, r.byUser[userID]...), nil
}

type fakeTokenRepository struct {
	mu      sync.Mutex
	records map[string]domain.RefreshToken
}

func newFakeTokenRepository() *fakeTokenRepository {
	return &fakeTokenRepository{records: map[string]domain.RefreshToken{}}
}

func (r *fakeTokenRepository) Create(_ context.Context, token domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[token.ID] = token
	return nil
}

func (r *fakeTokenRepository) GetByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.TokenHash == hash {
			copied := record
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeTokenRepository) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	record.Revoked = true
	r.records[id] = record
	return nil
}

func (r *fakeTokenRepository) Rotate(_ context.Context, consumedID string, replacement domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[consumedID]
	if !ok || record.Revoked {
		return repository.ErrConflict
	}
	record.Revoked = true
	r.records[consumedID] = record
	r.records[replacement.ID] = replacement
	return nil
}

func (r *fakeTokenRepository) RevokeAllForUser(_ context.Context, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, record := range r.records {
		if record.UserID == userID && !record.Revoked {
			record.Revoked = true
			r.records[id] = record
			count++
		}
	}
	return count, nil
}

func (r *fakeTokenRepository) live(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, record := range r.records {
		if record.UserID == userID && !record.Revoked {
			count++
		}
	}
	return count
}

type recordingPublisher struct {
	events chan domain.MemberJoinedEvent
	err    error
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(chan domain.MemberJoinedEvent, 8)}
}

func (p *recordingPublisher) PublishMemberJoined(_ context.Context, event domain.MemberJoinedEvent) error {
	p.events <- event
	return p.err
}

type countingRecorder struct {
	mu      sync.Mutex
	login   map[string]int
	refresh map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{login: map[string]int{}, refresh: map[string]int{}}
}

func (r *countingRecorder) ObserveLogin(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.login[result]++
}

func (r *countingRecorder) ObserveRefresh(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh[result]++
}

func newTestPasswordHasher(t *testing.T) *security.PasswordHasher {
	t.Helper()
	hasher, err := security.NewPasswordHasher(security.Argon2Config{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("password hasher: %v", err)
	}
	return hasher
}

func newTestSecretHasher(t *testing.T) *security.SecretHasher {
	t.Helper()
	keys, err := security.NewStaticKeyProvider(testSigningSecret)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	key, err := keys.DeriveKey("refresh-token")
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	hasher, err := security.NewSecretHasher(key)
	if err != nil {
		t.Fatalf("secret hasher: %v", err)
	}
	return hasher
}

func newTestCodec(t *testing.T) *security.TokenCodec {
	t.Helper()
	keys, err := security.NewStaticKeyProvider(testSigningSecret)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	codec, err := security.NewTokenCodec(keys, 5*time.Minute)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return codec
}
