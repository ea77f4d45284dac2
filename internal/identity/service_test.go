package identity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bastion-admin/bastion/internal/audit"
	"github.com/bastion-admin/bastion/internal/authz"
	"github.com/bastion-admin/bastion/internal/rbac"
)

// MockUserRepository is a simple in-memory implementation of UserRepository
type MockUserRepository struct {
	mu          sync.Mutex
	users       map[string]*User
	credentials map[string]*Credentials
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{
		users:       make(map[string]*User),
		credentials: make(map[string]*Credentials),
	}
}

func (m *MockUserRepository) Create(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *MockUserRepository) AddCredentials(_ context.Context, credentials *Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[credentials.UserID] = credentials
	return nil
}

func (m *MockUserRepository) GetByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (m *MockUserRepository) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MockUserRepository) UpdateStatus(_ context.Context, userID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Status = status
	return nil
}

func (m *MockUserRepository) UpdateLockout(_ context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.FailedLoginAttempts = failedAttempts
	u.LockedUntil = lockedUntil
	return nil
}

func (m *MockUserRepository) GetCredentials(_ context.Context, userID string) (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return c, nil
}

func (m *MockUserRepository) UpdatePassword(_ context.Context, userID string, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[userID]
	if !ok {
		return ErrUserNotFound
	}
	c.PasswordHash = passwordHash
	return nil
}

func newTestService(repo UserRepository, sink *audit.MemorySink) *Service {
	hasher := NewPasswordHasher(16*1024, 1, 1, 16, 32)
	return NewService(repo, hasher, audit.NewRecorder(sink), 3, 5*time.Minute)
}

// TestPurpose: Validates the user authentication flow, including success, failure, and account lockout after multiple failed attempts.
// Scope: Unit Test
// Security: Authentication mechanisms and Brute-force protection (lockout)
// Expected: Successful login for correct credentials, error for wrong credentials, and account lockout after the threshold.
// Test Case ID: IDN-01
func TestIdentity_Service_Authenticate(t *testing.T) {
	sink := audit.NewMemorySink()
	s := newTestService(NewMockUserRepository(), sink)
	ctx := context.Background()

	user, err := s.Provision(ctx, "Test User", "Test@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "test@example.com", user.Email)
	assert.Equal(t, StatusActive, user.Status)

	require.NoError(t, s.AddPassword(ctx, user.ID, "SecurePassword123"))

	authed, err := s.Authenticate(ctx, "test@example.com", "SecurePassword123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)
	assert.Len(t, sink.ByEvent(audit.EventLogin), 1)

	_, err = s.Authenticate(ctx, "test@example.com", "WrongPassword")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _ = s.Authenticate(ctx, "test@example.com", "WrongPassword")
	_, err = s.Authenticate(ctx, "test@example.com", "WrongPassword")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "test@example.com", "SecurePassword123")
	assert.ErrorIs(t, err, ErrAccountLocked)
	assert.Len(t, sink.ByEvent(audit.EventLoginFailed), 4)
}

// TestPurpose: Validates that provisioning rejects duplicate and malformed emails.
// Scope: Unit Test
// Security: Data Integrity and Unique Constraint Enforcement
// Expected: ErrUserAlreadyExists for a duplicate (case-insensitive), ErrInvalidEmail for garbage.
// Test Case ID: IDN-02
func TestIdentity_Service_Provision_Conflict(t *testing.T) {
	s := newTestService(NewMockUserRepository(), audit.NewMemorySink())
	ctx := context.Background()

	_, err := s.Provision(ctx, "A", "conflict@example.com")
	require.NoError(t, err)

	_, err = s.Provision(ctx, "B", "CONFLICT@example.com")
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	_, err = s.Provision(ctx, "C", "not-an-email")
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

// TestPurpose: Validates that suspended users cannot sign in even with the right password.
// Scope: Unit Test
// Security: Account lifecycle enforcement
// Expected: ErrUserSuspended after a correct password; unknown users get ErrInvalidCredentials.
// Test Case ID: IDN-03
func TestIdentity_Service_Authenticate_Suspended(t *testing.T) {
	s := newTestService(NewMockUserRepository(), audit.NewMemorySink())
	ctx := context.Background()

	user, err := s.Provision(ctx, "Sam", "sam@example.com")
	require.NoError(t, err)
	require.NoError(t, s.AddPassword(ctx, user.ID, "SecurePassword123"))
	require.NoError(t, s.SetStatus(ctx, user.ID, StatusSuspended))

	_, err = s.Authenticate(ctx, "sam@example.com", "SecurePassword123")
	assert.ErrorIs(t, err, ErrUserSuspended)

	_, err = s.Authenticate(ctx, "ghost@example.com", "SecurePassword123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

// TestPurpose: Validates Argon2id hashing round-trips and rejects malformed hashes.
// Scope: Unit Test
// Security: Credential storage
// Expected: Verify accepts the right password, rejects a wrong one, and errors on bad encodings.
// Test Case ID: IDN-04
func TestIdentity_PasswordHasher(t *testing.T) {
	h := NewPasswordHasher(16*1024, 1, 1, 16, 32)

	encoded, err := h.Hash("correct-horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$"))

	ok, err := h.Verify("correct-horse", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong-horse", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Verify("x", "$bcrypt$whatever")
	assert.Error(t, err)
}

type mockRoleRepo struct {
	mock.Mock
	authz.RoleRepository
}

func (m *mockRoleRepo) GetByID(ctx context.Context, id string) (*authz.Role, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authz.Role), args.Error(1)
}

type mockAssignmentRepo struct {
	mock.Mock
	authz.AssignmentRepository
}

func (m *mockAssignmentRepo) CountUsersWithRole(ctx context.Context, roleID string) (int, error) {
	args := m.Called(ctx, roleID)
	return args.Int(0), args.Error(1)
}

func (m *mockAssignmentRepo) RolesForUser(ctx context.Context, userID string) ([]*authz.Role, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*authz.Role), args.Error(1)
}

func (m *mockAssignmentRepo) SyncUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	args := m.Called(ctx, userID, roleIDs)
	return args.Error(0)
}

// TestPurpose: Validates that bootstrap provisions the first super-admin exactly once.
// Scope: Unit Test
// Security: Initial privilege assignment
// Expected: The user is created with a UUIDv7 ID and assigned super-admin; a second run with an existing super-admin is a no-op.
// Test Case ID: IDN-05
func TestIdentity_Bootstrap(t *testing.T) {
	ctx := context.Background()
	users := NewMockUserRepository()
	sink := audit.NewMemorySink()
	identitySvc := newTestService(users, sink)

	roleRepo := new(mockRoleRepo)
	assignments := new(mockAssignmentRepo)
	roleSvc := authz.NewRoleService(roleRepo, assignments, authz.NewEvaluator(assignments), audit.NewRecorder(sink))
	svc := NewBootstrapService(identitySvc, assignments, roleSvc)

	roleRepo.On("GetByID", ctx, rbac.RoleIDSuperAdmin).Return(&authz.Role{
		ID: rbac.RoleIDSuperAdmin, Name: authz.RoleSuperAdmin, GuardName: authz.GuardWeb, Internal: true,
	}, nil)
	assignments.On("CountUsersWithRole", ctx, rbac.RoleIDSuperAdmin).Return(0, nil).Once()
	assignments.On("RolesForUser", ctx, mock.Anything).Return(nil, nil)
	assignments.On("SyncUserRoles", ctx, mock.Anything, []string{rbac.RoleIDSuperAdmin}).Return(nil)

	done, err := svc.Bootstrap(ctx, BootstrapAdmin{Email: "root@example.com", Name: "Root", Password: "SecurePassword123"})
	require.NoError(t, err)
	assert.True(t, done)

	user, err := identitySvc.GetByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	uid, err := uuid.Parse(user.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), uid.Version())

	synced := sink.ByEvent(audit.EventUserRolesSynced)
	require.Len(t, synced, 1)
	assert.Equal(t, audit.ActorSystem, synced[0].CauserID)

	assignments.On("CountUsersWithRole", ctx, rbac.RoleIDSuperAdmin).Return(1, nil)
	done, err = svc.Bootstrap(ctx, BootstrapAdmin{Email: "root@example.com"})
	require.NoError(t, err)
	assert.False(t, done)

	assignments.AssertNumberOfCalls(t, "SyncUserRoles", 1)
}
