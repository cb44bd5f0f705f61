package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/upb/authgate/models"
	"github.com/upb/authgate/repositories"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

// passThroughTx runs the callback directly and returns its error
type passThroughTx struct{}

func (passThroughTx) Begin(context.Context) (repositories.Transaction, error) {
	return nil, errors.New("not supported")
}

func (passThroughTx) InTransaction(ctx context.Context, fn func(context.Context, repositories.Transaction) error) error {
	return fn(ctx, nil)
}

func newTestService(repo *MockUserRepository) *AuthService {
	return NewAuthService(repo, passThroughTx{}, bcrypt.MinCost, zap.NewNop())
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestAuthService_FindPrincipal(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("found", func(t *testing.T) {
		repo := new(MockUserRepository)
		user := &models.User{ID: id, Email: "ada@example.com"}
		repo.On("GetByID", ctx, id).Return(user, nil)

		got, err := newTestService(repo).FindPrincipal(ctx, id.String())
		require.NoError(t, err)
		assert.Equal(t, user, got)
		repo.AssertExpectations(t)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		repo := new(MockUserRepository)
		repo.On("GetByID", ctx, id).Return(nil, repositories.ErrUserNotFound)

		_, err := newTestService(repo).FindPrincipal(ctx, id.String())
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("malformed id is not found without a store call", func(t *testing.T) {
		repo := new(MockUserRepository)

		_, err := newTestService(repo).FindPrincipal(ctx, "not-a-uuid")
		assert.True(t, IsNotFoundError(err))
		repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	})

	t.Run("store failure is unavailable", func(t *testing.T) {
		repo := new(MockUserRepository)
		repo.On("GetByID", ctx, id).Return(nil, errors.New("connection refused"))

		_, err := newTestService(repo).FindPrincipal(ctx, id.String())
		assert.True(t, IsUnavailableError(err))
		assert.False(t, IsNotFoundError(err))
	})
}

func TestAuthService_Authenticate(t *testing.T) {
	ctx := context.Background()
	user := &models.User{ID: uuid.New(), Email: "ada@example.com", PasswordHash: hashed(t, "correct-horse")}

	tests := []struct {
		name      string
		setup     func(*MockUserRepository)
		password  string
		wantUser  bool
		wantCheck func(error) bool
	}{
		{
			name:     "valid credentials",
			setup:    func(m *MockUserRepository) { m.On("GetByEmail", ctx, "ada@example.com").Return(user, nil) },
			password: "correct-horse",
			wantUser: true,
		},
		{
			name:      "wrong password",
			setup:     func(m *MockUserRepository) { m.On("GetByEmail", ctx, "ada@example.com").Return(user, nil) },
			password:  "battery-staple",
			wantCheck: IsInvalidCredentialError,
		},
		{
			name: "unknown email",
			setup: func(m *MockUserRepository) {
				m.On("GetByEmail", ctx, "ada@example.com").Return(nil, repositories.ErrUserNotFound)
			},
			password:  "correct-horse",
			wantCheck: IsInvalidCredentialError,
		},
		{
			name: "store failure",
			setup: func(m *MockUserRepository) {
				m.On("GetByEmail", ctx, "ada@example.com").Return(nil, errors.New("timeout"))
			},
			password:  "correct-horse",
			wantCheck: IsUnavailableError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockUserRepository)
			tt.setup(repo)

			got, err := newTestService(repo).Authenticate(ctx, "ada@example.com", tt.password)
			if tt.wantUser {
				require.NoError(t, err)
				assert.Equal(t, user.ID, got.ID)
				return
			}
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, tt.wantCheck(err))
		})
	}
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("creates user with hashed password", func(t *testing.T) {
		repo := new(MockUserRepository)
		repo.On("ExistsByEmail", ctx, "ada@example.com").Return(false, nil)
		repo.On("Create", ctx, mock.AnythingOfType("*models.User")).Return(nil)

		user, err := newTestService(repo).Register(ctx, "Ada", "Ada@Example.com", "correct-horse", now)
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", user.Email)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correct-horse")))
		repo.AssertExpectations(t)
	})

	t.Run("duplicate email", func(t *testing.T) {
		repo := new(MockUserRepository)
		repo.On("ExistsByEmail", ctx, "ada@example.com").Return(true, nil)

		_, err := newTestService(repo).Register(ctx, "Ada", "ada@example.com", "correct-horse", now)
		assert.True(t, IsValidationError(err))
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("short password", func(t *testing.T) {
		repo := new(MockUserRepository)

		_, err := newTestService(repo).Register(ctx, "Ada", "ada@example.com", "short", now)
		assert.True(t, IsValidationError(err))
	})
}
