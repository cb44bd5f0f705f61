package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/upb/authgate/models"
	"github.com/upb/authgate/repositories"
)

// maxPasswordBytes is the bcrypt input limit
const maxPasswordBytes = 72

// AuthService resolves principals for the authentication gate and checks
// login credentials against the user store.
type AuthService struct {
	users    repositories.UserRepository
	txs      repositories.TransactionManager
	hashCost int
	logger   *zap.Logger

	// dummyHash is compared against when the email is unknown so both
	// branches of Authenticate run bcrypt
	dummyHash []byte
}

// NewAuthService creates a new AuthService. A zero hashCost selects bcrypt.DefaultCost.
func NewAuthService(users repositories.UserRepository, txs repositories.TransactionManager, hashCost int, logger *zap.Logger) *AuthService {
	if hashCost == 0 {
		hashCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("authgate-dummy-password"), hashCost)
	return &AuthService{
		users:     users,
		txs:       txs,
		hashCost:  hashCost,
		logger:    logger,
		dummyHash: dummy,
	}
}

// FindPrincipal loads the user a credential names. An unknown or unparsable
// id yields ErrPrincipalNotFound; any other failure is reported as unavailable.
func (s *AuthService) FindPrincipal(ctx context.Context, id string) (*models.User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return nil, NewDomainError(ErrorTypeNotFound, ErrPrincipalNotFound.Message, err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, NewDomainError(ErrorTypeNotFound, ErrPrincipalNotFound.Message, err)
		}
		return nil, WrapUnavailable(ErrStoreUnavailable.Message, err)
	}
	return user, nil
}

// Authenticate checks an email and password pair. Unknown emails and wrong
// passwords produce the same ErrInvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, WrapUnavailable(ErrStoreUnavailable.Message, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("password mismatch", zap.String("user_id", user.ID.String()))
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// Register creates a user with a bcrypt password hash
func (s *AuthService) Register(ctx context.Context, name, email, password string, now time.Time) (*models.User, error) {
	if name == "" || email == "" {
		return nil, NewDomainError(ErrorTypeValidation, "name and email are required", nil)
	}
	if len(password) < 8 || len(password) > maxPasswordBytes {
		return nil, NewDomainError(ErrorTypeValidation, fmt.Sprintf("password must be 8 to %d bytes", maxPasswordBytes), nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, WrapInternal("failed to hash password", err)
	}
	user := models.NewUser(name, email, string(hash), now)

	err = s.txs.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		exists, err := s.users.ExistsByEmail(txCtx, user.Email)
		if err != nil {
			return err
		}
		if exists {
			return repositories.ErrDuplicateEmail
		}
		return s.users.Create(txCtx, user)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateEmail) {
			return nil, NewDomainError(ErrorTypeValidation, "email already registered", err)
		}
		return nil, WrapUnavailable(ErrStoreUnavailable.Message, err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID.String()))
	return user, nil
}
