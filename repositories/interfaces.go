package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/upb/authgate/models"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup key
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateEmail is returned when creating a user whose email is taken
	ErrDuplicateEmail = errors.New("email already registered")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository is the principal store
type UserRepository interface {
	// Create inserts a new user
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID; ErrUserNotFound when absent
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetByEmail retrieves a user by normalized email; ErrUserNotFound when absent
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// ExistsByEmail reports whether an email is already registered
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users        UserRepository
	Transactions TransactionManager
}
