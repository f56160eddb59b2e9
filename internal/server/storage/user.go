package storage

import (
	"context"
	"time"

	"github.com/iudanet/ledgersync/internal/models"
)

// UserStorage defines interface for account persistence
type UserStorage interface {
	// CreateUser creates a new account.
	// Returns ErrUserAlreadyExists if username is taken
	CreateUser(ctx context.Context, user *models.User) error

	// GetUserByUsername returns ErrUserNotFound if account doesn't exist
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// GetUserByID returns ErrUserNotFound if account doesn't exist
	GetUserByID(ctx context.Context, userID string) (*models.User, error)

	// UpdateLastLogin updates the last login timestamp
	UpdateLastLogin(ctx context.Context, userID string, lastLogin time.Time) error
}
