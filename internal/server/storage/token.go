package storage

import (
	"context"
	"time"

	"github.com/iudanet/ledgersync/internal/models"
)

// TokenStorage defines interface for refresh token persistence.
// Tokens are addressed by hash, raw values never reach the storage.
type TokenStorage interface {
	// SaveRefreshToken stores a token, replacing one with the same hash
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error

	// GetRefreshToken returns ErrTokenNotFound if token doesn't exist
	GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)

	// DeleteRefreshToken returns ErrTokenNotFound if token doesn't exist
	DeleteRefreshToken(ctx context.Context, tokenHash string) error

	// DeleteUserTokens deletes all tokens of an account
	// Returns number of deleted tokens
	DeleteUserTokens(ctx context.Context, userID string) (int, error)

	// DeleteExpiredTokens removes tokens expired before now
	// Returns number of deleted tokens
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error)
}
