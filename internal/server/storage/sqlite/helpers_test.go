package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/ledgersync/internal/models"
)

func setupTestStorage(t *testing.T, opts ...Option) *Storage {
	t.Helper()

	// файл вместо :memory:, чтобы WAL и единственное соединение вели себя как в работе
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "relay.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func createTestUser(t *testing.T, ctx context.Context, s *Storage) string {
	t.Helper()

	userID := uuid.NewString()
	err := s.CreateUser(ctx, &models.User{
		ID:          userID,
		Username:    "user_" + userID[:8],
		AuthKeyHash: "hash",
		PublicSalt:  "salt",
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)

	return userID
}

func createTestFile(t *testing.T, ctx context.Context, s *Storage, userID, groupID string) *models.File {
	t.Helper()

	now := time.Now()
	file := &models.File{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      "My Budget",
		GroupID:   groupID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateFile(ctx, file))

	return file
}
