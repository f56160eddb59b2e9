package boltdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/iudanet/ledgersync/internal/client/storage"
	"github.com/iudanet/ledgersync/internal/models"
)

func TestStorage_Checkpoint(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	_, err := store.GetCheckpoint(ctx)
	assert.ErrorIs(t, err, storage.ErrCheckpointNotFound)

	cp := &storage.Checkpoint{
		FileID:              "file-1",
		GroupID:             "group-1",
		KeyID:               "key-1",
		LastSyncedTimestamp: "2024-01-01T00:00:00.000Z-0000-0123456789ABCDEF",
		NodeID:              "0123456789ABCDEF",
	}
	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	got, err := store.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, cp, got)
}

func TestStorage_SyncedPrefs(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	prefs, err := store.GetSyncedPrefs(ctx)
	require.NoError(t, err)
	assert.Empty(t, prefs)

	require.NoError(t, store.SetSyncedPrefs(ctx, map[string]models.Value{
		"budgetType": models.String("rollover"),
		"firstDay":   models.Number(1),
	}))
	require.NoError(t, store.SetSyncedPrefs(ctx, map[string]models.Value{
		"budgetType": models.String("report"),
	}))

	prefs, err = store.GetSyncedPrefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]models.Value{
		"budgetType": models.String("report"),
		"firstDay":   models.Number(1),
	}, prefs)
}

func TestStorage_ReadOnly(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	ro, err := store.IsReadOnly(ctx)
	require.NoError(t, err)
	assert.False(t, ro)

	require.NoError(t, store.SetReadOnly(ctx, true))
	ro, err = store.IsReadOnly(ctx)
	require.NoError(t, err)
	assert.True(t, ro)

	require.NoError(t, store.SetReadOnly(ctx, false))
	ro, err = store.IsReadOnly(ctx)
	require.NoError(t, err)
	assert.False(t, ro)
}

func TestStorage_BucketMissing(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	require.NoError(t, store.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket(bucketMetadata)
	}))

	_, err := store.GetCheckpoint(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket metadata not found")

	_, err = store.IsReadOnly(ctx)
	assert.Error(t, err)
}
