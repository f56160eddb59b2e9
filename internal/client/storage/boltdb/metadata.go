package boltdb

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/ledgersync/internal/client/storage"
	"github.com/iudanet/ledgersync/internal/models"
)

var (
	keyCheckpoint = []byte("checkpoint")
	keyReadOnly   = []byte("read_only")
)

// GetCheckpoint retrieves the sync checkpoint
// Returns ErrCheckpointNotFound if sync was never configured
func (s *Storage) GetCheckpoint(ctx context.Context) (*storage.Checkpoint, error) {
	cp := &storage.Checkpoint{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx, bucketMetadata, keyCheckpoint, cp, storage.ErrCheckpointNotFound)
	})
	if err != nil {
		return nil, err
	}

	return cp, nil
}

// SaveCheckpoint stores the sync checkpoint
func (s *Storage) SaveCheckpoint(ctx context.Context, cp *storage.Checkpoint) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := putJSON(tx, bucketMetadata, keyCheckpoint, cp); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		return nil
	})
}

// SetSyncedPrefs stores synced preferences, one key per pref id
func (s *Storage) SetSyncedPrefs(ctx context.Context, prefs map[string]models.Value) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPrefs)
		if bucket == nil {
			return fmt.Errorf("prefs bucket not found")
		}

		for id, value := range prefs {
			if err := bucket.Put([]byte(id), []byte(value.Serialize())); err != nil {
				return fmt.Errorf("failed to save pref %s: %w", id, err)
			}
		}
		return nil
	})
}

// GetSyncedPrefs returns all synced preferences
func (s *Storage) GetSyncedPrefs(ctx context.Context) (map[string]models.Value, error) {
	prefs := make(map[string]models.Value)

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPrefs)
		if bucket == nil {
			return fmt.Errorf("prefs bucket not found")
		}

		return bucket.ForEach(func(k, v []byte) error {
			value, err := models.DeserializeValue(string(v))
			if err != nil {
				return fmt.Errorf("failed to decode pref %s: %w", k, err)
			}
			prefs[string(k)] = value
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return prefs, nil
}

// SetReadOnly stores the read-only flag
func (s *Storage) SetReadOnly(ctx context.Context, readOnly bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		value := []byte{0}
		if readOnly {
			value[0] = 1
		}
		if err := bucket.Put(keyReadOnly, value); err != nil {
			return fmt.Errorf("failed to save read-only flag: %w", err)
		}
		return nil
	})
}

// IsReadOnly reports whether the read-only flag is set
func (s *Storage) IsReadOnly(ctx context.Context) (bool, error) {
	var readOnly bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		value := bucket.Get(keyReadOnly)
		readOnly = len(value) == 1 && value[0] == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to get read-only flag: %w", err)
	}

	return readOnly, nil
}
