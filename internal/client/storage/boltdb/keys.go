package boltdb

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/ledgersync/internal/client/storage"
)

// SaveKey stores an exported encryption key
func (s *Storage) SaveKey(ctx context.Context, keyID, exported string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketKeys)
		if bucket == nil {
			return fmt.Errorf("keys bucket not found")
		}

		if err := bucket.Put([]byte(keyID), []byte(exported)); err != nil {
			return fmt.Errorf("failed to save key: %w", err)
		}
		return nil
	})
}

// GetKey returns an exported encryption key
func (s *Storage) GetKey(ctx context.Context, keyID string) (string, error) {
	var exported string

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketKeys)
		if bucket == nil {
			return fmt.Errorf("keys bucket not found")
		}

		data := bucket.Get([]byte(keyID))
		if data == nil {
			return storage.ErrKeyNotFound
		}
		// Значение валидно только внутри транзакции, копируем
		exported = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}

	return exported, nil
}

// DeleteKey removes a saved key
func (s *Storage) DeleteKey(ctx context.Context, keyID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketKeys)
		if bucket == nil {
			return fmt.Errorf("keys bucket not found")
		}

		if bucket.Get([]byte(keyID)) == nil {
			return storage.ErrKeyNotFound
		}

		if err := bucket.Delete([]byte(keyID)); err != nil {
			return fmt.Errorf("failed to delete key: %w", err)
		}
		return nil
	})
}

// ListKeys returns identifiers of all saved keys
func (s *Storage) ListKeys(ctx context.Context) ([]string, error) {
	var ids []string

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketKeys)
		if bucket == nil {
			return fmt.Errorf("keys bucket not found")
		}

		return bucket.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}
