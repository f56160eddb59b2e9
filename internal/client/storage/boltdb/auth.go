package boltdb

import (
	"context"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/ledgersync/internal/client/storage"
)

// В каталоге данных одна сессия relay: вход под другим
// пользователем или на другой сервер заменяет ее
var keySession = []byte("session")

// SaveAuth stores relay session data
func (s *Storage) SaveAuth(ctx context.Context, auth *storage.AuthData) error {
	if auth.ServerURL == "" || auth.Username == "" {
		return fmt.Errorf("session must have server url and username")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := putJSON(tx, bucketAuth, keySession, auth); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		return nil
	})
}

// GetAuth retrieves stored relay session data
func (s *Storage) GetAuth(ctx context.Context) (*storage.AuthData, error) {
	auth := &storage.AuthData{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx, bucketAuth, keySession, auth, storage.ErrAuthNotFound)
	})
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return auth, nil
}

// DeleteAuth removes stored session. Logout without a session is not an error.
func (s *Storage) DeleteAuth(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAuth)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", bucketAuth)
		}
		if err := bucket.Delete(keySession); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}
