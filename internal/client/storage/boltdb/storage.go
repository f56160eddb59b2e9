package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	// BoltDB bucket names
	bucketAuth     = []byte("auth")
	bucketKeys     = []byte("keys")
	bucketMetadata = []byte("metadata")
	bucketPrefs    = []byte("prefs")
)

// Storage BoltDB хранилище метаданных клиента: сессия, ключи,
// чекпойнт синхронизации и синхронизируемые настройки
type Storage struct {
	db *bbolt.DB
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string) (*Storage, error) {
	// Открываем BoltDB. Timeout защищает от зависания, если файл
	// заблокирован другим процессом клиента.
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	storage := &Storage{db: db}

	// Инициализируем buckets
	if err := storage.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketAuth, bucketKeys, bucketMetadata, bucketPrefs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// getJSON читает JSON значение по ключу; notFound возвращается,
// если ключа нет
func getJSON(tx *bbolt.Tx, bucketName, key []byte, dst any, notFound error) error {
	bucket := tx.Bucket(bucketName)
	if bucket == nil {
		return fmt.Errorf("bucket %s not found", bucketName)
	}

	data := bucket.Get(key)
	if data == nil {
		return notFound
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", bucketName, key, err)
	}
	return nil
}

// putJSON сохраняет значение по ключу в JSON
func putJSON(tx *bbolt.Tx, bucketName, key []byte, value any) error {
	bucket := tx.Bucket(bucketName)
	if bucket == nil {
		return fmt.Errorf("bucket %s not found", bucketName)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", bucketName, key, err)
	}
	return bucket.Put(key, data)
}
