package storage

import "context"

// KeyStorage хранит экспортированные ключи шифрования файлов, чтобы
// не запрашивать пароль при каждом запуске
type KeyStorage interface {
	// SaveKey stores an exported key (see crypto.Keyring.Export)
	SaveKey(ctx context.Context, keyID, exported string) error

	// GetKey returns an exported key
	// Returns ErrKeyNotFound if key was never saved
	GetKey(ctx context.Context, keyID string) (string, error)

	// DeleteKey removes a saved key
	DeleteKey(ctx context.Context, keyID string) error

	// ListKeys returns identifiers of all saved keys
	ListKeys(ctx context.Context) ([]string, error)
}
