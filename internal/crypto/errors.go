package crypto

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotLoaded ключ с указанным идентификатором не загружен в keyring
	ErrKeyNotLoaded = errors.New("encryption key not loaded")
	// ErrInvalidKeyExport строка экспорта ключа повреждена
	ErrInvalidKeyExport = errors.New("invalid key export")
	// ErrWrongPassphrase ключ не прошел проверку тестовым сообщением
	ErrWrongPassphrase = errors.New("wrong passphrase for key")
)

// EncryptFailure ошибка шифрования исходящего сообщения
type EncryptFailure struct {
	KeyID string
	Err   error
}

func (e *EncryptFailure) Error() string {
	return fmt.Sprintf("encrypt failure (key %s): %v", e.KeyID, e.Err)
}

func (e *EncryptFailure) Unwrap() error { return e.Err }

// DecryptFailure ошибка расшифровки входящего сообщения.
// IsMissingKey отличает отсутствие ключа от поврежденных данных.
type DecryptFailure struct {
	Err          error
	KeyID        string
	IsMissingKey bool
}

func (e *DecryptFailure) Error() string {
	if e.IsMissingKey {
		return fmt.Sprintf("decrypt failure: missing key %s", e.KeyID)
	}
	return fmt.Sprintf("decrypt failure (key %s): %v", e.KeyID, e.Err)
}

func (e *DecryptFailure) Unwrap() error { return e.Err }
