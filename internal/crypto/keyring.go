package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Algorithm идентификатор алгоритма шифрования в метаданных
const Algorithm = "aes-256-gcm"

// Key ключ шифрования файла
type Key struct {
	ID    string
	Value []byte
}

// exportedKey формат экспорта ключа
type exportedKey struct {
	ID     string `json:"id"`
	Base64 string `json:"base64"`
}

// testContent зашифрованное случайное сообщение, по которому на другом
// устройстве проверяется правильность пароля.
type testContent struct {
	Value string          `json:"value"`
	Meta  testContentMeta `json:"meta"`
}

type testContentMeta struct {
	KeyID     string `json:"keyId"`
	Algorithm string `json:"algorithm"`
	IV        string `json:"iv"`
	AuthTag   string `json:"authTag"`
}

// Keyring хранит загруженные ключи шифрования в памяти процесса.
// Пароли не сохраняются, только производные ключи.
type Keyring struct {
	keys map[string][]byte
	mu   sync.RWMutex
}

// NewKeyring создает пустой keyring
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string][]byte)}
}

// CreateKey получает ключ из пароля и соли и загружает его
func (k *Keyring) CreateKey(id, passphrase, saltBase64 string) (Key, error) {
	value, err := DeriveKeyFromBase64Salt(passphrase, saltBase64)
	if err != nil {
		return Key{}, fmt.Errorf("failed to derive key: %w", err)
	}

	key := Key{ID: id, Value: value}
	k.Load(key)
	return key, nil
}

// Load загружает ключ, заменяя ключ с тем же идентификатором
func (k *Keyring) Load(key Key) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[key.ID] = append([]byte(nil), key.Value...)
}

// Has сообщает, загружен ли ключ
func (k *Keyring) Has(id string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.keys[id]
	return ok
}

// Unload выгружает ключ
func (k *Keyring) Unload(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, id)
}

// UnloadAll выгружает все ключи
func (k *Keyring) UnloadAll() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = make(map[string][]byte)
}

func (k *Keyring) get(id string) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	value, ok := k.keys[id]
	return value, ok
}

// Export сериализует загруженный ключ для переноса на другое устройство
func (k *Keyring) Export(id string) (string, error) {
	value, ok := k.get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotLoaded, id)
	}

	data, err := json.Marshal(exportedKey{ID: id, Base64: base64.StdEncoding.EncodeToString(value)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Import загружает ключ из строки, полученной Export
func (k *Keyring) Import(exported string) (Key, error) {
	data, err := base64.StdEncoding.DecodeString(exported)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKeyExport, err)
	}

	var ek exportedKey
	if err := json.Unmarshal(data, &ek); err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKeyExport, err)
	}
	value, err := base64.StdEncoding.DecodeString(ek.Base64)
	if err != nil || len(value) != KeySize || ek.ID == "" {
		return Key{}, ErrInvalidKeyExport
	}

	key := Key{ID: ek.ID, Value: value}
	k.Load(key)
	return key, nil
}

// Encrypt шифрует данные ключом id.
// Ошибки возвращаются как *EncryptFailure.
func (k *Keyring) Encrypt(id string, plaintext []byte) (*Sealed, error) {
	value, ok := k.get(id)
	if !ok {
		return nil, &EncryptFailure{KeyID: id, Err: ErrKeyNotLoaded}
	}

	sealed, err := Seal(plaintext, value)
	if err != nil {
		return nil, &EncryptFailure{KeyID: id, Err: err}
	}
	return sealed, nil
}

// Decrypt дешифрует данные ключом id.
// Ошибки возвращаются как *DecryptFailure.
func (k *Keyring) Decrypt(id string, sealed *Sealed) ([]byte, error) {
	value, ok := k.get(id)
	if !ok {
		return nil, &DecryptFailure{KeyID: id, IsMissingKey: true, Err: ErrKeyNotLoaded}
	}

	plaintext, err := Open(sealed, value)
	if err != nil {
		return nil, &DecryptFailure{KeyID: id, Err: err}
	}
	return plaintext, nil
}

// MakeTestContent шифрует случайное сообщение ключом id.
// Результат хранится на сервере рядом с солью ключа.
func (k *Keyring) MakeTestContent(id string) (string, error) {
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("failed to generate test message: %w", err)
	}

	// Проверочное сообщение: случайная часть и ее копия
	plaintext := append(append([]byte(nil), random...), random...)
	sealed, err := k.Encrypt(id, plaintext)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(testContent{
		Value: base64.StdEncoding.EncodeToString(sealed.Data),
		Meta: testContentMeta{
			KeyID:     id,
			Algorithm: Algorithm,
			IV:        base64.StdEncoding.EncodeToString(sealed.IV),
			AuthTag:   base64.StdEncoding.EncodeToString(sealed.AuthTag),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal test content: %w", err)
	}
	return string(data), nil
}

// ValidateTestContent проверяет, что ключ id расшифровывает тестовое сообщение.
// Возвращает ErrWrongPassphrase, если ключ не подходит.
func (k *Keyring) ValidateTestContent(id, content string) error {
	var tc testContent
	if err := json.Unmarshal([]byte(content), &tc); err != nil {
		return fmt.Errorf("failed to parse test content: %w", err)
	}
	if tc.Meta.Algorithm != Algorithm {
		return fmt.Errorf("unsupported algorithm %q", tc.Meta.Algorithm)
	}

	sealed := &Sealed{}
	var err error
	if sealed.Data, err = base64.StdEncoding.DecodeString(tc.Value); err != nil {
		return fmt.Errorf("failed to decode test content: %w", err)
	}
	if sealed.IV, err = base64.StdEncoding.DecodeString(tc.Meta.IV); err != nil {
		return fmt.Errorf("failed to decode test content iv: %w", err)
	}
	if sealed.AuthTag, err = base64.StdEncoding.DecodeString(tc.Meta.AuthTag); err != nil {
		return fmt.Errorf("failed to decode test content tag: %w", err)
	}

	plaintext, err := k.Decrypt(id, sealed)
	if err != nil {
		var df *DecryptFailure
		if errors.As(err, &df) && !df.IsMissingKey {
			return ErrWrongPassphrase
		}
		return err
	}

	half := len(plaintext) / 2
	if len(plaintext)%2 != 0 || !bytes.Equal(plaintext[:half], plaintext[half:]) {
		return ErrWrongPassphrase
	}
	return nil
}
