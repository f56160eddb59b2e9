package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const (
	// NonceSize - размер nonce (IV) для AES-GCM (12 bytes стандартный размер)
	NonceSize = 12
	// TagSize - размер authentication tag для AES-GCM
	TagSize = 16
	// KeySize - размер ключа AES-256
	KeySize = 32
)

// Sealed результат шифрования с раздельными IV и authentication tag,
// в том виде, в котором он передается по сети.
type Sealed struct {
	Data    []byte `json:"data"`
	IV      []byte `json:"iv"`
	AuthTag []byte `json:"authTag"`
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	// Создаем AES cipher block
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	// Создаем GCM mode
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// Seal шифрует данные с использованием AES-256-GCM со случайным IV.
// Пустой plaintext допустим: сообщение может нести пустое значение.
func Seal(plaintext, key []byte) (*Sealed, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	// Генерируем случайный nonce
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// GCM добавляет authentication tag в конец, отделяем его
	out := aesGCM.Seal(nil, nonce, plaintext, nil)
	split := len(out) - TagSize

	return &Sealed{
		Data:    out[:split],
		IV:      nonce,
		AuthTag: out[split:],
	}, nil
}

// Open дешифрует данные, зашифрованные Seal, и проверяет authentication tag
func Open(sealed *Sealed, key []byte) ([]byte, error) {
	if sealed == nil {
		return nil, fmt.Errorf("sealed data is nil")
	}
	if len(sealed.IV) != NonceSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", NonceSize, len(sealed.IV))
	}
	if len(sealed.AuthTag) != TagSize {
		return nil, fmt.Errorf("auth tag must be %d bytes, got %d", TagSize, len(sealed.AuthTag))
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ciphertext := make([]byte, 0, len(sealed.Data)+TagSize)
	ciphertext = append(ciphertext, sealed.Data...)
	ciphertext = append(ciphertext, sealed.AuthTag...)

	plaintext, err := aesGCM.Open(nil, sealed.IV, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: authentication failed or corrupted data: %w", err)
	}
	return plaintext, nil
}

// Encrypt шифрует данные с использованием AES-256-GCM
// Формат результата: nonce (12 bytes) + ciphertext + auth_tag (16 bytes)
func Encrypt(plaintext, key []byte) ([]byte, error) {
	sealed, err := Seal(plaintext, key)
	if err != nil {
		return nil, err
	}

	result := make([]byte, 0, NonceSize+len(sealed.Data)+TagSize)
	result = append(result, sealed.IV...)
	result = append(result, sealed.Data...)
	result = append(result, sealed.AuthTag...)
	return result, nil
}

// Decrypt дешифрует данные, зашифрованные с помощью Encrypt
// Ожидает формат: nonce (12 bytes) + ciphertext + auth_tag (16 bytes)
func Decrypt(encrypted, key []byte) ([]byte, error) {
	if len(encrypted) < NonceSize+TagSize {
		return nil, fmt.Errorf("encrypted data too short")
	}

	return Open(&Sealed{
		IV:      encrypted[:NonceSize],
		Data:    encrypted[NonceSize : len(encrypted)-TagSize],
		AuthTag: encrypted[len(encrypted)-TagSize:],
	}, key)
}
