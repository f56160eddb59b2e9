package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// accountKeyContext отделяет хеш ключа учетной записи от ключей файлов,
// полученных тем же Argon2id
const accountKeyContext = "ledgersync/relay-account/v1"

// AccountKeyHash получает ключ учетной записи relay из пароля и публичной
// соли и возвращает hex SHA256 от него. Relay хранит и сравнивает только
// это значение, пароль и сам ключ клиент не покидают.
func AccountKeyHash(password, publicSaltBase64 string) (string, error) {
	key, err := DeriveKeyFromBase64Salt(password, publicSaltBase64)
	if err != nil {
		return "", fmt.Errorf("failed to derive account key: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(accountKeyContext))
	h.Write(key)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// AccountKeyHashEqual сравнивает два хеша за постоянное время
func AccountKeyHashEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
