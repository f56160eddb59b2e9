package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// PasswordEnv пароль учетной записи relay-сервера
	PasswordEnv = "LEDGERSYNC_PASSWORD"
	// KeyPasswordEnv пароль ключа шифрования файла
	KeyPasswordEnv = "LEDGERSYNC_KEY_PASSWORD"
)

var errEmptyPassword = errors.New("password cannot be empty")

// secretSource откуда читать пароль
type secretSource struct {
	env  string
	file string
	// confirm повторный ввод при интерактивном запросе
	confirm bool
}

// readSecret читает пароль по приоритету:
// 1. переменная окружения
// 2. файл (--password-file)
// 3. интерактивный запрос
func (r *root) readSecret(src secretSource, prompt string) (string, error) {
	if v := os.Getenv(src.env); v != "" {
		return v, nil
	}

	if src.file != "" {
		content, err := os.ReadFile(src.file)
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		// убираем завершающий перевод строки
		password := strings.TrimSpace(string(content))
		if password == "" {
			return "", fmt.Errorf("password file is empty")
		}
		return password, nil
	}

	password, err := r.io.ReadPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return "", errEmptyPassword
	}

	if src.confirm {
		again, err := r.io.ReadPassword("Repeat " + strings.ToLower(prompt[:1]) + prompt[1:])
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		if again != password {
			return "", errors.New("passwords do not match")
		}
	}
	return password, nil
}
