package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// UsernamePattern имя учетной записи relay: латинские буквы, цифры и
// подчеркивание, 3-32 символа. Имя попадает в путь /auth/salt/{username}.
var UsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

const (
	// MinPasswordLen минимальная длина пароля в символах
	MinPasswordLen = 12
	// MaxPasswordLen пароль длиннее не добавляет стойкости Argon2id
	// и только замедляет вывод ключа
	MaxPasswordLen = 1024
)

// ValidateUsername проверяет имя учетной записи relay
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if !UsernamePattern.MatchString(username) {
		return fmt.Errorf("username must be 3-32 characters: letters, numbers and underscores")
	}
	return nil
}

// ValidatePassword проверяет пароль учетной записи или ключа файла.
// Длина считается в символах, а не в байтах.
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if !utf8.ValidString(password) {
		return fmt.Errorf("password must be valid UTF-8")
	}

	n := utf8.RuneCountInString(password)
	switch {
	case n < MinPasswordLen:
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLen)
	case n > MaxPasswordLen:
		return fmt.Errorf("password must not exceed %d characters", MaxPasswordLen)
	}
	return nil
}
