package models

import "time"

// User учетная запись на relay-сервере
type User struct {
	CreatedAt   time.Time  `json:"created_at"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
	ID          string     `json:"id"`            // UUID
	Username    string     `json:"username"`      // уникальное имя
	AuthKeyHash string     `json:"auth_key_hash"` // SHA256 хеш auth_key, пароль сервер не видит
	PublicSalt  string     `json:"public_salt"`   // base64, 32 байта
}

// RefreshToken refresh token учетной записи.
// Сервер хранит только хеш токена.
type RefreshToken struct {
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	TokenHash string    `json:"token_hash"` // hex SHA256
	UserID    string    `json:"user_id"`
}
