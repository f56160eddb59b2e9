package storage

import (
	"context"
)

//go:generate moq -out auth_mock.go . AuthStorage

// AuthStorage хранит сессию учетной записи на relay-сервере
type AuthStorage interface {
	// SaveAuth stores relay session data
	SaveAuth(ctx context.Context, auth *AuthData) error

	// GetAuth retrieves stored relay session data
	// Returns ErrAuthNotFound if no session exists
	GetAuth(ctx context.Context) (*AuthData, error)

	// DeleteAuth removes stored session; no-op when there is none
	DeleteAuth(ctx context.Context) error
}

// AuthData сессия на relay-сервере
type AuthData struct {
	ServerURL    string `json:"server_url"`
	Username     string `json:"username"`
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	PublicSalt   string `json:"public_salt"`
	ExpiresAt    int64  `json:"expires_at"` // unix seconds
}
