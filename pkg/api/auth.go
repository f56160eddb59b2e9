package api

// RegisterRequest запрос на регистрацию учетной записи на relay-сервере
type RegisterRequest struct {
	Username    string `json:"username"`      // имя учетной записи
	AuthKeyHash string `json:"auth_key_hash"` // SHA256 хеш auth_key (hex-encoded)
	PublicSalt  string `json:"public_salt"`   // base64 encoded salt (32 bytes)
}

// RegisterResponse ответ на успешную регистрацию
type RegisterResponse struct {
	UserID string `json:"user_id"`
}

// SaltResponse публичная соль учетной записи
type SaltResponse struct {
	PublicSalt string `json:"public_salt"`
}

// LoginRequest запрос на аутентификацию
type LoginRequest struct {
	Username    string `json:"username"`
	AuthKeyHash string `json:"auth_key_hash"`
}

// TokenResponse токены доступа
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // время жизни access token в секундах
}
