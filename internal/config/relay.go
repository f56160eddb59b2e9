package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// MinJWTSecretLen минимальная длина секрета подписи токенов
const MinJWTSecretLen = 32

// Relay настройки relay-сервера
type Relay struct {
	ListenAddr string `mapstructure:"listen-addr" yaml:"listen-addr"`
	DBPath     string `mapstructure:"db-path" yaml:"db-path"`
	JWTSecret  string `mapstructure:"jwt-secret" yaml:"jwt-secret"`
	LogLevel   string `mapstructure:"log-level" yaml:"log-level"`

	AccessTokenTTL       time.Duration `mapstructure:"access-token-ttl" yaml:"access-token-ttl"`
	RefreshTokenTTL      time.Duration `mapstructure:"refresh-token-ttl" yaml:"refresh-token-ttl"`
	TokenCleanupInterval time.Duration `mapstructure:"token-cleanup-interval" yaml:"token-cleanup-interval"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown-timeout" yaml:"shutdown-timeout"`

	// MerkleCacheSize число групп, деревья которых держатся в памяти
	MerkleCacheSize int `mapstructure:"merkle-cache-size" yaml:"merkle-cache-size"`
	// MaxSyncBody предел тела запроса /sync в байтах
	MaxSyncBody int64 `mapstructure:"max-sync-body" yaml:"max-sync-body"`

	RateLimit RateLimit `mapstructure:"rate-limit" yaml:"rate-limit"`
}

// RateLimit ограничение частоты запросов с одного адреса
type RateLimit struct {
	Requests int           `mapstructure:"requests" yaml:"requests"`
	Window   time.Duration `mapstructure:"window" yaml:"window"`
	// AuthRequests отдельный, более строгий лимит для входа и регистрации
	AuthRequests int `mapstructure:"auth-requests" yaml:"auth-requests"`
}

// DefaultRelay возвращает настройки relay-сервера по умолчанию.
// JWTSecret не задается: его нужно указать явно.
func DefaultRelay() Relay {
	return Relay{
		ListenAddr:           ":5006",
		DBPath:               "relay.db",
		LogLevel:             "info",
		AccessTokenTTL:       15 * time.Minute,
		RefreshTokenTTL:      30 * 24 * time.Hour,
		TokenCleanupInterval: time.Hour,
		ShutdownTimeout:      10 * time.Second,
		MerkleCacheSize:      256,
		MaxSyncBody:          20 << 20,
		RateLimit: RateLimit{
			Requests:     600,
			Window:       time.Minute,
			AuthRequests: 10,
		},
	}
}

// LoadRelay загружает настройки relay-сервера
func LoadRelay(path string, flags *pflag.FlagSet) (Relay, error) {
	cfg := DefaultRelay()
	if err := load(path, flags, DefaultRelay(), &cfg); err != nil {
		return Relay{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Relay{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек
func (c Relay) Validate() error {
	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("%w: listen-addr is required", ErrInvalidConfig)
	case c.DBPath == "":
		return fmt.Errorf("%w: db-path is required", ErrInvalidConfig)
	case len(c.JWTSecret) < MinJWTSecretLen:
		return fmt.Errorf("%w: jwt-secret must be at least %d characters", ErrInvalidConfig, MinJWTSecretLen)
	case c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0:
		return fmt.Errorf("%w: token ttl must be positive", ErrInvalidConfig)
	case c.RefreshTokenTTL < c.AccessTokenTTL:
		return fmt.Errorf("%w: refresh-token-ttl shorter than access-token-ttl", ErrInvalidConfig)
	case c.TokenCleanupInterval <= 0 || c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	case c.MerkleCacheSize <= 0:
		return fmt.Errorf("%w: merkle-cache-size must be positive", ErrInvalidConfig)
	case c.MaxSyncBody <= 0:
		return fmt.Errorf("%w: max-sync-body must be positive", ErrInvalidConfig)
	case c.RateLimit.Requests <= 0 || c.RateLimit.AuthRequests <= 0 || c.RateLimit.Window <= 0:
		return fmt.Errorf("%w: rate-limit values must be positive", ErrInvalidConfig)
	}
	return parseLevelCheck(c.LogLevel)
}
