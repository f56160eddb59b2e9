package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/pflag"
)

// Client настройки клиента синхронизации
type Client struct {
	ServerURL string `mapstructure:"server-url" yaml:"server-url"`
	DataDir   string `mapstructure:"data-dir" yaml:"data-dir"`
	LogLevel  string `mapstructure:"log-level" yaml:"log-level"`
	// SyncMode enabled, offline (журнал ведется, сервер не используется)
	// или disabled (изменения без журнала)
	SyncMode string `mapstructure:"sync-mode" yaml:"sync-mode"`

	// SyncDelay задержка автоматической синхронизации после изменения
	SyncDelay time.Duration `mapstructure:"sync-delay" yaml:"sync-delay"`
	// MaxDrift допустимое опережение часов других устройств
	MaxDrift      time.Duration `mapstructure:"max-drift" yaml:"max-drift"`
	SameDiffLimit int           `mapstructure:"same-diff-limit" yaml:"same-diff-limit"`
	MaxAttempts   int           `mapstructure:"max-attempts" yaml:"max-attempts"`
	// RequestTimeout время на один запрос к relay-серверу
	RequestTimeout time.Duration `mapstructure:"request-timeout" yaml:"request-timeout"`
	RetryMax       int           `mapstructure:"retry-max" yaml:"retry-max"`
}

// SyncModes режимы синхронизации, которые можно задать в настройках.
// Режим import включается только на время массовой загрузки.
var SyncModes = []string{"enabled", "offline", "disabled"}

// DefaultDataDir каталог данных клиента по умолчанию
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ledgersync")
	}
	return ".ledgersync"
}

// DefaultClient возвращает настройки клиента по умолчанию
func DefaultClient() Client {
	return Client{
		ServerURL:      "http://localhost:5006",
		DataDir:        DefaultDataDir(),
		LogLevel:       "warn",
		SyncMode:       "enabled",
		SyncDelay:      time.Second,
		MaxDrift:       5 * time.Minute,
		SameDiffLimit:  10,
		MaxAttempts:    100,
		RequestTimeout: 30 * time.Second,
		RetryMax:       3,
	}
}

// ClientConfigPath путь конфигурации клиента внутри каталога данных
func ClientConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// LoadClient загружает настройки клиента
func LoadClient(path string, flags *pflag.FlagSet) (Client, error) {
	cfg := DefaultClient()
	if err := load(path, flags, DefaultClient(), &cfg); err != nil {
		return Client{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек
func (c Client) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: server-url must be an http(s) URL", ErrInvalidConfig)
	}

	switch {
	case c.DataDir == "":
		return fmt.Errorf("%w: data-dir is required", ErrInvalidConfig)
	case !slices.Contains(SyncModes, c.SyncMode):
		return fmt.Errorf("%w: sync-mode must be one of %v", ErrInvalidConfig, SyncModes)
	case c.SyncDelay < 0 || c.MaxDrift <= 0 || c.RequestTimeout <= 0:
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	case c.SameDiffLimit <= 0 || c.MaxAttempts < c.SameDiffLimit:
		return fmt.Errorf("%w: max-attempts must be at least same-diff-limit", ErrInvalidConfig)
	case c.RetryMax < 0:
		return fmt.Errorf("%w: retry-max must not be negative", ErrInvalidConfig)
	}
	return parseLevelCheck(c.LogLevel)
}
