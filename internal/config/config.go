// Package config загружает настройки клиента и relay-сервера.
//
// Источники в порядке возрастания приоритета: значения по умолчанию,
// YAML файл, переменные окружения LEDGERSYNC_*, флаги командной строки.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix префикс переменных окружения.
// Ключ rate-limit.requests читается из LEDGERSYNC_RATE_LIMIT_REQUESTS.
const EnvPrefix = "LEDGERSYNC"

// ErrInvalidConfig настройки не прошли проверку
var ErrInvalidConfig = errors.New("invalid config")

// load собирает cfg из defaults, файла path, окружения и флагов.
// Пустой path - только defaults, окружение и флаги.
func load(path string, flags *pflag.FlagSet, defaults, cfg any) error {
	v := viper.New()
	v.SetConfigType("yaml")

	// значения по умолчанию загружаются как базовый слой конфигурации,
	// так viper знает все ключи и для окружения
	base, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(hook), withIgnoreUntagged()); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

func withIgnoreUntagged() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.IgnoreUntaggedFields = true
	}
}

// Write сохраняет настройки в YAML файл с правами 0600:
// в конфигурации relay хранится секрет подписи токенов
func Write(path string, cfg any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
