package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel разбирает уровень логирования: debug, info, warn, error
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return 0, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, level)
	}
	return l, nil
}

func parseLevelCheck(level string) error {
	_, err := ParseLevel(level)
	return err
}

// NewLogger создает текстовый логгер с уровнем из настроек.
// Неизвестный уровень заменяется на info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	l, err := ParseLevel(level)
	if err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}
