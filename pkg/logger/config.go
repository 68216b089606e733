package logger

import (
	"log/slog"
	"strings"
)

// Config configures the process logger.
type Config struct {
	Level  string       `env:"LOG_LEVEL" envDefault:"info" yaml:"level"`
	Format string       `env:"LOG_FORMAT" envDefault:"json" yaml:"format"` // json or text
	Sentry SentryConfig `yaml:"sentry"`
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
