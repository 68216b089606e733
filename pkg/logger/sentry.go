package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
)

// SentryConfig holds Sentry integration configuration. Error records become
// Sentry issues; records at MinLevel and above are kept as Sentry logs.
type SentryConfig struct {
	DSN         string `env:"SENTRY_DSN" yaml:"dsn"`
	Environment string `env:"SENTRY_ENVIRONMENT" envDefault:"production" yaml:"environment"`
	Release     string `env:"SENTRY_RELEASE" yaml:"release"`
	MinLevel    string `env:"SENTRY_MIN_LEVEL" envDefault:"warn" yaml:"min_level"`
}

// NewWithSentry creates a JSON stdout logger that also reports to Sentry.
// With an empty DSN it is a plain stdout logger.
func NewWithSentry(cfg SentryConfig, extractors ...ContextExtractor) *slog.Logger {
	return New(Config{Level: "info", Format: "json", Sentry: cfg}, extractors...)
}

func withSentry(base slog.Handler, cfg SentryConfig) slog.Handler {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		EnableLogs:  true,
	}); err != nil {
		slog.New(base).Error("failed to initialize sentry", slog.String("error", err.Error()))
		return base
	}

	logLevel := []slog.Level{slog.LevelWarn, slog.LevelError}
	if ParseLevel(cfg.MinLevel) >= slog.LevelError {
		logLevel = []slog.Level{slog.LevelError}
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   logLevel,
	}.NewSentryHandler(context.Background())

	return newMultiHandler(base, sentryHandler)
}

// Flush returns a shutdown hook that drains buffered Sentry events.
func Flush(timeout time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		if d, ok := ctx.Deadline(); ok && time.Until(d) < timeout {
			timeout = time.Until(d)
		}
		sentry.Flush(timeout)
		return nil
	}
}
