package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates the process logger writing to stdout. When a Sentry DSN is
// configured, records are also sent to Sentry (see NewWithSentry).
func New(cfg Config, extractors ...ContextExtractor) *slog.Logger {
	base := newHandler(os.Stdout, cfg)
	if cfg.Sentry.DSN == "" {
		return slog.New(NewLogHandlerDecorator(base, extractors...))
	}
	return slog.New(NewLogHandlerDecorator(withSentry(base, cfg.Sentry), extractors...))
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
