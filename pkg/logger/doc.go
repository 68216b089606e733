// Package logger builds the process slog.Logger.
//
// Records go to stdout as JSON (or text) and, when SENTRY_DSN is set, to
// Sentry as well: error records become issues, warnings are kept as logs.
// Background job failures that exhaust their retries are logged at error
// level and so surface in Sentry.
//
// ContextExtractors pull values such as the request id, the newsletter
// send key or the job attempt from the context on every log call:
//
//	log := logger.New(cfg.Log, admin.RequestIDExtractor(), dispatch.SendKeyExtractor())
//	log.InfoContext(ctx, "batch sent", slog.Int("batch", 2))
//	// {"level":"INFO","msg":"batch sent","batch":2,"send_key":"abc123"}
package logger
