package dispatch

import (
	"context"
	"log/slog"

	"github.com/hybridprotocol/newsletter/pkg/job"
	"github.com/hybridprotocol/newsletter/pkg/logger"
)

type sendKeyCtx struct{}

// WithSendKey tags ctx so every log line of a dispatch carries the send key.
func WithSendKey(ctx context.Context, sendKey string) context.Context {
	return context.WithValue(ctx, sendKeyCtx{}, sendKey)
}

// SendKeyFromContext returns the send key set by WithSendKey.
func SendKeyFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sendKeyCtx{}).(string)
	return v, ok && v != ""
}

// LogExtractors add send_key, job and attempt to log records.
func LogExtractors() []logger.ContextExtractor {
	return []logger.ContextExtractor{
		func(ctx context.Context) (slog.Attr, bool) {
			v, ok := SendKeyFromContext(ctx)
			if !ok {
				return slog.Attr{}, false
			}
			return slog.String("send_key", v), true
		},
		func(ctx context.Context) (slog.Attr, bool) {
			info, ok := job.TaskFromContext(ctx)
			if !ok {
				return slog.Attr{}, false
			}
			return slog.Group("job",
				slog.String("task", info.Name),
				slog.Int64("id", info.JobID),
			), true
		},
		func(ctx context.Context) (slog.Attr, bool) {
			n, ok := attemptFromContext(ctx)
			if !ok {
				return slog.Attr{}, false
			}
			return slog.Int("attempt", n), true
		},
	}
}

type attemptCtx struct{}

func withAttempt(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, attemptCtx{}, n)
}

func attemptFromContext(ctx context.Context) (int, bool) {
	n, ok := ctx.Value(attemptCtx{}).(int)
	return n, ok
}
