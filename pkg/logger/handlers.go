package logger

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// ContextExtractor pulls one attribute out of a context. It reports false
// when the context carries nothing to log.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

// LogHandlerDecorator appends context attributes (send key, job, attempt,
// request id) to each record before passing it on.
type LogHandlerDecorator struct {
	next       slog.Handler
	extractors []ContextExtractor
}

// NewLogHandlerDecorator wraps next. Nil extractors are dropped.
func NewLogHandlerDecorator(next slog.Handler, extractors ...ContextExtractor) slog.Handler {
	return &LogHandlerDecorator{
		next: next,
		extractors: slices.DeleteFunc(slices.Clone(extractors), func(ex ContextExtractor) bool {
			return ex == nil
		}),
	}
}

func (h *LogHandlerDecorator) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *LogHandlerDecorator) Handle(ctx context.Context, rec slog.Record) error {
	for _, ex := range h.extractors {
		if attr, ok := ex(ctx); ok {
			rec.AddAttrs(attr)
		}
	}
	return h.next.Handle(ctx, rec)
}

func (h *LogHandlerDecorator) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.wrap(h.next.WithAttrs(attrs))
}

func (h *LogHandlerDecorator) WithGroup(name string) slog.Handler {
	return h.wrap(h.next.WithGroup(name))
}

func (h *LogHandlerDecorator) wrap(next slog.Handler) *LogHandlerDecorator {
	return &LogHandlerDecorator{next: next, extractors: h.extractors}
}

// fanout writes every record to each handler that accepts its level. A failing
// sink does not keep the record from the others.
type fanout []slog.Handler

func newMultiHandler(handlers ...slog.Handler) slog.Handler {
	return fanout(handlers)
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(f, func(h slog.Handler) bool { return h.Enabled(ctx, level) })
}

func (f fanout) Handle(ctx context.Context, rec slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, rec.Level) {
			continue
		}
		if err := h.Handle(ctx, rec.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}
