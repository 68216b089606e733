package health

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout = 5 * time.Second

	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc matches db.Healthcheck, redis.Healthcheck and job.Healthcheck.
type CheckFunc func(ctx context.Context) error

// Checks maps check names to their functions. Nil checks are skipped.
type Checks map[string]CheckFunc

// Response is the JSON body of the readiness endpoint.
type Response struct {
	Checks map[string]Check `json:"checks,omitempty"`
	Status string           `json:"status"`
}

// Check is the result of a single named check.
type Check struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

type config struct {
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures the readiness handler.
type Option func(*config)

// WithTimeout bounds the whole check run. Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger logs failing checks at warn level.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		timeout: defaultTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Run executes all checks concurrently under the configured timeout.
func Run(ctx context.Context, checks Checks, opts ...Option) *Response {
	return runChecks(ctx, checks, newConfig(opts...))
}

func runChecks(ctx context.Context, checks Checks, cfg *config) *Response {
	resp := &Response{Status: StatusHealthy, Checks: make(map[string]Check, len(checks))}
	if len(checks) == 0 {
		return resp
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	// Sorted so log output is stable.
	for _, name := range slices.Sorted(maps.Keys(checks)) {
		check := checks[name]
		if check == nil {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			err := check(ctx)
			res := Check{Status: StatusHealthy, Duration: time.Since(start).Round(time.Millisecond).String()}
			if err != nil {
				res.Status, res.Error = StatusUnhealthy, err.Error()
				cfg.logger.WarnContext(ctx, "health check failed",
					slog.String("check", name),
					slog.String("error", err.Error()),
				)
			}

			mu.Lock()
			resp.Checks[name] = res
			if err != nil {
				resp.Status = StatusUnhealthy
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return resp
}
