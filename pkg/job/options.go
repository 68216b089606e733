package job

import (
	"context"
	"log/slog"
)

type config struct {
	registry   *registry
	queues     map[string]int
	logger     *slog.Logger
	schedules  []scheduleConfig
	maxWorkers int
}

func newConfig() *config {
	return &config{
		registry: newRegistry(),
		queues:   make(map[string]int),
	}
}

// Option configures the job manager.
type Option func(*config)

// WithTask registers a task. The payload type P is inferred from Handle.
func WithTask[P any, T interface {
	Name() string
	Handle(context.Context, P) error
}](task T) Option {
	return func(c *config) {
		c.registry.register(task.Name(), &typedTask[P, T]{task: task})
	}
}

// WithScheduledTask registers a periodic task. Schedule returns a five-field
// cron expression (minute hour day month weekday).
func WithScheduledTask[T interface {
	Name() string
	Schedule() string
	Handle(context.Context) error
}](task T) Option {
	return func(c *config) {
		c.schedules = append(c.schedules, scheduleConfig{
			name:     task.Name(),
			schedule: task.Schedule(),
			handler:  task.Handle,
		})
	}
}

// WithQueue adds a named queue with its own worker count.
func WithQueue(name string, workers int) Option {
	return func(c *config) {
		if workers > 0 {
			c.queues[name] = workers
		}
	}
}

// WithLogger sets the logger used by River and the task worker.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxWorkers sets the worker count of the default queue (100 if unset).
func WithMaxWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}
