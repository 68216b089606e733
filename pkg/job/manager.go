package job

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

const (
	defaultMaxWorkers = 100
	defaultQueue      = river.QueueDefault
)

// Manager enqueues and processes jobs. It embeds an Enqueuer whose client
// also runs the registered workers once Start is called.
type Manager struct {
	*Enqueuer
	registry *registry
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewManager creates a job manager. Jobs may be enqueued before Start.
func NewManager(pool *pgxpool.Pool, opts ...Option) (*Manager, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}

	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.maxWorkers == 0 {
		cfg.maxWorkers = defaultMaxWorkers
	}

	queues := map[string]river.QueueConfig{
		defaultQueue: {MaxWorkers: cfg.maxWorkers},
	}
	for name, workers := range cfg.queues {
		queues[name] = river.QueueConfig{MaxWorkers: workers}
	}

	periodicJobs, err := periodicJobs(cfg)
	if err != nil {
		return nil, err
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &taskWorker{
		registry: cfg.registry,
		logger:   cfg.logger,
	})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       queues,
		Workers:      workers,
		PeriodicJobs: periodicJobs,
		Logger:       cfg.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("job: create client: %w", err)
	}

	return &Manager{
		Enqueuer: &Enqueuer{
			pool:   pool,
			client: client,
			logger: cfg.logger,
		},
		registry: cfg.registry,
		logger:   cfg.logger,
	}, nil
}

// Start begins processing jobs.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}
	if err := m.client.Start(ctx); err != nil {
		return fmt.Errorf("job: start client: %w", err)
	}

	m.started = true
	m.logger.Info("job manager started", slog.Any("tasks", m.registry.names()))
	return nil
}

// Stop waits for running jobs to finish and stops the workers.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return ErrNotStarted
	}
	if err := m.client.Stop(ctx); err != nil {
		return fmt.Errorf("job: stop client: %w", err)
	}

	m.started = false
	m.logger.Info("job manager stopped")
	return nil
}

// Enqueue is Enqueuer.Enqueue restricted to registered tasks.
func (m *Manager) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) error {
	if _, ok := m.registry.get(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return m.Enqueuer.Enqueue(ctx, name, payload, opts...)
}

// StartFunc adapts Start to a startup hook.
func (m *Manager) StartFunc() func(context.Context) error {
	return m.Start
}

// Shutdown adapts Stop to a shutdown hook.
func (m *Manager) Shutdown() func(context.Context) error {
	return m.Stop
}

// taskArgs is the single River job kind used for every task.
type taskArgs struct {
	TaskName  string          `json:"task_name" river:"unique"`
	UniqueKey string          `json:"unique_key,omitempty" river:"unique"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (taskArgs) Kind() string { return "newsletter:task" }

// taskWorker dispatches every job to its registered task.
type taskWorker struct {
	river.WorkerDefaults[taskArgs]
	registry *registry
	logger   *slog.Logger
}

func (w *taskWorker) Work(ctx context.Context, j *river.Job[taskArgs]) error {
	e, ok := w.registry.get(j.Args.TaskName)
	if !ok || e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, j.Args.TaskName)
	}

	attrs := []any{
		slog.String("task", j.Args.TaskName),
		slog.Int64("job_id", j.ID),
		slog.Int("attempt", j.Attempt),
	}

	ctx = withTaskInfo(ctx, TaskInfo{
		Name:    j.Args.TaskName,
		JobID:   j.ID,
		Attempt: j.Attempt,
	})

	w.logger.DebugContext(ctx, "executing task", attrs...)
	if err := e.Execute(ctx, j.Args.Payload); err != nil {
		w.logger.ErrorContext(ctx, "task failed", append(attrs, slog.Any("error", err))...)
		return err
	}
	w.logger.DebugContext(ctx, "task completed", attrs...)
	return nil
}
