package job

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// Enqueuer inserts jobs without processing them. Worker processes run a
// Manager against the same database.
type Enqueuer struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	logger *slog.Logger
}

// EnqueuerOption configures the enqueuer.
type EnqueuerOption func(*enqueuerConfig)

type enqueuerConfig struct {
	logger *slog.Logger
}

// WithEnqueuerLogger sets the logger for the enqueuer.
func WithEnqueuerLogger(l *slog.Logger) EnqueuerOption {
	return func(c *enqueuerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewEnqueuer creates an insert-only River client.
func NewEnqueuer(pool *pgxpool.Pool, opts ...EnqueuerOption) (*Enqueuer, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}

	cfg := &enqueuerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	// No Workers and no Queues: the client can only insert.
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: cfg.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("job: create enqueuer client: %w", err)
	}

	return &Enqueuer{
		pool:   pool,
		client: client,
		logger: cfg.logger,
	}, nil
}

// Enqueue inserts a job for the named task. Task names are validated by the
// worker, not here. A job skipped as a duplicate is not an error.
func (e *Enqueuer) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) error {
	args, insertOpts, err := buildJobArgs(name, payload, opts...)
	if err != nil {
		return err
	}

	res, err := e.client.Insert(ctx, args, insertOpts)
	if err != nil {
		return fmt.Errorf("job: enqueue %s: %w", name, err)
	}
	e.logInserted(ctx, name, res.Job.ID, res.UniqueSkippedAsDuplicate)
	return nil
}

func (e *Enqueuer) logInserted(ctx context.Context, name string, jobID int64, duplicate bool) {
	if duplicate {
		e.logger.InfoContext(ctx, "job skipped as duplicate",
			slog.String("task", name),
			slog.Int64("job_id", jobID),
		)
		return
	}
	e.logger.DebugContext(ctx, "job enqueued",
		slog.String("task", name),
		slog.Int64("job_id", jobID),
	)
}

// buildJobArgs converts a task name, payload and options into River insert
// arguments. Shared by Enqueuer and Manager.
func buildJobArgs(name string, payload any, opts ...EnqueueOption) (*taskArgs, *river.InsertOpts, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("job: marshal payload: %w", err)
		}
	}

	args := &taskArgs{
		TaskName: name,
		Payload:  raw,
	}

	cfg := &enqueueConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	insertOpts := &river.InsertOpts{
		Queue:       cfg.queue,
		MaxAttempts: cfg.maxAttempts,
		Priority:    cfg.priority,
		Tags:        cfg.tags,
	}
	if cfg.scheduledAt != nil {
		insertOpts.ScheduledAt = *cfg.scheduledAt
	}
	if cfg.uniqueFor > 0 {
		args.UniqueKey = cfg.uniqueKey
		if args.UniqueKey == "" {
			sum := sha256.Sum256(raw)
			args.UniqueKey = hex.EncodeToString(sum[:])
		}
		// Only the fields tagged river:"unique" take part in the key.
		insertOpts.UniqueOpts = river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: cfg.uniqueFor,
		}
	}

	return args, insertOpts, nil
}
