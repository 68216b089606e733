// Package app assembles the service from configuration: connections, stores,
// the dispatcher, job tasks and the HTTP handler. Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hybridprotocol/newsletter/internal/admin"
	"github.com/hybridprotocol/newsletter/internal/config"
	"github.com/hybridprotocol/newsletter/internal/db/migrations"
	"github.com/hybridprotocol/newsletter/internal/dispatch"
	"github.com/hybridprotocol/newsletter/internal/lock"
	"github.com/hybridprotocol/newsletter/internal/newsletter"
	"github.com/hybridprotocol/newsletter/internal/repository"
	"github.com/hybridprotocol/newsletter/internal/tasks"
	"github.com/hybridprotocol/newsletter/internal/templates"
	"github.com/hybridprotocol/newsletter/internal/transport"
	"github.com/hybridprotocol/newsletter/pkg/cache"
	"github.com/hybridprotocol/newsletter/pkg/db"
	"github.com/hybridprotocol/newsletter/pkg/health"
	"github.com/hybridprotocol/newsletter/pkg/job"
	"github.com/hybridprotocol/newsletter/pkg/logger"
	"github.com/hybridprotocol/newsletter/pkg/mailer"
	"github.com/hybridprotocol/newsletter/pkg/redis"
)

const (
	redisPrefix     = "newsletter"
	statsTTL        = 5 * time.Second
	sentryFlushWait = 2 * time.Second
)

// App holds the long-lived collaborators of one process.
type App struct {
	Config      config.Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	Redis       goredis.UniversalClient // nil without REDIS_URL
	Newsletters *repository.Newsletters
	Recipients  *repository.Recipients
	Ledger      *repository.Ledger
	Links       *dispatch.Links
	Dispatcher  *dispatch.Dispatcher
	Retrier     *dispatch.Retrier
	Enqueuer    tasks.Enqueuer

	closers []func(context.Context) error
}

// NewLogger builds the process logger with the dispatch and request extractors.
func NewLogger(cfg config.Config) *slog.Logger {
	extractors := append(dispatch.LogExtractors(), admin.RequestIDExtractor())
	return logger.New(cfg.Log, extractors...)
}

// New connects to Postgres (and Redis when configured) and wires the
// dispatcher. Close releases what New opened.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}
	if cfg.Log.Sentry.DSN != "" {
		a.closers = append(a.closers, logger.Flush(sentryFlushWait))
	}

	pool, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("app: connect database: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, db.Shutdown(pool))

	if cfg.Redis.Enabled() {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("app: connect redis: %w", err), a.Close(ctx))
		}
		a.Redis = client
		a.closers = append(a.closers, redis.Shutdown(client))
	}

	sender, err := transport.New(cfg.Mailer, cfg.Resend, log)
	if err != nil {
		return nil, errors.Join(err, a.Close(ctx))
	}
	links, err := dispatch.NewLinks(cfg.Links)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("app: unsubscribe links: %w", err), a.Close(ctx))
	}

	enq, err := job.NewEnqueuer(pool, job.WithEnqueuerLogger(log))
	if err != nil {
		return nil, errors.Join(err, a.Close(ctx))
	}

	a.Newsletters = repository.NewNewsletters(pool)
	a.Recipients = repository.NewRecipients(pool)
	a.Ledger = repository.NewLedger(pool)
	a.Links = links
	a.Enqueuer = tasks.InQueue(enq, cfg.Jobs.Queue)

	opts := []dispatch.Option{
		dispatch.WithLogger(log),
		dispatch.WithLocker(a.locker()),
		dispatch.WithProgress(progressCache(a.Redis)),
	}
	a.Dispatcher = dispatch.New(cfg.Dispatch, cfg.Mailer, dispatch.Deps{
		Newsletters: a.Newsletters,
		Recipients:  a.Recipients,
		Ledger:      a.Ledger,
		Sender:      sender,
		Renderer:    mailer.NewRenderer(templates.FS),
		Links:       links,
	}, opts...)
	a.Retrier = dispatch.NewRetrier(cfg.Dispatch, dispatch.WithRetryLogger(log))

	return a, nil
}

// Migrate applies the service schema and the River schema.
func (a *App) Migrate(ctx context.Context) error {
	table := a.Config.DB.MigrationsTable
	if table == "" {
		table = migrations.Table
	}
	if err := db.Migrate(ctx, a.Pool, migrations.FS, table, a.Logger); err != nil {
		return err
	}
	return job.Migrate(ctx, a.Pool, a.Logger)
}

// Workers creates the job manager running every newsletter task.
func (a *App) Workers() (*job.Manager, error) {
	send := tasks.NewSendNewsletterTask(a.Dispatcher, a.Retrier, a.Enqueuer, a.Newsletters, a.Logger)
	test := tasks.NewSendTestTask(a.Dispatcher, a.Retrier, a.Enqueuer)
	due := tasks.NewDispatchDueTask(a.Newsletters, a.Enqueuer, a.Logger)

	return job.NewManager(a.Pool,
		job.WithLogger(a.Logger),
		job.WithMaxWorkers(a.Config.Jobs.MaxWorkers),
		job.WithQueue(a.Config.Jobs.Queue, a.Config.Jobs.QueueSize),
		job.WithTask[tasks.SendNewsletterPayload](send),
		job.WithTask[tasks.SendTestPayload](test),
		job.WithScheduledTask(due),
	)
}

// Handler builds the HTTP surface. Readiness covers Postgres, Redis when
// configured, and the job manager when one runs in this process.
func (a *App) Handler(workers *job.Manager) http.Handler {
	checks := health.Checks{"postgres": db.Healthcheck(a.Pool)}
	if a.Redis != nil {
		checks["redis"] = redis.Healthcheck(a.Redis)
	}
	if workers != nil {
		checks["jobs"] = job.Healthcheck(workers)
	}

	return admin.NewRouter(a.Config.HTTP.AdminToken, admin.Deps{
		Newsletters: a.Newsletters,
		Recipients:  a.Recipients,
		Ledger:      a.Ledger,
		Enqueuer:    a.Enqueuer,
		Progress:    a.Dispatcher,
		Links:       a.Links,
		Checks:      checks,
	},
		admin.WithLogger(a.Logger),
		admin.WithStatsCache(statsCache(a.Redis), statsTTL),
	)
}

// ShutdownHooks returns the release hooks in reverse order of acquisition.
func (a *App) ShutdownHooks() []func(context.Context) error {
	hooks := make([]func(context.Context) error, 0, len(a.closers))
	for i := len(a.closers) - 1; i >= 0; i-- {
		hooks = append(hooks, a.closers[i])
	}
	return hooks
}

// Close runs every shutdown hook.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, hook := range a.ShutdownHooks() {
		if err := hook(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) locker() lock.Locker {
	if a.Redis == nil {
		return lock.NewMemory()
	}
	return lock.NewRedis(a.Redis, redisPrefix+":lock")
}

func progressCache(client goredis.UniversalClient) cache.Cache[dispatch.Progress] {
	if client == nil {
		return cache.NewMemory[dispatch.Progress]()
	}
	return cache.NewRedis[dispatch.Progress](client, nil, cache.WithPrefix(redisPrefix+":progress"))
}

func statsCache(client goredis.UniversalClient) cache.Cache[newsletter.DeliveryStats] {
	if client == nil {
		return cache.NewMemory[newsletter.DeliveryStats](cache.WithMaxEntries(1024))
	}
	return cache.NewRedis[newsletter.DeliveryStats](client, nil, cache.WithPrefix(redisPrefix))
}
