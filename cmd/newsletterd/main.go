// Command newsletterd runs the newsletter workers and the admin HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hybridprotocol/newsletter/internal/app"
	"github.com/hybridprotocol/newsletter/internal/config"
	"github.com/hybridprotocol/newsletter/internal/server"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "newsletterd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := app.NewLogger(cfg)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := a.Migrate(ctx); err != nil {
		return errors.Join(fmt.Errorf("migrate: %w", err), a.Close(ctx))
	}

	workers, err := a.Workers()
	if err != nil {
		return errors.Join(err, a.Close(ctx))
	}

	hooks := []server.Hook{workers.Shutdown()}
	for _, h := range a.ShutdownHooks() {
		hooks = append(hooks, h)
	}

	srv := server.New(server.Config{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, a.Handler(workers),
		server.WithLogger(log),
		server.WithStartHook(workers.StartFunc()),
		server.WithShutdownHook(hooks...),
	)

	log.Info("newsletterd starting",
		slog.String("env", cfg.Env),
		slog.String("provider", cfg.Mailer.Provider),
		slog.Bool("redis", a.Redis != nil),
		slog.Bool("admin_api", cfg.HTTP.AdminToken != ""),
	)
	return srv.Run(ctx)
}
