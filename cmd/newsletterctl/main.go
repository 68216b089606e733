// Command newsletterctl is the operator CLI: trigger bulk and test sends,
// inspect progress and apply migrations.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hybridprotocol/newsletter/internal/app"
	"github.com/hybridprotocol/newsletter/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(openApp).ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, app.NewLogger(cfg))
}
