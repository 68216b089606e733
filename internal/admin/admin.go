// Package admin serves the operator HTTP surface of the newsletter daemon:
// send and test-send triggers, ledger and progress inspection, health probes
// and the public one-click unsubscribe endpoint.
//
//	GET  /healthz
//	GET  /readyz
//	GET  /unsubscribe/?t=<token>
//	POST /unsubscribe/?t=<token>
//	POST /admin/newsletters/{sendKey}/send
//	POST /admin/newsletters/{id}/test
//	GET  /admin/newsletters/{sendKey}/deliveries?after=<recipient id>&limit=<n>
//	GET  /admin/newsletters/{sendKey}/progress
//
// Admin routes require "Authorization: Bearer <token>" and are not mounted when
// no token is configured.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hybridprotocol/newsletter/internal/dispatch"
	"github.com/hybridprotocol/newsletter/internal/newsletter"
	"github.com/hybridprotocol/newsletter/internal/tasks"
	"github.com/hybridprotocol/newsletter/pkg/cache"
	"github.com/hybridprotocol/newsletter/pkg/health"
	"github.com/hybridprotocol/newsletter/pkg/logger"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	defaultStatsTTL  = 5 * time.Second
)

// ProgressReader returns the last progress snapshot of a send key.
// Implemented by *dispatch.Dispatcher.
type ProgressReader interface {
	Progress(ctx context.Context, sendKey string) (dispatch.Progress, error)
}

// UnsubscribeVerifier decodes unsubscribe tokens. Implemented by *dispatch.Links.
type UnsubscribeVerifier interface {
	VerifyUnsubscribe(token string) (int64, error)
}

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Newsletters newsletter.NewsletterStore
	Recipients  newsletter.RecipientStore
	Ledger      newsletter.Ledger
	Enqueuer    tasks.Enqueuer
	Progress    ProgressReader
	Links       UnsubscribeVerifier
	Checks      health.Checks
}

type handler struct {
	deps     Deps
	logger   *slog.Logger
	stats    cache.Cache[newsletter.DeliveryStats]
	statsTTL time.Duration
}

// Option configures the router.
type Option func(*handler)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithStatsCache caches ledger aggregates for ttl. Nil disables caching.
func WithStatsCache(c cache.Cache[newsletter.DeliveryStats], ttl time.Duration) Option {
	return func(h *handler) {
		h.stats = c
		if ttl > 0 {
			h.statsTTL = ttl
		}
	}
}

// NewRouter builds the HTTP handler. An empty adminToken leaves the admin
// routes unmounted.
func NewRouter(adminToken string, deps Deps, opts ...Option) http.Handler {
	h := &handler{
		deps:     deps,
		logger:   logger.NewNope(),
		statsTTL: defaultStatsTTL,
	}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(RequestID, Recover(h.logger))

	r.Get("/healthz", health.LivenessHandler())
	r.Get("/readyz", health.ReadinessHandler(deps.Checks, health.WithLogger(h.logger)))

	r.Get(dispatch.UnsubscribePath, h.unsubscribe)
	r.Post(dispatch.UnsubscribePath, h.unsubscribe)

	if adminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(BearerToken(adminToken))
			r.Route("/newsletters", func(r chi.Router) {
				r.Post("/{sendKey}/send", h.send)
				r.Post("/{id}/test", h.sendTest)
				r.Get("/{sendKey}/deliveries", h.deliveries)
				r.Get("/{sendKey}/progress", h.progress)
			})
		})
	}

	return r
}
