// Package server runs the HTTP server of the newsletter daemon and owns the
// process lifecycle: startup hooks, signal handling and graceful shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hybridprotocol/newsletter/pkg/logger"
)

const (
	defaultAddr              = ":8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 30 * time.Second
	defaultMaxHeaderBytes    = 1 << 20
)

// Hook runs during startup or shutdown.
type Hook func(context.Context) error

// Config holds listener settings. Zero values use the defaults.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server serves one handler until its context is cancelled or the process
// receives SIGINT/SIGTERM.
type Server struct {
	handler       http.Handler
	logger        *slog.Logger
	listening     func(net.Addr)
	startHooks    []Hook
	shutdownHooks []Hook
	cfg           Config
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the lifecycle logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStartHook adds hooks run in order before the listener accepts requests.
func WithStartHook(hooks ...Hook) Option {
	return func(s *Server) {
		s.startHooks = append(s.startHooks, hooks...)
	}
}

// WithShutdownHook adds hooks run in order after the HTTP server stopped.
// They share the shutdown timeout.
func WithShutdownHook(hooks ...Hook) Option {
	return func(s *Server) {
		s.shutdownHooks = append(s.shutdownHooks, hooks...)
	}
}

// OnListening is called with the bound address once the listener is open.
func OnListening(fn func(net.Addr)) Option {
	return func(s *Server) {
		s.listening = fn
	}
}

// New creates a server for handler.
func New(cfg Config, handler http.Handler, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger.NewNope(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until ctx is done, a signal arrives or the listener fails, then
// shuts down. A failing start hook aborts startup; shutdown hooks still run so
// resources opened by earlier hooks are released.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	for _, hook := range s.startHooks {
		if err := hook(ctx); err != nil {
			s.logger.Error("startup hook failed", slog.Any("error", err))
			return errors.Join(err, s.shutdown(nil))
		}
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return errors.Join(err, s.shutdown(nil))
	}
	if s.listening != nil {
		s.listening(ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("address", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}

	return errors.Join(serveErr, s.shutdown(srv))
}

func (s *Server) shutdown(srv *http.Server) error {
	s.logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	for _, hook := range s.shutdownHooks {
		if err := hook(ctx); err != nil {
			errs = append(errs, err)
			s.logger.Error("shutdown hook failed", slog.Any("error", err))
		}
	}

	if len(errs) > 0 {
		s.logger.Error("shutdown completed with errors")
		return errors.Join(errs...)
	}
	s.logger.Info("shutdown completed")
	return nil
}
