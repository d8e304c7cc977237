// Package server exposes bug metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielolaszy/qadash/internal/bugmetrics"
	"github.com/danielolaszy/qadash/internal/logging"
	"github.com/danielolaszy/qadash/pkg/models"
)

const (
	defaultListenAddr = ":8080"
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
	maxBodyBytes      = 10 << 20
)

// MetricsComputer computes the bug metrics of one feature.
type MetricsComputer interface {
	ComputeBugMetrics(ctx context.Context, featureID int, relations []models.Relation) (models.BugMetrics, error)
}

// FeatureReporter produces the per-feature report.
type FeatureReporter interface {
	Report(ctx context.Context, query bugmetrics.FeatureQuery) ([]models.FeatureReport, error)
}

// Server serves the bug metrics API.
type Server struct {
	addr     string
	metrics  MetricsComputer
	reporter FeatureReporter
	logger   *slog.Logger
	handler  http.Handler
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the logger used for access and error logs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a Server listening on addr. reporter may be nil, in which case
// the features endpoint is not registered.
func New(addr string, metrics MetricsComputer, reporter FeatureReporter, opts ...Option) *Server {
	if addr == "" {
		addr = defaultListenAddr
	}
	s := &Server{
		addr:     addr,
		metrics:  metrics,
		reporter: reporter,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/bug-metrics", s.handleBugMetrics)
	if reporter != nil {
		mux.HandleFunc("GET /api/features", s.handleFeatures)
	}
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.handler = requestID(s.accessLog(s.recoverPanic(mux)))
	return s
}

// Handler returns the server's root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address and serves until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		// In-flight requests must outlive ctx so Shutdown can drain them.
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}
