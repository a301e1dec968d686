// Package server exposes on-demand index reports over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/infra-logging/indexaudit/internal/analyze"
	"github.com/infra-logging/indexaudit/internal/config"
	"github.com/infra-logging/indexaudit/internal/models"
)

// Reporter produces a report for the given analysis options
type Reporter interface {
	Report(ctx context.Context, opts analyze.Options) (*models.Report, error)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(ctx context.Context, opts analyze.Options) (*models.Report, error)

func (f ReporterFunc) Report(ctx context.Context, opts analyze.Options) (*models.Report, error) {
	return f(ctx, opts)
}

// Server serves health checks, reports and metrics
type Server struct {
	config     config.ServerConfig
	defaults   analyze.Options
	reporter   Reporter
	metrics    http.Handler
	logger     *zap.Logger
	limiter    *RateLimiter
	router     *mux.Router
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

// New creates a server. metrics may be nil, in which case /metrics is not routed.
func New(cfg config.ServerConfig, defaults analyze.Options, reporter Reporter, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:   cfg,
		defaults: defaults,
		reporter: reporter,
		metrics:  metrics,
		logger:   logger,
		limiter:  NewRateLimiter(cfg.RequestsPerMin, cfg.Burst),
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.readinessHandler).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/report", s.reportHandler).Methods(http.MethodGet)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound listen address once the server has started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listen address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port))

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = lis

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("Starting HTTP server", zap.String("addr", lis.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the server, waiting at most the configured shutdown timeout
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
