package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tokentracker-hq/relay/pkg/config"
	"tokentracker-hq/relay/pkg/proxy"
	"tokentracker-hq/relay/pkg/proxy/middleware"
	"tokentracker-hq/relay/pkg/telemetry/metrics"
	"tokentracker-hq/relay/pkg/upstream"
	"tokentracker-hq/relay/pkg/usage/storage"
)

// Server is the forwarding proxy HTTP server. All paths except the health
// endpoint relay to the upstream API.
type Server struct {
	config        *config.Config
	store         storage.Store
	metrics       *metrics.ProxyMetrics
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	shutdownChan  chan struct{}
	shutdownOnce  sync.Once
	mu            sync.RWMutex
	isRunning     bool
}

// NewServer creates a new proxy server. metrics may be nil when the
// metrics listener is disabled.
func NewServer(cfg *config.Config, store storage.Store, pm *metrics.ProxyMetrics) *Server {
	return &Server{
		config:       cfg,
		store:        store,
		metrics:      pm,
		logger:       slog.Default().With("component", "server"),
		shutdownChan: make(chan struct{}),
	}
}

// Start binds the listener and serves until the context is cancelled,
// a termination signal arrives, or the server fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	handler := s.setupRoutes()

	// No read or write timeouts: upstream responses may stream for
	// minutes and the per-request deadline lives on the upstream client.
	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := s.listenWithRetry()
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("proxy server listening",
			"address", listener.Addr().String(),
		)
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	if s.config.Metrics.Enabled && s.metrics != nil {
		s.startMetricsServer(errChan)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	case <-s.shutdownChan:
		s.logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the proxy and metrics servers.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown",
			"timeout", s.config.Proxy.ShutdownTimeout.String(),
		)

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Proxy.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		if s.metricsServer != nil {
			if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during metrics server shutdown", "error", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("proxy server stopped")
	})

	return shutdownErr
}

// listenWithRetry binds the listen address, retrying in case a previous
// instance is still releasing the port.
func (s *Server) listenWithRetry() (net.Listener, error) {
	addr := s.config.Proxy.ListenAddress
	retries := s.config.Proxy.BindRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		listener, err := net.Listen("tcp", addr)
		if err == nil {
			return listener, nil
		}
		lastErr = err

		if attempt < retries {
			s.logger.Warn("bind failed, retrying",
				"address", addr,
				"attempt", attempt,
				"retry_delay", s.config.Proxy.BindRetryDelay.String(),
				"error", err,
			)
			time.Sleep(s.config.Proxy.BindRetryDelay)
		}
	}

	return nil, fmt.Errorf("failed to bind %s after %d attempts: %w", addr, retries, lastErr)
}

// setupRoutes configures HTTP routes and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	up := upstream.New(upstream.Config{
		Host:    s.config.Upstream.Host,
		Scheme:  s.config.Upstream.Scheme,
		Timeout: s.config.Upstream.Timeout,
	})

	proxyHandler := proxy.NewHandler(up, s.store, s.metrics)
	mux.Handle(proxy.HealthPath, proxy.NewHealthHandler(proxyHandler))
	mux.Handle("/", proxyHandler)

	var handler http.Handler = mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.RequestIDMiddleware(handler)
	handler = middleware.RecoveryMiddleware(handler)

	return handler
}

// startMetricsServer serves the Prometheus endpoint on its own listener
// so scrapes never mix with proxied traffic.
func (s *Server) startMetricsServer(errChan chan<- error) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", s.metrics.Handler())

	s.metricsServer = &http.Server{
		Addr:              s.config.Metrics.ListenAddress,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("metrics server listening",
			"address", s.config.Metrics.ListenAddress,
		)
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}
