package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/maximewewer/ntp-timekeeper/internal/config"
	"github.com/maximewewer/ntp-timekeeper/pkg/logger"
	"github.com/maximewewer/ntp-timekeeper/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Server represents the HTTP server
type Server struct {
	config   *config.Config
	registry *prometheus.Registry
	metrics  *metrics.TimekeeperMetrics
	source   TimeSource
	server   *http.Server
}

// New creates a new HTTP server serving the estimate from source
func New(cfg *config.Config, registry *prometheus.Registry, m *metrics.TimekeeperMetrics, source TimeSource) *Server {
	return &Server{
		config:   cfg,
		registry: registry,
		metrics:  m,
		source:   source,
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()

	addr := s.config.Server.Address + ":" + strconv.Itoa(s.config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	// Configure TLS if enabled
	if s.config.Server.TLSEnabled {
		s.server.TLSConfig = createSecureTLSConfig()
		logger.Infof("server", "Starting HTTPS server on %s with TLS 1.2+", addr)
	} else {
		logger.Infof("server", "Starting HTTP server on %s", addr)
	}

	// Start server
	errChan := make(chan error, 1)
	go func() {
		if s.config.Server.TLSEnabled {
			errChan <- s.server.ListenAndServeTLS(
				s.config.Server.TLSCertFile,
				s.config.Server.TLSKeyFile,
			)
		} else {
			errChan <- s.server.ListenAndServe()
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		logger.Info("server", "Shutting down HTTP server")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server", "Server error", err)
			return fmt.Errorf("HTTP server failed on %s: %w", s.server.Addr, err)
		}
		return nil
	}
}

// Handler builds the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	handlers := NewHandlers(s.config, s.registry, s.source)

	mux.HandleFunc("/metrics", handlers.MetricsHandler)
	mux.HandleFunc("/health", handlers.HealthHandler)
	mux.HandleFunc("/status", handlers.StatusHandler)
	mux.HandleFunc("/time", handlers.TimeHandler)
	mux.HandleFunc("/", handlers.IndexHandler)

	return NewMiddleware(s.config, s.metrics).Apply(mux)
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server", "Server shutdown failed", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("server shutdown timeout after 10s: %w", err)
		}
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("server", "HTTP server stopped")
	return nil
}

// createSecureTLSConfig restricts the listener to TLS 1.2+ with ECDHE suites
func createSecureTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP384,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},
	}
}
