package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"optionsmetrics/internal/api/health"
	"optionsmetrics/internal/metrics"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

// ServerConfig contains configuration for HTTP server
type ServerConfig struct {
	Addr        string
	ServiceName string
	Version     string
}

// Server exposes probes and Prometheus metrics
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates and configures HTTP server with all routes
func NewServer(cfg ServerConfig, healthHandler *health.Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Get()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReadiness)
	mux.HandleFunc("/live", healthHandler.HandleLiveness)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"service":"%s","version":"%s","status":"running"}`,
			cfg.ServiceName, cfg.Version)
	})

	addr := cfg.Addr
	if addr == "" {
		addr = ":9090"
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log.With("component", "http_server"),
	}
}

// Handler returns the routed mux
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks until the server is shut down or fails
func (s *Server) Start() error {
	s.log.Info("starting http server", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown waits for active connections within ctx
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}
	s.log.Info("http server stopped")
	return nil
}
