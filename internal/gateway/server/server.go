// Package server assembles the scheduler ops HTTP server: health
// probes, Prometheus metrics and the live execution event feed.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/miniflow-io/miniflow/internal/gateway/handlers"
	"github.com/miniflow-io/miniflow/internal/platform/config"
	"github.com/miniflow-io/miniflow/internal/platform/health"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/platform/metrics"
)

// Server is the ops HTTP server of the scheduler service.
type Server struct {
	config     *config.Config
	logger     logger.Logger
	health     *health.Handler
	metrics    *metrics.Metrics
	hub        *handlers.Hub
	scheduled  func() int
	httpServer *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithConfig sets the service configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Server) { s.config = cfg }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) { s.logger = log }
}

// WithHealth mounts the health probe handlers.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics mounts the Prometheus endpoint and HTTP metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHub mounts the WebSocket event feed.
func WithHub(hub *handlers.Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithScheduledCount exposes the registered trigger count on /info.
func WithScheduledCount(count func() int) Option {
	return func(s *Server) { s.scheduled = count }
}

// New builds the server and its routes.
func New(opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}

	if s.config == nil {
		return nil, fmt.Errorf("server requires a configuration")
	}
	if s.logger == nil {
		return nil, fmt.Errorf("server requires a logger")
	}

	s.setupHTTPServer()
	return s, nil
}

func (s *Server) setupHTTPServer() {
	router := mux.NewRouter()

	router.Use(logger.HTTPMiddleware(s.logger))
	if s.metrics != nil {
		router.Use(s.metrics.HTTPMetricsMiddleware())
	}

	if s.health != nil {
		router.HandleFunc("/healthz", s.health.LivenessHandler()).Methods(http.MethodGet)
		router.HandleFunc("/readyz", s.health.ReadinessHandler()).Methods(http.MethodGet)
		router.HandleFunc("/health", s.health.HealthHandler()).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	if s.hub != nil {
		router.Handle("/ws", handlers.NewWebSocketHandler(s.hub, s.logger)).Methods(http.MethodGet)
	}
	router.Handle("/info", handlers.NewInfoHandler(
		s.config.Service.Name,
		s.config.Version,
		s.config.Service.Environment,
		s.hub,
		s.scheduled,
	)).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTP.Port),
		Handler:      router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  s.config.HTTP.IdleTimeout,
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", "port", s.config.HTTP.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("ops server shutting down")
	return s.httpServer.Shutdown(ctx)
}
