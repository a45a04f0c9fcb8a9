// Package server assembles the REST facade: execution start/read/cancel
// plus the workflow definition surface, served over one HTTP listener.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	exehandlers "github.com/miniflow-io/miniflow/internal/execution/adapters/http/handlers"
	exepostgres "github.com/miniflow-io/miniflow/internal/execution/adapters/repository/postgres"
	exeservice "github.com/miniflow-io/miniflow/internal/execution/app/service"
	"github.com/miniflow-io/miniflow/internal/platform/config"
	"github.com/miniflow-io/miniflow/internal/platform/database"
	"github.com/miniflow-io/miniflow/internal/platform/health"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/platform/messaging/kafka"
	"github.com/miniflow-io/miniflow/internal/platform/metrics"
	"github.com/miniflow-io/miniflow/internal/shared/events"
	wfhandlers "github.com/miniflow-io/miniflow/internal/workflow/adapters/http/handlers"
	wfpostgres "github.com/miniflow-io/miniflow/internal/workflow/adapters/repository/postgres"
	wfservice "github.com/miniflow-io/miniflow/internal/workflow/app/service"
)

// Server owns the REST facade and the resources behind it. The database
// pool and the Kafka producer are created here and closed on Shutdown.
type Server struct {
	config  *config.Config
	logger  logger.Logger
	metrics *metrics.Metrics

	db        *database.DB
	publisher *kafka.EventPublisher
	health    *health.Handler

	executionService *exeservice.ExecutionService
	workflowService  *wfservice.WorkflowService

	httpServer *http.Server
	stopCh     chan struct{}
}

// Option is a server configuration option
type Option func(*Server)

// WithConfig sets the server config
func WithConfig(cfg *config.Config) Option {
	return func(s *Server) {
		s.config = cfg
	}
}

// WithLogger sets the server logger
func WithLogger(logger logger.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a new server instance
func New(opts ...Option) (*Server, error) {
	s := &Server{stopCh: make(chan struct{})}

	for _, opt := range opts {
		opt(s)
	}

	if s.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if s.logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return s, nil
}

func (s *Server) initialize() error {
	db, err := database.New(s.config.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	stores := exepostgres.NewStores(db)

	workflows := wfpostgres.NewWorkflowRepository(db)
	graph := wfpostgres.NewGraphStore(db)
	nodes := wfpostgres.NewNodeRepository(db)
	edges := wfpostgres.NewEdgeRepository(db)
	triggers := wfpostgres.NewTriggerRepository(db)
	scripts := wfpostgres.NewScriptRepository(db)
	customScripts := wfpostgres.NewCustomScriptRepository(db)

	// Lifecycle events go straight to Kafka; the facade has no local
	// subscribers. With Kafka disabled publishing is a no-op.
	var publisher events.Publisher
	if s.config.Kafka.Enabled {
		p, err := kafka.NewEventPublisher(s.config.Kafka, s.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize kafka publisher: %w", err)
		}
		s.publisher = p
		publisher = p
	}

	s.executionService = exeservice.NewExecutionService(
		stores,
		stores,
		workflows,
		nodes,
		edges,
		triggers,
		scripts,
		customScripts,
		publisher,
		s.metrics,
		s.logger,
	)

	s.workflowService = wfservice.NewWorkflowService(
		workflows,
		graph,
		nodes,
		edges,
		triggers,
		scripts,
		customScripts,
		s.logger,
	)

	s.health = health.NewHandler(s.config.Service.Name, s.config.Version)
	s.health.AddCheck("database", health.DatabaseChecker(db.HealthCheck))

	s.setupHTTPServer()

	return nil
}

func (s *Server) setupHTTPServer() {
	router := mux.NewRouter()

	router.Use(logger.HTTPMiddleware(s.logger))
	if s.metrics != nil {
		router.Use(s.metrics.HTTPMetricsMiddleware())
	}
	router.Use(s.recoveryMiddleware)

	router.HandleFunc("/healthz", s.health.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.health.ReadinessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/health", s.health.HealthHandler()).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	exehandlers.NewExecutionHandler(s.executionService, s.logger).RegisterRoutes(api)
	wfhandlers.NewWorkflowHandler(s.workflowService, s.logger).RegisterRoutes(api)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTP.Port),
		Handler:      router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  s.config.HTTP.IdleTimeout,
	}
}

// Start starts the server
func (s *Server) Start() error {
	if s.metrics != nil {
		go s.sampleDBStats()
	}
	s.logger.Info("api server listening", "port", s.config.HTTP.Port)
	return s.httpServer.ListenAndServe()
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down api server")
	close(s.stopCh)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("http server shutdown error", "error", err)
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("kafka publisher close error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}

	return nil
}

func (s *Server) sampleDBStats() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			st := s.db.Stats()
			s.metrics.SampleDBStats(st.OpenConnections, st.InUse)
		}
	}
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}`)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
