package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	connectionpostgres "github.com/miniflow-io/miniflow/internal/connection/adapters/repository/postgres"
	connectionservice "github.com/miniflow-io/miniflow/internal/connection/app/service"
	credentialpostgres "github.com/miniflow-io/miniflow/internal/credential/adapters/repository/postgres"
	credentialservice "github.com/miniflow-io/miniflow/internal/credential/app/service"
	"github.com/miniflow-io/miniflow/internal/engine"
	exepostgres "github.com/miniflow-io/miniflow/internal/execution/adapters/repository/postgres"
	"github.com/miniflow-io/miniflow/internal/execution/app/handler"
	exeservice "github.com/miniflow-io/miniflow/internal/execution/app/service"
	exedomain "github.com/miniflow-io/miniflow/internal/execution/domain/service"
	"github.com/miniflow-io/miniflow/internal/gateway/handlers"
	"github.com/miniflow-io/miniflow/internal/gateway/server"
	"github.com/miniflow-io/miniflow/internal/platform/cache"
	"github.com/miniflow-io/miniflow/internal/platform/config"
	"github.com/miniflow-io/miniflow/internal/platform/crypto"
	"github.com/miniflow-io/miniflow/internal/platform/database"
	"github.com/miniflow-io/miniflow/internal/platform/health"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/platform/messaging/kafka"
	"github.com/miniflow-io/miniflow/internal/platform/metrics"
	"github.com/miniflow-io/miniflow/internal/platform/telemetry"
	"github.com/miniflow-io/miniflow/internal/schedule"
	"github.com/miniflow-io/miniflow/internal/shared/events"
	storagepostgres "github.com/miniflow-io/miniflow/internal/storage/adapters/repository/postgres"
	storageservice "github.com/miniflow-io/miniflow/internal/storage/app/service"
	"github.com/miniflow-io/miniflow/internal/storage/blob"
	storagemodel "github.com/miniflow-io/miniflow/internal/storage/domain/model"
	wfpostgres "github.com/miniflow-io/miniflow/internal/workflow/adapters/repository/postgres"
	workspacepostgres "github.com/miniflow-io/miniflow/internal/workspace/adapters/repository/postgres"
	workspaceservice "github.com/miniflow-io/miniflow/internal/workspace/app/service"
)

func main() {
	cfg, err := config.Load("scheduler")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg.Logger)
	log.Info("starting scheduler service", "version", cfg.Version, "port", cfg.HTTP.Port)

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		log.Fatal("failed to initialize telemetry", "error", err)
	}
	defer tel.Close()

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatal("failed to initialize database", "error", err)
	}
	defer db.Close()

	redis, err := cache.New(cfg.Redis)
	if err != nil {
		log.Fatal("failed to initialize redis", "error", err)
	}
	defer redis.Close()

	var m *metrics.Metrics
	if cfg.Telemetry.MetricsEnabled {
		m = metrics.New("miniflow")
	}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption)
	if err != nil {
		log.Fatal("failed to initialize encryptor", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store blob.Store
	backend := storagemodel.BackendLocal
	if cfg.Storage.S3Enabled {
		s3, err := blob.NewS3Store(ctx, cfg.Storage)
		if err != nil {
			log.Fatal("failed to initialize s3 store", "error", err)
		}
		store = s3
		backend = storagemodel.BackendS3
	} else {
		local, err := blob.NewLocalStore(cfg.Storage.BaseDir)
		if err != nil {
			log.Fatal("failed to initialize blob store", "error", err)
		}
		store = local
	}

	stores := exepostgres.NewStores(db)

	workflows := wfpostgres.NewWorkflowRepository(db)
	nodes := wfpostgres.NewNodeRepository(db)
	edges := wfpostgres.NewEdgeRepository(db)
	triggers := wfpostgres.NewTriggerRepository(db)
	scripts := wfpostgres.NewScriptRepository(db)
	customScripts := wfpostgres.NewCustomScriptRepository(db)

	// Reference sources behind the resolver. Each decrypts its own
	// records before handing them over.
	workspaces := workspaceservice.NewWorkspaceService(
		workspacepostgres.NewWorkspaceRepository(db),
		workspacepostgres.NewVariableRepository(db),
		encryptor,
		log,
	)
	credentials := credentialservice.NewCredentialService(
		credentialpostgres.NewCredentialRepository(db), encryptor, log)
	connections := connectionservice.NewConnectionService(
		connectionpostgres.NewConnectionRepository(db), encryptor, log)
	files := storageservice.NewStorageService(
		storagepostgres.NewFileRepository(db), store, backend, log)

	coercer := exedomain.NewCoercer(
		cfg.SchedulerService.AcceptedTrueValues,
		cfg.SchedulerService.AcceptedFalseValues,
	)
	resolver := exedomain.NewResolver(stores.Outputs(), workspaces, credentials, connections, files, coercer)

	// Lifecycle events fan out to the in-process broadcaster (feeding
	// the WebSocket hub) and, when enabled, to Kafka.
	broadcaster := events.NewBroadcaster()
	defer broadcaster.Close()

	publishers := []events.Publisher{broadcaster}
	if cfg.Kafka.Enabled {
		kp, err := kafka.NewEventPublisher(cfg.Kafka, log)
		if err != nil {
			log.Fatal("failed to initialize kafka publisher", "error", err)
		}
		defer kp.Close()
		publishers = append(publishers, kp)
	}
	publisher := events.NewTee(publishers...)

	executionService := exeservice.NewExecutionService(
		stores,
		stores,
		workflows,
		nodes,
		edges,
		triggers,
		scripts,
		customScripts,
		publisher,
		m,
		log,
	)

	queue := engine.NewRedisQueue(redis, cfg.Redis)

	inputHandler := handler.NewInputHandler(cfg.InputHandler, stores, resolver, queue, m, log, tel.Tracer())
	outputHandler := handler.NewOutputHandler(cfg.OutputHandler, stores, nodes, edges, queue, publisher, m, log, tel.Tracer())

	sched := schedule.NewTriggerScheduler(triggers, executionService, redis,
		cfg.SchedulerService.TriggerRefreshInterval, log)

	hub := handlers.NewHub(m, log)

	h := health.NewHandler(cfg.Service.Name, cfg.Version)
	h.AddCheck("database", health.DatabaseChecker(db.HealthCheck))
	h.AddCheck("redis", health.RedisChecker(redis.HealthCheck))

	srv, err := server.New(
		server.WithConfig(cfg),
		server.WithLogger(log),
		server.WithHealth(h),
		server.WithMetrics(m),
		server.WithHub(hub),
		server.WithScheduledCount(sched.Count),
	)
	if err != nil {
		log.Fatal("failed to create server", "error", err)
	}

	go hub.Run(ctx)
	go hub.Feed(ctx, broadcaster)
	go inputHandler.Run(ctx)
	go outputHandler.Run(ctx)
	go sched.Run(ctx)

	if m != nil {
		sampler := health.NewSystemSampler(m, log, 30*time.Second)
		sampler.Start(ctx)
		go sampleDBStats(ctx, db, m)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("server error", "error", err)
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	}

	// Stop intake first so no new work enters, then drain both loops
	// before the ops server goes away.
	sched.Stop(10 * time.Second)
	inputHandler.Stop(15 * time.Second)
	outputHandler.Stop(15 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("scheduler service stopped gracefully")
}

func sampleDBStats(ctx context.Context, db *database.DB, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := db.Stats()
			m.SampleDBStats(st.OpenConnections, st.InUse)
		}
	}
}
