package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miniflow-io/miniflow/internal/api/server"
	"github.com/miniflow-io/miniflow/internal/platform/config"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/platform/metrics"
	"github.com/miniflow-io/miniflow/internal/platform/telemetry"
)

func main() {
	cfg, err := config.Load("api")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg.Logger)
	log.Info("starting api service", "version", cfg.Version, "port", cfg.HTTP.Port)

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		log.Fatal("failed to initialize telemetry", "error", err)
	}
	defer tel.Close()

	var m *metrics.Metrics
	if cfg.Telemetry.MetricsEnabled {
		m = metrics.New("miniflow")
	}

	srv, err := server.New(
		server.WithConfig(cfg),
		server.WithLogger(log),
		server.WithMetrics(m),
	)
	if err != nil {
		log.Fatal("failed to create server", "error", err)
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("api service stopped gracefully")
}
