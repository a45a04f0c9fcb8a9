package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/miniflow-io/miniflow/internal/platform/config"
	"github.com/miniflow-io/miniflow/internal/platform/database"
	"github.com/miniflow-io/miniflow/internal/platform/logger"
)

func main() {
	dir := flag.String("dir", "migrations", "directory containing *.up.sql files")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall migration deadline")
	flag.Parse()

	cfg, err := config.Load("migrate")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg.Logger)
	log.Info("applying migrations", "dir", *dir, "database", cfg.Database.Database)

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatal("failed to initialize database", "error", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.Migrate(ctx, *dir); err != nil {
		log.Error("migration failed", "error", err)
		db.Close()
		os.Exit(1)
	}

	log.Info("migrations applied")
}
