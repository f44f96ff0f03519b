package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/api"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/config"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/logging"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/metrics"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/snapshot"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/storage"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/storage/postgres"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/storage/sqlite"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateStorage(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize run ledger
	var ledger storage.Storage
	switch cfg.StorageType {
	case "none":
	case "postgres":
		ledger, err = postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL storage: %v", err)
		}
	default:
		ledger, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite storage: %v", err)
		}
	}
	if ledger != nil {
		defer ledger.Close()
	}

	snapshots := snapshot.NewStore(cfg.SnapshotDir)

	collector, err := metrics.NewHTTPCollector(metrics.NewSnapshotCollector(snapshots))
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(snapshots, ledger, logger)
	router := api.SetupRoutes(handler, collector, logger)

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("starting API server", "addr", addr, "snapshot_dir", snapshots.Dir(), "storage", cfg.StorageType)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
}
