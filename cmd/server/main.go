package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xuecangming/transfer-queue/internal/api"
	"github.com/xuecangming/transfer-queue/internal/common/types"
	"github.com/xuecangming/transfer-queue/internal/common/utils"
	"github.com/xuecangming/transfer-queue/internal/core/events"
	"github.com/xuecangming/transfer-queue/internal/core/logger"
	"github.com/xuecangming/transfer-queue/internal/core/metrics"
	"github.com/xuecangming/transfer-queue/internal/infrastructure/database"
	"github.com/xuecangming/transfer-queue/internal/infrastructure/storage"
	"github.com/xuecangming/transfer-queue/internal/repository"
	"github.com/xuecangming/transfer-queue/internal/service/transfer"
)

func main() {
	// Load configuration
	config, err := utils.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(config.Logging)
	logger.SetGlobalLogger(log)

	// Optional transfer history
	var db *sql.DB
	if config.Database.Enabled {
		db, err = database.NewPostgresDB(config.Database)
		if err != nil {
			log.Fatal("Failed to connect to database", logger.Error(err))
		}
		defer db.Close()

		if err := database.RunMigrations(db); err != nil {
			log.Fatal("Failed to run migrations", logger.Error(err))
		}
	}

	// Create the queue
	notifier := events.NewNotifier(log)
	store := storage.NewLocalStorage(nil, config.Queue.TrashDir)
	service := transfer.NewService(
		repository.NewOperationRepository(),
		repository.NewBacklog(),
		store,
		notifier,
		transfer.ConfigFrom(config.Queue),
		log,
	)

	if db != nil {
		history := repository.NewHistoryRepository(db, log)
		service.Subscribe(history.HandleEvent)
	}

	var metricsHandler http.Handler
	if config.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m := metrics.New(service)
		m.MustRegister(registry)
		service.Subscribe(m.HandleEvent)
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	service.Start()

	// Create API server
	server := api.NewServer(config, service, db, metricsHandler)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Server starting", logger.String("addr", addr), logger.String("trash_dir", store.TrashDir()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", logger.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server shutting down")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
	service.Stop()

	log.Info("Server stopped")
}

func newLogger(config types.LoggingConfig) logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.ParseLevel(config.Level)
	if config.Format != "" {
		cfg.Format = config.Format
	}
	if strings.EqualFold(config.Output, "stderr") {
		cfg.Output = os.Stderr
	}
	return logger.New(cfg)
}
