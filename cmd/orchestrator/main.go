package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/api/rest"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/dispatch"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/runtime"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/state"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/storage"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/shared/config"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/shared/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional, env vars override)")
	flag.Parse()

	cfg, err := config.LoadOrchestrator(*configPath)
	if err != nil {
		logging.NewSlogLogger(logging.ParseLevel("info"), "json").
			Fatal("Failed to load configuration", "error", err)
	}

	logger := logging.NewSlogLogger(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	store, err := storage.NewRedisStore(cfg.Redis, cfg.Jobs.RecordTTL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis; is it running?",
			"addr", cfg.Redis.Addr,
			"hint", "docker run -d -p 6379:6379 redis:7",
			"error", err,
		)
	}
	defer store.Close()

	notifier := state.NewWebhookNotifier(store, logger)
	stateManager := state.NewManager(store, notifier, logger)
	containerRuntime := runtime.NewDockerRuntime(logger)
	gauge := dispatch.NewWorkerGauge(cfg.Worker.MaxWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := dispatch.NewDispatcher(cfg, store, stateManager, containerRuntime, gauge, logger)
	go dispatcher.Run(ctx)

	api := rest.NewAPI(cfg, store, stateManager, gauge, logger)
	server := rest.NewServer(cfg, api, logger)

	go func() {
		logger.Info("Starting orchestrator API server",
			"addr", cfg.REST.Addr,
			"max_workers", cfg.Worker.MaxWorkers,
			"image", cfg.Worker.Image,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	cancel()

	// Give in-flight requests and supervisors time to wind down.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server stopped")
}
