package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/mpcrawl/internal/app"
	"github.com/timmy/mpcrawl/internal/config"
	"github.com/timmy/mpcrawl/internal/logger"
)

func main() {
	// Initialize logger first (from LOG_* environment variables)
	envCfg := logger.LoadFromEnv()
	if envCfg.ServiceName == "mpcrawl" {
		envCfg.ServiceName = "mpcrawl-api"
	}
	appLogger := logger.NewFromEnv(envCfg)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	application, err := app.New(startupCtx, cfg, appLogger, app.Options{})
	cancel()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}

	if application.Scheduler != nil {
		if err := application.Scheduler.Start(appLogger.WithContext(ctx)); err != nil {
			appLogger.WithError(err).Fatal("Failed to start scheduler")
		}
	}

	srv := application.HTTPServer()

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	// Running tasks are cancelled first so that open event streams see their
	// terminal events before the listener closes.
	if err := application.StopTasks(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Tasks did not stop in time")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	if err := application.Close(); err != nil {
		appLogger.WithError(err).Error("Failed to close connections")
	}

	appLogger.Info("Server exited")
}
