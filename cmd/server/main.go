// Package main is the entry point for the forecastbt service: walk-forward
// quantile-forecast evaluation and backtesting behind an HTTP API.
//
// Startup order:
// 1. Load configuration and logger
// 2. Wire dependencies (databases, repositories, clients, services, jobs)
// 3. Start the scheduler and the HTTP server
// 4. Wait for a shutdown signal and stop everything in reverse
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/forecastbt/internal/config"
	"github.com/aristath/forecastbt/internal/database"
	"github.com/aristath/forecastbt/internal/di"
	"github.com/aristath/forecastbt/internal/server"
	"github.com/aristath/forecastbt/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Msg("Starting forecastbt")

	container, _, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Runs:      container.RunService,
		EventBus:  container.EventBus,
		Store:     container.StoreClient,
		Databases: []*database.DB{container.CacheDB, container.RunsDB},
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	container.Scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.Scheduler.Stop()

	if err := container.RunService.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Background runs did not finish before shutdown")
	}

	log.Info().Msg("Server stopped")
}
