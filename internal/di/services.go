package di

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/forecastbt/internal/clientdata"
	"github.com/aristath/forecastbt/internal/clients/forecaster"
	"github.com/aristath/forecastbt/internal/clients/store"
	"github.com/aristath/forecastbt/internal/config"
	"github.com/aristath/forecastbt/internal/events"
	"github.com/aristath/forecastbt/internal/modules/persistence"
	"github.com/aristath/forecastbt/internal/modules/reports"
	"github.com/aristath/forecastbt/internal/modules/runs"
)

// InitializeRepositories creates repositories over the open databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	container.PriceCache = clientdata.NewRepository(container.CacheDB.Conn())
	container.RunRepo = runs.NewRepository(container.RunsDB.Conn())

	// Runs left pending or running by a previous process will never finish
	n, err := container.RunRepo.FailRunning("interrupted by restart")
	if err != nil {
		return err
	}
	if n > 0 {
		log.Warn().Int64("runs", n).Msg("Marked interrupted runs as failed")
	}
	return nil
}

// InitializeServices creates clients and services
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.ctx, container.cancel = context.WithCancel(context.Background())

	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	container.StoreClient = store.NewClient(store.Config{
		BaseURL:    cfg.Store.URL,
		Token:      cfg.Store.Token,
		Timeout:    cfg.Store.Timeout,
		MaxRetries: cfg.Store.MaxRetries,
		Backoff:    cfg.Store.Backoff,
	}, log)

	container.ForecastClient = forecaster.NewClient(cfg.Forecaster.URL, cfg.Forecaster.Timeout, log)
	backend := forecaster.NewCachedBackend(container.ForecastClient, container.PriceCache, cfg.ForecastCacheTTL, log)
	container.ModelRegistry = forecaster.NewModelRegistry(backend, cfg.Forecaster.ModelVersion, log)

	profiles, err := config.LoadProfiles(cfg.StrategyProfilesPath)
	if err != nil {
		return err
	}
	container.Profiles = profiles

	container.Persistence = persistence.NewAdapter(container.StoreClient, log)

	var uploader reports.Uploader
	if cfg.Reports.Enabled() {
		s3, err := reports.NewS3Uploader(container.ctx, cfg.Reports, log)
		if err != nil {
			return fmt.Errorf("failed to configure report archive: %w", err)
		}
		uploader = s3
	}
	container.Exporter = reports.NewExporter(filepath.Join(cfg.DataDir, "reports"), uploader, log)

	container.RunService = runs.NewService(runs.Deps{
		Prices:     container.StoreClient,
		PriceCache: container.PriceCache,
		Models:     container.ModelRegistry,
		Persister:  container.Persistence,
		Profiles:   container.Profiles,
		Events:     container.EventManager,
		Runs:       container.RunRepo,
		Reports:    container.Exporter,
	}, runs.Settings{
		ModelVersion:      cfg.Forecaster.ModelVersion,
		MinHistoryChunks:  cfg.MinHistoryChunks,
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
	}, log)

	log.Info().
		Str("forecaster", cfg.Forecaster.URL).
		Str("store", cfg.Store.URL).
		Bool("report_archive", uploader != nil).
		Strs("profiles", profiles.Names()).
		Msg("Services initialized")
	return nil
}
