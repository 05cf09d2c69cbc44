package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/forecastbt/internal/clientdata"
	"github.com/aristath/forecastbt/internal/config"
	"github.com/aristath/forecastbt/internal/events"
	"github.com/aristath/forecastbt/internal/scheduler"
)

// Job schedules (seconds field first)
const (
	ScheduleCacheCleanup   = "0 30 3 * * *"
	ScheduleWALCheckpoints = "0 0 * * * *"
)

// RegisterJobs creates the background jobs and registers them with the scheduler
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	container.Scheduler = scheduler.New(log)
	jobs := &JobInstances{}

	cleanup := clientdata.NewCleanupJob(container.PriceCache, log)
	cleanup.OnCleaned(func(removed int64) {
		container.EventManager.EmitTyped("scheduler", &events.CacheCleanedData{Removed: removed})
	})
	if err := container.Scheduler.AddJob(ScheduleCacheCleanup, cleanup); err != nil {
		return nil, err
	}
	jobs.CacheCleanup = cleanup

	wal := scheduler.NewCheckWALCheckpointsJob(container.CacheDB, container.RunsDB)
	wal.SetLogger(log.With().Str("job", "check_wal_checkpoints").Logger())
	if err := container.Scheduler.AddJob(ScheduleWALCheckpoints, wal); err != nil {
		return nil, err
	}
	jobs.WALCheckpoints = wal

	if len(cfg.Watchlist) > 0 {
		entries, err := scheduler.ParseWatchlist(cfg.Watchlist)
		if err != nil {
			return nil, err
		}
		watch := scheduler.NewWatchlistJob(container.ctx, container.RunService, entries, log)
		if err := container.Scheduler.AddJob(cfg.WatchlistSchedule, watch); err != nil {
			return nil, err
		}
		jobs.Watchlist = watch
		log.Info().Int("entries", len(entries)).Str("schedule", cfg.WatchlistSchedule).Msg("Watchlist job registered")
	}

	return jobs, nil
}
