package di

import (
	"context"

	"github.com/aristath/forecastbt/internal/clientdata"
	"github.com/aristath/forecastbt/internal/clients/forecaster"
	"github.com/aristath/forecastbt/internal/clients/store"
	"github.com/aristath/forecastbt/internal/config"
	"github.com/aristath/forecastbt/internal/database"
	"github.com/aristath/forecastbt/internal/events"
	"github.com/aristath/forecastbt/internal/modules/persistence"
	"github.com/aristath/forecastbt/internal/modules/reports"
	"github.com/aristath/forecastbt/internal/modules/runs"
	"github.com/aristath/forecastbt/internal/scheduler"
)

// Container holds all application dependencies
type Container struct {
	// Databases
	CacheDB *database.DB // forecast and price-history cache
	RunsDB  *database.DB // run registry

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Repositories
	PriceCache *clientdata.Repository
	RunRepo    *runs.Repository

	// Clients
	StoreClient    *store.Client
	ForecastClient *forecaster.Client
	ModelRegistry  *forecaster.ModelRegistry

	// Services
	Profiles    *config.Profiles
	Persistence *persistence.Adapter
	Exporter    *reports.Exporter
	RunService  *runs.Service
	Scheduler   *scheduler.Scheduler

	// ctx bounds background work started by jobs; cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc
}

// JobInstances holds the registered background jobs for manual triggering
type JobInstances struct {
	CacheCleanup   scheduler.Job
	WALCheckpoints scheduler.Job
	Watchlist      scheduler.Job // nil when no watchlist is configured
}

// Close releases the container's databases. Services should be shut down first.
func (c *Container) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.RunsDB != nil {
		c.RunsDB.Close()
	}
	if c.CacheDB != nil {
		c.CacheDB.Close()
	}
}
