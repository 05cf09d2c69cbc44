package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/forecastbt/internal/database"
)

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status        string                     `json:"status"`
	UptimeSeconds float64                    `json:"uptime_seconds"`
	Goroutines    int                        `json:"goroutines"`
	CPUPercent    float64                    `json:"cpu_percent"`
	MemoryPercent float64                    `json:"memory_percent"`
	StoreHealthy  *bool                      `json:"store_healthy,omitempty"`
	Databases     map[string]*database.Stats `json:"databases"`
	CheckedAt     time.Time                  `json:"checked_at"`
}

// SystemHandlers serves process and dependency status
type SystemHandlers struct {
	log       zerolog.Logger
	store     HealthChecker
	databases []*database.DB
	started   time.Time
}

// NewSystemHandlers creates system handlers; store and nil databases are optional
func NewSystemHandlers(log zerolog.Logger, store HealthChecker, databases ...*database.DB) *SystemHandlers {
	dbs := make([]*database.DB, 0, len(databases))
	for _, db := range databases {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		store:     store,
		databases: dbs,
		started:   time.Now(),
	}
}

// HandleSystemStatus returns process, database and store status.
// The overall status is "degraded" when the store or a database is unreachable.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, memPercent := h.getSystemStats()
	resp := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.started).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Databases:     make(map[string]*database.Stats, len(h.databases)),
		CheckedAt:     time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, db := range h.databases {
		if err := db.QuickCheck(ctx); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Database unreachable")
			resp.Status = "degraded"
			resp.Databases[db.Name()] = nil
			continue
		}
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to read database stats")
		}
		resp.Databases[db.Name()] = stats
	}

	if h.store != nil {
		ok := h.store.Health(ctx)
		resp.StoreHealthy = &ok
		if !ok {
			resp.Status = "degraded"
		}
	}

	writeJSON(h.log, w, http.StatusOK, resp)
}

// getSystemStats samples CPU over 100ms so the endpoint stays fast
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}
