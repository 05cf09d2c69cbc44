package forecaster

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/forecastbt/internal/domain"
)

// MaxContextLen is the longest history the model accepts
const MaxContextLen = 2048

type handleKey struct {
	horizon int
	context int
}

// ModelHandle is one configured model instance. It satisfies the walk-forward
// Forecaster interface and truncates history to its context length.
type ModelHandle struct {
	backend      Backend
	horizonLen   int
	contextLen   int
	modelVersion string
	created      time.Time

	mu    sync.Mutex
	calls int
}

// HorizonLen returns the horizon the handle was created for
func (h *ModelHandle) HorizonLen() int { return h.horizonLen }

// ContextLen returns the effective (capped) context length
func (h *ModelHandle) ContextLen() int { return h.contextLen }

// Created returns when the handle was first acquired
func (h *ModelHandle) Created() time.Time { return h.created }

// Calls returns how many forecasts went through the handle
func (h *ModelHandle) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// Forecast forecasts the handle's horizon after history. A contextLen beyond
// the handle's own is capped.
func (h *ModelHandle) Forecast(ctx context.Context, history []float64, _ int, contextLen int) (domain.QuantileForecast, error) {
	if contextLen <= 0 || contextLen > h.contextLen {
		contextLen = h.contextLen
	}
	if len(history) > contextLen {
		history = history[len(history)-contextLen:]
	}

	h.mu.Lock()
	h.calls++
	h.mu.Unlock()

	return h.backend.Forecast(ctx, Request{
		History:      append([]float64(nil), history...),
		HorizonLen:   h.horizonLen,
		ContextLen:   contextLen,
		ModelVersion: h.modelVersion,
	})
}

// ModelRegistry creates model handles on first use and reuses them afterwards
type ModelRegistry struct {
	backend      Backend
	modelVersion string
	log          zerolog.Logger

	mu      sync.Mutex
	handles map[handleKey]*ModelHandle
}

// NewModelRegistry creates a registry whose handles share one backend
func NewModelRegistry(backend Backend, modelVersion string, log zerolog.Logger) *ModelRegistry {
	return &ModelRegistry{
		backend:      backend,
		modelVersion: modelVersion,
		log:          log.With().Str("component", "model_registry").Logger(),
		handles:      make(map[handleKey]*ModelHandle),
	}
}

// Acquire returns the handle for (horizonLen, contextLen), creating it on a miss.
// contextLen is capped at MaxContextLen.
func (r *ModelRegistry) Acquire(horizonLen, contextLen int) *ModelHandle {
	if contextLen <= 0 || contextLen > MaxContextLen {
		contextLen = MaxContextLen
	}
	key := handleKey{horizon: horizonLen, context: contextLen}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[key]; ok {
		return h
	}
	h := &ModelHandle{
		backend:      r.backend,
		horizonLen:   horizonLen,
		contextLen:   contextLen,
		modelVersion: r.modelVersion,
		created:      time.Now(),
	}
	r.handles[key] = h
	r.log.Info().
		Int("horizon", horizonLen).
		Int("context", contextLen).
		Str("model_version", r.modelVersion).
		Msg("Model handle created")
	return h
}

// Len returns the number of live handles
func (r *ModelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Release drops a handle; the next Acquire creates a fresh one
func (r *ModelRegistry) Release(horizonLen, contextLen int) {
	if contextLen <= 0 || contextLen > MaxContextLen {
		contextLen = MaxContextLen
	}
	r.mu.Lock()
	delete(r.handles, handleKey{horizon: horizonLen, context: contextLen})
	r.mu.Unlock()
}
