// Package handlers provides HTTP handlers for evaluation and backtest runs.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/forecastbt/internal/config"
	"github.com/aristath/forecastbt/internal/domain"
	"github.com/aristath/forecastbt/internal/modules/backtest"
	"github.com/aristath/forecastbt/internal/modules/runs"
)

// RunService is the part of runs.Service the handlers use
type RunService interface {
	RunEvaluationAndBacktest(ctx context.Context, req config.RunRequest) (*runs.RunResponse, error)
	Submit(req config.RunRequest) (*runs.Run, error)
	Get(id string) (*runs.Run, error)
	List(limit int) ([]runs.Run, error)
	Profiles() *config.Profiles
}

// Handler handles run HTTP requests
type Handler struct {
	service RunService
	log     zerolog.Logger
}

// NewHandler creates a new runs handler
func NewHandler(service RunService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "runs").Logger(),
	}
}

// HandleCreate handles POST /api/v1/runs. With ?async=true the run is queued
// and 202 returns its id; otherwise the response carries the full result.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req config.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		run, err := h.service.Submit(req)
		if err != nil {
			h.writeError(w, statusFor(err), err.Error())
			return
		}
		h.writeJSON(w, http.StatusAccepted, run)
		return
	}

	resp, err := h.service.RunEvaluationAndBacktest(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).Str("symbol", req.Symbol).Msg("Run failed")
		}
		h.writeError(w, status, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleList handles GET /api/v1/runs
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	list, err := h.service.List(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		h.writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if list == nil {
		list = []runs.Run{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": list, "count": len(list)})
}

// HandleGet handles GET /api/v1/runs/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// HandleReport handles GET /api/v1/runs/{id}/report (xlsx download)
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if run.ReportPath == "" {
		h.writeError(w, http.StatusNotFound, "Run has no report")
		return
	}
	if _, err := os.Stat(run.ReportPath); err != nil {
		h.writeError(w, http.StatusNotFound, "Report file missing")
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(filepath.Base(run.ReportPath)))
	http.ServeFile(w, r, run.ReportPath)
}

// HandleProfiles handles GET /api/v1/strategy/profiles
func (h *Handler) HandleProfiles(w http.ResponseWriter, r *http.Request) {
	profiles := h.service.Profiles()
	out := map[string]backtest.Params{}
	if profiles != nil {
		for _, name := range profiles.Names() {
			p, _ := profiles.Get(name)
			out[name] = p
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": out})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*runs.Run, bool) {
	id := chi.URLParam(r, "id")
	run, err := h.service.Get(id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to get run")
		h.writeError(w, http.StatusInternalServerError, "Failed to get run")
		return nil, false
	}
	if run == nil {
		h.writeError(w, http.StatusNotFound, "Run not found")
		return nil, false
	}
	return run, true
}

// statusFor maps run errors to HTTP status codes
func statusFor(err error) int {
	var (
		reqErr  *runs.RequestError
		prepErr *domain.DataPreparationError
		short   *domain.InsufficientDataError
		unavail *domain.PersistenceUnavailableError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.As(err, &prepErr), errors.As(err, &short):
		return http.StatusUnprocessableEntity
	case errors.As(err, &unavail):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
