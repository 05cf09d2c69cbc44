package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/forecastbt/internal/config"
	"github.com/aristath/forecastbt/internal/domain"
	"github.com/aristath/forecastbt/internal/modules/runs"
)

type fakeService struct {
	runErr    error
	submitted []config.RunRequest
	runs      map[string]*runs.Run
	profiles  *config.Profiles
}

func (f *fakeService) RunEvaluationAndBacktest(_ context.Context, req config.RunRequest) (*runs.RunResponse, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &runs.RunResponse{RunID: "r1", Response: &runs.EvaluationResponse{Symbol: req.Symbol, BestLevel: "tsf-0.5"}}, nil
}

func (f *fakeService) Submit(req config.RunRequest) (*runs.Run, error) {
	f.submitted = append(f.submitted, req)
	return &runs.Run{ID: "queued-1", Symbol: req.Symbol, Status: runs.StatusPending}, nil
}

func (f *fakeService) Get(id string) (*runs.Run, error) { return f.runs[id], nil }

func (f *fakeService) List(limit int) ([]runs.Run, error) {
	out := []runs.Run{}
	for _, r := range f.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeService) Profiles() *config.Profiles { return f.profiles }

func serve(t *testing.T, svc RunService, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	NewHandler(svc, zerolog.Nop()).RegisterRoutes(router)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleCreateSync(t *testing.T) {
	rec := serve(t, &fakeService{}, "POST", "/api/v1/runs", `{"symbol":"AAPL","horizon_len":10,"context_len":64}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp runs.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AAPL", resp.Response.Symbol)
	assert.Equal(t, domain.QuantileLevel("tsf-0.5"), resp.Response.BestLevel)
}

func TestHandleCreateAsync(t *testing.T) {
	svc := &fakeService{}
	rec := serve(t, svc, "POST", "/api/v1/runs?async=true", `{"symbol":"MSFT","horizon_len":5,"context_len":64}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, svc.submitted, 1)
	assert.Equal(t, "MSFT", svc.submitted[0].Symbol)
	assert.Contains(t, rec.Body.String(), `"queued-1"`)
}

func TestHandleCreateErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid request", &runs.RequestError{Err: errors.New("symbol is required")}, http.StatusBadRequest},
		{"short history", &domain.DataPreparationError{Reason: "too short"}, http.StatusUnprocessableEntity},
		{"insufficient", &domain.InsufficientDataError{What: "split", Need: 10, Have: 2}, http.StatusUnprocessableEntity},
		{"store down", &domain.PersistenceUnavailableError{Op: "lookup", Err: errors.New("refused")}, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &fakeService{runErr: tt.err}, "POST", "/api/v1/runs", `{"symbol":"AAPL"}`)
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandleCreateBadBody(t *testing.T) {
	rec := serve(t, &fakeService{}, "POST", "/api/v1/runs", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetAndList(t *testing.T) {
	svc := &fakeService{runs: map[string]*runs.Run{"a": {ID: "a", Symbol: "AAPL", Status: runs.StatusDone}}}

	rec := serve(t, svc, "GET", "/api/v1/runs/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"done"`)

	rec = serve(t, svc, "GET", "/api/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, svc, "GET", "/api/v1/runs?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = serve(t, svc, "GET", "/api/v1/runs?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("xlsx"), 0644))
	svc := &fakeService{runs: map[string]*runs.Run{
		"a": {ID: "a", ReportPath: path},
		"b": {ID: "b"},
	}}

	rec := serve(t, svc, "GET", "/api/v1/runs/a/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "xlsx", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "a.xlsx")

	rec = serve(t, svc, "GET", "/api/v1/runs/b/report", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleProfiles(t *testing.T) {
	profiles, err := config.ParseProfiles([]byte("profiles:\n  cautious:\n    mode: rebalance\n"))
	require.NoError(t, err)

	rec := serve(t, &fakeService{profiles: profiles}, "GET", "/api/v1/strategy/profiles", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Profiles map[string]json.RawMessage `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Profiles, "default")
	assert.Contains(t, body.Profiles, "cautious")
}
