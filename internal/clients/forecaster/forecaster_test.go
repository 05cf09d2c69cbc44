package forecaster

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/forecastbt/internal/clientdata"
	"github.com/aristath/forecastbt/internal/domain"
)

func fullForecast(h int, base float64) map[string][]float64 {
	out := map[string][]float64{}
	for i, level := range domain.AllLevels {
		seq := make([]float64, h)
		for j := range seq {
			seq[j] = base + float64(i) + float64(j)
		}
		out[string(level)] = seq
	}
	return out
}

func TestValidate(t *testing.T) {
	fc, err := Validate(fullForecast(3, 10), 3)
	require.NoError(t, err)
	assert.Len(t, fc, len(domain.AllLevels))

	noPoint := fullForecast(3, 10)
	delete(noPoint, "tsf")
	_, err = Validate(noPoint, 3)
	assert.NoError(t, err)

	missing := fullForecast(3, 10)
	delete(missing, "tsf-0.3")
	_, err = Validate(missing, 3)
	assert.ErrorContains(t, err, "tsf-0.3")

	_, err = Validate(fullForecast(2, 10), 3)
	assert.ErrorContains(t, err, "want 3")

	_, err = Validate(nil, 3)
	assert.Error(t, err)
}

func TestClientForecast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/forecast", r.URL.Path)
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		if req.HorizonLen == 99 {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(Response{Error: "horizon too long"})
			return
		}
		_ = json.NewEncoder(w).Encode(Response{Forecast: fullForecast(req.HorizonLen, req.History[len(req.History)-1])})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zerolog.Nop())
	fc, err := c.Forecast(context.Background(), Request{History: []float64{1, 2, 3}, HorizonLen: 2, ContextLen: 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, fc[domain.PointEstimate])

	_, err = c.Forecast(context.Background(), Request{History: []float64{1}, HorizonLen: 99})
	assert.ErrorContains(t, err, "horizon too long")
}

type recordingBackend struct {
	mu   sync.Mutex
	reqs []Request
	err  error
}

func (b *recordingBackend) Forecast(_ context.Context, req Request) (domain.QuantileForecast, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reqs = append(b.reqs, req)
	if b.err != nil {
		return nil, b.err
	}
	return Validate(fullForecast(req.HorizonLen, req.History[len(req.History)-1]), req.HorizonLen)
}

func (b *recordingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reqs)
}

func TestRegistryReusesHandles(t *testing.T) {
	reg := NewModelRegistry(&recordingBackend{}, "2.5", zerolog.Nop())

	a := reg.Acquire(10, 512)
	b := reg.Acquire(10, 512)
	c := reg.Acquire(5, 512)
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, reg.Len())

	capped := reg.Acquire(10, 100000)
	assert.Equal(t, MaxContextLen, capped.ContextLen())
	assert.Same(t, capped, reg.Acquire(10, 0))

	reg.Release(10, 512)
	assert.NotSame(t, a, reg.Acquire(10, 512))
}

func TestHandleTruncatesHistory(t *testing.T) {
	backend := &recordingBackend{}
	h := NewModelRegistry(backend, "2.5", zerolog.Nop()).Acquire(3, 4)

	history := []float64{1, 2, 3, 4, 5, 6}
	_, err := h.Forecast(context.Background(), history, 3, 512)
	require.NoError(t, err)

	require.Len(t, backend.reqs, 1)
	assert.Equal(t, []float64{3, 4, 5, 6}, backend.reqs[0].History)
	assert.Equal(t, 4, backend.reqs[0].ContextLen)
	assert.Equal(t, "2.5", backend.reqs[0].ModelVersion)
	assert.Equal(t, 1, h.Calls())
	// caller's slice untouched
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, history)
}

func cacheRepo(t *testing.T) *clientdata.Repository {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE forecasts (cache_key TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE price_history (cache_key TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL);`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return clientdata.NewRepository(db)
}

func TestCachedBackendServesRepeats(t *testing.T) {
	backend := &recordingBackend{}
	cached := NewCachedBackend(backend, cacheRepo(t), time.Hour, zerolog.Nop())
	req := Request{History: []float64{1, 2, 3}, HorizonLen: 2, ContextLen: 3, ModelVersion: "2.5"}

	first, err := cached.Forecast(context.Background(), req)
	require.NoError(t, err)
	second, err := cached.Forecast(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, backend.count())
	assert.Equal(t, first, second)

	req.History = []float64{1, 2, 4}
	_, err = cached.Forecast(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.count())
}

func TestCachedBackendFallsBackToStale(t *testing.T) {
	repo := cacheRepo(t)
	req := Request{History: []float64{5, 6}, HorizonLen: 2, ContextLen: 2}

	warm := NewCachedBackend(&recordingBackend{}, repo, -time.Minute, zerolog.Nop())
	want, err := warm.Forecast(context.Background(), req)
	require.NoError(t, err)

	down := &recordingBackend{err: errors.New("service down")}
	got, err := NewCachedBackend(down, repo, time.Hour, zerolog.Nop()).Forecast(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, down.count())

	other := Request{History: []float64{7}, HorizonLen: 2, ContextLen: 1}
	_, err = NewCachedBackend(down, repo, time.Hour, zerolog.Nop()).Forecast(context.Background(), other)
	assert.ErrorContains(t, err, "service down")
}

func TestCacheKeyStable(t *testing.T) {
	a, err := CacheKey(Request{History: []float64{1, 2}, HorizonLen: 2})
	require.NoError(t, err)
	b, err := CacheKey(Request{History: []float64{1, 2}, HorizonLen: 2})
	require.NoError(t, err)
	c, err := CacheKey(Request{History: []float64{1, 2}, HorizonLen: 3})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
