package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/forecastbt/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:    srv.URL,
		Token:      "tok",
		Timeout:    2 * time.Second,
		MaxRetries: retries,
		Backoff:    time.Millisecond,
	}, zerolog.Nop())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}, 0)
	assert.True(t, c.Health(context.Background()))

	down := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "degraded"})
	}, 0)
	assert.False(t, down.Health(context.Background()))
}

func TestSaveBestSendsTokenAndBody(t *testing.T) {
	var got BestRecord
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/save-predictions/mtf-best", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("X-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, APIResponse{Code: 200, Message: "Success"})
	}, 0)

	rec := BestRecord{UniqueKey: "AAPL_h10_c512_2.5", Symbol: "AAPL", ModelVersion: "2.5", BestPredictionItem: "tsf-0.5", HorizonLen: 10}
	require.NoError(t, c.SaveBest(context.Background(), rec))
	assert.Equal(t, rec.UniqueKey, got.UniqueKey)
	assert.Equal(t, "tsf-0.5", got.BestPredictionItem)
}

func TestServerErrorsAreRetriedThenUnavailable(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "down"})
	}, 2)

	err := c.SaveBacktest(context.Background(), BacktestRecord{UniqueKey: "k"})
	var unavailable *domain.PersistenceUnavailableError
	require.True(t, errors.As(err, &unavailable), "got %v", err)
	assert.Equal(t, "save backtest", unavailable.Op)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryRecovers(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, nil)
			return
		}
		writeJSON(w, http.StatusOK, APIResponse{Code: 200})
	}, 2)

	require.NoError(t, c.SaveStrategyParams(context.Background(), StrategyParamsRecord{UniqueKey: "k"}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing required fields"})
	}, 3)

	err := c.SaveValidationChunk(context.Background(), ValidationChunkRecord{UniqueKey: "k"})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)
	assert.Contains(t, statusErr.Body, "missing required fields")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetBestByUniqueKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/save-predictions/mtf-best/by-unique", r.URL.Path)
		switch r.URL.Query().Get("unique_key") {
		case "known":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"code": 200, "message": "Success",
				"data": map[string]interface{}{
					"UniqueKey":          "known",
					"Symbol":             "AAPL",
					"TimesfmVersion":     "2.5",
					"BestPredictionItem": "tsf-0.4",
					"BestMetrics":        `{"composite_score": 0.5}`,
					"TrainStartDate":     "2020-01-02T00:00:00Z",
					"ValEndDate":         "2024-06-28T00:00:00Z",
					"HorizonLen":         10,
					"ContextLen":         512,
				},
			})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		}
	}, 0)

	rec, err := c.GetBestByUniqueKey(context.Background(), "known")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "tsf-0.4", rec.BestPredictionItem)
	assert.Equal(t, "2020-01-02", rec.TrainStartDate)
	assert.Equal(t, "2024-06-28", rec.ValEndDate)
	assert.Equal(t, 0.5, rec.BestMetrics["composite_score"])

	missing, err := c.GetBestByUniqueKey(context.Background(), "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPriceHistoryPost(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/stock-data/AAPL/range", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2024-01-01", body["start_date"])
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"code": 200,
			"data": []map[string]interface{}{
				{"datetime": "2024-01-02T00:00:00Z", "close": 10.5, "open": 10, "high": 11, "low": 9.5, "volume": 1000},
			},
		})
	}, 0)

	bars, err := c.PriceHistory(context.Background(), "AAPL", 1,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, bars, 1)

	recs := Records(bars)
	assert.Equal(t, 10.5, recs[0].Close)
	assert.Equal(t, 2024, recs[0].Date.Year())
}

func TestPriceHistoryFallsBackToGet(t *testing.T) {
	var methods []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, nil)
			return
		}
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("start_date"))
		assert.Equal(t, "2", r.URL.Query().Get("type"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"code": 200, "data": []interface{}{}})
	}, 2)

	bars, err := c.PriceHistory(context.Background(), "510300", 2,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, bars)
	assert.Equal(t, []string{http.MethodPost, http.MethodGet}, methods)
}

func TestCancelledContextIsNotUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, APIResponse{Code: 200})
	}, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.SaveBest(ctx, BestRecord{UniqueKey: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	var unavailable *domain.PersistenceUnavailableError
	assert.False(t, errors.As(err, &unavailable))
}
