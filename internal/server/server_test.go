package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/forecastbt/internal/database"
	"github.com/aristath/forecastbt/internal/events"
)

type fakeStore struct{ healthy bool }

func (s fakeStore) Health(context.Context) bool { return s.healthy }

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	cfg.Log = zerolog.Nop()
	cfg.DevMode = true
	ts := httptest.NewServer(New(cfg).Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestSystemStatus(t *testing.T) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "runs.db"),
		Profile: database.ProfileStandard,
		Name:    database.NameRuns,
	})
	require.NoError(t, err)
	defer db.Close()

	tests := []struct {
		name   string
		store  HealthChecker
		status string
	}{
		{"store up", fakeStore{healthy: true}, "healthy"},
		{"store down", fakeStore{healthy: false}, "degraded"},
		{"no store", nil, "healthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, Config{Store: tt.store, Databases: []*database.DB{db, nil}})

			resp, err := http.Get(ts.URL + "/api/system/status")
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var body SystemStatusResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.status, body.Status)
			assert.Contains(t, body.Databases, database.NameRuns)
			assert.Greater(t, body.Goroutines, 0)
		})
	}
}

func TestRunRoutesMounted(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventsStream(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	em := events.NewManager(bus, zerolog.Nop())
	ts := newTestServer(t, Config{EventBus: bus})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws?types=RUN_PROGRESS&run_id=r1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var msg StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, MessageConnected, msg.Type)

	em.EmitTyped("runs", &events.RunProgressData{RunID: "other", Phase: "evaluating_test"})
	em.EmitTyped("runs", &events.RunStatusData{RunID: "r1", Type: events.RunCompleted})
	em.EmitTyped("runs", &events.RunProgressData{RunID: "r1", Phase: "validating", Current: 1, Total: 2})

	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, string(events.RunProgress), msg.Type)
	assert.Equal(t, "r1", msg.Data["run_id"])
	assert.Equal(t, "validating", msg.Data["phase"])
}

func TestParseTypes(t *testing.T) {
	assert.Equal(t, events.AllTypes, parseTypes(""))
	assert.Equal(t, []events.EventType{events.RunProgress, events.RunFailed}, parseTypes(" RUN_PROGRESS, ,RUN_FAILED"))
}
