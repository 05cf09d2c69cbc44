package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/forecastbt/internal/modules/backtest"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FORECASTBT_DATA_DIR", filepath.Join(dir, "data"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.DataDir))
	_, statErr := os.Stat(cfg.DataDir)
	assert.NoError(t, statErr)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, 10, cfg.MinHistoryChunks)
	assert.Equal(t, 2, cfg.Store.MaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.ForecastCacheTTL)
	assert.False(t, cfg.Reports.Enabled())
	assert.Empty(t, cfg.Watchlist)
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FORECASTBT_DATA_DIR", dir)
	t.Setenv("GO_PORT", "9100")
	t.Setenv("STORE_URL", "https://store.example.com")
	t.Setenv("STORE_TOKEN", "secret")
	t.Setenv("STORE_BACKOFF", "2s")
	t.Setenv("FORECASTER_TIMEOUT", "not-a-duration")
	t.Setenv("WATCHLIST", " AAPL, ,sh600519 ")
	t.Setenv("WATCHLIST_SCHEDULE", "0 2 * * *")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "https://store.example.com", cfg.Store.URL)
	assert.Equal(t, "secret", cfg.Store.Token)
	assert.Equal(t, 2*time.Second, cfg.Store.Backoff)
	assert.Equal(t, 120*time.Second, cfg.Forecaster.Timeout)
	assert.Equal(t, []string{"AAPL", "sh600519"}, cfg.Watchlist)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:              8001,
			Forecaster:        ForecasterConfig{URL: "http://localhost:9000"},
			Store:             StoreConfig{URL: "http://localhost:6000"},
			MaxConcurrentRuns: 1,
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad store url", func(c *Config) { c.Store.URL = "localhost" }, true},
		{"bad forecaster url", func(c *Config) { c.Forecaster.URL = "" }, true},
		{"port", func(c *Config) { c.Port = 70000 }, true},
		{"runs", func(c *Config) { c.MaxConcurrentRuns = 0 }, true},
		{"watchlist without schedule", func(c *Config) { c.Watchlist = []string{"AAPL"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			if tt.wantErr {
				assert.Error(t, c.Validate())
			} else {
				assert.NoError(t, c.Validate())
			}
		})
	}
}

func TestParseProfiles(t *testing.T) {
	data := []byte(`
profiles:
  cautious:
    mode: rebalance
    max_position_pct: 0.5
    buy_threshold_pct: 2
  default:
    trade_fee_rate: 0.002
`)
	p, err := ParseProfiles(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"cautious", "default"}, p.Names())

	cautious, ok := p.Get("cautious")
	require.True(t, ok)
	assert.Equal(t, backtest.ModeRebalance, cautious.Mode)
	assert.Equal(t, 0.5, cautious.MaxPositionPct)
	assert.Equal(t, 2.0, cautious.BuyThresholdPct)
	// inherited
	assert.Equal(t, backtest.DefaultParams().InitialCash, cautious.InitialCash)

	def, ok := p.Get("")
	require.True(t, ok)
	assert.Equal(t, 0.002, def.TradeFeeRate)
}

func TestParseProfilesRejectsInvalid(t *testing.T) {
	_, err := ParseProfiles([]byte("profiles:\n  broken:\n    initial_cash: -5\n"))
	assert.ErrorContains(t, err, "broken")

	_, err = ParseProfiles([]byte("profiles: [oops"))
	assert.Error(t, err)
}

func TestLoadProfilesWithoutPath(t *testing.T) {
	p, err := LoadProfiles("")
	require.NoError(t, err)
	params, ok := p.Get(DefaultProfile)
	require.True(t, ok)
	assert.Equal(t, backtest.DefaultParams(), params)
}

func ptr[T any](v T) *T { return &v }

func TestRunRequestValidate(t *testing.T) {
	valid := func() RunRequest {
		return RunRequest{Symbol: "AAPL", HorizonLen: 10, ContextLen: 512}
	}
	tests := []struct {
		name    string
		mutate  func(*RunRequest)
		wantErr string
	}{
		{"valid", func(*RunRequest) {}, ""},
		{"missing symbol", func(r *RunRequest) { r.Symbol = "" }, "symbol"},
		{"zero horizon", func(r *RunRequest) { r.HorizonLen = 0 }, "horizon_len"},
		{"context too long", func(r *RunRequest) { r.ContextLen = 4096 }, "context_len"},
		{"bad date", func(r *RunRequest) { r.StartDate = "2024/01/01" }, "start_date"},
		{"inverted range", func(r *RunRequest) { r.StartDate = "2024-02-01"; r.EndDate = "2024-01-01" }, "before"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestRunRequestParams(t *testing.T) {
	profiles, err := ParseProfiles([]byte("profiles:\n  wide:\n    buy_threshold_pct: 5\n    sell_threshold_pct: -5\n"))
	require.NoError(t, err)

	r := RunRequest{Profile: "wide", SellThresholdPct: ptr(-2.0), Mode: ptr(backtest.ModeRebalance)}
	params, err := r.Params(profiles)
	require.NoError(t, err)
	assert.Equal(t, 5.0, params.BuyThresholdPct)
	assert.Equal(t, -2.0, params.SellThresholdPct)
	assert.Equal(t, backtest.ModeRebalance, params.Mode)

	_, err = (&RunRequest{Profile: "missing"}).Params(profiles)
	assert.ErrorContains(t, err, "missing")

	_, err = (&RunRequest{InitialCash: ptr(0.0)}).Params(nil)
	assert.Error(t, err)
}

func TestRunRequestNormalize(t *testing.T) {
	r := RunRequest{Symbol: "  AAPL "}
	r.Normalize("2.5")
	assert.Equal(t, "AAPL", r.Symbol)
	assert.Equal(t, 1, r.StockType)
	assert.Equal(t, "2.5", r.ModelVersion)
}
