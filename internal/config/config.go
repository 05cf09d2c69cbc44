// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for sqlite databases and report files (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	Forecaster ForecasterConfig
	Store      StoreConfig
	Reports    ReportsConfig

	MinHistoryChunks     int
	MaxConcurrentRuns    int
	ForecastCacheTTL     time.Duration
	StrategyProfilesPath string
	Watchlist            []string
	WatchlistSchedule    string // cron spec, empty disables the job
}

// ForecasterConfig points at the forecast model service
type ForecasterConfig struct {
	URL          string
	Timeout      time.Duration
	ModelVersion string
}

// StoreConfig points at the remote persistence store
type StoreConfig struct {
	URL        string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// ReportsConfig holds the S3-compatible archive target for run reports
type ReportsConfig struct {
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// Enabled reports whether report archiving is configured
func (r ReportsConfig) Enabled() bool {
	return r.Bucket != "" && r.AccessKeyID != "" && r.SecretAccessKey != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FORECASTBT_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Forecaster: ForecasterConfig{
			URL:          getEnv("FORECASTER_URL", "http://localhost:9000"),
			Timeout:      getEnvAsDuration("FORECASTER_TIMEOUT", 120*time.Second),
			ModelVersion: getEnv("MODEL_VERSION", "2.5"),
		},
		Store: StoreConfig{
			URL:        getEnv("STORE_URL", "http://localhost:6000"),
			Token:      getEnv("STORE_TOKEN", ""),
			Timeout:    getEnvAsDuration("STORE_TIMEOUT", 30*time.Second),
			MaxRetries: getEnvAsInt("STORE_MAX_RETRIES", 2),
			Backoff:    getEnvAsDuration("STORE_BACKOFF", 500*time.Millisecond),
		},
		Reports: ReportsConfig{
			Bucket:          getEnv("REPORTS_BUCKET", ""),
			Endpoint:        getEnv("REPORTS_ENDPOINT", ""),
			AccessKeyID:     getEnv("REPORTS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("REPORTS_SECRET_ACCESS_KEY", ""),
			Region:          getEnv("REPORTS_REGION", "auto"),
		},
		MinHistoryChunks:     getEnvAsInt("MIN_HISTORY_CHUNKS", 10),
		MaxConcurrentRuns:    getEnvAsInt("MAX_CONCURRENT_RUNS", 2),
		ForecastCacheTTL:     getEnvAsDuration("FORECAST_CACHE_TTL", 24*time.Hour),
		StrategyProfilesPath: getEnv("STRATEGY_PROFILES_PATH", ""),
		Watchlist:            getEnvAsList("WATCHLIST"),
		WatchlistSchedule:    getEnv("WATCHLIST_SCHEDULE", ""),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if err := validateURL("FORECASTER_URL", c.Forecaster.URL); err != nil {
		return err
	}
	if err := validateURL("STORE_URL", c.Store.URL); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("GO_PORT out of range: %d", c.Port)
	}
	if c.Store.MaxRetries < 0 {
		return fmt.Errorf("STORE_MAX_RETRIES must not be negative: %d", c.Store.MaxRetries)
	}
	if c.MinHistoryChunks < 0 {
		return fmt.Errorf("MIN_HISTORY_CHUNKS must not be negative: %d", c.MinHistoryChunks)
	}
	if c.MaxConcurrentRuns < 1 {
		return fmt.Errorf("MAX_CONCURRENT_RUNS must be at least 1: %d", c.MaxConcurrentRuns)
	}
	if len(c.Watchlist) > 0 && c.WatchlistSchedule == "" {
		return fmt.Errorf("WATCHLIST is set but WATCHLIST_SCHEDULE is empty")
	}
	return nil
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s is not a valid URL: %q", key, raw)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
