package clientdata

import "time"

// Default TTLs, added to time.Now() to compute expires_at
const (
	// Forecasts are deterministic for identical input; the cap bounds disk use
	TTLForecast = 24 * time.Hour
	// Daily bars only change after the close
	TTLPriceHistory = 6 * time.Hour
)
