package forecaster

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/forecastbt/internal/clientdata"
	"github.com/aristath/forecastbt/internal/domain"
)

// CachedBackend serves repeated identical requests from the local cache.
// When the service fails, an expired entry for the same request is still used.
type CachedBackend struct {
	next Backend
	repo *clientdata.Repository
	ttl  time.Duration
	log  zerolog.Logger
}

// NewCachedBackend wraps next. A nil repo disables caching.
func NewCachedBackend(next Backend, repo *clientdata.Repository, ttl time.Duration, log zerolog.Logger) *CachedBackend {
	if ttl <= 0 {
		ttl = clientdata.TTLForecast
	}
	return &CachedBackend{
		next: next,
		repo: repo,
		ttl:  ttl,
		log:  log.With().Str("component", "forecast_cache").Logger(),
	}
}

// CacheKey is a stable digest of a request
func CacheKey(req Request) (string, error) {
	enc, err := msgpack.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode forecast request: %w", err)
	}
	sum := sha256.Sum256(enc)
	return hex.EncodeToString(sum[:]), nil
}

// Forecast implements Backend
func (c *CachedBackend) Forecast(ctx context.Context, req Request) (domain.QuantileForecast, error) {
	if c.repo == nil {
		return c.next.Forecast(ctx, req)
	}
	key, err := CacheKey(req)
	if err != nil {
		return nil, err
	}

	var cached map[string][]float64
	if ok, err := c.repo.GetIfFresh(clientdata.TableForecasts, key, &cached); err != nil {
		c.log.Warn().Err(err).Msg("Failed to read forecast cache")
	} else if ok {
		return toForecast(cached), nil
	}

	fc, err := c.next.Forecast(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			if ok, _ := c.repo.Get(clientdata.TableForecasts, key, &cached); ok {
				c.log.Warn().Err(err).Msg("Forecast service failed, using stale cached forecast")
				return toForecast(cached), nil
			}
		}
		return nil, err
	}

	raw := make(map[string][]float64, len(fc))
	for level, seq := range fc {
		raw[string(level)] = seq
	}
	if err := c.repo.Store(clientdata.TableForecasts, key, raw, c.ttl); err != nil {
		c.log.Warn().Err(err).Msg("Failed to cache forecast")
	}
	return fc, nil
}

func toForecast(raw map[string][]float64) domain.QuantileForecast {
	fc := make(domain.QuantileForecast, len(raw))
	for level, seq := range raw {
		fc[domain.QuantileLevel(level)] = seq
	}
	return fc
}
