// Package forecaster is the HTTP client for the quantile forecast model service
// and the registry of model handles keyed by (horizon, context).
package forecaster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/aristath/forecastbt/internal/domain"
)

const pathForecast = "/api/v1/forecast"

// Request is one forecast call
type Request struct {
	History      []float64 `json:"history" msgpack:"history"`
	HorizonLen   int       `json:"horizon_len" msgpack:"horizon_len"`
	ContextLen   int       `json:"context_len" msgpack:"context_len"`
	ModelVersion string    `json:"model_version" msgpack:"model_version"`
}

// Response is the model service answer
type Response struct {
	Forecast map[string][]float64 `json:"forecast"`
	Error    string               `json:"error,omitempty"`
}

// Backend computes a forecast for one request
type Backend interface {
	Forecast(ctx context.Context, req Request) (domain.QuantileForecast, error)
}

// Client calls the model service over HTTP
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewClient creates a new model service client
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	h := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return resp.StatusCode() == http.StatusServiceUnavailable
		})

	return &Client{
		http: h,
		log:  log.With().Str("client", "forecaster").Logger(),
	}
}

// Forecast requests a quantile forecast and validates its shape
func (c *Client) Forecast(ctx context.Context, req Request) (domain.QuantileForecast, error) {
	var out Response
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post(pathForecast)
	if err != nil {
		return nil, fmt.Errorf("forecast request failed: %w", err)
	}
	if !resp.IsSuccess() {
		msg := out.Error
		if msg == "" {
			msg = resp.String()
		}
		return nil, fmt.Errorf("forecast service error: status %d: %s", resp.StatusCode(), msg)
	}

	fc, err := Validate(out.Forecast, req.HorizonLen)
	if err != nil {
		return nil, err
	}
	c.log.Debug().
		Int("history", len(req.History)).
		Int("horizon", req.HorizonLen).
		Dur("took", time.Since(start)).
		Msg("Forecast received")
	return fc, nil
}

// Validate converts a raw forecast and checks every evaluated level is present,
// horizonLen long and finite. Unknown columns are dropped.
func Validate(raw map[string][]float64, horizonLen int) (domain.QuantileForecast, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty forecast")
	}
	fc := make(domain.QuantileForecast, len(domain.AllLevels))
	for _, level := range domain.AllLevels {
		seq, ok := raw[string(level)]
		if !ok {
			if level == domain.PointEstimate {
				continue
			}
			return nil, fmt.Errorf("forecast missing level %s", level)
		}
		if len(seq) != horizonLen {
			return nil, fmt.Errorf("level %s has %d values, want %d", level, len(seq), horizonLen)
		}
		for _, v := range seq {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("level %s contains a non-finite value", level)
			}
		}
		fc[level] = append([]float64(nil), seq...)
	}
	return fc, nil
}
