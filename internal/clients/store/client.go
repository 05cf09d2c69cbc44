// Package store is the HTTP client for the remote persistence store: best
// selections, validation chunks, backtests, strategy params and price history.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/aristath/forecastbt/internal/domain"
)

// Endpoint paths
const (
	pathHealth         = "/health"
	pathSaveBest       = "/api/v1/save-predictions/mtf-best"
	pathSaveValChunk   = "/api/v1/save-predictions/mtf-best/val-chunk"
	pathBestByUnique   = "/api/v1/save-predictions/mtf-best/by-unique"
	pathSaveBacktest   = "/api/v1/save-predictions/backtest"
	pathStrategyParams = "/api/v1/strategy/params"
	pathStockRange     = "/api/v1/stock-data/{symbol}/range"
)

// Config configures the client
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// StatusError is a non-retryable rejection by the store
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("store rejected %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Client talks to the persistence store
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewClient creates a new store client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}

	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.Backoff).
		SetRetryMaxWaitTime(cfg.Backoff * time.Duration(cfg.MaxRetries+1)).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(retryable)
	if cfg.Token != "" {
		h.SetHeader("X-Token", cfg.Token)
	}

	return &Client{
		http: h,
		log:  log.With().Str("client", "store").Logger(),
	}
}

// retryable retries transport failures, timeouts, throttling and server errors
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	code := resp.StatusCode()
	if code == http.StatusNotImplemented {
		return false
	}
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// Health reports whether the store answers its health probe with status ok
func (c *Client) Health(ctx context.Context) bool {
	var body struct {
		Status string `json:"status"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&body).Get(pathHealth)
	if err != nil || resp.StatusCode() != http.StatusOK {
		return false
	}
	return body.Status == "ok"
}

// SaveBest upserts a best record
func (c *Client) SaveBest(ctx context.Context, rec BestRecord) error {
	_, err := c.post(ctx, "save best", pathSaveBest, rec)
	return err
}

// SaveValidationChunk upserts one validation chunk
func (c *Client) SaveValidationChunk(ctx context.Context, rec ValidationChunkRecord) error {
	_, err := c.post(ctx, "save validation chunk", pathSaveValChunk, rec)
	return err
}

// SaveBacktest upserts a backtest summary
func (c *Client) SaveBacktest(ctx context.Context, rec BacktestRecord) error {
	_, err := c.post(ctx, "save backtest", pathSaveBacktest, rec)
	return err
}

// SaveStrategyParams upserts a strategy parameter set
func (c *Client) SaveStrategyParams(ctx context.Context, rec StrategyParamsRecord) error {
	_, err := c.post(ctx, "save strategy params", pathStrategyParams, rec)
	return err
}

// GetBestByUniqueKey looks up a best record. Returns nil, nil if the key doesn't exist.
func (c *Client) GetBestByUniqueKey(ctx context.Context, uniqueKey string) (*BestRecord, error) {
	const op = "lookup best"
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("unique_key", uniqueKey).
		Get(pathBestByUnique)
	if err := c.check(op, resp, err); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	env, err := decodeEnvelope(op, resp.Body())
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}
	var stored storedBest
	if err := json.Unmarshal(env.Data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode best record: %w", err)
	}
	rec := stored.record()
	return &rec, nil
}

// PriceHistory fetches daily bars for [start, end]. Older stores only accept the
// read-only GET form, which is tried when the POST form is unsupported.
func (c *Client) PriceHistory(ctx context.Context, symbol string, stockType int, start, end time.Time) ([]StockBar, error) {
	const op = "price history"
	startDate, endDate := start.Format("2006-01-02"), end.Format("2006-01-02")

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetBody(map[string]interface{}{"type": stockType, "start_date": startDate, "end_date": endDate}).
		Post(pathStockRange)
	if err == nil && unsupported(resp.StatusCode()) {
		c.log.Debug().
			Str("symbol", symbol).
			Int("status", resp.StatusCode()).
			Msg("POST range query unsupported, falling back to GET")
		resp, err = c.http.R().
			SetContext(ctx).
			SetPathParam("symbol", symbol).
			SetQueryParams(map[string]string{
				"type":       strconv.Itoa(stockType),
				"start_date": startDate,
				"end_date":   endDate,
			}).
			Get(pathStockRange)
	}
	if err := c.check(op, resp, err); err != nil {
		return nil, err
	}

	env, err := decodeEnvelope(op, resp.Body())
	if err != nil {
		return nil, err
	}
	var bars []StockBar
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &bars); err != nil {
			return nil, fmt.Errorf("failed to decode price history: %w", err)
		}
	}
	return bars, nil
}

// Records converts bars to domain records
func Records(bars []StockBar) []domain.Record {
	out := make([]domain.Record, len(bars))
	for i, b := range bars {
		out[i] = domain.Record{
			Date:   b.Datetime,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
	}
	return out
}

func (c *Client) post(ctx context.Context, op, path string, body interface{}) (*APIResponse, error) {
	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(path)
	if err := c.check(op, resp, err); err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(op, resp.Body())
	if err != nil {
		return nil, err
	}
	c.log.Debug().Str("op", op).Str("path", path).Msg("Store write acknowledged")
	return env, nil
}

// check classifies a completed request. Exhausted retryable failures become
// PersistenceUnavailableError; other non-2xx answers become StatusError.
func (c *Client) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		c.log.Warn().Err(err).Str("op", op).Msg("Store request failed")
		return &domain.PersistenceUnavailableError{Op: op, Err: err}
	}
	if resp.IsSuccess() {
		return nil
	}
	statusErr := &StatusError{Op: op, Status: resp.StatusCode(), Body: truncate(resp.String(), 512)}
	if retryable(resp, nil) {
		c.log.Warn().Int("status", resp.StatusCode()).Str("op", op).Msg("Store unavailable after retries")
		return &domain.PersistenceUnavailableError{Op: op, Err: statusErr}
	}
	return statusErr
}

func decodeEnvelope(op string, body []byte) (*APIResponse, error) {
	var env APIResponse
	if len(body) == 0 {
		return &env, nil
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return &env, nil
}

func unsupported(status int) bool {
	return status == http.StatusNotFound || status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
