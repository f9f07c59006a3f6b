// Package polygon provides the Polygon.io market data adapter: REST
// aggregate bars for history plus a websocket stream of live minute bars.
package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/providers"
)

const (
	defaultBaseURL = "https://api.polygon.io"
	// Aggregate responses cap at 50,000 results per request.
	maxAggsPerRequest = 50_000
)

// aggSpec maps a timeframe onto Polygon's multiplier/timespan pair.
type aggSpec struct {
	multiplier int
	timespan   string
}

var aggSpecs = map[domain.Timeframe]aggSpec{
	domain.Timeframe1m:  {1, "minute"},
	domain.Timeframe5m:  {5, "minute"},
	domain.Timeframe10m: {10, "minute"},
	domain.Timeframe15m: {15, "minute"},
	domain.Timeframe30m: {30, "minute"},
	domain.Timeframe1h:  {1, "hour"},
	domain.Timeframe2h:  {2, "hour"},
	domain.Timeframe4h:  {4, "hour"},
	domain.Timeframe1D:  {1, "day"},
}

// Config holds the REST adapter settings.
type Config struct {
	APIKey   string
	BaseURL  string // empty selects the production API
	Priority int
}

// Client is the Polygon REST adapter. It serves every supported timeframe
// natively through the aggregates endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	priority   int
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a Polygon REST adapter.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:  baseURL,
		apiKey:   cfg.APIKey,
		priority: cfg.Priority,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "polygon").Logger(),
	}
}

// Name implements providers.Provider.
func (c *Client) Name() string { return "polygon" }

// Capabilities implements providers.Provider.
func (c *Client) Capabilities() providers.Capabilities {
	tfs := make([]domain.Timeframe, 0, len(aggSpecs))
	for _, tf := range domain.Timeframes() {
		if _, ok := aggSpecs[tf]; ok {
			tfs = append(tfs, tf)
		}
	}
	return providers.Capabilities{
		SupportedTimeframes: tfs,
		MaxBarsPerRequest:   maxAggsPerRequest,
		RequiresAuth:        true,
		RateLimit: providers.RateLimit{
			RequestsPerMinute: 100,
			BurstSize:         10,
		},
		SupportsExtendedHours: true,
		Priority:              c.priority,
	}
}

// aggsResponse is the aggregates endpoint payload.
type aggsResponse struct {
	Ticker       string   `json:"ticker"`
	Status       string   `json:"status"`
	ResultsCount int      `json:"resultsCount"`
	Results      []aggBar `json:"results"`
	Error        string   `json:"error,omitempty"`
}

// aggBar is one aggregate result. Timestamps are bucket starts in UTC ms.
type aggBar struct {
	Timestamp int64   `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

// GetBars fetches aggregate bars for the inclusive [From, To] window.
func (c *Client) GetBars(ctx context.Context, req providers.BarRequest) ([]domain.Bar, error) {
	spec, ok := aggSpecs[req.Timeframe]
	if !ok {
		return nil, &providers.ProviderError{
			Provider: "polygon",
			Op:       "aggs",
			Err:      fmt.Errorf("unsupported timeframe %q", req.Timeframe),
		}
	}

	url := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/%d/%s/%d/%d?adjusted=true&sort=asc&limit=%d",
		c.baseURL, req.Symbol, spec.multiplier, spec.timespan, req.From, req.To, maxAggsPerRequest)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &providers.ProviderError{Provider: "polygon", Op: "aggs", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &providers.ProviderError{Provider: "polygon", Op: "aggs", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &providers.RateLimitError{
			Provider:   "polygon",
			RetryAfter: retryAfterHint(resp),
		}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &providers.ProviderError{
			Provider: "polygon",
			Op:       "aggs",
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var payload aggsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &providers.ProviderError{Provider: "polygon", Op: "aggs", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if payload.Error != "" {
		return nil, &providers.ProviderError{Provider: "polygon", Op: "aggs", Err: fmt.Errorf("api error: %s", payload.Error)}
	}

	bars := make([]domain.Bar, 0, len(payload.Results))
	for _, agg := range payload.Results {
		ts := req.Timeframe.Truncate(agg.Timestamp)
		if ts < req.From || ts > req.To {
			continue
		}
		bars = append(bars, domain.Bar{
			Timestamp: ts,
			Open:      agg.Open,
			High:      agg.High,
			Low:       agg.Low,
			Close:     agg.Close,
			Volume:    agg.Volume,
		})
		if req.Limit > 0 && len(bars) >= req.Limit {
			break
		}
	}

	c.log.Debug().
		Str("symbol", req.Symbol).
		Str("timeframe", string(req.Timeframe)).
		Int("bars", len(bars)).
		Msg("Polygon aggregates fetched")
	return bars, nil
}

// retryAfterHint reads the Retry-After header, defaulting to a minute.
func retryAfterHint(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Minute
}
