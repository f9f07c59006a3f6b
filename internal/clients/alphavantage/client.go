// Package alphavantage provides the Alpha Vantage adapter: daily bars only,
// behind a strict client-side rate limit matching the free tier.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/providers"
)

const defaultBaseURL = "https://www.alphavantage.co/query"

// Free tier allows 5 requests per minute; the limiter spaces calls out
// rather than bursting into 429s.
const requestInterval = 12 * time.Second

// Config holds the adapter settings.
type Config struct {
	APIKey   string
	BaseURL  string // empty selects the production API
	Priority int
}

// Client is the Alpha Vantage adapter. Daily bars only; intraday windows
// are rejected through the capability surface.
type Client struct {
	baseURL    string
	apiKey     string
	priority   int
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient creates an Alpha Vantage adapter.
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
		limiter: rate.NewLimiter(rate.Every(requestInterval), 1),
		log:     log.With().Str("client", "alphavantage").Logger(),
	}
}

// Name implements providers.Provider.
func (c *Client) Name() string { return "alphavantage" }

// Capabilities implements providers.Provider.
func (c *Client) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		SupportedTimeframes: []domain.Timeframe{domain.Timeframe1D},
		RequiresAuth:        true,
		RateLimit: providers.RateLimit{
			RequestsPerMinute: 5,
			BurstSize:         1,
		},
		SupportsQuotes: false,
		Priority:       c.priority,
	}
}

// dailyResponse is the TIME_SERIES_DAILY payload. Alpha Vantage reports
// throttling through Note/Information rather than HTTP status codes.
type dailyResponse struct {
	Series      map[string]dailyBar `json:"Time Series (Daily)"`
	Note        string              `json:"Note,omitempty"`
	Information string              `json:"Information,omitempty"`
	ErrMessage  string              `json:"Error Message,omitempty"`
}

type dailyBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// GetBars fetches daily bars for the inclusive [From, To] window.
func (c *Client) GetBars(ctx context.Context, req providers.BarRequest) ([]domain.Bar, error) {
	if req.Timeframe != domain.Timeframe1D {
		return nil, &providers.ProviderError{
			Provider: "alphavantage",
			Op:       "daily",
			Err:      fmt.Errorf("unsupported timeframe %q", req.Timeframe),
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	outputSize := "compact" // most recent 100 rows
	if req.From < time.Now().Add(-90*24*time.Hour).UnixMilli() {
		outputSize = "full"
	}

	query := url.Values{}
	query.Set("function", "TIME_SERIES_DAILY")
	query.Set("symbol", req.Symbol)
	query.Set("outputsize", outputSize)
	query.Set("apikey", c.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, &providers.ProviderError{Provider: "alphavantage", Op: "daily", Err: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &providers.ProviderError{Provider: "alphavantage", Op: "daily", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &providers.ProviderError{
			Provider: "alphavantage",
			Op:       "daily",
			Err:      fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	var payload dailyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &providers.ProviderError{Provider: "alphavantage", Op: "daily", Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	if payload.Note != "" || payload.Information != "" {
		return nil, &providers.RateLimitError{Provider: "alphavantage", RetryAfter: time.Minute}
	}
	if payload.ErrMessage != "" {
		return nil, &providers.SymbolResolutionError{Provider: "alphavantage", Symbol: req.Symbol}
	}

	bars, err := convertSeries(payload.Series, req)
	if err != nil {
		return nil, &providers.ProviderError{Provider: "alphavantage", Op: "daily", Err: err}
	}

	c.log.Debug().
		Str("symbol", req.Symbol).
		Int("bars", len(bars)).
		Msg("Alpha Vantage daily series fetched")
	return bars, nil
}

// convertSeries turns the date-keyed series into ascending bars trimmed to
// the request window. Dates are UTC midnights on the daily grid.
func convertSeries(series map[string]dailyBar, req providers.BarRequest) ([]domain.Bar, error) {
	bars := make([]domain.Bar, 0, len(series))
	for date, row := range series {
		day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("bad series date %q: %w", date, err)
		}
		ts := day.UnixMilli()
		if ts < req.From || ts > req.To {
			continue
		}

		bar := domain.Bar{Timestamp: ts}
		for _, field := range []struct {
			raw  string
			dest *float64
		}{
			{row.Open, &bar.Open},
			{row.High, &bar.High},
			{row.Low, &bar.Low},
			{row.Close, &bar.Close},
			{row.Volume, &bar.Volume},
		} {
			v, err := strconv.ParseFloat(field.raw, 64)
			if err != nil {
				return nil, fmt.Errorf("bad series value %q on %s: %w", field.raw, date, err)
			}
			*field.dest = v
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp < bars[j].Timestamp })
	if req.Limit > 0 && len(bars) > req.Limit {
		bars = bars[:req.Limit]
	}
	return bars, nil
}
