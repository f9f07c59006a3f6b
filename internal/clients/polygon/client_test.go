package polygon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/providers"
)

// windowStart is aligned to every supported timeframe.
const windowStart = int64(1_700_000_000_000 - 1_700_000_000_000%86_400_000)

func TestClientCapabilities(t *testing.T) {
	client := NewClient(Config{APIKey: "test-key", Priority: 0}, zerolog.Nop())

	assert.Equal(t, "polygon", client.Name())
	caps := client.Capabilities()
	assert.True(t, caps.RequiresAuth)
	for _, tf := range domain.Timeframes() {
		assert.True(t, caps.Supports(tf), string(tf))
	}
}

func TestGetBarsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/v2/aggs/ticker/AAPL/range/5/minute/"+
			"1699920000000/1699920600000", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "asc", r.URL.Query().Get("sort"))

		resp := aggsResponse{
			Ticker: "AAPL",
			Status: "OK",
			Results: []aggBar{
				{Timestamp: windowStart, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000},
				{Timestamp: windowStart + 300_000, Open: 100.5, High: 102, Low: 100, Close: 101.5, Volume: 1200},
				{Timestamp: windowStart + 600_000, Open: 101.5, High: 103, Low: 101, Close: 102, Volume: 900},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test-key", BaseURL: server.URL}, zerolog.Nop())
	bars, err := client.GetBars(context.Background(), providers.BarRequest{
		Symbol:    "AAPL",
		Timeframe: domain.Timeframe5m,
		From:      windowStart,
		To:        windowStart + 600_000,
	})
	require.NoError(t, err)

	require.Len(t, bars, 3)
	assert.Equal(t, windowStart, bars[0].Timestamp)
	assert.Equal(t, 100.5, bars[0].Close)
	assert.Equal(t, 1200.0, bars[1].Volume)
}

func TestGetBarsFiltersOutOfWindow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := aggsResponse{
			Status: "OK",
			Results: []aggBar{
				{Timestamp: windowStart - 60_000, Open: 1, High: 1, Low: 1, Close: 1},
				{Timestamp: windowStart, Open: 1, High: 1, Low: 1, Close: 1},
				{Timestamp: windowStart + 120_000, Open: 1, High: 1, Low: 1, Close: 1},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, zerolog.Nop())
	bars, err := client.GetBars(context.Background(), providers.BarRequest{
		Symbol:    "AAPL",
		Timeframe: domain.Timeframe1m,
		From:      windowStart,
		To:        windowStart + 60_000,
	})
	require.NoError(t, err)

	require.Len(t, bars, 1)
	assert.Equal(t, windowStart, bars[0].Timestamp)
}

func TestGetBarsRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, zerolog.Nop())
	_, err := client.GetBars(context.Background(), providers.BarRequest{
		Symbol:    "AAPL",
		Timeframe: domain.Timeframe1m,
		From:      windowStart,
		To:        windowStart + 60_000,
	})
	require.Error(t, err)

	var rateLimit *providers.RateLimitError
	require.True(t, errors.As(err, &rateLimit))
	assert.Equal(t, "polygon", rateLimit.Provider)
	assert.Equal(t, 30*time.Second, rateLimit.RetryAfter)
	assert.True(t, providers.IsRetryable(err))
}

func TestGetBarsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, zerolog.Nop())
	_, err := client.GetBars(context.Background(), providers.BarRequest{
		Symbol:    "AAPL",
		Timeframe: domain.Timeframe1m,
		From:      windowStart,
		To:        windowStart + 60_000,
	})
	require.Error(t, err)
	assert.True(t, providers.IsRetryable(err))
}
