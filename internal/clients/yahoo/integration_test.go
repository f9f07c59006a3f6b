//go:build integration
// +build integration

package yahoo

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/providers"
)

// These tests hit the live Yahoo Finance API. Run with: go test -tags integration ./...

func TestAdapter_GetBars_Live(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.InfoLevel)
	adapter := New(Config{Priority: 1}, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t.Run("daily bars", func(t *testing.T) {
		to := time.Now().UTC()
		from := to.AddDate(0, -1, 0)
		bars, err := adapter.GetBars(ctx, providers.BarRequest{
			Symbol:    "AAPL",
			Timeframe: domain.Timeframe1D,
			From:      from.UnixMilli(),
			To:        to.UnixMilli(),
		})
		require.NoError(t, err)
		require.NotEmpty(t, bars)

		for i, bar := range bars {
			ok, reason := bar.Validate(domain.Timeframe1D)
			assert.True(t, ok, "bar %d: %s", i, reason)
			if i > 0 {
				assert.Greater(t, bar.Timestamp, bars[i-1].Timestamp)
			}
		}
	})

	t.Run("intraday bars", func(t *testing.T) {
		to := time.Now().UTC()
		from := to.Add(-48 * time.Hour)
		bars, err := adapter.GetBars(ctx, providers.BarRequest{
			Symbol:    "MSFT",
			Timeframe: domain.Timeframe5m,
			From:      from.UnixMilli(),
			To:        to.UnixMilli(),
		})
		require.NoError(t, err)
		// Weekend windows can legitimately come back empty.
		for i, bar := range bars {
			ok, reason := bar.Validate(domain.Timeframe5m)
			assert.True(t, ok, "bar %d: %s", i, reason)
		}
	})

	t.Run("continuous futures symbol", func(t *testing.T) {
		adapter := New(Config{Priority: 1, FuturesRoots: []string{"ES"}}, log)
		to := time.Now().UTC()
		from := to.AddDate(0, -1, 0)
		bars, err := adapter.GetBars(ctx, providers.BarRequest{
			Symbol:    "ES",
			Timeframe: domain.Timeframe1D,
			From:      from.UnixMilli(),
			To:        to.UnixMilli(),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, bars)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		_, err := adapter.GetBars(ctx, providers.BarRequest{
			Symbol:    "ZZZZZZZZZZ",
			Timeframe: domain.Timeframe1D,
			From:      time.Now().AddDate(0, -1, 0).UnixMilli(),
			To:        time.Now().UnixMilli(),
		})
		assert.Error(t, err)
	})
}

func TestAdapter_GetQuote_Live(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.InfoLevel)
	adapter := New(Config{Priority: 1}, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	quote, err := adapter.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", quote.Symbol)
	assert.Greater(t, quote.Price, 0.0)
	assert.Greater(t, quote.Timestamp, int64(0))
}
