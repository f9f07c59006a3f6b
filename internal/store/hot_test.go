package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/barkeep/internal/domain"
)

func TestHotGetPut(t *testing.T) {
	hot, err := NewHot(10)
	require.NoError(t, err)

	bar := testBar(base, "polygon", 1, 100.5)
	hot.Put("AAPL", domain.Timeframe5m, bar)

	got, ok := hot.Get("AAPL", domain.Timeframe5m, base, "polygon")
	require.True(t, ok)
	assert.Equal(t, bar, got)

	_, ok = hot.Get("AAPL", domain.Timeframe5m, base, "yahoo")
	assert.False(t, ok, "entries are per provider")

	_, ok = hot.Get("AAPL", domain.Timeframe1m, base, "polygon")
	assert.False(t, ok, "entries are per timeframe")
}

func TestHotWinnerEntriesAreSeparate(t *testing.T) {
	hot, err := NewHot(10)
	require.NoError(t, err)

	provider := testBar(base, "yahoo", 1, 100)
	winner := testBar(base, "polygon", 2, 101)
	hot.Put("ES", domain.Timeframe1m, provider)
	hot.PutWinner("ES", domain.Timeframe1m, winner)

	got, ok := hot.GetWinner("ES", domain.Timeframe1m, base)
	require.True(t, ok)
	assert.Equal(t, winner, got)

	fromProvider, ok := hot.Get("ES", domain.Timeframe1m, base, "yahoo")
	require.True(t, ok)
	assert.Equal(t, provider, fromProvider)
}

func TestHotEvictsLRU(t *testing.T) {
	hot, err := NewHot(3)
	require.NoError(t, err)

	for i := int64(0); i < 4; i++ {
		hot.Put("AAPL", domain.Timeframe1m, testBar(base+i*60_000, "polygon", 1, 100))
	}

	assert.Equal(t, 3, hot.Len())
	_, ok := hot.Get("AAPL", domain.Timeframe1m, base, "polygon")
	assert.False(t, ok, "oldest entry evicted")
	_, ok = hot.Get("AAPL", domain.Timeframe1m, base+3*60_000, "polygon")
	assert.True(t, ok)
}

func TestHotDefaultCapacity(t *testing.T) {
	hot, err := NewHot(0)
	require.NoError(t, err)
	hot.Put("AAPL", domain.Timeframe1m, testBar(base, "polygon", 1, 100))
	assert.Equal(t, 1, hot.Len())
}
