package merge

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/barkeep/internal/domain"
)

const ts = int64(1_700_000_000_000 - 1_700_000_000_000%300_000)

func cachedBar(provider string, revision int64, close float64) domain.CachedBar {
	return domain.CachedBar{
		Bar: domain.Bar{
			Timestamp: ts,
			Open:      100, High: 101, Low: 99, Close: close, Volume: 10000,
		},
		Provider:  provider,
		Revision:  revision,
		FetchedAt: ts + 60_000,
	}
}

func newTestEngine() *Engine {
	return NewEngine([]string{"polygon", "yahoo"}, zerolog.Nop())
}

func TestMergeInitialInsert(t *testing.T) {
	e := newTestEngine()
	incoming := cachedBar("polygon", 1, 100.5)

	out := e.Merge("AAPL", domain.Timeframe5m, nil, incoming)

	assert.True(t, out.Changed)
	assert.Equal(t, incoming, out.Winner)
	require.NotNil(t, out.Event)
	assert.Equal(t, domain.CorrectionInitial, out.Event.Type)
	assert.Nil(t, out.Event.Old)
	assert.Equal(t, incoming, out.Event.New)
	assert.Equal(t, "AAPL", out.Event.Symbol)
	assert.Equal(t, domain.Timeframe5m, out.Event.Timeframe)
	assert.Equal(t, ts, out.Event.Timestamp)
}

func TestMergeSameProviderHigherRevision(t *testing.T) {
	e := newTestEngine()
	existing := cachedBar("polygon", 1, 100.5)
	incoming := cachedBar("polygon", 2, 100.8)

	out := e.Merge("AAPL", domain.Timeframe5m, &existing, incoming)

	assert.True(t, out.Changed)
	assert.Equal(t, incoming, out.Winner)
	require.NotNil(t, out.Event)
	assert.Equal(t, domain.CorrectionRevision, out.Event.Type)
	require.NotNil(t, out.Event.Old)
	assert.Equal(t, 100.5, out.Event.Old.Close)
	assert.Equal(t, 100.8, out.Event.New.Close)
}

func TestMergeSameProviderStaleRevisionIgnored(t *testing.T) {
	e := newTestEngine()
	existing := cachedBar("polygon", 2, 100.8)

	for _, revision := range []int64{1, 2} {
		incoming := cachedBar("polygon", revision, 100.5)
		out := e.Merge("AAPL", domain.Timeframe5m, &existing, incoming)

		assert.False(t, out.Changed)
		assert.Nil(t, out.Event)
		assert.Equal(t, existing, out.Winner, "existing bar survives revision %d", revision)
	}
}

func TestMergeProviderOverride(t *testing.T) {
	e := newTestEngine()
	existing := cachedBar("yahoo", 3, 4500)
	incoming := cachedBar("polygon", 1, 4501)

	out := e.Merge("ES", domain.Timeframe1m, &existing, incoming)

	assert.True(t, out.Changed)
	assert.Equal(t, incoming, out.Winner)
	require.NotNil(t, out.Event)
	assert.Equal(t, domain.CorrectionProviderOverride, out.Event.Type)
	require.NotNil(t, out.Event.Old)
	assert.Equal(t, "yahoo", out.Event.Old.Provider)
	assert.Equal(t, "polygon", out.Event.New.Provider)
}

func TestMergeLowerPriorityCannotOverride(t *testing.T) {
	e := newTestEngine()
	existing := cachedBar("polygon", 1, 4501)
	incoming := cachedBar("yahoo", 9, 4499)

	out := e.Merge("ES", domain.Timeframe1m, &existing, incoming)

	assert.False(t, out.Changed)
	assert.Nil(t, out.Event)
	assert.Equal(t, existing, out.Winner)
}

func TestMergeIdempotentReinsertSuppressed(t *testing.T) {
	e := newTestEngine()
	existing := cachedBar("polygon", 2, 100.8)
	incoming := existing
	incoming.FetchedAt += 5 * 60_000 // later observation of the same payload

	out := e.Merge("AAPL", domain.Timeframe5m, &existing, incoming)

	assert.False(t, out.Changed, "re-insert of an identical payload is not a correction")
	assert.Nil(t, out.Event)
	assert.Equal(t, incoming, out.Winner, "winner still carries the fresh FetchedAt")
}

func TestMergeUnknownProviderRanksLast(t *testing.T) {
	e := newTestEngine()
	existing := cachedBar("yahoo", 1, 100)
	incoming := cachedBar("mystery", 5, 101)

	out := e.Merge("AAPL", domain.Timeframe5m, &existing, incoming)

	assert.False(t, out.Changed)
	assert.Equal(t, existing, out.Winner)
}

func TestMergeUnknownProviderTieBrokenByName(t *testing.T) {
	e := newTestEngine()
	a := cachedBar("alpha", 1, 100)
	z := cachedBar("zeta", 1, 101)

	forward := e.Merge("AAPL", domain.Timeframe5m, &z, a)
	assert.Equal(t, "alpha", forward.Winner.Provider)

	backward := e.Merge("AAPL", domain.Timeframe5m, &a, z)
	assert.Equal(t, "alpha", backward.Winner.Provider, "winner independent of arrival order")
}

func TestMergeTotality(t *testing.T) {
	// Every (existing, incoming) pair hits exactly one rule: the outcome
	// always names a winner and carries at most one event.
	e := newTestEngine()
	providers := []string{"polygon", "yahoo", "unknown"}
	revisions := []int64{1, 2}

	for _, ep := range providers {
		for _, er := range revisions {
			for _, ip := range providers {
				for _, ir := range revisions {
					existing := cachedBar(ep, er, 100)
					incoming := cachedBar(ip, ir, 101)
					out := e.Merge("AAPL", domain.Timeframe5m, &existing, incoming)

					assert.NotEmpty(t, out.Winner.Provider)
					if out.Event != nil {
						assert.True(t, out.Changed)
						assert.Equal(t, out.Winner, out.Event.New)
					}
				}
			}
		}
	}
}

func TestPriorityConfiguredOrder(t *testing.T) {
	e := NewEngine([]string{"polygon", "yahoo", "polygon"}, zerolog.Nop())

	assert.Equal(t, 0, e.Priority("polygon"), "first occurrence wins on duplicates")
	assert.Equal(t, 1, e.Priority("yahoo"))
	assert.Equal(t, 3, e.Priority("alphavantage"), "unlisted providers rank after all configured ones")
}
