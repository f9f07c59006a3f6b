package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/barkeep/internal/cache"
	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/events"
	"github.com/aristath/barkeep/internal/freshness"
	"github.com/aristath/barkeep/internal/providers"
	"github.com/aristath/barkeep/internal/sessions"
	"github.com/aristath/barkeep/internal/symbols"
	testingpkg "github.com/aristath/barkeep/internal/testing"
)

func TestSchedulerRegisterRejectsBadSpec(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.Register("not a cron spec", NewFuncJob("noop", func(context.Context) error { return nil }))
	require.Error(t, err)
}

func TestSchedulerRunNow(t *testing.T) {
	s := New(zerolog.Nop())

	ran := false
	s.RunNow(NewFuncJob("ok", func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	// A failing job is logged, not propagated.
	s.RunNow(NewFuncJob("fails", func(context.Context) error {
		return errors.New("boom")
	}))
}

func newRefreshFixture(t *testing.T, adapter *testingpkg.FakeProvider, entries []RefreshEntry) *WatchlistRefreshJob {
	t.Helper()
	normalizer := symbols.NewNormalizer(nil)
	svc := cache.NewService(cache.Deps{
		Store:      testingpkg.NewTestStore(t),
		Composite:  providers.NewComposite([]providers.Provider{adapter}, zerolog.Nop()),
		Policy:     freshness.NewPolicy(nil),
		Normalizer: normalizer,
		Bus:        events.NewBus(zerolog.Nop()),
		Retry:      cache.RetryConfig{Attempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, zerolog.Nop())
	calendar := sessions.NewCalendar(normalizer, zerolog.Nop())
	return NewWatchlistRefreshJob(svc, calendar, entries, zerolog.Nop())
}

func TestWatchlistRefreshWarmsOpenMarkets(t *testing.T) {
	adapter := testingpkg.NewFakeProvider("yahoo")
	job := newRefreshFixture(t, adapter, []RefreshEntry{
		{Symbol: "AAPL", Timeframes: []domain.Timeframe{domain.Timeframe1m, domain.Timeframe5m}},
	})

	// Tuesday 2026-03-03 15:00 UTC: NYSE regular hours.
	job.now = func() time.Time { return time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC) }

	require.NoError(t, job.Run(context.Background()))
	assert.GreaterOrEqual(t, adapter.CallCount(), 2)
}

func TestWatchlistRefreshSkipsClosedMarkets(t *testing.T) {
	adapter := testingpkg.NewFakeProvider("yahoo")
	job := newRefreshFixture(t, adapter, []RefreshEntry{
		{Symbol: "AAPL", Timeframes: []domain.Timeframe{domain.Timeframe1m}},
	})

	// Saturday: nothing to refresh, nothing fails.
	job.now = func() time.Time { return time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC) }

	require.NoError(t, job.Run(context.Background()))
	assert.Zero(t, adapter.CallCount())
}

func TestWatchlistRefreshFailsWhenEverySeriesFails(t *testing.T) {
	adapter := testingpkg.NewFakeProvider("yahoo")
	adapter.ServeFn = func(providers.BarRequest) ([]domain.Bar, error) {
		return nil, errors.New("provider down")
	}
	job := newRefreshFixture(t, adapter, []RefreshEntry{
		{Symbol: "AAPL", Timeframes: []domain.Timeframe{domain.Timeframe1m}},
	})
	job.now = func() time.Time { return time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC) }

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watchlist refreshes failed")
}
