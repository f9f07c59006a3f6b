package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/barkeep/internal/cache"
	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/sessions"
)

// refreshLookbackSlots is how many trailing grid slots each refresh
// keeps warm per timeframe.
const refreshLookbackSlots = 32

// RefreshEntry is one watchlist line: a symbol and the timeframes to
// keep fresh for it.
type RefreshEntry struct {
	Symbol     string
	Timeframes []domain.Timeframe
}

// WatchlistRefreshJob re-queries the trailing window of every watchlist
// series so interactive reads hit warm data. Symbols whose exchange is
// closed are skipped; their bars cannot have changed.
type WatchlistRefreshJob struct {
	cache    *cache.Service
	calendar *sessions.Calendar
	entries  []RefreshEntry
	now      func() time.Time
	log      zerolog.Logger
}

// NewWatchlistRefreshJob creates the refresh job.
func NewWatchlistRefreshJob(svc *cache.Service, calendar *sessions.Calendar, entries []RefreshEntry, log zerolog.Logger) *WatchlistRefreshJob {
	return &WatchlistRefreshJob{
		cache:    svc,
		calendar: calendar,
		entries:  entries,
		now:      time.Now,
		log:      log.With().Str("job", "watchlist_refresh").Logger(),
	}
}

// Name returns the job name for the scheduler.
func (j *WatchlistRefreshJob) Name() string {
	return "watchlist_refresh"
}

// Run refreshes every open-market watchlist series. Individual failures
// are logged and counted; the job fails only if every series failed.
func (j *WatchlistRefreshJob) Run(ctx context.Context) error {
	now := j.now()
	attempted, failed := 0, 0

	for _, entry := range j.entries {
		if !j.calendar.IsOpen(now, entry.Symbol) {
			j.log.Debug().Str("symbol", entry.Symbol).Msg("Market closed, skipping refresh")
			continue
		}

		for _, tf := range entry.Timeframes {
			attempted++
			to := now.UnixMilli()
			from := to - refreshLookbackSlots*tf.DurationMs()

			result, err := j.cache.Query(ctx, entry.Symbol, tf, from, to, cache.QueryOptions{ResolveContinuous: true})
			if err != nil {
				failed++
				j.log.Error().Err(err).
					Str("symbol", entry.Symbol).
					Str("timeframe", string(tf)).
					Msg("Watchlist refresh failed")
				continue
			}
			if result.Partial {
				failed++
				j.log.Warn().
					Str("symbol", entry.Symbol).
					Str("timeframe", string(tf)).
					Str("reason", result.Reason).
					Msg("Watchlist refresh partial")
			}
		}
	}

	if attempted > 0 && failed == attempted {
		return fmt.Errorf("all %d watchlist refreshes failed", failed)
	}
	j.log.Debug().Int("attempted", attempted).Int("failed", failed).Msg("Watchlist refresh pass done")
	return nil
}
