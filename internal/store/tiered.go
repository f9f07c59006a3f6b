package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/aristath/barkeep/internal/database"
	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/merge"
)

// TieredStore combines the hot LRU with the cold repository. Writes apply
// the merge rules, persist before returning and populate the hot tier on
// the same path; reads prefer the hot tier and lazily backfill it from the
// cold one. Writes to one (symbol, timeframe) series are serialized so the
// store and its listeners observe a single total order per timestamp.
type TieredStore struct {
	db     *database.DB
	repo   *BarRepository
	hot    *Hot
	engine *merge.Engine
	log    zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTieredStore builds the store. hotCapacity <= 0 selects the default.
func NewTieredStore(db *database.DB, hotCapacity int, engine *merge.Engine, log zerolog.Logger) (*TieredStore, error) {
	hot, err := NewHot(hotCapacity)
	if err != nil {
		return nil, err
	}
	return &TieredStore{
		db:     db,
		repo:   NewBarRepository(db),
		hot:    hot,
		engine: engine,
		log:    log.With().Str("component", "tiered_store").Logger(),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Repository exposes the cold-tier repository for read-only tooling.
func (s *TieredStore) Repository() *BarRepository {
	return s.repo
}

// Hot exposes the hot tier; tests use it to assert population and eviction.
func (s *TieredStore) Hot() *Hot {
	return s.hot
}

// seriesLock returns the mutex serializing writes for one series.
func (s *TieredStore) seriesLock(symbol string, tf domain.Timeframe) *sync.Mutex {
	key := symbol + "|" + string(tf)
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// Get returns the merged view at one timestamp: the latest revision from
// the best-ranked provider, or nil when no provider has a bar there.
func (s *TieredStore) Get(ctx context.Context, symbol string, tf domain.Timeframe, ts int64) (*domain.CachedBar, error) {
	if bar, ok := s.hot.GetWinner(symbol, tf, ts); ok {
		return &bar, nil
	}

	rows, err := s.repo.GetAtTimestamp(ctx, symbol, tf, ts)
	if err != nil {
		return nil, err
	}
	winner := s.engine.Winner(rows)
	if winner != nil {
		s.hot.PutWinner(symbol, tf, *winner)
	}
	return winner, nil
}

// GetRange returns the merged view for [from, to] ascending, one bar per
// populated timestamp. When every expected grid slot is hot the cold tier
// is not touched; a grid with real holes always reads cold, since the hot
// tier cannot distinguish a hole from an eviction.
func (s *TieredStore) GetRange(ctx context.Context, symbol string, tf domain.Timeframe, from, to int64) ([]domain.CachedBar, error) {
	tfMs := tf.DurationMs()
	if tfMs == 0 {
		return nil, fmt.Errorf("unknown timeframe %q", tf)
	}

	first := tf.Truncate(from)
	if first < from {
		first += tfMs
	}

	var fromHot []domain.CachedBar
	complete := true
	for ts := first; ts <= to; ts += tfMs {
		bar, ok := s.hot.GetWinner(symbol, tf, ts)
		if !ok {
			complete = false
			break
		}
		fromHot = append(fromHot, bar)
	}
	if complete {
		return fromHot, nil
	}

	rows, err := s.repo.GetRange(ctx, symbol, tf, from, to)
	if err != nil {
		return nil, err
	}

	merged := s.mergeRows(rows)
	for _, bar := range merged {
		s.hot.PutWinner(symbol, tf, bar)
	}
	return merged, nil
}

// mergeRows folds per-provider rows, already ascending by timestamp, into
// one winner per timestamp.
func (s *TieredStore) mergeRows(rows []domain.CachedBar) []domain.CachedBar {
	var out []domain.CachedBar
	var group []domain.CachedBar
	flush := func() {
		if winner := s.engine.Winner(group); winner != nil {
			out = append(out, *winner)
		}
		group = group[:0]
	}
	for _, row := range rows {
		if len(group) > 0 && group[0].Timestamp != row.Timestamp {
			flush()
		}
		group = append(group, row)
	}
	flush()
	return out
}

// Put stores one bar. Returns the correction event when the write changed
// the merged view.
func (s *TieredStore) Put(ctx context.Context, symbol string, tf domain.Timeframe, bar domain.CachedBar) (*domain.CorrectionEvent, error) {
	events, err := s.PutMany(ctx, symbol, tf, []domain.CachedBar{bar})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// PutMany stores a batch for one series inside a single cold-tier
// transaction; nothing is visible and no events are returned unless the
// whole batch persists. Same-provider stale revisions are never written;
// cross-provider losers persist in their own revision stream without
// affecting the merged view. The hot tier is updated only after commit.
func (s *TieredStore) PutMany(ctx context.Context, symbol string, tf domain.Timeframe, bars []domain.CachedBar) ([]domain.CorrectionEvent, error) {
	if len(bars) == 0 {
		return nil, nil
	}
	if !tf.Valid() {
		return nil, fmt.Errorf("unknown timeframe %q", tf)
	}

	lock := s.seriesLock(symbol, tf)
	lock.Lock()
	defer lock.Unlock()

	var events []domain.CorrectionEvent
	var winners []domain.CachedBar
	var persisted []domain.CachedBar

	err := s.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		// Track the in-batch merged view per timestamp so later bars in
		// the same batch merge against earlier ones before commit.
		viewAt := make(map[int64]*domain.CachedBar)

		for _, bar := range bars {
			existing, ok := viewAt[bar.Timestamp]
			if !ok {
				rows, err := s.repo.GetAtTimestampTx(ctx, tx, symbol, tf, bar.Timestamp)
				if err != nil {
					return err
				}
				existing = s.engine.Winner(rows)
			}

			outcome := s.engine.Merge(symbol, tf, existing, bar)

			writeRow := true
			if existing != nil && bar.Provider == existing.Provider && bar.Revision <= existing.Revision {
				writeRow = false
			}
			if writeRow {
				wrote, err := s.repo.PutTx(ctx, tx, symbol, tf, bar)
				if err != nil {
					return err
				}
				if wrote {
					persisted = append(persisted, bar)
				}
			}

			if outcome.Event != nil {
				if err := s.repo.InsertCorrectionTx(ctx, tx, *outcome.Event); err != nil {
					return err
				}
				events = append(events, *outcome.Event)
			}

			winner := outcome.Winner
			viewAt[bar.Timestamp] = &winner
		}

		winners = make([]domain.CachedBar, 0, len(viewAt))
		for _, winner := range viewAt {
			winners = append(winners, *winner)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, bar := range persisted {
		s.hot.Put(symbol, tf, bar)
	}
	for _, winner := range winners {
		s.hot.PutWinner(symbol, tf, winner)
	}

	if len(events) > 0 {
		s.log.Debug().
			Str("symbol", symbol).
			Str("timeframe", string(tf)).
			Int("bars", len(bars)).
			Int("corrections", len(events)).
			Msg("Batch stored")
	}

	return events, nil
}

// Corrections reads the audit trail for a series window.
func (s *TieredStore) Corrections(ctx context.Context, symbol string, tf domain.Timeframe, from, to int64) ([]domain.CorrectionEvent, error) {
	return s.repo.Corrections(ctx, symbol, tf, from, to)
}
