// Package cache is the read-through entry point consumers use: queries
// are answered from the two-tier store, refreshed through the composite
// provider where stale or missing, merged deterministically and published
// as correction events.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/events"
	"github.com/aristath/barkeep/internal/freshness"
	"github.com/aristath/barkeep/internal/providers"
	"github.com/aristath/barkeep/internal/store"
	"github.com/aristath/barkeep/internal/symbols"
)

// Input errors, rejected synchronously before any I/O.
var (
	ErrUnknownTimeframe = errors.New("unknown timeframe")
	ErrReversedRange    = errors.New("reversed range")
)

// RetryConfig bounds provider retries on the refresh path.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetry is used when no retry config is given.
var DefaultRetry = RetryConfig{
	Attempts:  3,
	BaseDelay: 500 * time.Millisecond,
	MaxDelay:  8 * time.Second,
}

// QueryOptions tune one query.
type QueryOptions struct {
	// ResolveContinuous maps a continuous root (ES) onto its front-month
	// contract (ESH25) before hitting the cache.
	ResolveContinuous bool
}

// QueryResult is what a query returns: the merged bars plus whether some
// sub-range could not be refreshed.
type QueryResult struct {
	Bars    []domain.CachedBar
	Partial bool
	Reason  string
}

// Deps wires the service's collaborators.
type Deps struct {
	Store      *store.TieredStore
	Composite  *providers.Composite
	Policy     *freshness.Policy
	Normalizer *symbols.Normalizer
	Resolver   *symbols.Resolver // optional; nil disables continuous resolution
	Bus        *events.Bus
	Retry      RetryConfig // zero value selects DefaultRetry
}

// Service is the cache service. Safe for concurrent use; overlapping
// refreshes of one sub-range coalesce into a single provider call.
type Service struct {
	store      *store.TieredStore
	composite  *providers.Composite
	policy     *freshness.Policy
	normalizer *symbols.Normalizer
	resolver   *symbols.Resolver
	bus        *events.Bus
	emitter    *events.Manager
	retry      RetryConfig
	flight     singleflight.Group
	now        func() time.Time
	log        zerolog.Logger
}

// NewService builds the cache service.
func NewService(deps Deps, log zerolog.Logger) *Service {
	retry := deps.Retry
	if retry.Attempts <= 0 {
		retry = DefaultRetry
	}
	return &Service{
		store:      deps.Store,
		composite:  deps.Composite,
		policy:     deps.Policy,
		normalizer: deps.Normalizer,
		resolver:   deps.Resolver,
		bus:        deps.Bus,
		emitter:    events.NewManager(deps.Bus, log),
		retry:      retry,
		now:        time.Now,
		log:        log.With().Str("service", "cache").Logger(),
	}
}

// resolveSymbol normalizes the raw symbol and optionally maps a continuous
// root onto its front-month contract.
func (s *Service) resolveSymbol(raw string, opts QueryOptions) (string, error) {
	norm, err := s.normalizer.Normalize(raw)
	if err != nil {
		return "", err
	}
	if norm.IsContinuous && opts.ResolveContinuous && s.resolver != nil {
		contract, err := s.resolver.FrontMonth(norm.Root, s.now(), nil)
		if err != nil {
			return "", fmt.Errorf("failed to resolve continuous root %s: %w", norm.Root, err)
		}
		return contract, nil
	}
	return norm.Symbol, nil
}

// Query answers {symbol, timeframe, [from, to]}: it reads the store,
// refreshes stale and missing grid slots through the composite provider,
// merges the results, publishes corrections and returns the merged range.
// Provider failures after bounded retries degrade to a partial result;
// store write failures fail the query.
func (s *Service) Query(ctx context.Context, symbol string, tf domain.Timeframe, from, to int64, opts QueryOptions) (QueryResult, error) {
	if !tf.Valid() {
		return QueryResult{}, fmt.Errorf("%w: %q", ErrUnknownTimeframe, tf)
	}
	if from > to {
		return QueryResult{}, fmt.Errorf("%w: from %d after to %d", ErrReversedRange, from, to)
	}
	resolved, err := s.resolveSymbol(symbol, opts)
	if err != nil {
		return QueryResult{}, err
	}

	expected := grid(tf, from, to)
	if len(expected) == 0 {
		return QueryResult{}, nil
	}

	stored, err := s.store.GetRange(ctx, resolved, tf, from, to)
	if err != nil {
		return QueryResult{}, fmt.Errorf("failed to read store: %w", err)
	}

	targets := refreshTargets(expected, stored, s.policy, tf, s.now())
	ranges := coalesce(targets, tf.DurationMs())

	result := QueryResult{}
	for _, r := range ranges {
		if err := s.refreshShared(ctx, resolved, tf, r); err != nil {
			if isStoreFailure(err) {
				return QueryResult{}, err
			}
			result.Partial = true
			if result.Reason == "" {
				result.Reason = err.Error()
			}
			s.log.Warn().
				Err(err).
				Str("symbol", resolved).
				Str("timeframe", string(tf)).
				Int64("from", r.From).
				Int64("to", r.To).
				Msg("Refresh failed, serving cached bars")
		}
	}

	bars, err := s.store.GetRange(ctx, resolved, tf, from, to)
	if err != nil {
		return QueryResult{}, fmt.Errorf("failed to re-read store: %w", err)
	}
	result.Bars = bars
	return result, nil
}

// storeFailure marks errors on the persist path so Query can tell them
// apart from provider trouble.
type storeFailure struct{ err error }

func (e *storeFailure) Error() string { return e.err.Error() }
func (e *storeFailure) Unwrap() error { return e.err }

func isStoreFailure(err error) bool {
	var sf *storeFailure
	return errors.As(err, &sf)
}

// refreshShared coalesces concurrent refreshes of one sub-range: the first
// caller does the work, later ones wait on the same result. Events fire
// once, inside the winning flight.
func (s *Service) refreshShared(ctx context.Context, symbol string, tf domain.Timeframe, r subRange) error {
	key := fmt.Sprintf("%s|%s|%d|%d", symbol, tf, r.From, r.To)
	_, err, _ := s.flight.Do(key, func() (interface{}, error) {
		return nil, s.refresh(ctx, symbol, tf, r)
	})
	return err
}

// refresh fetches one sub-range from the composite, stamps provenance,
// merges into the store and publishes the corrections.
func (s *Service) refresh(ctx context.Context, symbol string, tf domain.Timeframe, r subRange) error {
	result, err := s.fetchWithRetry(ctx, providers.BarRequest{
		Symbol:    symbol,
		Timeframe: tf,
		From:      r.From,
		To:        r.To,
	})
	if err != nil {
		return err
	}

	incoming, err := s.stampRevisions(ctx, symbol, tf, result.Bars, result.ServedBy, r)
	if err != nil {
		return &storeFailure{err: err}
	}
	if len(incoming) == 0 {
		return nil
	}

	corrections, err := s.store.PutMany(ctx, symbol, tf, incoming)
	if err != nil {
		return &storeFailure{err: fmt.Errorf("failed to persist refresh: %w", err)}
	}

	s.publish(corrections)
	return nil
}

// fetchWithRetry calls the composite with bounded exponential backoff,
// honoring a provider's retry-after hint when it is longer.
func (s *Service) fetchWithRetry(ctx context.Context, req providers.BarRequest) (*providers.Result, error) {
	delay := s.retry.BaseDelay
	var lastErr error
	for attempt := 0; attempt < s.retry.Attempts; attempt++ {
		result, err := s.composite.GetBars(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !providers.IsRetryable(err) {
			return nil, err
		}
		if attempt == s.retry.Attempts-1 {
			break
		}

		wait := delay
		if hint := providers.RetryAfter(err); hint > wait {
			wait = hint
		}
		if wait > s.retry.MaxDelay {
			wait = s.retry.MaxDelay
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
	return nil, lastErr
}

// stampRevisions turns provider bars into cached bars: corrupt bars are
// dropped with a structured warning, the rest get the serving provider,
// a revision relative to that provider's stored stream (unchanged payload
// keeps its revision, a changed one increments it) and the observation
// time.
func (s *Service) stampRevisions(ctx context.Context, symbol string, tf domain.Timeframe, bars []domain.Bar, provider string, r subRange) ([]domain.CachedBar, error) {
	if len(bars) == 0 {
		return nil, nil
	}

	previous, err := s.store.Repository().GetProviderRange(ctx, symbol, tf, provider, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider stream: %w", err)
	}
	byTs := make(map[int64]domain.CachedBar, len(previous))
	for _, bar := range previous {
		byTs[bar.Timestamp] = bar
	}

	nowMs := s.now().UnixMilli()
	out := make([]domain.CachedBar, 0, len(bars))
	for _, bar := range bars {
		if ok, reason := bar.Validate(tf); !ok {
			s.log.Warn().
				Str("symbol", symbol).
				Str("timeframe", string(tf)).
				Str("provider", provider).
				Int64("timestamp", bar.Timestamp).
				Str("reason", reason).
				Msg("Dropping corrupt bar")
			continue
		}

		revision := int64(1)
		if prev, ok := byTs[bar.Timestamp]; ok {
			if prev.Bar.Equals(bar) {
				revision = prev.Revision
			} else {
				revision = prev.Revision + 1
			}
		}
		out = append(out, domain.CachedBar{
			Bar:       bar,
			Provider:  provider,
			Revision:  revision,
			FetchedAt: nowMs,
		})
	}
	return out, nil
}

// Upsert merges externally supplied bars (live stream, manual corrections)
// into the store and publishes the resulting correction events. Corrupt
// bars are dropped with a structured warning.
func (s *Service) Upsert(ctx context.Context, symbol string, tf domain.Timeframe, bars []domain.CachedBar) ([]domain.CorrectionEvent, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimeframe, tf)
	}
	norm, err := s.normalizer.Normalize(symbol)
	if err != nil {
		return nil, err
	}

	valid := make([]domain.CachedBar, 0, len(bars))
	for _, bar := range bars {
		if ok, reason := bar.Validate(tf); !ok {
			s.log.Warn().
				Str("symbol", norm.Symbol).
				Str("timeframe", string(tf)).
				Str("provider", bar.Provider).
				Int64("timestamp", bar.Timestamp).
				Str("reason", reason).
				Msg("Dropping corrupt bar")
			continue
		}
		valid = append(valid, bar)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	corrections, err := s.store.PutMany(ctx, norm.Symbol, tf, valid)
	if err != nil {
		return nil, err
	}
	s.publish(corrections)
	return corrections, nil
}

// UpsertBars merges raw provider bars (live stream ticks, backfills) into
// the store, stamping provenance and revisions against that provider's
// stored stream the same way a refresh does.
func (s *Service) UpsertBars(ctx context.Context, symbol string, tf domain.Timeframe, provider string, bars []domain.Bar) ([]domain.CorrectionEvent, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimeframe, tf)
	}
	norm, err := s.normalizer.Normalize(symbol)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}

	window := subRange{From: bars[0].Timestamp, To: bars[0].Timestamp}
	for _, bar := range bars[1:] {
		if bar.Timestamp < window.From {
			window.From = bar.Timestamp
		}
		if bar.Timestamp > window.To {
			window.To = bar.Timestamp
		}
	}

	incoming, err := s.stampRevisions(ctx, norm.Symbol, tf, bars, provider, window)
	if err != nil {
		return nil, err
	}
	if len(incoming) == 0 {
		return nil, nil
	}

	corrections, err := s.store.PutMany(ctx, norm.Symbol, tf, incoming)
	if err != nil {
		return nil, err
	}
	s.publish(corrections)
	return corrections, nil
}

// publish fans correction events out on the bus, one event per real
// change, in write order.
func (s *Service) publish(corrections []domain.CorrectionEvent) {
	for i := range corrections {
		s.emitter.EmitTyped(events.CorrectionDetected, "cache", &events.CorrectionData{
			Correction: &corrections[i],
		})
	}
}

// Subscribe registers a correction listener and returns its unsubscribe
// handle. Listeners run synchronously on the write path and must not
// block.
func (s *Service) Subscribe(listener func(*domain.CorrectionEvent)) func() {
	return s.bus.Subscribe(events.CorrectionDetected, func(event *events.Event) {
		if data, ok := event.GetTypedData().(*events.CorrectionData); ok && data.Correction != nil {
			listener(data.Correction)
		}
	})
}

// GetQuote returns a point-in-time quote from the best quote-capable
// provider, or nil when none can serve the symbol.
func (s *Service) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	norm, err := s.normalizer.Normalize(symbol)
	if err != nil {
		return nil, err
	}
	quote, err := s.composite.GetQuote(ctx, norm.Symbol)
	if err != nil {
		if errors.Is(err, providers.ErrNoUsableProvider) {
			return nil, nil
		}
		return nil, err
	}
	return &quote, nil
}
