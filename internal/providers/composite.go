package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/aristath/barkeep/internal/domain"
)

// ErrNoUsableProvider is returned when every adapter was rejected or failed.
var ErrNoUsableProvider = fmt.Errorf("no provider could serve the request")

// Attempt records how one adapter fared during a composite fetch, in the
// order adapters were considered.
type Attempt struct {
	Provider string `json:"provider"`
	Rejected bool   `json:"rejected"`
	Reason   string `json:"reason,omitempty"`
}

// Result is a composite fetch outcome: the bars plus which adapter served
// them and how.
type Result struct {
	Bars            []domain.Bar
	ServedBy        string
	SourceTimeframe domain.Timeframe
	Aggregated      bool
	Attempts        []Attempt
}

// Composite wraps a priority-ordered set of adapters behind the Provider
// fetch surface. Selection is deterministic for fixed capabilities and
// priorities: rank by Capabilities().Priority, configured order breaks ties.
type Composite struct {
	adapters []Provider
	position map[string]int // configured-list position, the tie break
	breakers map[string]*gobreaker.CircuitBreaker
	log      zerolog.Logger
}

// NewComposite builds a composite over adapters in configured order. Each
// adapter gets its own circuit breaker; an open breaker removes the adapter
// from selection until its timeout elapses.
func NewComposite(adapters []Provider, log zerolog.Logger) *Composite {
	c := &Composite{
		adapters: adapters,
		position: make(map[string]int, len(adapters)),
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(adapters)),
		log:      log.With().Str("component", "composite_provider").Logger(),
	}
	for i, adapter := range adapters {
		name := adapter.Name()
		if _, seen := c.position[name]; !seen {
			c.position[name] = i
		}
		c.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     name,
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.log.Warn().
					Str("provider", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Provider circuit state changed")
			},
		})
	}
	return c
}

// Providers lists the adapter names in ranked order.
func (c *Composite) Providers() []string {
	ranked := c.ranked()
	names := make([]string, len(ranked))
	for i, adapter := range ranked {
		names[i] = adapter.Name()
	}
	return names
}

// ranked returns the adapters ordered by ascending priority, configured
// position breaking ties.
func (c *Composite) ranked() []Provider {
	out := make([]Provider, len(c.adapters))
	copy(out, c.adapters)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Capabilities().Priority, out[j].Capabilities().Priority
		if pi != pj {
			return pi < pj
		}
		return c.position[out[i].Name()] < c.position[out[j].Name()]
	})
	return out
}

// GetBars walks the ranked adapters and returns the first usable result.
// Adapters that cannot serve the timeframe (natively or by aggregating a
// finer divisor), lack the history depth, or sit behind an open breaker are
// recorded as rejected and skipped. A fetch error moves on to the next
// adapter. An InsufficientBarsError with partial bars counts as usable: the
// adapter is exhausted for the window and what it returned is authoritative.
func (c *Composite) GetBars(ctx context.Context, req BarRequest) (*Result, error) {
	if !req.Timeframe.Valid() {
		return nil, fmt.Errorf("unknown timeframe %q", req.Timeframe)
	}
	if req.From > req.To {
		return nil, fmt.Errorf("reversed range: from %d after to %d", req.From, req.To)
	}

	attempts := make([]Attempt, 0, len(c.adapters))
	var firstErr error

	for _, adapter := range c.ranked() {
		name := adapter.Name()
		caps := adapter.Capabilities()

		fetchTf := req.Timeframe
		aggregated := false
		if !caps.Supports(req.Timeframe) {
			finer, ok := caps.FinestDivisor(req.Timeframe)
			if !ok {
				attempts = append(attempts, Attempt{Provider: name, Rejected: true, Reason: "unsupported_timeframe"})
				continue
			}
			fetchTf = finer
			aggregated = true
		}

		if caps.EarliestHistoricalTimestamp > 0 && caps.EarliestHistoricalTimestamp > req.From {
			attempts = append(attempts, Attempt{Provider: name, Rejected: true, Reason: "insufficient_history"})
			continue
		}

		breaker := c.breakers[name]
		if breaker.State() == gobreaker.StateOpen {
			attempts = append(attempts, Attempt{Provider: name, Rejected: true, Reason: "circuit_open"})
			continue
		}

		fetchReq := req
		if aggregated {
			// The bucket starting at To is included in the window, so the
			// source fetch must run through that bucket's last finer slot or
			// aggregation would drop it as a partial trailing bucket.
			fetchReq.To = req.Timeframe.Truncate(req.To) + req.Timeframe.DurationMs() - fetchTf.DurationMs()
		}

		bars, err := c.fetchChunked(ctx, adapter, breaker, fetchReq, fetchTf)
		exhausted := false
		if err != nil {
			var insufficient *InsufficientBarsError
			if errors.As(err, &insufficient) && len(bars) > 0 {
				exhausted = true
			} else {
				attempts = append(attempts, Attempt{Provider: name, Rejected: false, Reason: err.Error()})
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}

		if aggregated {
			bars, err = domain.Aggregate(bars, fetchTf, req.Timeframe)
			if err != nil {
				attempts = append(attempts, Attempt{Provider: name, Rejected: false, Reason: "aggregation: " + err.Error()})
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}

		if len(bars) == 0 && !exhausted {
			attempts = append(attempts, Attempt{Provider: name, Rejected: false, Reason: "no_bars"})
			continue
		}

		attempts = append(attempts, Attempt{Provider: name})
		c.log.Debug().
			Str("provider", name).
			Str("symbol", req.Symbol).
			Str("timeframe", string(req.Timeframe)).
			Str("source_timeframe", string(fetchTf)).
			Bool("aggregated", aggregated).
			Int("bars", len(bars)).
			Msg("Composite fetch served")

		return &Result{
			Bars:            bars,
			ServedBy:        name,
			SourceTimeframe: fetchTf,
			Aggregated:      aggregated,
			Attempts:        attempts,
		}, nil
	}

	if firstErr != nil {
		return &Result{Attempts: attempts}, firstErr
	}
	return &Result{Attempts: attempts}, ErrNoUsableProvider
}

// fetchChunked issues the adapter request, splitting the window into
// contiguous chunks no larger than MaxBarsPerRequest and concatenating the
// ascending results. Each chunk runs through the adapter's breaker.
func (c *Composite) fetchChunked(ctx context.Context, adapter Provider, breaker *gobreaker.CircuitBreaker, req BarRequest, fetchTf domain.Timeframe) ([]domain.Bar, error) {
	caps := adapter.Capabilities()
	tfMs := fetchTf.DurationMs()

	from := fetchTf.Truncate(req.From)
	to := fetchTf.Truncate(req.To)
	total := int((to-from)/tfMs) + 1

	chunk := caps.MaxBarsPerRequest
	if chunk <= 0 || total <= chunk {
		return c.fetchOnce(ctx, adapter, breaker, BarRequest{
			Symbol: req.Symbol, Timeframe: fetchTf, From: from, To: to, Limit: req.Limit,
		})
	}

	var out []domain.Bar
	for chunkFrom := from; chunkFrom <= to; chunkFrom += int64(chunk) * tfMs {
		chunkTo := chunkFrom + int64(chunk-1)*tfMs
		if chunkTo > to {
			chunkTo = to
		}
		bars, err := c.fetchOnce(ctx, adapter, breaker, BarRequest{
			Symbol: req.Symbol, Timeframe: fetchTf, From: chunkFrom, To: chunkTo,
		})
		out = append(out, bars...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// fetchOnce runs a single adapter call through its circuit breaker. Only
// retryable failures (rate limits, transport) count against the breaker;
// an adapter truthfully reporting insufficient bars or an unknown symbol is
// healthy and must not be tripped out of rotation.
func (c *Composite) fetchOnce(ctx context.Context, adapter Provider, breaker *gobreaker.CircuitBreaker, req BarRequest) ([]domain.Bar, error) {
	var bars []domain.Bar
	var fetchErr error
	_, breakerErr := breaker.Execute(func() (interface{}, error) {
		bars, fetchErr = adapter.GetBars(ctx, req)
		if fetchErr != nil && !IsRetryable(fetchErr) {
			return nil, nil
		}
		return nil, fetchErr
	})
	if fetchErr != nil {
		return bars, fetchErr
	}
	if breakerErr != nil {
		return bars, breakerErr
	}
	return bars, nil
}

// GetQuote walks the ranked quote-capable adapters and returns the first
// quote. Open breakers are skipped.
func (c *Composite) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	var firstErr error
	for _, adapter := range c.ranked() {
		quoter, ok := adapter.(QuoteProvider)
		if !ok || !adapter.Capabilities().SupportsQuotes {
			continue
		}
		breaker := c.breakers[adapter.Name()]
		if breaker.State() == gobreaker.StateOpen {
			continue
		}

		result, err := breaker.Execute(func() (interface{}, error) {
			return quoter.GetQuote(ctx, symbol)
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return result.(domain.Quote), nil
	}

	if firstErr != nil {
		return domain.Quote{}, firstErr
	}
	return domain.Quote{}, ErrNoUsableProvider
}
