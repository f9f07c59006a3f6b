// Package providers defines the narrow adapter contract every market data
// backend implements, and the composite that selects among them.
package providers

import (
	"context"

	"github.com/aristath/barkeep/internal/domain"
)

// RateLimit describes a provider's advertised request budget.
type RateLimit struct {
	RequestsPerMinute int
	BurstSize         int
}

// Capabilities describes what an adapter can answer. Priority orders
// adapters within the composite; lower is preferred.
type Capabilities struct {
	SupportedTimeframes         []domain.Timeframe
	MaxBarsPerRequest           int
	RequiresAuth                bool
	RateLimit                   RateLimit
	SupportsExtendedHours       bool
	SupportsQuotes              bool
	EarliestHistoricalTimestamp int64 // 0 = unbounded history
	Priority                    int
}

// Supports reports whether the adapter serves the timeframe natively.
func (c Capabilities) Supports(tf domain.Timeframe) bool {
	for _, s := range c.SupportedTimeframes {
		if s == tf {
			return true
		}
	}
	return false
}

// FinestDivisor returns the largest supported timeframe that evenly divides
// target and is strictly finer than it. Used when the adapter cannot serve
// the target natively but its bars can be aggregated up.
func (c Capabilities) FinestDivisor(target domain.Timeframe) (domain.Timeframe, bool) {
	targetMs := target.DurationMs()
	var best domain.Timeframe
	var bestMs int64
	for _, s := range c.SupportedTimeframes {
		ms := s.DurationMs()
		if ms == 0 || ms >= targetMs || targetMs%ms != 0 {
			continue
		}
		if ms > bestMs {
			best, bestMs = s, ms
		}
	}
	return best, bestMs > 0
}

// BarRequest asks for bars on the aligned grid within [From, To], both
// bounds inclusive, in UTC milliseconds.
type BarRequest struct {
	Symbol    string
	Timeframe domain.Timeframe
	From      int64
	To        int64
	Limit     int // optional cap on returned bars; 0 = no cap
}

// Provider is the adapter contract. Implementations are stateless with
// respect to the core: no caching, no shared mutable state. Bars come back
// ascending by timestamp and OHLC-valid.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	GetBars(ctx context.Context, req BarRequest) ([]domain.Bar, error)
}

// QuoteProvider is implemented by adapters that can serve point-in-time
// quotes in addition to history.
type QuoteProvider interface {
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
}
