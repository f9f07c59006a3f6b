// Package freshness decides when cached bars need refetching. Staleness is
// a pure predicate over a bar's fetch time; the policy performs no I/O.
package freshness

import (
	"time"

	"github.com/aristath/barkeep/internal/domain"
)

// FinalizedAfter is the age beyond which a bar is treated as historical
// fact and never refetched.
const FinalizedAfter = 7 * 24 * time.Hour

// DefaultTTL applies to timeframes without an explicit entry.
const DefaultTTL = 10 * time.Minute

// DefaultTTLs returns the built-in per-timeframe TTL table.
func DefaultTTLs() map[domain.Timeframe]time.Duration {
	return map[domain.Timeframe]time.Duration{
		domain.Timeframe1m:  5 * time.Minute,
		domain.Timeframe5m:  15 * time.Minute,
		domain.Timeframe10m: 20 * time.Minute,
		domain.Timeframe15m: 30 * time.Minute,
		domain.Timeframe30m: 60 * time.Minute,
		domain.Timeframe1h:  2 * time.Hour,
		domain.Timeframe2h:  4 * time.Hour,
		domain.Timeframe4h:  6 * time.Hour,
		domain.Timeframe1D:  24 * time.Hour,
	}
}

// Policy maps timeframes to TTLs and answers staleness queries.
type Policy struct {
	ttls map[domain.Timeframe]time.Duration
}

// NewPolicy builds a policy from the defaults with per-timeframe overrides
// merged on top. Overrides with non-positive durations are ignored.
func NewPolicy(overrides map[domain.Timeframe]time.Duration) *Policy {
	ttls := DefaultTTLs()
	for tf, ttl := range overrides {
		if ttl > 0 {
			ttls[tf] = ttl
		}
	}
	return &Policy{ttls: ttls}
}

// TTL returns the refetch interval for a timeframe.
func (p *Policy) TTL(tf domain.Timeframe) time.Duration {
	if ttl, ok := p.ttls[tf]; ok {
		return ttl
	}
	return DefaultTTL
}

// IsStale reports whether a cached bar needs refetching at the given time.
// Bars older than FinalizedAfter are historical and always fresh; younger
// bars go stale once their fetch time exceeds the timeframe's TTL.
func (p *Policy) IsStale(bar domain.CachedBar, tf domain.Timeframe, now time.Time) bool {
	nowMs := now.UnixMilli()
	if nowMs-bar.Timestamp > FinalizedAfter.Milliseconds() {
		return false
	}
	return nowMs-bar.FetchedAt > p.TTL(tf).Milliseconds()
}
