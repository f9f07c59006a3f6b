package cache

import (
	"time"

	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/freshness"
)

// subRange is a contiguous run of grid timestamps needing a refresh,
// bounds inclusive.
type subRange struct {
	From int64
	To   int64
}

// grid returns the aligned bucket timestamps within [from, to].
func grid(tf domain.Timeframe, from, to int64) []int64 {
	tfMs := tf.DurationMs()
	if tfMs == 0 || from > to {
		return nil
	}
	first := tf.Truncate(from)
	if first < from {
		first += tfMs
	}
	var out []int64
	for ts := first; ts <= to; ts += tfMs {
		out = append(out, ts)
	}
	return out
}

// refreshTargets classifies each expected timestamp against what the store
// returned: missing and present-but-stale slots need a provider refresh,
// present-and-fresh ones do not.
func refreshTargets(expected []int64, stored []domain.CachedBar, policy *freshness.Policy, tf domain.Timeframe, now time.Time) []int64 {
	byTs := make(map[int64]domain.CachedBar, len(stored))
	for _, bar := range stored {
		byTs[bar.Timestamp] = bar
	}

	var out []int64
	for _, ts := range expected {
		bar, ok := byTs[ts]
		if !ok || policy.IsStale(bar, tf, now) {
			out = append(out, ts)
		}
	}
	return out
}

// coalesce folds ascending timestamps into the smallest set of contiguous
// sub-ranges on the timeframe grid.
func coalesce(timestamps []int64, tfMs int64) []subRange {
	if len(timestamps) == 0 {
		return nil
	}
	out := []subRange{{From: timestamps[0], To: timestamps[0]}}
	for _, ts := range timestamps[1:] {
		last := &out[len(out)-1]
		if ts == last.To+tfMs {
			last.To = ts
			continue
		}
		out = append(out, subRange{From: ts, To: ts})
	}
	return out
}
