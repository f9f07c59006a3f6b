// Package domain holds the shared market data types: timeframes, bars and
// the corrections that describe how cached bars change over time.
package domain

import (
	"fmt"
	"time"
)

// Timeframe identifies a fixed bar duration. The set is closed; anything
// outside it is rejected at the API boundary.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe10m Timeframe = "10m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe2h  Timeframe = "2h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1D  Timeframe = "1D"
)

// timeframeDurations maps each timeframe to its duration in milliseconds.
var timeframeDurations = map[Timeframe]int64{
	Timeframe1m:  60_000,
	Timeframe5m:  300_000,
	Timeframe10m: 600_000,
	Timeframe15m: 900_000,
	Timeframe30m: 1_800_000,
	Timeframe1h:  3_600_000,
	Timeframe2h:  7_200_000,
	Timeframe4h:  14_400_000,
	Timeframe1D:  86_400_000,
}

// orderedTimeframes lists all timeframes ascending by duration.
var orderedTimeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe10m, Timeframe15m,
	Timeframe30m, Timeframe1h, Timeframe2h, Timeframe4h, Timeframe1D,
}

// ParseTimeframe converts a string into a known Timeframe.
// "1d" is accepted as an alias for "1D"; everything else must match exactly.
func ParseTimeframe(s string) (Timeframe, error) {
	if s == "1d" {
		return Timeframe1D, nil
	}
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Valid reports whether the timeframe belongs to the supported set.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// DurationMs returns the timeframe duration in milliseconds, or 0 for an
// unknown timeframe.
func (tf Timeframe) DurationMs() int64 {
	return timeframeDurations[tf]
}

// Duration returns the timeframe as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.DurationMs()) * time.Millisecond
}

// Truncate aligns a millisecond timestamp down to the start of its bucket.
func (tf Timeframe) Truncate(ts int64) int64 {
	ms := tf.DurationMs()
	if ms == 0 {
		return ts
	}
	return ts - ts%ms
}

// Timeframes returns the supported timeframes ascending by duration.
func Timeframes() []Timeframe {
	out := make([]Timeframe, len(orderedTimeframes))
	copy(out, orderedTimeframes)
	return out
}

// Aggregate folds bars of a finer source timeframe into the target timeframe.
// Input must be sorted ascending by timestamp and the source duration must
// evenly divide the target. Buckets are keyed by floor(ts/targetMs)*targetMs
// with open = first open, close = last close, high = max, low = min and
// volume summed. A partial trailing bucket is dropped so callers never see a
// half-built bar for the newest window.
func Aggregate(bars []Bar, source, target Timeframe) ([]Bar, error) {
	if !source.Valid() {
		return nil, fmt.Errorf("unknown source timeframe %q", source)
	}
	if !target.Valid() {
		return nil, fmt.Errorf("unknown target timeframe %q", target)
	}
	sourceMs := source.DurationMs()
	targetMs := target.DurationMs()
	if targetMs%sourceMs != 0 {
		return nil, fmt.Errorf("source %s does not evenly divide target %s", source, target)
	}
	if len(bars) == 0 {
		return []Bar{}, nil
	}

	perBucket := int(targetMs / sourceMs)
	out := make([]Bar, 0, len(bars)/perBucket+1)

	var current Bar
	currentBucket := int64(-1)
	count := 0
	prevTs := int64(-1)

	for _, b := range bars {
		if b.Timestamp <= prevTs {
			return nil, fmt.Errorf("bars not sorted ascending at timestamp %d", b.Timestamp)
		}
		prevTs = b.Timestamp

		bucket := target.Truncate(b.Timestamp)
		if bucket != currentBucket {
			if currentBucket >= 0 {
				out = append(out, current)
			}
			currentBucket = bucket
			current = Bar{
				Timestamp: bucket,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
			}
			count = 1
			continue
		}

		if b.High > current.High {
			current.High = b.High
		}
		if b.Low < current.Low {
			current.Low = b.Low
		}
		current.Close = b.Close
		current.Volume += b.Volume
		count++
	}

	// The trailing bucket only counts when fully covered.
	if count == perBucket {
		out = append(out, current)
	}

	return out, nil
}
