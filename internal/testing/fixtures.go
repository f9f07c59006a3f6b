package testing

import (
	"github.com/aristath/barkeep/internal/domain"
)

// BarAt returns a valid bar at the given timestamp with a close-derived
// OHLC shape, suitable as a generic series element in tests.
func BarAt(ts int64, close float64) domain.Bar {
	return domain.Bar{
		Timestamp: ts,
		Open:      close - 1,
		High:      close + 1,
		Low:       close - 2,
		Close:     close,
		Volume:    100,
	}
}

// CachedBarAt wraps BarAt with provider provenance and a revision.
func CachedBarAt(ts int64, provider string, revision int64, close float64) domain.CachedBar {
	return domain.CachedBar{
		Bar:       BarAt(ts, close),
		Provider:  provider,
		Revision:  revision,
		FetchedAt: ts,
	}
}

// SeriesBars builds count consecutive bars starting at from, spaced by the
// timeframe's duration, with closes walking up from 100.
func SeriesBars(tf domain.Timeframe, from int64, count int) []domain.Bar {
	step := tf.DurationMs()
	bars := make([]domain.Bar, 0, count)
	for i := 0; i < count; i++ {
		bars = append(bars, BarAt(from+int64(i)*step, 100+float64(i)))
	}
	return bars
}
