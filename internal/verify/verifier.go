// Package verify audits a cached series: completeness against the aligned
// grid, payload validity, freshness and provenance. The cache-verify CLI
// is a thin shell around it.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/freshness"
	"github.com/aristath/barkeep/internal/store"
)

// Status summarizes a report. Corrupt outranks degraded.
type Status string

const (
	// StatusOK means every expected slot holds a fresh, valid bar.
	StatusOK Status = "ok"
	// StatusDegraded means slots are missing or stale but nothing is invalid.
	StatusDegraded Status = "degraded"
	// StatusCorrupt means at least one stored bar fails validation.
	StatusCorrupt Status = "corrupt"
)

// ExitUnreachable is the CLI exit code for a cold store that cannot be
// opened or read. Report statuses never map onto it.
const ExitUnreachable = 2

// ExitCode maps a status onto the CLI contract: 0 clean, 1 warnings
// (missing, stale or invalid bars, or corrections on record).
func (s Status) ExitCode() int {
	if s == StatusOK {
		return 0
	}
	return 1
}

// InvalidBar records one stored bar failing validation.
type InvalidBar struct {
	Timestamp int64  `json:"timestamp"`
	Provider  string `json:"provider"`
	Reason    string `json:"reason"`
}

// Report is the audit result for one series window.
type Report struct {
	Symbol    string           `json:"symbol"`
	Timeframe domain.Timeframe `json:"timeframe"`
	From      int64            `json:"from"`
	To        int64            `json:"to"`

	ExpectedSlots int `json:"expected_slots"`
	BarCount      int `json:"bar_count"`
	MissingSlots  int `json:"missing_slots"`
	FreshBars     int `json:"fresh_bars"`
	StaleBars     int `json:"stale_bars"`

	RevisionHistogram map[int64]int  `json:"revision_histogram"`
	ProviderHistogram map[string]int `json:"provider_histogram"`
	// Corrections enumerates revisions and provider overrides on record
	// for the window, old against new. Initial inserts are not listed.
	Corrections []domain.CorrectionEvent `json:"corrections,omitempty"`
	InvalidBars []InvalidBar             `json:"invalid_bars,omitempty"`

	Status      Status `json:"status"`
	GeneratedAt int64  `json:"generated_at"`
}

// Verifier runs series audits against the tiered store.
type Verifier struct {
	store  *store.TieredStore
	policy *freshness.Policy
	now    func() time.Time
	log    zerolog.Logger
}

// New creates a verifier.
func New(st *store.TieredStore, policy *freshness.Policy, log zerolog.Logger) *Verifier {
	return &Verifier{
		store:  st,
		policy: policy,
		now:    time.Now,
		log:    log.With().Str("component", "verifier").Logger(),
	}
}

// Run audits one series window and never mutates the store.
func (v *Verifier) Run(ctx context.Context, symbol string, tf domain.Timeframe, from, to int64) (*Report, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("unknown timeframe %q", tf)
	}
	if from > to {
		return nil, fmt.Errorf("reversed range: from %d after to %d", from, to)
	}

	bars, err := v.store.GetRange(ctx, symbol, tf, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read series: %w", err)
	}
	corrections, err := v.store.Corrections(ctx, symbol, tf, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read corrections: %w", err)
	}

	now := v.now()
	report := &Report{
		Symbol:            symbol,
		Timeframe:         tf,
		From:              from,
		To:                to,
		ExpectedSlots:     expectedSlots(tf, from, to),
		BarCount:          len(bars),
		RevisionHistogram: make(map[int64]int),
		ProviderHistogram: make(map[string]int),
		GeneratedAt:       now.UnixMilli(),
	}
	for _, ev := range corrections {
		if ev.Type != domain.CorrectionInitial {
			report.Corrections = append(report.Corrections, ev)
		}
	}
	report.MissingSlots = report.ExpectedSlots - len(bars)
	if report.MissingSlots < 0 {
		report.MissingSlots = 0
	}

	for _, bar := range bars {
		report.RevisionHistogram[bar.Revision]++
		report.ProviderHistogram[bar.Provider]++

		if ok, reason := bar.Validate(tf); !ok {
			report.InvalidBars = append(report.InvalidBars, InvalidBar{
				Timestamp: bar.Timestamp,
				Provider:  bar.Provider,
				Reason:    reason,
			})
			continue
		}
		if v.policy.IsStale(bar, tf, now) {
			report.StaleBars++
		} else {
			report.FreshBars++
		}
	}

	switch {
	case len(report.InvalidBars) > 0:
		report.Status = StatusCorrupt
	case report.MissingSlots > 0 || report.StaleBars > 0 || len(report.Corrections) > 0:
		report.Status = StatusDegraded
	default:
		report.Status = StatusOK
	}

	v.log.Info().
		Str("symbol", symbol).
		Str("timeframe", string(tf)).
		Int("bars", report.BarCount).
		Int("missing", report.MissingSlots).
		Int("stale", report.StaleBars).
		Int("corrections", len(report.Corrections)).
		Int("invalid", len(report.InvalidBars)).
		Str("status", string(report.Status)).
		Msg("Series audit complete")
	return report, nil
}

// expectedSlots counts aligned bucket timestamps inside [from, to].
func expectedSlots(tf domain.Timeframe, from, to int64) int {
	tfMs := tf.DurationMs()
	if tfMs == 0 || from > to {
		return 0
	}
	first := tf.Truncate(from)
	if first < from {
		first += tfMs
	}
	if first > to {
		return 0
	}
	return int((to-first)/tfMs) + 1
}
