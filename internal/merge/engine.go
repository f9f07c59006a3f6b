// Package merge decides which of two bars sharing a (symbol, timeframe,
// timestamp) key survives, and classifies the resulting correction.
package merge

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/barkeep/internal/domain"
)

// Outcome is the result of merging an incoming bar against the stored one.
// Event is non-nil only when the incoming bar won and something observable
// changed; at most one event per merge.
type Outcome struct {
	Winner  domain.CachedBar
	Changed bool
	Event   *domain.CorrectionEvent
}

// Engine ranks providers and applies the merge rules. Lower rank wins.
type Engine struct {
	priorities  map[string]int
	unknownRank int
	now         func() time.Time
	log         zerolog.Logger
}

// NewEngine creates a merge engine. providerOrder lists providers from most
// to least trusted; position is priority. Providers not listed rank after
// every configured one.
func NewEngine(providerOrder []string, log zerolog.Logger) *Engine {
	priorities := make(map[string]int, len(providerOrder))
	for i, provider := range providerOrder {
		if _, seen := priorities[provider]; !seen {
			priorities[provider] = i
		}
	}
	return &Engine{
		priorities:  priorities,
		unknownRank: len(providerOrder),
		now:         time.Now,
		log:         log.With().Str("component", "merge_engine").Logger(),
	}
}

// Priority returns a provider's rank; lower is better.
func (e *Engine) Priority(provider string) int {
	if rank, ok := e.priorities[provider]; ok {
		return rank
	}
	return e.unknownRank
}

// Merge applies the conflict rules top to bottom; the first match decides:
//
//  1. no existing bar                                  -> incoming, initial
//  2. same provider, higher incoming revision          -> incoming, revision
//  3. same provider, equal or lower incoming revision  -> existing
//  4. different provider, incoming ranks better        -> incoming, provider_override
//  5. different provider, incoming ranks worse         -> existing
//
// existing and incoming must share (symbol, timeframe, timestamp).
func (e *Engine) Merge(symbol string, tf domain.Timeframe, existing *domain.CachedBar, incoming domain.CachedBar) Outcome {
	if existing == nil {
		return e.won(symbol, tf, nil, incoming, domain.CorrectionInitial)
	}

	if incoming.Provider == existing.Provider {
		if incoming.Revision > existing.Revision {
			return e.won(symbol, tf, existing, incoming, domain.CorrectionRevision)
		}
		return Outcome{Winner: *existing}
	}

	if e.outranks(incoming.Provider, existing.Provider) {
		return e.won(symbol, tf, existing, incoming, domain.CorrectionProviderOverride)
	}
	return Outcome{Winner: *existing}
}

// Winner picks the merged view from a bag of rows sharing one (symbol,
// timeframe, timestamp): the highest revision of the best-ranked provider.
// Order of the input does not matter.
func (e *Engine) Winner(bars []domain.CachedBar) *domain.CachedBar {
	var best *domain.CachedBar
	for i := range bars {
		b := &bars[i]
		switch {
		case best == nil:
			best = b
		case b.Provider == best.Provider:
			if b.Revision > best.Revision {
				best = b
			}
		case e.outranks(b.Provider, best.Provider):
			best = b
		}
	}
	if best == nil {
		return nil
	}
	winner := *best
	return &winner
}

// outranks reports whether provider a beats provider b. Two providers
// outside the configured order share the unknown rank; their tie is broken
// by name so the merge result never depends on arrival order.
func (e *Engine) outranks(a, b string) bool {
	ra, rb := e.Priority(a), e.Priority(b)
	if ra != rb {
		return ra < rb
	}
	return a < b
}

// won builds the outcome for an incoming win. The change detector
// suppresses the event when the winning payload is indistinguishable from
// what was already stored.
func (e *Engine) won(symbol string, tf domain.Timeframe, existing *domain.CachedBar, incoming domain.CachedBar, ctype domain.CorrectionType) Outcome {
	if existing != nil && incoming.SamePayload(*existing) {
		return Outcome{Winner: incoming}
	}

	var old *domain.CachedBar
	if existing != nil {
		prev := *existing
		old = &prev
	}
	return Outcome{
		Winner:  incoming,
		Changed: true,
		Event: &domain.CorrectionEvent{
			Symbol:     symbol,
			Timeframe:  tf,
			Timestamp:  incoming.Timestamp,
			Old:        old,
			New:        incoming,
			Type:       ctype,
			DetectedAt: e.now().UnixMilli(),
		},
	}
}
