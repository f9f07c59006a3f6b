// Package store is the two-tier bar store: a size-bounded in-memory hot
// tier over a durable cold repository, with merge semantics applied on the
// write path.
package store

import (
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aristath/barkeep/internal/domain"
)

// DefaultHotCapacity bounds the hot tier when no capacity is configured.
const DefaultHotCapacity = 10_000

// winnerProvider tags hot entries that hold the merged view for a
// timestamp rather than one provider's revision stream.
const winnerProvider = "*"

// Hot is the LRU tier. Entries are keyed by (symbol, timeframe, timestamp,
// provider); the merged view per timestamp lives under the winner tag.
type Hot struct {
	cache *lru.Cache[string, domain.CachedBar]
}

// NewHot creates the hot tier with the given entry cap.
func NewHot(capacity int) (*Hot, error) {
	if capacity <= 0 {
		capacity = DefaultHotCapacity
	}
	cache, err := lru.New[string, domain.CachedBar](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create hot tier: %w", err)
	}
	return &Hot{cache: cache}, nil
}

func hotKey(symbol string, tf domain.Timeframe, ts int64, provider string) string {
	var b strings.Builder
	b.WriteString(symbol)
	b.WriteByte('|')
	b.WriteString(string(tf))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(ts, 10))
	b.WriteByte('|')
	b.WriteString(provider)
	return b.String()
}

// Get returns one provider's cached revision stream head.
func (h *Hot) Get(symbol string, tf domain.Timeframe, ts int64, provider string) (domain.CachedBar, bool) {
	return h.cache.Get(hotKey(symbol, tf, ts, provider))
}

// Put stores one provider's bar.
func (h *Hot) Put(symbol string, tf domain.Timeframe, bar domain.CachedBar) {
	h.cache.Add(hotKey(symbol, tf, bar.Timestamp, bar.Provider), bar)
}

// GetWinner returns the merged view for a timestamp, if cached.
func (h *Hot) GetWinner(symbol string, tf domain.Timeframe, ts int64) (domain.CachedBar, bool) {
	return h.cache.Get(hotKey(symbol, tf, ts, winnerProvider))
}

// PutWinner caches the merged view for a timestamp.
func (h *Hot) PutWinner(symbol string, tf domain.Timeframe, bar domain.CachedBar) {
	h.cache.Add(hotKey(symbol, tf, bar.Timestamp, winnerProvider), bar)
}

// Len returns the number of live entries.
func (h *Hot) Len() int {
	return h.cache.Len()
}

// Purge drops every entry. Used by Restore so stale winners cannot shadow
// restored rows.
func (h *Hot) Purge() {
	h.cache.Purge()
}
