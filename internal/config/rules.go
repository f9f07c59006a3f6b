package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/symbols"
)

// Rules is the operator-editable YAML policy file. It carries everything
// that is data rather than deployment wiring: provider precedence,
// freshness overrides, futures symbology, and the refresh watchlist.
type Rules struct {
	ProviderPriority []string                        `yaml:"providerPriority"`
	Freshness        map[string]string               `yaml:"freshnessPolicies"`
	FuturesRoots     []string                        `yaml:"futuresRoots"`
	Rollover         map[string]symbols.RolloverRule `yaml:"rolloverRules"`
	Watchlist        []WatchlistEntry                `yaml:"watchlist"`
}

// WatchlistEntry names a symbol and the timeframes the scheduler keeps warm.
type WatchlistEntry struct {
	Symbol     string   `yaml:"symbol"`
	Timeframes []string `yaml:"timeframes"`
}

// DefaultRules returns the rules used when no rules file is configured.
func DefaultRules() *Rules {
	return &Rules{
		ProviderPriority: []string{"polygon", "yahoo", "alphavantage"},
	}
}

// LoadRules reads and validates a YAML rules file. An empty path returns
// the defaults; a configured path that cannot be read is an error.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	rules := DefaultRules()
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return rules, nil
}

// Validate rejects rules that would misconfigure the cache at startup
// rather than failing on the first query.
func (r *Rules) Validate() error {
	if len(r.ProviderPriority) == 0 {
		return fmt.Errorf("providerPriority must name at least one provider")
	}
	seen := make(map[string]struct{}, len(r.ProviderPriority))
	for _, p := range r.ProviderPriority {
		if p == "" {
			return fmt.Errorf("providerPriority contains an empty entry")
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("providerPriority lists %q twice", p)
		}
		seen[p] = struct{}{}
	}

	for tf, ttl := range r.Freshness {
		if _, err := domain.ParseTimeframe(tf); err != nil {
			return fmt.Errorf("freshnessPolicies references unknown timeframe %q", tf)
		}
		if _, err := time.ParseDuration(ttl); err != nil {
			return fmt.Errorf("freshnessPolicies TTL for %s: %w", tf, err)
		}
	}

	for _, entry := range r.Watchlist {
		if entry.Symbol == "" {
			return fmt.Errorf("watchlist entry is missing a symbol")
		}
		if len(entry.Timeframes) == 0 {
			return fmt.Errorf("watchlist entry %s names no timeframes", entry.Symbol)
		}
		for _, tf := range entry.Timeframes {
			if _, err := domain.ParseTimeframe(tf); err != nil {
				return fmt.Errorf("watchlist entry %s references unknown timeframe %q", entry.Symbol, tf)
			}
		}
	}
	return nil
}

// FreshnessTTLs converts the string-keyed freshness section into the
// override map the freshness policy consumes. Validate must have passed.
func (r *Rules) FreshnessTTLs() map[domain.Timeframe]time.Duration {
	if len(r.Freshness) == 0 {
		return nil
	}
	ttls := make(map[domain.Timeframe]time.Duration, len(r.Freshness))
	for raw, spec := range r.Freshness {
		tf, err := domain.ParseTimeframe(raw)
		if err != nil {
			continue
		}
		ttl, err := time.ParseDuration(spec)
		if err != nil {
			continue
		}
		ttls[tf] = ttl
	}
	return ttls
}
