package symbols

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RolloverType selects how the front-month contract is chosen.
type RolloverType string

const (
	// RolloverVolumeThreshold rolls when the next contract's volume
	// reaches a multiple of the front contract's volume.
	RolloverVolumeThreshold RolloverType = "volume-threshold"
	// RolloverDaysBeforeExpiry rolls a fixed number of days before expiry.
	RolloverDaysBeforeExpiry RolloverType = "days-before-expiry"
)

// ExpiryAnchor names how a contract's expiry date is derived.
type ExpiryAnchor string

const (
	ExpiryThirdFriday                ExpiryAnchor = "third-friday"
	ExpiryWednesdayBeforeThirdFriday ExpiryAnchor = "wednesday-before-third-friday"
	ExpiryExplicitDay                ExpiryAnchor = "explicit-day"
)

// defaultRollDays is used when a volume-threshold rule has no volume data
// and no explicit day count configured.
const defaultRollDays = 5

// RolloverRule describes when a continuous root rolls to the next contract.
type RolloverRule struct {
	Type             RolloverType `yaml:"type"`
	Threshold        float64      `yaml:"threshold"`
	DaysBeforeExpiry int          `yaml:"daysBeforeExpiry"`
	Expiry           ExpiryAnchor `yaml:"expiry"`
	ExplicitDay      int          `yaml:"explicitDay"`
}

// Resolver maps continuous futures roots to front-month contract codes.
type Resolver struct {
	rules map[string]RolloverRule
	log   zerolog.Logger
}

// NewResolver creates a resolver from a per-root rule table.
func NewResolver(rules map[string]RolloverRule, log zerolog.Logger) *Resolver {
	normalized := make(map[string]RolloverRule, len(rules))
	for root, rule := range rules {
		normalized[strings.ToUpper(root)] = rule
	}
	return &Resolver{
		rules: normalized,
		log:   log.With().Str("component", "rollover_resolver").Logger(),
	}
}

// Roots returns the roots the resolver has rules for.
func (r *Resolver) Roots() []string {
	roots := make([]string, 0, len(r.rules))
	for root := range r.rules {
		roots = append(roots, root)
	}
	return roots
}

// FrontMonth selects the front-month contract for a continuous root at the
// given time. volumes maps contract codes to traded volume; it may be nil,
// in which case volume-threshold rules fall back to days-before-expiry.
func (r *Resolver) FrontMonth(root string, asOf time.Time, volumes map[string]float64) (string, error) {
	root = strings.ToUpper(root)
	rule, ok := r.rules[root]
	if !ok {
		return "", fmt.Errorf("no rollover rule for root %s", root)
	}

	front, next, frontExpiry := r.frontAndNext(root, rule, asOf.UTC())

	switch rule.Type {
	case RolloverVolumeThreshold:
		frontVol, haveFront := volumes[front]
		nextVol, haveNext := volumes[next]
		if haveFront && haveNext && frontVol > 0 {
			threshold := rule.Threshold
			if threshold <= 0 {
				threshold = 1.0
			}
			if nextVol >= frontVol*threshold {
				r.log.Debug().
					Str("root", root).
					Str("from", front).
					Str("to", next).
					Float64("front_volume", frontVol).
					Float64("next_volume", nextVol).
					Msg("Rolled on volume threshold")
				return next, nil
			}
			return front, nil
		}
		// No usable volume data: fall back to the day-count rule.
		fallthrough

	case RolloverDaysBeforeExpiry:
		days := rule.DaysBeforeExpiry
		if days <= 0 {
			days = defaultRollDays
		}
		rollAt := frontExpiry.AddDate(0, 0, -days)
		if !asOf.Before(rollAt) {
			return next, nil
		}
		return front, nil

	default:
		return "", fmt.Errorf("unknown rollover type %q for root %s", rule.Type, root)
	}
}

// frontAndNext finds the nearest quarterly contract whose expiry is after
// asOf, plus the one following it.
func (r *Resolver) frontAndNext(root string, rule RolloverRule, asOf time.Time) (front, next string, frontExpiry time.Time) {
	year := asOf.Year()
	// Walk up to two years of quarterly contracts; the front month is the
	// first whose expiry has not passed.
	for y := year; y <= year+2; y++ {
		for i, code := range quarterlyCycle {
			expiry := expiryDate(rule, y, monthCodes[code])
			if expiry.After(asOf) {
				front = contractCode(root, code, y)
				if i+1 < len(quarterlyCycle) {
					next = contractCode(root, quarterlyCycle[i+1], y)
				} else {
					next = contractCode(root, quarterlyCycle[0], y+1)
				}
				return front, next, expiry
			}
		}
	}
	// Unreachable for sane clocks; return the first contract of year+2.
	front = contractCode(root, quarterlyCycle[0], year+2)
	next = contractCode(root, quarterlyCycle[1], year+2)
	return front, next, expiryDate(rule, year+2, monthCodes[quarterlyCycle[0]])
}

// contractCode formats a contract symbol such as ESH25.
func contractCode(root string, month byte, year int) string {
	return fmt.Sprintf("%s%c%02d", root, month, year%100)
}

// expiryDate computes the expiry day (00:00 UTC) for a contract month.
func expiryDate(rule RolloverRule, year, month int) time.Time {
	switch rule.Expiry {
	case ExpiryWednesdayBeforeThirdFriday:
		return thirdFriday(year, month).AddDate(0, 0, -2)
	case ExpiryExplicitDay:
		day := rule.ExplicitDay
		if day < 1 {
			day = 1
		}
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	default:
		// Third Friday is the standard index futures expiry.
		return thirdFriday(year, month)
	}
}

// thirdFriday returns the third Friday of the month at 00:00 UTC.
func thirdFriday(year, month int) time.Time {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+14)
}
