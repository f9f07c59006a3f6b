// Package symbols normalizes vendor symbol formats into canonical symbols
// and resolves continuous futures roots to specific contract codes.
package symbols

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrEmptySymbol is returned when normalization receives empty input.
var ErrEmptySymbol = errors.New("empty symbol")

// contractPattern matches CME-style contract codes: a 1-3 letter root,
// a month code and a 2- or 4-digit year (ESH25, NQZ2025).
var contractPattern = regexp.MustCompile(`^([A-Z]{1,3})([FGHJKMNQUVXZ])(\d{2}|\d{4})$`)

// monthCodes maps CME month letters to calendar months.
var monthCodes = map[byte]int{
	'F': 1, 'G': 2, 'H': 3, 'J': 4, 'K': 5, 'M': 6,
	'N': 7, 'Q': 8, 'U': 9, 'V': 10, 'X': 11, 'Z': 12,
}

// quarterlyCycle is the contract cycle used by index futures.
var quarterlyCycle = []byte{'H', 'M', 'U', 'Z'}

// Normalized is the canonical form of a vendor symbol.
type Normalized struct {
	Symbol        string // canonical symbol: AAPL, ES, ESH25
	Root          string // futures root when the symbol is a contract or continuous root
	ContractMonth string // month code + 2-digit year for contracts, e.g. "H25"
	IsContract    bool
	IsContinuous  bool
}

// Normalizer strips vendor decorations and recognizes futures symbols.
// Continuous roots must be registered; contract codes are recognized by shape.
type Normalizer struct {
	roots map[string]struct{}
}

// NewNormalizer creates a normalizer with the given continuous roots
// registered. ES and NQ are always included.
func NewNormalizer(roots []string) *Normalizer {
	n := &Normalizer{roots: map[string]struct{}{
		"ES": {},
		"NQ": {},
	}}
	for _, r := range roots {
		r = strings.ToUpper(strings.TrimSpace(r))
		if r != "" {
			n.roots[r] = struct{}{}
		}
	}
	return n
}

// Normalize converts a raw vendor symbol into its canonical form.
// It is case-insensitive, strips leading @ or / and a trailing =F, folds
// 4-digit contract years down to 2 digits and fails on empty input.
func (n *Normalizer) Normalize(raw string) (Normalized, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return Normalized{}, ErrEmptySymbol
	}

	// Vendor prefixes: @ES (CQG), /ES (TOS).
	if s[0] == '@' || s[0] == '/' {
		s = s[1:]
	}
	// Yahoo futures suffix: ES=F.
	s = strings.TrimSuffix(s, "=F")

	if s == "" {
		return Normalized{}, fmt.Errorf("symbol %q reduces to nothing: %w", raw, ErrEmptySymbol)
	}

	if m := contractPattern.FindStringSubmatch(s); m != nil {
		root, month, year := m[1], m[2], m[3]
		if len(year) == 4 {
			year = year[2:]
		}
		symbol := root + month + year
		return Normalized{
			Symbol:        symbol,
			Root:          root,
			ContractMonth: month + year,
			IsContract:    true,
		}, nil
	}

	if _, ok := n.roots[s]; ok {
		return Normalized{Symbol: s, Root: s, IsContinuous: true}, nil
	}

	return Normalized{Symbol: s}, nil
}

// IsContinuousRoot reports whether the symbol normalizes to a registered
// continuous root.
func (n *Normalizer) IsContinuousRoot(symbol string) bool {
	norm, err := n.Normalize(symbol)
	if err != nil {
		return false
	}
	return norm.IsContinuous
}
