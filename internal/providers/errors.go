package providers

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError signals the provider refused the request due to rate
// limiting. Retryable; RetryAfter is zero when the provider gave no hint.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %s rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("provider %s rate limited", e.Provider)
}

// InsufficientBarsError signals the provider returned fewer bars than
// requested and has no more for that window. Not retryable for this adapter.
type InsufficientBarsError struct {
	Provider  string
	Requested int
	Returned  int
}

func (e *InsufficientBarsError) Error() string {
	return fmt.Sprintf("provider %s returned %d of %d requested bars", e.Provider, e.Returned, e.Requested)
}

// SymbolResolutionError signals the provider does not know the symbol.
type SymbolResolutionError struct {
	Provider string
	Symbol   string
}

func (e *SymbolResolutionError) Error() string {
	return fmt.Sprintf("provider %s cannot resolve symbol %q", e.Provider, e.Symbol)
}

// ProviderError wraps transport and protocol failures. Retryable.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the error is worth retrying against the same
// provider: rate limits and transport failures are, everything else is not.
func IsRetryable(err error) bool {
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) {
		return true
	}
	var provider *ProviderError
	return errors.As(err, &provider)
}

// RetryAfter extracts the provider's retry hint, or 0 when there is none.
func RetryAfter(err error) time.Duration {
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) {
		return rateLimit.RetryAfter
	}
	return 0
}
