package testing

import (
	"context"
	"sync"

	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/providers"
)

// FakeProvider is a scripted provider adapter. Tests either script explicit
// responses per call or let it synthesize a grid-aligned series; every call
// is recorded so tests can assert how the composite and cache hit it.
type FakeProvider struct {
	mu sync.Mutex

	ProviderName string
	Caps         providers.Capabilities

	// Script, when non-empty, is consumed one entry per GetBars call.
	// After the script runs out, ServeFn (or the grid default) answers.
	Script []FakeResponse

	// ServeFn, when set, answers unscripted calls.
	ServeFn func(req providers.BarRequest) ([]domain.Bar, error)

	// Quote answers GetQuote when QuoteErr is nil.
	Quote    domain.Quote
	QuoteErr error

	Calls      []providers.BarRequest
	QuoteCalls []string
}

// FakeResponse is one scripted GetBars answer.
type FakeResponse struct {
	Bars []domain.Bar
	Err  error
}

// NewFakeProvider returns an adapter serving all timeframes natively with
// no request cap; tests override Caps for capability-filter scenarios.
func NewFakeProvider(name string) *FakeProvider {
	return &FakeProvider{
		ProviderName: name,
		Caps: providers.Capabilities{
			SupportedTimeframes: domain.Timeframes(),
			SupportsQuotes:      true,
		},
	}
}

func (f *FakeProvider) Name() string { return f.ProviderName }

func (f *FakeProvider) Capabilities() providers.Capabilities { return f.Caps }

func (f *FakeProvider) GetBars(_ context.Context, req providers.BarRequest) ([]domain.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, req)

	if len(f.Script) > 0 {
		resp := f.Script[0]
		f.Script = f.Script[1:]
		return resp.Bars, resp.Err
	}
	if f.ServeFn != nil {
		return f.ServeFn(req)
	}
	return GridBars(req), nil
}

func (f *FakeProvider) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.QuoteCalls = append(f.QuoteCalls, symbol)
	if f.QuoteErr != nil {
		return domain.Quote{}, f.QuoteErr
	}
	return f.Quote, nil
}

// CallCount reports how many GetBars calls the adapter served.
func (f *FakeProvider) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// GridBars synthesizes one valid bar per aligned timestamp in the request
// window, closes walking up from 100.
func GridBars(req providers.BarRequest) []domain.Bar {
	step := req.Timeframe.DurationMs()
	if step == 0 {
		return nil
	}
	var bars []domain.Bar
	i := 0
	for ts := req.Timeframe.Truncate(req.From); ts <= req.To; ts += step {
		if ts < req.From {
			continue
		}
		bars = append(bars, BarAt(ts, 100+float64(i)))
		i++
		if req.Limit > 0 && len(bars) >= req.Limit {
			break
		}
	}
	return bars
}
