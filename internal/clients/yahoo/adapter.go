// Package yahoo provides the Yahoo Finance market data adapter, built on
// the go-yfinance library. It serves intraday and daily history plus
// point-in-time quotes, with no API key required.
package yahoo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"

	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/providers"
)

// intervals maps timeframes onto Yahoo's interval strings. Timeframes not
// listed here are served by aggregating a finer one.
var intervals = map[domain.Timeframe]string{
	domain.Timeframe1m:  "1m",
	domain.Timeframe5m:  "5m",
	domain.Timeframe15m: "15m",
	domain.Timeframe30m: "30m",
	domain.Timeframe1h:  "60m",
	domain.Timeframe1D:  "1d",
}

// retention is how far back Yahoo keeps data per interval; zero means
// unlimited. Requests reaching past it come back incomplete.
var retention = map[domain.Timeframe]time.Duration{
	domain.Timeframe1m:  7 * 24 * time.Hour,
	domain.Timeframe5m:  60 * 24 * time.Hour,
	domain.Timeframe15m: 60 * 24 * time.Hour,
	domain.Timeframe30m: 60 * 24 * time.Hour,
	domain.Timeframe1h:  730 * 24 * time.Hour,
}

// Config holds the adapter settings.
type Config struct {
	Priority int
	// FuturesRoots lists continuous roots that map onto Yahoo's =F symbols
	// (ES becomes ES=F).
	FuturesRoots []string
}

// Adapter is the Yahoo Finance adapter.
type Adapter struct {
	priority int
	roots    map[string]struct{}
	now      func() time.Time
	log      zerolog.Logger
}

// New creates a Yahoo Finance adapter.
func New(cfg Config, log zerolog.Logger) *Adapter {
	roots := make(map[string]struct{}, len(cfg.FuturesRoots))
	for _, root := range cfg.FuturesRoots {
		root = strings.ToUpper(strings.TrimSpace(root))
		if root != "" {
			roots[root] = struct{}{}
		}
	}
	return &Adapter{
		priority: cfg.Priority,
		roots:    roots,
		now:      time.Now,
		log:      log.With().Str("client", "yahoo").Logger(),
	}
}

// Name implements providers.Provider.
func (a *Adapter) Name() string { return "yahoo" }

// Capabilities implements providers.Provider.
func (a *Adapter) Capabilities() providers.Capabilities {
	tfs := make([]domain.Timeframe, 0, len(intervals))
	for _, tf := range domain.Timeframes() {
		if _, ok := intervals[tf]; ok {
			tfs = append(tfs, tf)
		}
	}
	return providers.Capabilities{
		SupportedTimeframes: tfs,
		RateLimit: providers.RateLimit{
			RequestsPerMinute: 60,
			BurstSize:         5,
		},
		SupportsQuotes: true,
		Priority:       a.priority,
	}
}

// toYahoo converts a canonical symbol to Yahoo's format. Registered
// continuous futures roots get the =F suffix; everything else passes
// through unchanged.
func (a *Adapter) toYahoo(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if _, ok := a.roots[symbol]; ok {
		return symbol + "=F"
	}
	return symbol
}

// periodFor picks the smallest Yahoo period string covering from.
func periodFor(from int64, now time.Time) string {
	age := now.Sub(time.UnixMilli(from))
	switch {
	case age <= 4*24*time.Hour:
		return "5d"
	case age <= 27*24*time.Hour:
		return "1mo"
	case age <= 85*24*time.Hour:
		return "3mo"
	case age <= 175*24*time.Hour:
		return "6mo"
	case age <= 360*24*time.Hour:
		return "1y"
	case age <= 720*24*time.Hour:
		return "2y"
	case age <= 1800*24*time.Hour:
		return "5y"
	case age <= 3600*24*time.Hour:
		return "10y"
	default:
		return "max"
	}
}

// GetBars fetches history for the inclusive [From, To] window. The
// go-yfinance history API is period-based, so the adapter over-fetches
// and trims to the window. A window reaching past Yahoo's retention for
// the interval returns what exists plus an insufficiency signal.
func (a *Adapter) GetBars(ctx context.Context, req providers.BarRequest) ([]domain.Bar, error) {
	interval, ok := intervals[req.Timeframe]
	if !ok {
		return nil, &providers.ProviderError{
			Provider: "yahoo",
			Op:       "history",
			Err:      fmt.Errorf("unsupported timeframe %q", req.Timeframe),
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	yahooSymbol := a.toYahoo(req.Symbol)
	t, err := ticker.New(yahooSymbol)
	if err != nil {
		return nil, &providers.ProviderError{Provider: "yahoo", Op: "history", Err: fmt.Errorf("failed to create ticker: %w", err)}
	}
	defer t.Close()

	now := a.now()
	raw, err := t.History(models.HistoryParams{
		Period:     periodFor(req.From, now),
		Interval:   interval,
		AutoAdjust: true,
	})
	if err != nil {
		return nil, &providers.ProviderError{Provider: "yahoo", Op: "history", Err: err}
	}

	bars := a.convert(raw, req)
	a.log.Debug().
		Str("symbol", yahooSymbol).
		Str("timeframe", string(req.Timeframe)).
		Int("raw", len(raw)).
		Int("bars", len(bars)).
		Msg("Yahoo history fetched")

	if keep, ok := retention[req.Timeframe]; ok && req.From < now.Add(-keep).UnixMilli() {
		tfMs := req.Timeframe.DurationMs()
		requested := int((req.Timeframe.Truncate(req.To)-req.Timeframe.Truncate(req.From))/tfMs) + 1
		return bars, &providers.InsufficientBarsError{
			Provider:  "yahoo",
			Requested: requested,
			Returned:  len(bars),
		}
	}
	return bars, nil
}

// convert trims raw history to the request window on the aligned grid,
// ascending and deduplicated.
func (a *Adapter) convert(raw []models.Bar, req providers.BarRequest) []domain.Bar {
	bars := make([]domain.Bar, 0, len(raw))
	seen := make(map[int64]struct{}, len(raw))
	for _, b := range raw {
		ts := req.Timeframe.Truncate(b.Date.UnixMilli())
		if ts < req.From || ts > req.To {
			continue
		}
		if _, dup := seen[ts]; dup {
			continue
		}
		seen[ts] = struct{}{}
		bars = append(bars, domain.Bar{
			Timestamp: ts,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp < bars[j].Timestamp })
	if req.Limit > 0 && len(bars) > req.Limit {
		bars = bars[:req.Limit]
	}
	return bars
}

// GetQuote implements providers.QuoteProvider. Regular market price wins;
// pre and post market prices are the fallback outside the session.
func (a *Adapter) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, err
	}

	yahooSymbol := a.toYahoo(symbol)
	t, err := ticker.New(yahooSymbol)
	if err != nil {
		return domain.Quote{}, &providers.ProviderError{Provider: "yahoo", Op: "quote", Err: fmt.Errorf("failed to create ticker: %w", err)}
	}
	defer t.Close()

	quote, err := t.Quote()
	if err != nil {
		return domain.Quote{}, &providers.ProviderError{Provider: "yahoo", Op: "quote", Err: err}
	}

	price := quote.RegularMarketPrice
	if price <= 0 && quote.PreMarketPrice > 0 {
		price = quote.PreMarketPrice
	}
	if price <= 0 && quote.PostMarketPrice > 0 {
		price = quote.PostMarketPrice
	}
	if price <= 0 {
		return domain.Quote{}, &providers.SymbolResolutionError{Provider: "yahoo", Symbol: symbol}
	}

	return domain.Quote{
		Symbol:    symbol,
		Price:     price,
		Timestamp: a.now().UnixMilli(),
	}, nil
}
