// Package ingest bridges live bar streams into the cache: stream ticks are
// queued, stamped with provenance and merged like any other provider data.
package ingest

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/barkeep/internal/cache"
	"github.com/aristath/barkeep/internal/domain"
)

// DefaultQueueSize bounds how many live bars may wait for persistence
// before the ingestor starts shedding.
const DefaultQueueSize = 1024

// Config holds the ingestor settings.
type Config struct {
	// Provider tags every ingested bar's provenance, e.g. "polygon".
	Provider string
	// Timeframe of the incoming stream bars.
	Timeframe domain.Timeframe
	// QueueSize overrides DefaultQueueSize when positive.
	QueueSize int
}

type streamBar struct {
	symbol string
	bar    domain.Bar
}

// Ingestor decouples a stream's read loop from the cache write path: the
// handler enqueues and returns, a single worker drains the queue in order.
// When the queue is full the newest bar is dropped; the next refresh
// re-fetches whatever was shed.
type Ingestor struct {
	svc       *cache.Service
	provider  string
	timeframe domain.Timeframe
	queue     chan streamBar
	log       zerolog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an ingestor for one provider's stream.
func New(svc *cache.Service, cfg Config, log zerolog.Logger) *Ingestor {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Ingestor{
		svc:       svc,
		provider:  cfg.Provider,
		timeframe: cfg.Timeframe,
		queue:     make(chan streamBar, size),
		log: log.With().
			Str("component", "ingestor").
			Str("provider", cfg.Provider).
			Logger(),
	}
}

// Start launches the persistence worker. Idempotent.
func (i *Ingestor) Start() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	i.cancel = cancel
	i.started = true

	i.wg.Add(1)
	go i.run(ctx)
	i.log.Info().Str("timeframe", string(i.timeframe)).Msg("Ingestor started")
}

// Stop drains nothing further and waits for the worker to exit.
func (i *Ingestor) Stop() {
	i.mu.Lock()
	if !i.started {
		i.mu.Unlock()
		return
	}
	i.started = false
	cancel := i.cancel
	i.mu.Unlock()

	cancel()
	i.wg.Wait()
	i.log.Info().Msg("Ingestor stopped")
}

// HandleBar enqueues one live bar. Safe to call from a stream read loop;
// it never blocks.
func (i *Ingestor) HandleBar(symbol string, bar domain.Bar) {
	select {
	case i.queue <- streamBar{symbol: symbol, bar: bar}:
	default:
		i.log.Warn().
			Str("symbol", symbol).
			Int64("timestamp", bar.Timestamp).
			Msg("Ingest queue full, dropping bar")
	}
}

// Pending reports how many bars wait in the queue.
func (i *Ingestor) Pending() int {
	return len(i.queue)
}

func (i *Ingestor) run(ctx context.Context) {
	defer i.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-i.queue:
			i.persist(ctx, msg)
		}
	}
}

func (i *Ingestor) persist(ctx context.Context, msg streamBar) {
	corrections, err := i.svc.UpsertBars(ctx, msg.symbol, i.timeframe, i.provider, []domain.Bar{msg.bar})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		i.log.Error().
			Err(err).
			Str("symbol", msg.symbol).
			Int64("timestamp", msg.bar.Timestamp).
			Msg("Failed to persist stream bar")
		return
	}
	if len(corrections) > 0 {
		i.log.Debug().
			Str("symbol", msg.symbol).
			Int64("timestamp", msg.bar.Timestamp).
			Int("corrections", len(corrections)).
			Msg("Stream bar merged")
	}
}
