// Package di wires the application together: configuration in, a running
// container of services out. Construction order follows the dependency
// chain; nothing here contains business logic.
package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/barkeep/internal/cache"
	"github.com/aristath/barkeep/internal/clients/alphavantage"
	"github.com/aristath/barkeep/internal/clients/polygon"
	"github.com/aristath/barkeep/internal/clients/yahoo"
	"github.com/aristath/barkeep/internal/config"
	"github.com/aristath/barkeep/internal/database"
	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/events"
	"github.com/aristath/barkeep/internal/freshness"
	"github.com/aristath/barkeep/internal/ingest"
	"github.com/aristath/barkeep/internal/merge"
	"github.com/aristath/barkeep/internal/providers"
	"github.com/aristath/barkeep/internal/reliability"
	"github.com/aristath/barkeep/internal/scheduler"
	"github.com/aristath/barkeep/internal/sessions"
	"github.com/aristath/barkeep/internal/store"
	"github.com/aristath/barkeep/internal/symbols"
)

// Container holds all initialized services.
type Container struct {
	Config *config.Config
	Rules  *config.Rules

	DB         *database.DB
	Store      *store.TieredStore
	Bus        *events.Bus
	Normalizer *symbols.Normalizer
	Resolver   *symbols.Resolver
	Calendar   *sessions.Calendar
	Composite  *providers.Composite
	Cache      *cache.Service

	Ingestor *ingest.Ingestor
	Stream   *polygon.Stream

	Scheduler   *scheduler.Scheduler
	Maintenance *reliability.MaintenanceService
	Backup      *reliability.BackupService

	log zerolog.Logger
}

// BuildContainer initializes all services in dependency order.
func BuildContainer(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{Config: cfg, log: log}

	// ==========================================
	// STEP 1: Rules
	// ==========================================

	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	c.Rules = rules

	// ==========================================
	// STEP 2: Cold store
	// ==========================================

	db, err := database.Open(database.Config{URL: cfg.ColdStoreURL, Profile: database.ProfileCache})
	if err != nil {
		return nil, fmt.Errorf("failed to open cold store: %w", err)
	}
	c.DB = db

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate cold store: %w", err)
	}

	// ==========================================
	// STEP 3: Merge engine and tiered store
	// ==========================================

	engine := merge.NewEngine(rules.ProviderPriority, log)
	tiered, err := store.NewTieredStore(db, cfg.HotCacheCapacity, engine, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to build tiered store: %w", err)
	}
	c.Store = tiered

	// ==========================================
	// STEP 4: Symbology and sessions
	// ==========================================

	c.Normalizer = symbols.NewNormalizer(rules.FuturesRoots)
	c.Resolver = symbols.NewResolver(rules.Rollover, log)
	c.Calendar = sessions.NewCalendar(c.Normalizer, log)

	// ==========================================
	// STEP 5: Provider adapters and composite
	// ==========================================

	adapters, err := buildAdapters(cfg, rules, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.Composite = providers.NewComposite(adapters, log)

	// ==========================================
	// STEP 6: Cache service
	// ==========================================

	c.Bus = events.NewBus(log)
	c.Cache = cache.NewService(cache.Deps{
		Store:      tiered,
		Composite:  c.Composite,
		Policy:     freshness.NewPolicy(rules.FreshnessTTLs()),
		Normalizer: c.Normalizer,
		Resolver:   c.Resolver,
		Bus:        c.Bus,
	}, log)

	// ==========================================
	// STEP 7: Live stream ingestion (optional)
	// ==========================================

	if cfg.StreamEnabled {
		c.Ingestor = ingest.New(c.Cache, ingest.Config{
			Provider:  "polygon",
			Timeframe: domain.Timeframe1m,
		}, log)
		c.Stream = polygon.NewStream(polygon.StreamConfig{
			URL:     cfg.PolygonWSURL,
			APIKey:  cfg.PolygonAPIKey,
			Symbols: watchlistSymbols(rules),
		}, c.Ingestor.HandleBar, log)
	}

	// ==========================================
	// STEP 8: Reliability services
	// ==========================================

	c.Maintenance = reliability.NewMaintenanceService(db, cfg.DataDir, log)

	if cfg.Backup.Enabled {
		s3, err := reliability.NewS3Client(ctx, reliability.S3Config{
			Endpoint:  cfg.Backup.S3Endpoint,
			Region:    cfg.Backup.S3Region,
			Bucket:    cfg.Backup.S3Bucket,
			AccessKey: cfg.Backup.S3AccessKey,
			SecretKey: cfg.Backup.S3SecretKey,
			Prefix:    cfg.Backup.S3Prefix,
		}, log)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to build s3 client: %w", err)
		}
		c.Backup = reliability.NewBackupService(tiered, s3, cfg.SnapshotDir(), cfg.Backup.Retain, log)
	}

	// ==========================================
	// STEP 9: Scheduler
	// ==========================================

	c.Scheduler = scheduler.New(log)
	if err := c.registerJobs(); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info().
		Int("adapters", len(adapters)).
		Int("watchlist", len(rules.Watchlist)).
		Bool("stream", cfg.StreamEnabled).
		Bool("backup", cfg.Backup.Enabled).
		Msg("Container built")
	return c, nil
}

// buildAdapters constructs the configured provider adapters in priority
// order. Adapters whose credentials are missing are skipped, not failed:
// the composite works with whatever is available.
func buildAdapters(cfg *config.Config, rules *config.Rules, log zerolog.Logger) ([]providers.Provider, error) {
	adapters := make([]providers.Provider, 0, len(rules.ProviderPriority))
	for i, name := range rules.ProviderPriority {
		switch name {
		case "polygon":
			if cfg.PolygonAPIKey == "" {
				log.Warn().Msg("POLYGON_API_KEY not set, polygon adapter disabled")
				continue
			}
			adapters = append(adapters, polygon.NewClient(polygon.Config{
				APIKey:   cfg.PolygonAPIKey,
				Priority: i,
			}, log))
		case "yahoo":
			adapters = append(adapters, yahoo.New(yahoo.Config{
				Priority:     i,
				FuturesRoots: rules.FuturesRoots,
			}, log))
		case "alphavantage":
			if cfg.AlphaVantageAPIKey == "" {
				log.Warn().Msg("ALPHAVANTAGE_API_KEY not set, alphavantage adapter disabled")
				continue
			}
			adapters = append(adapters, alphavantage.NewClient(alphavantage.Config{
				APIKey:   cfg.AlphaVantageAPIKey,
				Priority: i,
			}, log))
		default:
			return nil, fmt.Errorf("unknown provider %q in providerPriority", name)
		}
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no provider adapters available")
	}
	return adapters, nil
}

// registerJobs schedules the recurring work.
func (c *Container) registerJobs() error {
	refresh := scheduler.NewWatchlistRefreshJob(c.Cache, c.Calendar, refreshEntries(c.Rules), c.log)
	if err := c.Scheduler.Register(c.Config.RefreshSpec, refresh); err != nil {
		return fmt.Errorf("invalid refresh spec %q: %w", c.Config.RefreshSpec, err)
	}

	daily := scheduler.NewFuncJob("daily_maintenance", c.Maintenance.RunDaily)
	if err := c.Scheduler.Register("0 2 * * *", daily); err != nil {
		return err
	}
	weekly := scheduler.NewFuncJob("weekly_maintenance", c.Maintenance.RunWeekly)
	if err := c.Scheduler.Register("0 3 * * 0", weekly); err != nil {
		return err
	}

	if c.Backup != nil {
		backup := scheduler.NewFuncJob("snapshot_backup", func(ctx context.Context) error {
			if err := c.Backup.CreateAndUpload(ctx); err != nil {
				return err
			}
			return c.Backup.Rotate(ctx)
		})
		if err := c.Scheduler.Register(c.Config.Backup.Spec, backup); err != nil {
			return fmt.Errorf("invalid backup spec %q: %w", c.Config.Backup.Spec, err)
		}
	}
	return nil
}

// refreshEntries converts the watchlist into scheduler entries. The rules
// file is validated at load, so unparseable timeframes cannot appear.
func refreshEntries(rules *config.Rules) []scheduler.RefreshEntry {
	entries := make([]scheduler.RefreshEntry, 0, len(rules.Watchlist))
	for _, item := range rules.Watchlist {
		tfs := make([]domain.Timeframe, 0, len(item.Timeframes))
		for _, raw := range item.Timeframes {
			tf, err := domain.ParseTimeframe(raw)
			if err != nil {
				continue
			}
			tfs = append(tfs, tf)
		}
		if len(tfs) > 0 {
			entries = append(entries, scheduler.RefreshEntry{Symbol: item.Symbol, Timeframes: tfs})
		}
	}
	return entries
}

// watchlistSymbols lists the distinct watchlist symbols for stream
// subscription.
func watchlistSymbols(rules *config.Rules) []string {
	seen := make(map[string]struct{}, len(rules.Watchlist))
	symbolsList := make([]string, 0, len(rules.Watchlist))
	for _, item := range rules.Watchlist {
		if _, dup := seen[item.Symbol]; dup {
			continue
		}
		seen[item.Symbol] = struct{}{}
		symbolsList = append(symbolsList, item.Symbol)
	}
	return symbolsList
}

// Start brings up the background services: scheduler first, then the
// live stream if configured.
func (c *Container) Start() error {
	c.Scheduler.Start()

	if c.Ingestor != nil {
		c.Ingestor.Start()
	}
	if c.Stream != nil {
		if err := c.Stream.Start(); err != nil {
			return fmt.Errorf("failed to start stream: %w", err)
		}
	}
	return nil
}

// Close shuts everything down in reverse order of construction.
func (c *Container) Close() {
	if c.Stream != nil {
		if err := c.Stream.Stop(); err != nil {
			c.log.Warn().Err(err).Msg("Stream shutdown reported error")
		}
	}
	if c.Ingestor != nil {
		c.Ingestor.Stop()
	}
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Bus != nil {
		c.Bus.RemoveAll()
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Cold store close reported error")
		}
	}
	c.log.Info().Msg("Container closed")
}
