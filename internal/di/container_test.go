package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/barkeep/internal/config"
	"github.com/aristath/barkeep/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:      dir,
		LogLevel:     "info",
		ColdStoreURL: "sqlite:" + filepath.Join(dir, "bars.db"),
		RefreshSpec:  "*/5 * * * *",
	}
}

func TestBuildContainer(t *testing.T) {
	cfg := testConfig(t)

	c, err := BuildContainer(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Store)
	assert.NotNil(t, c.Cache)
	assert.NotNil(t, c.Composite)
	assert.NotNil(t, c.Scheduler)
	assert.NotNil(t, c.Maintenance)

	// No credentials: stream and backup stay off.
	assert.Nil(t, c.Stream)
	assert.Nil(t, c.Ingestor)
	assert.Nil(t, c.Backup)

	// The default priority list yields yahoo only, since polygon and
	// alphavantage need API keys.
	names := c.Composite.Providers()
	assert.Equal(t, []string{"yahoo"}, names)
}

func TestBuildContainerWithRulesFile(t *testing.T) {
	cfg := testConfig(t)
	rulesPath := filepath.Join(cfg.DataDir, "rules.yaml")
	content := `
providerPriority:
  - yahoo
freshnessPolicies:
  1m: 90s
futuresRoots:
  - CL
watchlist:
  - symbol: AAPL
    timeframes: [1D]
`
	require.NoError(t, os.WriteFile(rulesPath, []byte(content), 0644))
	cfg.RulesFile = rulesPath

	c, err := BuildContainer(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	require.Len(t, c.Rules.Watchlist, 1)
	entries := refreshEntries(c.Rules)
	require.Len(t, entries, 1)
	assert.Equal(t, "AAPL", entries[0].Symbol)
	assert.Equal(t, []domain.Timeframe{domain.Timeframe1D}, entries[0].Timeframes)

	// CL registered as a continuous root.
	norm, err := c.Normalizer.Normalize("CL")
	require.NoError(t, err)
	assert.True(t, norm.IsContinuous)
}

func TestBuildContainerRejectsBadRules(t *testing.T) {
	cfg := testConfig(t)
	rulesPath := filepath.Join(cfg.DataDir, "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte("providerPriority: [fancydata]"), 0644))
	cfg.RulesFile = rulesPath

	_, err := BuildContainer(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestBuildContainerStartStop(t *testing.T) {
	cfg := testConfig(t)

	c, err := BuildContainer(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, c.Start())
	c.Close()
}
