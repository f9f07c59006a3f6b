package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bars.db")
	db, err := Open(Config{URL: "sqlite:" + path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestOpenRejectsBadURLs(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "empty", url: ""},
		{name: "no scheme", url: "/tmp/bars.db"},
		{name: "sqlite without path", url: "sqlite:"},
		{name: "unknown scheme", url: "mysql://localhost/bars"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(Config{URL: tt.url})
			assert.Error(t, err)
		})
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "bars.db")
	db, err := Open(Config{URL: "sqlite:" + path})
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Dir(path))
	assert.NoError(t, err)
	assert.Equal(t, "sqlite", db.Driver())
}

func TestMigrateCreatesSchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, table := range []string{"bars", "corrections", "_migrations"} {
		var count int
		err := db.Conn().GetContext(ctx, &count,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	// Second run is a no-op.
	require.NoError(t, db.Migrate(ctx))

	var applied int
	require.NoError(t, db.Conn().GetContext(ctx, &applied, "SELECT COUNT(*) FROM _migrations"))
	assert.Equal(t, 2, applied)
}

func TestWithTransactionCommit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, db.Rebind(
			`INSERT INTO bars (symbol, timeframe, timestamp, provider, revision,
			 open, high, low, close, volume, fetched_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			"AAPL", "5m", int64(1_700_000_100_000), "polygon", int64(1),
			100.0, 101.0, 99.0, 100.5, 10000.0, int64(1_700_000_200_000))
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Conn().GetContext(ctx, &count, "SELECT COUNT(*) FROM bars"))
	assert.Equal(t, 1, count)
}

func TestWithTransactionRollbackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, db.Rebind(
			`INSERT INTO bars (symbol, timeframe, timestamp, provider, revision,
			 open, high, low, close, volume, fetched_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			"AAPL", "5m", int64(1_700_000_100_000), "polygon", int64(1),
			100.0, 101.0, 99.0, 100.5, 10000.0, int64(1_700_000_200_000))
		if err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	var count int
	require.NoError(t, db.Conn().GetContext(ctx, &count, "SELECT COUNT(*) FROM bars"))
	assert.Equal(t, 0, count, "insert rolled back")
}

func TestWithTransactionRecoversPanic(t *testing.T) {
	db := openTestDB(t)

	err := db.WithTransaction(context.Background(), func(tx *sqlx.Tx) error {
		panic("listener gone wild")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")
}

func TestHealthCheckAndMaintenance(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	assert.NoError(t, db.HealthCheck(ctx))
	assert.NoError(t, db.QuickCheck(ctx))
	assert.NoError(t, db.WALCheckpoint(ctx))
	assert.NoError(t, db.Vacuum(ctx))
}
