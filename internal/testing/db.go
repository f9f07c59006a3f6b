// Package testing provides testing utilities for the barkeep project:
// temp sqlite stores, bar fixtures and a scripted fake provider.
package testing

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aristath/barkeep/internal/database"
	"github.com/aristath/barkeep/internal/merge"
	"github.com/aristath/barkeep/internal/store"
)

// NewTestDB opens a migrated sqlite cold store on a temporary file.
// The connection is closed when the test finishes.
func NewTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		URL: "sqlite:" + filepath.Join(t.TempDir(), "bars.db"),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

// NewTestStore builds a tiered store over a temporary sqlite database with
// the given provider priority order. An empty order defaults to polygon
// before yahoo.
func NewTestStore(t *testing.T, providerOrder ...string) *store.TieredStore {
	t.Helper()

	if len(providerOrder) == 0 {
		providerOrder = []string{"polygon", "yahoo"}
	}
	engine := merge.NewEngine(providerOrder, zerolog.Nop())
	s, err := store.NewTieredStore(NewTestDB(t), 0, engine, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return s
}
