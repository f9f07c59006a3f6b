// Package database manages the cold-tier connection for both supported
// backends: embedded SQLite (modernc, pure Go) and PostgreSQL (lib/pq).
// The backend is selected by the store URL scheme; repositories above this
// package speak sqlx with `?` bindvars and Rebind for portability.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"     // Postgres driver
	_ "modernc.org/sqlite"    // Pure Go SQLite driver
)

// Profile defines configuration profiles for SQLite databases.
type Profile string

const (
	// ProfileCache - speed over durability for data that can be refetched
	ProfileCache Profile = "cache"
	// ProfileStandard - balanced configuration
	ProfileStandard Profile = "standard"
)

// DB wraps an sqlx connection together with the backend it talks to.
type DB struct {
	conn    *sqlx.DB
	driver  string // "sqlite" or "postgres"
	url     string
	profile Profile
}

// Config holds cold-store connection configuration.
type Config struct {
	// URL selects the backend: "sqlite:/path/to/bars.db" or "postgres://…".
	// Bare "file:" URIs are treated as sqlite (used by in-memory tests).
	URL     string
	Profile Profile
}

// Open connects to the cold store described by cfg.URL, applies the
// connection pool settings and verifies the connection with a ping.
func Open(cfg Config) (*DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("cold store URL is empty")
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	driver, dsn, err := parseURL(cfg.URL, cfg.Profile)
	if err != nil {
		return nil, err
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cold store: %w", err)
	}

	configurePool(conn, driver)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cold store: %w", err)
	}

	return &DB{conn: conn, driver: driver, url: cfg.URL, profile: cfg.Profile}, nil
}

// parseURL maps a store URL onto a driver name and DSN.
func parseURL(url string, profile Profile) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(url, "sqlite:"):
		path := strings.TrimPrefix(url, "sqlite:")
		if path == "" {
			return "", "", fmt.Errorf("sqlite store URL has no path")
		}
		if !strings.HasPrefix(path, "file:") {
			abs, err := filepath.Abs(path)
			if err != nil {
				return "", "", fmt.Errorf("failed to resolve sqlite path: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
				return "", "", fmt.Errorf("failed to create sqlite directory: %w", err)
			}
			path = abs
		}
		return "sqlite", sqliteDSN(path, profile), nil

	case strings.HasPrefix(url, "file:"):
		return "sqlite", sqliteDSN(url, profile), nil

	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres", url, nil

	default:
		return "", "", fmt.Errorf("unsupported cold store URL %q", url)
	}
}

// sqliteDSN builds the SQLite connection string with profile-specific PRAGMAs.
// WAL mode applies to every profile.
func sqliteDSN(path string, profile Profile) string {
	dsn := path + "?_pragma=journal_mode(WAL)"

	switch profile {
	case ProfileCache:
		dsn += "&_pragma=synchronous(OFF)"
		dsn += "&_pragma=auto_vacuum(FULL)"
		dsn += "&_pragma=temp_store(MEMORY)"
	default:
		dsn += "&_pragma=synchronous(NORMAL)"
		dsn += "&_pragma=auto_vacuum(INCREMENTAL)"
		dsn += "&_pragma=temp_store(MEMORY)"
	}

	dsn += "&_pragma=foreign_keys(1)"
	dsn += "&_pragma=wal_autocheckpoint(1000)"
	dsn += "&_pragma=cache_size(-64000)" // 64MB cache (negative = KB)

	return dsn
}

// configurePool sets connection pool limits for long-running operation.
func configurePool(conn *sqlx.DB, driver string) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	// SQLite serializes writers anyway; a large pool only causes lock churn.
	if driver == "sqlite" {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sqlx connection.
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// Driver returns the active driver name ("sqlite" or "postgres").
func (db *DB) Driver() string {
	return db.driver
}

// URL returns the store URL this connection was opened with.
func (db *DB) URL() string {
	return db.url
}

// Rebind translates `?` bindvars to the active driver's placeholder style.
func (db *DB) Rebind(query string) string {
	return db.conn.Rebind(query)
}

// WithTransaction executes fn inside a transaction. Panics inside fn are
// recovered, the transaction rolled back and the panic converted to an
// error; a fn error rolls back; success commits.
func (db *DB) WithTransaction(ctx context.Context, fn func(*sqlx.Tx) error) (err error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rollbackErr)
			} else {
				err = fmt.Errorf("transaction failed: %w", err)
			}
		} else {
			if commitErr := tx.Commit(); commitErr != nil {
				err = fmt.Errorf("failed to commit transaction: %w", commitErr)
			}
		}
	}()

	err = fn(tx)
	return err
}

// HealthCheck pings the database and, on SQLite, runs an integrity check.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	if db.driver == "sqlite" {
		var result string
		if err := db.conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
			return fmt.Errorf("integrity check query failed: %w", err)
		}
		if result != "ok" {
			return fmt.Errorf("integrity check failed: %s", result)
		}
	}

	return nil
}

// QuickCheck pings without the integrity scan.
func (db *DB) QuickCheck(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WALCheckpoint forces a WAL checkpoint on SQLite; no-op on Postgres.
func (db *DB) WALCheckpoint(ctx context.Context) error {
	if db.driver != "sqlite" {
		return nil
	}
	var busy, logPages, checkpointed int
	err := db.conn.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").
		Scan(&busy, &logPages, &checkpointed)
	if err != nil {
		return fmt.Errorf("wal checkpoint failed: %w", err)
	}
	if busy != 0 {
		return fmt.Errorf("wal checkpoint blocked by active readers")
	}
	return nil
}

// Vacuum reclaims free space. On Postgres this issues a plain VACUUM on the
// bars table only.
func (db *DB) Vacuum(ctx context.Context) error {
	query := "VACUUM"
	if db.driver == "postgres" {
		query = "VACUUM bars"
	}
	if _, err := db.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	return nil
}

// Stats reports connection pool statistics.
func (db *DB) Stats() sql.DBStats {
	return db.conn.Stats()
}
