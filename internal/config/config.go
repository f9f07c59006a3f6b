// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir          string // Base directory for databases and backups (always absolute)
	LogLevel         string
	LogPretty        bool
	ColdStoreURL     string // sqlite:path or postgres:// DSN
	HotCacheCapacity int    // winner entries held in memory, 0 = store default
	RulesFile        string // optional YAML rules file, see rules.go

	PolygonAPIKey      string
	PolygonWSURL       string
	AlphaVantageAPIKey string

	StreamEnabled bool   // live minute-bar ingestion over the Polygon websocket
	RefreshSpec   string // cron spec for the watchlist refresh job

	Backup BackupConfig
}

// BackupConfig holds cold-store snapshot settings. The S3 fields work
// against any S3-compatible endpoint, including Cloudflare R2.
type BackupConfig struct {
	Enabled     bool
	Spec        string // cron spec for the snapshot job
	Retain      int    // snapshots kept per rotation, minimum 3
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Prefix    string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic
	// 1. Check BARKEEP_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path
	// 4. Ensure directory exists
	dataDir := getEnv("BARKEEP_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogPretty:        getEnvAsBool("LOG_PRETTY", false),
		ColdStoreURL:     getEnv("COLD_STORE_URL", ""),
		HotCacheCapacity: getEnvAsInt("HOT_CACHE_CAPACITY", 0),
		RulesFile:        getEnv("RULES_FILE", ""),

		PolygonAPIKey:      getEnv("POLYGON_API_KEY", ""),
		PolygonWSURL:       getEnv("POLYGON_WS_URL", "wss://socket.polygon.io/stocks"),
		AlphaVantageAPIKey: getEnv("ALPHAVANTAGE_API_KEY", ""),

		StreamEnabled: getEnvAsBool("STREAM_ENABLED", false),
		RefreshSpec:   getEnv("REFRESH_SPEC", "*/5 * * * *"),

		Backup: BackupConfig{
			Enabled:     getEnvAsBool("BACKUP_ENABLED", false),
			Spec:        getEnv("BACKUP_SPEC", "0 3 * * *"),
			Retain:      getEnvAsInt("BACKUP_RETAIN", 7),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3Region:    getEnv("S3_REGION", "auto"),
			S3Bucket:    getEnv("S3_BUCKET", ""),
			S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey: getEnv("S3_SECRET_KEY", ""),
			S3Prefix:    getEnv("S3_PREFIX", "barkeep"),
		},
	}

	if cfg.ColdStoreURL == "" {
		cfg.ColdStoreURL = "sqlite:" + filepath.Join(absDataDir, "bars.db")
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.StreamEnabled && c.PolygonAPIKey == "" {
		return fmt.Errorf("STREAM_ENABLED requires POLYGON_API_KEY")
	}
	if c.Backup.Enabled {
		if c.Backup.S3Bucket == "" {
			return fmt.Errorf("BACKUP_ENABLED requires S3_BUCKET")
		}
		if c.Backup.Retain < 3 {
			return fmt.Errorf("BACKUP_RETAIN must be at least 3, got %d", c.Backup.Retain)
		}
	}
	return nil
}

// SnapshotDir is where local snapshot staging files are written before upload.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.DataDir, "snapshots")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
