// Package main is the entry point for the barkeep market data daemon.
// The daemon keeps a two-tier bar cache warm: watchlist refreshes on a
// schedule, optional live minute-bar ingestion over the Polygon stream,
// maintenance passes on the cold store and snapshot backups to object
// storage.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/barkeep/internal/config"
	"github.com/aristath/barkeep/internal/di"
	"github.com/aristath/barkeep/pkg/logger"
)

// main orchestrates the startup sequence:
// 1. Loads configuration from environment variables
// 2. Initializes logging
// 3. Wires all dependencies via the DI container
// 4. Starts the scheduler and, if enabled, the live stream
// 5. Waits for shutdown signal and tears down gracefully
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	log.Info().Msg("Starting barkeep")

	container, err := di.BuildContainer(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	if err := container.Start(); err != nil {
		container.Close()
		log.Fatal().Err(err).Msg("Failed to start services")
	}

	log.Info().
		Str("cold_store", cfg.ColdStoreURL).
		Bool("stream", cfg.StreamEnabled).
		Msg("barkeep started")

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	container.Close()
	log.Info().Msg("barkeep stopped")
}
