// Package main is the cache-verify CLI: it audits a cached series window
// and emits a JSON report. Exit code 0 means clean, 1 warnings (missing,
// stale or invalid bars, or corrections on record), 2 cache unreachable.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/barkeep/internal/database"
	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/freshness"
	"github.com/aristath/barkeep/internal/merge"
	"github.com/aristath/barkeep/internal/store"
	"github.com/aristath/barkeep/internal/verify"
	"github.com/aristath/barkeep/pkg/logger"
)

func main() {
	exitCode := 0

	var (
		dbURL     string
		symbol    string
		timeframe string
		window    int
		fromArg   string
		toArg     string
		providers []string
		pretty    bool
		logLevel  string
	)

	root := &cobra.Command{
		Use:   "cache-verify",
		Short: "Audit a cached bar series for completeness, validity and freshness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			tf, err := domain.ParseTimeframe(timeframe)
			if err != nil {
				return err
			}
			now := time.Now()
			var from, to int64
			if window > 0 {
				// Last N aligned buckets ending at the one containing now.
				to = tf.Truncate(now.UnixMilli())
				from = to - int64(window-1)*tf.DurationMs()
			} else {
				from, err = parseTimestamp(fromArg, now.Add(-24*time.Hour))
				if err != nil {
					return fmt.Errorf("bad --from: %w", err)
				}
				to, err = parseTimestamp(toArg, now)
				if err != nil {
					return fmt.Errorf("bad --to: %w", err)
				}
				if from > to {
					return fmt.Errorf("reversed range: --from %d after --to %d", from, to)
				}
			}

			log := logger.New(logger.Config{Level: logLevel, Pretty: false})

			db, err := database.Open(database.Config{URL: dbURL})
			if err != nil {
				exitCode = verify.ExitUnreachable
				return fmt.Errorf("failed to open cold store: %w", err)
			}
			defer db.Close()
			if err := db.Migrate(cmd.Context()); err != nil {
				exitCode = verify.ExitUnreachable
				return fmt.Errorf("failed to prepare schema: %w", err)
			}

			engine := merge.NewEngine(providers, log)
			st, err := store.NewTieredStore(db, 0, engine, log)
			if err != nil {
				exitCode = verify.ExitUnreachable
				return err
			}

			verifier := verify.New(st, freshness.NewPolicy(nil), log)
			report, err := verifier.Run(cmd.Context(), symbol, tf, from, to)
			if err != nil {
				exitCode = verify.ExitUnreachable
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			if pretty {
				enc.SetIndent("", "  ")
			}
			if err := enc.Encode(report); err != nil {
				return err
			}

			exitCode = report.Status.ExitCode()
			return nil
		},
	}

	root.Flags().StringVar(&dbURL, "db", "sqlite:data/bars.db", "cold store URL (sqlite:path or postgres://...)")
	root.Flags().StringVar(&symbol, "symbol", "", "canonical symbol to audit")
	root.Flags().StringVar(&timeframe, "timeframe", "1m", "series timeframe (1m, 5m, ..., 1D)")
	root.Flags().IntVar(&window, "window", 0, "audit the last N aligned buckets ending now (overrides --from/--to)")
	root.Flags().StringVar(&fromArg, "from", "", "window start: unix ms, RFC3339 or YYYY-MM-DD (default now-24h)")
	root.Flags().StringVar(&toArg, "to", "", "window end: unix ms, RFC3339 or YYYY-MM-DD (default now)")
	root.Flags().StringSliceVar(&providers, "providers", []string{"polygon", "yahoo", "alphavantage"}, "provider priority order, most trusted first")
	root.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON report")
	root.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
	_ = root.MarkFlagRequired("symbol")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "cache-verify:", err)
		if exitCode == 0 {
			exitCode = 3 // usage or input error
		}
		os.Exit(exitCode)
	}
	os.Exit(exitCode)
}

// parseTimestamp accepts unix milliseconds, RFC3339 or a bare date.
func parseTimestamp(arg string, fallback time.Time) (int64, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return fallback.UnixMilli(), nil
	}
	if ms, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return ms, nil
	}
	if t, err := time.Parse(time.RFC3339, arg); err == nil {
		return t.UnixMilli(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", arg, time.UTC); err == nil {
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("unrecognized timestamp %q", arg)
}
