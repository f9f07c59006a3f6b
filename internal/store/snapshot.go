package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/barkeep/internal/domain"
)

// snapshotVersion guards against decoding archives written by a future
// layout.
const snapshotVersion = 1

// snapshotBatchSize bounds memory while streaming rows in and out.
const snapshotBatchSize = 500

// snapshotHeader opens every archive.
type snapshotHeader struct {
	Version   int   `msgpack:"version"`
	CreatedAt int64 `msgpack:"created_at"`
}

// snapshotRow is one bar row in the archive.
type snapshotRow struct {
	Symbol    string  `msgpack:"symbol"`
	Timeframe string  `msgpack:"timeframe"`
	Timestamp int64   `msgpack:"timestamp"`
	Provider  string  `msgpack:"provider"`
	Revision  int64   `msgpack:"revision"`
	Open      float64 `msgpack:"open"`
	High      float64 `msgpack:"high"`
	Low       float64 `msgpack:"low"`
	Close     float64 `msgpack:"close"`
	Volume    float64 `msgpack:"volume"`
	FetchedAt int64   `msgpack:"fetched_at"`
}

// Snapshot streams every bar row to w as msgpack: a header followed by one
// message per row. The read runs outside any transaction; rows written
// concurrently may or may not appear, which is fine for backups since every
// row write is individually monotone.
func (s *TieredStore) Snapshot(ctx context.Context, w io.Writer) (int, error) {
	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(snapshotHeader{Version: snapshotVersion, CreatedAt: time.Now().UnixMilli()}); err != nil {
		return 0, fmt.Errorf("failed to write snapshot header: %w", err)
	}

	rows, err := s.db.Conn().QueryxContext(ctx,
		"SELECT "+barColumns+" FROM bars ORDER BY symbol, timeframe, timestamp, provider")
	if err != nil {
		return 0, fmt.Errorf("failed to read bars for snapshot: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var row barRow
		if err := rows.StructScan(&row); err != nil {
			return count, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		err := enc.Encode(snapshotRow{
			Symbol:    row.Symbol,
			Timeframe: row.Timeframe,
			Timestamp: row.CachedBar.Timestamp,
			Provider:  row.CachedBar.Provider,
			Revision:  row.CachedBar.Revision,
			Open:      row.CachedBar.Open,
			High:      row.CachedBar.High,
			Low:       row.CachedBar.Low,
			Close:     row.CachedBar.Close,
			Volume:    row.CachedBar.Volume,
			FetchedAt: row.CachedBar.FetchedAt,
		})
		if err != nil {
			return count, fmt.Errorf("failed to encode snapshot row: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("failed during snapshot scan: %w", err)
	}
	return count, nil
}

// Restore merges archive rows back into the cold tier in batched
// transactions. Restoring is additive: the monotone upsert means rows
// already present at equal or higher revisions are untouched. The hot tier
// is purged afterwards so stale winners cannot shadow restored rows.
func (s *TieredStore) Restore(ctx context.Context, r io.Reader) (int, error) {
	dec := msgpack.NewDecoder(r)

	var header snapshotHeader
	if err := dec.Decode(&header); err != nil {
		return 0, fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if header.Version != snapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}

	count := 0
	for {
		batch := make([]snapshotRow, 0, snapshotBatchSize)
		for len(batch) < snapshotBatchSize {
			var row snapshotRow
			if err := dec.Decode(&row); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return count, fmt.Errorf("failed to decode snapshot row: %w", err)
			}
			batch = append(batch, row)
		}
		if len(batch) == 0 {
			break
		}

		err := s.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
			for _, row := range batch {
				bar := domain.CachedBar{
					Bar: domain.Bar{
						Timestamp: row.Timestamp,
						Open:      row.Open,
						High:      row.High,
						Low:       row.Low,
						Close:     row.Close,
						Volume:    row.Volume,
					},
					Provider:  row.Provider,
					Revision:  row.Revision,
					FetchedAt: row.FetchedAt,
				}
				if _, err := s.repo.PutTx(ctx, tx, row.Symbol, domain.Timeframe(row.Timeframe), bar); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return count, err
		}
		count += len(batch)

		if len(batch) < snapshotBatchSize {
			break
		}
	}

	s.hot.Purge()
	return count, nil
}
