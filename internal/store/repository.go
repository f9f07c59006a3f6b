package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/aristath/barkeep/internal/database"
	"github.com/aristath/barkeep/internal/domain"
)

// BarRepository is the cold-tier data access layer. All statements use `?`
// bindvars and Rebind so the same code runs on SQLite and Postgres.
type BarRepository struct {
	db *database.DB
}

// NewBarRepository creates the repository over an open cold store.
func NewBarRepository(db *database.DB) *BarRepository {
	return &BarRepository{db: db}
}

const barColumns = "symbol, timeframe, timestamp, provider, revision, open, high, low, close, volume, fetched_at"

// barRow carries the symbol and timeframe columns the domain type keys
// implicitly.
type barRow struct {
	Symbol    string `db:"symbol"`
	Timeframe string `db:"timeframe"`
	domain.CachedBar
}

// upsertBarSQL writes one provider's revision stream head. The WHERE clause
// makes the write monotone: a lower or equal revision never replaces a
// higher one, no matter the arrival order.
const upsertBarSQL = `
	INSERT INTO bars (` + barColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol, timeframe, timestamp, provider) DO UPDATE SET
		revision = excluded.revision,
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		volume = excluded.volume,
		fetched_at = excluded.fetched_at
	WHERE excluded.revision > bars.revision`

// PutTx writes one bar inside an open transaction. Returns whether a row
// was actually written; the monotone guard turns stale revisions into
// no-ops.
func (r *BarRepository) PutTx(ctx context.Context, tx *sqlx.Tx, symbol string, tf domain.Timeframe, bar domain.CachedBar) (bool, error) {
	result, err := tx.ExecContext(ctx, r.db.Rebind(upsertBarSQL),
		symbol, string(tf), bar.Timestamp, bar.Provider, bar.Revision,
		bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.FetchedAt)
	if err != nil {
		return false, fmt.Errorf("failed to upsert bar %s/%s@%d from %s: %w", symbol, tf, bar.Timestamp, bar.Provider, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read upsert result for %s/%s@%d: %w", symbol, tf, bar.Timestamp, err)
	}
	return affected > 0, nil
}

// GetAtTimestampTx reads every provider's row at one timestamp inside an
// open transaction, so batch writes observe their own earlier writes.
func (r *BarRepository) GetAtTimestampTx(ctx context.Context, tx *sqlx.Tx, symbol string, tf domain.Timeframe, ts int64) ([]domain.CachedBar, error) {
	var rows []barRow
	err := tx.SelectContext(ctx, &rows, r.db.Rebind(
		"SELECT "+barColumns+" FROM bars WHERE symbol = ? AND timeframe = ? AND timestamp = ?"),
		symbol, string(tf), ts)
	if err != nil {
		return nil, fmt.Errorf("failed to read bars at %s/%s@%d: %w", symbol, tf, ts, err)
	}
	return stripRows(rows), nil
}

// GetAtTimestamp reads every provider's row at one timestamp.
func (r *BarRepository) GetAtTimestamp(ctx context.Context, symbol string, tf domain.Timeframe, ts int64) ([]domain.CachedBar, error) {
	var rows []barRow
	err := r.db.Conn().SelectContext(ctx, &rows, r.db.Rebind(
		"SELECT "+barColumns+" FROM bars WHERE symbol = ? AND timeframe = ? AND timestamp = ?"),
		symbol, string(tf), ts)
	if err != nil {
		return nil, fmt.Errorf("failed to read bars at %s/%s@%d: %w", symbol, tf, ts, err)
	}
	return stripRows(rows), nil
}

// GetRange reads every provider's rows in [from, to] ascending by
// timestamp. The tiered store folds them into one winner per timestamp.
func (r *BarRepository) GetRange(ctx context.Context, symbol string, tf domain.Timeframe, from, to int64) ([]domain.CachedBar, error) {
	var rows []barRow
	err := r.db.Conn().SelectContext(ctx, &rows, r.db.Rebind(
		`SELECT `+barColumns+` FROM bars
		 WHERE symbol = ? AND timeframe = ? AND timestamp BETWEEN ? AND ?
		 ORDER BY timestamp ASC, provider ASC`),
		symbol, string(tf), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read bar range %s/%s: %w", symbol, tf, err)
	}
	return stripRows(rows), nil
}

// GetProviderRange reads one provider's rows in [from, to] ascending.
// The read-through path uses it to stamp revisions onto freshly fetched
// bars against what that provider previously reported.
func (r *BarRepository) GetProviderRange(ctx context.Context, symbol string, tf domain.Timeframe, provider string, from, to int64) ([]domain.CachedBar, error) {
	var rows []barRow
	err := r.db.Conn().SelectContext(ctx, &rows, r.db.Rebind(
		`SELECT `+barColumns+` FROM bars
		 WHERE symbol = ? AND timeframe = ? AND provider = ? AND timestamp BETWEEN ? AND ?
		 ORDER BY timestamp ASC`),
		symbol, string(tf), provider, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s bars for %s/%s: %w", provider, symbol, tf, err)
	}
	return stripRows(rows), nil
}

// GetProviderRevision returns one provider's stored revision at a
// timestamp, or sql.ErrNoRows wrapped when absent.
func (r *BarRepository) GetProviderRevision(ctx context.Context, symbol string, tf domain.Timeframe, ts int64, provider string) (int64, error) {
	var revision int64
	err := r.db.Conn().GetContext(ctx, &revision, r.db.Rebind(
		"SELECT revision FROM bars WHERE symbol = ? AND timeframe = ? AND timestamp = ? AND provider = ?"),
		symbol, string(tf), ts, provider)
	if err != nil {
		return 0, err
	}
	return revision, nil
}

func stripRows(rows []barRow) []domain.CachedBar {
	out := make([]domain.CachedBar, len(rows))
	for i, row := range rows {
		out[i] = row.CachedBar
	}
	return out
}

// correctionRow maps the corrections audit table.
type correctionRow struct {
	Symbol      string          `db:"symbol"`
	Timeframe   string          `db:"timeframe"`
	Timestamp   int64           `db:"timestamp"`
	Type        string          `db:"type"`
	OldProvider sql.NullString  `db:"old_provider"`
	OldRevision sql.NullInt64   `db:"old_revision"`
	OldOpen     sql.NullFloat64 `db:"old_open"`
	OldHigh     sql.NullFloat64 `db:"old_high"`
	OldLow      sql.NullFloat64 `db:"old_low"`
	OldClose    sql.NullFloat64 `db:"old_close"`
	OldVolume   sql.NullFloat64 `db:"old_volume"`
	NewProvider string          `db:"new_provider"`
	NewRevision int64           `db:"new_revision"`
	NewOpen     float64         `db:"new_open"`
	NewHigh     float64         `db:"new_high"`
	NewLow      float64         `db:"new_low"`
	NewClose    float64         `db:"new_close"`
	NewVolume   float64         `db:"new_volume"`
	DetectedAt  int64           `db:"detected_at"`
}

// InsertCorrectionTx appends one correction to the audit table inside the
// same transaction as the winning bar write.
func (r *BarRepository) InsertCorrectionTx(ctx context.Context, tx *sqlx.Tx, event domain.CorrectionEvent) error {
	var oldProvider sql.NullString
	var oldRevision sql.NullInt64
	var oldOpen, oldHigh, oldLow, oldClose, oldVolume sql.NullFloat64
	if event.Old != nil {
		oldProvider = sql.NullString{String: event.Old.Provider, Valid: true}
		oldRevision = sql.NullInt64{Int64: event.Old.Revision, Valid: true}
		oldOpen = sql.NullFloat64{Float64: event.Old.Open, Valid: true}
		oldHigh = sql.NullFloat64{Float64: event.Old.High, Valid: true}
		oldLow = sql.NullFloat64{Float64: event.Old.Low, Valid: true}
		oldClose = sql.NullFloat64{Float64: event.Old.Close, Valid: true}
		oldVolume = sql.NullFloat64{Float64: event.Old.Volume, Valid: true}
	}

	_, err := tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO corrections (
			symbol, timeframe, timestamp, type,
			old_provider, old_revision, old_open, old_high, old_low, old_close, old_volume,
			new_provider, new_revision, new_open, new_high, new_low, new_close, new_volume,
			detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		event.Symbol, string(event.Timeframe), event.Timestamp, string(event.Type),
		oldProvider, oldRevision, oldOpen, oldHigh, oldLow, oldClose, oldVolume,
		event.New.Provider, event.New.Revision, event.New.Open, event.New.High,
		event.New.Low, event.New.Close, event.New.Volume,
		event.DetectedAt)
	if err != nil {
		return fmt.Errorf("failed to record correction for %s/%s@%d: %w", event.Symbol, event.Timeframe, event.Timestamp, err)
	}
	return nil
}

// Corrections reads the audit trail for a series window, ascending by
// timestamp then detection time.
func (r *BarRepository) Corrections(ctx context.Context, symbol string, tf domain.Timeframe, from, to int64) ([]domain.CorrectionEvent, error) {
	var rows []correctionRow
	err := r.db.Conn().SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT * FROM corrections
		WHERE symbol = ? AND timeframe = ? AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC, detected_at ASC`),
		symbol, string(tf), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read corrections for %s/%s: %w", symbol, tf, err)
	}

	out := make([]domain.CorrectionEvent, len(rows))
	for i, row := range rows {
		event := domain.CorrectionEvent{
			Symbol:    row.Symbol,
			Timeframe: domain.Timeframe(row.Timeframe),
			Timestamp: row.Timestamp,
			Type:      domain.CorrectionType(row.Type),
			New: domain.CachedBar{
				Bar: domain.Bar{
					Timestamp: row.Timestamp,
					Open:      row.NewOpen,
					High:      row.NewHigh,
					Low:       row.NewLow,
					Close:     row.NewClose,
					Volume:    row.NewVolume,
				},
				Provider: row.NewProvider,
				Revision: row.NewRevision,
			},
			DetectedAt: row.DetectedAt,
		}
		if row.OldProvider.Valid {
			event.Old = &domain.CachedBar{
				Bar: domain.Bar{
					Timestamp: row.Timestamp,
					Open:      row.OldOpen.Float64,
					High:      row.OldHigh.Float64,
					Low:       row.OldLow.Float64,
					Close:     row.OldClose.Float64,
					Volume:    row.OldVolume.Float64,
				},
				Provider: row.OldProvider.String,
				Revision: row.OldRevision.Int64,
			}
		}
		out[i] = event
	}
	return out, nil
}
