package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/barkeep/internal/domain"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	source := newTestStore(t)
	ctx := context.Background()

	_, err := source.PutMany(ctx, "AAPL", domain.Timeframe5m, []domain.CachedBar{
		testBar(base, "polygon", 1, 100),
		testBar(base+300_000, "polygon", 1, 101),
	})
	require.NoError(t, err)
	_, err = source.Put(ctx, "ES", domain.Timeframe1m, testBar(base, "yahoo", 2, 4500))
	require.NoError(t, err)

	var buf bytes.Buffer
	written, err := source.Snapshot(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	target := newTestStore(t)
	restored, err := target.Restore(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, restored)

	got, err := target.GetRange(ctx, "AAPL", domain.Timeframe5m, base, base+300_000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 100.0, got[0].Close)

	bar, err := target.Get(ctx, "ES", domain.Timeframe1m, base)
	require.NoError(t, err)
	require.NotNil(t, bar)
	assert.Equal(t, int64(2), bar.Revision)
	assert.Equal(t, "yahoo", bar.Provider)
}

func TestRestoreIsAdditiveAndMonotone(t *testing.T) {
	source := newTestStore(t)
	ctx := context.Background()

	_, err := source.Put(ctx, "AAPL", domain.Timeframe5m, testBar(base, "polygon", 1, 100))
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = source.Snapshot(ctx, &buf)
	require.NoError(t, err)

	// Target has already moved past the archived revision.
	target := newTestStore(t)
	_, err = target.Put(ctx, "AAPL", domain.Timeframe5m, testBar(base, "polygon", 3, 102))
	require.NoError(t, err)

	_, err = target.Restore(ctx, &buf)
	require.NoError(t, err)

	bar, err := target.Get(ctx, "AAPL", domain.Timeframe5m, base)
	require.NoError(t, err)
	assert.Equal(t, int64(3), bar.Revision, "restore never rolls a revision back")
	assert.Equal(t, 102.0, bar.Close)
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	target := newTestStore(t)

	var buf bytes.Buffer
	buf.Write([]byte{0x81}) // msgpack map with bogus content
	buf.WriteString("x")

	_, err := target.Restore(context.Background(), &buf)
	assert.Error(t, err)
}
