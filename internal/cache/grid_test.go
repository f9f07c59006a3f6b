package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/barkeep/internal/domain"
	"github.com/aristath/barkeep/internal/freshness"
	testingpkg "github.com/aristath/barkeep/internal/testing"
)

// gridBase is aligned to every supported timeframe.
const gridBase = int64(1_700_000_000_000 - 1_700_000_000_000%86_400_000)

func TestGridAlignedWindow(t *testing.T) {
	got := grid(domain.Timeframe10m, gridBase, gridBase+3_599_999)
	assert.Len(t, got, 6)
	for i, ts := range got {
		assert.Equal(t, gridBase+int64(i)*600_000, ts)
	}
}

func TestGridUnalignedFromRoundsUp(t *testing.T) {
	// from falls inside the first bucket; the grid starts at the next slot.
	got := grid(domain.Timeframe10m, gridBase+1, gridBase+3_599_999)
	assert.Len(t, got, 5)
	assert.Equal(t, gridBase+600_000, got[0])
}

func TestGridDegenerateWindows(t *testing.T) {
	assert.Nil(t, grid(domain.Timeframe10m, gridBase+10, gridBase), "reversed")
	assert.Nil(t, grid(domain.Timeframe("7m"), gridBase, gridBase+600_000), "unknown timeframe")
	assert.Nil(t, grid(domain.Timeframe1D, gridBase+1, gridBase+2), "window inside one bucket")
}

func TestRefreshTargetsClassification(t *testing.T) {
	policy := freshness.NewPolicy(nil)
	now := time.UnixMilli(gridBase + time.Hour.Milliseconds())
	expected := grid(domain.Timeframe5m, gridBase, gridBase+3*300_000-1)

	fresh := testingpkg.CachedBarAt(gridBase, "polygon", 1, 100)
	fresh.FetchedAt = now.UnixMilli()
	stale := testingpkg.CachedBarAt(gridBase+300_000, "polygon", 1, 101)
	stale.FetchedAt = gridBase // fetched an hour ago, past the 5m TTL

	// Slot gridBase+600_000 is missing entirely.
	got := refreshTargets(expected, []domain.CachedBar{fresh, stale}, policy, domain.Timeframe5m, now)
	assert.Equal(t, []int64{gridBase + 300_000, gridBase + 600_000}, got)
}

func TestCoalesceFoldsContiguousRuns(t *testing.T) {
	const step = int64(300_000)
	got := coalesce([]int64{
		gridBase,
		gridBase + step,
		gridBase + 2*step,
		gridBase + 5*step,
		gridBase + 7*step,
		gridBase + 8*step,
	}, step)

	assert.Equal(t, []subRange{
		{From: gridBase, To: gridBase + 2*step},
		{From: gridBase + 5*step, To: gridBase + 5*step},
		{From: gridBase + 7*step, To: gridBase + 8*step},
	}, got)
}

func TestCoalesceEmpty(t *testing.T) {
	assert.Nil(t, coalesce(nil, 60_000))
}
