package spot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSpotCache() *Cache[Spot] {
	return NewCache[Spot](func(a, b Spot) bool { return a.Equal(b) })
}

func cachedSpot(id int64, ts time.Time) Spot {
	return Spot{
		ID:                id,
		Timestamp:         ts,
		Summit:            SummitRef{Code: "HB/VD-006"},
		ActivatorCallsign: "HB9XYZ",
		Callsign:          "HB9DQM",
		Frequency:         14.062,
		Mode:              "cw",
	}
}

func TestUpsertChangeKinds(t *testing.T) {
	c := newSpotCache()
	now := time.Now()

	s := cachedSpot(1, now)
	assert.Equal(t, Created, c.Upsert(s))
	assert.Equal(t, Unchanged, c.Upsert(s))

	// Enrichment-only change is no change
	enriched := s
	enriched.Summit.Name = "Tour d'Aï"
	enriched.Summit.Points = 10
	assert.Equal(t, Unchanged, c.Upsert(enriched))

	// Core field change is an update
	changed := s
	changed.Frequency = 7.032
	assert.Equal(t, Updated, c.Upsert(changed))
	assert.Equal(t, 1, c.Len())

	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, 7.032, got.Frequency)
}

func TestSnapshotOrderedByID(t *testing.T) {
	c := newSpotCache()
	now := time.Now()
	for _, id := range []int64{5, 1, 4, 2, 3} {
		c.Upsert(cachedSpot(id, now))
	}

	snap := c.Snapshot()
	require.Len(t, snap, 5)
	for i, s := range snap {
		assert.Equal(t, int64(i+1), s.ID)
	}
}

// Expiry walks the minimum key upward: the lowest ids are the oldest entries,
// and eviction stops at the first entry young enough to keep.
func TestRemoveOlderThan(t *testing.T) {
	c := newSpotCache()
	now := time.Now()

	// id 1 is oldest (50 min), id 5 newest (10 min)
	ages := map[int64]time.Duration{
		1: 50 * time.Minute,
		2: 40 * time.Minute,
		3: 30 * time.Minute,
		4: 20 * time.Minute,
		5: 10 * time.Minute,
	}
	for id, age := range ages {
		c.Upsert(cachedSpot(id, now.Add(-age)))
	}

	removed := c.RemoveOlderThan(35*time.Minute, now)
	assert.Equal(t, []int64{1, 2}, removed)
	assert.Equal(t, 3, c.Len())

	_, ok := c.Get(3)
	assert.True(t, ok)
}

// A non-minimum entry older than the threshold must never be removed out of
// order: eviction stops at the first young minimum.
func TestRemoveOlderThanStopsAtYoungMinimum(t *testing.T) {
	c := newSpotCache()
	now := time.Now()

	c.Upsert(cachedSpot(1, now.Add(-10*time.Minute))) // young minimum
	c.Upsert(cachedSpot(2, now.Add(-90*time.Minute))) // stale but not minimum

	removed := c.RemoveOlderThan(35*time.Minute, now)
	assert.Empty(t, removed)
	assert.Equal(t, 2, c.Len())
}

func TestRemoveMissing(t *testing.T) {
	c := newSpotCache()
	now := time.Now()
	for _, id := range []int64{99, 100, 101, 102, 103} {
		c.Upsert(cachedSpot(id, now))
	}

	present := map[int64]struct{}{100: {}, 101: {}, 103: {}}
	removed := c.RemoveMissing(100, present)

	assert.Equal(t, []int64{102}, removed)

	// Below the reload window: untouched
	_, ok := c.Get(99)
	assert.True(t, ok)
	assert.Equal(t, 4, c.Len())
}

func TestRemoveMissingEmptyCache(t *testing.T) {
	c := newSpotCache()
	assert.Empty(t, c.RemoveMissing(1, map[int64]struct{}{}))
}

func TestRemove(t *testing.T) {
	c := newSpotCache()
	c.Upsert(cachedSpot(7, time.Now()))

	assert.True(t, c.Remove(7))
	assert.False(t, c.Remove(7))
	assert.Equal(t, 0, c.Len())
}

func TestTrimToSize(t *testing.T) {
	c := newSpotCache()
	now := time.Now()
	for id := int64(1); id <= 5; id++ {
		c.Upsert(cachedSpot(id, now))
	}

	removed := c.TrimToSize(3)
	assert.Equal(t, []int64{1, 2}, removed)
	assert.Equal(t, 3, c.Len())

	assert.Empty(t, c.TrimToSize(3))
}

func TestNilEqualTreatsExistingAsUpdate(t *testing.T) {
	c := NewCache[RBNSpot](nil)
	r := RBNSpot{ID: 1, Timestamp: time.Now(), Callsign: "HB9XYZ"}
	assert.Equal(t, Created, c.Upsert(r))
	assert.Equal(t, Updated, c.Upsert(r))
}
