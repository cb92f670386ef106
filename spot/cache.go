package spot

import (
	"sort"
	"sync"
	"time"
)

// ChangeKind is the outcome of an upsert against the live cache.
type ChangeKind int

const (
	// Unchanged means an entry with the same id and equal core fields exists
	Unchanged ChangeKind = iota
	// Created means no entry with this id existed before
	Created
	// Updated means an existing entry was replaced with different core fields
	Updated
)

// String returns the string representation of ChangeKind
func (k ChangeKind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// Entry is the constraint for cacheable spot kinds.
type Entry interface {
	SpotID() int64
	SpotTime() time.Time
}

// Cache is an ordered, keyed, time-bounded collection of the most recent
// spots from one source. Entries are ordered by ascending id; because the
// source assigns ids monotonically and timestamps co-vary with ids, the
// minimum-key entry is always the oldest, which makes age-based expiry a
// repeated min-key eviction.
//
// All methods are safe for concurrent use. Each cache has exactly one
// mutating owner (its ingestor); readers observe point-in-time snapshots.
type Cache[T Entry] struct {
	mu    sync.RWMutex
	byID  map[int64]T
	ids   []int64 // sorted ascending
	equal func(a, b T) bool
}

// NewCache creates an empty cache. equal decides whether an upsert for an
// existing id is a real change; nil means any upsert of an existing id is an
// update.
func NewCache[T Entry](equal func(a, b T) bool) *Cache[T] {
	return &Cache[T]{
		byID:  make(map[int64]T),
		equal: equal,
	}
}

// Len returns the number of cached entries.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// Get returns the entry with the given id.
func (c *Cache[T]) Get(id int64) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.byID[id]
	return v, ok
}

// Upsert inserts or replaces the entry under its id and reports whether this
// was a creation, an update, or a no-op.
func (c *Cache[T]) Upsert(v T) ChangeKind {
	id := v.SpotID()

	c.mu.Lock()
	defer c.mu.Unlock()

	old, exists := c.byID[id]
	if exists {
		if c.equal != nil && c.equal(old, v) {
			return Unchanged
		}
		c.byID[id] = v
		return Updated
	}

	c.byID[id] = v
	pos := sort.Search(len(c.ids), func(i int) bool { return c.ids[i] >= id })
	c.ids = append(c.ids, 0)
	copy(c.ids[pos+1:], c.ids[pos:])
	c.ids[pos] = id
	return Created
}

// Remove deletes the entry with the given id, reporting whether it existed.
func (c *Cache[T]) Remove(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(id)
}

func (c *Cache[T]) removeLocked(id int64) bool {
	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	pos := sort.Search(len(c.ids), func(i int) bool { return c.ids[i] >= id })
	c.ids = append(c.ids[:pos], c.ids[pos+1:]...)
	return true
}

// RemoveOlderThan evicts entries older than maxAge relative to now and
// returns the removed ids in eviction order. Eviction repeatedly removes the
// minimum-key entry while it exceeds maxAge and stops at the first young
// entry; this is correct because ids and timestamps co-vary monotonically.
func (c *Cache[T]) RemoveOlderThan(maxAge time.Duration, now time.Time) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []int64
	for len(c.ids) > 0 {
		minID := c.ids[0]
		if now.Sub(c.byID[minID].SpotTime()) <= maxAge {
			break
		}
		c.removeLocked(minID)
		removed = append(removed, minID)
	}
	return removed
}

// RemoveMissing reconciles upstream deletions after a full reload: every
// cached id that is >= minID but absent from present is removed. Entries
// below minID are outside the reload window and are never touched.
func (c *Cache[T]) RemoveMissing(minID int64, present map[int64]struct{}) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []int64
	for _, id := range c.ids {
		if id < minID {
			continue
		}
		if _, ok := present[id]; !ok {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		c.removeLocked(id)
	}
	return removed
}

// TrimToSize evicts minimum-key entries until at most max remain, returning
// the removed ids. Bounds memory on sources without upstream expiry.
func (c *Cache[T]) TrimToSize(max int) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []int64
	for len(c.ids) > max {
		minID := c.ids[0]
		c.removeLocked(minID)
		removed = append(removed, minID)
	}
	return removed
}

// Snapshot returns a copy of all entries ordered by ascending id.
func (c *Cache[T]) Snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]T, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.byID[id])
	}
	return out
}
