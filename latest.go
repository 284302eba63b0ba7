package telemetra

import "sync"

// latestIndex is an arena of per-series slots holding the most recent
// reading, updated alongside each append rather than maintained as a
// separately synchronized table.
type latestIndex struct {
	mu    sync.RWMutex
	slots map[SeriesKey]Reading
}

func newLatestIndex() *latestIndex {
	return &latestIndex{slots: make(map[SeriesKey]Reading)}
}

// update installs r if it is at least as new as the current slot.
func (idx *latestIndex) update(r Reading) {
	key := seriesKeyOf(r)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cur, ok := idx.slots[key]
	if !ok || r.Timestamp >= cur.Timestamp {
		idx.slots[key] = r
	}
}

// get returns the most recent reading for a series.
func (idx *latestIndex) get(key SeriesKey) (Reading, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.slots[key]
	return r, ok
}

// drop removes matching slots whose reading lives in [lo, hi); called
// when the chunk backing that window is evicted. Returns the removed
// keys so callers can rebuild slots from older retained chunks.
func (idx *latestIndex) drop(lo, hi int64, match func(SeriesKey) bool) []SeriesKey {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var dropped []SeriesKey
	for key, r := range idx.slots {
		if r.Timestamp >= lo && r.Timestamp < hi && match(key) {
			delete(idx.slots, key)
			dropped = append(dropped, key)
		}
	}
	return dropped
}
