package telemetra

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ChunkState tracks a chunk through its lifecycle.
type ChunkState uint8

const (
	// ChunkOpen is the chunk currently receiving the newest writes for its
	// series-class.
	ChunkOpen ChunkState = iota
	// ChunkClosed is a past chunk that still accepts late arrivals.
	ChunkClosed
	// ChunkCompressed is a re-encoded, immutable chunk.
	ChunkCompressed
	// ChunkExpired is an evicted chunk; its data is gone.
	ChunkExpired
)

// String returns the state name.
func (s ChunkState) String() string {
	switch s {
	case ChunkOpen:
		return "open"
	case ChunkClosed:
		return "closed"
	case ChunkCompressed:
		return "compressed"
	case ChunkExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ChunkID identifies a chunk by series-class and window start (Unix ns).
type ChunkID struct {
	Class string
	Start int64
}

// String returns "class/start".
func (id ChunkID) String() string {
	return id.Class + "/" + strconv.FormatInt(id.Start, 10)
}

// archiveKey is the blob key for the compressed representation.
func (id ChunkID) archiveKey() string {
	return fmt.Sprintf("%s/%020d.chk", id.Class, id.Start)
}

// parseArchiveKey inverts archiveKey.
func parseArchiveKey(key string) (ChunkID, bool) {
	rest, ok := strings.CutSuffix(key, ".chk")
	if !ok {
		return ChunkID{}, false
	}
	idx := strings.LastIndexByte(rest, '/')
	if idx <= 0 {
		return ChunkID{}, false
	}
	start, err := strconv.ParseInt(rest[idx+1:], 10, 64)
	if err != nil {
		return ChunkID{}, false
	}
	return ChunkID{Class: rest[:idx], Start: start}, true
}

// ParseChunkID parses the String form.
func ParseChunkID(s string) (ChunkID, error) {
	idx := strings.LastIndexByte(s, '/')
	if idx <= 0 {
		return ChunkID{}, fmt.Errorf("%w: %q", ErrChunkNotFound, s)
	}
	start, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return ChunkID{}, fmt.Errorf("%w: %q", ErrChunkNotFound, s)
	}
	return ChunkID{Class: s[:idx], Start: start}, nil
}

// seriesColumn holds one (device, metric) series within a chunk as
// parallel, timestamp-sorted arrays.
type seriesColumn struct {
	deviceID string
	metric   string
	unit     string

	ts      []int64
	val     []float64
	str     []string
	kind    []uint8
	quality []uint8
	tags    []map[string]string
}

// insert adds or replaces a reading, keeping the arrays sorted by
// timestamp. Returns true when an existing row was replaced.
func (c *seriesColumn) insert(r Reading) bool {
	if c.unit == "" && r.Unit != "" {
		c.unit = r.Unit
	}
	i := sort.Search(len(c.ts), func(i int) bool { return c.ts[i] >= r.Timestamp })
	if i < len(c.ts) && c.ts[i] == r.Timestamp {
		c.setRow(i, r)
		return true
	}
	c.ts = append(c.ts, 0)
	c.val = append(c.val, 0)
	c.str = append(c.str, "")
	c.kind = append(c.kind, 0)
	c.quality = append(c.quality, 0)
	c.tags = append(c.tags, nil)
	copy(c.ts[i+1:], c.ts[i:])
	copy(c.val[i+1:], c.val[i:])
	copy(c.str[i+1:], c.str[i:])
	copy(c.kind[i+1:], c.kind[i:])
	copy(c.quality[i+1:], c.quality[i:])
	copy(c.tags[i+1:], c.tags[i:])
	c.setRow(i, r)
	return false
}

func (c *seriesColumn) setRow(i int, r Reading) {
	c.ts[i] = r.Timestamp
	c.val[i] = r.Value
	c.str[i] = r.StrValue
	c.kind[i] = uint8(r.Kind)
	c.quality[i] = uint8(r.Quality)
	c.tags[i] = cloneTags(r.Tags)
}

func (c *seriesColumn) readingAt(i int) Reading {
	return Reading{
		DeviceID:  c.deviceID,
		Metric:    c.metric,
		Timestamp: c.ts[i],
		Kind:      ValueKind(c.kind[i]),
		Value:     c.val[i],
		StrValue:  c.str[i],
		Quality:   Quality(c.quality[i]),
		Unit:      c.unit,
		Tags:      cloneTags(c.tags[i]),
	}
}

// rangeReadings returns readings in [start, end) with timestamps strictly
// after afterTS, up to limit (0 = unbounded). Caller holds the chunk lock.
func (c *seriesColumn) rangeReadings(start, end, afterTS int64, limit int) []Reading {
	lo := start
	if afterTS >= lo {
		lo = afterTS + 1
	}
	i := sort.Search(len(c.ts), func(i int) bool { return c.ts[i] >= lo })
	var out []Reading
	for ; i < len(c.ts) && c.ts[i] < end; i++ {
		out = append(out, c.readingAt(i))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// lastAtOrBefore returns the latest reading with timestamp <= ts.
func (c *seriesColumn) lastAtOrBefore(ts int64) (Reading, bool) {
	i := sort.Search(len(c.ts), func(i int) bool { return c.ts[i] > ts })
	if i == 0 {
		return Reading{}, false
	}
	return c.readingAt(i - 1), true
}

// Chunk is a fixed time-width partition of raw readings for one
// series-class. Chunks are owned exclusively by the ChunkStore.
type Chunk struct {
	id    ChunkID
	start int64 // inclusive
	end   int64 // exclusive

	mu       sync.RWMutex
	state    ChunkState
	series   map[SeriesKey]*seriesColumn
	rowCount int64
	minTime  int64
	maxTime  int64
	// gen counts accepted writes, including replacements. Compression
	// snapshots record it so a snapshot that a late arrival has outdated
	// is never swapped in over the live columns.
	gen int64

	// loaded is false when a compressed chunk's columns have been dropped
	// and must be reloaded from the archive before reads.
	loaded bool
}

func newChunk(id ChunkID, width int64) *Chunk {
	return &Chunk{
		id:     id,
		start:  id.Start,
		end:    id.Start + width,
		state:  ChunkOpen,
		series: make(map[SeriesKey]*seriesColumn),
		loaded: true,
	}
}

// newArchivedChunk registers a chunk whose compressed blob already lives
// in the archive; its columns load lazily on first read.
func newArchivedChunk(id ChunkID, width int64) *Chunk {
	c := newChunk(id, width)
	c.state = ChunkCompressed
	c.series = nil
	c.loaded = false
	return c
}

// ID returns the chunk identity.
func (c *Chunk) ID() ChunkID { return c.id }

// State returns the current lifecycle state.
func (c *Chunk) State() ChunkState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Bounds returns the chunk window [start, end).
func (c *Chunk) Bounds() (start, end int64) { return c.start, c.end }

// RowCount returns the number of stored readings.
func (c *Chunk) RowCount() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rowCount
}

// appendLocked inserts a reading. The chunk must be open or closed and
// loaded; the caller verified the timestamp is inside the window.
// Returns whether an existing row was replaced.
func (c *Chunk) append(r Reading) (replaced bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ChunkCompressed || c.state == ChunkExpired {
		return false, newChunkError(ChunkOpAppend, c.id, ErrTooOld)
	}
	key := seriesKeyOf(r)
	col, ok := c.series[key]
	if !ok {
		col = &seriesColumn{deviceID: r.DeviceID, metric: r.Metric}
		c.series[key] = col
	}
	replaced = col.insert(r)
	if !replaced {
		if c.rowCount == 0 || r.Timestamp < c.minTime {
			c.minTime = r.Timestamp
		}
		if c.rowCount == 0 || r.Timestamp > c.maxTime {
			c.maxTime = r.Timestamp
		}
		c.rowCount++
	}
	c.gen++
	return replaced, nil
}

// close transitions an open chunk to closed.
func (c *Chunk) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ChunkOpen {
		c.state = ChunkClosed
	}
}

// queryRange collects readings for one series within [start, end), after
// afterTS, up to limit. Requires the chunk to be loaded.
func (c *Chunk) queryRange(device, metric string, start, end, afterTS int64, limit int) []Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	col, ok := c.series[SeriesKey{DeviceID: device, Metric: metric}]
	if !ok {
		return nil
	}
	return col.rangeReadings(start, end, afterTS, limit)
}

// lastAtOrBefore returns the latest reading for one series at or before ts.
func (c *Chunk) lastAtOrBefore(device, metric string, ts int64) (Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	col, ok := c.series[SeriesKey{DeviceID: device, Metric: metric}]
	if !ok {
		return Reading{}, false
	}
	return col.lastAtOrBefore(ts)
}

// devices returns the distinct device IDs present in the chunk.
func (c *Chunk) devices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for key := range c.series {
		if _, ok := seen[key.DeviceID]; !ok {
			seen[key.DeviceID] = struct{}{}
			out = append(out, key.DeviceID)
		}
	}
	return out
}

// snapshot returns an encoded representation of the chunk contents built
// under a read lock, so compression never blocks concurrent readers, plus
// the write generation the encoding captured.
func (c *Chunk) snapshot() ([]byte, int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	blob, err := encodeChunk(c.start, c.end, c.minTime, c.maxTime, c.rowCount, c.series)
	return blob, c.gen, err
}

// markCompressedIf swaps the chunk to its compressed state and drops the
// decoded columns, provided no write landed since the snapshot taken at
// gen. Returns false when the chunk changed and the caller must
// re-encode; the encoded blob must already live in the archive.
func (c *Chunk) markCompressedIf(gen int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ChunkCompressed {
		return true
	}
	if c.gen != gen {
		return false
	}
	c.state = ChunkCompressed
	c.series = nil
	c.loaded = false
	return true
}

// markExpired transitions the chunk to expired and drops all data.
func (c *Chunk) markExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ChunkExpired
	c.series = nil
	c.loaded = false
}

// installDecoded installs decoded columns loaded from the archive.
func (c *Chunk) installDecoded(d *decodedChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded || c.state != ChunkCompressed {
		return
	}
	c.series = d.series
	c.minTime = d.minTime
	c.maxTime = d.maxTime
	c.rowCount = d.rowCount
	c.loaded = true
}

func (c *Chunk) isLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}
