package telemetra

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RejectedReading pairs a rejected reading with the reason.
type RejectedReading struct {
	Reading Reading
	Reason  RejectReason
	Err     error
}

// AppendResult reports per-item outcomes for one ingest batch.
type AppendResult struct {
	// BatchID identifies the batch for external ingestion auditing.
	BatchID uuid.UUID
	// Accepted is the number of readings written.
	Accepted int
	// Rejected lists readings that were not written, with reasons.
	Rejected []RejectedReading
}

// appendEvent notifies the rollup engine about one accepted reading.
type appendEvent struct {
	reading Reading
	// replaced is true when an existing row with the same key was
	// overwritten, which invalidates streaming bucket statistics.
	replaced bool
}

// classState tracks the chunk directory for one series-class.
type classState struct {
	cfg *SeriesClassConfig

	mu     sync.Mutex
	chunks map[int64]*Chunk
	order  []int64 // sorted chunk starts
	// openStart is the start of the one open chunk, or 0 before first write.
	openStart int64
	// floor is the exclusive upper bound of windows already compressed or
	// evicted; writes below it are rejected as too old.
	floor int64
}

// ChunkStore partitions raw readings into fixed-width time chunks per
// series-class and owns their whole lifecycle.
type ChunkStore struct {
	cfg     *Config
	archive ArchiveBackend
	enc     *Encryptor
	classes map[string]*classState
	latest  *latestIndex
	logger  *slog.Logger

	// onAppend receives accepted readings after each batch; wired to the
	// rollup engine by the store.
	onAppend func(events []appendEvent)

	// now is replaceable in tests.
	now func() time.Time
}

// NewChunkStore builds a chunk store for the configured classes.
func NewChunkStore(cfg *Config, archive ArchiveBackend, enc *Encryptor) *ChunkStore {
	classes := make(map[string]*classState, len(cfg.Classes))
	for i := range cfg.Classes {
		cl := &cfg.Classes[i]
		classes[cl.Name] = &classState{cfg: cl, chunks: make(map[int64]*Chunk)}
	}
	return &ChunkStore{
		cfg:     cfg,
		archive: archive,
		enc:     enc,
		classes: classes,
		latest:  newLatestIndex(),
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

// Append writes a batch of readings, splitting it across target chunks by
// timestamp. Malformed readings and readings whose window is already
// compressed or evicted are rejected per item; the batch never fails as a
// whole. Duplicate keys within the batch are last-write-wins.
func (s *ChunkStore) Append(ctx context.Context, batch []Reading) (*AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := &AppendResult{BatchID: uuid.New()}
	if len(batch) == 0 {
		return result, nil
	}

	// Last-write-wins within the batch: keep only the final occurrence of
	// each (device, metric, timestamp) key.
	lastIdx := make(map[ReadingKey]int, len(batch))
	for i, r := range batch {
		lastIdx[r.Key()] = i
	}

	events := make([]appendEvent, 0, len(batch))
	for i, r := range batch {
		if lastIdx[r.Key()] != i {
			continue
		}
		if err := ValidateReading(r); err != nil {
			result.Rejected = append(result.Rejected, RejectedReading{Reading: r, Reason: RejectValidation, Err: err})
			continue
		}
		chunk, err := s.targetChunk(r)
		if err != nil {
			result.Rejected = append(result.Rejected, RejectedReading{Reading: r, Reason: RejectTooOld, Err: err})
			continue
		}
		replaced, err := chunk.append(r)
		if err != nil {
			result.Rejected = append(result.Rejected, RejectedReading{Reading: r, Reason: RejectTooOld, Err: err})
			continue
		}
		s.latest.update(r)
		result.Accepted++
		events = append(events, appendEvent{reading: r, replaced: replaced})
	}

	if len(events) > 0 && s.onAppend != nil {
		s.onAppend(events)
	}
	return result, nil
}

// targetChunk resolves (creating if needed) the chunk for a reading.
func (s *ChunkStore) targetChunk(r Reading) (*Chunk, error) {
	class := s.classes[s.cfg.classFor(r.Metric).Name]
	width := int64(class.cfg.ChunkWidth)
	start := alignDownDur(r.Timestamp, class.cfg.ChunkWidth)

	class.mu.Lock()
	defer class.mu.Unlock()

	if start < class.floor {
		return nil, ErrTooOld
	}
	if chunk, ok := class.chunks[start]; ok {
		switch chunk.State() {
		case ChunkCompressed, ChunkExpired:
			return nil, ErrTooOld
		}
		return chunk, nil
	}

	id := ChunkID{Class: class.cfg.Name, Start: start}
	chunk := newChunk(id, width)
	if start > class.openStart {
		// Rolling forward: the previous open chunk closes so exactly one
		// chunk per class accepts the newest writes.
		if prev, ok := class.chunks[class.openStart]; ok {
			prev.close()
		}
		class.openStart = start
	} else {
		// A window older than the open chunk that never saw data; it is
		// born closed.
		chunk.close()
	}
	class.chunks[start] = chunk
	class.insertOrderLocked(start)
	return chunk, nil
}

func (c *classState) insertOrderLocked(start int64) {
	i := sort.Search(len(c.order), func(i int) bool { return c.order[i] >= start })
	c.order = append(c.order, 0)
	copy(c.order[i+1:], c.order[i:])
	c.order[i] = start
}

// recoverArchived re-registers compressed chunks found in the archive,
// so a restarted store can still reach data a previous process archived.
// Recovered windows also raise the too-old floor, matching the state the
// chunks were compressed under.
func (s *ChunkStore) recoverArchived(ctx context.Context) error {
	keys, err := s.archive.List(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		id, ok := parseArchiveKey(key)
		if !ok {
			continue
		}
		class, ok := s.classes[id.Class]
		if !ok {
			s.logger.Warn("archived chunk for unknown class", "key", key)
			continue
		}
		width := int64(class.cfg.ChunkWidth)
		class.mu.Lock()
		if _, exists := class.chunks[id.Start]; !exists {
			class.chunks[id.Start] = newArchivedChunk(id, width)
			class.insertOrderLocked(id.Start)
		}
		if end := id.Start + width; end > class.floor {
			class.floor = end
		}
		class.mu.Unlock()
	}
	return nil
}

// RestoreEvictionFloor re-applies persisted eviction progress. Evicted
// chunks leave no archive blob behind, so after a restart the checkpoint
// is the only record that their windows must keep rejecting writes.
func (s *ChunkStore) RestoreEvictionFloor(className string, lastEvicted int64) {
	class, ok := s.classes[className]
	if !ok {
		return
	}
	end := lastEvicted + int64(class.cfg.ChunkWidth)
	class.mu.Lock()
	if end > class.floor {
		class.floor = end
	}
	class.mu.Unlock()
}

// QueryRange opens a cursor over one series' readings in [start, end),
// ascending by timestamp.
func (s *ChunkStore) QueryRange(device, metric string, start, end int64) (*ReadingCursor, error) {
	if start >= end {
		return nil, ErrInvalidQuery
	}
	return &ReadingCursor{
		store:    s,
		device:   device,
		metric:   metric,
		start:    start,
		end:      end,
		pageSize: s.cfg.Query.PageSize,
		afterTS:  start - 1,
	}, nil
}

// collectRange gathers up to limit readings with timestamp in
// (afterTS, end) ∩ [start, end) across all overlapping chunks.
func (s *ChunkStore) collectRange(ctx context.Context, device, metric string, start, end, afterTS int64, limit int) ([]Reading, error) {
	class := s.classes[s.cfg.classFor(metric).Name]
	lo := start
	if afterTS+1 > lo {
		lo = afterTS + 1
	}
	chunks := class.overlapping(lo, end)

	// On a context error the readings gathered so far are returned with
	// it, so callers can serve a partial page.
	var out []Reading
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := s.ensureLoaded(ctx, chunk); err != nil {
			return out, err
		}
		remaining := 0
		if limit > 0 {
			remaining = limit - len(out)
			if remaining <= 0 {
				break
			}
		}
		out = append(out, chunk.queryRange(device, metric, start, end, afterTS, remaining)...)
	}
	return out, nil
}

// overlapping returns chunks whose window intersects [lo, hi), ascending.
func (c *classState) overlapping(lo, hi int64) []*Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	width := int64(c.cfg.ChunkWidth)
	var out []*Chunk
	for _, start := range c.order {
		if start >= hi {
			break
		}
		if start+width <= lo {
			continue
		}
		if chunk, ok := c.chunks[start]; ok && chunk.State() != ChunkExpired {
			out = append(out, chunk)
		}
	}
	return out
}

// LastAtOrBefore finds the most recent reading for a series at or before
// ts, scanning chunks newest-first.
func (s *ChunkStore) LastAtOrBefore(ctx context.Context, device, metric string, ts int64) (Reading, bool, error) {
	class := s.classes[s.cfg.classFor(metric).Name]
	class.mu.Lock()
	starts := append([]int64(nil), class.order...)
	class.mu.Unlock()

	for i := len(starts) - 1; i >= 0; i-- {
		if starts[i] > ts {
			continue
		}
		class.mu.Lock()
		chunk, ok := class.chunks[starts[i]]
		class.mu.Unlock()
		if !ok || chunk.State() == ChunkExpired {
			continue
		}
		if err := s.ensureLoaded(ctx, chunk); err != nil {
			return Reading{}, false, err
		}
		if r, ok := chunk.lastAtOrBefore(device, metric, ts); ok {
			return r, true, nil
		}
	}
	return Reading{}, false, nil
}

// Latest returns the most recent reading for a series from the latest
// index.
func (s *ChunkStore) Latest(device, metric string) (Reading, bool) {
	return s.latest.get(SeriesKey{DeviceID: device, Metric: metric})
}

// ensureLoaded reloads a compressed chunk's columns from the archive.
func (s *ChunkStore) ensureLoaded(ctx context.Context, chunk *Chunk) error {
	if chunk.isLoaded() {
		return nil
	}
	blob, err := s.archive.Read(ctx, chunk.ID().archiveKey())
	if err != nil {
		return newChunkError(ChunkOpLoad, chunk.ID(), err)
	}
	if s.enc != nil {
		if blob, err = s.enc.Decrypt(blob); err != nil {
			return newChunkError(ChunkOpLoad, chunk.ID(), err)
		}
	}
	decoded, err := decodeChunk(blob)
	if err != nil {
		return newChunkError(ChunkOpLoad, chunk.ID(), err)
	}
	chunk.installDecoded(decoded)
	return nil
}

// Compress re-encodes a closed chunk into its columnar compressed
// representation and archives it. Compressing an already-compressed chunk
// is a no-op success. The encode runs against a read-locked snapshot, so
// concurrent readers see either the fully uncompressed or fully
// compressed state, never a partial one. Closed chunks keep accepting
// late arrivals until the swap; a write that lands mid-encode outdates
// the snapshot and the chunk is re-encoded.
func (s *ChunkStore) Compress(ctx context.Context, id ChunkID) error {
	class, ok := s.classes[id.Class]
	if !ok {
		return ErrChunkNotFound
	}
	class.mu.Lock()
	chunk, ok := class.chunks[id.Start]
	class.mu.Unlock()
	if !ok {
		return ErrChunkNotFound
	}

	switch chunk.State() {
	case ChunkCompressed:
		return nil
	case ChunkExpired:
		return newChunkError(ChunkOpCompress, id, ErrChunkNotFound)
	case ChunkOpen:
		return newChunkError(ChunkOpCompress, id, ErrInvalidQuery)
	}

	var size int
	for {
		blob, gen, err := chunk.snapshot()
		if err != nil {
			return newChunkError(ChunkOpCompress, id, err)
		}
		if s.enc != nil {
			if blob, err = s.enc.Encrypt(blob); err != nil {
				return newChunkError(ChunkOpCompress, id, err)
			}
		}
		if err := ctx.Err(); err != nil {
			// Canceled before the swap: the chunk stays uncompressed and valid.
			return err
		}
		if err := s.archive.Write(ctx, id.archiveKey(), blob); err != nil {
			return newChunkError(ChunkOpCompress, id, err)
		}
		size = len(blob)
		if chunk.markCompressedIf(gen) {
			break
		}
		// A late arrival was accepted after the snapshot; re-encode so the
		// archived blob holds it before the columns are dropped.
	}

	class.mu.Lock()
	if end := id.Start + int64(class.cfg.ChunkWidth); end > class.floor {
		class.floor = end
	}
	class.mu.Unlock()

	s.logger.Debug("chunk compressed", "chunk", id.String(), "bytes", size)
	return nil
}

// Evict irreversibly deletes a chunk once it is older than the raw
// retention that applies to every site it holds.
func (s *ChunkStore) Evict(ctx context.Context, id ChunkID) error {
	class, ok := s.classes[id.Class]
	if !ok {
		return ErrChunkNotFound
	}
	class.mu.Lock()
	chunk, ok := class.chunks[id.Start]
	class.mu.Unlock()
	if !ok {
		return ErrChunkNotFound
	}

	retention, err := s.effectiveRetention(ctx, class, chunk)
	if err != nil {
		return newChunkError(ChunkOpEvict, id, err)
	}
	end := id.Start + int64(class.cfg.ChunkWidth)
	if s.now().UnixNano()-end < int64(retention) {
		return newChunkError(ChunkOpEvict, id, ErrEvictionDenied)
	}

	if err := s.archive.Delete(ctx, id.archiveKey()); err != nil {
		return newChunkError(ChunkOpEvict, id, err)
	}
	chunk.markExpired()

	// Latest slots pointing into the evicted window go with the chunk.
	dropped := s.latest.drop(id.Start, end, func(key SeriesKey) bool {
		return s.cfg.classFor(key.Metric).Name == id.Class
	})

	class.mu.Lock()
	delete(class.chunks, id.Start)
	for i, start := range class.order {
		if start == id.Start {
			class.order = append(class.order[:i], class.order[i+1:]...)
			break
		}
	}
	if end > class.floor {
		class.floor = end
	}
	class.mu.Unlock()

	// When an older retained chunk still holds the series, its newest
	// surviving reading takes the slot back.
	for _, key := range dropped {
		r, ok, err := s.LastAtOrBefore(ctx, key.DeviceID, key.Metric, id.Start-1)
		if err != nil {
			s.logger.Warn("latest slot rebuild failed",
				"device", key.DeviceID, "metric", key.Metric, "error", err)
			continue
		}
		if ok {
			s.latest.update(r)
		}
	}

	s.logger.Debug("chunk evicted", "chunk", id.String())
	return nil
}

// effectiveRetention is the class raw retention, raised by any per-site
// override that applies to a device present in the chunk.
func (s *ChunkStore) effectiveRetention(ctx context.Context, class *classState, chunk *Chunk) (time.Duration, error) {
	retention := class.cfg.Retention.RawRetention
	if len(s.cfg.SiteRawRetention) == 0 || s.cfg.Registry == nil {
		return retention, nil
	}
	if err := s.ensureLoaded(ctx, chunk); err != nil {
		return 0, err
	}
	for _, device := range chunk.devices() {
		info, ok := s.cfg.Registry.Lookup(device)
		if !ok {
			continue
		}
		if override, ok := s.cfg.SiteRawRetention[info.SiteID]; ok && override > retention {
			retention = override
		}
	}
	return retention, nil
}

// CompressCandidates lists closed chunks older than the class
// compress-after threshold, oldest first.
func (s *ChunkStore) CompressCandidates(className string, now time.Time) []ChunkID {
	class, ok := s.classes[className]
	if !ok {
		return nil
	}
	cutoff := now.Add(-class.cfg.Retention.CompressAfter).UnixNano()
	class.mu.Lock()
	defer class.mu.Unlock()
	width := int64(class.cfg.ChunkWidth)
	var out []ChunkID
	for _, start := range class.order {
		if start+width > cutoff {
			break
		}
		chunk := class.chunks[start]
		if chunk.State() == ChunkClosed {
			out = append(out, chunk.ID())
		}
	}
	return out
}

// EvictCandidates lists chunks older than the class raw retention, oldest
// first. Per-site overrides are re-checked inside Evict.
func (s *ChunkStore) EvictCandidates(className string, now time.Time) []ChunkID {
	class, ok := s.classes[className]
	if !ok {
		return nil
	}
	cutoff := now.Add(-class.cfg.Retention.RawRetention).UnixNano()
	class.mu.Lock()
	defer class.mu.Unlock()
	width := int64(class.cfg.ChunkWidth)
	var out []ChunkID
	for _, start := range class.order {
		if start+width > cutoff {
			break
		}
		out = append(out, class.chunks[start].ID())
	}
	return out
}

// ClassNames returns the configured series-class names.
func (s *ChunkStore) ClassNames() []string {
	names := make([]string, 0, len(s.classes))
	for name := range s.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ChunkState reports the lifecycle state of a chunk.
func (s *ChunkStore) ChunkState(id ChunkID) (ChunkState, bool) {
	class, ok := s.classes[id.Class]
	if !ok {
		return 0, false
	}
	class.mu.Lock()
	chunk, ok := class.chunks[id.Start]
	class.mu.Unlock()
	if !ok {
		return 0, false
	}
	return chunk.State(), true
}
