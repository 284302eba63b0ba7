package telemetra

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// seriesRollup is the per-series aggregate state across the three
// resolutions. Buckets before the watermark are finalized; buckets at or
// after it are in-flight and still absorb streamed readings.
type seriesRollup struct {
	mu        sync.Mutex
	buckets   [numResolutions]map[int64]*Bucket
	dirty     [numResolutions]map[int64]struct{}
	watermark [numResolutions]int64
	// started records whether watermark has been seeded from the first
	// observed reading.
	started [numResolutions]bool
}

func newSeriesRollup() *seriesRollup {
	sr := &seriesRollup{}
	for res := 0; res < numResolutions; res++ {
		sr.buckets[res] = make(map[int64]*Bucket)
		sr.dirty[res] = make(map[int64]struct{})
	}
	return sr
}

// RollupEngine maintains incremental multi-resolution aggregates over the
// chunk store's raw readings. New readings stream into in-flight buckets;
// late or replaced readings mark their windows dirty for the next
// scheduled refresh, which recomputes 5-minute buckets from raw data and
// each coarser resolution from the next-finer one.
type RollupEngine struct {
	store  *ChunkStore
	cfg    *Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	series map[SeriesKey]*seriesRollup

	// failRecompute, when set, injects recompute failures in tests.
	failRecompute func(key SeriesKey, res Resolution, start int64) error
}

// NewRollupEngine builds a rollup engine over the given store.
func NewRollupEngine(store *ChunkStore, cfg *Config) *RollupEngine {
	return &RollupEngine{
		store:  store,
		cfg:    cfg,
		logger: cfg.Logger,
		now:    time.Now,
		series: make(map[SeriesKey]*seriesRollup),
	}
}

func (e *RollupEngine) seriesState(key SeriesKey) *seriesRollup {
	e.mu.RLock()
	sr, ok := e.series[key]
	e.mu.RUnlock()
	if ok {
		return sr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if sr, ok = e.series[key]; ok {
		return sr
	}
	sr = newSeriesRollup()
	e.series[key] = sr
	return sr
}

// ObserveAppend folds a batch of accepted readings into the aggregate
// state. Wired to the chunk store's append path.
func (e *RollupEngine) ObserveAppend(events []appendEvent) {
	for _, ev := range events {
		sr := e.seriesState(seriesKeyOf(ev.reading))
		sr.mu.Lock()
		for res := Resolution(0); res < numResolutions; res++ {
			start := res.AlignDown(ev.reading.Timestamp)
			if !sr.started[res] {
				sr.watermark[res] = start
				sr.started[res] = true
			}
			if ev.replaced || start < sr.watermark[res] {
				// Streaming statistics cannot absorb overwrites or data
				// behind the watermark; the window must be rebuilt.
				sr.markDirtyLocked(res, start)
				continue
			}
			bucket, ok := sr.buckets[res][start]
			if !ok {
				bucket = &Bucket{
					DeviceID:   ev.reading.DeviceID,
					Metric:     ev.reading.Metric,
					Start:      start,
					Resolution: res,
				}
				sr.buckets[res][start] = bucket
			}
			bucket.observe(ev.reading)
		}
		sr.mu.Unlock()
	}
}

// markDirtyLocked queues a window for recomputation and flags any
// existing bucket as stale until the rebuild lands.
func (sr *seriesRollup) markDirtyLocked(res Resolution, start int64) {
	sr.dirty[res][start] = struct{}{}
	if bucket, ok := sr.buckets[res][start]; ok {
		bucket.Stale = true
	}
}

// Refresh runs one scheduled refresh pass for a resolution: it finalizes
// windows older than the settle lag and rebuilds every dirty window.
// Passes must run fine to coarse; each coarser resolution reads only
// finalized buckets of the next-finer one.
func (e *RollupEngine) Refresh(ctx context.Context, res Resolution) error {
	settle := e.cfg.Rollup.Schedule(res).SettleLag
	newWM := res.AlignDown(e.now().Add(-settle).UnixNano())

	e.mu.RLock()
	keys := make([]SeriesKey, 0, len(e.series))
	for key := range e.series {
		keys = append(keys, key)
	}
	e.mu.RUnlock()

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.refreshSeries(ctx, key, res, newWM); err != nil {
			return err
		}
	}
	return nil
}

func (e *RollupEngine) refreshSeries(ctx context.Context, key SeriesKey, res Resolution, newWM int64) error {
	sr := e.seriesState(key)
	width := int64(res.Width())

	sr.mu.Lock()
	if !sr.started[res] {
		sr.mu.Unlock()
		return nil
	}
	windows := make(map[int64]struct{}, len(sr.dirty[res]))
	for start := range sr.dirty[res] {
		windows[start] = struct{}{}
	}
	for start := sr.watermark[res]; start < newWM; start += width {
		windows[start] = struct{}{}
	}
	sr.mu.Unlock()

	starts := make([]int64, 0, len(windows))
	for start := range windows {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	for _, start := range starts {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.recomputeWindow(ctx, key, sr, res, start)
	}

	sr.mu.Lock()
	if newWM > sr.watermark[res] {
		sr.watermark[res] = newWM
	}
	sr.mu.Unlock()
	return nil
}

// recomputeWindow rebuilds one bucket window from scratch. Failures leave
// the window dirty and its bucket stale for the next pass.
func (e *RollupEngine) recomputeWindow(ctx context.Context, key SeriesKey, sr *seriesRollup, res Resolution, start int64) {
	if e.failRecompute != nil {
		if err := e.failRecompute(key, res, start); err != nil {
			e.markFailed(sr, res, start, err)
			return
		}
	}

	var bucket *Bucket
	var err error
	if finer, ok := res.Finer(); ok {
		bucket, err = e.rebuildFromFiner(sr, key, res, finer, start)
	} else {
		bucket, err = e.rebuildFromRaw(ctx, key, res, start)
	}
	if err != nil {
		if errors.Is(err, ErrStale) {
			// The finer source is still dirty; the window stays queued and
			// is retried once the cascade catches up.
			sr.mu.Lock()
			sr.markDirtyLocked(res, start)
			sr.mu.Unlock()
			return
		}
		e.markFailed(sr, res, start, err)
		return
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	delete(sr.dirty[res], start)
	if bucket == nil {
		delete(sr.buckets[res], start)
	} else {
		sr.buckets[res][start] = bucket
	}
	// A rebuilt window behind the coarser watermark invalidates the
	// enclosing coarser bucket.
	if coarser, ok := res.Coarser(); ok {
		enclosing := coarser.AlignDown(start)
		if sr.started[coarser] && enclosing < sr.watermark[coarser] {
			sr.markDirtyLocked(coarser, enclosing)
		}
	}
}

func (e *RollupEngine) markFailed(sr *seriesRollup, res Resolution, start int64, err error) {
	sr.mu.Lock()
	sr.markDirtyLocked(res, start)
	sr.mu.Unlock()
	e.logger.Warn("bucket recompute failed",
		"resolution", res.String(), "start", start, "error", err)
}

// rebuildFromRaw recomputes a 5-minute bucket from the chunk store.
func (e *RollupEngine) rebuildFromRaw(ctx context.Context, key SeriesKey, res Resolution, start int64) (*Bucket, error) {
	end := start + int64(res.Width())
	readings, err := e.store.collectRange(ctx, key.DeviceID, key.Metric, start, end, start-1, 0)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, nil
	}
	bucket := &Bucket{DeviceID: key.DeviceID, Metric: key.Metric, Start: start, Resolution: res}
	for _, r := range readings {
		bucket.observe(r)
	}
	return bucket, nil
}

// rebuildFromFiner recomputes a coarser bucket by merging the finalized
// next-finer buckets inside its window. If any source bucket is still
// dirty, the rebuild is deferred and the window stays dirty.
func (e *RollupEngine) rebuildFromFiner(sr *seriesRollup, key SeriesKey, res, finer Resolution, start int64) (*Bucket, error) {
	end := start + int64(res.Width())
	fineWidth := int64(finer.Width())

	sr.mu.Lock()
	defer sr.mu.Unlock()
	for fs := start; fs < end; fs += fineWidth {
		if _, dirty := sr.dirty[finer][fs]; dirty {
			return nil, ErrStale
		}
	}
	var bucket *Bucket
	for fs := start; fs < end; fs += fineWidth {
		fine, ok := sr.buckets[finer][fs]
		if !ok {
			continue
		}
		if bucket == nil {
			bucket = &Bucket{DeviceID: key.DeviceID, Metric: key.Metric, Start: start, Resolution: res}
		}
		bucket.mergeFiner(fine)
	}
	return bucket, nil
}

// BucketsInRange returns copies of the buckets for one series at one
// resolution with Start in [start, end), ascending. Dirty windows are
// returned with Stale set.
func (e *RollupEngine) BucketsInRange(device, metric string, res Resolution, start, end int64) []Bucket {
	if res >= numResolutions {
		return nil
	}
	e.mu.RLock()
	sr, ok := e.series[SeriesKey{DeviceID: device, Metric: metric}]
	e.mu.RUnlock()
	if !ok {
		return nil
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	var out []Bucket
	for bs, bucket := range sr.buckets[res] {
		if bs < start || bs >= end {
			continue
		}
		b := *bucket
		if _, dirty := sr.dirty[res][bs]; dirty {
			b.Stale = true
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Watermark reports the finalization watermark for one series at one
// resolution.
func (e *RollupEngine) Watermark(device, metric string, res Resolution) (int64, bool) {
	if res >= numResolutions {
		return 0, false
	}
	e.mu.RLock()
	sr, ok := e.series[SeriesKey{DeviceID: device, Metric: metric}]
	e.mu.RUnlock()
	if !ok {
		return 0, false
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if !sr.started[res] {
		return 0, false
	}
	return sr.watermark[res], true
}

// ApplyRetention drops aggregate buckets past the retention of their
// metric's series-class. Zero retention keeps a resolution forever.
// Returns how many buckets were removed.
func (e *RollupEngine) ApplyRetention(now time.Time) int {
	e.mu.RLock()
	type entry struct {
		key SeriesKey
		sr  *seriesRollup
	}
	entries := make([]entry, 0, len(e.series))
	for key, sr := range e.series {
		entries = append(entries, entry{key, sr})
	}
	e.mu.RUnlock()

	removed := 0
	for _, ent := range entries {
		policy := e.cfg.classFor(ent.key.Metric).Retention
		ent.sr.mu.Lock()
		for res := Resolution(0); res < numResolutions; res++ {
			keep := policy.KeepFor(res)
			if keep <= 0 {
				continue
			}
			cutoff := now.Add(-keep).UnixNano()
			width := int64(res.Width())
			for start := range ent.sr.buckets[res] {
				if start+width <= cutoff {
					delete(ent.sr.buckets[res], start)
					delete(ent.sr.dirty[res], start)
					removed++
				}
			}
		}
		ent.sr.mu.Unlock()
	}
	return removed
}

// EvictBefore drops buckets at one resolution whose window ends at or
// before cutoff, returning how many were removed.
func (e *RollupEngine) EvictBefore(res Resolution, cutoff int64) int {
	if res >= numResolutions {
		return 0
	}
	width := int64(res.Width())

	e.mu.RLock()
	states := make([]*seriesRollup, 0, len(e.series))
	for _, sr := range e.series {
		states = append(states, sr)
	}
	e.mu.RUnlock()

	removed := 0
	for _, sr := range states {
		sr.mu.Lock()
		for start := range sr.buckets[res] {
			if start+width <= cutoff {
				delete(sr.buckets[res], start)
				delete(sr.dirty[res], start)
				removed++
			}
		}
		sr.mu.Unlock()
	}
	return removed
}
