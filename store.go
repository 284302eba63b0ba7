package telemetra

import (
	"context"
	"sync"
	"time"
)

// Store is the embedded telemetry database: a chunked raw store with
// incremental multi-resolution rollups, lifecycle-driven retention, and
// gap-aware queries.
type Store struct {
	cfg       Config
	chunks    *ChunkStore
	rollup    *RollupEngine
	query     *QueryEngine
	lifecycle *LifecycleScheduler

	archive    ArchiveBackend
	checkpoint *CheckpointStore

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
	doneCh  chan struct{}
}

// Open creates a store from the configuration and starts its background
// refresh and lifecycle workers.
func Open(cfg Config) (*Store, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	archive, err := openArchive(cfg.Archive)
	if err != nil {
		return nil, err
	}
	var enc *Encryptor
	if cfg.Encryption != nil && cfg.Encryption.Enabled {
		if enc, err = NewEncryptor(*cfg.Encryption); err != nil {
			archive.Close()
			return nil, err
		}
	}
	var checkpoint *CheckpointStore
	if cfg.Lifecycle.CheckpointPath != "" {
		if checkpoint, err = OpenCheckpointStore(cfg.Lifecycle.CheckpointPath); err != nil {
			archive.Close()
			return nil, err
		}
	}

	chunks := NewChunkStore(&cfg, archive, enc)
	if err := chunks.recoverArchived(context.Background()); err != nil {
		if checkpoint != nil {
			checkpoint.Close()
		}
		archive.Close()
		return nil, err
	}
	rollup := NewRollupEngine(chunks, &cfg)
	chunks.onAppend = rollup.ObserveAppend

	s := &Store{
		cfg:        cfg,
		chunks:     chunks,
		rollup:     rollup,
		query:      NewQueryEngine(chunks, rollup, &cfg),
		lifecycle:  NewLifecycleScheduler(chunks, rollup, checkpoint, &cfg),
		archive:    archive,
		checkpoint: checkpoint,
		closeCh:    make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	if err := s.lifecycle.Start(context.Background()); err != nil {
		s.releaseResources()
		return nil, err
	}
	go s.refreshLoop()
	return s, nil
}

// refreshLoop drives the scheduled refresh passes. All due resolutions
// run on the same goroutine, finest first, so each coarser resolution
// always reads finalized finer buckets.
func (s *Store) refreshLoop() {
	defer close(s.doneCh)
	schedules := [numResolutions]time.Duration{
		s.cfg.Rollup.FiveMin.Refresh,
		s.cfg.Rollup.Hourly.Refresh,
		s.cfg.Rollup.Daily.Refresh,
	}
	var nextDue [numResolutions]time.Time
	now := time.Now()
	for res := 0; res < numResolutions; res++ {
		nextDue[res] = now.Add(schedules[res])
	}

	ticker := time.NewTicker(schedules[Resolution5Min])
	defer ticker.Stop()
	for {
		select {
		case <-s.closeCh:
			return
		case now := <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-s.closeCh:
					cancel()
				case <-ctx.Done():
				}
			}()
			for res := Resolution(0); res < numResolutions; res++ {
				if now.Before(nextDue[res]) {
					continue
				}
				if err := s.rollup.Refresh(ctx, res); err != nil {
					s.cfg.Logger.Error("rollup refresh failed",
						"resolution", res.String(), "error", err)
					break
				}
				nextDue[res] = now.Add(schedules[res])
			}
			cancel()
		}
	}
}

// Append ingests a batch of readings. Rejections are reported per item in
// the result; the batch itself only fails on context cancellation or
// after Close.
func (s *Store) Append(ctx context.Context, batch []Reading) (*AppendResult, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.chunks.Append(ctx, batch)
}

// Latest returns the most recent reading for a series.
func (s *Store) Latest(device, metric string) (Reading, error) {
	if s.isClosed() {
		return Reading{}, ErrClosed
	}
	return s.query.Latest(device, metric)
}

// Range executes one page of a range query.
func (s *Store) Range(ctx context.Context, query RangeQuery) (*RangeResult, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.query.Range(ctx, query)
}

// Interpolated samples a series onto a fixed step grid, filling gaps from
// neighboring readings.
func (s *Store) Interpolated(ctx context.Context, device, metric string, start, end int64, step time.Duration) ([]GridPoint, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.query.Interpolated(ctx, device, metric, start, end, step)
}

// CumulativeDelta computes counter consumption over a window.
func (s *Store) CumulativeDelta(ctx context.Context, device, metric string, start, end int64) (DeltaResult, error) {
	if s.isClosed() {
		return DeltaResult{}, ErrClosed
	}
	return s.query.CumulativeDelta(ctx, device, metric, start, end)
}

// Refresh forces a full refresh cascade, finest resolution first.
// Useful after bulk ingest instead of waiting for the schedule.
func (s *Store) Refresh(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	for res := Resolution(0); res < numResolutions; res++ {
		if err := s.rollup.Refresh(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

// RunLifecycle forces one lifecycle pass (compression, eviction,
// aggregate retention) instead of waiting for the next tick.
func (s *Store) RunLifecycle(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.lifecycle.RunOnce(ctx)
}

// CompressChunk compresses one chunk by ID. Compressing an
// already-compressed chunk succeeds without work.
func (s *Store) CompressChunk(ctx context.Context, id ChunkID) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.chunks.Compress(ctx, id)
}

// EvictChunk evicts one chunk by ID, subject to its retention.
func (s *Store) EvictChunk(ctx context.Context, id ChunkID) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.chunks.Evict(ctx, id)
}

// Buckets returns aggregate buckets for one series at one resolution with
// Start in [start, end).
func (s *Store) Buckets(device, metric string, res Resolution, start, end int64) ([]Bucket, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	if res >= numResolutions {
		return nil, ErrInvalidQuery
	}
	return s.rollup.BucketsInRange(device, metric, res, start, end), nil
}

// Close stops background workers and releases resources. Operations
// after Close return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.closeCh)
	<-s.doneCh
	s.lifecycle.Stop()
	return s.releaseResources()
}

func (s *Store) releaseResources() error {
	var firstErr error
	if s.checkpoint != nil {
		if err := s.checkpoint.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.archive.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
