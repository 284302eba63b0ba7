package telemetra

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// LifecycleScheduler drives chunk compression and retention in the
// background. Each tick it scans every series-class for actionable
// chunks, oldest first, and processes each one as an independent unit of
// work with retry. Progress is checkpointed per class so a restart
// resumes rather than rescans.
type LifecycleScheduler struct {
	store      *ChunkStore
	rollup     *RollupEngine
	checkpoint *CheckpointStore // nil means in-memory progress only
	cfg        *Config
	logger     *slog.Logger
	retryer    *Retryer
	now        func() time.Time

	mu       sync.Mutex
	progress map[string]LifecycleCheckpoint
	running  bool
	closeCh  chan struct{}
	doneCh   chan struct{}
}

// NewLifecycleScheduler builds a scheduler over the store and rollup
// engine. checkpoint may be nil.
func NewLifecycleScheduler(store *ChunkStore, rollup *RollupEngine, checkpoint *CheckpointStore, cfg *Config) *LifecycleScheduler {
	return &LifecycleScheduler{
		store:      store,
		rollup:     rollup,
		checkpoint: checkpoint,
		cfg:        cfg,
		logger:     cfg.Logger,
		retryer:    NewRetryer(cfg.Lifecycle.Retry),
		now:        time.Now,
		progress:   make(map[string]LifecycleCheckpoint),
	}
}

// Start launches the background tick loop. Idempotent.
func (l *LifecycleScheduler) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	if l.checkpoint != nil {
		for _, class := range l.store.ClassNames() {
			cp, err := l.checkpoint.Load(ctx, class)
			if err != nil {
				return err
			}
			l.progress[class] = cp
			if cp.LastEvicted > 0 {
				l.store.RestoreEvictionFloor(class, cp.LastEvicted)
			}
		}
	}
	l.running = true
	l.closeCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.run()
	return nil
}

// Stop halts the background loop and waits for the in-flight tick.
func (l *LifecycleScheduler) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.closeCh)
	done := l.doneCh
	l.mu.Unlock()
	<-done
}

func (l *LifecycleScheduler) run() {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.cfg.Lifecycle.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.closeCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-l.closeCh:
					cancel()
				case <-ctx.Done():
				}
			}()
			if err := l.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				l.logger.Error("lifecycle tick failed", "error", err)
			}
			cancel()
		}
	}
}

// RunOnce executes a single scan-and-act pass over every class, then
// applies aggregate retention. Exposed so callers can force a pass
// without waiting for the ticker.
func (l *LifecycleScheduler) RunOnce(ctx context.Context) error {
	now := l.now()
	for _, class := range l.store.ClassNames() {
		if err := l.runClass(ctx, class, now); err != nil {
			return err
		}
	}
	l.applyAggregateRetention(now)
	return nil
}

// runClass compresses and evicts eligible chunks of one class, oldest
// first. A failed unit stops the class pass at that chunk; the next tick
// retries from the same point.
func (l *LifecycleScheduler) runClass(ctx context.Context, class string, now time.Time) error {
	cp := l.classProgress(class)

	for _, id := range l.store.CompressCandidates(class, now) {
		err := l.retryer.Do(ctx, func(ctx context.Context) error {
			return l.store.Compress(ctx, id)
		})
		if err != nil {
			l.logger.Error("chunk compression failed", "chunk", id.String(), "error", err)
			return nil
		}
		cp.LastCompressed = id.Start
		l.saveProgress(ctx, cp)
	}

	for _, id := range l.store.EvictCandidates(class, now) {
		err := l.retryer.Do(ctx, func(ctx context.Context) error {
			err := l.store.Evict(ctx, id)
			if errors.Is(err, ErrEvictionDenied) {
				// A per-site retention override still holds this chunk;
				// retrying within this tick cannot help.
				return nil
			}
			return err
		})
		if err != nil {
			l.logger.Error("chunk eviction failed", "chunk", id.String(), "error", err)
			return nil
		}
		if state, ok := l.store.ChunkState(id); ok && state != ChunkExpired {
			continue
		}
		cp.LastEvicted = id.Start
		l.saveProgress(ctx, cp)
	}
	return ctx.Err()
}

// applyAggregateRetention drops aggregate buckets past the retention of
// their series-class.
func (l *LifecycleScheduler) applyAggregateRetention(now time.Time) {
	if removed := l.rollup.ApplyRetention(now); removed > 0 {
		l.logger.Debug("aggregate buckets evicted", "removed", removed)
	}
}

func (l *LifecycleScheduler) classProgress(class string) LifecycleCheckpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp, ok := l.progress[class]
	if !ok {
		cp = LifecycleCheckpoint{Class: class}
	}
	return cp
}

func (l *LifecycleScheduler) saveProgress(ctx context.Context, cp LifecycleCheckpoint) {
	l.mu.Lock()
	l.progress[cp.Class] = cp
	l.mu.Unlock()
	if l.checkpoint == nil {
		return
	}
	if err := l.checkpoint.Save(ctx, cp); err != nil {
		l.logger.Warn("checkpoint save failed", "class", cp.Class, "error", err)
	}
}

// Progress returns the current checkpoint for a class.
func (l *LifecycleScheduler) Progress(class string) LifecycleCheckpoint {
	return l.classProgress(class)
}
