package telemetra

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Archive.Dir = t.TempDir()
	cfg.Lifecycle.CheckpointPath = filepath.Join(t.TempDir(), "progress.db")
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreEndToEnd(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour).Truncate(time.Hour)

	var batch []Reading
	for i := 0; i < 60; i++ {
		batch = append(batch, FloatReading("inv-01", "energy_total", base.Add(time.Duration(i)*time.Minute), 1000+float64(i)))
	}
	result, err := s.Append(ctx, batch)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if result.Accepted != 60 {
		t.Fatalf("Accepted = %d, want 60", result.Accepted)
	}

	latest, err := s.Latest("inv-01", "energy_total")
	if err != nil || latest.Value != 1059 {
		t.Errorf("Latest = %v, %v, want 1059", latest.Value, err)
	}

	rangeResult, err := s.Range(ctx, NewRangeQuery("inv-01", "energy_total",
		base.UnixNano(), base.Add(time.Hour).UnixNano()))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(rangeResult.Raw) != 60 {
		t.Errorf("Raw = %d, want 60", len(rangeResult.Raw))
	}

	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	buckets, err := s.Buckets("inv-01", "energy_total", Resolution5Min,
		base.UnixNano(), base.Add(time.Hour).UnixNano())
	if err != nil {
		t.Fatalf("Buckets: %v", err)
	}
	if len(buckets) != 12 {
		t.Errorf("5min buckets = %d, want 12", len(buckets))
	}

	delta, err := s.CumulativeDelta(ctx, "inv-01", "energy_total",
		base.UnixNano(), base.Add(time.Hour).UnixNano())
	if err != nil {
		t.Fatalf("CumulativeDelta: %v", err)
	}
	if delta.Delta != 59 {
		t.Errorf("Delta = %v, want 59", delta.Delta)
	}

	points, err := s.Interpolated(ctx, "inv-01", "energy_total",
		base.UnixNano(), base.Add(10*time.Minute).UnixNano(), time.Minute)
	if err != nil {
		t.Fatalf("Interpolated: %v", err)
	}
	if len(points) != 11 {
		t.Errorf("grid points = %d, want 11", len(points))
	}
}

func TestStoreCompressChunkAndQueryBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-3 * time.Hour).Truncate(time.Hour)

	s.Append(ctx, []Reading{
		FloatReading("inv-01", "power_ac", base.Add(time.Minute), 42),
		FloatReading("inv-01", "power_ac", base.Add(time.Hour+time.Minute), 43),
	})

	id := ChunkID{Class: "telemetry", Start: base.UnixNano()}
	if err := s.CompressChunk(ctx, id); err != nil {
		t.Fatalf("CompressChunk: %v", err)
	}

	result, err := s.Range(ctx, NewRangeQuery("inv-01", "power_ac",
		base.UnixNano(), base.Add(time.Hour).UnixNano()))
	if err != nil {
		t.Fatalf("Range after compress: %v", err)
	}
	if len(result.Raw) != 1 || result.Raw[0].Value != 42 {
		t.Errorf("Raw after compress = %v, want value 42", result.Raw)
	}
}

func TestStoreReopenServesArchivedChunks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Archive.Dir = t.TempDir()
	cfg.Lifecycle.CheckpointPath = filepath.Join(t.TempDir(), "progress.db")
	ctx := context.Background()
	base := time.Now().Add(-3 * time.Hour).Truncate(time.Hour)

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Append(ctx, []Reading{
		FloatReading("inv-01", "power_ac", base.Add(time.Minute), 42),
		FloatReading("inv-01", "power_ac", base.Add(time.Hour+time.Minute), 43),
	})
	id := ChunkID{Class: "telemetry", Start: base.UnixNano()}
	if err := s.CompressChunk(ctx, id); err != nil {
		t.Fatalf("CompressChunk: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Archived chunks outlive the process; a reopened store serves them.
	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	result, err := s2.Range(ctx, NewRangeQuery("inv-01", "power_ac",
		base.UnixNano(), base.Add(time.Hour).UnixNano()))
	if err != nil {
		t.Fatalf("Range after reopen: %v", err)
	}
	if len(result.Raw) != 1 || result.Raw[0].Value != 42 {
		t.Errorf("Raw after reopen = %v, want value 42", result.Raw)
	}
}

func TestStoreEvictChunkDenied(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Hour)
	s.Append(ctx, []Reading{FloatReading("inv-01", "power_ac", base.Add(time.Minute), 1)})

	id := ChunkID{Class: "telemetry", Start: base.UnixNano()}
	if err := s.EvictChunk(ctx, id); !errors.Is(err, ErrEvictionDenied) {
		t.Errorf("EvictChunk(fresh) = %v, want ErrEvictionDenied", err)
	}
}

func TestStoreClosedRejectsOperations(t *testing.T) {
	cfg := DefaultConfig()
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Double close is safe.
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}

	ctx := context.Background()
	if _, err := s.Append(ctx, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after close = %v, want ErrClosed", err)
	}
	if _, err := s.Latest("inv-01", "power_ac"); !errors.Is(err, ErrClosed) {
		t.Errorf("Latest after close = %v, want ErrClosed", err)
	}
	if _, err := s.Range(ctx, NewRangeQuery("d", "m", 1, 2)); !errors.Is(err, ErrClosed) {
		t.Errorf("Range after close = %v, want ErrClosed", err)
	}
	if err := s.Refresh(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Refresh after close = %v, want ErrClosed", err)
	}
}

func TestStoreRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-72 * time.Hour).Truncate(time.Hour)

	s.Append(ctx, []Reading{
		FloatReading("inv-01", "power_ac", base.Add(time.Minute), 1),
		FloatReading("inv-01", "power_ac", time.Now(), 2),
	})
	if err := s.RunLifecycle(ctx); err != nil {
		t.Fatalf("RunLifecycle: %v", err)
	}

	id := ChunkID{Class: "telemetry", Start: base.UnixNano()}
	if state, ok := s.chunks.ChunkState(id); !ok || state != ChunkCompressed {
		t.Errorf("3-day-old chunk state = %v (present %v), want compressed", state, ok)
	}
}
