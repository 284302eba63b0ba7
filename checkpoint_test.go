package telemetra

import (
	"context"
	"path/filepath"
	"testing"
)

func TestCheckpointStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	s, err := OpenCheckpointStore(path)
	if err != nil {
		t.Fatalf("OpenCheckpointStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	cp := LifecycleCheckpoint{Class: "telemetry", LastCompressed: 1000, LastEvicted: 500}
	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, "telemetry")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LastCompressed != 1000 || got.LastEvicted != 500 {
		t.Errorf("Load = %+v, want compressed 1000, evicted 500", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestCheckpointStoreUpsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	s, err := OpenCheckpointStore(path)
	if err != nil {
		t.Fatalf("OpenCheckpointStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	s.Save(ctx, LifecycleCheckpoint{Class: "telemetry", LastCompressed: 1})
	s.Save(ctx, LifecycleCheckpoint{Class: "telemetry", LastCompressed: 2, LastEvicted: 1})

	got, err := s.Load(ctx, "telemetry")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LastCompressed != 2 || got.LastEvicted != 1 {
		t.Errorf("after upsert = %+v", got)
	}
}

func TestCheckpointStoreUnknownClass(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	s, err := OpenCheckpointStore(path)
	if err != nil {
		t.Fatalf("OpenCheckpointStore: %v", err)
	}
	defer s.Close()

	got, err := s.Load(context.Background(), "events")
	if err != nil {
		t.Fatalf("Load(unknown) = %v, want nil error", err)
	}
	if got.LastCompressed != 0 || got.LastEvicted != 0 {
		t.Errorf("unknown class checkpoint = %+v, want zero", got)
	}
}

func TestCheckpointStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	ctx := context.Background()

	s, err := OpenCheckpointStore(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Save(ctx, LifecycleCheckpoint{Class: "telemetry", LastCompressed: 42})
	s.Close()

	reopened, err := OpenCheckpointStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Load(ctx, "telemetry")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastCompressed != 42 {
		t.Errorf("after reopen LastCompressed = %d, want 42", got.LastCompressed)
	}
}
