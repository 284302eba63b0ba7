package telemetra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// LifecycleCheckpoint records how far the scheduler has progressed for
// one series-class, so restarts resume where they left off instead of
// rescanning the full chunk directory.
type LifecycleCheckpoint struct {
	Class string
	// LastCompressed is the start of the newest chunk window compressed so
	// far (Unix ns).
	LastCompressed int64
	// LastEvicted is the start of the newest chunk window evicted so far.
	LastEvicted int64
	UpdatedAt   time.Time
}

// CheckpointStore persists lifecycle progress in a local SQLite file.
type CheckpointStore struct {
	db *sql.DB

	upsertStmt *sql.Stmt
	loadStmt   *sql.Stmt
}

// OpenCheckpointStore opens (creating if needed) the checkpoint database.
func OpenCheckpointStore(path string) (*CheckpointStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	// Single writer; WAL keeps reads from blocking the scheduler.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("checkpoint pragma: %w", err)
		}
	}
	schema := `CREATE TABLE IF NOT EXISTS lifecycle_progress (
		class TEXT PRIMARY KEY,
		last_compressed INTEGER NOT NULL DEFAULT 0,
		last_evicted INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint schema: %w", err)
	}

	s := &CheckpointStore{db: db}
	s.upsertStmt, err = db.Prepare(`INSERT INTO lifecycle_progress
		(class, last_compressed, last_evicted, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(class) DO UPDATE SET
			last_compressed = excluded.last_compressed,
			last_evicted = excluded.last_evicted,
			updated_at = excluded.updated_at`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare checkpoint upsert: %w", err)
	}
	s.loadStmt, err = db.Prepare(`SELECT last_compressed, last_evicted, updated_at
		FROM lifecycle_progress WHERE class = ?`)
	if err != nil {
		s.upsertStmt.Close()
		db.Close()
		return nil, fmt.Errorf("prepare checkpoint load: %w", err)
	}
	return s, nil
}

// Save writes a class checkpoint.
func (s *CheckpointStore) Save(ctx context.Context, cp LifecycleCheckpoint) error {
	_, err := s.upsertStmt.ExecContext(ctx, cp.Class, cp.LastCompressed, cp.LastEvicted, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", cp.Class, err)
	}
	return nil
}

// Load reads a class checkpoint. A class never saved returns a zero
// checkpoint, not an error.
func (s *CheckpointStore) Load(ctx context.Context, class string) (LifecycleCheckpoint, error) {
	cp := LifecycleCheckpoint{Class: class}
	var updatedAt int64
	err := s.loadStmt.QueryRowContext(ctx, class).Scan(&cp.LastCompressed, &cp.LastEvicted, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, nil
	}
	if err != nil {
		return cp, fmt.Errorf("load checkpoint %q: %w", class, err)
	}
	cp.UpdatedAt = time.Unix(0, updatedAt)
	return cp, nil
}

// Close releases the database.
func (s *CheckpointStore) Close() error {
	if s.upsertStmt != nil {
		s.upsertStmt.Close()
	}
	if s.loadStmt != nil {
		s.loadStmt.Close()
	}
	return s.db.Close()
}
