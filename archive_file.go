package telemetra

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileArchive implements ArchiveBackend on the local filesystem.
type FileArchive struct {
	baseDir string
}

// NewFileArchive creates a file archive rooted at baseDir.
func NewFileArchive(baseDir string) (*FileArchive, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve archive directory: %w", err)
	}
	return &FileArchive{baseDir: filepath.Clean(absDir)}, nil
}

// safePath resolves key inside baseDir, rejecting path traversal.
func (f *FileArchive) safePath(key string) (string, error) {
	resolved := filepath.Clean(filepath.Join(f.baseDir, filepath.Clean(key)))
	if resolved != f.baseDir && !strings.HasPrefix(resolved, f.baseDir+string(os.PathSeparator)) {
		return "", errors.New("invalid archive key")
	}
	return resolved, nil
}

func (f *FileArchive) Read(ctx context.Context, key string) ([]byte, error) {
	path, err := f.safePath(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (f *FileArchive) Write(ctx context.Context, key string, data []byte) error {
	path, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Write-then-rename keeps a crash from leaving a torn blob behind.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *FileArchive) Delete(ctx context.Context, key string) error {
	path, err := f.safePath(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FileArchive) Exists(ctx context.Context, key string) (bool, error) {
	path, err := f.safePath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (f *FileArchive) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(f.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// A .tmp file is a write interrupted before its rename.
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(f.baseDir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (f *FileArchive) Close() error {
	return nil
}
