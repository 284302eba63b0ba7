package telemetra

import "context"

// ArchiveBackend stores compressed chunk blobs. Open and closed chunks
// live in memory; once compressed, a chunk's blob is written here and the
// in-memory columns are dropped until a query needs them again.
//
// Implementations must be safe for concurrent use.
type ArchiveBackend interface {
	// Read returns the blob stored under key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores a blob under key, replacing any previous value.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes a blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a blob is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every stored key. Used on startup to recover chunks a
	// previous process archived.
	List(ctx context.Context) ([]string, error)

	// Close releases any resources.
	Close() error
}

// Interface checks.
var (
	_ ArchiveBackend = (*MemoryArchive)(nil)
	_ ArchiveBackend = (*FileArchive)(nil)
	_ ArchiveBackend = (*S3Archive)(nil)
)

// openArchive builds the backend selected by the configuration.
func openArchive(cfg ArchiveConfig) (ArchiveBackend, error) {
	if cfg.S3 != nil {
		return NewS3Archive(*cfg.S3)
	}
	if cfg.Dir != "" {
		return NewFileArchive(cfg.Dir)
	}
	return NewMemoryArchive(), nil
}
