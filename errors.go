package telemetra

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the telemetra package.
var (
	// ErrClosed is returned when operations are attempted on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrNotFound is returned when a query targets a nonexistent series.
	ErrNotFound = errors.New("series not found")

	// ErrTooOld is returned when a write targets an already-compressed or
	// expired chunk.
	ErrTooOld = errors.New("reading too old for its chunk window")

	// ErrStale marks bucket data whose recomputation is pending or failed.
	ErrStale = errors.New("aggregate bucket is stale")

	// ErrInvalidReading is returned for malformed readings.
	ErrInvalidReading = errors.New("invalid reading")

	// ErrInvalidQuery is returned for malformed query parameters.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrChunkNotFound is returned when a chunk ID does not resolve.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrEvictionDenied is returned when eviction is attempted on a chunk
	// still inside its retention window.
	ErrEvictionDenied = errors.New("chunk still within retention window")

	// ErrBadToken is returned for an unparseable continuation token.
	ErrBadToken = errors.New("invalid continuation token")
)

// RejectReason categorizes per-reading rejections during ingest.
type RejectReason int

const (
	// RejectUnknown is an unclassified rejection.
	RejectUnknown RejectReason = iota
	// RejectTooOld indicates the reading's timestamp falls inside an
	// already-compressed or expired chunk.
	RejectTooOld
	// RejectValidation indicates the reading is malformed.
	RejectValidation
)

// String returns the reason name.
func (r RejectReason) String() string {
	switch r {
	case RejectTooOld:
		return "too_old"
	case RejectValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// ChunkErrorOp categorizes chunk lifecycle operations for error reporting.
type ChunkErrorOp int

const (
	// ChunkOpAppend is a chunk write.
	ChunkOpAppend ChunkErrorOp = iota
	// ChunkOpCompress is a chunk compression.
	ChunkOpCompress
	// ChunkOpEvict is a chunk eviction.
	ChunkOpEvict
	// ChunkOpLoad is a compressed chunk load from the archive.
	ChunkOpLoad
)

func (op ChunkErrorOp) String() string {
	switch op {
	case ChunkOpAppend:
		return "append"
	case ChunkOpCompress:
		return "compress"
	case ChunkOpEvict:
		return "evict"
	case ChunkOpLoad:
		return "load"
	default:
		return "unknown"
	}
}

// ChunkError provides detailed information about chunk operation failures.
type ChunkError struct {
	Op    ChunkErrorOp
	Chunk ChunkID
	Cause error
}

func (e *ChunkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("chunk %s %s: %v", e.Chunk, e.Op, e.Cause)
	}
	return fmt.Sprintf("chunk %s %s failed", e.Chunk, e.Op)
}

func (e *ChunkError) Unwrap() error {
	return e.Cause
}

func newChunkError(op ChunkErrorOp, id ChunkID, cause error) *ChunkError {
	return &ChunkError{Op: op, Chunk: id, Cause: cause}
}

// ValidationError describes why a reading failed ingest validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid reading: %s %s", e.Field, e.Message)
}

// Is implements error matching for ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidReading
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
