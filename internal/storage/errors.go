package storage

import (
	"errors"
	"fmt"
)

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists into an append-only store.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionClosed is returned by a session used after Close.
	ErrSessionClosed = errors.New("session closed")
)

// WriteError reports a statement batch that failed after retries.
type WriteError struct {
	Operation string
	Chunk     int // zero-based chunk index
	Size      int // statements in the chunk
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: chunk %d (%d statements): %v", e.Operation, e.Chunk, e.Size, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
