// Package index implements the time index engine: the core that owns a
// header, cache and storage backend, the directory that shares cores between
// handles, and the views that window onto them.
package index

import (
	"errors"
	"fmt"

	"github.com/nainya/timeindex/pkg/storage"
)

var (
	// ErrSpecification indicates missing or invalid properties
	ErrSpecification = errors.New("index: bad specification")

	// ErrTerminated indicates an append to a terminated index
	ErrTerminated = errors.New("index: terminated")

	// ErrClosed indicates an operation on a closed index or view
	ErrClosed = errors.New("index: closed")

	// ErrActivation indicates an append to an index that is not activated
	ErrActivation = errors.New("index: not activated")

	// ErrReadOnly indicates a write to a read-only index
	ErrReadOnly = errors.New("index: read only")

	// ErrWriteLocked indicates another writer holds the index
	ErrWriteLocked = errors.New("index: write locked")

	// ErrGetItem indicates a position or time outside the index
	ErrGetItem = errors.New("index: no such item")

	// ErrCreate indicates the index could not be created
	ErrCreate = errors.New("index: create failed")

	// ErrOpen indicates the index could not be opened
	ErrOpen = errors.New("index: open failed")

	// ErrClose indicates teardown failed; the handle is released regardless
	ErrClose = errors.New("index: close failed")

	// ErrFlush indicates buffered changes could not be persisted
	ErrFlush = errors.New("index: flush failed")

	// ErrNotFound indicates a lookup by name, id or URI found nothing
	ErrNotFound = errors.New("index: not found")
)

// Error carries the operation and the index it failed on
type Error struct {
	Op    string
	Index string
	URI   string
	Err   error
}

func (e *Error) Error() string {
	if e.URI == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Index, e.Err)
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Index, e.URI, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err came from an activation race that may
// succeed when tried again later
func IsRetryable(err error) bool {
	return errors.Is(err, ErrWriteLocked) || errors.Is(err, ErrReadOnly)
}

// kindOf picks the index error kind matching a storage failure
func kindOf(err error, fallback error) error {
	switch {
	case errors.Is(err, storage.ErrWriteLocked):
		return ErrWriteLocked
	case errors.Is(err, storage.ErrReadOnly):
		return ErrReadOnly
	}
	return fallback
}

// storageError wraps a storage failure with both the index kind and the
// storage cause, so errors.Is works against either
func storageError(err error, fallback error) error {
	return fmt.Errorf("%w: %w", kindOf(err, fallback), err)
}
