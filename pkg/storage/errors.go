// Package storage persists index headers and items in the supported layouts
package storage

import "errors"

var (
	// ErrCreate indicates the backing files could not be created
	ErrCreate = errors.New("storage: create failed")

	// ErrOpen indicates the backing files could not be opened
	ErrOpen = errors.New("storage: open failed")

	// ErrFlush indicates buffered state could not be written out
	ErrFlush = errors.New("storage: flush failed")

	// ErrClose indicates the backing files could not be closed cleanly
	ErrClose = errors.New("storage: close failed")

	// ErrCorrupted indicates a checksum mismatch
	ErrCorrupted = errors.New("storage: corrupted record")

	// ErrTruncated indicates a short record
	ErrTruncated = errors.New("storage: truncated record")

	// ErrNotPersistent is returned by the memory layout for storage reads
	ErrNotPersistent = errors.New("storage: layout is not persistent")

	// ErrUnsupported indicates an operation the layout cannot perform
	ErrUnsupported = errors.New("storage: unsupported by layout")

	// ErrWriteLocked indicates another writer holds the index
	ErrWriteLocked = errors.New("storage: index is write locked")

	// ErrReadOnly indicates a write against files opened read only
	ErrReadOnly = errors.New("storage: opened read only")

	// ErrOutOfRange indicates a position beyond the stored records
	ErrOutOfRange = errors.New("storage: position out of range")
)
