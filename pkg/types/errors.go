package types

import "errors"

// Domain errors shared across packages
var (
	// Indexing errors
	ErrDocTooLarge       = errors.New("document exceeds maximum file size")
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// Storage errors
	ErrNotFound          = errors.New("not found")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// Retrieval errors
	ErrInvalidCursor = errors.New("invalid pagination cursor")

	// Watcher errors
	ErrWatcherLocked = errors.New("another watcher holds the lock file")
)
