package heap

import "github.com/cockroachdb/errors"

var (
	// ErrAlignmentUnsatisfiable indicates an alignment the backend cannot honour.
	ErrAlignmentUnsatisfiable = errors.New("heap: alignment unsatisfiable")

	// ErrTableExhausted indicates the extension's allocation table is full.
	ErrTableExhausted = errors.New("heap: allocation table exhausted")

	// ErrAllocationFailed indicates the underlying pool could not satisfy a request.
	ErrAllocationFailed = errors.New("heap: allocation failed")

	// ErrNotInitialized indicates use of a heap before Init or after Uninit.
	ErrNotInitialized = errors.New("heap: not initialized")

	// ErrAlreadyInitialized indicates a second Init without Uninit.
	ErrAlreadyInitialized = errors.New("heap: already initialized")

	// ErrBusy indicates Uninit while extensions are still loaded.
	ErrBusy = errors.New("heap: extensions still loaded")

	// ErrRecordNotFound indicates a free of a pointer the heap never handed out.
	ErrRecordNotFound = errors.New("heap: no allocation record for pointer")

	// ErrInvalidConfig indicates a configuration that violates a sizing rule.
	ErrInvalidConfig = errors.New("heap: invalid configuration")

	// ErrNotSupported indicates an operation the backend does not provide.
	ErrNotSupported = errors.New("heap: operation not supported")
)
