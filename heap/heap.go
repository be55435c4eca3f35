package heap

import "unsafe"

// Heap supplies memory for loaded extensions.
type Heap interface {
	// Init makes mem the single pool for all regions.
	Init(mem []byte) error

	// InitSplit makes instr the instruction pool and data the data pool.
	InitSplit(instr, data []byte) error

	// Uninit releases the pools. It fails with ErrBusy while the configured
	// Registry reports a loaded extension.
	Uninit() error

	// IsInitialized reports whether Init or InitSplit has succeeded and
	// Uninit has not run since.
	IsInitialized() bool

	// Reset forgets the allocations recorded for ext without returning them
	// to the pool. Only call it when the pool itself is being torn down.
	Reset(ext *Extension) error

	AllocMetadata(size int) ([]byte, error)
	AllocData(ext *Extension, align, size int) ([]byte, error)
	AllocInstr(ext *Extension, align, size int) ([]byte, error)

	FreeMetadata(p []byte) error
	FreeData(ext *Extension, p []byte) error
	FreeInstr(ext *Extension, p []byte) error
}

// AddrOf returns the address of p's first byte, which identifies an
// allocation. It returns 0 for a nil slice.
func AddrOf(p []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(p)))
}
