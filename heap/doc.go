// Package heap defines the memory interface extensions are loaded into.
//
// # Overview
//
// A loaded extension needs three kinds of memory:
//
//   - metadata: loader bookkeeping (section headers, symbol tables, block arrays)
//   - data: the extension's writable and read-only data regions
//   - instructions: the extension's executable regions
//
// Heap hands these out. On split (Harvard) targets instructions and data
// come from distinct pools; on unified targets one pool serves both.
//
// # Implementations
//
// sysheap.Heap: variable-size backend over a general-purpose allocator.
// Frees by pointer alone and needs no per-extension bookkeeping.
//
// memblk.Heap: block backend over a fixed-block allocator. Every data or
// instruction allocation is a contiguous run of blocks, tracked in the owning
// extension's AllocTable so it can be released by pointer later.
//
// policy.Build picks one of them from a Config.
//
// # Failures
//
// Allocations never panic. They return a nil slice and an error matching one
// of the sentinels in errors.go. Every operation other than Init and
// InitSplit fails with ErrNotInitialized before the heap is initialized.
//
// # Concurrency
//
// Heaps may be used from several goroutines at once, provided no two of them
// operate on the same Extension: an extension's AllocTable is not locked.
package heap
