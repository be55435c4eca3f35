// Package sysheap implements a general-purpose variable-size allocator over a
// caller-supplied byte region.
//
// # Design
//
// Free chunks live in segregated free lists, one min-heap per size class, so
// the smallest fitting chunk of a class is found first (best fit). Chunk
// bookkeeping is kept out of band:
//
//   - used:     offset -> chunk size for every live allocation (free by pointer)
//   - startIdx: offset -> size for every free chunk (forward coalescing)
//   - endIdx:   end offset -> offset for every free chunk (backward coalescing)
//
// All chunks are multiples of 8 bytes and start on 8-byte boundaries relative
// to the region base, which is itself rounded up to 8 bytes at construction.
// Aligned requests carve the leading padding off a free chunk and return it to
// the free lists.
//
// # Thread Safety
//
// A Heap is safe for concurrent use; every operation takes the heap's mutex.
// Operations never block waiting for memory: exhaustion fails immediately.
package sysheap

import (
	"container/heap"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/llext/internal/buf"
)

const (
	// chunkUnit is the allocation granularity and minimum alignment.
	chunkUnit = 8

	// minSplit is the smallest remainder worth returning to the free lists.
	minSplit = 16
)

var (
	// ErrNoSpace indicates that no free chunk large enough was found.
	ErrNoSpace = errors.New("sysheap: no free chunk large enough")

	// ErrBadPointer indicates a free of memory this heap did not hand out.
	ErrBadPointer = errors.New("sysheap: pointer not allocated from this heap")

	// ErrBadAlign indicates an alignment that is not a power of two.
	ErrBadAlign = errors.New("sysheap: alignment must be a power of two")

	// ErrBadSize indicates a zero or negative request.
	ErrBadSize = errors.New("sysheap: size must be positive")
)

// Heap is a variable-size allocator over one contiguous region.
type Heap struct {
	mu sync.Mutex

	mem  []byte  // 8-byte aligned view of the region
	base uintptr // address of mem[0]

	classes *classTable

	// Segregated free lists; the last one is the overflow list.
	freeLists []freeList

	byOff    map[int]*freeChunk
	startIdx map[int]int
	endIdx   map[int]int
	used     map[int]int

	// Pool for reusing freeChunk structs
	chunkPool sync.Pool

	stats Stats
}

// Stats reports heap occupancy.
type Stats struct {
	Capacity    int // usable bytes in the region
	Used        int // bytes in live chunks, including rounding
	Allocs      int // live allocations
	FreeChunks  int // entries across all free lists
	LargestFree int // size of the largest free chunk

	AllocCalls       int64
	FreeCalls        int64
	CoalesceForward  int64
	CoalesceBackward int64
}

// freeList is a size-class-specific free list using a min-heap.
type freeList struct {
	heap freeChunkHeap
}

// freeChunk represents a free chunk in the allocator.
type freeChunk struct {
	off       int
	size      int
	sc        int // Size class (which heap this belongs to)
	heapIndex int // Position in heap (for heap.Remove)
}

// freeChunkHeap implements heap.Interface for a min-heap keyed on chunk size.
type freeChunkHeap []*freeChunk

func (h *freeChunkHeap) Len() int { return len(*h) }

func (h *freeChunkHeap) Less(i, j int) bool {
	if (*h)[i].size == (*h)[j].size {
		return (*h)[i].off < (*h)[j].off
	}
	return (*h)[i].size < (*h)[j].size
}

func (h *freeChunkHeap) Swap(i, j int) {
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
	(*h)[i].heapIndex = i
	(*h)[j].heapIndex = j
}

func (h *freeChunkHeap) Push(x any) {
	c := x.(*freeChunk) //nolint:errcheck // heap.Interface contract guarantees type
	c.heapIndex = len(*h)
	*h = append(*h, c)
}

func (h *freeChunkHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	c.heapIndex = -1
	*h = old[0 : n-1]
	return c
}

// New creates a heap managing mem with the default size classes.
// The region is trimmed to an 8-byte aligned start and an 8-byte multiple length.
func New(mem []byte) (*Heap, error) {
	return NewWithConfig(mem, ConfigMetadata)
}

// NewWithConfig creates a heap managing mem with the given size classes.
func NewWithConfig(mem []byte, config Classes) (*Heap, error) {
	if len(mem) == 0 {
		return nil, errors.New("sysheap: empty region")
	}
	start := addrOf(mem)
	skip := int(buf.AlignUp(start, chunkUnit) - start)
	if skip >= len(mem) {
		return nil, errors.Newf("sysheap: region of %d bytes too small to align", len(mem))
	}
	mem = mem[skip:]
	mem = mem[: len(mem)&^(chunkUnit-1) : len(mem)&^(chunkUnit-1)]
	if len(mem) < minSplit {
		return nil, errors.Newf("sysheap: region of %d bytes too small", len(mem))
	}

	table := newClassTable(config)
	h := &Heap{
		mem:       mem,
		base:      addrOf(mem),
		classes:   table,
		freeLists: make([]freeList, table.classes()+1),
		byOff:     make(map[int]*freeChunk),
		startIdx:  make(map[int]int),
		endIdx:    make(map[int]int),
		used:      make(map[int]int),
	}
	h.stats.Capacity = len(mem)
	h.insertFreeChunk(0, len(mem))
	return h, nil
}

// Alloc allocates size bytes with the minimum (8-byte) alignment.
func (h *Heap) Alloc(size int) ([]byte, error) {
	return h.AlignedAlloc(chunkUnit, size)
}

// AlignedAlloc allocates size bytes whose first byte's address is a multiple
// of align. The returned slice has len and cap equal to size; its contents are
// not zeroed.
func (h *Heap) AlignedAlloc(align, size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrBadSize
	}
	if align <= 0 || align&(align-1) != 0 {
		return nil, errors.Wrapf(ErrBadAlign, "align %d", align)
	}
	if align < chunkUnit {
		align = chunkUnit
	}
	need := int(buf.AlignUp(uintptr(size), chunkUnit))
	if need < size {
		return nil, ErrBadSize
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.AllocCalls++

	c, pad := h.findFit(need, align)
	if c == nil {
		return nil, errors.Wrapf(ErrNoSpace, "size=%d align=%d", size, align)
	}

	off, total := c.off, c.size
	h.removeFreeChunk(c)

	// Leading padding goes back to the free lists.
	if pad > 0 {
		h.insertFreeChunk(off, pad)
		off += pad
		total -= pad
	}

	// Trailing remainder: split if worth it, otherwise absorb.
	if rem := total - need; rem >= minSplit {
		h.insertFreeChunk(off+need, rem)
	} else {
		need = total
	}

	h.used[off] = need
	h.stats.Used += need
	h.stats.Allocs++

	return h.mem[off : off+size : off+size], nil
}

// Free returns the allocation starting at p's first byte to the heap,
// coalescing it with free neighbours.
func (h *Heap) Free(p []byte) error {
	if len(p) == 0 && cap(p) == 0 {
		return errors.Wrap(ErrBadPointer, "empty slice")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.FreeCalls++

	addr := addrOf(p)
	if addr < h.base || addr >= h.base+uintptr(len(h.mem)) {
		return errors.Wrapf(ErrBadPointer, "0x%x outside region", addr)
	}
	off := int(addr - h.base)
	sz, ok := h.used[off]
	if !ok {
		return errors.Wrapf(ErrBadPointer, "0x%x not live", addr)
	}
	delete(h.used, off)
	h.stats.Used -= sz
	h.stats.Allocs--

	// Coalesce forward
	if nextSize, ok := h.startIdx[off+sz]; ok {
		h.stats.CoalesceForward++
		h.removeFreeChunk(h.byOff[off+sz])
		sz += nextSize
	}

	// Coalesce backward
	if prevOff, ok := h.endIdx[off]; ok {
		h.stats.CoalesceBackward++
		prevSize := h.startIdx[prevOff]
		h.removeFreeChunk(h.byOff[prevOff])
		off = prevOff
		sz += prevSize
	}

	h.insertFreeChunk(off, sz)
	return nil
}

// Contains reports whether p's first byte lies inside the heap's region.
func (h *Heap) Contains(p []byte) bool {
	if cap(p) == 0 {
		return false
	}
	addr := addrOf(p)
	return addr >= h.base && addr < h.base+uintptr(len(h.mem))
}

// SizeOf returns the chunk size backing the allocation that starts at p,
// or 0 if p is not a live allocation.
func (h *Heap) SizeOf(p []byte) int {
	if !h.Contains(p) {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used[int(addrOf(p)-h.base)]
}

// Stats returns a snapshot of heap occupancy.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.stats
	for i := range h.freeLists {
		s.FreeChunks += h.freeLists[i].heap.Len()
	}
	for _, size := range h.startIdx {
		s.LargestFree = max(s.LargestFree, size)
	}
	return s
}

// Base returns the address of the first usable byte.
func (h *Heap) Base() uintptr {
	return h.base
}

// Len returns the usable region size.
func (h *Heap) Len() int {
	return len(h.mem)
}

// findFit returns the best-fitting free chunk for need bytes at align, and the
// leading padding needed to reach the alignment. Classes are searched upward
// from need's own class; within a class the smallest fitting chunk wins.
func (h *Heap) findFit(need, align int) (*freeChunk, int) {
	for sc := h.classes.classOf(need); sc < len(h.freeLists); sc++ {
		list := h.freeLists[sc].heap

		// Fast path: heap[0] is the smallest chunk in this class.
		if len(list) > 0 {
			if pad, ok := h.fits(list[0], need, align); ok {
				return list[0], pad
			}
		}

		var best *freeChunk
		bestPad := 0
		for _, c := range list {
			pad, ok := h.fits(c, need, align)
			if !ok {
				continue
			}
			if best == nil || c.size < best.size || (c.size == best.size && c.off < best.off) {
				best, bestPad = c, pad
			}
		}
		if best != nil {
			return best, bestPad
		}
	}
	return nil, 0
}

func (h *Heap) fits(c *freeChunk, need, align int) (int, bool) {
	start := h.base + uintptr(c.off)
	pad := int(buf.AlignUp(start, uintptr(align)) - start)
	// A pad smaller than minSplit cannot stand alone as a free chunk.
	if pad > 0 && pad < minSplit {
		pad += int(buf.AlignUp(uintptr(minSplit-pad), uintptr(align)))
	}
	return pad, pad+need <= c.size
}

// insertFreeChunk inserts a free chunk into the appropriate heap and indexes.
func (h *Heap) insertFreeChunk(off, size int) {
	sc := h.classes.classOf(size)

	c := h.getFreeChunk()
	c.off = off
	c.size = size
	c.sc = sc

	heap.Push(&h.freeLists[sc].heap, c)
	h.byOff[off] = c
	h.startIdx[off] = size
	h.endIdx[off+size] = off
}

// removeFreeChunk removes a free chunk from its heap and indexes.
func (h *Heap) removeFreeChunk(c *freeChunk) {
	heap.Remove(&h.freeLists[c.sc].heap, c.heapIndex)
	delete(h.byOff, c.off)
	delete(h.startIdx, c.off)
	delete(h.endIdx, c.off+c.size)
	h.putFreeChunk(c)
}

func (h *Heap) getFreeChunk() *freeChunk {
	c, ok := h.chunkPool.Get().(*freeChunk)
	if !ok {
		return &freeChunk{}
	}
	return c
}

func (h *Heap) putFreeChunk(c *freeChunk) {
	c.heapIndex = -1
	c.sc = 0
	h.chunkPool.Put(c)
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
