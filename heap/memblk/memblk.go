// Package memblk is the block heap backend.
//
// Data and instruction memory come from fixed-block pools that can only free
// a run given its first block and its length. Each allocation is therefore
// recorded in the owning extension's heap.AllocTable together with a
// block-pointer array taken from a separate metadata pool, and frees look the
// record up by pointer.
//
// Block size is a multiple of the page size, so every allocation starts on a
// page boundary and can be protected on its own.
package memblk

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/llext/heap"
	"github.com/joshuapare/llext/internal/arena"
	"github.com/joshuapare/llext/internal/buf"
	"github.com/joshuapare/llext/internal/logger"
	"github.com/joshuapare/llext/internal/memblocks"
	pool "github.com/joshuapare/llext/internal/sysheap"
)

// Option configures a Heap.
type Option func(*Heap)

// WithLogger sets the heap's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Heap) { h.log = l }
}

// WithRegistry sets the registry Uninit consults before tearing down.
func WithRegistry(r heap.Registry) Option {
	return func(h *Heap) { h.reg = r }
}

// WithBlockSize sets the block size. It must be a power of two. The default
// is the OS page size.
func WithBlockSize(n int) Option {
	return func(h *Heap) { h.blockSize = n }
}

// WithTableCapacity sets the allocation table capacity of extensions created
// by NewExtension.
func WithTableCapacity(n int) Option {
	return func(h *Heap) { h.capacity = n }
}

// Heap implements heap.Heap over fixed-block pools.
type Heap struct {
	mu  sync.RWMutex
	log *slog.Logger
	reg heap.Registry

	blockSize int
	capacity  int

	meta  *pool.Heap
	instr *memblocks.Blocks
	data  *memblocks.Blocks
	split bool
}

var _ heap.Heap = (*Heap)(nil)

// New returns an uninitialized heap whose metadata pool is metadata. The
// metadata pool outlives Uninit and is reused by the next Init.
func New(metadata []byte, opts ...Option) (*Heap, error) {
	h := &Heap{}
	for _, o := range opts {
		o(h)
	}
	if h.blockSize == 0 {
		h.blockSize = arena.PageSize()
	}
	if !buf.IsPow2(h.blockSize) {
		return nil, errors.Wrapf(heap.ErrInvalidConfig, "block size %d is not a power of two", h.blockSize)
	}
	if h.capacity <= 0 {
		h.capacity = heap.DefaultTableCapacity
	}
	meta, err := pool.NewWithConfig(metadata, pool.ConfigMetadata)
	if err != nil {
		return nil, errors.Wrap(err, "memblk: metadata pool")
	}
	h.meta = meta
	return h, nil
}

// BlockSize returns the block granularity.
func (h *Heap) BlockSize() int { return h.blockSize }

// NewExtension returns an extension whose table has the heap's capacity.
func (h *Heap) NewExtension(name string) *heap.Extension {
	return heap.NewExtension(name, h.capacity)
}

// Init implements heap.Heap.
func (h *Heap) Init(mem []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.data != nil {
		return heap.ErrAlreadyInitialized
	}
	b, err := memblocks.New(mem, h.blockSize)
	if err != nil {
		return errors.Wrap(err, "memblk: init")
	}
	h.instr, h.data, h.split = b, b, false
	logger.Or(h.log).Debug("heap initialized", "backend", "memblk", "layout", "unified",
		"blocks", b.NumBlocks(), "block_size", h.blockSize)
	return nil
}

// InitSplit implements heap.Heap.
func (h *Heap) InitSplit(instr, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.data != nil {
		return heap.ErrAlreadyInitialized
	}
	ib, err := memblocks.New(instr, h.blockSize)
	if err != nil {
		return errors.Wrap(err, "memblk: init instruction pool")
	}
	db, err := memblocks.New(data, h.blockSize)
	if err != nil {
		return errors.Wrap(err, "memblk: init data pool")
	}
	h.instr, h.data, h.split = ib, db, true
	logger.Or(h.log).Debug("heap initialized", "backend", "memblk", "layout", "split",
		"instr_blocks", ib.NumBlocks(), "data_blocks", db.NumBlocks(), "block_size", h.blockSize)
	return nil
}

// Uninit implements heap.Heap.
func (h *Heap) Uninit() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.data == nil {
		return heap.ErrNotInitialized
	}
	if err := heap.CheckIdle(h.reg); err != nil {
		return err
	}
	if n := h.liveBlocks(); n > 0 {
		return errors.Wrapf(heap.ErrBusy, "%d blocks still allocated", n)
	}
	h.instr, h.data, h.split = nil, nil, false
	return nil
}

// liveBlocks counts allocated instruction and data blocks. Callers hold h.mu.
func (h *Heap) liveBlocks() int {
	n := h.data.NumBlocks() - h.data.FreeBlocks()
	if h.split {
		n += h.instr.NumBlocks() - h.instr.FreeBlocks()
	}
	return n
}

// IsInitialized implements heap.Heap.
func (h *Heap) IsInitialized() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.data != nil
}

// Reset implements heap.Heap. It empties ext's table without releasing any
// blocks, for use only when the pools themselves are being reinitialized.
func (h *Heap) Reset(ext *heap.Extension) error {
	if _, _, err := h.pools(); err != nil {
		return err
	}
	if ext != nil && ext.Allocs != nil {
		ext.Allocs.Reset()
	}
	return nil
}

// AllocMetadata implements heap.Heap.
func (h *Heap) AllocMetadata(size int) ([]byte, error) {
	if _, _, err := h.pools(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, errors.Wrapf(heap.ErrAllocationFailed, "metadata: size %d", size)
	}
	b, err := h.meta.Alloc(size)
	if err != nil {
		return nil, errors.Wrapf(heap.ErrAllocationFailed, "metadata: %d bytes: %v", size, err)
	}
	return b, nil
}

// FreeMetadata implements heap.Heap.
func (h *Heap) FreeMetadata(p []byte) error {
	if _, _, err := h.pools(); err != nil {
		return err
	}
	if err := h.meta.Free(p); err != nil {
		logger.Or(h.log).Error("free of unknown pointer", "region", "metadata", "ptr", heap.AddrOf(p))
		return errors.Wrapf(heap.ErrRecordNotFound, "metadata: %v", err)
	}
	return nil
}

// AllocData implements heap.Heap.
func (h *Heap) AllocData(ext *heap.Extension, align, size int) ([]byte, error) {
	_, data, err := h.pools()
	if err != nil {
		return nil, err
	}
	return h.allocRun(ext, data, "data", align, size)
}

// AllocInstr implements heap.Heap.
func (h *Heap) AllocInstr(ext *heap.Extension, align, size int) ([]byte, error) {
	instr, _, err := h.pools()
	if err != nil {
		return nil, err
	}
	return h.allocRun(ext, instr, "instr", align, size)
}

// FreeData implements heap.Heap.
func (h *Heap) FreeData(ext *heap.Extension, p []byte) error {
	_, data, err := h.pools()
	if err != nil {
		return err
	}
	return h.freeRun(ext, data, "data", p)
}

// FreeInstr implements heap.Heap.
func (h *Heap) FreeInstr(ext *heap.Extension, p []byte) error {
	instr, _, err := h.pools()
	if err != nil {
		return err
	}
	return h.freeRun(ext, instr, "instr", p)
}

// Stats describes pool usage.
type Stats struct {
	BlockSize        int
	InstrBlocks      int
	InstrFree        int
	DataBlocks       int
	DataFree         int
	MetadataUsed     int
	MetadataAllocs   int
	MetadataCapacity int
}

// Stats returns pool usage. For a unified heap the instruction and data
// figures describe the same pool.
func (h *Heap) Stats() (Stats, error) {
	instr, data, err := h.pools()
	if err != nil {
		return Stats{}, err
	}
	ms := h.meta.Stats()
	return Stats{
		BlockSize:        h.blockSize,
		InstrBlocks:      instr.NumBlocks(),
		InstrFree:        instr.FreeBlocks(),
		DataBlocks:       data.NumBlocks(),
		DataFree:         data.FreeBlocks(),
		MetadataUsed:     ms.Used,
		MetadataAllocs:   ms.Allocs,
		MetadataCapacity: ms.Capacity,
	}, nil
}

func (h *Heap) pools() (*memblocks.Blocks, *memblocks.Blocks, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.data == nil {
		return nil, nil, heap.ErrNotInitialized
	}
	return h.instr, h.data, nil
}

func (h *Heap) allocRun(ext *heap.Extension, blocks *memblocks.Blocks, region string, align, size int) ([]byte, error) {
	if ext == nil || ext.Allocs == nil {
		return nil, errors.Wrapf(heap.ErrAllocationFailed, "%s: no extension", region)
	}
	if size <= 0 {
		return nil, errors.Wrapf(heap.ErrAllocationFailed, "%s: size %d", region, size)
	}
	if align <= 0 {
		align = 1
	}
	if h.blockSize%align != 0 {
		logger.Or(h.log).Error("alignment not possible with block size",
			"region", region, "align", align, "block_size", h.blockSize)
		return nil, errors.Wrapf(heap.ErrAlignmentUnsatisfiable,
			"%s: align %d, block size %d", region, align, h.blockSize)
	}

	count := buf.CeilDiv(size, h.blockSize)

	// Checked first so a full table never strands a block run.
	if ext.Allocs.Full() {
		return nil, errors.Wrapf(heap.ErrTableExhausted, "%s: %s has %d records",
			region, ext.Name, ext.Allocs.Cap())
	}

	arr, err := h.meta.Alloc(count * heap.BlockAddrSize)
	if err != nil {
		return nil, errors.Wrapf(heap.ErrAllocationFailed, "%s: block array for %d blocks: %v", region, count, err)
	}
	addrs := make([]uintptr, count)
	if err := blocks.AllocContiguous(count, addrs); err != nil {
		_ = h.meta.Free(arr)
		return nil, errors.Wrapf(heap.ErrAllocationFailed, "%s: %d blocks: %v", region, count, err)
	}
	for i, a := range addrs {
		buf.PutU64LE(arr[i*heap.BlockAddrSize:], uint64(a))
	}

	release := func() {
		_ = blocks.FreeContiguous(addrs[0], count)
		_ = h.meta.Free(arr)
	}
	b, err := blocks.Bytes(addrs[0], count*h.blockSize)
	if err != nil {
		release()
		return nil, errors.Wrapf(heap.ErrAllocationFailed, "%s: %v", region, err)
	}
	rec := heap.Record{Owner: ext.Name, Blocks: arr, Count: uint32(count), Ptr: addrs[0]}
	if err := ext.Allocs.Insert(rec); err != nil {
		release()
		return nil, err
	}
	logger.Or(h.log).Debug("alloc", "region", region, "ext", ext.Name,
		"size", size, "blocks", count, "ptr", addrs[0])
	return b[:size], nil
}

func (h *Heap) freeRun(ext *heap.Extension, blocks *memblocks.Blocks, region string, p []byte) error {
	ptr := heap.AddrOf(p)
	var (
		rec heap.Record
		ok  bool
	)
	if ext != nil && ext.Allocs != nil && blocks.Contains(ptr) {
		rec, ok = ext.Allocs.Lookup(ptr)
	}
	if !ok {
		logger.Or(h.log).Error("could not find block allocation to free",
			"region", region, "ext", ext.String(), "ptr", ptr)
		return errors.Wrapf(heap.ErrRecordNotFound, "%s: 0x%x", region, ptr)
	}

	if err := blocks.FreeContiguous(rec.Block(0), int(rec.Count)); err != nil {
		return errors.Wrapf(err, "memblk: %s", region)
	}
	if err := h.meta.Free(rec.Blocks); err != nil {
		logger.Or(h.log).Error("could not free block array", "region", region, "err", err)
	}
	ext.Allocs.Remove(ptr)
	return nil
}
