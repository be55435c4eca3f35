// Package sysheap is the variable-size heap backend.
//
// Every request goes straight to a general-purpose allocator that handles any
// size and power-of-two alignment and frees by pointer alone, so no
// per-extension bookkeeping is kept and Reset does nothing.
//
// With Init one pool serves metadata, data and instructions. With InitSplit
// instructions get their own pool and metadata shares the data pool.
package sysheap

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/llext/heap"
	"github.com/joshuapare/llext/internal/logger"
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

// Heap implements heap.Heap over internal/sysheap pools.
type Heap struct {
	mu  sync.RWMutex
	log *slog.Logger
	reg heap.Registry

	instr *pool.Heap
	data  *pool.Heap // also serves metadata
	split bool
}

var _ heap.Heap = (*Heap)(nil)

// New returns an uninitialized heap.
func New(opts ...Option) *Heap {
	h := &Heap{}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Init implements heap.Heap.
func (h *Heap) Init(mem []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.data != nil {
		return heap.ErrAlreadyInitialized
	}
	p, err := pool.New(mem)
	if err != nil {
		return errors.Wrap(err, "sysheap: init")
	}
	h.instr, h.data, h.split = p, p, false
	logger.Or(h.log).Debug("heap initialized", "backend", "sysheap", "layout", "unified", "size", p.Len())
	return nil
}

// InitSplit implements heap.Heap.
func (h *Heap) InitSplit(instr, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.data != nil {
		return heap.ErrAlreadyInitialized
	}
	ip, err := pool.NewWithConfig(instr, pool.ConfigRegions)
	if err != nil {
		return errors.Wrap(err, "sysheap: init instruction pool")
	}
	dp, err := pool.NewWithConfig(data, pool.ConfigMetadata)
	if err != nil {
		return errors.Wrap(err, "sysheap: init data pool")
	}
	h.instr, h.data, h.split = ip, dp, true
	logger.Or(h.log).Debug("heap initialized", "backend", "sysheap", "layout", "split",
		"instr", ip.Len(), "data", dp.Len())
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
	if n := h.liveAllocs(); n > 0 {
		return errors.Wrapf(heap.ErrBusy, "%d allocations still live", n)
	}
	h.instr, h.data, h.split = nil, nil, false
	return nil
}

// IsInitialized implements heap.Heap.
func (h *Heap) IsInitialized() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.data != nil
}

// Reset implements heap.Heap. The variable-size backend keeps no
// per-extension state.
func (h *Heap) Reset(ext *heap.Extension) error {
	_, _, err := h.pools()
	return err
}

// AllocMetadata implements heap.Heap.
func (h *Heap) AllocMetadata(size int) ([]byte, error) {
	_, data, err := h.pools()
	if err != nil {
		return nil, err
	}
	return h.alloc(data, "metadata", 0, size)
}

// AllocData implements heap.Heap.
func (h *Heap) AllocData(ext *heap.Extension, align, size int) ([]byte, error) {
	_, data, err := h.pools()
	if err != nil {
		return nil, err
	}
	return h.alloc(data, "data", align, size)
}

// AllocInstr implements heap.Heap.
func (h *Heap) AllocInstr(ext *heap.Extension, align, size int) ([]byte, error) {
	instr, _, err := h.pools()
	if err != nil {
		return nil, err
	}
	return h.alloc(instr, "instr", align, size)
}

// FreeMetadata implements heap.Heap.
func (h *Heap) FreeMetadata(p []byte) error {
	_, data, err := h.pools()
	if err != nil {
		return err
	}
	return h.free(data, "metadata", p)
}

// FreeData implements heap.Heap.
func (h *Heap) FreeData(ext *heap.Extension, p []byte) error {
	_, data, err := h.pools()
	if err != nil {
		return err
	}
	return h.free(data, "data", p)
}

// FreeInstr implements heap.Heap.
func (h *Heap) FreeInstr(ext *heap.Extension, p []byte) error {
	instr, _, err := h.pools()
	if err != nil {
		return err
	}
	return h.free(instr, "instr", p)
}

// Split reports whether instructions have their own pool.
func (h *Heap) Split() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.split
}

// Stats returns usage of the instruction and data pools. For a unified heap
// both are the same pool.
func (h *Heap) Stats() (instr, data pool.Stats, err error) {
	ip, dp, err := h.pools()
	if err != nil {
		return pool.Stats{}, pool.Stats{}, err
	}
	return ip.Stats(), dp.Stats(), nil
}

// liveAllocs counts allocations across the pools. Callers hold h.mu.
func (h *Heap) liveAllocs() int {
	n := h.data.Stats().Allocs
	if h.split {
		n += h.instr.Stats().Allocs
	}
	return n
}

func (h *Heap) pools() (*pool.Heap, *pool.Heap, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.data == nil {
		return nil, nil, heap.ErrNotInitialized
	}
	return h.instr, h.data, nil
}

func (h *Heap) alloc(p *pool.Heap, region string, align, size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Wrapf(heap.ErrAllocationFailed, "%s: size %d", region, size)
	}
	var (
		b   []byte
		err error
	)
	if align <= 0 {
		b, err = p.Alloc(size)
	} else {
		b, err = p.AlignedAlloc(align, size)
	}
	switch {
	case err == nil:
		logger.Or(h.log).Debug("alloc", "region", region, "size", size, "align", align)
		return b, nil
	case errors.Is(err, pool.ErrBadAlign):
		return nil, errors.Wrapf(heap.ErrAlignmentUnsatisfiable, "%s: %v", region, err)
	default:
		return nil, errors.Wrapf(heap.ErrAllocationFailed, "%s: %d bytes: %v", region, size, err)
	}
}

func (h *Heap) free(p *pool.Heap, region string, b []byte) error {
	if err := p.Free(b); err != nil {
		logger.Or(h.log).Error("free of unknown pointer", "region", region, "ptr", heap.AddrOf(b))
		return errors.Wrapf(heap.ErrRecordNotFound, "%s: %v", region, err)
	}
	return nil
}
