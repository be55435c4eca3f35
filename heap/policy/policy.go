// Package policy builds a heap.Heap from a heap.Config.
//
// It picks the backend and the unified or split layout, maps the pools
// unless the configuration is dynamic, and initializes the heap. Code that
// loads extensions depends only on heap.Heap.
package policy

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/llext/heap"
	"github.com/joshuapare/llext/heap/memblk"
	"github.com/joshuapare/llext/heap/sysheap"
	"github.com/joshuapare/llext/internal/arena"
	"github.com/joshuapare/llext/internal/logger"
)

// Option configures Build.
type Option func(*options)

type options struct {
	log *slog.Logger
	reg heap.Registry
}

// WithLogger sets the logger handed to the backend.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRegistry sets the registry the backend consults on Uninit.
func WithRegistry(r heap.Registry) Option {
	return func(o *options) { o.reg = r }
}

// Pools is a configured heap together with the memory backing it.
type Pools struct {
	heap.Heap

	cfg heap.Config
	log *slog.Logger

	mu      sync.Mutex
	regions []*arena.Region // unmapped by Close
	instr   []byte          // instruction pool, for sealing
}

// Build validates cfg and returns an initialized heap, or an uninitialized
// one if cfg.Dynamic is set.
func Build(cfg heap.Config, opts ...Option) (*Pools, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pools{cfg: cfg, log: logger.Or(o.log)}

	switch cfg.Backend {
	case heap.BackendSysHeap:
		p.Heap = sysheap.New(sysheap.WithLogger(o.log), sysheap.WithRegistry(o.reg))
	case heap.BackendMemBlk:
		meta, err := p.mapRegion(int(cfg.MetadataSize), 8)
		if err != nil {
			return nil, err
		}
		h, err := memblk.New(meta,
			memblk.WithBlockSize(cfg.Block()),
			memblk.WithTableCapacity(cfg.Capacity()),
			memblk.WithLogger(o.log),
			memblk.WithRegistry(o.reg))
		if err != nil {
			p.unmapAll()
			return nil, err
		}
		p.Heap = h
	}

	if cfg.Dynamic {
		p.log.Debug("heap built", "backend", cfg.Backend, "layout", cfg.Layout, "dynamic", true)
		return p, nil
	}

	align := cfg.Page()
	if cfg.Backend == heap.BackendMemBlk {
		align = cfg.Block()
	}
	var err error
	switch cfg.Layout {
	case heap.LayoutUnified:
		var mem []byte
		if mem, err = p.mapRegion(int(cfg.HeapSize), align); err == nil {
			err = p.Init(mem)
		}
	case heap.LayoutSplit:
		var instr, data []byte
		if instr, err = p.mapRegion(int(cfg.InstrSize), align); err == nil {
			if data, err = p.mapRegion(int(cfg.DataSize), align); err == nil {
				err = p.InitSplit(instr, data)
			}
		}
	}
	if err != nil {
		p.unmapAll()
		return nil, err
	}
	p.log.Debug("heap built", "backend", cfg.Backend, "layout", cfg.Layout,
		"heap_size", cfg.HeapSize, "instr_size", cfg.InstrSize, "data_size", cfg.DataSize)
	return p, nil
}

// Config returns the configuration the pools were built from.
func (p *Pools) Config() heap.Config { return p.cfg }

// NewExtension returns an extension whose table has the configured capacity.
func (p *Pools) NewExtension(name string) *heap.Extension {
	return heap.NewExtension(name, p.cfg.Capacity())
}

// Init initializes a unified heap and remembers mem as the instruction pool.
func (p *Pools) Init(mem []byte) error {
	if err := p.Heap.Init(mem); err != nil {
		return err
	}
	p.mu.Lock()
	p.instr = mem
	p.mu.Unlock()
	return nil
}

// InitSplit initializes a split heap and remembers instr as the instruction pool.
func (p *Pools) InitSplit(instr, data []byte) error {
	if err := p.Heap.InitSplit(instr, data); err != nil {
		return err
	}
	p.mu.Lock()
	p.instr = instr
	p.mu.Unlock()
	return nil
}

// SealInstr makes an instruction allocation read-only and executable. b must
// start on a page boundary, which holds for every block-backend allocation.
// Only pools mapped by Build can be sealed.
func (p *Pools) SealInstr(b []byte) error {
	return p.protectInstr(b, arena.ReadExec)
}

// UnsealInstr makes an instruction allocation writable again, for example
// before freeing it.
func (p *Pools) UnsealInstr(b []byte) error {
	return p.protectInstr(b, arena.ReadWrite)
}

func (p *Pools) protectInstr(b []byte, prot arena.Prot) error {
	if p.cfg.Dynamic {
		return errors.Wrap(heap.ErrNotSupported, "policy: caller-supplied pools cannot be protected")
	}
	p.mu.Lock()
	instr := p.instr
	p.mu.Unlock()
	if instr == nil {
		return heap.ErrNotInitialized
	}
	lo, hi := heap.AddrOf(instr), heap.AddrOf(instr)+uintptr(len(instr))
	a := heap.AddrOf(b)
	if len(b) == 0 || a < lo || a+uintptr(len(b)) > hi {
		return errors.Newf("policy: 0x%x+%d is not in the instruction pool", a, len(b))
	}
	if err := arena.Protect(b, prot); err != nil {
		return errors.Wrapf(err, "policy: protect %s", prot)
	}
	p.log.Debug("instruction memory protected", "ptr", a, "len", len(b), "prot", prot.String())
	return nil
}

// Close uninitializes the heap and unmaps the pools. It fails with
// heap.ErrBusy, leaving everything in place, while extensions are loaded.
func (p *Pools) Close() error {
	if p.IsInitialized() {
		if err := p.Uninit(); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.instr = nil
	p.mu.Unlock()
	return p.unmapAll()
}

func (p *Pools) mapRegion(size, align int) ([]byte, error) {
	r, err := arena.Map(size, align)
	if err != nil {
		return nil, errors.Wrapf(err, "policy: map %d bytes", size)
	}
	p.mu.Lock()
	p.regions = append(p.regions, r)
	p.mu.Unlock()
	return r.Bytes(), nil
}

func (p *Pools) unmapAll() error {
	p.mu.Lock()
	regions := p.regions
	p.regions = nil
	p.mu.Unlock()

	var errs error
	for _, r := range regions {
		if err := r.Unmap(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}
