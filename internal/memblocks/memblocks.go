// Package memblocks implements a fixed-size block allocator.
//
// The allocator hands out contiguous runs of equally sized blocks and takes
// them back given the run's first block and its length. It keeps one bit per
// block and nothing else: it cannot answer "how long is the run starting
// here?", so callers must remember the count they asked for.
//
// Blocks are addressed by the address of their first byte. The region is
// trimmed so every block starts on a block-size boundary.
//
// A Blocks value is safe for concurrent use.
package memblocks

import (
	"math/bits"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNoSpace indicates no run of the requested length is free.
	ErrNoSpace = errors.New("memblocks: no contiguous run available")

	// ErrBadBlock indicates an address that is not a block start in this pool.
	ErrBadBlock = errors.New("memblocks: address is not a block in this pool")

	// ErrNotAllocated indicates a free of a block that is already free.
	ErrNotAllocated = errors.New("memblocks: block not allocated")

	// ErrBadCount indicates a zero, negative or oversized block count.
	ErrBadCount = errors.New("memblocks: invalid block count")
)

// Blocks is a pool of fixed-size blocks over one region.
type Blocks struct {
	mu sync.Mutex

	mem       []byte
	base      uintptr
	blockSize int
	numBlocks int

	// bitmap has one bit per block; set = allocated.
	bitmap []uint64
	used   int
}

// New creates a pool over mem with the given block size, which must be a
// power of two. Leading bytes up to the first block-aligned address and any
// trailing partial block are left unused.
func New(mem []byte, blockSize int) (*Blocks, error) {
	if blockSize <= 0 || blockSize&(blockSize-1) != 0 {
		return nil, errors.Newf("memblocks: block size %d is not a power of two", blockSize)
	}
	if len(mem) == 0 {
		return nil, errors.New("memblocks: empty region")
	}

	start := addrOf(mem)
	skip := int((start+uintptr(blockSize)-1)&^uintptr(blockSize-1) - start)
	if skip >= len(mem) {
		return nil, errors.Newf("memblocks: region of %d bytes holds no aligned block", len(mem))
	}
	mem = mem[skip:]
	n := len(mem) / blockSize
	if n == 0 {
		return nil, errors.Newf("memblocks: region of %d bytes holds no aligned block", len(mem))
	}
	mem = mem[: n*blockSize : n*blockSize]

	return &Blocks{
		mem:       mem,
		base:      addrOf(mem),
		blockSize: blockSize,
		numBlocks: n,
		bitmap:    make([]uint64, (n+63)/64),
	}, nil
}

// AllocContiguous allocates count adjacent blocks and stores their addresses
// in out[0:count]. out must hold at least count entries. On failure out is
// left untouched.
func (b *Blocks) AllocContiguous(count int, out []uintptr) error {
	if count <= 0 || count > b.numBlocks {
		return errors.Wrapf(ErrBadCount, "count %d", count)
	}
	if len(out) < count {
		return errors.Newf("memblocks: out holds %d entries, need %d", len(out), count)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	first, ok := b.findRun(count)
	if !ok {
		return errors.Wrapf(ErrNoSpace, "%d blocks (%d of %d free)", count,
			b.numBlocks-b.used, b.numBlocks)
	}
	for i := 0; i < count; i++ {
		b.set(first + i)
		out[i] = b.base + uintptr((first+i)*b.blockSize)
	}
	b.used += count
	return nil
}

// FreeContiguous releases count blocks starting at the block whose address is
// first. Every block in the run must currently be allocated; otherwise nothing
// is released.
func (b *Blocks) FreeContiguous(first uintptr, count int) error {
	idx, err := b.index(first)
	if err != nil {
		return err
	}
	if count <= 0 || idx+count > b.numBlocks {
		return errors.Wrapf(ErrBadCount, "count %d at block %d", count, idx)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := idx; i < idx+count; i++ {
		if !b.isSet(i) {
			return errors.Wrapf(ErrNotAllocated, "block %d", i)
		}
	}
	for i := idx; i < idx+count; i++ {
		b.clear(i)
	}
	b.used -= count
	return nil
}

// Bytes returns the n bytes starting at block address first.
// The slice is capacity-limited to n.
func (b *Blocks) Bytes(first uintptr, n int) ([]byte, error) {
	idx, err := b.index(first)
	if err != nil {
		return nil, err
	}
	off := idx * b.blockSize
	if n < 0 || off+n > len(b.mem) {
		return nil, errors.Wrapf(ErrBadBlock, "%d bytes at block %d overruns pool", n, idx)
	}
	return b.mem[off : off+n : off+n], nil
}

// Contains reports whether addr lies inside the pool.
func (b *Blocks) Contains(addr uintptr) bool {
	return addr >= b.base && addr < b.base+uintptr(len(b.mem))
}

// BlockSize returns the block size in bytes.
func (b *Blocks) BlockSize() int { return b.blockSize }

// NumBlocks returns the total number of blocks.
func (b *Blocks) NumBlocks() int { return b.numBlocks }

// Base returns the address of the first block.
func (b *Blocks) Base() uintptr { return b.base }

// Region returns the whole block-aligned region.
func (b *Blocks) Region() []byte { return b.mem }

// FreeBlocks returns the number of unallocated blocks.
func (b *Blocks) FreeBlocks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numBlocks - b.used
}

func (b *Blocks) index(addr uintptr) (int, error) {
	if !b.Contains(addr) {
		return 0, errors.Wrapf(ErrBadBlock, "0x%x outside pool", addr)
	}
	off := addr - b.base
	if off%uintptr(b.blockSize) != 0 {
		return 0, errors.Wrapf(ErrBadBlock, "0x%x not on a block boundary", addr)
	}
	return int(off / uintptr(b.blockSize)), nil
}

// findRun returns the first index of a free run of count blocks (first fit).
func (b *Blocks) findRun(count int) (int, bool) {
	run := 0
	for i := 0; i < b.numBlocks; {
		// Skip fully allocated words quickly.
		if i%64 == 0 && b.bitmap[i/64] == ^uint64(0) {
			run = 0
			i += 64
			continue
		}
		if b.isSet(i) {
			run = 0
			i++
			continue
		}
		// Count free bits in the rest of this word in one go.
		word := b.bitmap[i/64] >> (i % 64)
		free := bits.TrailingZeros64(word)
		if limit := 64 - i%64; free > limit {
			free = limit
		}
		if free > b.numBlocks-i {
			free = b.numBlocks - i
		}
		if run+free >= count {
			return i - run, true
		}
		run += free
		i += free
	}
	return 0, false
}

func (b *Blocks) isSet(i int) bool { return b.bitmap[i/64]&(1<<(i%64)) != 0 }
func (b *Blocks) set(i int)        { b.bitmap[i/64] |= 1 << (i % 64) }
func (b *Blocks) clear(i int)      { b.bitmap[i/64] &^= 1 << (i % 64) }

func addrOf(p []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(p)))
}
