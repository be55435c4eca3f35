package memblocks

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testBlock = 256

// newTestPool returns a pool of exactly n blocks.
func newTestPool(t testing.TB, n int) *Blocks {
	t.Helper()
	// Over-allocate so trimming to block alignment still leaves n blocks.
	raw := make([]byte, (n+1)*testBlock)
	b, err := New(raw, testBlock)
	require.NoError(t, err)
	if b.NumBlocks() > n {
		b, err = New(b.Region()[:n*testBlock], testBlock)
		require.NoError(t, err)
	}
	require.Equal(t, n, b.NumBlocks())
	return b
}

func TestNewValidation(t *testing.T) {
	_, err := New(make([]byte, 1024), 100)
	require.Error(t, err, "block size must be a power of two")
	_, err = New(nil, 64)
	require.Error(t, err)
	_, err = New(make([]byte, 10), 64)
	require.Error(t, err)

	b, err := New(make([]byte, 4096), 64)
	require.NoError(t, err)
	require.Zero(t, b.Base()%64)
	require.Equal(t, b.NumBlocks(), b.FreeBlocks())
	require.Equal(t, 64, b.BlockSize())
}

func TestAllocContiguous(t *testing.T) {
	b := newTestPool(t, 8)

	out := make([]uintptr, 3)
	require.NoError(t, b.AllocContiguous(3, out))
	for i := 1; i < 3; i++ {
		require.Equal(t, out[i-1]+testBlock, out[i], "blocks must be adjacent")
	}
	require.Equal(t, b.Base(), out[0], "first fit starts at block 0")
	require.Equal(t, 5, b.FreeBlocks())

	more := make([]uintptr, 5)
	require.NoError(t, b.AllocContiguous(5, more))
	require.Equal(t, out[2]+testBlock, more[0])
	require.Zero(t, b.FreeBlocks())

	err := b.AllocContiguous(1, more)
	require.ErrorIs(t, err, ErrNoSpace)
}

func TestAllocRejectsBadCount(t *testing.T) {
	b := newTestPool(t, 4)
	out := make([]uintptr, 8)
	require.ErrorIs(t, b.AllocContiguous(0, out), ErrBadCount)
	require.ErrorIs(t, b.AllocContiguous(5, out), ErrBadCount)
	require.Error(t, b.AllocContiguous(3, out[:2]), "out too small")
	require.Equal(t, 4, b.FreeBlocks(), "failed calls must not leak blocks")
}

func TestFragmentationNeedsContiguousRun(t *testing.T) {
	b := newTestPool(t, 6)
	one := make([]uintptr, 1)
	var singles []uintptr
	for i := 0; i < 6; i++ {
		require.NoError(t, b.AllocContiguous(1, one))
		singles = append(singles, one[0])
	}
	// Free blocks 1, 3, 4: three free blocks but the longest run is two.
	require.NoError(t, b.FreeContiguous(singles[1], 1))
	require.NoError(t, b.FreeContiguous(singles[3], 1))
	require.NoError(t, b.FreeContiguous(singles[4], 1))
	require.Equal(t, 3, b.FreeBlocks())

	out := make([]uintptr, 3)
	require.ErrorIs(t, b.AllocContiguous(3, out), ErrNoSpace)
	require.NoError(t, b.AllocContiguous(2, out))
	require.Equal(t, singles[3], out[0])
}

func TestFreeContiguous(t *testing.T) {
	b := newTestPool(t, 4)
	out := make([]uintptr, 2)
	require.NoError(t, b.AllocContiguous(2, out))

	require.ErrorIs(t, b.FreeContiguous(out[0]+1, 2), ErrBadBlock)
	require.ErrorIs(t, b.FreeContiguous(out[0], 3), ErrNotAllocated, "run overlaps a free block")
	require.Equal(t, 2, b.FreeBlocks(), "rejected free must not release anything")
	require.ErrorIs(t, b.FreeContiguous(out[0], 5), ErrBadCount)

	require.NoError(t, b.FreeContiguous(out[0], 2))
	require.Equal(t, 4, b.FreeBlocks())
	require.ErrorIs(t, b.FreeContiguous(out[0], 1), ErrNotAllocated, "double free")
}

func TestBytes(t *testing.T) {
	b := newTestPool(t, 4)
	out := make([]uintptr, 2)
	require.NoError(t, b.AllocContiguous(2, out))

	p, err := b.Bytes(out[0], 2*testBlock)
	require.NoError(t, err)
	require.Len(t, p, 2*testBlock)
	require.Equal(t, len(p), cap(p))
	require.Equal(t, out[0], addrOf(p))

	_, err = b.Bytes(out[0], 5*testBlock)
	require.ErrorIs(t, err, ErrBadBlock)
	_, err = b.Bytes(0x10, 1)
	require.ErrorIs(t, err, ErrBadBlock)
}

func TestFindRunAcrossWords(t *testing.T) {
	b := newTestPool(t, 200)
	out := make([]uintptr, 200)

	// Fill the first 60 blocks, then ask for a run that must straddle the
	// first bitmap word boundary.
	require.NoError(t, b.AllocContiguous(60, out))
	require.NoError(t, b.AllocContiguous(10, out))
	require.Equal(t, b.Base()+60*testBlock, out[0])

	// Fill through block 127 so the whole second word is taken.
	require.NoError(t, b.AllocContiguous(58, out))
	require.NoError(t, b.AllocContiguous(72, out))
	require.Equal(t, b.Base()+128*testBlock, out[0])
	require.Zero(t, b.FreeBlocks())
}
