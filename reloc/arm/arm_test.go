package arm

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/llext/internal/buf"
	"github.com/joshuapare/llext/reloc"
)

// ============================================================================
// Test Helpers
// ============================================================================

// branchSite returns a 4-byte site at addr holding the given halfwords.
func branchSite(addr uint64, hw1, hw2 uint16) reloc.Site {
	b := make([]byte, 4)
	buf.PutHalfwords(b, hw1, hw2)
	return reloc.Site{Addr: addr, Bytes: b}
}

func thumbFn(name string, addr uint64) reloc.Symbol {
	return reloc.Symbol{Name: name, Addr: addr, Kind: reloc.SymFunc, Thumb: true}
}

func armFn(name string, addr uint64) reloc.Symbol {
	return reloc.Symbol{Name: name, Addr: addr, Kind: reloc.SymFunc}
}

// landing returns where the branch at site transfers control.
func landing(t *testing.T, site reloc.Site) uint64 {
	t.Helper()
	hw1, hw2 := buf.Halfwords(site.Bytes)
	pc := site.Addr + pcBias
	if IsBLX(hw2) {
		pc &^= 3
	}
	return uint64(int64(pc) + DecodeBranch(hw1, hw2))
}

// ============================================================================
// Word patch
// ============================================================================

func TestAbs32(t *testing.T) {
	e := New()
	site := reloc.Site{Addr: 0x100, Bytes: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x11}}
	sym := reloc.Symbol{Name: "table", Addr: 0xAABBCCDD, Kind: reloc.SymObject}

	err := e.Apply(reloc.Record{Type: TypeAbs32}, site, sym, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0xDD, 0xCC, 0xBB, 0xAA, 0x11}, site.Bytes, "only four bytes are written")
}

func TestAbs32ThumbFunctionAndAddend(t *testing.T) {
	e := New()
	site := reloc.Site{Addr: 0x100, Bytes: make([]byte, 4)}

	rec := reloc.Record{Type: TypeAbs32, Addend: 4, HasAddend: true}
	require.NoError(t, e.Apply(rec, site, thumbFn("f", 0x1000), 0))
	require.Equal(t, uint32(0x1005), buf.U32LE(site.Bytes))

	require.NoError(t, e.Apply(rec, site, armFn("g", 0x1000), 0))
	require.Equal(t, uint32(0x1004), buf.U32LE(site.Bytes))
}

func TestNoneIsNoOp(t *testing.T) {
	site := reloc.Site{Addr: 0, Bytes: []byte{1, 2, 3, 4}}
	require.NoError(t, New().Apply(reloc.Record{Type: TypeNone}, site, reloc.Symbol{}, 0))
	require.Equal(t, []byte{1, 2, 3, 4}, site.Bytes)
}

func TestUnsupportedType(t *testing.T) {
	site := reloc.Site{Addr: 0x40, Bytes: []byte{1, 2, 3, 4}}
	err := New().Apply(reloc.Record{Type: 99}, site, reloc.Symbol{}, 0)

	require.ErrorIs(t, err, reloc.ErrUnsupportedRelocation)
	var ue *reloc.UnsupportedError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, uint32(99), ue.Type)
	require.Equal(t, elf.EM_ARM, ue.Machine)
	require.Equal(t, []byte{1, 2, 3, 4}, site.Bytes, "site must be untouched")
}

func TestSiteTooShort(t *testing.T) {
	e := New()
	short := reloc.Site{Bytes: make([]byte, 3)}
	require.ErrorIs(t, e.Apply(reloc.Record{Type: TypeAbs32}, short, reloc.Symbol{}, 0), reloc.ErrSiteTooShort)
	require.ErrorIs(t, e.Apply(reloc.Record{Type: TypeThumbCall}, short, reloc.Symbol{}, 0), reloc.ErrSiteTooShort)
}

// ============================================================================
// Thumb branches
// ============================================================================

func TestThumbCallInlineAddend(t *testing.T) {
	// Compiler output: BL with the -4 PC bias as its encoded addend.
	site := branchSite(0x1000, 0xF7FF, 0xFFFE)
	rec := reloc.Record{Type: TypeThumbCall}

	require.NoError(t, New().Apply(rec, site, thumbFn("f", 0x2000), 0))

	hw1, hw2 := buf.Halfwords(site.Bytes)
	require.False(t, IsBLX(hw2))
	require.Equal(t, int64(0xFFC), DecodeBranch(hw1, hw2))
	require.Equal(t, uint64(0x2000), landing(t, site))
}

func TestThumbCallOddSymbolValue(t *testing.T) {
	site := branchSite(0x1000, 0xF7FF, 0xFFFE)
	sym := reloc.Symbol{Name: "f", Addr: 0x2001, Kind: reloc.SymFunc}

	require.NoError(t, New().Apply(reloc.Record{Type: TypeThumbCall}, site, sym, 0))
	_, hw2 := buf.Halfwords(site.Bytes)
	require.False(t, IsBLX(hw2), "bit 0 of a function symbol marks Thumb code")
	require.Equal(t, uint64(0x2000), landing(t, site))
}

func TestThumbCallToArmBecomesBLX(t *testing.T) {
	// Halfword-aligned site: BLX offsets are computed from Align(PC, 4).
	site := branchSite(0x1002, 0xF7FF, 0xFFFE)
	rec := reloc.Record{Type: TypeThumbCall}

	require.NoError(t, New().Apply(rec, site, armFn("a", 0x2000), 0))

	hw1, hw2 := buf.Halfwords(site.Bytes)
	require.True(t, IsBLX(hw2), "call to ARM code must switch to BLX")
	require.Zero(t, DecodeBranch(hw1, hw2)%4)
	require.Equal(t, uint64(0x2000), landing(t, site))
}

func TestBLXBackToThumb(t *testing.T) {
	// A BLX whose target turns out to be Thumb is rewritten as BL.
	site := branchSite(0x1000, 0xF7FF, 0xEFFE)
	require.True(t, IsBLX(0xEFFE))

	require.NoError(t, New().Apply(reloc.Record{Type: TypeThumbCall}, site, thumbFn("f", 0x3000), 0))
	_, hw2 := buf.Halfwords(site.Bytes)
	require.False(t, IsBLX(hw2))
	require.Equal(t, uint64(0x3000), landing(t, site))
}

func TestNonFunctionSymbolKeepsSelector(t *testing.T) {
	site := branchSite(0x1000, 0xF7FF, 0xEFFE) // BLX
	sym := reloc.Symbol{Name: ".text.arm", Addr: 0x2000, Kind: reloc.SymSection}

	require.NoError(t, New().Apply(reloc.Record{Type: TypeThumbCall}, site, sym, 0))
	_, hw2 := buf.Halfwords(site.Bytes)
	require.True(t, IsBLX(hw2))
	require.Equal(t, uint64(0x2000), landing(t, site))
}

func TestExplicitAddendIgnoresSiteContents(t *testing.T) {
	// Garbage displacement fields; the RELA addend wins.
	site := branchSite(0x1000, 0xF2AB, 0xF9CD)
	rec := reloc.Record{Type: TypeThumbCall, Addend: -4, HasAddend: true}

	require.NoError(t, New().Apply(rec, site, thumbFn("f", 0x5000), 0))
	require.Equal(t, uint64(0x5000), landing(t, site))
}

func TestJump24(t *testing.T) {
	site := branchSite(0x8000, 0xF7FF, 0xBFFE) // B.W -4
	rec := reloc.Record{Type: TypeThumbJump24}

	require.NoError(t, New().Apply(rec, site, thumbFn("loop", 0x7000), 0))
	hw1, hw2 := buf.Halfwords(site.Bytes)
	require.Equal(t, uint16(0x9000), hw2&0xD000, "B.W opcode bits preserved")
	require.Equal(t, int64(0x7000-0x8004), DecodeBranch(hw1, hw2))
}

func TestJump24ToArmNeedsThunk(t *testing.T) {
	site := branchSite(0x8000, 0xF7FF, 0xBFFE)
	before := append([]byte(nil), site.Bytes...)

	err := New().Apply(reloc.Record{Type: TypeThumbJump24}, site, armFn("a", 0x9000), 0)
	require.ErrorIs(t, err, reloc.ErrUnencodableDisplacement)
	require.Equal(t, before, site.Bytes)
}

func TestBranchRangeBoundaries(t *testing.T) {
	const p = 0x2000000
	rec := reloc.Record{Type: TypeThumbCall, HasAddend: true}

	tests := []struct {
		name   string
		target uint64
		ok     bool
	}{
		{"max forward", p + MaxBranch, true},
		{"one past forward", p + MaxBranch + 2, false},
		{"max backward", p + MinBranch, true},
		{"one past backward", p + MinBranch - 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := branchSite(p, 0xF000, 0xF800)
			before := append([]byte(nil), site.Bytes...)

			err := New().Apply(rec, site, thumbFn("f", tt.target), 0)
			if !tt.ok {
				require.ErrorIs(t, err, reloc.ErrUnencodableDisplacement)
				require.Equal(t, before, site.Bytes, "out-of-range value must never be written")
				return
			}
			require.NoError(t, err)
			hw1, hw2 := buf.Halfwords(site.Bytes)
			require.Equal(t, int64(tt.target)-p, DecodeBranch(hw1, hw2))
		})
	}
}

// ============================================================================
// Trampolines
// ============================================================================

func TestFarCallUsesThunk(t *testing.T) {
	mem := make([]byte, 64)
	pool, err := NewThunkPool(mem, 0x800)
	require.NoError(t, err)
	e := New(WithTrampolines(pool))

	site := branchSite(0x100, 0xF7FF, 0xFFFE)
	far := thumbFn("far", 0x40000000)
	require.NoError(t, e.Apply(reloc.Record{Type: TypeThumbCall}, site, far, 0))

	require.Equal(t, uint64(0x800), landing(t, site))
	_, hw2 := buf.Halfwords(site.Bytes)
	require.False(t, IsBLX(hw2), "thunks are Thumb code")
	require.Equal(t, []byte{0xDF, 0xF8, 0x00, 0xF0, 0x01, 0x00, 0x00, 0x40}, mem[:ThunkSize])

	// A second call to the same target shares the veneer.
	other := branchSite(0x200, 0xF7FF, 0xFFFE)
	require.NoError(t, e.Apply(reloc.Record{Type: TypeThumbCall}, other, far, 0))
	require.Equal(t, uint64(0x800), landing(t, other))
	require.Equal(t, 1, pool.Len())
}

func TestJump24ToArmThroughThunk(t *testing.T) {
	mem := make([]byte, 16)
	pool, err := NewThunkPool(mem, 0x9000)
	require.NoError(t, err)

	site := branchSite(0x8000, 0xF7FF, 0xBFFE)
	err = New(WithTrampolines(pool)).Apply(reloc.Record{Type: TypeThumbJump24}, site, armFn("a", 0xA000), 0)
	require.NoError(t, err)

	require.Equal(t, uint64(0x9000), landing(t, site))
	require.Equal(t, uint32(0xA000), buf.U32LE(mem[4:]), "ARM destination keeps bit 0 clear")
}

func TestThunkPoolExhausted(t *testing.T) {
	pool, err := NewThunkPool(make([]byte, ThunkSize), 0x800)
	require.NoError(t, err)
	e := New(WithTrampolines(pool))

	require.NoError(t, e.Apply(reloc.Record{Type: TypeThumbCall}, branchSite(0x100, 0xF7FF, 0xFFFE), thumbFn("a", 0x40000000), 0))

	site := branchSite(0x104, 0xF7FF, 0xFFFE)
	err = e.Apply(reloc.Record{Type: TypeThumbCall}, site, thumbFn("b", 0x50000000), 0)
	require.ErrorIs(t, err, reloc.ErrUnencodableDisplacement)
	require.Contains(t, err.Error(), ErrThunkPoolFull.Error())
}

func TestThunkOutOfReach(t *testing.T) {
	pool, err := NewThunkPool(make([]byte, 16), 0x80000000)
	require.NoError(t, err)

	site := branchSite(0x100, 0xF7FF, 0xFFFE)
	err = New(WithTrampolines(pool)).Apply(reloc.Record{Type: TypeThumbCall}, site, thumbFn("f", 0x40000000), 0)
	require.ErrorIs(t, err, reloc.ErrUnencodableDisplacement)
}

func TestNewThunkPoolValidation(t *testing.T) {
	_, err := NewThunkPool(make([]byte, 16), 0x802)
	require.Error(t, err)
	_, err = NewThunkPool(make([]byte, 4), 0x800)
	require.Error(t, err)
}

func TestRegistered(t *testing.T) {
	e, err := reloc.ForMachine(elf.EM_ARM)
	require.NoError(t, err)
	require.Equal(t, elf.EM_ARM, e.Machine())
	require.Equal(t, "R_ARM_THM_JUMP24", e.TypeName(TypeThumbJump24))
}

func TestTypes(t *testing.T) {
	require.Equal(t, []uint32{TypeNone, TypeAbs32, TypeThumbCall, TypeThumbJump24}, New().Types())
}
