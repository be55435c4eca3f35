package arm

import (
	"github.com/joshuapare/llext/internal/bits"
)

// Field positions of a 32-bit Thumb-2 branch, with the first halfword held in
// bits 31..16 and the second in bits 15..0.
const (
	bitS     = 26
	imm10Hi  = 25
	imm10Lo  = 16
	bitJ1    = 13
	bitX     = 12
	bitJ2    = 11
	imm11Hi  = 10
	imm11Lo  = 0
	dispBits = 25
)

// Reach of a BL/B.W displacement.
const (
	MaxBranch = 1<<24 - 2
	MinBranch = -(1 << 24)
)

func joinHalfwords(hw1, hw2 uint16) uint32 { return uint32(hw1)<<16 | uint32(hw2) }

func splitHalfwords(inst uint32) (uint16, uint16) { return uint16(inst >> 16), uint16(inst) }

// DecodeBranch returns the signed displacement held in a BL, BLX or B.W
// instruction.
func DecodeBranch(hw1, hw2 uint16) int64 {
	inst := joinHalfwords(hw1, hw2)
	s := bits.Bit(inst, bitS)
	i1 := ^(bits.Bit(inst, bitJ1) ^ s) & 1
	i2 := ^(bits.Bit(inst, bitJ2) ^ s) & 1

	v := uint64(s)<<24 |
		uint64(i1)<<23 |
		uint64(i2)<<22 |
		uint64(bits.Field(inst, imm10Hi, imm10Lo))<<12 |
		uint64(bits.Field(inst, imm11Hi, imm11Lo))<<1
	return bits.SignExtend(v, dispBits-1)
}

// BranchInRange reports whether disp is representable in a BL/B.W.
func BranchInRange(disp int64) bool {
	return bits.FitsSigned(disp, dispBits)
}

// EncodeBranch rewrites the displacement fields of a branch. Bit 0 of disp is
// not encodable and is dropped. The opcode bits, bit 14 and the X selector are
// left as they are. ok is false if disp is out of range, in which case the
// halfwords are returned unchanged.
func EncodeBranch(hw1, hw2 uint16, disp int64) (uint16, uint16, bool) {
	if !BranchInRange(disp) {
		return hw1, hw2, false
	}
	v := uint32(disp)
	s := bits.Bit(v, 24)
	j1 := ^bits.Bit(v, 23)&1 ^ s
	j2 := ^bits.Bit(v, 22)&1 ^ s

	// X (bit 12) and bit 14 sit between the displacement fields and are kept.
	inst := joinHalfwords(hw1, hw2)
	inst = bits.Clear(inst, bitS, imm10Lo)
	inst = bits.Clear(inst, bitJ1, bitJ1)
	inst = bits.Clear(inst, bitJ2, imm11Lo)
	inst = bits.Insert(inst, bitS, bitS, s)
	inst = bits.Insert(inst, imm10Hi, imm10Lo, bits.Field(v, 21, 12))
	inst = bits.Insert(inst, bitJ1, bitJ1, j1)
	inst = bits.Insert(inst, bitJ2, bitJ2, j2)
	inst = bits.Insert(inst, imm11Hi, imm11Lo, bits.Field(v, 11, 1))
	out1, out2 := splitHalfwords(inst)
	return out1, out2, true
}

// IsBLX reports whether the second halfword selects BLX (X clear).
func IsBLX(hw2 uint16) bool { return hw2&(1<<bitX) == 0 }

// setBLX selects BLX (true) or BL (false) in the second halfword.
func setBLX(hw2 uint16, blx bool) uint16 {
	if blx {
		return hw2 &^ (1 << bitX)
	}
	return hw2 | 1<<bitX
}
