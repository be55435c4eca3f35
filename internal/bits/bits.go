// Package bits contains bit-field helpers used by the relocation encoders.
//
// Field positions are inclusive and counted from bit 0 (least significant).
package bits

// Uint is the set of unsigned word sizes instruction encoders operate on.
type Uint interface {
	~uint16 | ~uint32 | ~uint64
}

// Mask returns n set bits starting at bit lo.
//
// Example:
//
//	Mask[uint32](10, 16) = 0x03ff0000
func Mask[T Uint](n, lo uint) T {
	if n == 0 {
		return 0
	}
	return (^T(0) >> (bitSize[T]() - n)) << lo
}

// Bit returns bit i of v as 0 or 1.
func Bit[T Uint](v T, i uint) T {
	return (v >> i) & 1
}

// Field returns bits hi..lo of v, right-aligned.
func Field[T Uint](v T, hi, lo uint) T {
	return (v >> lo) & Mask[T](hi-lo+1, 0)
}

// Insert returns v with bits hi..lo replaced by the low bits of f.
// Bits of f above the field width are discarded.
func Insert[T Uint](v T, hi, lo uint, f T) T {
	return Clear(v, hi, lo) | ((f << lo) & Mask[T](hi-lo+1, lo))
}

// Clear returns v with bits hi..lo cleared.
func Clear[T Uint](v T, hi, lo uint) T {
	return v &^ Mask[T](hi-lo+1, lo)
}

// SignExtend interprets bit top of v as a sign bit and extends it through
// the full 64-bit width.
//
// Example:
//
//	SignExtend(0x1000000, 24) = -16777216
func SignExtend(v uint64, top uint) int64 {
	shift := 63 - top
	return int64(v<<shift) >> shift
}

// FitsSigned reports whether v is representable as a two's complement
// number of width bits, i.e. sign-extending its low width bits gives v back.
func FitsSigned(v int64, width uint) bool {
	return SignExtend(uint64(v)&Mask[uint64](width, 0), width-1) == v
}

func bitSize[T Uint]() uint {
	n := uint(0)
	for x := ^T(0); x != 0; x >>= 1 {
		n++
	}
	return n
}
