package arm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeKnownInstructions(t *testing.T) {
	tests := []struct {
		name     string
		disp     int64
		hw1, hw2 uint16
	}{
		{"bl +0", 0, 0xF000, 0xF800},
		{"bl -4", -4, 0xF7FF, 0xFFFE},
		{"bl +0x1000", 0x1000, 0xF001, 0xF800},
		{"bl max", MaxBranch, 0xF3FF, 0xD7FF},
		{"bl min", MinBranch, 0xF400, 0xD000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hw1, hw2, ok := EncodeBranch(0xF000, 0xF800, tt.disp)
			require.True(t, ok)
			require.Equal(t, tt.hw1, hw1, "hw1 = 0x%04x", hw1)
			require.Equal(t, tt.hw2, hw2, "hw2 = 0x%04x", hw2)
			require.Equal(t, tt.disp, DecodeBranch(hw1, hw2))
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, disp := range []int64{
		2, -2, 0x7FE, -0x800, 0x3FFFFE, 0x400000, -0x400000,
		0x800000, -0x800002, 0xABCDE, -0x123456, MaxBranch, MinBranch,
	} {
		for _, blx := range []bool{false, true} {
			hw1, hw2, ok := EncodeBranch(0xF000, setBLX(0xF800, blx), disp)
			require.True(t, ok, "disp=%d", disp)
			require.Equal(t, disp, DecodeBranch(hw1, hw2), "disp=%d", disp)
			require.Equal(t, blx, IsBLX(hw2), "selector must be preserved")
		}
	}
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	for _, disp := range []int64{MaxBranch + 2, MinBranch - 2, 1 << 30, -(1 << 30)} {
		hw1, hw2, ok := EncodeBranch(0xF000, 0xF800, disp)
		require.False(t, ok, "disp=%d", disp)
		require.Equal(t, uint16(0xF000), hw1)
		require.Equal(t, uint16(0xF800), hw2)
	}
}

func TestBranchInRange(t *testing.T) {
	require.True(t, BranchInRange(MaxBranch))
	require.True(t, BranchInRange(MaxBranch+1), "bit 0 is dropped when encoding")
	require.True(t, BranchInRange(MinBranch))
	require.False(t, BranchInRange(MaxBranch+2))
	require.False(t, BranchInRange(MinBranch-1))
}

func TestEncodeKeepsOpcodeBits(t *testing.T) {
	// B.W (T4) has bit 14 clear; the encoder must not touch it.
	hw1, hw2, ok := EncodeBranch(0xF000, 0xB800, -0x100)
	require.True(t, ok)
	require.Equal(t, uint16(0xF000), hw1&0xF800)
	require.Equal(t, uint16(0x9000), hw2&0xD000)
	require.Equal(t, int64(-0x100), DecodeBranch(hw1, hw2))
}

func TestEncodeOverwritesStaleDisplacement(t *testing.T) {
	// bl -4 carries every J and imm bit set; none may leak into the result.
	hw1, hw2, ok := EncodeBranch(0xF7FF, 0xFFFE, 0x1000)
	require.True(t, ok)
	require.Equal(t, uint16(0xF001), hw1)
	require.Equal(t, uint16(0xF800), hw2)

	// A BLX keeps its cleared X bit.
	_, hw2, ok = EncodeBranch(0xF7FF, 0xEFFE, 0x1000)
	require.True(t, ok)
	require.True(t, IsBLX(hw2))
}
