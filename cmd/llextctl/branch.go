package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/llext/internal/buf"
	"github.com/joshuapare/llext/reloc/arm"
)

var (
	decodeBytes string
	decodePC    string
	encodeKind  string
)

func init() {
	rootCmd.AddCommand(newDecodeCmd())
	rootCmd.AddCommand(newEncodeCmd())
}

// branchInfo describes one Thumb-2 branch instruction.
type branchInfo struct {
	Hw1          string `json:"hw1"`
	Hw2          string `json:"hw2"`
	Bytes        string `json:"bytes"`
	Kind         string `json:"kind"`
	Displacement int64  `json:"displacement"`
	Target       string `json:"target,omitempty"`
}

// branchKind names the branch form, or "" if the halfwords are not one.
func branchKind(hw1, hw2 uint16) string {
	if hw1>>11 != 0x1E || hw2>>15 != 1 {
		return ""
	}
	link := hw2&(1<<14) != 0
	switch {
	case link && !arm.IsBLX(hw2):
		return "BL"
	case link:
		return "BLX"
	case !arm.IsBLX(hw2):
		return "B.W"
	default:
		return ""
	}
}

func describeBranch(hw1, hw2 uint16) branchInfo {
	b := make([]byte, 4)
	buf.PutHalfwords(b, hw1, hw2)
	return branchInfo{
		Hw1:          fmt.Sprintf("0x%04x", hw1),
		Hw2:          fmt.Sprintf("0x%04x", hw2),
		Bytes:        formatBytes(b),
		Kind:         branchKind(hw1, hw2),
		Displacement: arm.DecodeBranch(hw1, hw2),
	}
}

func printBranch(info branchInfo) error {
	if jsonOut {
		return printJSON(info)
	}
	kind := info.Kind
	if kind == "" {
		kind = "not a branch"
	}
	printInfo("%s %s  (%s)\n", info.Hw1, info.Hw2, kind)
	printInfo("  bytes:        %s\n", info.Bytes)
	printInfo("  displacement: %d (0x%x)\n", info.Displacement, info.Displacement)
	if info.Target != "" {
		printInfo("  target:       %s\n", info.Target)
	}
	return nil
}

func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [<hw1> <hw2>]",
		Short: "Decode a Thumb-2 BL/BLX/B.W instruction",
		Long: `The decode command prints the displacement held in a 32-bit Thumb branch.
Pass the two halfwords in hex, or the four instruction bytes in memory order
with --bytes. With --pc the branch target is computed as well.

Example:
  llextctl decode f7ff fffe
  llextctl decode --bytes "ff f7 fe ff" --pc 0x1000`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(args)
		},
	}
	cmd.Flags().StringVar(&decodeBytes, "bytes", "", "Instruction bytes in memory order")
	cmd.Flags().StringVar(&decodePC, "pc", "", "Address of the instruction")
	return cmd
}

func runDecode(args []string) error {
	var hw1, hw2 uint16
	switch {
	case decodeBytes != "":
		b, err := parseBytes(decodeBytes)
		if err != nil {
			return err
		}
		if len(b) != 4 {
			return fmt.Errorf("expected 4 bytes, got %d", len(b))
		}
		hw1, hw2 = buf.Halfwords(b)
	case len(args) == 2:
		var err error
		if hw1, err = parseHalfword(args[0]); err != nil {
			return err
		}
		if hw2, err = parseHalfword(args[1]); err != nil {
			return err
		}
	default:
		return fmt.Errorf("expected two halfwords or --bytes")
	}

	info := describeBranch(hw1, hw2)
	if decodePC != "" {
		pc, err := parseUint(decodePC)
		if err != nil {
			return err
		}
		base := pc + 4
		if info.Kind == "BLX" {
			base &^= 3
		}
		info.Target = fmt.Sprintf("0x%x", uint64(int64(base)+info.Displacement))
	}
	return printBranch(info)
}

func newEncodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode <displacement>",
		Short: "Encode a displacement into a Thumb-2 branch",
		Long: `The encode command builds a BL, BLX or B.W instruction with the given
displacement, relative to the instruction address plus 4.

Example:
  llextctl encode 0x1000
  llextctl encode -- -4 --kind blx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(args)
		},
	}
	cmd.Flags().StringVar(&encodeKind, "kind", "bl", "Branch form: bl, blx or b.w")
	return cmd
}

func runEncode(args []string) error {
	disp, err := parseInt(args[0])
	if err != nil {
		return err
	}
	var hw2 uint16
	switch encodeKind {
	case "bl":
		hw2 = 0xF800
	case "blx":
		hw2 = 0xE800
		if disp%4 != 0 {
			return fmt.Errorf("BLX displacement %d is not a multiple of 4", disp)
		}
	case "b.w", "b":
		hw2 = 0xB800
	default:
		return fmt.Errorf("unknown branch kind %q", encodeKind)
	}
	if disp%2 != 0 {
		return fmt.Errorf("displacement %d is odd", disp)
	}
	hw1, hw2, ok := arm.EncodeBranch(0xF000, hw2, disp)
	if !ok {
		return fmt.Errorf("displacement %d outside [%d, %d]", disp, arm.MinBranch, arm.MaxBranch)
	}
	return printBranch(describeBranch(hw1, hw2))
}
