package main

import (
	"debug/elf"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/llext/reloc"
	_ "github.com/joshuapare/llext/reloc/arc"
	"github.com/joshuapare/llext/reloc/arm"
)

// thunkPoolSize is room for a handful of veneers, enough for one patch.
const thunkPoolSize = 8 * arm.ThunkSize

var patchOpts struct {
	machine   string
	relType   string
	siteAddr  string
	bytes     string
	symName   string
	symAddr   string
	symKind   string
	thumb     bool
	addend    string
	thunkBase string
}

func init() {
	rootCmd.AddCommand(newPatchCmd())
}

// patchResult is the outcome of one relocation.
type patchResult struct {
	Machine string `json:"machine"`
	Type    string `json:"type"`
	Site    string `json:"site"`
	Before  string `json:"before"`
	After   string `json:"after"`
	Thunks  string `json:"thunks,omitempty"`
}

func newPatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Apply one relocation to a patch site",
		Long: `The patch command applies a single relocation record to the given bytes
and prints them before and after. The addend is taken from the instruction
unless --addend is given.

Far Thumb branches need --thunk-base, the address of a scratch veneer area;
the veneers written there are printed too.

Example:
  llextctl patch --machine arm --type R_ARM_THM_CALL --site 0x1000 \
      --bytes "ff f7 fe ff" --sym-addr 0x2000 --sym-kind func --thumb
  llextctl patch --machine arc --type R_ARC_32_ME --bytes "00 00 00 00" \
      --sym-addr 0x12345678`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatch(cmd.Flags().Changed("addend"))
		},
	}
	f := cmd.Flags()
	f.StringVar(&patchOpts.machine, "machine", "arm", "Target machine: arm, arc or an EM_* name")
	f.StringVar(&patchOpts.relType, "type", "", "Relocation type name or number")
	f.StringVar(&patchOpts.siteAddr, "site", "0", "Run-time address of the patch site")
	f.StringVar(&patchOpts.bytes, "bytes", "", "Current bytes at the patch site")
	f.StringVar(&patchOpts.symName, "sym", "sym", "Symbol name")
	f.StringVar(&patchOpts.symAddr, "sym-addr", "0", "Resolved symbol address")
	f.StringVar(&patchOpts.symKind, "sym-kind", "notype", "Symbol kind: func, object, section or notype")
	f.BoolVar(&patchOpts.thumb, "thumb", false, "Symbol is Thumb code")
	f.StringVar(&patchOpts.addend, "addend", "0", "Explicit (RELA) addend")
	f.StringVar(&patchOpts.thunkBase, "thunk-base", "", "Address of a veneer area for far branches (ARM)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("bytes")
	return cmd
}

func runPatch(hasAddend bool) error {
	m, err := parseMachine(patchOpts.machine)
	if err != nil {
		return err
	}
	eng, err := reloc.ForMachine(m)
	if err != nil {
		return err
	}

	var (
		pool      *arm.ThunkPool
		thunkMem  []byte
		thunkBase uint64
	)
	if patchOpts.thunkBase != "" {
		if m != elf.EM_ARM {
			return fmt.Errorf("--thunk-base only applies to arm")
		}
		if thunkBase, err = parseUint(patchOpts.thunkBase); err != nil {
			return err
		}
		thunkMem = make([]byte, thunkPoolSize)
		if pool, err = arm.NewThunkPool(thunkMem, thunkBase); err != nil {
			return err
		}
		eng = arm.New(arm.WithTrampolines(pool))
	}

	typ, err := parseRelocType(eng, patchOpts.relType)
	if err != nil {
		return err
	}
	siteAddr, err := parseUint(patchOpts.siteAddr)
	if err != nil {
		return err
	}
	site, err := parseBytes(patchOpts.bytes)
	if err != nil {
		return err
	}
	symAddr, err := parseUint(patchOpts.symAddr)
	if err != nil {
		return err
	}
	kind, err := parseSymKind(patchOpts.symKind)
	if err != nil {
		return err
	}
	rec := reloc.Record{Type: typ, HasAddend: hasAddend}
	if hasAddend {
		if rec.Addend, err = parseInt(patchOpts.addend); err != nil {
			return err
		}
	}
	sym := reloc.Symbol{Name: patchOpts.symName, Addr: symAddr, Kind: kind, Thumb: patchOpts.thumb}

	before := formatBytes(site)
	printVerbose("Applying %s at 0x%x to %s (0x%x, %s)\n", eng.TypeName(typ), siteAddr, sym.Name, sym.Addr, sym.Kind)
	if err := eng.Apply(rec, reloc.Site{Addr: siteAddr, Bytes: site}, sym, 0); err != nil {
		return err
	}

	res := patchResult{
		Machine: m.String(),
		Type:    eng.TypeName(typ),
		Site:    fmt.Sprintf("0x%x", siteAddr),
		Before:  before,
		After:   formatBytes(site),
	}
	if pool != nil && pool.Used() > 0 {
		res.Thunks = formatBytes(thunkMem[:pool.Used()])
	}

	if jsonOut {
		return printJSON(res)
	}
	printInfo("%s %s at %s\n", res.Machine, res.Type, res.Site)
	printInfo("  before: %s\n", res.Before)
	printInfo("  after:  %s\n", res.After)
	if res.Thunks != "" {
		printInfo("  thunks at 0x%x: %s\n", thunkBase, res.Thunks)
	}
	return nil
}
