package main

import (
	"debug/elf"

	"github.com/spf13/cobra"

	"github.com/joshuapare/llext/reloc"
)

var typesMachine string

func init() {
	rootCmd.AddCommand(newTypesCmd())
}

type typeEntry struct {
	Machine string `json:"machine"`
	Code    uint32 `json:"code"`
	Name    string `json:"name"`
}

func newTypesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List supported relocation types",
		Long: `The types command lists the relocation types each registered engine
implements. Any other type is reported as unsupported when patched.

Example:
  llextctl types
  llextctl types --machine arm --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTypes()
		},
	}
	cmd.Flags().StringVar(&typesMachine, "machine", "", "Only list this machine")
	return cmd
}

func runTypes() error {
	machines := reloc.Machines()
	if typesMachine != "" {
		m, err := parseMachine(typesMachine)
		if err != nil {
			return err
		}
		machines = []elf.Machine{m}
	}

	var entries []typeEntry
	for _, m := range machines {
		eng, err := reloc.ForMachine(m)
		if err != nil {
			return err
		}
		for _, t := range eng.Types() {
			entries = append(entries, typeEntry{Machine: m.String(), Code: t, Name: eng.TypeName(t)})
		}
	}

	if jsonOut {
		return printJSON(entries)
	}
	last := ""
	for _, e := range entries {
		if e.Machine != last {
			printInfo("%s:\n", e.Machine)
			last = e.Machine
		}
		printInfo("  %3d  %s\n", e.Code, e.Name)
	}
	return nil
}
