package main

import (
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/llext/reloc"
)

// Set with -ldflags "-X main.version=..." at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type versionInfo struct {
	Version  string   `json:"version"`
	Commit   string   `json:"commit"`
	Built    string   `json:"built"`
	Go       string   `json:"go"`
	Machines []string `json:"machines"`
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information and the compiled-in relocation engines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion()
		},
	})
}

func buildVersion() versionInfo {
	info := versionInfo{Version: version, Commit: commit, Built: date, Go: runtime.Version()}
	// go install builds carry the module version and VCS stamp instead.
	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && info.Commit == "none" {
				info.Commit = s.Value
			}
		}
	}
	for _, m := range reloc.Machines() {
		info.Machines = append(info.Machines, m.String())
	}
	return info
}

func runVersion() error {
	info := buildVersion()
	if jsonOut {
		return printJSON(info)
	}
	printInfo("llextctl %s\n", info.Version)
	printInfo("  commit:   %s\n", info.Commit)
	printInfo("  built:    %s (%s)\n", info.Built, info.Go)
	printInfo("  machines: %s\n", strings.Join(info.Machines, ", "))
	return nil
}
