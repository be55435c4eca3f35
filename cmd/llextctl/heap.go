package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/llext/heap"
	"github.com/joshuapare/llext/heap/memblk"
	"github.com/joshuapare/llext/heap/policy"
	"github.com/joshuapare/llext/heap/sysheap"
)

var simAllocs []string

func init() {
	heapCmd := &cobra.Command{
		Use:   "heap",
		Short: "Validate and simulate extension heap configurations",
	}
	heapCmd.AddCommand(newHeapCheckCmd())
	heapCmd.AddCommand(newHeapSimCmd())
	rootCmd.AddCommand(heapCmd)
}

func newHeapCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <config.yaml>",
		Short: "Validate a heap configuration",
		Long: `The check command loads a YAML heap configuration, applies defaults and
checks the sizing rules: block size a multiple of the page size, pool sizes
multiples of the block size, required pools present.

Example:
  llextctl heap check heap.yaml
  llextctl heap check heap.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeapCheck(args[0])
		},
	}
}

func runHeapCheck(path string) error {
	cfg, err := heap.LoadConfigFile(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(cfg)
	}
	printInfo("%s: ok\n", path)
	printInfo("  backend: %s\n", cfg.Backend)
	printInfo("  layout:  %s\n", cfg.Layout)
	if cfg.Dynamic {
		printInfo("  pools:   supplied at run time\n")
	} else if cfg.Layout == heap.LayoutSplit {
		printInfo("  instr:   %s\n", cfg.InstrSize)
		printInfo("  data:    %s\n", cfg.DataSize)
	} else {
		printInfo("  heap:    %s\n", cfg.HeapSize)
	}
	if cfg.Backend == heap.BackendMemBlk {
		printInfo("  blocks:  %s (page %s)\n", heap.Size(cfg.Block()), heap.Size(cfg.Page()))
		printInfo("  meta:    %s\n", cfg.MetadataSize)
	}
	printInfo("  table:   %d records per extension\n", cfg.Capacity())
	return nil
}

// allocStep is one simulated allocation: region:align:size.
type allocStep struct {
	Region string `json:"region"`
	Align  int    `json:"align"`
	Size   int    `json:"size"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

type simReport struct {
	Config heap.Config `json:"config"`
	Steps  []allocStep `json:"steps"`
	Usage  any         `json:"usage"`
	Failed int         `json:"failed"`
}

func parseAllocStep(s string) (allocStep, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return allocStep{}, fmt.Errorf("alloc %q: want region:align:size", s)
	}
	st := allocStep{Region: parts[0]}
	switch st.Region {
	case "data", "instr", "metadata":
	default:
		return allocStep{}, fmt.Errorf("alloc %q: region must be data, instr or metadata", s)
	}
	var err error
	if st.Align, err = strconv.Atoi(parts[1]); err != nil {
		return allocStep{}, fmt.Errorf("alloc %q: bad alignment", s)
	}
	size, err := heap.ParseSize(parts[2])
	if err != nil {
		return allocStep{}, fmt.Errorf("alloc %q: %w", s, err)
	}
	st.Size = int(size)
	return st, nil
}

func newHeapSimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim <config.yaml>",
		Short: "Simulate allocations against a heap configuration",
		Long: `The sim command builds the configured heap, performs the listed
allocations on behalf of one extension, reports which succeed, prints the
resulting pool usage and then frees everything. Dynamic configurations are
simulated on in-process buffers of the configured sizes.

Example:
  llextctl heap sim heap.yaml --alloc instr:4:3K --alloc data:8:1200 --alloc metadata:0:64`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeapSim(args[0])
		},
	}
	cmd.Flags().StringArrayVar(&simAllocs, "alloc", nil, "Allocation region:align:size (repeatable)")
	return cmd
}

func runHeapSim(path string) error {
	cfg, err := heap.LoadConfigFile(path)
	if err != nil {
		return err
	}
	steps := make([]allocStep, 0, len(simAllocs))
	for _, s := range simAllocs {
		st, err := parseAllocStep(s)
		if err != nil {
			return err
		}
		steps = append(steps, st)
	}

	pools, err := policy.Build(cfg)
	if err != nil {
		return err
	}
	defer pools.Close()

	if cfg.Dynamic {
		if err := initDynamic(pools, cfg); err != nil {
			return err
		}
	}

	ext := pools.NewExtension("sim")
	type live struct {
		region string
		b      []byte
	}
	var held []live
	report := simReport{Config: cfg}
	for _, st := range steps {
		var b []byte
		switch st.Region {
		case "data":
			b, err = pools.AllocData(ext, st.Align, st.Size)
		case "instr":
			b, err = pools.AllocInstr(ext, st.Align, st.Size)
		case "metadata":
			b, err = pools.AllocMetadata(st.Size)
		}
		if err != nil {
			st.Error = err.Error()
			report.Failed++
		} else {
			st.OK = true
			held = append(held, live{st.Region, b})
		}
		report.Steps = append(report.Steps, st)
		printVerbose("%s align=%d size=%d ok=%v\n", st.Region, st.Align, st.Size, st.OK)
	}

	report.Usage, err = usage(pools)
	if err != nil {
		return err
	}

	for _, l := range held {
		switch l.region {
		case "data":
			err = pools.FreeData(ext, l.b)
		case "instr":
			err = pools.FreeInstr(ext, l.b)
		case "metadata":
			err = pools.FreeMetadata(l.b)
		}
		if err != nil {
			return fmt.Errorf("free %s: %w", l.region, err)
		}
	}

	if jsonOut {
		return printJSON(report)
	}
	for _, st := range report.Steps {
		status := "ok"
		if !st.OK {
			status = "FAILED: " + st.Error
		}
		printInfo("%-8s align=%-5d size=%-8d %s\n", st.Region, st.Align, st.Size, status)
	}
	printInfo("\n%d of %d allocations failed\n", report.Failed, len(report.Steps))
	printInfo("usage: %+v\n", report.Usage)
	return nil
}

// initDynamic hands the pools Go-allocated buffers of the configured sizes.
func initDynamic(pools *policy.Pools, cfg heap.Config) error {
	size := func(s heap.Size) int {
		if s > 0 {
			return int(s)
		}
		return int(heap.DefaultConfig().HeapSize)
	}
	if cfg.Layout == heap.LayoutSplit {
		return pools.InitSplit(make([]byte, size(cfg.InstrSize)), make([]byte, size(cfg.DataSize)))
	}
	return pools.Init(make([]byte, size(cfg.HeapSize)))
}

func usage(pools *policy.Pools) (any, error) {
	switch h := pools.Heap.(type) {
	case *memblk.Heap:
		return h.Stats()
	case *sysheap.Heap:
		instr, data, err := h.Stats()
		if err != nil {
			return nil, err
		}
		return map[string]any{"instr": instr, "data": data}, nil
	default:
		return nil, fmt.Errorf("unknown heap %T", h)
	}
}
