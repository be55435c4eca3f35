package heap

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/joshuapare/llext/internal/arena"
	"github.com/joshuapare/llext/internal/buf"
)

// Backend selects the allocator behind a Heap.
type Backend string

const (
	BackendSysHeap Backend = "sysheap"
	BackendMemBlk  Backend = "memblk"
)

// Layout selects unified or split (Harvard) pools.
type Layout string

const (
	LayoutUnified Layout = "unified"
	LayoutSplit   Layout = "split"
)

// Size is a byte count. In YAML it may be written as a plain integer or with
// a K, KiB, M or MiB suffix.
type Size int

// ParseSize parses "4096", "64K", "64KiB", "1M" or "1MiB".
func ParseSize(s string) (Size, error) {
	orig := s
	s = strings.TrimSpace(s)
	mult := 1
	for _, suf := range []struct {
		s string
		m int
	}{{"KiB", 1 << 10}, {"MiB", 1 << 20}, {"K", 1 << 10}, {"M", 1 << 20}} {
		if rest, ok := strings.CutSuffix(s, suf.s); ok {
			s, mult = strings.TrimSpace(rest), suf.m
			break
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.Newf("heap: bad size %q", orig)
	}
	v, ok := buf.MulOverflowSafe(n, mult)
	if !ok {
		return 0, errors.Newf("heap: size %q overflows", orig)
	}
	return Size(v), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Newf("heap: line %d: size must be a scalar", node.Line)
	}
	v, err := ParseSize(node.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	*s = v
	return nil
}

func (s Size) String() string {
	switch {
	case s != 0 && s%(1<<20) == 0:
		return strconv.Itoa(int(s>>20)) + "M"
	case s != 0 && s%(1<<10) == 0:
		return strconv.Itoa(int(s>>10)) + "K"
	default:
		return strconv.Itoa(int(s))
	}
}

// Config describes how heaps are built.
type Config struct {
	Backend Backend `yaml:"backend" json:"backend"`
	Layout  Layout  `yaml:"layout" json:"layout"`

	// Dynamic heaps are initialized later with caller-supplied memory;
	// the pool sizes below are then not mapped up front.
	Dynamic bool `yaml:"dynamic" json:"dynamic"`

	HeapSize     Size `yaml:"heap_size" json:"heap_size"`         // unified pool
	InstrSize    Size `yaml:"instr_size" json:"instr_size"`       // split instruction pool
	DataSize     Size `yaml:"data_size" json:"data_size"`         // split data pool
	MetadataSize Size `yaml:"metadata_size" json:"metadata_size"` // memblk metadata pool

	// BlockSize is the memblk block granularity. 0 means one page.
	BlockSize Size `yaml:"block_size" json:"block_size"`
	// PageSize is the smallest independently protectable range. 0 means the
	// OS page size.
	PageSize Size `yaml:"page_size" json:"page_size"`

	// TableCapacity bounds allocation records per extension. 0 means
	// DefaultTableCapacity.
	TableCapacity int `yaml:"table_capacity" json:"table_capacity"`
}

// DefaultConfig returns a unified variable-size heap of 64 KiB.
func DefaultConfig() Config {
	return Config{
		Backend:      BackendSysHeap,
		Layout:       LayoutUnified,
		HeapSize:     64 << 10,
		MetadataSize: 16 << 10,
	}
}

// LoadConfig decodes YAML from r over DefaultConfig. Unknown keys are errors.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "heap: decode config")
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML config from path.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "heap: open config")
	}
	defer f.Close()
	return LoadConfig(f)
}

// Page returns the effective page size.
func (c Config) Page() int {
	if c.PageSize > 0 {
		return int(c.PageSize)
	}
	return arena.PageSize()
}

// Block returns the effective block size.
func (c Config) Block() int {
	if c.BlockSize > 0 {
		return int(c.BlockSize)
	}
	return c.Page()
}

// Capacity returns the effective allocation table capacity.
func (c Config) Capacity() int {
	if c.TableCapacity > 0 {
		return c.TableCapacity
	}
	return DefaultTableCapacity
}

// Validate checks the sizing rules. Violations wrap ErrInvalidConfig.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Wrapf(ErrInvalidConfig, format, args...)
	}

	switch c.Backend {
	case BackendSysHeap, BackendMemBlk:
	default:
		return invalid("unknown backend %q", c.Backend)
	}
	type pool struct {
		name string
		size Size
	}
	var pools []pool
	switch c.Layout {
	case LayoutUnified:
		pools = []pool{{"heap_size", c.HeapSize}}
	case LayoutSplit:
		pools = []pool{{"instr_size", c.InstrSize}, {"data_size", c.DataSize}}
	default:
		return invalid("unknown layout %q", c.Layout)
	}
	if c.TableCapacity < 0 {
		return invalid("table_capacity %d is negative", c.TableCapacity)
	}
	if c.PageSize < 0 || c.BlockSize < 0 || c.MetadataSize < 0 {
		return invalid("sizes must not be negative")
	}
	if c.PageSize > 0 && !buf.IsPow2(int(c.PageSize)) {
		return invalid("page_size %d is not a power of two", c.PageSize)
	}

	if !c.Dynamic {
		for _, p := range pools {
			if p.size <= 0 {
				return invalid("%s is required for the %s layout", p.name, c.Layout)
			}
		}
	}

	if c.Backend != BackendMemBlk {
		return nil
	}
	block, page := c.Block(), c.Page()
	if !buf.IsPow2(block) {
		return invalid("block_size %d is not a power of two", block)
	}
	if block%page != 0 {
		return invalid("block_size %d is not a multiple of page size %d", block, page)
	}
	if c.MetadataSize <= 0 {
		return invalid("metadata_size is required for the memblk backend")
	}
	if !c.Dynamic {
		for _, p := range pools {
			if int(p.size)%block != 0 {
				return invalid("%s %d is not a multiple of block_size %d", p.name, p.size, block)
			}
		}
	}
	return nil
}
