// Package arc relocates ARC extensions.
//
// Only the absolute word relocations are implemented: R_ARC_32 and its
// middle-endian twin R_ARC_32_ME, used for long immediates that the core
// fetches as two 16-bit halves, high half first.
//
// Importing the package registers an engine for elf.EM_ARC_COMPACT and
// elf.EM_ARC_COMPACT2.
package arc

import (
	"debug/elf"
	"fmt"
	"log/slog"
	"slices"

	"github.com/joshuapare/llext/internal/buf"
	"github.com/joshuapare/llext/internal/logger"
	"github.com/joshuapare/llext/reloc"
)

// Relocation type codes.
const (
	TypeNone uint32 = 0
	Type32   uint32 = 4
	Type32ME uint32 = 27
)

var typeNames = map[uint32]string{
	TypeNone: "R_ARC_NONE",
	Type32:   "R_ARC_32",
	Type32ME: "R_ARC_32_ME",
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine applies ARC relocations.
type Engine struct {
	machine elf.Machine
	log     *slog.Logger
}

// New returns an engine reporting machine m, which should be one of the ARC
// machine types.
func New(m elf.Machine, opts ...Option) *Engine {
	e := &Engine{machine: m}
	for _, o := range opts {
		o(e)
	}
	return e
}

func init() {
	reloc.Register(elf.EM_ARC_COMPACT, New(elf.EM_ARC_COMPACT))
	reloc.Register(elf.EM_ARC_COMPACT2, New(elf.EM_ARC_COMPACT2))
}

// Machine implements reloc.Engine.
func (e *Engine) Machine() elf.Machine { return e.machine }

// TypeName implements reloc.Engine.
func (e *Engine) TypeName(typ uint32) string {
	if n, ok := typeNames[typ]; ok {
		return n
	}
	return fmt.Sprintf("R_ARC_%d", typ)
}

// Types implements reloc.Engine.
func (e *Engine) Types() []uint32 {
	out := make([]uint32, 0, len(typeNames))
	for t := range typeNames {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Apply implements reloc.Engine. The value written is S + A; the previous
// contents of the site are never read.
func (e *Engine) Apply(rec reloc.Record, site reloc.Site, sym reloc.Symbol, loadBias uint64) error {
	var addend int64
	if rec.HasAddend {
		addend = rec.Addend
	}
	v := uint32(sym.Addr + uint64(addend))

	switch rec.Type {
	case TypeNone:
		return nil
	case Type32:
		if err := reloc.RequireBytes(site, 4, "R_ARC_32"); err != nil {
			return err
		}
		buf.PutU32LE(site.Bytes, v)
		return nil
	case Type32ME:
		if err := reloc.RequireBytes(site, 4, "R_ARC_32_ME"); err != nil {
			return err
		}
		buf.PutHalfwords(site.Bytes, uint16(v>>16), uint16(v))
		return nil
	default:
		err := &reloc.UnsupportedError{
			Machine: e.machine,
			Type:    rec.Type,
			Name:    e.TypeName(rec.Type),
			Addr:    site.Addr,
		}
		logger.Or(e.log).Error("unsupported relocation",
			"machine", e.machine.String(),
			"type", rec.Type,
			"sym", sym.Name,
			"addr", fmt.Sprintf("0x%x", site.Addr))
		return err
	}
}
