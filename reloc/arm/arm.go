// Package arm relocates ARM extensions: R_ARM_ABS32 and the Thumb-2 branch
// relocations R_ARM_THM_CALL and R_ARM_THM_JUMP24.
//
// Importing the package registers a default engine (no trampolines) for
// elf.EM_ARM with reloc.ForMachine. Build an engine with New and
// WithTrampolines to route far branches through thunks.
package arm

import (
	"debug/elf"
	"fmt"
	"log/slog"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/llext/internal/buf"
	"github.com/joshuapare/llext/internal/logger"
	"github.com/joshuapare/llext/reloc"
)

// Relocation type codes.
const (
	TypeNone        uint32 = 0
	TypeAbs32       uint32 = 2
	TypeThumbCall   uint32 = 10
	TypeThumbJump24 uint32 = 30
)

// pcBias is the distance from a Thumb branch to the PC value it is relative to.
const pcBias = 4

var typeNames = map[uint32]string{
	TypeNone:        "R_ARM_NONE",
	TypeAbs32:       "R_ARM_ABS32",
	TypeThumbCall:   "R_ARM_THM_CALL",
	TypeThumbJump24: "R_ARM_THM_JUMP24",
}

// Trampolines provides branch thunks for targets out of direct reach.
type Trampolines interface {
	// Thunk returns the address of Thumb code, placed near site, that
	// transfers control to target. Bit 0 of target selects the instruction
	// set of the destination.
	Thunk(site, target uint64) (uint64, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithTrampolines routes out-of-range and mode-switching jumps through t.
func WithTrampolines(t Trampolines) Option {
	return func(e *Engine) { e.tramp = t }
}

// WithLogger sets the engine's logger. The package logger is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine applies ARM relocations. It holds no per-extension state and may be
// shared; concurrent use is safe if the Trampolines implementation is.
type Engine struct {
	tramp Trampolines
	log   *slog.Logger
}

// New returns an engine configured by opts.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	return e
}

func init() {
	reloc.Register(elf.EM_ARM, New())
}

// Machine implements reloc.Engine.
func (e *Engine) Machine() elf.Machine { return elf.EM_ARM }

// TypeName implements reloc.Engine.
func (e *Engine) TypeName(typ uint32) string {
	if n, ok := typeNames[typ]; ok {
		return n
	}
	return elf.R_ARM(typ).String()
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

// Apply implements reloc.Engine.
//
// loadBias is not used: every supported type is computed from resolved
// symbol addresses, which already include it.
func (e *Engine) Apply(rec reloc.Record, site reloc.Site, sym reloc.Symbol, loadBias uint64) error {
	switch rec.Type {
	case TypeNone:
		return nil
	case TypeAbs32:
		return e.applyAbs32(rec, site, sym)
	case TypeThumbCall, TypeThumbJump24:
		return e.applyBranch(rec, site, sym)
	default:
		err := &reloc.UnsupportedError{
			Machine: elf.EM_ARM,
			Type:    rec.Type,
			Name:    e.TypeName(rec.Type),
			Addr:    site.Addr,
		}
		logger.Or(e.log).Error("unsupported relocation",
			"machine", elf.EM_ARM.String(),
			"type", rec.Type,
			"name", err.Name,
			"sym", sym.Name,
			"addr", fmt.Sprintf("0x%x", site.Addr))
		return err
	}
}

func (e *Engine) applyAbs32(rec reloc.Record, site reloc.Site, sym reloc.Symbol) error {
	if err := reloc.RequireBytes(site, 4, "R_ARM_ABS32"); err != nil {
		return err
	}
	v := sym.Addr + uint64(explicitAddend(rec))
	if sym.Kind == reloc.SymFunc && thumbFunc(sym) {
		v |= 1
	}
	buf.PutU32LE(site.Bytes, uint32(v))
	return nil
}

func (e *Engine) applyBranch(rec reloc.Record, site reloc.Site, sym reloc.Symbol) error {
	name := e.TypeName(rec.Type)
	if err := reloc.RequireBytes(site, 4, name); err != nil {
		return err
	}
	hw1, hw2 := buf.Halfwords(site.Bytes)

	addend := rec.Addend
	if !rec.HasAddend {
		addend = DecodeBranch(hw1, hw2)
	}

	// Mode of the target: function symbols say so themselves, anything else
	// keeps whatever the instruction already selects.
	thumb := !IsBLX(hw2)
	if sym.Kind == reloc.SymFunc {
		thumb = thumbFunc(sym)
	}
	var t uint64
	if thumb {
		t = 1
	}

	target := (sym.Addr + uint64(addend)) | t
	disp := int64(target - site.Addr)

	isCall := rec.Type == TypeThumbCall
	blx := isCall && !thumb
	if blx {
		disp = (disp + 3) &^ 3
	}

	needThunk := !BranchInRange(disp) || (!isCall && !thumb)
	if needThunk {
		if e.tramp == nil {
			return errors.Wrapf(reloc.ErrUnencodableDisplacement,
				"%s at 0x%x to %s: displacement %d, no trampolines", name, site.Addr, sym.Name, disp)
		}
		// The thunk lands exactly where the direct branch would have.
		dest := target + pcBias
		thunk, err := e.tramp.Thunk(site.Addr, dest)
		if err != nil {
			return errors.Wrapf(reloc.ErrUnencodableDisplacement,
				"%s at 0x%x to %s: %v", name, site.Addr, sym.Name, err)
		}
		disp = int64(thunk - site.Addr - pcBias)
		blx = false
		if !BranchInRange(disp) {
			return errors.Wrapf(reloc.ErrUnencodableDisplacement,
				"%s at 0x%x: thunk at 0x%x out of reach", name, site.Addr, thunk)
		}
		logger.Or(e.log).Debug("branch routed through thunk",
			"type", name,
			"sym", sym.Name,
			"site", fmt.Sprintf("0x%x", site.Addr),
			"thunk", fmt.Sprintf("0x%x", thunk),
			"dest", fmt.Sprintf("0x%x", dest))
	}

	hw1, hw2, _ = EncodeBranch(hw1, hw2, disp)
	if isCall {
		hw2 = setBLX(hw2, blx)
	}
	buf.PutHalfwords(site.Bytes, hw1, hw2)
	return nil
}

func explicitAddend(rec reloc.Record) int64 {
	if rec.HasAddend {
		return rec.Addend
	}
	return 0
}

func thumbFunc(sym reloc.Symbol) bool {
	return sym.Thumb || sym.Addr&1 == 1
}
