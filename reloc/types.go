package reloc

import (
	"debug/elf"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/llext/internal/buf"
)

// SymKind is the ELF symbol type of a resolved symbol.
type SymKind uint8

const (
	SymNoType SymKind = iota
	SymObject
	SymFunc
	SymSection
)

// SymKindFromELF maps an ELF symbol type to a SymKind.
func SymKindFromELF(t elf.SymType) SymKind {
	switch t {
	case elf.STT_OBJECT:
		return SymObject
	case elf.STT_FUNC:
		return SymFunc
	case elf.STT_SECTION:
		return SymSection
	default:
		return SymNoType
	}
}

func (k SymKind) String() string {
	switch k {
	case SymNoType:
		return "notype"
	case SymObject:
		return "object"
	case SymFunc:
		return "func"
	case SymSection:
		return "section"
	default:
		return fmt.Sprintf("symkind(%d)", uint8(k))
	}
}

// Record is one relocation entry.
type Record struct {
	// Offset of the patch site, relative to the start of the section the
	// relocation section applies to.
	Offset uint64
	// Sym is the symbol table index the record refers to.
	Sym uint32
	// Type is the architecture-defined relocation type code.
	Type uint32
	// Addend is the explicit addend of a RELA record. It is only meaningful
	// when HasAddend is set; REL records carry their addend in the patched
	// instruction or word instead.
	Addend    int64
	HasAddend bool
}

// Symbol is a symbol resolved by the loader.
type Symbol struct {
	Name string
	Addr uint64
	Kind SymKind
	// Thumb marks a function in the compact (Thumb) instruction set. For ELF
	// function symbols this mirrors bit 0 of the symbol value.
	Thumb bool
}

// Site is the location being patched.
type Site struct {
	// Addr is the address the patched bytes will have at run time.
	Addr uint64
	// Bytes starts at the patch location and extends at least as far as the
	// relocation writes.
	Bytes []byte
}

// NewSite returns the site at offset within a section copied to region,
// whose first byte will live at regionAddr.
func NewSite(region []byte, regionAddr, offset uint64) (Site, error) {
	if offset > uint64(len(region)) {
		return Site{}, errors.Wrapf(ErrSiteTooShort, "offset 0x%x beyond %d-byte section", offset, len(region))
	}
	b, ok := buf.Slice(region, int(offset), len(region)-int(offset))
	if !ok {
		return Site{}, errors.Wrapf(ErrSiteTooShort, "offset 0x%x", offset)
	}
	return Site{Addr: regionAddr + offset, Bytes: b}, nil
}

// Engine applies relocations for one machine type.
type Engine interface {
	// Machine returns the ELF machine this engine relocates for.
	Machine() elf.Machine

	// Apply patches site according to rec, given the resolved symbol and the
	// load bias of the extension. It returns an error and leaves site
	// unmodified when the relocation cannot be applied.
	Apply(rec Record, site Site, sym Symbol, loadBias uint64) error

	// TypeName returns the conventional name of a relocation type code.
	TypeName(typ uint32) string

	// Types lists the supported relocation type codes in ascending order.
	Types() []uint32
}
