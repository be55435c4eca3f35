package reloc

import (
	"debug/elf"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/llext/internal/buf"
)

var (
	// ErrUnsupportedRelocation indicates a relocation type the engine does not implement.
	ErrUnsupportedRelocation = errors.New("reloc: unsupported relocation")

	// ErrUnencodableDisplacement indicates a branch target out of range of the
	// instruction encoding with no trampoline to route through.
	ErrUnencodableDisplacement = errors.New("reloc: displacement not encodable")

	// ErrSiteTooShort indicates the patch site lacks the bytes the relocation writes.
	ErrSiteTooShort = errors.New("reloc: patch site too short")

	// ErrUnknownMachine indicates no engine is registered for an ELF machine.
	ErrUnknownMachine = errors.New("reloc: no engine for machine")
)

// UnsupportedError reports an unknown relocation type code.
type UnsupportedError struct {
	Machine elf.Machine
	Type    uint32
	Name    string
	Addr    uint64
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("reloc: unsupported %v relocation %s (type %d) at 0x%x",
		e.Machine, e.Name, e.Type, e.Addr)
}

// Unwrap makes errors.Is(err, ErrUnsupportedRelocation) hold.
func (e *UnsupportedError) Unwrap() error {
	return ErrUnsupportedRelocation
}

// RequireBytes returns ErrSiteTooShort unless site holds at least n bytes.
func RequireBytes(site Site, n int, typeName string) error {
	if !buf.Has(site.Bytes, 0, n) {
		return errors.Wrapf(ErrSiteTooShort, "%s at 0x%x needs %d bytes, have %d",
			typeName, site.Addr, n, len(site.Bytes))
	}
	return nil
}
