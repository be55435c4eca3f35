// Package reloc defines the contract between an extension loader and the
// architecture-specific relocation engines.
//
// # Overview
//
// A loader walks an object's relocation sections and, for every record,
// resolves the referenced symbol and locates the bytes to patch inside the
// already-copied section. It then calls Engine.Apply once per record:
//
//	eng, err := reloc.ForMachine(elf.EM_ARM)
//	if err != nil {
//	    return err
//	}
//	site, err := reloc.NewSite(text, textAddr, rec.Offset)
//	if err != nil {
//	    return err
//	}
//	if err := eng.Apply(rec, site, sym, loadBias); err != nil {
//	    return err // abort the load; never install a half-relocated extension
//	}
//
// Engines never allocate section memory and touch nothing but the patch site
// (and, for branch relocations, an optional trampoline provider).
//
// # Engines
//
//   - reloc/arm: R_ARM_ABS32 and the Thumb-2 BL/BLX/B.W branch family
//   - reloc/arc: R_ARC_32 and the middle-endian R_ARC_32_ME
//
// Importing an engine package registers it for ForMachine.
//
// # Errors
//
// Unknown relocation types yield an *UnsupportedError, which matches
// ErrUnsupportedRelocation. Branches whose displacement cannot be encoded and
// cannot be routed through a trampoline yield ErrUnencodableDisplacement.
// Whether either aborts the whole load is the loader's decision.
package reloc
