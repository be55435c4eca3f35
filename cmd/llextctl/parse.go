package main

import (
	"debug/elf"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/joshuapare/llext/reloc"
)

// parseUint accepts decimal or 0x-prefixed hex.
func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

// parseInt accepts decimal or 0x-prefixed hex, optionally negative.
func parseInt(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

// parseHalfword accepts a 16-bit value in hex, with or without 0x.
func parseHalfword(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid halfword %q", s)
	}
	return uint16(v), nil
}

// parseBytes accepts hex bytes with optional spaces or colons: "ff f7 fe ff".
func parseBytes(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex bytes %q: %w", s, err)
	}
	return b, nil
}

func formatBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, " ")
}

var machineNames = map[string]elf.Machine{
	"arm":         elf.EM_ARM,
	"arc":         elf.EM_ARC_COMPACT2,
	"arc-compact": elf.EM_ARC_COMPACT,
	"arcv2":       elf.EM_ARC_COMPACT2,
}

// parseMachine accepts a short name (arm, arc) or an EM_* constant name.
func parseMachine(s string) (elf.Machine, error) {
	if m, ok := machineNames[strings.ToLower(s)]; ok {
		return m, nil
	}
	for _, m := range reloc.Machines() {
		if strings.EqualFold(m.String(), s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown machine %q (try arm or arc)", s)
}

// parseRelocType accepts a type name known to eng or a number.
func parseRelocType(eng reloc.Engine, s string) (uint32, error) {
	for _, t := range eng.Types() {
		if strings.EqualFold(eng.TypeName(t), s) {
			return t, nil
		}
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown relocation type %q for %v", s, eng.Machine())
	}
	return uint32(v), nil
}

func parseSymKind(s string) (reloc.SymKind, error) {
	switch strings.ToLower(s) {
	case "func", "function":
		return reloc.SymFunc, nil
	case "object", "data":
		return reloc.SymObject, nil
	case "section":
		return reloc.SymSection, nil
	case "notype", "":
		return reloc.SymNoType, nil
	default:
		return 0, fmt.Errorf("unknown symbol kind %q", s)
	}
}
