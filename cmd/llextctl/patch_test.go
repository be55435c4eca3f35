package main

import (
	"testing"
)

func setPatchOpts(machine, typ, site, bytes, symAddr, symKind string, thumb bool, thunkBase string) {
	patchOpts.machine = machine
	patchOpts.relType = typ
	patchOpts.siteAddr = site
	patchOpts.bytes = bytes
	patchOpts.symName = "sym"
	patchOpts.symAddr = symAddr
	patchOpts.symKind = symKind
	patchOpts.thumb = thumb
	patchOpts.addend = "0"
	patchOpts.thunkBase = thunkBase
}

func TestPatchCommand(t *testing.T) {
	tests := []struct {
		name        string
		setup       func()
		hasAddend   bool
		wantErr     bool
		wantContain []string
	}{
		{
			name: "thumb call",
			setup: func() {
				setPatchOpts("arm", "R_ARM_THM_CALL", "0x1000", "ff f7 fe ff", "0x2000", "func", true, "")
			},
			wantContain: []string{"EM_ARM R_ARM_THM_CALL at 0x1000", "after:  00 f0 fe ff"},
		},
		{
			name: "abs32 by number",
			setup: func() {
				setPatchOpts("arm", "2", "0", "00 00 00 00", "0xAABBCCDD", "object", false, "")
			},
			wantContain: []string{"R_ARM_ABS32", "after:  dd cc bb aa"},
		},
		{
			name: "arc middle endian",
			setup: func() {
				setPatchOpts("arc", "r_arc_32_me", "0", "00000000", "0x12345678", "object", false, "")
			},
			wantContain: []string{"EM_ARC_COMPACT2", "after:  34 12 78 56"},
		},
		{
			name: "explicit addend",
			setup: func() {
				setPatchOpts("arm", "R_ARM_ABS32", "0", "ff ff ff ff", "0x1000", "object", false, "")
				patchOpts.addend = "0x10"
			},
			hasAddend:   true,
			wantContain: []string{"after:  10 10 00 00"},
		},
		{
			name: "far call through thunk",
			setup: func() {
				setPatchOpts("arm", "R_ARM_THM_CALL", "0x100", "ff f7 fe ff", "0x40000000", "func", true, "0x800")
			},
			wantContain: []string{"thunks at 0x800: df f8 00 f0 01 00 00 40"},
		},
		{
			name: "far call without thunk",
			setup: func() {
				setPatchOpts("arm", "R_ARM_THM_CALL", "0x100", "ff f7 fe ff", "0x40000000", "func", true, "")
			},
			wantErr: true,
		},
		{
			name: "unsupported type",
			setup: func() {
				setPatchOpts("arm", "99", "0", "00 00 00 00", "0", "notype", false, "")
			},
			wantErr: true,
		},
		{
			name: "thunks only on arm",
			setup: func() {
				setPatchOpts("arc", "R_ARC_32", "0", "00 00 00 00", "0", "object", false, "0x800")
			},
			wantErr: true,
		},
		{
			name: "unknown machine",
			setup: func() {
				setPatchOpts("m68k", "1", "0", "00 00 00 00", "0", "object", false, "")
			},
			wantErr: true,
		},
		{
			name: "short site",
			setup: func() {
				setPatchOpts("arm", "R_ARM_ABS32", "0", "00 00", "0", "object", false, "")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			tt.setup()

			output, err := captureOutput(t, func() error {
				return runPatch(tt.hasAddend)
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("runPatch() error = %v, wantErr %v\nOutput: %s", err, tt.wantErr, output)
			}
			assertContains(t, output, tt.wantContain)
		})
	}
}

func TestPatchJSON(t *testing.T) {
	resetFlags()
	jsonOut = true
	defer resetFlags()
	setPatchOpts("arm", "R_ARM_ABS32", "0x20", "00 00 00 00", "0x1000", "func", true, "")

	output, err := captureOutput(t, func() error {
		return runPatch(false)
	})
	if err != nil {
		t.Fatalf("runPatch() error = %v", err)
	}
	var res patchResult
	decodeJSON(t, output, &res)
	if res.After != "01 10 00 00" {
		t.Errorf("after = %q, want thumb bit set", res.After)
	}
	if res.Site != "0x20" {
		t.Errorf("site = %q", res.Site)
	}
}

func TestTypesCommand(t *testing.T) {
	resetFlags()
	typesMachine = ""
	output, err := captureOutput(t, runTypes)
	if err != nil {
		t.Fatalf("runTypes() error = %v", err)
	}
	assertContains(t, output, []string{"EM_ARM:", "R_ARM_THM_JUMP24", "EM_ARC_COMPACT2:", "R_ARC_32_ME"})

	jsonOut = true
	typesMachine = "arm"
	defer resetFlags()
	output, err = captureOutput(t, runTypes)
	if err != nil {
		t.Fatalf("runTypes() error = %v", err)
	}
	var entries []typeEntry
	decodeJSON(t, output, &entries)
	if len(entries) != 4 {
		t.Errorf("got %d arm types, want 4", len(entries))
	}
}

func TestVersionListsEngines(t *testing.T) {
	resetFlags()
	output, err := captureOutput(t, runVersion)
	if err != nil {
		t.Fatalf("runVersion() error = %v", err)
	}
	assertContains(t, output, []string{"llextctl ", "EM_ARM", "EM_ARC_COMPACT2"})
}
