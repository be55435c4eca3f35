package main

import (
	"testing"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		bytes       string
		pc          string
		wantErr     bool
		wantContain []string
	}{
		{
			name:        "bl -4 from halfwords",
			args:        []string{"f7ff", "fffe"},
			wantContain: []string{"(BL)", "displacement: -4"},
		},
		{
			name:        "bytes with target",
			bytes:       "00 f0 fe bf",
			pc:          "0x1000",
			wantContain: []string{"(B.W)", "displacement: 4092", "target:       0x2000"},
		},
		{
			name:        "blx target uses aligned pc",
			args:        []string{"0xf000", "0xeffe"},
			pc:          "0x1002",
			wantContain: []string{"(BLX)", "target:       0x2000"},
		},
		{
			name:        "not a branch",
			args:        []string{"4770", "0000"},
			wantContain: []string{"not a branch"},
		},
		{name: "wrong byte count", bytes: "ff f7 fe", wantErr: true},
		{name: "bad halfword", args: []string{"xyz", "0"}, wantErr: true},
		{name: "missing input", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			decodeBytes = tt.bytes
			decodePC = tt.pc

			output, err := captureOutput(t, func() error {
				return runDecode(tt.args)
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("runDecode() error = %v, wantErr %v\nOutput: %s", err, tt.wantErr, output)
			}
			assertContains(t, output, tt.wantContain)
		})
	}
}

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name        string
		disp        string
		kind        string
		wantErr     bool
		wantContain []string
	}{
		{name: "bl zero", disp: "0", kind: "bl", wantContain: []string{"0xf000 0xf800", "00 f0 00 f8"}},
		{name: "bl -4", disp: "-4", kind: "bl", wantContain: []string{"0xf7ff 0xfffe", "(BL)"}},
		{name: "blx", disp: "0x1000", kind: "blx", wantContain: []string{"(BLX)"}},
		{name: "b.w", disp: "-0x100", kind: "b.w", wantContain: []string{"(B.W)", "displacement: -256"}},
		{name: "out of range", disp: "0x1000000", kind: "bl", wantErr: true},
		{name: "odd", disp: "3", kind: "bl", wantErr: true},
		{name: "unaligned blx", disp: "6", kind: "blx", wantErr: true},
		{name: "unknown kind", disp: "0", kind: "bx", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			encodeKind = tt.kind

			output, err := captureOutput(t, func() error {
				return runEncode([]string{tt.disp})
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("runEncode() error = %v, wantErr %v\nOutput: %s", err, tt.wantErr, output)
			}
			assertContains(t, output, tt.wantContain)
		})
	}
}

func TestEncodeDecodeJSON(t *testing.T) {
	resetFlags()
	jsonOut = true
	encodeKind = "bl"
	defer resetFlags()

	output, err := captureOutput(t, func() error {
		return runEncode([]string{"0x7FE"})
	})
	if err != nil {
		t.Fatalf("runEncode() error = %v", err)
	}
	var info branchInfo
	decodeJSON(t, output, &info)
	if info.Kind != "BL" || info.Displacement != 0x7FE {
		t.Errorf("got %+v", info)
	}
}
