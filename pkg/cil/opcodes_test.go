package cil

import (
	"strings"
	"testing"
)

func TestAllOpCodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpCodes() {
		info := GetOpCodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("OpCode 0x%04X has no metadata", uint16(op))
		}
	}
}

func TestOpCodeNamesUnique(t *testing.T) {
	seen := make(map[string]Code)
	for _, op := range AllOpCodes() {
		name := op.String()
		if prev, dup := seen[name]; dup {
			t.Errorf("%q used by 0x%04X and 0x%04X", name, uint16(prev), uint16(op))
		}
		seen[name] = op
	}
}

func TestOpCodeCount(t *testing.T) {
	if n := OpCodeCount(); n < 150 {
		t.Errorf("Expected at least 150 opcodes, got %d", n)
	}
}

func TestOpCodeString(t *testing.T) {
	tests := []struct {
		op   Code
		want string
	}{
		{OpNop, "nop"},
		{OpLdcI4, "ldc.i4"},
		{OpLdcI4S, "ldc.i4.s"},
		{OpBr, "br"},
		{OpBrS, "br.s"},
		{OpCall, "call"},
		{OpCallvirt, "callvirt"},
		{OpLdstr, "ldstr"},
		{OpUnboxAny, "unbox.any"},
		{OpCeq, "ceq"},
		{OpLdloca, "ldloca"},
		{OpInitobj, "initobj"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Code(0x%04X).String() = %q, want %q", uint16(tt.op), got, tt.want)
		}
	}
}

func TestUnknownOpCodeString(t *testing.T) {
	op := Code(0x24) // unused slot in the one-byte table
	if got := op.String(); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
	if op.Known() {
		t.Error("0x24 should not be known")
	}
}

func TestOpCodeSize(t *testing.T) {
	tests := []struct {
		op   Code
		want int
	}{
		{OpNop, 1},
		{OpRet, 1},
		{OpCeq, 2},
		{OpInitobj, 2},
	}
	for _, tt := range tests {
		if got := tt.op.Size(); got != tt.want {
			t.Errorf("%s.Size() = %d, want %d", tt.op, got, tt.want)
		}
	}
}

func TestBranchPredicates(t *testing.T) {
	tests := []struct {
		op            Code
		branch        bool
		unconditional bool
	}{
		{OpBr, true, true},
		{OpBrS, true, true},
		{OpLeaveS, true, true},
		{OpBrtrue, true, false},
		{OpBltUnS, true, false},
		{OpSwitch, true, false},
		{OpCall, false, false},
		{OpNop, false, false},
	}
	for _, tt := range tests {
		if got := tt.op.IsBranch(); got != tt.branch {
			t.Errorf("%s.IsBranch() = %v, want %v", tt.op, got, tt.branch)
		}
		if got := tt.op.IsUnconditionalBranch(); got != tt.unconditional {
			t.Errorf("%s.IsUnconditionalBranch() = %v, want %v", tt.op, got, tt.unconditional)
		}
	}
}

func TestBranchOperandTypes(t *testing.T) {
	for _, op := range AllOpCodes() {
		if op == OpSwitch || !op.IsBranch() {
			continue
		}
		ot := op.OperandType()
		if ot != InlineBrTarget && ot != ShortInlineBrTarget {
			t.Errorf("%s is a branch but has operand type %d", op, ot)
		}
	}
}
