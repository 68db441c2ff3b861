package cil

import (
	"strings"
	"testing"
)

func TestLdcI4Constant(t *testing.T) {
	tests := []struct {
		ins  *Instruction
		want int32
	}{
		{NewInstruction(OpLdcI4M1, nil), -1},
		{NewInstruction(OpLdcI40, nil), 0},
		{NewInstruction(OpLdcI45, nil), 5},
		{NewInstruction(OpLdcI48, nil), 8},
		{NewInstruction(OpLdcI4S, int32(-7)), -7},
		{NewInstruction(OpLdcI4, int32(42)), 42},
		{NewInstruction(OpLdcI4, int32(-2147483648)), -2147483648},
	}
	for _, tt := range tests {
		if !tt.ins.IsLdcI4() {
			t.Errorf("%s: IsLdcI4() = false", tt.ins)
			continue
		}
		if got := tt.ins.LdcI4Constant(); got != tt.want {
			t.Errorf("%s: LdcI4Constant() = %d, want %d", tt.ins, got, tt.want)
		}
	}
}

func TestIsLdcI4RejectsOtherConstants(t *testing.T) {
	for _, ins := range []*Instruction{
		NewInstruction(OpLdcI8, int64(1)),
		NewInstruction(OpLdnull, nil),
		NewInstruction(OpLdstr, "x"),
	} {
		if ins.IsLdcI4() {
			t.Errorf("%s: IsLdcI4() = true", ins)
		}
	}
}

func TestReplaceWithNop(t *testing.T) {
	ins := NewInstruction(OpLdcI4, int32(3))
	ins.ReplaceWithNop()
	if ins.OpCode != OpNop || ins.Operand != nil {
		t.Errorf("after ReplaceWithNop: %s %v", ins.OpCode, ins.Operand)
	}
}

func TestInstructionSize(t *testing.T) {
	tests := []struct {
		ins  *Instruction
		want int
	}{
		{NewInstruction(OpNop, nil), 1},
		{NewInstruction(OpLdcI4S, int32(1)), 2},
		{NewInstruction(OpLdcI4, int32(1)), 5},
		{NewInstruction(OpLdcI8, int64(1)), 9},
		{NewInstruction(OpBrS, Label(0)), 2},
		{NewInstruction(OpBr, Label(0)), 5},
		{NewInstruction(OpLdloc, 1), 4},
		{NewInstruction(OpInitobj, TypeInt32), 6},
		{NewInstruction(OpSwitch, []Label{0, 1, 2}), 17},
	}
	for _, tt := range tests {
		if got := tt.ins.Size(); got != tt.want {
			t.Errorf("%s: Size() = %d, want %d", tt.ins.OpCode, got, tt.want)
		}
	}
}

func TestInstructionString(t *testing.T) {
	ins := NewInstruction(OpLdstr, "Hello")
	ins.Offset = 0x1A
	if got := ins.String(); got != `IL_001A: ldstr "Hello"` {
		t.Errorf("String() = %q", got)
	}
}

func TestValidateRejectsBadLabel(t *testing.T) {
	body := &MethodBody{Instructions: []*Instruction{
		NewInstruction(OpBr, Label(5)),
		NewInstruction(OpRet, nil),
	}}
	err := body.Validate(NewStaticSig(TypeVoid))
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("Validate() = %v, want out of range error", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	body := &MethodBody{Instructions: []*Instruction{
		NewInstruction(OpLdcI4, int32(1)),
		NewInstruction(OpRet, nil),
	}}
	cp := body.Clone()
	cp.Instructions[0].ReplaceWithNop()
	if body.Instructions[0].OpCode != OpLdcI4 {
		t.Error("Clone shares instructions with the original")
	}
}
