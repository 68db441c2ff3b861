package cil

import (
	"strings"
	"testing"
)

func TestDisassembleEmpty(t *testing.T) {
	body := &MethodBody{}
	output := body.Disassemble()
	if !strings.Contains(output, "Instructions: 0") {
		t.Error("Disassembly missing header")
	}
}

func TestDisassembleMethod(t *testing.T) {
	mod := NewModule("test")
	global := mod.GlobalType()
	get := global.AddMethod("Get", MethodStatic, NewStaticSig(MethodVar(0), TypeUInt32))
	get.GenericParams = []string{"T"}

	main := global.AddMethod("Main", MethodStatic, NewStaticSig(TypeVoid))
	b := NewBuilder()
	b.Local(TypeString)
	b.EmitI4(42).
		EmitBranch(OpBr, "call").
		Mark("call").
		EmitOperand(OpCall, NewMethodSpec(get, TypeString)).
		Emit(OpPop).
		EmitOperand(OpLdstr, "Hello").
		Emit(OpPop).
		Emit(OpRet)
	main.Body = b.MustBuild()

	output := main.Disassemble()
	for _, want := range []string{
		"; === System.Void <Module>::Main() ===",
		"[INIT_LOCALS]",
		"[  0] System.String",
		"ldc.i4",
		"42",
		"@2",
		"System.String <Module>::Get<System.String>(System.UInt32)",
		`"Hello"`,
		"ret",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("disassembly missing %q:\n%s", want, output)
		}
	}
}

func TestDisassembleNoBody(t *testing.T) {
	mod := NewModule("test")
	m := mod.GlobalType().AddMethod("Extern", MethodStatic, NewStaticSig(TypeVoid))
	if !strings.Contains(m.Disassemble(), "<no body>") {
		t.Error("expected <no body> note")
	}
}
