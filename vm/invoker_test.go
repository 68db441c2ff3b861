package vm

import (
	"testing"

	"github.com/chazu/cildecode/pkg/cil"
)

func TestShimTableSharesGenericInstantiations(t *testing.T) {
	mod := cil.NewModule("test")
	get := mod.GlobalType().AddMethod("Get", cil.MethodStatic, cil.NewStaticSig(cil.MethodVar(0), cil.TypeUInt32))
	get.GenericParams = []string{"T"}

	table := NewShimTable().Map(get, PassThrough)
	for _, m := range []cil.MethodDescriptor{
		get,
		cil.NewMethodSpec(get, cil.TypeString),
		cil.NewMethodSpec(get, cil.TypeInt32),
	} {
		if _, ok := table.Lookup(m); !ok {
			t.Errorf("Lookup(%s) missed", m.FullName())
		}
	}
	if keys := table.Keys(); len(keys) != 1 {
		t.Errorf("Keys() = %v", keys)
	}
}

func TestShimTableMatchesByIdentity(t *testing.T) {
	a := cil.NewMethodRef("System.Text.Encoding", "GetString",
		cil.NewInstanceSig(cil.TypeString, cil.SZArrayOf(cil.TypeByte), cil.TypeInt32, cil.TypeInt32))
	b := cil.NewMethodRef("System.Text.Encoding", "GetString",
		cil.NewInstanceSig(cil.TypeString, cil.SZArrayOf(cil.TypeByte), cil.TypeInt32, cil.TypeInt32))
	overload := cil.NewMethodRef("System.Text.Encoding", "GetString",
		cil.NewInstanceSig(cil.TypeString, cil.SZArrayOf(cil.TypeByte)))

	table := NewShimTable().Map(a, ReturnTrue)
	if _, ok := table.Lookup(b); !ok {
		t.Error("equal references should share a shim")
	}
	if _, ok := table.Lookup(overload); ok {
		t.Error("an overload with a different signature matched")
	}
}

func TestSealedTablePanicsOnMap(t *testing.T) {
	table := NewShimTable()
	table.Seal()
	if !table.Sealed() {
		t.Fatal("Sealed() = false after Seal")
	}
	defer func() {
		if recover() == nil {
			t.Error("Map on a sealed table did not panic")
		}
	}()
	table.Map(cil.NewMethodRef("A", "B", cil.NewStaticSig(cil.TypeVoid)), ReturnTrue)
}

func TestReadyMadeShims(t *testing.T) {
	method := cil.NewMethodRef("System.String", "Intern", cil.NewStaticSig(cil.TypeString, cil.TypeString))

	if r := ReturnUnknown(nil, method, nil); r.Kind != ResultUnknown {
		t.Errorf("ReturnUnknown kind = %d", r.Kind)
	}
	r := ReturnTrue(nil, method, nil)
	if r.Kind != ResultStepOver || r.Value == nil {
		t.Fatalf("ReturnTrue = %+v", r)
	}
	if nz, known := r.Value.Truthiness(); !nz || !known {
		t.Errorf("ReturnTrue value = %s", r.Value)
	}

	arg := Ref(0x1000)
	r = PassThrough(nil, method, []Value{arg})
	if r.Kind != ResultStepOver || !r.Value.Equal(arg) {
		t.Errorf("PassThrough = %+v", r)
	}
	if r := PassThrough(nil, method, nil); r.Kind != ResultUnknown {
		t.Errorf("PassThrough with no arguments kind = %d", r.Kind)
	}
}
