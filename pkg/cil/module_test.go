package cil

import "testing"

func TestMethodFullNames(t *testing.T) {
	mod := NewModule("sample")
	global := mod.GlobalType()
	get := global.AddMethod("Get", MethodStatic, NewStaticSig(MethodVar(0), TypeUInt32))
	get.GenericParams = []string{"T"}

	initArray := NewMethodRef("System.Runtime.CompilerServices.RuntimeHelpers", "InitializeArray",
		NewStaticSig(TypeVoid, ClassType("System.Array"), ValueTypeOf("System.RuntimeFieldHandle")))

	tests := []struct {
		m    MethodDescriptor
		want string
	}{
		{get, "!!0 <Module>::Get`1(System.UInt32)"},
		{NewMethodSpec(get, TypeString), "System.String <Module>::Get<System.String>(System.UInt32)"},
		{initArray, "System.Void System.Runtime.CompilerServices.RuntimeHelpers::InitializeArray(System.Array,System.RuntimeFieldHandle)"},
	}
	for _, tt := range tests {
		if got := tt.m.FullName(); got != tt.want {
			t.Errorf("FullName() = %q, want %q", got, tt.want)
		}
	}
}

func TestMethodKeySharedByInstantiations(t *testing.T) {
	mod := NewModule("sample")
	get := mod.GlobalType().AddMethod("Get", MethodStatic, NewStaticSig(MethodVar(0), TypeUInt32))
	get.GenericParams = []string{"T"}

	a := NewMethodSpec(get, TypeString)
	b := NewMethodSpec(get, TypeInt32)
	if MethodKey(a) != MethodKey(b) || MethodKey(a) != MethodKey(get) {
		t.Errorf("keys differ: %q %q %q", MethodKey(a), MethodKey(b), MethodKey(get))
	}
	if a.Resolve() != get {
		t.Error("MethodSpec.Resolve should return the generic definition")
	}
}

func TestMethodSpecSignature(t *testing.T) {
	mod := NewModule("sample")
	get := mod.GlobalType().AddMethod("Get", MethodStatic, NewStaticSig(MethodVar(0), SZArrayOf(MethodVar(0))))
	get.GenericParams = []string{"T"}

	sig := NewMethodSpec(get, TypeString).MethodSig()
	if !sig.Return.Equal(TypeString) {
		t.Errorf("return = %s", sig.Return)
	}
	if !sig.Params[0].Equal(SZArrayOf(TypeString)) {
		t.Errorf("param = %s", sig.Params[0])
	}
	if !get.Sig.Return.IsGenericParameter() {
		t.Error("instantiation mutated the definition signature")
	}
}

func TestTypeSigSizes(t *testing.T) {
	tests := []struct {
		t    *TypeSig
		want int
	}{
		{TypeBoolean, 1},
		{TypeByte, 1},
		{TypeChar, 2},
		{TypeInt32, 4},
		{TypeUInt64, 8},
		{TypeIntPtr, PointerSize},
		{TypeString, PointerSize},
		{SZArrayOf(TypeByte), PointerSize},
		{ValueTypeOf("System.RuntimeFieldHandle"), PointerSize},
		{ValueTypeOf("Some.Struct"), 0},
		{MethodVar(0), 0},
	}
	for _, tt := range tests {
		if got := tt.t.Size(); got != tt.want {
			t.Errorf("%s.Size() = %d, want %d", tt.t, got, tt.want)
		}
	}
}

func TestGlobalType(t *testing.T) {
	mod := NewModule("sample")
	if g := mod.GlobalType(); g == nil || g.FullName() != GlobalTypeName {
		t.Fatalf("GlobalType() = %v", g)
	}
	mod.AddType("App", "Program")
	if mod.LookupType("App.Program") == nil {
		t.Error("LookupType failed")
	}
}
