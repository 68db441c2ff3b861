package deobf

import (
	"testing"

	"github.com/chazu/cildecode/pkg/cil"
	"github.com/chazu/cildecode/pkg/cil/ciltest"
	"github.com/chazu/cildecode/vm"
)

func TestNeutralizersAlwaysReturnTrue(t *testing.T) {
	d, err := New(ciltest.Default().Module, Options{})
	if err != nil {
		t.Fatal(err)
	}
	ms := d.Members()
	ctx := &vm.ExecutionContext{Machine: d.Machine()}

	argSets := [][]vm.Value{
		nil,
		{vm.Unknown(8)},
		{vm.Null(), vm.Null()},
		{vm.I32(0), vm.Unknown(8), vm.I64(-1)},
	}
	for _, m := range []cil.MethodDescriptor{ms.EncodingAccessor, ms.ExecutingAssembly, ms.CallingAssembly, ms.Equality} {
		fn, ok := d.Machine().Shims.Lookup(m)
		if !ok {
			t.Errorf("no shim for %s", m.FullName())
			continue
		}
		for _, args := range argSets {
			r := fn(ctx, m, args)
			if r.Kind != vm.ResultStepOver || r.Value == nil {
				t.Errorf("%s%v = %+v", m.MemberName(), args, r)
				continue
			}
			if nz, known := r.Value.Truthiness(); !nz || !known {
				t.Errorf("%s%v = %s, want true", m.MemberName(), args, r.Value)
			}
		}
	}

	intern, ok := d.Machine().Shims.Lookup(ms.Intern)
	if !ok {
		t.Fatal("no shim for Intern")
	}
	s := d.Machine().Marshaller.FromString("x")
	if r := intern(ctx, ms.Intern, []vm.Value{s}); r.Value == nil || !r.Value.Equal(s) {
		t.Errorf("Intern = %+v, want pass-through", r)
	}
}

func TestShimTableIsSealed(t *testing.T) {
	d, err := New(ciltest.Default().Module, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Machine().Shims.Sealed() {
		t.Error("shim table left open")
	}
}

func TestInitializeArrayDegradesSilently(t *testing.T) {
	s, err := ciltest.Build(ciltest.Config{OmitPayload: true})
	if err != nil {
		t.Fatal(err)
	}
	d, err := New(s.Module, Options{})
	if err != nil {
		t.Fatal(err)
	}
	m := d.Machine()
	ctx := &vm.ExecutionContext{Machine: m}

	arr, err := m.Heap.AllocArray(cil.TypeByte, 4)
	if err != nil {
		t.Fatal(err)
	}
	handles := map[string]vm.Value{
		"field without data": vm.NativeInt(int64(m.Heap.TokenHandle(s.Payload))),
		"unregistered":       vm.NativeInt(0x1234),
		"unknown":            vm.Unknown(8),
		"type token":         vm.NativeInt(int64(m.Heap.TokenHandle(cil.TypeString))),
	}
	for name, h := range handles {
		r := d.initializeArray(ctx, d.Members().InitializeArray, []vm.Value{arr.Ref(), h})
		if r.Kind != vm.ResultStepOver || r.Value != nil {
			t.Errorf("%s: result = %+v, want a void step-over", name, r)
		}
		data, ok := arr.Bytes()
		if !ok || string(data) != "\x00\x00\x00\x00" {
			t.Errorf("%s: array = %x, %v; want untouched zeros", name, data, ok)
		}
	}

	// With data present the payload is copied.
	s.Payload.InitialValue = []byte{1, 2, 3, 4, 5}
	r := d.initializeArray(ctx, d.Members().InitializeArray, []vm.Value{arr.Ref(), handles["field without data"]})
	if r.Kind != vm.ResultStepOver {
		t.Fatalf("result = %+v", r)
	}
	if data, _ := arr.Bytes(); string(data) != "\x01\x02\x03\x04" {
		t.Errorf("array = %x", data)
	}
}

func TestUTF8StringRange(t *testing.T) {
	s := ciltest.Default()
	d := newInitialized(t, s)
	m := d.Machine()
	ctx := &vm.ExecutionContext{Machine: m}
	getString := d.Members().GetString
	buf := m.Statics.Load(s.Buffer)

	call := func(index, count int32) vm.InvocationResult {
		return d.utf8String(ctx, getString, []vm.Value{vm.I32(1), buf, vm.I32(index), vm.I32(count)})
	}

	r := call(172, 5)
	if r.Kind != vm.ResultStepOver {
		t.Fatalf("in range: %+v", r)
	}
	if text, err := m.Marshaller.ToString(*r.Value); err != nil || text != "Hello" {
		t.Errorf("text = %q, %v", text, err)
	}
	for _, bad := range [][2]int32{{-1, 2}, {172, -1}, {175, 5}, {int32(len(s.Table)), 1}} {
		if r := call(bad[0], bad[1]); r.Kind != vm.ResultUnknown {
			t.Errorf("range %v: kind = %d, want unknown", bad, r.Kind)
		}
	}
	if r := d.utf8String(ctx, getString, []vm.Value{vm.I32(1), buf, vm.Unknown(4), vm.I32(1)}); r.Kind != vm.ResultUnknown {
		t.Errorf("unknown index: kind = %d", r.Kind)
	}
}

func TestUTF8StringFallsBackToArgument(t *testing.T) {
	s := ciltest.Default()
	global := s.Module.GlobalType()
	// Hide the buffer from the resolver; the body still stores and loads it.
	for i, f := range global.Fields {
		if f == s.Buffer {
			global.Fields = append(global.Fields[:i], global.Fields[i+1:]...)
			break
		}
	}
	d := newInitialized(t, s)
	if d.Members().Buffer != nil {
		t.Fatal("buffer field was resolved")
	}
	if got, err := d.DecodeKey(42); err != nil || got != "Hello" {
		t.Errorf("DecodeKey(42) = %q, %v", got, err)
	}
}

func TestCoerceCallvirt(t *testing.T) {
	tests := []struct {
		op     cil.Code
		callee cil.MethodDescriptor
		want   cil.Code
	}{
		{cil.OpCallvirt, ciltest.ObjectEquals, cil.OpCall},
		{cil.OpCallvirt, ciltest.GetString, cil.OpCall},
		{cil.OpCallvirt, ciltest.GetUTF8, cil.OpCallvirt},
		{cil.OpCall, ciltest.ObjectEquals, cil.OpCall},
	}
	for _, tt := range tests {
		ins := cil.NewInstruction(tt.op, tt.callee)
		d := &vm.Dispatch{Instruction: ins, OpCode: ins.OpCode}
		coerceCallvirt(d)
		if d.OpCode != tt.want {
			t.Errorf("%s %s dispatched as %s, want %s", tt.op, tt.callee.MemberName(), d.OpCode, tt.want)
		}
		if ins.OpCode != tt.op {
			t.Errorf("instruction rewritten to %s", ins.OpCode)
		}
	}
}
