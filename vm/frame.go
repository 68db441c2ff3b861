package vm

import (
	"fmt"

	"github.com/chazu/cildecode/pkg/cil"
)

// ---------------------------------------------------------------------------
// Evaluation stack slots
// ---------------------------------------------------------------------------

// StackType is the CLI evaluation stack type of a slot.
type StackType uint8

const (
	StackI4 StackType = iota + 1
	StackI8
	StackNative
	StackRef
	StackPtr
)

func (t StackType) String() string {
	switch t {
	case StackI4:
		return "int32"
	case StackI8:
		return "int64"
	case StackNative:
		return "native int"
	case StackRef:
		return "O"
	case StackPtr:
		return "&"
	}
	return "?"
}

// Slot is one evaluation stack entry. Ptr is set only for StackPtr.
type Slot struct {
	Type  StackType
	Value Value
	Ptr   *Pointer
}

func (s Slot) String() string {
	if s.Type == StackPtr {
		return "&" + s.Ptr.String()
	}
	return fmt.Sprintf("%s %s", s.Type, s.Value)
}

func i4Slot(v Value) Slot     { return Slot{Type: StackI4, Value: v} }
func i8Slot(v Value) Slot     { return Slot{Type: StackI8, Value: v} }
func nativeSlot(v Value) Slot { return Slot{Type: StackNative, Value: v} }
func refSlot(v Value) Slot    { return Slot{Type: StackRef, Value: v} }

// stackTypeOf maps a storage type to the stack type it loads as.
func stackTypeOf(t *cil.TypeSig) (StackType, bool) {
	switch t.Elem {
	case cil.ElemBoolean, cil.ElemChar, cil.ElemI1, cil.ElemU1,
		cil.ElemI2, cil.ElemU2, cil.ElemI4, cil.ElemU4:
		return StackI4, true
	case cil.ElemI8, cil.ElemU8:
		return StackI8, true
	case cil.ElemI, cil.ElemU:
		return StackNative, true
	case cil.ElemValueType:
		if t.IsRuntimeHandle() {
			return StackNative, true
		}
		return 0, false
	}
	if t.IsReference() {
		return StackRef, true
	}
	return 0, false
}

// loadSlot widens a stored value of type t onto the stack: small integers
// are sign- or zero-extended to 32 bits.
func loadSlot(t *cil.TypeSig, v Value) Slot {
	st, ok := stackTypeOf(t)
	if !ok {
		raisef(ErrUnsupportedType, "load %s", t)
	}
	switch st {
	case StackI4:
		return i4Slot(v.Resize(4, t.IsSigned()))
	case StackI8, StackNative, StackRef:
		return Slot{Type: st, Value: v.Resize(8, t.IsSigned())}
	}
	return Slot{Type: st, Value: v}
}

// storeValue narrows a stack slot to the storage width of type t.
func storeValue(t *cil.TypeSig, s Slot) Value {
	if s.Type == StackPtr {
		raisef(ErrUnsupportedType, "store managed pointer into %s", t)
	}
	size := t.Size()
	if size == 0 {
		raisef(ErrUnsupportedType, "store %s", t)
	}
	return s.Value.Resize(size, s.Type == StackI4)
}

// ---------------------------------------------------------------------------
// Managed pointers
// ---------------------------------------------------------------------------

// PointerKind identifies what a managed pointer refers to.
type PointerKind uint8

const (
	PointerLocal PointerKind = iota + 1
	PointerArg
	PointerStatic
	PointerElement
)

// Pointer is a managed pointer to a local, argument, static field or
// array element.
type Pointer struct {
	Kind   PointerKind
	Frame  *Frame
	Index  int
	Field  cil.FieldDescriptor
	Array  *Object
	Target *cil.TypeSig
}

func (p *Pointer) String() string {
	switch p.Kind {
	case PointerLocal:
		return fmt.Sprintf("local[%d]", p.Index)
	case PointerArg:
		return fmt.Sprintf("arg[%d]", p.Index)
	case PointerStatic:
		return p.Field.FullName()
	case PointerElement:
		return fmt.Sprintf("0x%x[%d]", p.Array.Address, p.Index)
	}
	return "?"
}

// ---------------------------------------------------------------------------
// Frame: execution state for a method invocation
// ---------------------------------------------------------------------------

// Frame is the execution state of one method invocation.
type Frame struct {
	Method      *cil.MethodDef // not owned
	GenericArgs []*cil.TypeSig // method instantiation, may be nil
	Args        []Value
	ArgTypes    []*cil.TypeSig
	Locals      []Value
	LocalTypes  []*cil.TypeSig
	Stack       []Slot
	IP          int
}

// newFrame builds a frame for method instantiated with genericArgs.
func newFrame(method *cil.MethodDef, genericArgs []*cil.TypeSig, args []Value) *Frame {
	sig := method.Sig
	f := &Frame{Method: method, GenericArgs: genericArgs}

	if sig.HasThis {
		f.ArgTypes = append(f.ArgTypes, cil.TypeObject)
	}
	for _, p := range sig.Params {
		f.ArgTypes = append(f.ArgTypes, f.instantiate(p))
	}
	if len(args) != len(f.ArgTypes) {
		raisef(ErrInvalidProgram, "%s expects %d arguments, got %d",
			method.FullName(), len(f.ArgTypes), len(args))
	}
	f.Args = make([]Value, len(args))
	for i, a := range args {
		f.Args[i] = a.Clone()
	}

	body := method.Body
	f.LocalTypes = make([]*cil.TypeSig, len(body.Locals))
	f.Locals = make([]Value, len(body.Locals))
	for i, t := range body.Locals {
		t = f.instantiate(t)
		f.LocalTypes[i] = t
		size := t.Size()
		if size == 0 {
			size = cil.PointerSize
		}
		if body.InitLocals {
			f.Locals[i] = Zero(size)
		} else {
			f.Locals[i] = Unknown(size)
		}
	}
	return f
}

// instantiate substitutes the frame's method generic arguments.
func (f *Frame) instantiate(t *cil.TypeSig) *cil.TypeSig {
	return t.Instantiate(nil, f.GenericArgs)
}

func (f *Frame) push(s Slot) {
	f.Stack = append(f.Stack, s)
}

func (f *Frame) pop() Slot {
	n := len(f.Stack)
	if n == 0 {
		raisef(ErrInvalidProgram, "stack underflow in %s at %d", f.Method.Name, f.IP)
	}
	s := f.Stack[n-1]
	f.Stack = f.Stack[:n-1]
	return s
}

func (f *Frame) top() Slot {
	n := len(f.Stack)
	if n == 0 {
		raisef(ErrInvalidProgram, "stack underflow in %s at %d", f.Method.Name, f.IP)
	}
	return f.Stack[n-1]
}

func (f *Frame) popN(n int) []Slot {
	if len(f.Stack) < n {
		raisef(ErrInvalidProgram, "stack underflow in %s at %d", f.Method.Name, f.IP)
	}
	out := make([]Slot, n)
	copy(out, f.Stack[len(f.Stack)-n:])
	f.Stack = f.Stack[:len(f.Stack)-n]
	return out
}

func (f *Frame) checkLocal(i int) {
	if i < 0 || i >= len(f.Locals) {
		raisef(ErrInvalidProgram, "local %d out of range", i)
	}
}

func (f *Frame) checkArg(i int) {
	if i < 0 || i >= len(f.Args) {
		raisef(ErrInvalidProgram, "argument %d out of range", i)
	}
}

func (f *Frame) loadLocal(i int) Slot {
	f.checkLocal(i)
	return loadSlot(f.LocalTypes[i], f.Locals[i])
}

func (f *Frame) storeLocal(i int, s Slot) {
	f.checkLocal(i)
	f.Locals[i] = storeValue(f.LocalTypes[i], s)
}

func (f *Frame) loadArg(i int) Slot {
	f.checkArg(i)
	return loadSlot(f.ArgTypes[i], f.Args[i])
}

func (f *Frame) storeArg(i int, s Slot) {
	f.checkArg(i)
	f.Args[i] = storeValue(f.ArgTypes[i], s)
}
