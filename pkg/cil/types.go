package cil

import (
	"fmt"
	"strings"
)

// PointerSize is the width in bytes of native integers, references and
// runtime handles. Samples are treated as 64-bit.
const PointerSize = 8

// ElementType is the ECMA-335 element type tag of a signature.
type ElementType uint8

const (
	ElemVoid      ElementType = 0x01
	ElemBoolean   ElementType = 0x02
	ElemChar      ElementType = 0x03
	ElemI1        ElementType = 0x04
	ElemU1        ElementType = 0x05
	ElemI2        ElementType = 0x06
	ElemU2        ElementType = 0x07
	ElemI4        ElementType = 0x08
	ElemU4        ElementType = 0x09
	ElemI8        ElementType = 0x0A
	ElemU8        ElementType = 0x0B
	ElemR4        ElementType = 0x0C
	ElemR8        ElementType = 0x0D
	ElemString    ElementType = 0x0E
	ElemValueType ElementType = 0x11
	ElemClass     ElementType = 0x12
	ElemVar       ElementType = 0x13
	ElemI         ElementType = 0x18
	ElemU         ElementType = 0x19
	ElemObject    ElementType = 0x1C
	ElemSZArray   ElementType = 0x1D
	ElemMVar      ElementType = 0x1E
)

var primitiveNames = map[ElementType]string{
	ElemVoid:    "System.Void",
	ElemBoolean: "System.Boolean",
	ElemChar:    "System.Char",
	ElemI1:      "System.SByte",
	ElemU1:      "System.Byte",
	ElemI2:      "System.Int16",
	ElemU2:      "System.UInt16",
	ElemI4:      "System.Int32",
	ElemU4:      "System.UInt32",
	ElemI8:      "System.Int64",
	ElemU8:      "System.UInt64",
	ElemR4:      "System.Single",
	ElemR8:      "System.Double",
	ElemString:  "System.String",
	ElemI:       "System.IntPtr",
	ElemU:       "System.UIntPtr",
	ElemObject:  "System.Object",
}

// TypeSig describes a type as it appears in a signature or type operand.
// Values are treated as immutable once built.
type TypeSig struct {
	Elem  ElementType
	Name  string   // full name for class and value types
	Inner *TypeSig // element type of an SZArray
	Index int      // position of a Var or MVar generic parameter
}

// Shared primitive signatures.
var (
	TypeVoid    = &TypeSig{Elem: ElemVoid}
	TypeBoolean = &TypeSig{Elem: ElemBoolean}
	TypeChar    = &TypeSig{Elem: ElemChar}
	TypeSByte   = &TypeSig{Elem: ElemI1}
	TypeByte    = &TypeSig{Elem: ElemU1}
	TypeInt16   = &TypeSig{Elem: ElemI2}
	TypeUInt16  = &TypeSig{Elem: ElemU2}
	TypeInt32   = &TypeSig{Elem: ElemI4}
	TypeUInt32  = &TypeSig{Elem: ElemU4}
	TypeInt64   = &TypeSig{Elem: ElemI8}
	TypeUInt64  = &TypeSig{Elem: ElemU8}
	TypeIntPtr  = &TypeSig{Elem: ElemI}
	TypeUIntPtr = &TypeSig{Elem: ElemU}
	TypeString  = &TypeSig{Elem: ElemString}
	TypeObject  = &TypeSig{Elem: ElemObject}
)

// Primitive returns the shared signature for a primitive element type.
func Primitive(e ElementType) *TypeSig {
	switch e {
	case ElemVoid:
		return TypeVoid
	case ElemBoolean:
		return TypeBoolean
	case ElemChar:
		return TypeChar
	case ElemI1:
		return TypeSByte
	case ElemU1:
		return TypeByte
	case ElemI2:
		return TypeInt16
	case ElemU2:
		return TypeUInt16
	case ElemI4:
		return TypeInt32
	case ElemU4:
		return TypeUInt32
	case ElemI8:
		return TypeInt64
	case ElemU8:
		return TypeUInt64
	case ElemI:
		return TypeIntPtr
	case ElemU:
		return TypeUIntPtr
	case ElemString:
		return TypeString
	case ElemObject:
		return TypeObject
	}
	return &TypeSig{Elem: e}
}

// SZArrayOf returns a single-dimension zero-based array of inner.
func SZArrayOf(inner *TypeSig) *TypeSig {
	return &TypeSig{Elem: ElemSZArray, Inner: inner}
}

// ClassType returns a reference type signature with the given full name.
func ClassType(fullName string) *TypeSig {
	return &TypeSig{Elem: ElemClass, Name: fullName}
}

// ValueTypeOf returns a value type signature with the given full name.
func ValueTypeOf(fullName string) *TypeSig {
	return &TypeSig{Elem: ElemValueType, Name: fullName}
}

// MethodVar returns the signature of the method generic parameter at index.
func MethodVar(index int) *TypeSig {
	return &TypeSig{Elem: ElemMVar, Index: index}
}

// TypeVar returns the signature of the type generic parameter at index.
func TypeVar(index int) *TypeSig {
	return &TypeSig{Elem: ElemVar, Index: index}
}

// runtimeHandles are value types the engine models as native-sized integers.
var runtimeHandles = map[string]bool{
	"System.RuntimeFieldHandle":  true,
	"System.RuntimeTypeHandle":   true,
	"System.RuntimeMethodHandle": true,
}

// FullName returns the CLR-style full name of the type.
func (t *TypeSig) FullName() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Elem {
	case ElemClass, ElemValueType:
		return t.Name
	case ElemSZArray:
		return t.Inner.FullName() + "[]"
	case ElemMVar:
		return fmt.Sprintf("!!%d", t.Index)
	case ElemVar:
		return fmt.Sprintf("!%d", t.Index)
	}
	if name, ok := primitiveNames[t.Elem]; ok {
		return name
	}
	return fmt.Sprintf("<elem 0x%02X>", uint8(t.Elem))
}

func (t *TypeSig) String() string {
	return t.FullName()
}

// Equal reports structural equality.
func (t *TypeSig) Equal(o *TypeSig) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Elem != o.Elem || t.Name != o.Name || t.Index != o.Index {
		return false
	}
	if t.Inner == nil || o.Inner == nil {
		return t.Inner == o.Inner
	}
	return t.Inner.Equal(o.Inner)
}

// IsReference reports whether values of the type are object references.
func (t *TypeSig) IsReference() bool {
	switch t.Elem {
	case ElemString, ElemObject, ElemClass, ElemSZArray:
		return true
	}
	return false
}

// IsGenericParameter reports whether the type is a Var or MVar.
func (t *TypeSig) IsGenericParameter() bool {
	return t.Elem == ElemVar || t.Elem == ElemMVar
}

// IsRuntimeHandle reports whether the type is one of the runtime handle
// value types.
func (t *TypeSig) IsRuntimeHandle() bool {
	return t.Elem == ElemValueType && runtimeHandles[t.Name]
}

// IsArrayOf reports whether t is an SZArray of the given element type.
func (t *TypeSig) IsArrayOf(e ElementType) bool {
	return t != nil && t.Elem == ElemSZArray && t.Inner != nil && t.Inner.Elem == e
}

// IsSigned reports whether integer values of the type sign-extend.
func (t *TypeSig) IsSigned() bool {
	switch t.Elem {
	case ElemI1, ElemI2, ElemI4, ElemI8, ElemI:
		return true
	}
	return false
}

// Size returns the storage width of the type in bytes, or 0 when the
// width is not modelled (arbitrary value types, void, unresolved generics).
func (t *TypeSig) Size() int {
	switch t.Elem {
	case ElemBoolean, ElemI1, ElemU1:
		return 1
	case ElemChar, ElemI2, ElemU2:
		return 2
	case ElemI4, ElemU4, ElemR4:
		return 4
	case ElemI8, ElemU8, ElemR8:
		return 8
	case ElemI, ElemU:
		return PointerSize
	case ElemValueType:
		if t.IsRuntimeHandle() {
			return PointerSize
		}
		return 0
	}
	if t.IsReference() {
		return PointerSize
	}
	return 0
}

// Instantiate substitutes generic parameters. Method parameters (!!n) are
// taken from methodArgs and type parameters (!n) from typeArgs; parameters
// without a binding are left in place.
func (t *TypeSig) Instantiate(typeArgs, methodArgs []*TypeSig) *TypeSig {
	if t == nil {
		return nil
	}
	switch t.Elem {
	case ElemMVar:
		if t.Index < len(methodArgs) {
			return methodArgs[t.Index]
		}
	case ElemVar:
		if t.Index < len(typeArgs) {
			return typeArgs[t.Index]
		}
	case ElemSZArray:
		inner := t.Inner.Instantiate(typeArgs, methodArgs)
		if inner != t.Inner {
			return SZArrayOf(inner)
		}
	}
	return t
}

// MethodSig is a method signature.
type MethodSig struct {
	HasThis           bool
	GenericParamCount int
	Return            *TypeSig
	Params            []*TypeSig
}

// NewStaticSig builds a static method signature.
func NewStaticSig(ret *TypeSig, params ...*TypeSig) *MethodSig {
	return &MethodSig{Return: ret, Params: params}
}

// NewInstanceSig builds an instance method signature.
func NewInstanceSig(ret *TypeSig, params ...*TypeSig) *MethodSig {
	return &MethodSig{HasThis: true, Return: ret, Params: params}
}

// ReturnsValue reports whether the method returns something other than void.
func (s *MethodSig) ReturnsValue() bool {
	return s.Return != nil && s.Return.Elem != ElemVoid
}

// ArgCount returns the number of stack arguments a call consumes,
// including the implicit this.
func (s *MethodSig) ArgCount() int {
	if s.HasThis {
		return len(s.Params) + 1
	}
	return len(s.Params)
}

// ParamList renders the parameter types as "(A,B)".
func (s *MethodSig) ParamList() string {
	names := make([]string, len(s.Params))
	for i, p := range s.Params {
		names[i] = p.FullName()
	}
	return "(" + strings.Join(names, ",") + ")"
}
