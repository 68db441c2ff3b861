package image

import (
	"fmt"

	"github.com/chazu/cildecode/pkg/cil"
)

// Wire structures. Integer keys keep the encoding compact and stable
// across field renames.

type wireModule struct {
	Name        string           `cbor:"1,keyasint"`
	Types       []wireType       `cbor:"2,keyasint"`
	MethodRefs  []wireMethodRef  `cbor:"3,keyasint,omitempty"`
	FieldRefs   []wireFieldRef   `cbor:"4,keyasint,omitempty"`
	MethodSpecs []wireMethodSpec `cbor:"5,keyasint,omitempty"`
}

type wireType struct {
	Namespace string       `cbor:"1,keyasint,omitempty"`
	Name      string       `cbor:"2,keyasint"`
	Methods   []wireMethod `cbor:"3,keyasint,omitempty"`
	Fields    []wireField  `cbor:"4,keyasint,omitempty"`
}

type wireMethod struct {
	Name          string    `cbor:"1,keyasint"`
	Attributes    uint16    `cbor:"2,keyasint,omitempty"`
	Sig           wireSig   `cbor:"3,keyasint"`
	GenericParams []string  `cbor:"4,keyasint,omitempty"`
	Body          *wireBody `cbor:"5,keyasint,omitempty"`
}

type wireField struct {
	Name         string       `cbor:"1,keyasint"`
	Attributes   uint16       `cbor:"2,keyasint,omitempty"`
	Type         *wireTypeSig `cbor:"3,keyasint"`
	InitialValue []byte       `cbor:"4,keyasint,omitempty"`
}

type wireSig struct {
	HasThis           bool           `cbor:"1,keyasint,omitempty"`
	GenericParamCount int            `cbor:"2,keyasint,omitempty"`
	Return            *wireTypeSig   `cbor:"3,keyasint"`
	Params            []*wireTypeSig `cbor:"4,keyasint,omitempty"`
}

type wireTypeSig struct {
	Elem  uint8        `cbor:"1,keyasint"`
	Name  string       `cbor:"2,keyasint,omitempty"`
	Inner *wireTypeSig `cbor:"3,keyasint,omitempty"`
	Index int          `cbor:"4,keyasint,omitempty"`
}

type wireBody struct {
	Instructions []wireInstruction `cbor:"1,keyasint"`
	Locals       []*wireTypeSig    `cbor:"2,keyasint,omitempty"`
	InitLocals   bool              `cbor:"3,keyasint,omitempty"`
	MaxStack     int               `cbor:"4,keyasint,omitempty"`
}

type wireInstruction struct {
	OpCode  uint16       `cbor:"1,keyasint"`
	Operand *wireOperand `cbor:"2,keyasint,omitempty"`
}

// wireOperand holds exactly one populated member; the opcode's operand
// type says which.
type wireOperand struct {
	Int    int64        `cbor:"1,keyasint,omitempty"`
	Float  float64      `cbor:"2,keyasint,omitempty"`
	Str    string       `cbor:"3,keyasint,omitempty"`
	Labels []int        `cbor:"4,keyasint,omitempty"`
	Token  *wireToken   `cbor:"5,keyasint,omitempty"`
	Type   *wireTypeSig `cbor:"6,keyasint,omitempty"`
}

// Token tables.
const (
	tableMethodDef uint8 = iota + 1
	tableMethodRef
	tableMethodSpec
	tableFieldDef
	tableFieldRef
)

// wireToken addresses a member. Definitions use Type and Index; the
// reference and spec tables use Index only.
type wireToken struct {
	Table uint8 `cbor:"1,keyasint"`
	Type  int   `cbor:"2,keyasint,omitempty"`
	Index int   `cbor:"3,keyasint,omitempty"`
}

type wireMethodRef struct {
	Owner string  `cbor:"1,keyasint"`
	Name  string  `cbor:"2,keyasint"`
	Sig   wireSig `cbor:"3,keyasint"`
}

type wireFieldRef struct {
	Owner string       `cbor:"1,keyasint"`
	Name  string       `cbor:"2,keyasint"`
	Type  *wireTypeSig `cbor:"3,keyasint"`
}

type wireMethodSpec struct {
	Method wireToken      `cbor:"1,keyasint"`
	Args   []*wireTypeSig `cbor:"2,keyasint"`
}

// ---------------------------------------------------------------------------
// Signatures
// ---------------------------------------------------------------------------

func toWireType(t *cil.TypeSig) *wireTypeSig {
	if t == nil {
		return nil
	}
	return &wireTypeSig{Elem: uint8(t.Elem), Name: t.Name, Inner: toWireType(t.Inner), Index: t.Index}
}

// fromWireType rebuilds a type. Types are never optional where it is
// called, so a missing one marks a corrupt image.
func fromWireType(w *wireTypeSig) (*cil.TypeSig, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: missing type", ErrCorrupt)
	}
	e := cil.ElementType(w.Elem)
	switch e {
	case cil.ElemSZArray:
		inner, err := fromWireType(w.Inner)
		if err != nil {
			return nil, fmt.Errorf("array element: %w", err)
		}
		return cil.SZArrayOf(inner), nil
	case cil.ElemClass:
		return cil.ClassType(w.Name), nil
	case cil.ElemValueType:
		return cil.ValueTypeOf(w.Name), nil
	case cil.ElemMVar:
		return cil.MethodVar(w.Index), nil
	case cil.ElemVar:
		return cil.TypeVar(w.Index), nil
	}
	return cil.Primitive(e), nil
}

func toWireTypes(ts []*cil.TypeSig) []*wireTypeSig {
	if len(ts) == 0 {
		return nil
	}
	out := make([]*wireTypeSig, len(ts))
	for i, t := range ts {
		out[i] = toWireType(t)
	}
	return out
}

func fromWireTypes(ws []*wireTypeSig) ([]*cil.TypeSig, error) {
	if len(ws) == 0 {
		return nil, nil
	}
	out := make([]*cil.TypeSig, len(ws))
	for i, w := range ws {
		t, err := fromWireType(w)
		if err != nil {
			return nil, fmt.Errorf("type %d: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}

func toWireSig(s *cil.MethodSig) wireSig {
	if s == nil {
		return wireSig{}
	}
	return wireSig{
		HasThis:           s.HasThis,
		GenericParamCount: s.GenericParamCount,
		Return:            toWireType(s.Return),
		Params:            toWireTypes(s.Params),
	}
}

func fromWireSig(w wireSig) (*cil.MethodSig, error) {
	ret := cil.TypeVoid
	if w.Return != nil {
		var err error
		if ret, err = fromWireType(w.Return); err != nil {
			return nil, fmt.Errorf("return: %w", err)
		}
	}
	params, err := fromWireTypes(w.Params)
	if err != nil {
		return nil, fmt.Errorf("parameter: %w", err)
	}
	return &cil.MethodSig{
		HasThis:           w.HasThis,
		GenericParamCount: w.GenericParamCount,
		Return:            ret,
		Params:            params,
	}, nil
}
