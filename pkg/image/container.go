// Package image reads and writes module images: the serialized form of a
// cil.Module that the decoder loads, patches and writes back.
//
// A module image starts with the four magic bytes "CILI" and a 32-bit
// little-endian format version, followed by a canonical CBOR document.
package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chazu/cildecode/pkg/cil"
	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("cildecode.image")

// Magic identifies a module image.
var Magic = [4]byte{'C', 'I', 'L', 'I'}

// FormatVersion is incremented when the wire layout changes.
const FormatVersion uint32 = 1

const headerSize = 8

var (
	ErrBadMagic        = errors.New("not a module image")
	ErrVersionMismatch = errors.New("module image version mismatch")
	ErrCorrupt         = errors.New("corrupt module image")
	ErrUnencodable     = errors.New("operand cannot be encoded")
)

// Reader loads a module.
type Reader interface {
	ReadModule(r io.Reader) (*cil.Module, error)
}

// Writer stores a module.
type Writer interface {
	WriteModule(w io.Writer, mod *cil.Module) error
}

// Container is the CBOR module image format. It implements Reader and
// Writer.
type Container struct{}

var (
	_ Reader = Container{}
	_ Writer = Container{}
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ReadModule reads a whole image from r.
func (c Container) ReadModule(r io.Reader) (*cil.Module, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return c.Unmarshal(data)
}

// WriteModule writes mod to w.
func (c Container) WriteModule(w io.Writer, mod *cil.Module) error {
	data, err := c.Marshal(mod)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Marshal serializes mod.
func (Container) Marshal(mod *cil.Module) ([]byte, error) {
	wm, err := newEncoder(mod).module()
	if err != nil {
		return nil, err
	}
	payload, err := cborEncMode.Marshal(wm)
	if err != nil {
		return nil, fmt.Errorf("image: marshal: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(headerSize + len(payload))
	buf.Write(Magic[:])
	binary.Write(&buf, binary.LittleEndian, FormatVersion)
	buf.Write(payload)
	return buf.Bytes(), nil
}

// Unmarshal parses an image. Input that looks like a PE file is probed so
// that the error says what kind of file it is.
func (Container) Unmarshal(data []byte) (*cil.Module, error) {
	if len(data) >= 2 && data[0] == 'M' && data[1] == 'Z' {
		return nil, Probe(data)
	}
	if len(data) < headerSize || !bytes.Equal(data[:4], Magic[:]) {
		return nil, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != FormatVersion {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, FormatVersion, v)
	}
	var wm wireModule
	if err := cbor.Unmarshal(data[headerSize:], &wm); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return decodeModule(&wm)
}

// ReadFile loads the module image at path.
func ReadFile(path string) (*cil.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mod, err := Container{}.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Infof("loaded %s: %d types, %d methods", path, len(mod.Types), len(mod.Methods()))
	return mod, nil
}

// WriteFile stores mod at path.
func WriteFile(path string, mod *cil.Module) error {
	data, err := Container{}.Marshal(mod)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	log.Infof("wrote %s (%d bytes)", path, len(data))
	return nil
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

type defIndex struct{ typ, index int }

type encoder struct {
	mod *cil.Module
	wm  *wireModule

	methodDefs  map[*cil.MethodDef]defIndex
	fieldDefs   map[*cil.FieldDef]defIndex
	methodRefs  map[*cil.MethodRef]int
	fieldRefs   map[*cil.FieldRef]int
	methodSpecs map[*cil.MethodSpec]int
}

func newEncoder(mod *cil.Module) *encoder {
	e := &encoder{
		mod:         mod,
		wm:          &wireModule{Name: mod.Name},
		methodDefs:  make(map[*cil.MethodDef]defIndex),
		fieldDefs:   make(map[*cil.FieldDef]defIndex),
		methodRefs:  make(map[*cil.MethodRef]int),
		fieldRefs:   make(map[*cil.FieldRef]int),
		methodSpecs: make(map[*cil.MethodSpec]int),
	}
	for ti, t := range mod.Types {
		for mi, m := range t.Methods {
			e.methodDefs[m] = defIndex{ti, mi}
		}
		for fi, f := range t.Fields {
			e.fieldDefs[f] = defIndex{ti, fi}
		}
	}
	return e
}

func (e *encoder) module() (*wireModule, error) {
	e.wm.Types = make([]wireType, len(e.mod.Types))
	for ti, t := range e.mod.Types {
		wt := wireType{Namespace: t.Namespace, Name: t.Name}
		for _, f := range t.Fields {
			wt.Fields = append(wt.Fields, wireField{
				Name:         f.Name,
				Attributes:   uint16(f.Attributes),
				Type:         toWireType(f.Type),
				InitialValue: f.InitialValue,
			})
		}
		for _, m := range t.Methods {
			wmd := wireMethod{
				Name:          m.Name,
				Attributes:    uint16(m.Attributes),
				Sig:           toWireSig(m.Sig),
				GenericParams: m.GenericParams,
			}
			if m.Body != nil {
				body, err := e.body(m.Body)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", m.FullName(), err)
				}
				wmd.Body = body
			}
			wt.Methods = append(wt.Methods, wmd)
		}
		e.wm.Types[ti] = wt
	}
	return e.wm, nil
}

func (e *encoder) body(b *cil.MethodBody) (*wireBody, error) {
	wb := &wireBody{
		Instructions: make([]wireInstruction, len(b.Instructions)),
		Locals:       toWireTypes(b.Locals),
		InitLocals:   b.InitLocals,
		MaxStack:     b.MaxStack,
	}
	for i, ins := range b.Instructions {
		op, err := e.operand(ins.Operand)
		if err != nil {
			return nil, fmt.Errorf("instruction %d (%s): %w", i, ins.OpCode, err)
		}
		wb.Instructions[i] = wireInstruction{OpCode: uint16(ins.OpCode), Operand: op}
	}
	return wb, nil
}

func (e *encoder) operand(x any) (*wireOperand, error) {
	switch v := x.(type) {
	case nil:
		return nil, nil
	case int32:
		return &wireOperand{Int: int64(v)}, nil
	case int64:
		return &wireOperand{Int: v}, nil
	case int:
		return &wireOperand{Int: int64(v)}, nil
	case float32:
		return &wireOperand{Float: float64(v)}, nil
	case float64:
		return &wireOperand{Float: v}, nil
	case string:
		return &wireOperand{Str: v}, nil
	case cil.Label:
		return &wireOperand{Int: int64(v)}, nil
	case []cil.Label:
		labels := make([]int, len(v))
		for i, l := range v {
			labels[i] = int(l)
		}
		return &wireOperand{Labels: labels}, nil
	case *cil.TypeSig:
		return &wireOperand{Type: toWireType(v)}, nil
	case cil.MethodDescriptor:
		tok, err := e.methodToken(v)
		if err != nil {
			return nil, err
		}
		return &wireOperand{Token: tok}, nil
	case cil.FieldDescriptor:
		tok, err := e.fieldToken(v)
		if err != nil {
			return nil, err
		}
		return &wireOperand{Token: tok}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnencodable, x)
}

func (e *encoder) methodToken(m cil.MethodDescriptor) (*wireToken, error) {
	switch v := m.(type) {
	case *cil.MethodDef:
		idx, ok := e.methodDefs[v]
		if !ok {
			return nil, fmt.Errorf("%w: %s is defined in another module", ErrUnencodable, v.FullName())
		}
		return &wireToken{Table: tableMethodDef, Type: idx.typ, Index: idx.index}, nil
	case *cil.MethodRef:
		i, ok := e.methodRefs[v]
		if !ok {
			i = len(e.wm.MethodRefs)
			e.methodRefs[v] = i
			e.wm.MethodRefs = append(e.wm.MethodRefs, wireMethodRef{Owner: v.Owner, Name: v.Name, Sig: toWireSig(v.Sig)})
		}
		return &wireToken{Table: tableMethodRef, Index: i}, nil
	case *cil.MethodSpec:
		i, ok := e.methodSpecs[v]
		if !ok {
			inner, err := e.methodToken(v.Method)
			if err != nil {
				return nil, err
			}
			i = len(e.wm.MethodSpecs)
			e.methodSpecs[v] = i
			e.wm.MethodSpecs = append(e.wm.MethodSpecs, wireMethodSpec{Method: *inner, Args: toWireTypes(v.Args)})
		}
		return &wireToken{Table: tableMethodSpec, Index: i}, nil
	}
	return nil, fmt.Errorf("%w: method %T", ErrUnencodable, m)
}

func (e *encoder) fieldToken(f cil.FieldDescriptor) (*wireToken, error) {
	switch v := f.(type) {
	case *cil.FieldDef:
		idx, ok := e.fieldDefs[v]
		if !ok {
			return nil, fmt.Errorf("%w: %s is defined in another module", ErrUnencodable, v.FullName())
		}
		return &wireToken{Table: tableFieldDef, Type: idx.typ, Index: idx.index}, nil
	case *cil.FieldRef:
		i, ok := e.fieldRefs[v]
		if !ok {
			i = len(e.wm.FieldRefs)
			e.fieldRefs[v] = i
			e.wm.FieldRefs = append(e.wm.FieldRefs, wireFieldRef{Owner: v.Owner, Name: v.Name, Type: toWireType(v.Type)})
		}
		return &wireToken{Table: tableFieldRef, Index: i}, nil
	}
	return nil, fmt.Errorf("%w: field %T", ErrUnencodable, f)
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

type decoder struct {
	mod         *cil.Module
	methodRefs  []*cil.MethodRef
	fieldRefs   []*cil.FieldRef
	methodSpecs []*cil.MethodSpec
}

func decodeModule(wm *wireModule) (*cil.Module, error) {
	d := &decoder{mod: &cil.Module{Name: wm.Name}}

	// Declarations first so that tokens can refer forward.
	for _, wt := range wm.Types {
		t := d.mod.AddType(wt.Namespace, wt.Name)
		for _, wf := range wt.Fields {
			typ, err := fromWireType(wf.Type)
			if err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", t.FullName(), wf.Name, err)
			}
			f := t.AddField(wf.Name, cil.FieldAttributes(wf.Attributes), typ)
			f.InitialValue = wf.InitialValue
		}
		for _, wmd := range wt.Methods {
			sig, err := fromWireSig(wmd.Sig)
			if err != nil {
				return nil, fmt.Errorf("method %s.%s: %w", t.FullName(), wmd.Name, err)
			}
			m := t.AddMethod(wmd.Name, cil.MethodAttributes(wmd.Attributes), sig)
			m.GenericParams = wmd.GenericParams
		}
	}
	for i, r := range wm.MethodRefs {
		sig, err := fromWireSig(r.Sig)
		if err != nil {
			return nil, fmt.Errorf("method ref %d: %w", i, err)
		}
		d.methodRefs = append(d.methodRefs, cil.NewMethodRef(r.Owner, r.Name, sig))
	}
	for i, r := range wm.FieldRefs {
		typ, err := fromWireType(r.Type)
		if err != nil {
			return nil, fmt.Errorf("field ref %d: %w", i, err)
		}
		d.fieldRefs = append(d.fieldRefs, cil.NewFieldRef(r.Owner, r.Name, typ))
	}
	// Specs only refer to definitions and references, never to other specs.
	d.methodSpecs = make([]*cil.MethodSpec, len(wm.MethodSpecs))
	for i, s := range wm.MethodSpecs {
		if s.Method.Table == tableMethodSpec {
			return nil, fmt.Errorf("%w: method spec %d instantiates a spec", ErrCorrupt, i)
		}
		m, err := d.method(&s.Method)
		if err != nil {
			return nil, fmt.Errorf("method spec %d: %w", i, err)
		}
		args, err := fromWireTypes(s.Args)
		if err != nil {
			return nil, fmt.Errorf("method spec %d: %w", i, err)
		}
		d.methodSpecs[i] = cil.NewMethodSpec(m, args...)
	}

	for ti, wt := range wm.Types {
		for mi, wmd := range wt.Methods {
			if wmd.Body == nil {
				continue
			}
			m := d.mod.Types[ti].Methods[mi]
			body, err := d.body(wmd.Body)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.FullName(), err)
			}
			m.Body = body
		}
	}
	return d.mod, nil
}

func (d *decoder) body(wb *wireBody) (*cil.MethodBody, error) {
	locals, err := fromWireTypes(wb.Locals)
	if err != nil {
		return nil, fmt.Errorf("local: %w", err)
	}
	b := &cil.MethodBody{
		Instructions: make([]*cil.Instruction, len(wb.Instructions)),
		Locals:       locals,
		InitLocals:   wb.InitLocals,
		MaxStack:     wb.MaxStack,
	}
	for i, wi := range wb.Instructions {
		op := cil.Code(wi.OpCode)
		if !op.Known() {
			return nil, fmt.Errorf("%w: instruction %d: unknown opcode 0x%04X", ErrCorrupt, i, wi.OpCode)
		}
		operand, err := d.operand(op, wi.Operand)
		if err != nil {
			return nil, fmt.Errorf("instruction %d (%s): %w", i, op, err)
		}
		b.Instructions[i] = cil.NewInstruction(op, operand)
	}
	b.ComputeOffsets()
	return b, nil
}

// operand rebuilds an operand of the Go type the opcode's operand type
// calls for.
func (d *decoder) operand(op cil.Code, w *wireOperand) (any, error) {
	kind := op.OperandType()
	if kind == cil.InlineNone {
		return nil, nil
	}
	if w == nil {
		return nil, fmt.Errorf("%w: missing operand", ErrCorrupt)
	}
	switch kind {
	case cil.ShortInlineI, cil.InlineI:
		return int32(w.Int), nil
	case cil.InlineI8:
		return w.Int, nil
	case cil.ShortInlineR:
		return float32(w.Float), nil
	case cil.InlineR:
		return w.Float, nil
	case cil.ShortInlineVar, cil.InlineVar:
		return int(w.Int), nil
	case cil.ShortInlineBrTarget, cil.InlineBrTarget:
		return cil.Label(w.Int), nil
	case cil.InlineSwitch:
		labels := make([]cil.Label, len(w.Labels))
		for i, l := range w.Labels {
			labels[i] = cil.Label(l)
		}
		return labels, nil
	case cil.InlineString:
		return w.Str, nil
	case cil.InlineType:
		return fromWireType(w.Type)
	case cil.InlineMethod:
		return d.method(w.Token)
	case cil.InlineField:
		return d.field(w.Token)
	case cil.InlineTok:
		if w.Type != nil {
			return fromWireType(w.Type)
		}
		return d.member(w.Token)
	}
	return nil, fmt.Errorf("%w: operand type %d", ErrUnencodable, kind)
}

func (d *decoder) member(tok *wireToken) (any, error) {
	if tok == nil {
		return nil, fmt.Errorf("%w: missing token", ErrCorrupt)
	}
	switch tok.Table {
	case tableFieldDef, tableFieldRef:
		return d.field(tok)
	}
	return d.method(tok)
}

func (d *decoder) method(tok *wireToken) (cil.MethodDescriptor, error) {
	if tok == nil {
		return nil, fmt.Errorf("%w: missing method token", ErrCorrupt)
	}
	switch tok.Table {
	case tableMethodDef:
		if tok.Type < 0 || tok.Type >= len(d.mod.Types) ||
			tok.Index < 0 || tok.Index >= len(d.mod.Types[tok.Type].Methods) {
			break
		}
		return d.mod.Types[tok.Type].Methods[tok.Index], nil
	case tableMethodRef:
		if tok.Index >= 0 && tok.Index < len(d.methodRefs) {
			return d.methodRefs[tok.Index], nil
		}
	case tableMethodSpec:
		if tok.Index >= 0 && tok.Index < len(d.methodSpecs) {
			return d.methodSpecs[tok.Index], nil
		}
	}
	return nil, fmt.Errorf("%w: bad method token %+v", ErrCorrupt, *tok)
}

func (d *decoder) field(tok *wireToken) (cil.FieldDescriptor, error) {
	if tok == nil {
		return nil, fmt.Errorf("%w: missing field token", ErrCorrupt)
	}
	switch tok.Table {
	case tableFieldDef:
		if tok.Type < 0 || tok.Type >= len(d.mod.Types) ||
			tok.Index < 0 || tok.Index >= len(d.mod.Types[tok.Type].Fields) {
			break
		}
		return d.mod.Types[tok.Type].Fields[tok.Index], nil
	case tableFieldRef:
		if tok.Index >= 0 && tok.Index < len(d.fieldRefs) {
			return d.fieldRefs[tok.Index], nil
		}
	}
	return nil, fmt.Errorf("%w: bad field token %+v", ErrCorrupt, *tok)
}
