package cil

import (
	"fmt"
	"strings"
)

// GlobalTypeName is the name of the type holding module-level members.
const GlobalTypeName = "<Module>"

// Module is an in-memory CIL module: a set of type definitions whose
// method bodies reference members by descriptor.
type Module struct {
	Name  string
	Types []*TypeDef
}

// NewModule creates a module with an empty global type.
func NewModule(name string) *Module {
	m := &Module{Name: name}
	m.AddType("", GlobalTypeName)
	return m
}

// AddType appends a new type definition.
func (m *Module) AddType(namespace, name string) *TypeDef {
	t := &TypeDef{Namespace: namespace, Name: name, Module: m}
	m.Types = append(m.Types, t)
	return t
}

// GlobalType returns the <Module> type, or nil if the module has none.
func (m *Module) GlobalType() *TypeDef {
	for _, t := range m.Types {
		if t.Namespace == "" && t.Name == GlobalTypeName {
			return t
		}
	}
	return nil
}

// LookupType finds a type by full name.
func (m *Module) LookupType(fullName string) *TypeDef {
	for _, t := range m.Types {
		if t.FullName() == fullName {
			return t
		}
	}
	return nil
}

// Methods returns every method definition in declaration order.
func (m *Module) Methods() []*MethodDef {
	var out []*MethodDef
	for _, t := range m.Types {
		out = append(out, t.Methods...)
	}
	return out
}

// TypeDef is a type defined in the module.
type TypeDef struct {
	Namespace string
	Name      string
	Methods   []*MethodDef
	Fields    []*FieldDef
	Module    *Module
}

// FullName returns "Namespace.Name", or just Name without a namespace.
func (t *TypeDef) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// AddMethod appends a method definition owned by t.
func (t *TypeDef) AddMethod(name string, attrs MethodAttributes, sig *MethodSig) *MethodDef {
	md := &MethodDef{Name: name, Attributes: attrs, Sig: sig, DeclaringType: t}
	t.Methods = append(t.Methods, md)
	return md
}

// AddField appends a field definition owned by t.
func (t *TypeDef) AddField(name string, attrs FieldAttributes, typ *TypeSig) *FieldDef {
	fd := &FieldDef{Name: name, Attributes: attrs, Type: typ, DeclaringType: t}
	t.Fields = append(t.Fields, fd)
	return fd
}

// Method returns the first method with the given name.
func (t *TypeDef) Method(name string) *MethodDef {
	for _, md := range t.Methods {
		if md.Name == name {
			return md
		}
	}
	return nil
}

// Field returns the field with the given name.
func (t *TypeDef) Field(name string) *FieldDef {
	for _, fd := range t.Fields {
		if fd.Name == name {
			return fd
		}
	}
	return nil
}

// MethodAttributes is a subset of the ECMA-335 method flags.
type MethodAttributes uint16

const (
	MethodStatic        MethodAttributes = 0x0010
	MethodVirtual       MethodAttributes = 0x0040
	MethodSpecialName   MethodAttributes = 0x0800
	MethodRTSpecialName MethodAttributes = 0x1000
)

// FieldAttributes is a subset of the ECMA-335 field flags.
type FieldAttributes uint16

const (
	FieldStatic FieldAttributes = 0x0010
	FieldHasRVA FieldAttributes = 0x0100
)

// MethodDescriptor is anything that can be the operand of a call:
// a definition, an external reference or a generic instantiation.
type MethodDescriptor interface {
	MemberName() string
	OwnerName() string
	MethodSig() *MethodSig
	FullName() string
	// Resolve returns the definition in this module, or nil for external
	// methods.
	Resolve() *MethodDef
}

// FieldDescriptor is anything that can be the operand of a field access.
type FieldDescriptor interface {
	MemberName() string
	OwnerName() string
	FieldType() *TypeSig
	FullName() string
	ResolveField() *FieldDef
}

// MethodDef is a method defined in the module.
type MethodDef struct {
	Name          string
	Attributes    MethodAttributes
	Sig           *MethodSig
	GenericParams []string
	Body          *MethodBody
	DeclaringType *TypeDef
}

func (m *MethodDef) MemberName() string    { return m.Name }
func (m *MethodDef) MethodSig() *MethodSig { return m.Sig }
func (m *MethodDef) Resolve() *MethodDef   { return m }

func (m *MethodDef) OwnerName() string {
	if m.DeclaringType == nil {
		return ""
	}
	return m.DeclaringType.FullName()
}

// FullName returns "Ret Owner::Name(Params)" with a generic arity suffix
// for generic definitions.
func (m *MethodDef) FullName() string {
	name := m.Name
	if n := len(m.GenericParams); n > 0 {
		name = fmt.Sprintf("%s`%d", name, n)
	}
	return methodFullName(m.Sig, m.OwnerName(), name)
}

func (m *MethodDef) String() string { return m.FullName() }

// IsStatic reports whether the method has no implicit this.
func (m *MethodDef) IsStatic() bool { return m.Attributes&MethodStatic != 0 }

// IsConstructor reports whether the method is an instance or type
// initializer.
func (m *MethodDef) IsConstructor() bool {
	return m.Name == ".ctor" || m.Name == ".cctor"
}

// HasBody reports whether the method carries CIL instructions.
func (m *MethodDef) HasBody() bool {
	return m.Body != nil && len(m.Body.Instructions) > 0
}

// FieldDef is a field defined in the module.
type FieldDef struct {
	Name          string
	Attributes    FieldAttributes
	Type          *TypeSig
	InitialValue  []byte // RVA-backed initial data, if any
	DeclaringType *TypeDef
}

func (f *FieldDef) MemberName() string      { return f.Name }
func (f *FieldDef) FieldType() *TypeSig     { return f.Type }
func (f *FieldDef) ResolveField() *FieldDef { return f }

func (f *FieldDef) OwnerName() string {
	if f.DeclaringType == nil {
		return ""
	}
	return f.DeclaringType.FullName()
}

func (f *FieldDef) FullName() string {
	return fieldFullName(f.Type, f.OwnerName(), f.Name)
}

func (f *FieldDef) String() string { return f.FullName() }

// IsStatic reports whether the field is static.
func (f *FieldDef) IsStatic() bool { return f.Attributes&FieldStatic != 0 }

// MethodRef references a method defined outside the module.
type MethodRef struct {
	Owner string
	Name  string
	Sig   *MethodSig
}

// NewMethodRef creates an external method reference.
func NewMethodRef(owner, name string, sig *MethodSig) *MethodRef {
	return &MethodRef{Owner: owner, Name: name, Sig: sig}
}

func (r *MethodRef) MemberName() string    { return r.Name }
func (r *MethodRef) OwnerName() string     { return r.Owner }
func (r *MethodRef) MethodSig() *MethodSig { return r.Sig }
func (r *MethodRef) Resolve() *MethodDef   { return nil }
func (r *MethodRef) FullName() string      { return methodFullName(r.Sig, r.Owner, r.Name) }
func (r *MethodRef) String() string        { return r.FullName() }

// FieldRef references a field defined outside the module.
type FieldRef struct {
	Owner string
	Name  string
	Type  *TypeSig
}

// NewFieldRef creates an external field reference.
func NewFieldRef(owner, name string, typ *TypeSig) *FieldRef {
	return &FieldRef{Owner: owner, Name: name, Type: typ}
}

func (r *FieldRef) MemberName() string      { return r.Name }
func (r *FieldRef) OwnerName() string       { return r.Owner }
func (r *FieldRef) FieldType() *TypeSig     { return r.Type }
func (r *FieldRef) ResolveField() *FieldDef { return nil }
func (r *FieldRef) FullName() string        { return fieldFullName(r.Type, r.Owner, r.Name) }
func (r *FieldRef) String() string          { return r.FullName() }

// MethodSpec is a generic method instantiated with concrete type arguments.
type MethodSpec struct {
	Method MethodDescriptor
	Args   []*TypeSig
}

// NewMethodSpec instantiates method with args.
func NewMethodSpec(method MethodDescriptor, args ...*TypeSig) *MethodSpec {
	return &MethodSpec{Method: method, Args: args}
}

func (s *MethodSpec) MemberName() string  { return s.Method.MemberName() }
func (s *MethodSpec) OwnerName() string   { return s.Method.OwnerName() }
func (s *MethodSpec) Resolve() *MethodDef { return s.Method.Resolve() }

// MethodSig returns the signature with method generic parameters
// substituted by the instantiation arguments.
func (s *MethodSpec) MethodSig() *MethodSig {
	sig := s.Method.MethodSig()
	out := &MethodSig{
		HasThis: sig.HasThis,
		Return:  sig.Return.Instantiate(nil, s.Args),
		Params:  make([]*TypeSig, len(sig.Params)),
	}
	for i, p := range sig.Params {
		out.Params[i] = p.Instantiate(nil, s.Args)
	}
	return out
}

// FullName renders the instantiation, e.g.
// "System.String <Module>::Get<System.String>(System.UInt32)".
func (s *MethodSpec) FullName() string {
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = a.FullName()
	}
	name := s.Method.MemberName() + "<" + strings.Join(args, ",") + ">"
	return methodFullName(s.MethodSig(), s.Method.OwnerName(), name)
}

func (s *MethodSpec) String() string { return s.FullName() }

// MethodKey returns the canonical identity of a method: the full name of
// the uninstantiated method. Instantiations of one generic method share a
// key.
func MethodKey(m MethodDescriptor) string {
	if spec, ok := m.(*MethodSpec); ok {
		return MethodKey(spec.Method)
	}
	return m.FullName()
}

// GenericArgs returns the instantiation arguments of a MethodSpec, or nil.
func GenericArgs(m MethodDescriptor) []*TypeSig {
	if spec, ok := m.(*MethodSpec); ok {
		return spec.Args
	}
	return nil
}

func methodFullName(sig *MethodSig, owner, name string) string {
	var sb strings.Builder
	if sig != nil && sig.Return != nil {
		sb.WriteString(sig.Return.FullName())
	} else {
		sb.WriteString(TypeVoid.FullName())
	}
	sb.WriteByte(' ')
	if owner != "" {
		sb.WriteString(owner)
		sb.WriteString("::")
	}
	sb.WriteString(name)
	if sig != nil {
		sb.WriteString(sig.ParamList())
	} else {
		sb.WriteString("()")
	}
	return sb.String()
}

func fieldFullName(typ *TypeSig, owner, name string) string {
	if owner == "" {
		return typ.FullName() + " " + name
	}
	return typ.FullName() + " " + owner + "::" + name
}
