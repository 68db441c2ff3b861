package deobf

import (
	"errors"
	"fmt"

	"github.com/chazu/cildecode/pkg/cil"
)

// ErrUnsupportedSample means the module does not have the shape of a
// module processed by the constants protector.
var ErrUnsupportedSample = errors.New("unsupported or invalid sample")

// Members are the protector's runtime pieces located in a module.
type Members struct {
	Initializer  *cil.MethodDef
	Decoder      *cil.MethodDef
	Decompressor *cil.MethodDef
	Buffer       *cil.FieldDef // nil when no byte[] static exists

	// Call sites inside the initializer and decoder bodies.
	InitializeArray   cil.MethodDescriptor // may be nil
	EncodingAccessor  cil.MethodDescriptor
	ExecutingAssembly cil.MethodDescriptor
	CallingAssembly   cil.MethodDescriptor
	Equality          cil.MethodDescriptor
	GetString         cil.MethodDescriptor
	Intern            cil.MethodDescriptor // may be nil
}

// Callee names looked up in the decoder and initializer bodies.
const (
	nameEncodingAccessor  = "get_UTF8"
	nameExecutingAssembly = "GetExecutingAssembly"
	nameCallingAssembly   = "GetCallingAssembly"
	nameEquality          = "Equals"
	nameGetString         = "GetString"
	nameIntern            = "Intern"
	nameInitializeArray   = "InitializeArray"
)

// ---------------------------------------------------------------------------
// Structural predicates
// ---------------------------------------------------------------------------

// methodRole matches one protector method by shape. Each role takes the
// first method of the global type, in declaration order, that satisfies
// its predicate.
type methodRole struct {
	name   string
	match  func(m *cil.MethodDef) bool
	assign func(ms *Members, m *cil.MethodDef)
}

var methodRoles = []methodRole{
	{
		// The initializer fills the static buffer: a parameterless static
		// void method that is not the type initializer itself.
		name: "initializer",
		match: func(m *cil.MethodDef) bool {
			return m.IsStatic() && !m.IsConstructor() && m.HasBody() &&
				len(m.Sig.Params) == 0 && !m.Sig.ReturnsValue()
		},
		assign: func(ms *Members, m *cil.MethodDef) { ms.Initializer = m },
	},
	{
		// The decoder is the only generic method the protector injects.
		name: "decoder",
		match: func(m *cil.MethodDef) bool {
			return len(m.GenericParams) > 0 && m.HasBody()
		},
		assign: func(ms *Members, m *cil.MethodDef) { ms.Decoder = m },
	},
	{
		// The decompressor returns the unpacked table as a byte array.
		name: "decompressor",
		match: func(m *cil.MethodDef) bool {
			return m.Sig.Return.IsArrayOf(cil.ElemU1)
		},
		assign: func(ms *Members, m *cil.MethodDef) { ms.Decompressor = m },
	},
}

// isBuffer matches the static byte[] field the decoder reads from.
func isBuffer(f *cil.FieldDef) bool {
	return f.IsStatic() && f.Type.IsArrayOf(cil.ElemU1)
}

// calleeRole is a call site located by callee name inside a method body.
type calleeRole struct {
	name     string
	required bool
	assign   func(ms *Members, m cil.MethodDescriptor)
}

var decoderCallees = []calleeRole{
	{nameEncodingAccessor, true, func(ms *Members, m cil.MethodDescriptor) { ms.EncodingAccessor = m }},
	{nameExecutingAssembly, true, func(ms *Members, m cil.MethodDescriptor) { ms.ExecutingAssembly = m }},
	{nameCallingAssembly, true, func(ms *Members, m cil.MethodDescriptor) { ms.CallingAssembly = m }},
	{nameEquality, true, func(ms *Members, m cil.MethodDescriptor) { ms.Equality = m }},
	{nameGetString, true, func(ms *Members, m cil.MethodDescriptor) { ms.GetString = m }},
	{nameIntern, false, func(ms *Members, m cil.MethodDescriptor) { ms.Intern = m }},
}

var initializerCallees = []calleeRole{
	{nameInitializeArray, false, func(ms *Members, m cil.MethodDescriptor) { ms.InitializeArray = m }},
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// Resolve locates the protector's members in mod. It does not modify the
// module. A missing required member yields ErrUnsupportedSample naming
// the missing role.
func Resolve(mod *cil.Module) (*Members, error) {
	global := mod.GlobalType()
	if global == nil {
		return nil, fmt.Errorf("%w: module has no global type", ErrUnsupportedSample)
	}

	ms := &Members{}
	for _, role := range methodRoles {
		var found *cil.MethodDef
		for _, m := range global.Methods {
			if role.match(m) {
				found = m
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("%w: no %s method", ErrUnsupportedSample, role.name)
		}
		role.assign(ms, found)
		log.Debugf("resolved %s: %s", role.name, found.FullName())
	}

	for _, f := range global.Fields {
		if isBuffer(f) {
			ms.Buffer = f
			log.Debugf("resolved buffer: %s", f.FullName())
			break
		}
	}

	if err := resolveCallees(ms, ms.Decoder, decoderCallees); err != nil {
		return nil, err
	}
	if err := resolveCallees(ms, ms.Initializer, initializerCallees); err != nil {
		return nil, err
	}
	return ms, nil
}

func resolveCallees(ms *Members, in *cil.MethodDef, roles []calleeRole) error {
	for _, role := range roles {
		m, ok := findCallee(in.Body, role.name)
		if !ok {
			if role.required {
				return fmt.Errorf("%w: %s does not call %s", ErrUnsupportedSample, in.Name, role.name)
			}
			continue
		}
		role.assign(ms, m)
	}
	return nil
}

// findCallee returns the first external method operand named name.
func findCallee(body *cil.MethodBody, name string) (cil.MethodDescriptor, bool) {
	for _, ins := range body.Instructions {
		m, ok := ins.Operand.(cil.MethodDescriptor)
		if !ok || m.Resolve() != nil {
			continue
		}
		if m.MemberName() == name {
			return m, true
		}
	}
	return nil, false
}
