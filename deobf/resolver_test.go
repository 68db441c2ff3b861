package deobf

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/cildecode/pkg/cil"
	"github.com/chazu/cildecode/pkg/cil/ciltest"
)

func TestResolve(t *testing.T) {
	s := ciltest.Default()
	ms, err := Resolve(s.Module)
	if err != nil {
		t.Fatal(err)
	}
	checks := []struct {
		role string
		got  any
		want any
	}{
		{"initializer", ms.Initializer, s.Initializer},
		{"decoder", ms.Decoder, s.Decoder},
		{"decompressor", ms.Decompressor, s.Decompressor},
		{"buffer", ms.Buffer, s.Buffer},
		{"InitializeArray", ms.InitializeArray, ciltest.InitializeArray},
		{"get_UTF8", ms.EncodingAccessor, ciltest.GetUTF8},
		{"GetExecutingAssembly", ms.ExecutingAssembly, ciltest.GetExecutingAssembly},
		{"GetCallingAssembly", ms.CallingAssembly, ciltest.GetCallingAssembly},
		{"Equals", ms.Equality, ciltest.ObjectEquals},
		{"GetString", ms.GetString, ciltest.GetString},
		{"Intern", ms.Intern, ciltest.Intern},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s resolved to %v, want %v", c.role, c.got, c.want)
		}
	}
}

func TestResolveSkipsTypeInitializer(t *testing.T) {
	s := ciltest.Default()
	global := s.Module.GlobalType()
	// Move .cctor to the front; it must not be taken for the initializer.
	cctor := global.Method(".cctor")
	methods := []*cil.MethodDef{cctor}
	for _, m := range global.Methods {
		if m != cctor {
			methods = append(methods, m)
		}
	}
	global.Methods = methods

	ms, err := Resolve(s.Module)
	if err != nil {
		t.Fatal(err)
	}
	if ms.Initializer != s.Initializer {
		t.Errorf("initializer = %s", ms.Initializer.FullName())
	}
}

func TestResolveWithoutOptionalMembers(t *testing.T) {
	s := ciltest.Default()
	for _, ins := range s.Decoder.Body.Instructions {
		if ins.Operand == ciltest.Intern {
			ins.ReplaceWithNop()
		}
	}
	ms, err := Resolve(s.Module)
	if err != nil {
		t.Fatal(err)
	}
	if ms.Intern != nil {
		t.Errorf("Intern = %v", ms.Intern)
	}
}

func TestResolveUnsupportedSample(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *ciltest.Sample)
	}{
		{"no decoder", func(s *ciltest.Sample) { s.Decoder.GenericParams = nil }},
		{"no initializer", func(s *ciltest.Sample) { s.Initializer.Sig = cil.NewStaticSig(cil.TypeInt32) }},
		{"no decompressor", func(s *ciltest.Sample) { s.Decompressor.Sig = cil.NewStaticSig(cil.TypeObject, cil.TypeObject) }},
		{"no GetString", func(s *ciltest.Sample) { renameCallee(s.Decoder, ciltest.GetString, "GetChars") }},
		{"no Equals", func(s *ciltest.Sample) { renameCallee(s.Decoder, ciltest.ObjectEquals, "ReferenceEquals") }},
		{"no get_UTF8", func(s *ciltest.Sample) { renameCallee(s.Decoder, ciltest.GetUTF8, "get_ASCII") }},
		{"no global type", func(s *ciltest.Sample) { s.Module.Types = s.Module.Types[1:] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ciltest.Default()
			tt.mutate(s)
			before := listing(s.Main.Body)

			if _, err := New(s.Module, Options{}); !errors.Is(err, ErrUnsupportedSample) {
				t.Fatalf("New = %v, want ErrUnsupportedSample", err)
			}
			if diff := cmp.Diff(before, listing(s.Main.Body)); diff != "" {
				t.Errorf("module changed before failing (-before +after):\n%s", diff)
			}
		})
	}
}

func renameCallee(in *cil.MethodDef, callee *cil.MethodRef, name string) {
	for _, ins := range in.Body.Instructions {
		if ins.Operand == callee {
			ins.Operand = cil.NewMethodRef(callee.Owner, name, callee.Sig)
		}
	}
}
