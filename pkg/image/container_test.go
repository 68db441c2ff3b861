package image

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/cildecode/deobf"
	"github.com/chazu/cildecode/pkg/cil"
	"github.com/chazu/cildecode/pkg/cil/ciltest"
)

func disassembly(mod *cil.Module) map[string]string {
	out := make(map[string]string)
	for _, m := range mod.Methods() {
		out[m.FullName()] = m.Disassemble()
	}
	return out
}

func roundTrip(t *testing.T, mod *cil.Module) *cil.Module {
	t.Helper()
	var buf bytes.Buffer
	if err := (Container{}).WriteModule(&buf, mod); err != nil {
		t.Fatalf("WriteModule: %v", err)
	}
	got, err := Container{}.ReadModule(&buf)
	if err != nil {
		t.Fatalf("ReadModule: %v", err)
	}
	return got
}

func TestRoundTripPreservesModule(t *testing.T) {
	s := ciltest.Default()
	got := roundTrip(t, s.Module)

	if diff := cmp.Diff(disassembly(s.Module), disassembly(got)); diff != "" {
		t.Errorf("disassembly mismatch (-want +got):\n%s", diff)
	}
	payload := got.GlobalType().Field("payload")
	if payload == nil || !bytes.Equal(payload.InitialValue, s.Payload.InitialValue) {
		t.Error("RVA data lost")
	}
	dec := got.GlobalType().Method("Get")
	if dec == nil || len(dec.GenericParams) != 1 {
		t.Fatalf("decoder lost its generic parameter: %v", dec)
	}
}

func TestRoundTripPreservesMemberIdentity(t *testing.T) {
	got := roundTrip(t, ciltest.Default().Module)
	global := got.GlobalType()
	initializer := global.Method("Initialize")
	decompress := global.Method("Decompress")
	buffer := global.Field("b")

	var sawCall, sawStore bool
	for _, ins := range initializer.Body.Instructions {
		switch ins.Operand {
		case decompress:
			sawCall = true
		case buffer:
			sawStore = true
		}
	}
	if !sawCall || !sawStore {
		t.Errorf("initializer operands not bound to definitions: call=%v store=%v", sawCall, sawStore)
	}
}

func TestDecodedModuleStillDecodes(t *testing.T) {
	mod := roundTrip(t, ciltest.Default().Module)
	report, err := deobf.Run(mod, deobf.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Patched != 2 {
		t.Fatalf("patched %d sites", report.Patched)
	}

	patched := roundTrip(t, mod)
	entry := patched.LookupType("App.Program").Method("Main")
	want := []cil.Code{cil.OpNop, cil.OpNop, cil.OpLdstr}
	for i, op := range want {
		if got := entry.Body.Instructions[i].OpCode; got != op {
			t.Errorf("instruction %d = %s, want %s", i, got, op)
		}
	}
	if s, _ := entry.Body.Instructions[2].Operand.(string); s != "Hello" {
		t.Errorf("ldstr operand = %v", entry.Body.Instructions[2].Operand)
	}
}

func TestUnmarshalErrors(t *testing.T) {
	good, err := Container{}.Marshal(ciltest.Default().Module)
	if err != nil {
		t.Fatal(err)
	}
	badVersion := append([]byte(nil), good...)
	badVersion[4] = 99
	truncated := good[:len(good)/2]

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrBadMagic},
		{"wrong magic", []byte("ELF\x7f\x00\x00\x00\x00"), ErrBadMagic},
		{"version", badVersion, ErrVersionMismatch},
		{"truncated", truncated, ErrCorrupt},
		{"not really PE", append([]byte("MZ"), make([]byte, 30)...), ErrBadMagic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := (Container{}).Unmarshal(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUnmarshalRejectsMissingTypes(t *testing.T) {
	tests := []struct {
		name  string
		build func(g *cil.TypeDef)
	}{
		{"field", func(g *cil.TypeDef) {
			g.AddField("f", cil.FieldStatic, nil)
		}},
		{"array element", func(g *cil.TypeDef) {
			g.AddField("a", cil.FieldStatic, cil.SZArrayOf(nil))
		}},
		{"parameter", func(g *cil.TypeDef) {
			g.AddMethod("M", cil.MethodStatic, cil.NewStaticSig(cil.TypeVoid, cil.TypeInt32, nil))
		}},
		{"local", func(g *cil.TypeDef) {
			m := g.AddMethod("L", cil.MethodStatic, cil.NewStaticSig(cil.TypeVoid))
			m.Body = &cil.MethodBody{
				Instructions: []*cil.Instruction{cil.NewInstruction(cil.OpRet, nil)},
				Locals:       []*cil.TypeSig{nil},
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod := cil.NewModule("m")
			tt.build(mod.GlobalType())
			data, err := Container{}.Marshal(mod)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if _, err := (Container{}).Unmarshal(data); !errors.Is(err, ErrCorrupt) {
				t.Errorf("err = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestMarshalRejectsForeignOperands(t *testing.T) {
	mod := cil.NewModule("m")
	other := cil.NewModule("other")
	foreign := other.GlobalType().AddMethod("F", cil.MethodStatic, cil.NewStaticSig(cil.TypeVoid))

	m := mod.GlobalType().AddMethod("G", cil.MethodStatic, cil.NewStaticSig(cil.TypeVoid))
	m.Body = cil.NewBuilder().EmitOperand(cil.OpCall, foreign).Emit(cil.OpRet).MustBuild()
	if _, err := (Container{}).Marshal(mod); !errors.Is(err, ErrUnencodable) {
		t.Errorf("foreign method: err = %v", err)
	}

	m.Body = cil.NewBuilder().EmitOperand(cil.OpLdstr, struct{}{}).Emit(cil.OpRet).MustBuild()
	if _, err := (Container{}).Marshal(mod); !errors.Is(err, ErrUnencodable) {
		t.Errorf("struct operand: err = %v", err)
	}
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.cili")
	if err := WriteFile(path, ciltest.Default().Module); err != nil {
		t.Fatal(err)
	}
	mod, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if mod.Name != "Sample.exe" {
		t.Errorf("Name = %q", mod.Name)
	}

	bogus := filepath.Join(dir, "bogus.cili")
	if err := os.WriteFile(bogus, []byte("nonsense"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(bogus); !errors.Is(err, ErrBadMagic) {
		t.Errorf("ReadFile(bogus) = %v", err)
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		input   string
		inPlace bool
		suffix  string
		want    string
	}{
		{"app.cili", false, "", "app-decoded.cili"},
		{"dir/app.exe.cili", false, "", "dir/app.exe-decoded.cili"},
		{"dir/app", false, "", "dir/app-decoded"},
		{"dir/.module", false, "", "dir/.module-decoded"},
		{"app.cili", false, ".clean", "app.clean.cili"},
		{"app.cili", true, "", "app.cili"},
	}
	for _, tt := range tests {
		if got := OutputPath(tt.input, tt.inPlace, tt.suffix); got != tt.want {
			t.Errorf("OutputPath(%q, %v, %q) = %q, want %q", tt.input, tt.inPlace, tt.suffix, got, tt.want)
		}
	}
}
