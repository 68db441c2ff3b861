package deobf

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/cildecode/pkg/cil"
	"github.com/chazu/cildecode/pkg/cil/ciltest"
	"github.com/chazu/cildecode/pkg/codec"
	"github.com/chazu/cildecode/pkg/image"
	"github.com/chazu/cildecode/vm"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type line struct {
	Op      string
	Operand string
}

func listing(body *cil.MethodBody) []line {
	out := make([]line, len(body.Instructions))
	for i, ins := range body.Instructions {
		out[i] = line{Op: ins.OpCode.String(), Operand: cil.FormatOperand(ins.Operand)}
	}
	return out
}

func moduleListing(mod *cil.Module) map[string][]line {
	out := make(map[string][]line)
	for _, m := range mod.Methods() {
		if m.HasBody() {
			out[m.FullName()] = listing(m.Body)
		}
	}
	return out
}

func newInitialized(t *testing.T, s *ciltest.Sample) *Deobfuscator {
	t.Helper()
	d, err := New(s.Module, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return d
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

func TestScenario(t *testing.T) {
	s := ciltest.Default()
	report, err := Run(s.Module, Options{})
	if err != nil {
		t.Fatal(err)
	}

	writeLine := cil.FormatOperand(ciltest.WriteLine)
	want := []line{
		{"nop", ""}, {"nop", ""}, {"ldstr", `"Hello"`}, {"call", writeLine},
		{"nop", ""}, {"nop", ""}, {"ldstr", `"World"`}, {"call", writeLine},
		{"ret", ""},
	}
	if diff := cmp.Diff(want, listing(s.Main.Body)); diff != "" {
		t.Errorf("Main body mismatch (-want +got):\n%s", diff)
	}
	if report.Matches != 2 || report.Patched != 2 || report.Skipped != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestPatchedSiteKeepsIndices(t *testing.T) {
	s := ciltest.Default()
	before := len(s.Main.Body.Instructions)
	if _, err := Run(s.Module, Options{}); err != nil {
		t.Fatal(err)
	}
	if got := len(s.Main.Body.Instructions); got != before {
		t.Errorf("instruction count changed from %d to %d", before, got)
	}
	if err := s.Main.Body.Validate(s.Main.Sig); err != nil {
		t.Errorf("patched body invalid: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	s := ciltest.Default()
	d := newInitialized(t, s)
	for key, want := range s.Expected {
		got, err := d.DecodeKey(key)
		if err != nil {
			t.Errorf("DecodeKey(%d): %v", key, err)
			continue
		}
		if got != want {
			t.Errorf("DecodeKey(%d) = %q, want %q", key, got, want)
		}
	}
	if text, err := d.Decode(s.Get, 42); err != nil || text != "Hello" {
		t.Errorf("Decode(Get<string>, 42) = %q, %v", text, err)
	}
}

func TestDecodeOutsideTableFails(t *testing.T) {
	d := newInitialized(t, ciltest.Default())
	if _, err := d.DecodeKey(1000); !errors.Is(err, vm.ErrIndexOutOfRange) {
		t.Errorf("DecodeKey(1000) = %v, want ErrIndexOutOfRange", err)
	}
}

func TestIdempotence(t *testing.T) {
	s := ciltest.Default()
	if _, err := Run(s.Module, Options{}); err != nil {
		t.Fatal(err)
	}
	first := moduleListing(s.Module)
	firstImage, err := image.Container{}.Marshal(s.Module)
	if err != nil {
		t.Fatal(err)
	}

	report, err := Run(s.Module, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Matches != 0 {
		t.Errorf("second pass matched %d sites", report.Matches)
	}
	if diff := cmp.Diff(first, moduleListing(s.Module)); diff != "" {
		t.Errorf("second pass changed the module (-first +second):\n%s", diff)
	}
	secondImage, err := image.Container{}.Marshal(s.Module)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(firstImage, secondImage) {
		t.Errorf("second pass changed the serialized module: %d bytes, then %d", len(firstImage), len(secondImage))
	}
}

func TestPatternExclusivity(t *testing.T) {
	s := ciltest.Default()
	other := cil.NewMethodRef("Lib.Strings", "Get", cil.NewStaticSig(cil.MethodVar(0), cil.TypeUInt32))
	otherSpec := cil.NewMethodSpec(other, cil.TypeString)

	near := s.Module.LookupType("App.Program").AddMethod("NearMisses", cil.MethodStatic, cil.NewStaticSig(cil.TypeVoid))
	near.Body = cil.NewBuilder().
		Mark("top").
		// no branch between the constant and the call
		EmitI4(42).Emit(cil.OpNop).EmitOperand(cil.OpCall, s.Get).Emit(cil.OpPop).
		// conditional branch
		EmitI4(42).EmitI4(0).EmitBranch(cil.OpBrtrue, "a").Mark("a").EmitOperand(cil.OpCall, s.Get).Emit(cil.OpPop).
		// generic call to something other than the decoder
		EmitI4(42).EmitBranch(cil.OpBr, "b").Mark("b").EmitOperand(cil.OpCall, otherSpec).Emit(cil.OpPop).
		// decoder called without an instantiation
		EmitI4(42).EmitBranch(cil.OpBr, "c").Mark("c").EmitOperand(cil.OpCall, s.Decoder).Emit(cil.OpPop).
		// callvirt instead of call
		EmitI4(42).EmitBranch(cil.OpBr, "d").Mark("d").EmitOperand(cil.OpCallvirt, s.Get).Emit(cil.OpPop).
		// not a constant load
		EmitOperand(cil.OpLdstr, "42").EmitBranch(cil.OpBr, "e").Mark("e").EmitOperand(cil.OpCall, s.Get).Emit(cil.OpPop).
		// a window that runs past the end of the body
		EmitI4(42).EmitBranch(cil.OpBr, "top").
		MustBuild()
	before := listing(near.Body)

	report, err := Run(s.Module, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, listing(near.Body)); diff != "" {
		t.Errorf("near misses were rewritten (-before +after):\n%s", diff)
	}
	for _, site := range report.Sites {
		if site.Method == near.FullName() {
			t.Errorf("unexpected match %s", site)
		}
	}
}

func TestFailedDecodeLeavesSiteUntouched(t *testing.T) {
	s := ciltest.Default()
	bad := s.Module.LookupType("App.Program").AddMethod("Bad", cil.MethodStatic, cil.NewStaticSig(cil.TypeVoid))
	bad.Body = cil.NewBuilder().
		EmitI4(1000).EmitBranch(cil.OpBr, "n").Mark("n").EmitOperand(cil.OpCall, s.Get).
		EmitOperand(cil.OpCall, ciltest.WriteLine).
		Emit(cil.OpRet).
		MustBuild()
	before := listing(bad.Body)

	report, err := Run(s.Module, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, listing(bad.Body)); diff != "" {
		t.Errorf("failed site was modified (-before +after):\n%s", diff)
	}
	if report.Matches != 3 || report.Patched != 2 || report.Skipped != 1 {
		t.Errorf("report = %+v", report)
	}
	var skipped *Site
	for i := range report.Sites {
		if !report.Sites[i].Patched() {
			skipped = &report.Sites[i]
		}
	}
	if skipped == nil || skipped.Key != 1000 || skipped.Method != bad.FullName() {
		t.Errorf("skipped site = %+v", skipped)
	}
}

// ---------------------------------------------------------------------------
// Initialization
// ---------------------------------------------------------------------------

func TestDecodeRequiresInitialize(t *testing.T) {
	d, err := New(ciltest.Default().Module, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.DecodeKey(42); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("DecodeKey before Initialize = %v", err)
	}
	if _, err := d.Scan(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Scan before Initialize = %v", err)
	}
}

func TestInitializationOrdering(t *testing.T) {
	s := ciltest.Default()
	d, err := New(s.Module, Options{})
	if err != nil {
		t.Fatal(err)
	}
	ms := d.Members()

	var calls []string
	d.Machine().AddInvokeHook(func(method cil.MethodDescriptor, _ []vm.Value) {
		calls = append(calls, cil.MethodKey(method))
	})

	if err := d.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := d.Initialize(); err != nil {
		t.Fatal(err)
	}
	if !d.Machine().Statics.Frozen() {
		t.Error("statics not frozen after Initialize")
	}
	if _, err := d.Scan(); err != nil {
		t.Fatal(err)
	}

	count := func(m cil.MethodDescriptor) int {
		n := 0
		for _, c := range calls {
			if c == cil.MethodKey(m) {
				n++
			}
		}
		return n
	}
	indexOf := func(m cil.MethodDescriptor) int {
		for i, c := range calls {
			if c == cil.MethodKey(m) {
				return i
			}
		}
		return -1
	}

	if n := count(ms.Decompressor); n != 1 {
		t.Errorf("initializer ran %d times", n)
	}
	first := indexOf(ms.GetString)
	if first < 0 {
		t.Fatal("GetString was never invoked")
	}
	if i := indexOf(ms.InitializeArray); i < 0 || i > first {
		t.Errorf("InitializeArray at %d, first GetString at %d", i, first)
	}
	if i := indexOf(ms.Decompressor); i > first {
		t.Errorf("decompress at %d, first GetString at %d", i, first)
	}
}

func TestInitializerFailureIsFatal(t *testing.T) {
	s := ciltest.Default()
	d, err := New(s.Module, Options{Codec: codec.Zstd{}})
	if err != nil {
		t.Fatal(err)
	}
	err = d.Initialize()
	if !errors.Is(err, ErrInitializer) || !errors.Is(err, vm.ErrUnknownResult) {
		t.Errorf("Initialize with the wrong codec = %v", err)
	}
	if _, err := d.Scan(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Scan after failed Initialize = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Configuration and isolation
// ---------------------------------------------------------------------------

func TestCodecs(t *testing.T) {
	for _, name := range codec.Names() {
		t.Run(name, func(t *testing.T) {
			c, err := codec.Lookup(name)
			if err != nil {
				t.Fatal(err)
			}
			s, err := ciltest.Build(ciltest.Config{Codec: c})
			if err != nil {
				t.Fatal(err)
			}
			d, err := New(s.Module, Options{Codec: c})
			if err != nil {
				t.Fatal(err)
			}
			if err := d.Initialize(); err != nil {
				t.Fatal(err)
			}
			if got, err := d.DecodeKey(42); err != nil || got != "Hello" {
				t.Errorf("DecodeKey(42) = %q, %v", got, err)
			}
		})
	}
}

func TestUnicodeText(t *testing.T) {
	entries := []ciltest.Entry{{Key: 3, Text: "héllo, 世界"}, {Key: 20, Text: ""}}
	s, err := ciltest.Build(ciltest.Config{Entries: entries})
	if err != nil {
		t.Fatal(err)
	}
	d := newInitialized(t, s)
	for _, e := range entries {
		if got, err := d.DecodeKey(e.Key); err != nil || got != e.Text {
			t.Errorf("DecodeKey(%d) = %q, %v; want %q", e.Key, got, err, e.Text)
		}
	}
}

func TestIndependentSessions(t *testing.T) {
	var g errgroup.Group
	results := make([]string, 8)
	for i := range results {
		i := i
		g.Go(func() error {
			want := fmt.Sprintf("session %d", i)
			s, err := ciltest.Build(ciltest.Config{Entries: []ciltest.Entry{{Key: 42, Text: want}}})
			if err != nil {
				return err
			}
			report, err := Run(s.Module, Options{})
			if err != nil {
				return err
			}
			if report.Patched != 1 {
				return fmt.Errorf("session %d patched %d sites", i, report.Patched)
			}
			results[i] = report.Sites[0].Text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	for i, got := range results {
		if want := fmt.Sprintf("session %d", i); got != want {
			t.Errorf("session %d decoded %q", i, got)
		}
	}
}
