// Package ciltest builds synthetic protected modules for tests.
//
// A sample mirrors the shape of a module processed by the constants
// protector: a module initializer that fills a static byte buffer from
// XOR-masked compressed RVA data, a generic decoder guarded by an
// assembly identity check, and call sites of the form
// ldc.i4 key; br next; call Get<string>.
package ciltest

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/chazu/cildecode/pkg/cil"
	"github.com/chazu/cildecode/pkg/codec"
)

// Mask is the byte the initializer XORs over the embedded payload.
const Mask = 0x5A

// Entry is one constant in the table.
type Entry struct {
	Key  int32
	Text string
}

// DefaultEntries are the constants used when Config.Entries is empty.
var DefaultEntries = []Entry{{Key: 42, Text: "Hello"}, {Key: 10, Text: "World"}}

// Config selects sample variations.
type Config struct {
	Entries []Entry
	Codec   codec.Codec // nil means LZMA

	// OmitPayload leaves the RVA field without initial data.
	OmitPayload bool
}

// Sample is a built module plus handles to its interesting members.
type Sample struct {
	Module *cil.Module

	Initializer  *cil.MethodDef
	Decoder      *cil.MethodDef
	Decompressor *cil.MethodDef
	Main         *cil.MethodDef
	Buffer       *cil.FieldDef
	Payload      *cil.FieldDef

	// Get is Decoder instantiated at System.String.
	Get *cil.MethodSpec

	Table    []byte
	Expected map[int32]string
}

// ---------------------------------------------------------------------------
// External references
// ---------------------------------------------------------------------------

var (
	assemblyType = cil.ClassType("System.Reflection.Assembly")
	encodingType = cil.ClassType("System.Text.Encoding")
	byteArray    = cil.SZArrayOf(cil.TypeByte)

	InitializeArray = cil.NewMethodRef("System.Runtime.CompilerServices.RuntimeHelpers", "InitializeArray",
		cil.NewStaticSig(cil.TypeVoid, cil.ClassType("System.Array"), cil.ValueTypeOf("System.RuntimeFieldHandle")))
	GetExecutingAssembly = cil.NewMethodRef("System.Reflection.Assembly", "GetExecutingAssembly",
		cil.NewStaticSig(assemblyType))
	GetCallingAssembly = cil.NewMethodRef("System.Reflection.Assembly", "GetCallingAssembly",
		cil.NewStaticSig(assemblyType))
	ObjectEquals = cil.NewMethodRef("System.Object", "Equals",
		cil.NewInstanceSig(cil.TypeBoolean, cil.TypeObject))
	GetUTF8 = cil.NewMethodRef("System.Text.Encoding", "get_UTF8",
		cil.NewStaticSig(encodingType))
	GetString = cil.NewMethodRef("System.Text.Encoding", "GetString",
		cil.NewInstanceSig(cil.TypeString, byteArray, cil.TypeInt32, cil.TypeInt32))
	Intern = cil.NewMethodRef("System.String", "Intern",
		cil.NewStaticSig(cil.TypeString, cil.TypeString))
	WriteLine = cil.NewMethodRef("System.Console", "WriteLine",
		cil.NewStaticSig(cil.TypeVoid, cil.TypeString))
)

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// Default builds the sample with DefaultEntries and LZMA. It panics on
// error.
func Default() *Sample {
	s, err := Build(Config{})
	if err != nil {
		panic(err)
	}
	return s
}

// Build assembles a protected module according to cfg.
func Build(cfg Config) (*Sample, error) {
	entries := cfg.Entries
	if len(entries) == 0 {
		entries = DefaultEntries
	}
	c := cfg.Codec
	if c == nil {
		c = codec.LZMA{}
	}

	table, err := Table(entries)
	if err != nil {
		return nil, err
	}
	packed, err := c.Compress(table)
	if err != nil {
		return nil, fmt.Errorf("compressing table: %w", err)
	}
	masked := make([]byte, len(packed))
	for i, b := range packed {
		masked[i] = b ^ Mask
	}

	mod := cil.NewModule("Sample.exe")
	global := mod.GlobalType()
	s := &Sample{Module: mod, Table: table, Expected: make(map[int32]string)}
	for _, e := range entries {
		s.Expected[e.Key] = e.Text
	}

	s.Buffer = global.AddField("b", cil.FieldStatic, byteArray)
	s.Payload = global.AddField("payload", cil.FieldStatic|cil.FieldHasRVA,
		cil.ValueTypeOf(fmt.Sprintf("<PrivateImplementationDetails>/__StaticArrayInitTypeSize=%d", len(masked))))
	if !cfg.OmitPayload {
		s.Payload.InitialValue = masked
	}

	s.Decompressor = global.AddMethod("Decompress", cil.MethodStatic, cil.NewStaticSig(byteArray, byteArray))
	s.Decompressor.Body = cil.NewBuilder().Emit(cil.OpLdarg0).Emit(cil.OpRet).MustBuild()

	s.Initializer = global.AddMethod("Initialize", cil.MethodStatic, cil.NewStaticSig(cil.TypeVoid))
	s.Initializer.Body, err = initializerBody(s, int32(len(masked)))
	if err != nil {
		return nil, fmt.Errorf("initializer: %w", err)
	}

	s.Decoder = global.AddMethod("Get", cil.MethodStatic, cil.NewStaticSig(cil.MethodVar(0), cil.TypeUInt32))
	s.Decoder.GenericParams = []string{"T"}
	s.Decoder.Body, err = decoderBody(s.Buffer)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	s.Get = cil.NewMethodSpec(s.Decoder, cil.TypeString)

	cctor := global.AddMethod(".cctor", cil.MethodStatic|cil.MethodSpecialName|cil.MethodRTSpecialName,
		cil.NewStaticSig(cil.TypeVoid))
	cctor.Body = cil.NewBuilder().EmitOperand(cil.OpCall, s.Initializer).Emit(cil.OpRet).MustBuild()

	program := mod.AddType("App", "Program")
	s.Main = program.AddMethod("Main", cil.MethodStatic, cil.NewStaticSig(cil.TypeVoid))
	s.Main.Body, err = mainBody(s.Get, entries)
	if err != nil {
		return nil, fmt.Errorf("main: %w", err)
	}
	return s, nil
}

// Table lays out entries the way the decoder reads them: the entry for
// key k starts at byte 4k with a 32-bit little-endian length followed by
// the UTF-8 text.
func Table(entries []Entry) ([]byte, error) {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	end := 0
	for _, e := range sorted {
		if e.Key < 0 {
			return nil, fmt.Errorf("negative key %d", e.Key)
		}
		start := int(e.Key) * 4
		if start < end {
			return nil, fmt.Errorf("entry %d overlaps the previous entry", e.Key)
		}
		end = start + 4 + len(e.Text)
	}
	table := make([]byte, end)
	for _, e := range sorted {
		start := int(e.Key) * 4
		binary.LittleEndian.PutUint32(table[start:], uint32(len(e.Text)))
		copy(table[start+4:], e.Text)
	}
	return table, nil
}

func initializerBody(s *Sample, n int32) (*cil.MethodBody, error) {
	b := cil.NewBuilder()
	arr := b.Local(byteArray)
	i := b.Local(cil.TypeInt32)

	b.EmitI4(n).EmitOperand(cil.OpNewarr, cil.TypeByte).Emit(cil.OpDup).
		EmitOperand(cil.OpLdtoken, s.Payload).
		EmitOperand(cil.OpCall, InitializeArray).
		EmitVar(cil.OpStlocS, arr)

	// for i := 0; i < arr.Length; i++ { arr[i] ^= Mask }
	b.Emit(cil.OpLdcI40).EmitVar(cil.OpStlocS, i).
		EmitBranch(cil.OpBrS, "cond").
		Mark("loop").
		EmitVar(cil.OpLdlocS, arr).EmitVar(cil.OpLdlocS, i).
		EmitVar(cil.OpLdlocS, arr).EmitVar(cil.OpLdlocS, i).Emit(cil.OpLdelemU1).
		EmitI4(Mask).Emit(cil.OpXor).Emit(cil.OpConvU1).
		Emit(cil.OpStelemI1).
		EmitVar(cil.OpLdlocS, i).Emit(cil.OpLdcI41).Emit(cil.OpAdd).EmitVar(cil.OpStlocS, i).
		Mark("cond").
		EmitVar(cil.OpLdlocS, i).EmitVar(cil.OpLdlocS, arr).Emit(cil.OpLdlen).Emit(cil.OpConvI4).
		EmitBranch(cil.OpBlt, "loop")

	b.EmitVar(cil.OpLdlocS, arr).
		EmitOperand(cil.OpCall, s.Decompressor).
		EmitOperand(cil.OpStsfld, s.Buffer).
		Emit(cil.OpRet)
	return b.Build()
}

func decoderBody(buffer *cil.FieldDef) (*cil.MethodBody, error) {
	b := cil.NewBuilder()
	id := b.Local(cil.TypeUInt32)
	length := b.Local(cil.TypeInt32)
	result := b.Local(cil.MethodVar(0))

	b.EmitOperand(cil.OpCall, GetExecutingAssembly).
		EmitOperand(cil.OpCall, GetCallingAssembly).
		EmitOperand(cil.OpCallvirt, ObjectEquals).
		EmitBranch(cil.OpBrfalse, "fail")

	b.Emit(cil.OpLdarg0).EmitI4(0x3fffffff).Emit(cil.OpAnd).
		Emit(cil.OpLdcI42).Emit(cil.OpShl).
		EmitVar(cil.OpStlocS, id)

	// length = b[id] | b[id+1]<<8 | b[id+2]<<16 | b[id+3]<<24
	b.EmitOperand(cil.OpLdsfld, buffer).EmitVar(cil.OpLdlocS, id).Emit(cil.OpLdelemU1)
	for k := int32(1); k < 4; k++ {
		b.EmitOperand(cil.OpLdsfld, buffer).EmitVar(cil.OpLdlocS, id).
			EmitI4S(int8(k)).Emit(cil.OpAdd).Emit(cil.OpLdelemU1).
			EmitI4S(int8(8 * k)).Emit(cil.OpShl).
			Emit(cil.OpOr)
	}
	b.EmitVar(cil.OpStlocS, length)
	b.EmitVar(cil.OpLdlocS, id).Emit(cil.OpLdcI44).Emit(cil.OpAdd).EmitVar(cil.OpStlocS, id)

	b.EmitOperand(cil.OpCall, GetUTF8).
		EmitOperand(cil.OpLdsfld, buffer).
		EmitVar(cil.OpLdlocS, id).
		EmitVar(cil.OpLdlocS, length).
		EmitOperand(cil.OpCallvirt, GetString).
		EmitOperand(cil.OpCall, Intern).
		EmitOperand(cil.OpUnboxAny, cil.MethodVar(0)).
		Emit(cil.OpRet)

	b.Mark("fail").
		EmitVar(cil.OpLdlocaS, result).
		EmitOperand(cil.OpInitobj, cil.MethodVar(0)).
		EmitVar(cil.OpLdlocS, result).
		Emit(cil.OpRet)
	return b.Build()
}

func mainBody(get *cil.MethodSpec, entries []Entry) (*cil.MethodBody, error) {
	b := cil.NewBuilder()
	for i, e := range entries {
		next := fmt.Sprintf("next%d", i)
		op := cil.OpBr
		if i%2 == 1 {
			op = cil.OpBrS
		}
		b.EmitI4(e.Key).EmitBranch(op, next).
			Mark(next).EmitOperand(cil.OpCall, get).
			EmitOperand(cil.OpCall, WriteLine)
	}
	b.Emit(cil.OpRet)
	return b.Build()
}

// DecodeSite returns the three-instruction call pattern for key, branching
// to the instruction at index next.
func DecodeSite(get cil.MethodDescriptor, key int32, next cil.Label) []*cil.Instruction {
	return []*cil.Instruction{
		cil.NewInstruction(cil.OpLdcI4, key),
		cil.NewInstruction(cil.OpBr, next),
		cil.NewInstruction(cil.OpCall, get),
	}
}
