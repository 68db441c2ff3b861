package deobf

import (
	"golang.org/x/text/encoding/unicode"

	"github.com/chazu/cildecode/pkg/cil"
	"github.com/chazu/cildecode/vm"
)

// installShims maps the protector's runtime dependencies onto native
// handlers and seals the table.
func (d *Deobfuscator) installShims(table *vm.ShimTable) {
	ms := d.members
	if ms.InitializeArray != nil {
		table.Map(ms.InitializeArray, d.initializeArray)
	}
	table.Map(ms.Decompressor, d.decompress)
	table.Map(ms.GetString, d.utf8String)
	if ms.Intern != nil {
		table.Map(ms.Intern, vm.PassThrough)
	}
	table.MapMany([]cil.MethodDescriptor{
		ms.EncodingAccessor,
		ms.ExecutingAssembly,
		ms.CallingAssembly,
		ms.Equality,
	}, vm.ReturnTrue)
	table.WithFallback(vm.ReturnUnknown)
	table.Seal()
}

// initializeArray copies a field's RVA data into an array:
// RuntimeHelpers.InitializeArray(Array, RuntimeFieldHandle). When the
// handle or its backing data cannot be found nothing is written.
func (d *Deobfuscator) initializeArray(ctx *vm.ExecutionContext, method cil.MethodDescriptor, args []vm.Value) vm.InvocationResult {
	if len(args) != 2 {
		return vm.UnknownResult()
	}
	arr, err := ctx.Heap().Deref(args[0])
	if err != nil {
		log.Warningf("%s: array: %s", method.MemberName(), err)
		return vm.StepOver(nil)
	}
	addr, ok := args[1].Uint64()
	if !ok {
		log.Warningf("%s: unknown field handle", method.MemberName())
		return vm.StepOver(nil)
	}
	fd, ok := ctx.Heap().Field(addr)
	if !ok {
		log.Warningf("%s: no field behind handle 0x%x", method.MemberName(), addr)
		return vm.StepOver(nil)
	}
	def := fd.ResolveField()
	if def == nil || len(def.InitialValue) == 0 {
		log.Warningf("%s: %s has no initial data", method.MemberName(), fd.FullName())
		return vm.StepOver(nil)
	}
	n := arr.WriteData(def.InitialValue)
	log.Debugf("initialized %d bytes from %s", n, fd.MemberName())
	return vm.StepOver(nil)
}

// decompress unpacks a byte array with the configured codec.
func (d *Deobfuscator) decompress(ctx *vm.ExecutionContext, method cil.MethodDescriptor, args []vm.Value) vm.InvocationResult {
	if len(args) != 1 {
		return vm.UnknownResult()
	}
	data, err := ctx.Marshaller().ToBytes(args[0])
	if err != nil || data == nil {
		log.Debugf("%s: input: %v", method.MemberName(), err)
		return vm.UnknownResult()
	}
	out, err := d.codec.Decompress(data)
	if err != nil {
		log.Warningf("%s: %s: %s", method.MemberName(), d.codec.Name(), err)
		return vm.UnknownResult()
	}
	log.Debugf("decompressed %d bytes to %d", len(data), len(out))
	return vm.StepOverValue(ctx.Marshaller().FromBytes(out))
}

// utf8String implements Encoding.GetString(byte[], int, int). The bytes
// come from the resolved static buffer; the array argument is used only
// when the module has no buffer field.
func (d *Deobfuscator) utf8String(ctx *vm.ExecutionContext, method cil.MethodDescriptor, args []vm.Value) vm.InvocationResult {
	n := len(args)
	if n < 3 {
		return vm.UnknownResult()
	}
	m := ctx.Marshaller()

	source := args[n-3]
	if d.members.Buffer != nil {
		source = ctx.Statics().Load(d.members.Buffer)
	}
	data, err := m.ToBytes(source)
	if err != nil || data == nil {
		log.Debugf("%s: buffer: %v", method.MemberName(), err)
		return vm.UnknownResult()
	}
	index, err := m.ToInt32(args[n-2])
	if err != nil {
		return vm.UnknownResult()
	}
	count, err := m.ToInt32(args[n-1])
	if err != nil {
		return vm.UnknownResult()
	}
	if index < 0 || count < 0 || int(index)+int(count) > len(data) {
		log.Debugf("%s: range %d+%d outside %d bytes", method.MemberName(), index, count, len(data))
		return vm.UnknownResult()
	}

	text, err := unicode.UTF8.NewDecoder().Bytes(data[index : index+count])
	if err != nil {
		return vm.UnknownResult()
	}
	return vm.StepOverValue(m.FromString(string(text)))
}

// coerceCallvirt makes callvirt to the equality and GetString callees
// dispatch as call: their receivers are neutralized placeholders, not
// heap objects.
func coerceCallvirt(d *vm.Dispatch) {
	if d.OpCode != cil.OpCallvirt {
		return
	}
	m, ok := d.Instruction.Operand.(cil.MethodDescriptor)
	if !ok {
		return
	}
	switch m.MemberName() {
	case nameEquality, nameGetString:
		d.OpCode = cil.OpCall
	}
}
