package vm

import (
	"github.com/chazu/cildecode/pkg/cil"
)

// ---------------------------------------------------------------------------
// Main interpreter loop
// ---------------------------------------------------------------------------

// run executes a frame until ret and returns the result, narrowed to the
// method's return type.
func (m *Machine) run(f *Frame) Value {
	body := f.Method.Body
	ctx := &ExecutionContext{Machine: m, Frame: f}

	for {
		if f.IP < 0 || f.IP >= len(body.Instructions) {
			raisef(ErrInvalidProgram, "%s: execution ran past the end of the body", f.Method.FullName())
		}
		ins := body.Instructions[f.IP]

		m.steps++
		if m.config.StepLimit > 0 && m.steps > m.config.StepLimit {
			raisef(ErrStepLimit, "%d instructions", m.config.StepLimit)
		}

		d := Dispatch{Context: ctx, Instruction: ins, OpCode: ins.OpCode}
		for _, h := range m.dispatchHooks {
			h.fn(&d)
		}
		op := d.OpCode
		if m.config.Trace {
			log.Debugf("%s %3d %-12s %s | depth=%d stack=%d",
				f.Method.Name, f.IP, op, cil.FormatOperand(ins.Operand), len(m.frames), len(f.Stack))
		}

		next := f.IP + 1

		switch op {
		// --- No-ops and prefixes ---
		case cil.OpNop, cil.OpBreak, cil.OpVolatile, cil.OpTail, cil.OpReadonly, cil.OpConstrained:

		// --- Constants ---
		case cil.OpLdnull:
			f.push(refSlot(Null()))

		case cil.OpLdcI4M1, cil.OpLdcI40, cil.OpLdcI41, cil.OpLdcI42, cil.OpLdcI43,
			cil.OpLdcI44, cil.OpLdcI45, cil.OpLdcI46, cil.OpLdcI47, cil.OpLdcI48,
			cil.OpLdcI4S, cil.OpLdcI4:
			if op == cil.OpLdcI4 || op == cil.OpLdcI4S {
				switch ins.Operand.(type) {
				case int32, int8, int:
				default:
					raisef(ErrInvalidProgram, "%s: operand %T is not an integer", ins.OpCode, ins.Operand)
				}
			}
			ldc := cil.Instruction{OpCode: op, Operand: ins.Operand}
			f.push(i4Slot(I32(ldc.LdcI4Constant())))

		case cil.OpLdcI8:
			x, ok := ins.Operand.(int64)
			if !ok {
				raisef(ErrInvalidProgram, "%s: operand %T is not an int64", ins.OpCode, ins.Operand)
			}
			f.push(i8Slot(I64(x)))

		case cil.OpLdstr:
			s, ok := ins.Operand.(string)
			if !ok {
				raisef(ErrInvalidProgram, "%s: operand %T is not a string", ins.OpCode, ins.Operand)
			}
			f.push(refSlot(m.Heap.Intern(s).Ref()))

		// --- Arguments and locals ---
		case cil.OpLdarg0, cil.OpLdarg1, cil.OpLdarg2, cil.OpLdarg3:
			f.push(f.loadArg(int(op - cil.OpLdarg0)))

		case cil.OpLdargS, cil.OpLdarg:
			f.push(f.loadArg(varIndex(ins)))

		case cil.OpStargS, cil.OpStarg:
			f.storeArg(varIndex(ins), f.pop())

		case cil.OpLdargaS, cil.OpLdarga:
			i := varIndex(ins)
			f.checkArg(i)
			f.push(Slot{Type: StackPtr, Ptr: &Pointer{Kind: PointerArg, Frame: f, Index: i, Target: f.ArgTypes[i]}})

		case cil.OpLdloc0, cil.OpLdloc1, cil.OpLdloc2, cil.OpLdloc3:
			f.push(f.loadLocal(int(op - cil.OpLdloc0)))

		case cil.OpLdlocS, cil.OpLdloc:
			f.push(f.loadLocal(varIndex(ins)))

		case cil.OpStloc0, cil.OpStloc1, cil.OpStloc2, cil.OpStloc3:
			f.storeLocal(int(op-cil.OpStloc0), f.pop())

		case cil.OpStlocS, cil.OpStloc:
			f.storeLocal(varIndex(ins), f.pop())

		case cil.OpLdlocaS, cil.OpLdloca:
			i := varIndex(ins)
			f.checkLocal(i)
			f.push(Slot{Type: StackPtr, Ptr: &Pointer{Kind: PointerLocal, Frame: f, Index: i, Target: f.LocalTypes[i]}})

		// --- Stack ---
		case cil.OpDup:
			top := f.top()
			top.Value = top.Value.Clone()
			f.push(top)

		case cil.OpPop:
			f.pop()

		// --- Arithmetic ---
		case cil.OpAdd, cil.OpSub, cil.OpMul, cil.OpDiv, cil.OpDivUn, cil.OpRem, cil.OpRemUn,
			cil.OpAnd, cil.OpOr, cil.OpXor,
			cil.OpAddOvf, cil.OpAddOvfUn, cil.OpSubOvf, cil.OpSubOvfUn, cil.OpMulOvf, cil.OpMulOvfUn:
			b := f.pop()
			a := f.pop()
			f.push(arith(op, a, b))

		case cil.OpShl, cil.OpShr, cil.OpShrUn:
			amount := f.pop()
			value := f.pop()
			f.push(shift(op, value, amount))

		case cil.OpNeg, cil.OpNot:
			f.push(unary(op, f.pop()))

		case cil.OpConvI1, cil.OpConvI2, cil.OpConvI4, cil.OpConvI8,
			cil.OpConvU1, cil.OpConvU2, cil.OpConvU4, cil.OpConvU8, cil.OpConvI, cil.OpConvU,
			cil.OpConvOvfI1, cil.OpConvOvfU1, cil.OpConvOvfI2, cil.OpConvOvfU2,
			cil.OpConvOvfI4, cil.OpConvOvfU4, cil.OpConvOvfI8, cil.OpConvOvfU8,
			cil.OpConvOvfI, cil.OpConvOvfU:
			f.push(convert(op, f.pop()))

		// --- Comparisons ---
		case cil.OpCeq, cil.OpCgt, cil.OpCgtUn, cil.OpClt, cil.OpCltUn:
			b := f.pop()
			a := f.pop()
			r, known := compare(op, a, b)
			if !known {
				f.push(unknownSlot(StackI4))
			} else {
				f.push(i4Slot(Bool(r)))
			}

		// --- Branches ---
		case cil.OpBr, cil.OpBrS, cil.OpLeave, cil.OpLeaveS:
			next = branchTarget(ins)

		case cil.OpBrfalse, cil.OpBrfalseS, cil.OpBrtrue, cil.OpBrtrueS:
			cond := f.pop()
			nonZero := true
			if cond.Type != StackPtr {
				var known bool
				nonZero, known = cond.Value.Truthiness()
				if !known {
					raisef(ErrUnknownBranch, "%s at %d in %s: %s", op, f.IP, f.Method.Name, cond.Value)
				}
			}
			jumpIfTrue := op == cil.OpBrtrue || op == cil.OpBrtrueS
			if nonZero == jumpIfTrue {
				next = branchTarget(ins)
			}

		case cil.OpBeq, cil.OpBeqS, cil.OpBneUn, cil.OpBneUnS,
			cil.OpBge, cil.OpBgeS, cil.OpBgeUn, cil.OpBgeUnS,
			cil.OpBgt, cil.OpBgtS, cil.OpBgtUn, cil.OpBgtUnS,
			cil.OpBle, cil.OpBleS, cil.OpBleUn, cil.OpBleUnS,
			cil.OpBlt, cil.OpBltS, cil.OpBltUn, cil.OpBltUnS:
			b := f.pop()
			a := f.pop()
			taken, known := compare(op, a, b)
			if !known {
				raisef(ErrUnknownBranch, "%s at %d in %s", op, f.IP, f.Method.Name)
			}
			if taken {
				next = branchTarget(ins)
			}

		case cil.OpSwitch:
			sel := f.pop()
			x, ok := sel.Value.Uint64()
			if !ok {
				raisef(ErrUnknownBranch, "switch at %d in %s", f.IP, f.Method.Name)
			}
			labels, _ := ins.Operand.([]cil.Label)
			if idx := uint64(uint32(x)); idx < uint64(len(labels)) {
				next = int(labels[idx])
			}

		// --- Indirect access ---
		case cil.OpLdindI1, cil.OpLdindU1, cil.OpLdindI2, cil.OpLdindU2, cil.OpLdindI4,
			cil.OpLdindU4, cil.OpLdindI8, cil.OpLdindI, cil.OpLdindRef:
			p := popPointer(f)
			t := accessType(op)
			f.push(loadSlot(t, m.loadPointer(p).Resize(t.Size(), t.IsSigned())))

		case cil.OpLdobj:
			p := popPointer(f)
			t := f.instantiate(typeOperand(ins))
			f.push(loadSlot(t, m.loadPointer(p)))

		case cil.OpStindI1, cil.OpStindI2, cil.OpStindI4, cil.OpStindI8, cil.OpStindI, cil.OpStindRef:
			v := f.pop()
			p := popPointer(f)
			m.storePointer(p, storeValue(accessType(op), v))

		case cil.OpStobj:
			v := f.pop()
			p := popPointer(f)
			m.storePointer(p, storeValue(f.instantiate(typeOperand(ins)), v))

		case cil.OpInitobj:
			p := popPointer(f)
			t := f.instantiate(typeOperand(ins))
			size := t.Size()
			if size == 0 {
				raisef(ErrUnsupportedType, "initobj %s", t)
			}
			m.storePointer(p, Zero(size))

		// --- Statics ---
		case cil.OpLdsfld:
			field := fieldOperand(ins)
			f.push(loadSlot(f.instantiate(field.FieldType()), m.Statics.Load(field)))

		case cil.OpStsfld:
			field := fieldOperand(ins)
			v := storeValue(f.instantiate(field.FieldType()), f.pop())
			if err := m.Statics.Store(field, v); err != nil {
				raise(err)
			}

		case cil.OpLdsflda:
			field := fieldOperand(ins)
			f.push(Slot{Type: StackPtr, Ptr: &Pointer{Kind: PointerStatic, Field: field, Target: field.FieldType()}})

		// --- Arrays ---
		case cil.OpNewarr:
			n := indexOf(f.pop())
			obj, err := m.Heap.AllocArray(f.instantiate(typeOperand(ins)), n)
			if err != nil {
				raise(err)
			}
			f.push(refSlot(obj.Ref()))

		case cil.OpLdlen:
			obj := m.deref(f.pop())
			if obj.Kind != ObjectArray {
				raisef(ErrTypeMismatch, "ldlen of %s", obj.Kind)
			}
			f.push(nativeSlot(NativeInt(int64(obj.Length))))

		case cil.OpLdelemI1, cil.OpLdelemU1, cil.OpLdelemI2, cil.OpLdelemU2, cil.OpLdelemI4,
			cil.OpLdelemU4, cil.OpLdelemI8, cil.OpLdelemI, cil.OpLdelemRef, cil.OpLdelem:
			i := indexOf(f.pop())
			obj := m.deref(f.pop())
			v, err := obj.LoadElement(i)
			if err != nil {
				raise(err)
			}
			t := accessType(op)
			if op == cil.OpLdelem {
				t = f.instantiate(typeOperand(ins))
			}
			f.push(loadSlot(t, v.Resize(t.Size(), t.IsSigned())))

		case cil.OpStelemI, cil.OpStelemI1, cil.OpStelemI2, cil.OpStelemI4, cil.OpStelemI8,
			cil.OpStelemRef, cil.OpStelem:
			v := f.pop()
			i := indexOf(f.pop())
			obj := m.deref(f.pop())
			t := accessType(op)
			if op == cil.OpStelem {
				t = f.instantiate(typeOperand(ins))
			}
			if err := obj.StoreElement(i, storeValue(t, v)); err != nil {
				raise(err)
			}

		case cil.OpLdelema:
			i := indexOf(f.pop())
			obj := m.deref(f.pop())
			if obj.Kind != ObjectArray || i < 0 || i >= obj.Length {
				raisef(ErrIndexOutOfRange, "ldelema %d", i)
			}
			f.push(Slot{Type: StackPtr, Ptr: &Pointer{Kind: PointerElement, Array: obj, Index: i, Target: obj.Type}})

		// --- Object model subset ---
		case cil.OpBox:
			t := f.instantiate(typeOperand(ins))
			s := f.pop()
			if t.IsReference() {
				f.push(s)
				break
			}
			obj, err := m.Heap.Box(t, storeValue(t, s))
			if err != nil {
				raise(err)
			}
			f.push(refSlot(obj.Ref()))

		case cil.OpUnboxAny:
			t := f.instantiate(typeOperand(ins))
			s := f.pop()
			if t.IsReference() {
				f.push(s)
				break
			}
			obj := m.deref(s)
			if obj.Kind != ObjectBoxed {
				raisef(ErrTypeMismatch, "unbox.any %s from %s", t, obj.Kind)
			}
			f.push(loadSlot(t, obj.Data.Resize(t.Size(), t.IsSigned())))

		case cil.OpCastclass, cil.OpIsinst:
			s := f.top()
			if s.Type != StackRef {
				raisef(ErrTypeMismatch, "%s of %s", op, s.Type)
			}

		case cil.OpSizeof:
			t := f.instantiate(typeOperand(ins))
			if t.Size() == 0 {
				raisef(ErrUnsupportedType, "sizeof %s", t)
			}
			f.push(i4Slot(I32(int32(t.Size()))))

		case cil.OpLdtoken:
			tok := ins.Operand
			if t, ok := tok.(*cil.TypeSig); ok {
				tok = f.instantiate(t)
			}
			f.push(nativeSlot(NativeInt(int64(m.Heap.TokenHandle(tok)))))

		// --- Calls ---
		case cil.OpCall, cil.OpCallvirt:
			m.call(ctx, f, op, methodOperand(ins))

		case cil.OpRet:
			sig := f.Method.Sig
			if !sig.ReturnsValue() {
				return Value{}
			}
			return storeValue(f.instantiate(sig.Return), f.pop())

		default:
			raisef(ErrUnsupportedOpcode, "%s at %d in %s", op, f.IP, f.Method.FullName())
		}

		f.IP = next
	}
}

// call pops the arguments of method, dispatches it and pushes its result.
func (m *Machine) call(ctx *ExecutionContext, f *Frame, op cil.Code, method cil.MethodDescriptor) {
	method = instantiateCallee(f, method)
	sig := method.MethodSig()
	slots := f.popN(sig.ArgCount())

	args := make([]Value, len(slots))
	params := sig.Params
	if sig.HasThis {
		this := slots[0]
		if op == cil.OpCallvirt {
			if this.Type != StackRef {
				raisef(ErrNullReference, "callvirt %s on %s", method.FullName(), this.Type)
			}
			if _, err := m.Heap.Deref(this.Value); err != nil {
				raisef(ErrNullReference, "callvirt %s: %v", method.FullName(), err)
			}
		}
		args[0] = storeValue(cil.TypeObject, this)
		slots = slots[1:]
	}
	offset := len(args) - len(slots)
	for i, s := range slots {
		args[offset+i] = storeValue(params[i], s)
	}

	result := m.invoke(ctx, method, args)
	if !sig.ReturnsValue() {
		return
	}
	if result.IsVoid() {
		raisef(ErrUnknownResult, "%s returned no value", method.FullName())
	}
	f.push(loadSlot(sig.Return, result.Resize(sig.Return.Size(), sig.Return.IsSigned())))
}

// instantiateCallee substitutes the caller's generic arguments into a
// MethodSpec whose instantiation refers to them (e.g. Get<!!0>).
func instantiateCallee(f *Frame, method cil.MethodDescriptor) cil.MethodDescriptor {
	spec, ok := method.(*cil.MethodSpec)
	if !ok || len(f.GenericArgs) == 0 {
		return method
	}
	changed := false
	args := make([]*cil.TypeSig, len(spec.Args))
	for i, a := range spec.Args {
		args[i] = f.instantiate(a)
		changed = changed || args[i] != a
	}
	if !changed {
		return method
	}
	return cil.NewMethodSpec(spec.Method, args...)
}

// ---------------------------------------------------------------------------
// Pointers and references
// ---------------------------------------------------------------------------

func (m *Machine) deref(s Slot) *Object {
	if s.Type != StackRef {
		raisef(ErrTypeMismatch, "expected object reference, got %s", s.Type)
	}
	obj, err := m.Heap.Deref(s.Value)
	if err != nil {
		raise(err)
	}
	return obj
}

func popPointer(f *Frame) *Pointer {
	s := f.pop()
	if s.Type != StackPtr {
		raisef(ErrTypeMismatch, "expected managed pointer, got %s", s.Type)
	}
	return s.Ptr
}

func (m *Machine) loadPointer(p *Pointer) Value {
	switch p.Kind {
	case PointerLocal:
		return p.Frame.Locals[p.Index].Clone()
	case PointerArg:
		return p.Frame.Args[p.Index].Clone()
	case PointerStatic:
		return m.Statics.Load(p.Field)
	case PointerElement:
		v, err := p.Array.LoadElement(p.Index)
		if err != nil {
			raise(err)
		}
		return v
	}
	raisef(ErrInvalidProgram, "bad pointer")
	return Value{}
}

func (m *Machine) storePointer(p *Pointer, v Value) {
	if size := p.Target.Size(); size > 0 {
		v = v.Resize(size, false)
	}
	switch p.Kind {
	case PointerLocal:
		p.Frame.Locals[p.Index] = v
	case PointerArg:
		p.Frame.Args[p.Index] = v
	case PointerStatic:
		if err := m.Statics.Store(p.Field, v); err != nil {
			raise(err)
		}
	case PointerElement:
		if err := p.Array.StoreElement(p.Index, v); err != nil {
			raise(err)
		}
	default:
		raisef(ErrInvalidProgram, "bad pointer")
	}
}

// ---------------------------------------------------------------------------
// Operand helpers
// ---------------------------------------------------------------------------

func varIndex(ins *cil.Instruction) int {
	i, ok := ins.Operand.(int)
	if !ok {
		raisef(ErrInvalidProgram, "%s: operand %T is not a variable index", ins.OpCode, ins.Operand)
	}
	return i
}

func branchTarget(ins *cil.Instruction) int {
	l, ok := ins.BranchTarget()
	if !ok {
		raisef(ErrInvalidProgram, "%s: operand %T is not a label", ins.OpCode, ins.Operand)
	}
	return int(l)
}

func typeOperand(ins *cil.Instruction) *cil.TypeSig {
	t, ok := ins.Operand.(*cil.TypeSig)
	if !ok {
		raisef(ErrInvalidProgram, "%s: operand %T is not a type", ins.OpCode, ins.Operand)
	}
	return t
}

func fieldOperand(ins *cil.Instruction) cil.FieldDescriptor {
	fd, ok := ins.Operand.(cil.FieldDescriptor)
	if !ok {
		raisef(ErrInvalidProgram, "%s: operand %T is not a field", ins.OpCode, ins.Operand)
	}
	return fd
}

func methodOperand(ins *cil.Instruction) cil.MethodDescriptor {
	md, ok := ins.Operand.(cil.MethodDescriptor)
	if !ok {
		raisef(ErrInvalidProgram, "%s: operand %T is not a method", ins.OpCode, ins.Operand)
	}
	return md
}

// indexOf reads an array index or length from an int32 or native int slot.
func indexOf(s Slot) int {
	if s.Type != StackI4 && s.Type != StackNative {
		raisef(ErrTypeMismatch, "index of type %s", s.Type)
	}
	x, ok := s.Value.Int64()
	if !ok {
		raisef(ErrUnknownValue, "index %s", s.Value)
	}
	return int(x)
}

// accessType returns the element type implied by a typed ldind, stind,
// ldelem or stelem opcode.
func accessType(op cil.Code) *cil.TypeSig {
	switch op {
	case cil.OpLdindI1, cil.OpStindI1, cil.OpLdelemI1, cil.OpStelemI1:
		return cil.TypeSByte
	case cil.OpLdindU1, cil.OpLdelemU1:
		return cil.TypeByte
	case cil.OpLdindI2, cil.OpStindI2, cil.OpLdelemI2, cil.OpStelemI2:
		return cil.TypeInt16
	case cil.OpLdindU2, cil.OpLdelemU2:
		return cil.TypeUInt16
	case cil.OpLdindI4, cil.OpStindI4, cil.OpLdelemI4, cil.OpStelemI4:
		return cil.TypeInt32
	case cil.OpLdindU4, cil.OpLdelemU4:
		return cil.TypeUInt32
	case cil.OpLdindI8, cil.OpStindI8, cil.OpLdelemI8, cil.OpStelemI8:
		return cil.TypeInt64
	case cil.OpLdindI, cil.OpStindI, cil.OpLdelemI, cil.OpStelemI:
		return cil.TypeIntPtr
	case cil.OpLdindRef, cil.OpStindRef, cil.OpLdelemRef, cil.OpStelemRef:
		return cil.TypeObject
	}
	return nil
}
