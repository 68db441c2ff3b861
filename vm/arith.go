package vm

import (
	"github.com/chazu/cildecode/pkg/cil"
)

// ---------------------------------------------------------------------------
// Integer arithmetic on evaluation stack slots
// ---------------------------------------------------------------------------

// binaryResultType applies the CLI binary numeric operand table for the
// integer subset: int32 op int32, int64 op int64, and native int mixed with
// int32 or native int.
func binaryResultType(a, b Slot) StackType {
	switch {
	case a.Type == StackI4 && b.Type == StackI4:
		return StackI4
	case a.Type == StackI8 && b.Type == StackI8:
		return StackI8
	case (a.Type == StackNative || a.Type == StackI4) && (b.Type == StackNative || b.Type == StackI4):
		return StackNative
	}
	raisef(ErrTypeMismatch, "binary operation on %s and %s", a.Type, b.Type)
	return 0
}

func slotWidth(t StackType) int {
	if t == StackI4 {
		return 4
	}
	return 8
}

// widen sign-extends a slot to the given width.
func widen(s Slot, size int) Value {
	return s.Value.Resize(size, true)
}

// numericSlot builds a fully known slot of type t from x.
func numericSlot(t StackType, x uint64) Slot {
	return Slot{Type: t, Value: FromUint64(x, slotWidth(t))}
}

func unknownSlot(t StackType) Slot {
	return Slot{Type: t, Value: Unknown(slotWidth(t))}
}

// signedOf interprets x as a signed integer of the given width.
func signedOf(x uint64, size int) int64 {
	if size == 4 {
		return int64(int32(uint32(x)))
	}
	return int64(x)
}

// arith evaluates a binary arithmetic or bitwise opcode.
func arith(op cil.Code, a, b Slot) Slot {
	t := binaryResultType(a, b)
	size := slotWidth(t)
	va, vb := widen(a, size), widen(b, size)

	switch op {
	case cil.OpAnd:
		return Slot{Type: t, Value: And(va, vb)}
	case cil.OpOr:
		return Slot{Type: t, Value: Or(va, vb)}
	case cil.OpXor:
		return Slot{Type: t, Value: Xor(va, vb)}
	}

	x, okA := va.Uint64()
	y, okB := vb.Uint64()
	if !okA || !okB {
		return unknownSlot(t)
	}
	sx, sy := signedOf(x, size), signedOf(y, size)

	var r uint64
	switch op {
	case cil.OpAdd, cil.OpAddOvf, cil.OpAddOvfUn:
		r = x + y
	case cil.OpSub, cil.OpSubOvf, cil.OpSubOvfUn:
		r = x - y
	case cil.OpMul, cil.OpMulOvf, cil.OpMulOvfUn:
		r = x * y
	case cil.OpDiv:
		if sy == 0 {
			raise(ErrDivideByZero)
		}
		r = uint64(sx / sy)
	case cil.OpDivUn:
		if y == 0 {
			raise(ErrDivideByZero)
		}
		r = truncate(x, size) / truncate(y, size)
	case cil.OpRem:
		if sy == 0 {
			raise(ErrDivideByZero)
		}
		r = uint64(sx % sy)
	case cil.OpRemUn:
		if y == 0 {
			raise(ErrDivideByZero)
		}
		r = truncate(x, size) % truncate(y, size)
	default:
		raisef(ErrUnsupportedOpcode, "%s", op)
	}
	return numericSlot(t, r)
}

func truncate(x uint64, size int) uint64 {
	if size == 4 {
		return uint64(uint32(x))
	}
	return x
}

// shift evaluates shl, shr and shr.un. The result has the type of value.
func shift(op cil.Code, value, amount Slot) Slot {
	if value.Type != StackI4 && value.Type != StackI8 && value.Type != StackNative {
		raisef(ErrTypeMismatch, "shift of %s", value.Type)
	}
	if amount.Type != StackI4 && amount.Type != StackNative {
		raisef(ErrTypeMismatch, "shift amount of type %s", amount.Type)
	}
	size := slotWidth(value.Type)
	x, okX := value.Value.Uint64()
	n, okN := amount.Value.Uint64()
	if !okX || !okN {
		return unknownSlot(value.Type)
	}
	n &= uint64(8*size - 1)

	var r uint64
	switch op {
	case cil.OpShl:
		r = x << n
	case cil.OpShr:
		r = uint64(signedOf(x, size) >> n)
	case cil.OpShrUn:
		r = truncate(x, size) >> n
	}
	return numericSlot(value.Type, r)
}

// unary evaluates neg and not.
func unary(op cil.Code, a Slot) Slot {
	if a.Type != StackI4 && a.Type != StackI8 && a.Type != StackNative {
		raisef(ErrTypeMismatch, "%s of %s", op, a.Type)
	}
	if op == cil.OpNot {
		return Slot{Type: a.Type, Value: Not(a.Value)}
	}
	x, ok := a.Value.Uint64()
	if !ok {
		return unknownSlot(a.Type)
	}
	return numericSlot(a.Type, -x)
}

// compare evaluates ceq, cgt, cgt.un, clt and clt.un as well as the
// comparison underlying conditional branches. known is false when either
// operand has unknown bytes.
func compare(op cil.Code, a, b Slot) (result bool, known bool) {
	var size int
	if a.Type == StackRef || b.Type == StackRef {
		if a.Type != b.Type {
			raisef(ErrTypeMismatch, "compare %s with %s", a.Type, b.Type)
		}
		size = 8
	} else {
		size = slotWidth(binaryResultType(a, b))
	}
	x, okA := widen(a, size).Uint64()
	y, okB := widen(b, size).Uint64()
	if !okA || !okB {
		return false, false
	}
	sx, sy := signedOf(x, size), signedOf(y, size)
	ux, uy := truncate(x, size), truncate(y, size)

	switch op {
	case cil.OpCeq, cil.OpBeq, cil.OpBeqS:
		return ux == uy, true
	case cil.OpBneUn, cil.OpBneUnS:
		return ux != uy, true
	case cil.OpCgt, cil.OpBgt, cil.OpBgtS:
		return sx > sy, true
	case cil.OpCgtUn, cil.OpBgtUn, cil.OpBgtUnS:
		return ux > uy, true
	case cil.OpClt, cil.OpBlt, cil.OpBltS:
		return sx < sy, true
	case cil.OpCltUn, cil.OpBltUn, cil.OpBltUnS:
		return ux < uy, true
	case cil.OpBge, cil.OpBgeS:
		return sx >= sy, true
	case cil.OpBgeUn, cil.OpBgeUnS:
		return ux >= uy, true
	case cil.OpBle, cil.OpBleS:
		return sx <= sy, true
	case cil.OpBleUn, cil.OpBleUnS:
		return ux <= uy, true
	}
	raisef(ErrUnsupportedOpcode, "%s", op)
	return false, false
}

// convert evaluates conv.* and conv.ovf.* without overflow checks. Any
// unknown source byte makes the whole result unknown.
func convert(op cil.Code, a Slot) Slot {
	r := convertKnown(op, a)
	if !a.Value.IsFullyKnown() {
		return unknownSlot(r.Type)
	}
	return r
}

func convertKnown(op cil.Code, a Slot) Slot {
	if a.Type == StackRef || a.Type == StackPtr {
		switch op {
		case cil.OpConvI, cil.OpConvU, cil.OpConvI8, cil.OpConvU8:
			if a.Type == StackRef {
				return nativeSlot(a.Value.Clone())
			}
		}
		raisef(ErrTypeMismatch, "%s of %s", op, a.Type)
	}
	switch op {
	case cil.OpConvI1, cil.OpConvOvfI1:
		return i4Slot(a.Value.Resize(1, true).Resize(4, true))
	case cil.OpConvU1, cil.OpConvOvfU1:
		return i4Slot(a.Value.Resize(1, false).Resize(4, false))
	case cil.OpConvI2, cil.OpConvOvfI2:
		return i4Slot(a.Value.Resize(2, true).Resize(4, true))
	case cil.OpConvU2, cil.OpConvOvfU2:
		return i4Slot(a.Value.Resize(2, false).Resize(4, false))
	case cil.OpConvI4, cil.OpConvU4, cil.OpConvOvfI4, cil.OpConvOvfU4:
		return i4Slot(a.Value.Resize(4, true))
	case cil.OpConvI8, cil.OpConvOvfI8:
		return i8Slot(a.Value.Resize(8, true))
	case cil.OpConvU8, cil.OpConvOvfU8:
		return i8Slot(a.Value.Resize(8, false))
	case cil.OpConvI, cil.OpConvOvfI:
		return nativeSlot(a.Value.Resize(8, true))
	case cil.OpConvU, cil.OpConvOvfU:
		return nativeSlot(a.Value.Resize(8, false))
	}
	raisef(ErrUnsupportedOpcode, "%s", op)
	return Slot{}
}
