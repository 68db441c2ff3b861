package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Value: a little-endian byte vector with per-byte knowledge
// ---------------------------------------------------------------------------

// Value is a fixed-width bit vector whose bytes are individually known or
// unknown. Bytes are little-endian. Unknown bytes carry a zero placeholder
// in Bytes that must never be interpreted.
type Value struct {
	Bytes []byte
	Known []bool
}

// Zero returns a fully known zero value of size bytes.
func Zero(size int) Value {
	v := Value{Bytes: make([]byte, size), Known: make([]bool, size)}
	for i := range v.Known {
		v.Known[i] = true
	}
	return v
}

// Unknown returns a fully unknown value of size bytes.
func Unknown(size int) Value {
	return Value{Bytes: make([]byte, size), Known: make([]bool, size)}
}

// FromUint64 returns a known value holding the low size bytes of x.
func FromUint64(x uint64, size int) Value {
	v := Zero(size)
	for i := 0; i < size && i < 8; i++ {
		v.Bytes[i] = byte(x >> (8 * i))
	}
	return v
}

// I32 returns a known 32-bit value.
func I32(x int32) Value { return FromUint64(uint64(uint32(x)), 4) }

// I64 returns a known 64-bit value.
func I64(x int64) Value { return FromUint64(uint64(x), 8) }

// NativeInt returns a known pointer-sized value.
func NativeInt(x int64) Value { return FromUint64(uint64(x), 8) }

// Bool returns a known 32-bit 0 or 1.
func Bool(b bool) Value {
	if b {
		return I32(1)
	}
	return I32(0)
}

// Ref returns a known object reference. Address 0 is null.
func Ref(addr uint64) Value { return FromUint64(addr, 8) }

// Null returns the null reference.
func Null() Value { return Ref(0) }

// KnownBytes returns a fully known value holding a copy of b.
func KnownBytes(b []byte) Value {
	v := Zero(len(b))
	copy(v.Bytes, b)
	return v
}

// Size returns the width in bytes.
func (v Value) Size() int { return len(v.Bytes) }

// Width returns the width in bits.
func (v Value) Width() int { return 8 * len(v.Bytes) }

// IsVoid reports whether the value carries no bytes (a void result).
func (v Value) IsVoid() bool { return len(v.Bytes) == 0 }

// IsFullyKnown reports whether every byte is known.
func (v Value) IsFullyKnown() bool {
	for _, k := range v.Known {
		if !k {
			return false
		}
	}
	return true
}

// IsFullyUnknown reports whether no byte is known.
func (v Value) IsFullyUnknown() bool {
	for _, k := range v.Known {
		if k {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (v Value) Clone() Value {
	return Value{
		Bytes: append([]byte(nil), v.Bytes...),
		Known: append([]bool(nil), v.Known...),
	}
}

// Uint64 returns the value zero-extended to 64 bits.
func (v Value) Uint64() (uint64, bool) {
	if !v.IsFullyKnown() || len(v.Bytes) > 8 {
		return 0, false
	}
	var buf [8]byte
	copy(buf[:], v.Bytes)
	return binary.LittleEndian.Uint64(buf[:]), true
}

// Int64 returns the value sign-extended from its own width.
func (v Value) Int64() (int64, bool) {
	u, ok := v.Uint64()
	if !ok {
		return 0, false
	}
	n := len(v.Bytes)
	if n == 0 || n >= 8 {
		return int64(u), true
	}
	shift := uint(64 - 8*n)
	return int64(u<<shift) >> shift, true
}

// Int32 returns the low 32 bits as a signed integer.
func (v Value) Int32() (int32, bool) {
	if len(v.Bytes) < 4 {
		x, ok := v.Int64()
		return int32(x), ok
	}
	low := Value{Bytes: v.Bytes[:4], Known: v.Known[:4]}
	u, ok := low.Uint64()
	return int32(uint32(u)), ok
}

// Truthiness reports whether the value is non-zero. known is false only
// when no known byte is non-zero and at least one byte is unknown.
func (v Value) Truthiness() (nonZero bool, known bool) {
	allKnown := true
	for i, b := range v.Bytes {
		if !v.Known[i] {
			allKnown = false
			continue
		}
		if b != 0 {
			return true, true
		}
	}
	return false, allKnown
}

// Resize truncates or extends the value to size bytes. Extension copies
// the sign byte's knowledge when signed and adds known zero bytes
// otherwise.
func (v Value) Resize(size int, signed bool) Value {
	out := Value{Bytes: make([]byte, size), Known: make([]bool, size)}
	n := copy(out.Bytes, v.Bytes)
	copy(out.Known, v.Known)
	if n == size {
		return out
	}
	var fill byte
	fillKnown := true
	if signed && n > 0 {
		fillKnown = v.Known[n-1]
		if v.Bytes[n-1]&0x80 != 0 {
			fill = 0xFF
		}
	}
	for i := n; i < size; i++ {
		out.Known[i] = fillKnown
		if fillKnown {
			out.Bytes[i] = fill
		}
	}
	return out
}

// Equal reports whether both values have identical width, knowledge and
// known bytes.
func (v Value) Equal(o Value) bool {
	if len(v.Bytes) != len(o.Bytes) {
		return false
	}
	for i := range v.Bytes {
		if v.Known[i] != o.Known[i] {
			return false
		}
		if v.Known[i] && v.Bytes[i] != o.Bytes[i] {
			return false
		}
	}
	return true
}

// String renders the value most-significant byte first, with ?? for
// unknown bytes.
func (v Value) String() string {
	if len(v.Bytes) == 0 {
		return "void"
	}
	var sb strings.Builder
	sb.WriteString("0x")
	for i := len(v.Bytes) - 1; i >= 0; i-- {
		if v.Known[i] {
			sb.WriteString(fmt.Sprintf("%02x", v.Bytes[i]))
		} else {
			sb.WriteString("??")
		}
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Per-byte bitwise operations
// ---------------------------------------------------------------------------

// And computes a & b byte by byte. A known zero byte on either side
// produces a known zero byte.
func And(a, b Value) Value {
	out := Unknown(len(a.Bytes))
	for i := range out.Bytes {
		ak, bk := a.Known[i], b.Known[i]
		switch {
		case ak && bk:
			out.Bytes[i], out.Known[i] = a.Bytes[i]&b.Bytes[i], true
		case ak && a.Bytes[i] == 0, bk && b.Bytes[i] == 0:
			out.Known[i] = true
		}
	}
	return out
}

// Or computes a | b byte by byte. A known 0xFF byte on either side
// produces a known 0xFF byte.
func Or(a, b Value) Value {
	out := Unknown(len(a.Bytes))
	for i := range out.Bytes {
		ak, bk := a.Known[i], b.Known[i]
		switch {
		case ak && bk:
			out.Bytes[i], out.Known[i] = a.Bytes[i]|b.Bytes[i], true
		case ak && a.Bytes[i] == 0xFF, bk && b.Bytes[i] == 0xFF:
			out.Bytes[i], out.Known[i] = 0xFF, true
		}
	}
	return out
}

// Xor computes a ^ b byte by byte.
func Xor(a, b Value) Value {
	out := Unknown(len(a.Bytes))
	for i := range out.Bytes {
		if a.Known[i] && b.Known[i] {
			out.Bytes[i], out.Known[i] = a.Bytes[i]^b.Bytes[i], true
		}
	}
	return out
}

// Not computes ^a byte by byte.
func Not(a Value) Value {
	out := Unknown(len(a.Bytes))
	for i := range out.Bytes {
		if a.Known[i] {
			out.Bytes[i], out.Known[i] = ^a.Bytes[i], true
		}
	}
	return out
}
