package vm

import (
	"fmt"
)

// Marshaller converts between engine values and host Go values. Host
// values that need storage (byte slices, strings) are allocated on the
// machine's heap.
type Marshaller struct {
	heap *Heap
}

// NewMarshaller creates a marshaller allocating on heap.
func NewMarshaller(heap *Heap) *Marshaller {
	return &Marshaller{heap: heap}
}

// FromBool converts a Go bool.
func (m *Marshaller) FromBool(b bool) Value { return Bool(b) }

// FromInt32 converts a Go int32.
func (m *Marshaller) FromInt32(x int32) Value { return I32(x) }

// FromBytes allocates a byte array and returns a reference to it. A nil
// slice becomes the null reference.
func (m *Marshaller) FromBytes(b []byte) Value {
	if b == nil {
		return Null()
	}
	return m.heap.AllocBytes(b).Ref()
}

// FromString allocates a string object and returns a reference to it.
func (m *Marshaller) FromString(s string) Value {
	return m.heap.AllocString(s).Ref()
}

// ToValue converts a supported Go value: bool, int32, int, int64, uint32,
// []byte, string, Value or nil.
func (m *Marshaller) ToValue(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case bool:
		return m.FromBool(v), nil
	case int32:
		return I32(v), nil
	case uint32:
		return I32(int32(v)), nil
	case int:
		return I32(int32(v)), nil
	case int64:
		return I64(v), nil
	case []byte:
		return m.FromBytes(v), nil
	case string:
		return m.FromString(v), nil
	}
	return Value{}, fmt.Errorf("%w: cannot marshal %T", ErrTypeMismatch, x)
}

// ToBool converts a fully known value to a Go bool.
func (m *Marshaller) ToBool(v Value) (bool, error) {
	nonZero, known := v.Truthiness()
	if !known || !v.IsFullyKnown() {
		return false, fmt.Errorf("%w: %s", ErrUnknownValue, v)
	}
	return nonZero, nil
}

// ToInt32 converts the low 32 bits of a fully known value.
func (m *Marshaller) ToInt32(v Value) (int32, error) {
	x, ok := v.Int32()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownValue, v)
	}
	return x, nil
}

// ToBytes dereferences a byte array. Null converts to a nil slice.
func (m *Marshaller) ToBytes(v Value) ([]byte, error) {
	if addr, ok := v.Uint64(); ok && addr == 0 {
		return nil, nil
	}
	obj, err := m.heap.Deref(v)
	if err != nil {
		return nil, err
	}
	if obj.Kind != ObjectArray || obj.ElementSize() != 1 {
		return nil, fmt.Errorf("%w: %s is not a byte array", ErrTypeMismatch, obj.Handle().Type)
	}
	data, ok := obj.Bytes()
	if !ok {
		return nil, fmt.Errorf("%w: array at 0x%x has unknown bytes", ErrUnknownValue, obj.Address)
	}
	return data, nil
}

// ToString dereferences a string object.
func (m *Marshaller) ToString(v Value) (string, error) {
	obj, err := m.heap.Deref(v)
	if err != nil {
		return "", err
	}
	if obj.Kind != ObjectString {
		return "", fmt.Errorf("%w: %s is not a string", ErrTypeMismatch, obj.Kind)
	}
	return obj.Text, nil
}
