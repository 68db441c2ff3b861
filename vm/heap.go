package vm

import (
	"fmt"

	"github.com/chazu/cildecode/pkg/cil"
)

// ---------------------------------------------------------------------------
// Heap: address-indexed mock objects
// ---------------------------------------------------------------------------

const (
	heapBase   uint64 = 0x0000_0100_0000_0000
	tokenBase  uint64 = 0x0000_7F00_0000_0000
	objectHead uint64 = 16
)

// ObjectKind distinguishes the shapes of heap objects.
type ObjectKind uint8

const (
	ObjectArray ObjectKind = iota + 1
	ObjectString
	ObjectBoxed
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectArray:
		return "array"
	case ObjectString:
		return "string"
	case ObjectBoxed:
		return "boxed"
	}
	return "object"
}

// Object is a heap object. Arrays hold Length elements of Type.Size()
// bytes each in Data; strings hold Text; boxed scalars hold Data.
type Object struct {
	Address uint64
	Kind    ObjectKind
	Type    *cil.TypeSig // element type for arrays, value type when boxed
	Length  int
	Data    Value
	Text    string
}

// Handle references a heap object without owning it.
type Handle struct {
	Address uint64
	Type    *cil.TypeSig
}

// Handle returns a handle to the object.
func (o *Object) Handle() Handle {
	switch o.Kind {
	case ObjectArray:
		return Handle{Address: o.Address, Type: cil.SZArrayOf(o.Type)}
	case ObjectString:
		return Handle{Address: o.Address, Type: cil.TypeString}
	}
	return Handle{Address: o.Address, Type: o.Type}
}

// Ref returns a reference value pointing at the object.
func (o *Object) Ref() Value { return Ref(o.Address) }

// ElementSize returns the width of one array element in bytes.
func (o *Object) ElementSize() int {
	return o.Type.Size()
}

// LoadElement returns a copy of element i.
func (o *Object) LoadElement(i int) (Value, error) {
	if o.Kind != ObjectArray {
		return Value{}, fmt.Errorf("%w: %s is not an array", ErrTypeMismatch, o.Kind)
	}
	if i < 0 || i >= o.Length {
		return Value{}, fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, i, o.Length)
	}
	size := o.ElementSize()
	start := i * size
	return Value{
		Bytes: append([]byte(nil), o.Data.Bytes[start:start+size]...),
		Known: append([]bool(nil), o.Data.Known[start:start+size]...),
	}, nil
}

// StoreElement overwrites element i, truncating or zero-extending v to the
// element width.
func (o *Object) StoreElement(i int, v Value) error {
	if o.Kind != ObjectArray {
		return fmt.Errorf("%w: %s is not an array", ErrTypeMismatch, o.Kind)
	}
	if i < 0 || i >= o.Length {
		return fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, i, o.Length)
	}
	size := o.ElementSize()
	v = v.Resize(size, false)
	copy(o.Data.Bytes[i*size:], v.Bytes)
	copy(o.Data.Known[i*size:], v.Known)
	return nil
}

// WriteData copies raw bytes into the start of the array's storage,
// stopping at whichever of the two is shorter. The written bytes become
// known.
func (o *Object) WriteData(data []byte) int {
	n := copy(o.Data.Bytes, data)
	for i := 0; i < n; i++ {
		o.Data.Known[i] = true
	}
	return n
}

// Bytes returns the raw storage of a byte array when every byte is known.
func (o *Object) Bytes() ([]byte, bool) {
	if o.Kind != ObjectArray || !o.Data.IsFullyKnown() {
		return nil, false
	}
	return append([]byte(nil), o.Data.Bytes...), true
}

// Heap owns every object allocated during a decode session.
type Heap struct {
	objects map[uint64]*Object
	next    uint64

	interned map[string]*Object

	tokens    map[uint64]any
	tokenAddr map[string]uint64
	nextToken uint64
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{
		objects:   make(map[uint64]*Object),
		next:      heapBase,
		interned:  make(map[string]*Object),
		tokens:    make(map[uint64]any),
		tokenAddr: make(map[string]uint64),
		nextToken: tokenBase,
	}
}

func (h *Heap) allocate(o *Object, payload int) *Object {
	o.Address = h.next
	size := objectHead + uint64(payload)
	h.next += (size + 7) &^ 7
	h.objects[o.Address] = o
	return o
}

// MaxArrayBytes bounds the payload of a single array allocation.
const MaxArrayBytes = 64 << 20

// AllocArray allocates a zero-initialized array. Arrays whose payload
// would exceed MaxArrayBytes are rejected.
func (h *Heap) AllocArray(elem *cil.TypeSig, length int) (*Object, error) {
	size := elem.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: array of %s", ErrUnsupportedType, elem)
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: negative array length %d", ErrIndexOutOfRange, length)
	}
	if length > MaxArrayBytes/size {
		return nil, fmt.Errorf("%w: array of %d %s exceeds %d bytes", ErrIndexOutOfRange, length, elem, MaxArrayBytes)
	}
	o := &Object{Kind: ObjectArray, Type: elem, Length: length, Data: Zero(size * length)}
	return h.allocate(o, size*length), nil
}

// AllocBytes allocates a byte array holding a copy of data.
func (h *Heap) AllocBytes(data []byte) *Object {
	o := &Object{Kind: ObjectArray, Type: cil.TypeByte, Length: len(data), Data: KnownBytes(data)}
	return h.allocate(o, len(data))
}

// AllocString allocates a new string object.
func (h *Heap) AllocString(s string) *Object {
	o := &Object{Kind: ObjectString, Type: cil.TypeString, Length: len(s), Text: s}
	return h.allocate(o, 2*len(s))
}

// Intern returns the shared string object for s, allocating it once.
func (h *Heap) Intern(s string) *Object {
	if o, ok := h.interned[s]; ok {
		return o
	}
	o := h.AllocString(s)
	h.interned[s] = o
	return o
}

// Box allocates a boxed copy of a scalar value.
func (h *Heap) Box(t *cil.TypeSig, v Value) (*Object, error) {
	size := t.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: box %s", ErrUnsupportedType, t)
	}
	o := &Object{Kind: ObjectBoxed, Type: t, Data: v.Resize(size, t.IsSigned())}
	return h.allocate(o, size), nil
}

// Get returns the object at addr.
func (h *Heap) Get(addr uint64) (*Object, bool) {
	o, ok := h.objects[addr]
	return o, ok
}

// Deref resolves a reference value. The reference must be fully known,
// non-null and point at a live object.
func (h *Heap) Deref(ref Value) (*Object, error) {
	addr, ok := ref.Uint64()
	if !ok {
		return nil, fmt.Errorf("%w: unknown reference %s", ErrNullReference, ref)
	}
	if addr == 0 {
		return nil, fmt.Errorf("%w: null reference", ErrNullReference)
	}
	o, ok := h.objects[addr]
	if !ok {
		return nil, fmt.Errorf("%w: no object at 0x%x", ErrNullReference, addr)
	}
	return o, nil
}

// Len returns the number of live objects.
func (h *Heap) Len() int { return len(h.objects) }

// ---------------------------------------------------------------------------
// Runtime handles
// ---------------------------------------------------------------------------

// TokenHandle registers a metadata token operand (field, method or type)
// and returns its mock handle address. The same member always gets the
// same address.
func (h *Heap) TokenHandle(tok any) uint64 {
	key := tokenKey(tok)
	if addr, ok := h.tokenAddr[key]; ok {
		return addr
	}
	addr := h.nextToken
	h.nextToken += 8
	h.tokenAddr[key] = addr
	h.tokens[addr] = tok
	return addr
}

// Token resolves a handle address back to its member.
func (h *Heap) Token(addr uint64) (any, bool) {
	tok, ok := h.tokens[addr]
	return tok, ok
}

// Field resolves a runtime field handle address. ok is false when the
// address was never produced by ldtoken on a field.
func (h *Heap) Field(addr uint64) (cil.FieldDescriptor, bool) {
	tok, ok := h.tokens[addr]
	if !ok {
		return nil, false
	}
	f, ok := tok.(cil.FieldDescriptor)
	return f, ok
}

func tokenKey(tok any) string {
	switch t := tok.(type) {
	case cil.FieldDescriptor:
		return "field:" + t.FullName()
	case cil.MethodDescriptor:
		return "method:" + t.FullName()
	case *cil.TypeSig:
		return "type:" + t.FullName()
	}
	return fmt.Sprintf("other:%p", tok)
}
