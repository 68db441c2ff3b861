package vm

import (
	"fmt"
	"sort"

	"github.com/chazu/cildecode/pkg/cil"
)

// Statics is the static field storage of a decode session, keyed by field
// full name. Fields that were never written read as the CLR default: a
// known zero of the field's width.
type Statics struct {
	values map[string]Value
	frozen bool
}

// NewStatics creates empty static storage.
func NewStatics() *Statics {
	return &Statics{values: make(map[string]Value)}
}

// Load returns a copy of the field's current value.
func (s *Statics) Load(f cil.FieldDescriptor) Value {
	if v, ok := s.values[f.FullName()]; ok {
		return v.Clone()
	}
	size := f.FieldType().Size()
	if size == 0 {
		size = cil.PointerSize
	}
	return Zero(size)
}

// Lookup returns the stored value and whether the field was ever written.
func (s *Statics) Lookup(f cil.FieldDescriptor) (Value, bool) {
	v, ok := s.values[f.FullName()]
	if !ok {
		return Value{}, false
	}
	return v.Clone(), true
}

// Store writes a field. It fails with ErrStaticsFrozen after Freeze.
func (s *Statics) Store(f cil.FieldDescriptor, v Value) error {
	if s.frozen {
		return fmt.Errorf("%w: stsfld %s", ErrStaticsFrozen, f.FullName())
	}
	s.values[f.FullName()] = v.Clone()
	return nil
}

// Freeze makes the storage read-only.
func (s *Statics) Freeze() { s.frozen = true }

// Frozen reports whether Freeze was called.
func (s *Statics) Frozen() bool { return s.frozen }

// Names returns the written field names in sorted order.
func (s *Statics) Names() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
