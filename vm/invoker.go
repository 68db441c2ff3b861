package vm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chazu/cildecode/pkg/cil"
)

// ---------------------------------------------------------------------------
// Invocation results
// ---------------------------------------------------------------------------

// ResultKind tells the engine how a shim handled a call.
type ResultKind uint8

const (
	// ResultStepOver means the call was handled; Value is pushed when the
	// callee returns something.
	ResultStepOver ResultKind = iota + 1
	// ResultUnknown means the shim cannot produce a known result.
	ResultUnknown
)

// InvocationResult is returned by every shim.
type InvocationResult struct {
	Kind  ResultKind
	Value *Value
}

// StepOver reports a handled call. v may be nil for void callees.
func StepOver(v *Value) InvocationResult {
	return InvocationResult{Kind: ResultStepOver, Value: v}
}

// StepOverValue is StepOver with a non-nil value.
func StepOverValue(v Value) InvocationResult {
	return StepOver(&v)
}

// UnknownResult reports a call whose result cannot be determined.
func UnknownResult() InvocationResult {
	return InvocationResult{Kind: ResultUnknown}
}

// ExecutionContext is what a shim sees of the machine.
type ExecutionContext struct {
	Machine *Machine
	Frame   *Frame // calling frame, nil for top-level calls
}

// Heap returns the machine's heap.
func (c *ExecutionContext) Heap() *Heap { return c.Machine.Heap }

// Statics returns the machine's static storage.
func (c *ExecutionContext) Statics() *Statics { return c.Machine.Statics }

// Marshaller returns the machine's marshaller.
func (c *ExecutionContext) Marshaller() *Marshaller { return c.Machine.Marshaller }

// ShimFunc replaces the execution of a method.
type ShimFunc func(ctx *ExecutionContext, method cil.MethodDescriptor, args []Value) InvocationResult

// ---------------------------------------------------------------------------
// Ready-made shims
// ---------------------------------------------------------------------------

// ReturnUnknown is the default fallback: the call has no known result.
func ReturnUnknown(_ *ExecutionContext, _ cil.MethodDescriptor, _ []Value) InvocationResult {
	return UnknownResult()
}

// ReturnTrue answers any call with a known boolean true.
func ReturnTrue(_ *ExecutionContext, _ cil.MethodDescriptor, _ []Value) InvocationResult {
	return StepOverValue(Bool(true))
}

// PassThrough returns the first argument unchanged.
func PassThrough(_ *ExecutionContext, method cil.MethodDescriptor, args []Value) InvocationResult {
	if len(args) == 0 {
		return UnknownResult()
	}
	return StepOverValue(args[0].Clone())
}

// ---------------------------------------------------------------------------
// ShimTable
// ---------------------------------------------------------------------------

// ShimTable maps canonical method identities to shims. It is populated
// during setup and sealed before execution begins; lookups on a sealed
// table are safe for concurrent use.
type ShimTable struct {
	mu       sync.RWMutex
	shims    map[string]ShimFunc
	fallback ShimFunc
	sealed   bool
}

// NewShimTable creates an empty table whose fallback is ReturnUnknown.
func NewShimTable() *ShimTable {
	return &ShimTable{
		shims:    make(map[string]ShimFunc),
		fallback: ReturnUnknown,
	}
}

// Map installs fn for method. Instantiations of a generic method share
// the mapping. Panics if the table is sealed.
func (t *ShimTable) Map(method cil.MethodDescriptor, fn ShimFunc) *ShimTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		panic(fmt.Sprintf("shim table sealed: cannot map %s", method.FullName()))
	}
	t.shims[cil.MethodKey(method)] = fn
	return t
}

// MapMany installs fn for every method.
func (t *ShimTable) MapMany(methods []cil.MethodDescriptor, fn ShimFunc) *ShimTable {
	for _, m := range methods {
		t.Map(m, fn)
	}
	return t
}

// WithFallback sets the handler used for calls that have neither a shim
// nor a body. Panics if the table is sealed.
func (t *ShimTable) WithFallback(fn ShimFunc) *ShimTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		panic("shim table sealed: cannot change fallback")
	}
	t.fallback = fn
	return t
}

// Lookup returns the shim mapped for method.
func (t *ShimTable) Lookup(method cil.MethodDescriptor) (ShimFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.shims[cil.MethodKey(method)]
	return fn, ok
}

// Fallback returns the fallback handler.
func (t *ShimTable) Fallback() ShimFunc {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fallback
}

// Seal makes the table read-only.
func (t *ShimTable) Seal() {
	t.mu.Lock()
	t.sealed = true
	t.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (t *ShimTable) Sealed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sealed
}

// Keys returns the mapped method identities in sorted order.
func (t *ShimTable) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.shims))
	for k := range t.shims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
