package vm

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/chazu/cildecode/pkg/cil"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("cildecode.vm")

// DefaultMaxDepth bounds nested calls when Config.MaxDepth is zero.
const DefaultMaxDepth = 256

// Config tunes a Machine.
type Config struct {
	MaxDepth  int  // nested frames before ErrCallDepth; 0 means DefaultMaxDepth
	StepLimit int  // instructions per Call before ErrStepLimit; 0 means unlimited
	Trace     bool // log every dispatched instruction at debug level
}

// ---------------------------------------------------------------------------
// Hooks
// ---------------------------------------------------------------------------

// Dispatch is the mutable view of an instruction about to execute.
// Hooks may change OpCode to alter how the instruction is interpreted;
// the instruction itself is never modified.
type Dispatch struct {
	Context     *ExecutionContext
	Instruction *cil.Instruction
	OpCode      cil.Code
}

// DispatchHook runs before every instruction.
type DispatchHook func(d *Dispatch)

// InvokeHook observes every shim invocation.
type InvokeHook func(method cil.MethodDescriptor, args []Value)

type dispatchEntry struct {
	id int
	fn DispatchHook
}

type invokeEntry struct {
	id int
	fn InvokeHook
}

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// Machine is a selective CIL interpreter bound to one module. It owns the
// heap and static storage of one decode session and is not safe for
// concurrent use; independent sessions use independent machines.
type Machine struct {
	Module     *cil.Module
	Heap       *Heap
	Statics    *Statics
	Shims      *ShimTable
	Marshaller *Marshaller

	config Config
	frames []*Frame
	steps  int

	dispatchHooks []dispatchEntry
	invokeHooks   []invokeEntry
	nextHookID    int
}

// NewMachine creates a machine with an empty shim table.
func NewMachine(module *cil.Module, config Config) *Machine {
	if config.MaxDepth <= 0 {
		config.MaxDepth = DefaultMaxDepth
	}
	heap := NewHeap()
	return &Machine{
		Module:     module,
		Heap:       heap,
		Statics:    NewStatics(),
		Shims:      NewShimTable(),
		Marshaller: NewMarshaller(heap),
		config:     config,
	}
}

// Config returns the effective configuration.
func (m *Machine) Config() Config { return m.config }

// Depth returns the number of active frames.
func (m *Machine) Depth() int { return len(m.frames) }

// AddDispatchHook registers a hook and returns a function removing it.
func (m *Machine) AddDispatchHook(fn DispatchHook) (remove func()) {
	m.nextHookID++
	id := m.nextHookID
	m.dispatchHooks = append(m.dispatchHooks, dispatchEntry{id: id, fn: fn})
	return func() {
		for i, h := range m.dispatchHooks {
			if h.id == id {
				m.dispatchHooks = append(m.dispatchHooks[:i:i], m.dispatchHooks[i+1:]...)
				return
			}
		}
	}
}

// AddInvokeHook registers an observer and returns a function removing it.
func (m *Machine) AddInvokeHook(fn InvokeHook) (remove func()) {
	m.nextHookID++
	id := m.nextHookID
	m.invokeHooks = append(m.invokeHooks, invokeEntry{id: id, fn: fn})
	return func() {
		for i, h := range m.invokeHooks {
			if h.id == id {
				m.invokeHooks = append(m.invokeHooks[:i:i], m.invokeHooks[i+1:]...)
				return
			}
		}
	}
}

// Call executes method with args and returns its result. Void methods
// return a Value with no bytes. Faults raised during execution are
// returned as errors and leave the machine ready for the next call; heap
// objects and static stores made before the fault are kept.
func (m *Machine) Call(method cil.MethodDescriptor, args []Value) (result Value, err error) {
	m.frames = m.frames[:0]
	m.steps = 0

	defer func() {
		if r := recover(); r != nil {
			var f fault
			switch r := r.(type) {
			case fault:
				f = r
			case runtime.Error:
				f = fault{err: fmt.Errorf("%w: %s", ErrInternal, r)}
				log.Warningf("call %s: %s", method.FullName(), r)
			default:
				panic(r)
			}
			m.frames = m.frames[:0]
			result, err = Value{}, f.err
			log.Debugf("call %s aborted: %s", method.FullName(), f.err)
		}
	}()

	sig := method.MethodSig()
	if len(args) != sig.ArgCount() {
		return Value{}, fmt.Errorf("%w: %s expects %d arguments, got %d",
			ErrInvalidProgram, method.FullName(), sig.ArgCount(), len(args))
	}
	ctx := &ExecutionContext{Machine: m}
	result = m.invoke(ctx, method, args)
	return result, nil
}

// invoke resolves a call: a mapped shim first, then the callee's body,
// then the fallback handler.
func (m *Machine) invoke(ctx *ExecutionContext, method cil.MethodDescriptor, args []Value) Value {
	if fn, ok := m.Shims.Lookup(method); ok {
		return m.stepOver(ctx, method, fn, args)
	}
	if def := method.Resolve(); def != nil && def.HasBody() {
		return m.execute(def, cil.GenericArgs(method), args)
	}
	return m.stepOver(ctx, method, m.Shims.Fallback(), args)
}

func (m *Machine) stepOver(ctx *ExecutionContext, method cil.MethodDescriptor, fn ShimFunc, args []Value) Value {
	for _, h := range m.invokeHooks {
		h.fn(method, args)
	}
	res := fn(ctx, method, args)
	switch res.Kind {
	case ResultStepOver:
		if res.Value == nil {
			if method.MethodSig().ReturnsValue() {
				raisef(ErrUnknownResult, "%s returned nothing", method.FullName())
			}
			return Value{}
		}
		return *res.Value
	case ResultUnknown:
		raisef(ErrUnknownResult, "%s", method.FullName())
	}
	raisef(ErrInvalidProgram, "shim for %s returned kind %d", method.FullName(), res.Kind)
	return Value{}
}

// execute runs a method body in a new frame.
func (m *Machine) execute(def *cil.MethodDef, genericArgs []*cil.TypeSig, args []Value) Value {
	if len(m.frames) >= m.config.MaxDepth {
		raisef(ErrCallDepth, "%d frames entering %s", len(m.frames), def.FullName())
	}
	frame := newFrame(def, genericArgs, args)
	m.frames = append(m.frames, frame)
	result := m.run(frame)
	m.frames = m.frames[:len(m.frames)-1]
	return result
}

// IsAbort reports whether err is one of the engine's decode-abort errors.
func IsAbort(err error) bool {
	for _, sentinel := range []error{
		ErrUnknownResult, ErrUnsupportedOpcode, ErrUnsupportedType, ErrUnknownBranch,
		ErrNullReference, ErrIndexOutOfRange, ErrTypeMismatch, ErrDivideByZero,
		ErrStaticsFrozen, ErrCallDepth, ErrStepLimit, ErrInvalidProgram, ErrUnknownValue,
		ErrInternal,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
