package vm

import (
	"errors"
	"fmt"
)

// Errors that abort a single decode. Every one of them is recoverable by
// the caller: the machine is reset and stays usable.
var (
	ErrUnknownResult     = errors.New("call produced no known result")
	ErrUnsupportedOpcode = errors.New("unsupported opcode")
	ErrUnsupportedType   = errors.New("unsupported type")
	ErrUnknownBranch     = errors.New("branch condition is not fully known")
	ErrNullReference     = errors.New("null or unknown reference")
	ErrIndexOutOfRange   = errors.New("index out of range")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrDivideByZero      = errors.New("division by zero")
	ErrStaticsFrozen     = errors.New("static storage is frozen")
	ErrCallDepth         = errors.New("maximum call depth exceeded")
	ErrStepLimit         = errors.New("step limit exceeded")
	ErrInvalidProgram    = errors.New("invalid program")
	ErrUnknownValue      = errors.New("value is not fully known")
	ErrInternal          = errors.New("runtime error in interpreted code")
)

// fault is raised with panic inside the interpreter loop and recovered at
// the Call boundary.
type fault struct {
	err error
}

func (f fault) Error() string { return f.err.Error() }

// raise aborts the current decode.
func raise(err error) {
	panic(fault{err: err})
}

// raisef aborts the current decode with a formatted error wrapping sentinel.
func raisef(sentinel error, format string, args ...any) {
	panic(fault{err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))})
}
