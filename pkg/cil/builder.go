package cil

import "fmt"

// pendingLabel is a named branch target resolved by Builder.Build.
type pendingLabel string

// Builder assembles a MethodBody with symbolic branch labels.
type Builder struct {
	body   *MethodBody
	marks  map[string]int
	errors []error
}

// NewBuilder creates a builder for a body that zero-initializes its locals.
func NewBuilder() *Builder {
	return &Builder{
		body:  &MethodBody{InitLocals: true},
		marks: make(map[string]int),
	}
}

// Local declares a local variable and returns its index.
func (b *Builder) Local(t *TypeSig) int {
	b.body.Locals = append(b.body.Locals, t)
	return len(b.body.Locals) - 1
}

// NoInitLocals clears the InitLocals flag.
func (b *Builder) NoInitLocals() *Builder {
	b.body.InitLocals = false
	return b
}

// Len returns the number of instructions emitted so far.
func (b *Builder) Len() int {
	return len(b.body.Instructions)
}

// Emit appends an instruction without an operand.
func (b *Builder) Emit(op Code) *Builder {
	return b.EmitOperand(op, nil)
}

// EmitOperand appends an instruction with an operand.
func (b *Builder) EmitOperand(op Code, operand any) *Builder {
	b.body.Instructions = append(b.body.Instructions, NewInstruction(op, operand))
	return b
}

// EmitI4 appends ldc.i4 with the given constant.
func (b *Builder) EmitI4(v int32) *Builder {
	return b.EmitOperand(OpLdcI4, v)
}

// EmitI4S appends ldc.i4.s with the given constant.
func (b *Builder) EmitI4S(v int8) *Builder {
	return b.EmitOperand(OpLdcI4S, int32(v))
}

// EmitVar appends an instruction addressing a local or argument slot.
func (b *Builder) EmitVar(op Code, index int) *Builder {
	return b.EmitOperand(op, index)
}

// EmitBranch appends a branch to a label marked before or after.
func (b *Builder) EmitBranch(op Code, label string) *Builder {
	if !op.IsBranch() || op == OpSwitch {
		b.errors = append(b.errors, fmt.Errorf("%s is not a single-target branch", op))
	}
	return b.EmitOperand(op, pendingLabel(label))
}

// EmitSwitch appends a switch over the given labels.
func (b *Builder) EmitSwitch(labels ...string) *Builder {
	pending := make([]pendingLabel, len(labels))
	for i, l := range labels {
		pending[i] = pendingLabel(l)
	}
	return b.EmitOperand(OpSwitch, pending)
}

// Mark binds label to the next instruction emitted.
func (b *Builder) Mark(label string) *Builder {
	if _, dup := b.marks[label]; dup {
		b.errors = append(b.errors, fmt.Errorf("label %q marked twice", label))
	}
	b.marks[label] = len(b.body.Instructions)
	return b
}

// Build resolves labels, computes offsets and returns the body.
func (b *Builder) Build() (*MethodBody, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	for i, ins := range b.body.Instructions {
		switch v := ins.Operand.(type) {
		case pendingLabel:
			l, err := b.resolve(v)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %w", i, err)
			}
			ins.Operand = l
		case []pendingLabel:
			labels := make([]Label, len(v))
			for j, p := range v {
				l, err := b.resolve(p)
				if err != nil {
					return nil, fmt.Errorf("instruction %d: %w", i, err)
				}
				labels[j] = l
			}
			ins.Operand = labels
		}
	}
	b.body.ComputeOffsets()
	return b.body, nil
}

// MustBuild is like Build but panics on error. For fixtures.
func (b *Builder) MustBuild() *MethodBody {
	body, err := b.Build()
	if err != nil {
		panic(err)
	}
	return body
}

func (b *Builder) resolve(p pendingLabel) (Label, error) {
	idx, ok := b.marks[string(p)]
	if !ok {
		return 0, fmt.Errorf("undefined label %q", string(p))
	}
	if idx >= len(b.body.Instructions) {
		return 0, fmt.Errorf("label %q marks the end of the body", string(p))
	}
	return Label(idx), nil
}
