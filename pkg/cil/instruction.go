package cil

import (
	"fmt"
	"strconv"
	"strings"
)

// Label is a branch target: the index of the target instruction in its
// body. Indices stay valid across in-place rewrites because patching never
// inserts or removes instructions.
type Label int

// Instruction is a single CIL instruction.
//
// Operand types by OperandType:
//
//	InlineNone                      nil
//	ShortInlineI, InlineI           int32
//	InlineI8                        int64
//	ShortInlineR                    float32
//	InlineR                         float64
//	ShortInlineVar, InlineVar       int
//	*BrTarget                       Label
//	InlineSwitch                    []Label
//	InlineMethod                    MethodDescriptor
//	InlineField                     FieldDescriptor
//	InlineType                      *TypeSig
//	InlineTok                       FieldDescriptor, MethodDescriptor or *TypeSig
//	InlineString                    string
type Instruction struct {
	Offset  int
	OpCode  Code
	Operand any
}

// NewInstruction creates an instruction.
func NewInstruction(op Code, operand any) *Instruction {
	return &Instruction{OpCode: op, Operand: operand}
}

// Size returns the encoded size of the instruction in bytes.
func (ins *Instruction) Size() int {
	t := ins.OpCode.OperandType()
	if t == InlineSwitch {
		labels, _ := ins.Operand.([]Label)
		return ins.OpCode.Size() + 4 + 4*len(labels)
	}
	return ins.OpCode.Size() + operandSize(t)
}

// IsLdcI4 reports whether the instruction pushes an int32 constant.
func (ins *Instruction) IsLdcI4() bool {
	switch ins.OpCode {
	case OpLdcI4, OpLdcI4S, OpLdcI4M1,
		OpLdcI40, OpLdcI41, OpLdcI42, OpLdcI43, OpLdcI44,
		OpLdcI45, OpLdcI46, OpLdcI47, OpLdcI48:
		return true
	}
	return false
}

// LdcI4Constant returns the constant pushed by an ldc.i4 form.
// The result is meaningless when IsLdcI4 is false.
func (ins *Instruction) LdcI4Constant() int32 {
	switch ins.OpCode {
	case OpLdcI4M1:
		return -1
	case OpLdcI40, OpLdcI41, OpLdcI42, OpLdcI43, OpLdcI44,
		OpLdcI45, OpLdcI46, OpLdcI47, OpLdcI48:
		return int32(ins.OpCode - OpLdcI40)
	case OpLdcI4, OpLdcI4S:
		switch v := ins.Operand.(type) {
		case int32:
			return v
		case int8:
			return int32(v)
		case int:
			return int32(v)
		}
	}
	return 0
}

// IsUnconditionalBranch reports whether control always transfers to the
// operand label.
func (ins *Instruction) IsUnconditionalBranch() bool {
	return ins.OpCode.IsUnconditionalBranch()
}

// BranchTarget returns the label of a branch instruction.
func (ins *Instruction) BranchTarget() (Label, bool) {
	l, ok := ins.Operand.(Label)
	return l, ok
}

// ReplaceWithNop turns the instruction into a nop in place.
func (ins *Instruction) ReplaceWithNop() {
	ins.OpCode = OpNop
	ins.Operand = nil
}

// ReplaceWith rewrites opcode and operand in place.
func (ins *Instruction) ReplaceWith(op Code, operand any) {
	ins.OpCode = op
	ins.Operand = operand
}

// String renders the instruction as "IL_0000: mnemonic operand".
func (ins *Instruction) String() string {
	s := fmt.Sprintf("IL_%04X: %s", ins.Offset, ins.OpCode)
	if op := FormatOperand(ins.Operand); op != "" {
		s += " " + op
	}
	return s
}

// FormatOperand renders an operand the way the disassembler prints it.
func FormatOperand(operand any) string {
	switch v := operand.(type) {
	case nil:
		return ""
	case string:
		return strconv.Quote(v)
	case Label:
		return fmt.Sprintf("@%d", int(v))
	case []Label:
		parts := make([]string, len(v))
		for i, l := range v {
			parts[i] = fmt.Sprintf("@%d", int(l))
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case MethodDescriptor:
		return v.FullName()
	case FieldDescriptor:
		return v.FullName()
	case *TypeSig:
		return v.FullName()
	default:
		return fmt.Sprint(v)
	}
}

// MethodBody holds the instructions and locals of a method.
type MethodBody struct {
	Instructions []*Instruction
	Locals       []*TypeSig
	InitLocals   bool
	MaxStack     int
}

// ComputeOffsets assigns byte offsets from instruction sizes.
func (b *MethodBody) ComputeOffsets() {
	off := 0
	for _, ins := range b.Instructions {
		ins.Offset = off
		off += ins.Size()
	}
}

// IndexOf returns the position of ins in the body, or -1.
func (b *MethodBody) IndexOf(ins *Instruction) int {
	for i, x := range b.Instructions {
		if x == ins {
			return i
		}
	}
	return -1
}

// Validate checks that branch labels and variable indices are in range.
func (b *MethodBody) Validate(sig *MethodSig) error {
	n := len(b.Instructions)
	for i, ins := range b.Instructions {
		if !ins.OpCode.Known() {
			return fmt.Errorf("instruction %d: unknown opcode 0x%04X", i, uint16(ins.OpCode))
		}
		switch v := ins.Operand.(type) {
		case Label:
			if int(v) < 0 || int(v) >= n {
				return fmt.Errorf("instruction %d: branch target %d out of range", i, v)
			}
		case []Label:
			for _, l := range v {
				if int(l) < 0 || int(l) >= n {
					return fmt.Errorf("instruction %d: switch target %d out of range", i, l)
				}
			}
		}
		switch ins.OpCode {
		case OpLdlocS, OpLdlocaS, OpStlocS, OpLdloc, OpLdloca, OpStloc:
			if idx, _ := ins.Operand.(int); idx < 0 || idx >= len(b.Locals) {
				return fmt.Errorf("instruction %d: local %v out of range", i, ins.Operand)
			}
		case OpLdargS, OpLdargaS, OpStargS, OpLdarg, OpLdarga, OpStarg:
			if sig != nil {
				if idx, _ := ins.Operand.(int); idx < 0 || idx >= sig.ArgCount() {
					return fmt.Errorf("instruction %d: argument %v out of range", i, ins.Operand)
				}
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the instruction list. Operands that are
// member descriptors are shared.
func (b *MethodBody) Clone() *MethodBody {
	out := &MethodBody{
		Instructions: make([]*Instruction, len(b.Instructions)),
		Locals:       append([]*TypeSig(nil), b.Locals...),
		InitLocals:   b.InitLocals,
		MaxStack:     b.MaxStack,
	}
	for i, ins := range b.Instructions {
		cp := *ins
		if labels, ok := ins.Operand.([]Label); ok {
			cp.Operand = append([]Label(nil), labels...)
		}
		out.Instructions[i] = &cp
	}
	return out
}
