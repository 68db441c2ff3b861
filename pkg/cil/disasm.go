package cil

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the body.
func (b *MethodBody) Disassemble() string {
	return b.DisassembleWithName("")
}

// DisassembleWithName returns a listing with a name header.
func (b *MethodBody) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Instructions: %d", len(b.Instructions)))
	if b.InitLocals {
		sb.WriteString(" [INIT_LOCALS]")
	}
	sb.WriteString("\n")

	// Locals
	if len(b.Locals) > 0 {
		sb.WriteString("; Locals:\n")
		for i, t := range b.Locals {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, t.FullName()))
		}
	}
	sb.WriteString("\n")

	// Code section
	sb.WriteString("; Code:\n")
	for i, ins := range b.Instructions {
		sb.WriteString(fmt.Sprintf("%4d  %s\n", i, disassembleInstruction(ins)))
	}

	return sb.String()
}

// Disassemble returns a listing of the method, or a one-line note for
// methods without a body.
func (m *MethodDef) Disassemble() string {
	if m.Body == nil {
		return fmt.Sprintf("; === %s ===\n; <no body>\n", m.FullName())
	}
	return m.Body.DisassembleWithName(m.FullName())
}

func disassembleInstruction(ins *Instruction) string {
	prefix := fmt.Sprintf("IL_%04X: %-12s", ins.Offset, ins.OpCode)

	switch v := ins.Operand.(type) {
	case nil:
		return strings.TrimRight(prefix, " ")
	case string:
		// Truncate long strings for readability
		display := v
		if len(display) > 40 {
			display = display[:37] + "..."
		}
		return fmt.Sprintf("%s %q", prefix, display)
	}
	return prefix + " " + FormatOperand(ins.Operand)
}
