package cil

import "fmt"

// Code identifies a CIL opcode. Single-byte opcodes use their byte value;
// two-byte opcodes (0xFE prefix) are encoded as 0xFE00 | second byte.
type Code uint16

// OperandType describes the inline operand that follows an opcode.
type OperandType uint8

const (
	InlineNone OperandType = iota
	ShortInlineI
	InlineI
	InlineI8
	ShortInlineR
	InlineR
	ShortInlineVar
	InlineVar
	ShortInlineBrTarget
	InlineBrTarget
	InlineSwitch
	InlineMethod
	InlineField
	InlineType
	InlineTok
	InlineString
	InlineSig
)

// FlowControl classifies how an opcode affects control flow.
type FlowControl uint8

const (
	FlowNext FlowControl = iota
	FlowBranch
	FlowCondBranch
	FlowCall
	FlowReturn
	FlowThrow
	FlowBreak
	FlowMeta
)

const (
	// ========================================================================
	// Base instructions (0x00-0x2A)
	// ========================================================================

	OpNop     Code = 0x00
	OpBreak   Code = 0x01
	OpLdarg0  Code = 0x02
	OpLdarg1  Code = 0x03
	OpLdarg2  Code = 0x04
	OpLdarg3  Code = 0x05
	OpLdloc0  Code = 0x06
	OpLdloc1  Code = 0x07
	OpLdloc2  Code = 0x08
	OpLdloc3  Code = 0x09
	OpStloc0  Code = 0x0A
	OpStloc1  Code = 0x0B
	OpStloc2  Code = 0x0C
	OpStloc3  Code = 0x0D
	OpLdargS  Code = 0x0E
	OpLdargaS Code = 0x0F
	OpStargS  Code = 0x10
	OpLdlocS  Code = 0x11
	OpLdlocaS Code = 0x12
	OpStlocS  Code = 0x13
	OpLdnull  Code = 0x14
	OpLdcI4M1 Code = 0x15
	OpLdcI40  Code = 0x16
	OpLdcI41  Code = 0x17
	OpLdcI42  Code = 0x18
	OpLdcI43  Code = 0x19
	OpLdcI44  Code = 0x1A
	OpLdcI45  Code = 0x1B
	OpLdcI46  Code = 0x1C
	OpLdcI47  Code = 0x1D
	OpLdcI48  Code = 0x1E
	OpLdcI4S  Code = 0x1F
	OpLdcI4   Code = 0x20
	OpLdcI8   Code = 0x21
	OpLdcR4   Code = 0x22
	OpLdcR8   Code = 0x23
	OpDup     Code = 0x25
	OpPop     Code = 0x26
	OpCall    Code = 0x28
	OpRet     Code = 0x2A

	// ========================================================================
	// Branches (0x2B-0x45)
	// ========================================================================

	OpBrS      Code = 0x2B
	OpBrfalseS Code = 0x2C
	OpBrtrueS  Code = 0x2D
	OpBeqS     Code = 0x2E
	OpBgeS     Code = 0x2F
	OpBgtS     Code = 0x30
	OpBleS     Code = 0x31
	OpBltS     Code = 0x32
	OpBneUnS   Code = 0x33
	OpBgeUnS   Code = 0x34
	OpBgtUnS   Code = 0x35
	OpBleUnS   Code = 0x36
	OpBltUnS   Code = 0x37
	OpBr       Code = 0x38
	OpBrfalse  Code = 0x39
	OpBrtrue   Code = 0x3A
	OpBeq      Code = 0x3B
	OpBge      Code = 0x3C
	OpBgt      Code = 0x3D
	OpBle      Code = 0x3E
	OpBlt      Code = 0x3F
	OpBneUn    Code = 0x40
	OpBgeUn    Code = 0x41
	OpBgtUn    Code = 0x42
	OpBleUn    Code = 0x43
	OpBltUn    Code = 0x44
	OpSwitch   Code = 0x45

	// ========================================================================
	// Indirect load/store (0x46-0x57)
	// ========================================================================

	OpLdindI1  Code = 0x46
	OpLdindU1  Code = 0x47
	OpLdindI2  Code = 0x48
	OpLdindU2  Code = 0x49
	OpLdindI4  Code = 0x4A
	OpLdindU4  Code = 0x4B
	OpLdindI8  Code = 0x4C
	OpLdindI   Code = 0x4D
	OpLdindRef Code = 0x50
	OpStindRef Code = 0x51
	OpStindI1  Code = 0x52
	OpStindI2  Code = 0x53
	OpStindI4  Code = 0x54
	OpStindI8  Code = 0x55

	// ========================================================================
	// Arithmetic and conversion (0x58-0x6E)
	// ========================================================================

	OpAdd    Code = 0x58
	OpSub    Code = 0x59
	OpMul    Code = 0x5A
	OpDiv    Code = 0x5B
	OpDivUn  Code = 0x5C
	OpRem    Code = 0x5D
	OpRemUn  Code = 0x5E
	OpAnd    Code = 0x5F
	OpOr     Code = 0x60
	OpXor    Code = 0x61
	OpShl    Code = 0x62
	OpShr    Code = 0x63
	OpShrUn  Code = 0x64
	OpNeg    Code = 0x65
	OpNot    Code = 0x66
	OpConvI1 Code = 0x67
	OpConvI2 Code = 0x68
	OpConvI4 Code = 0x69
	OpConvI8 Code = 0x6A
	OpConvR4 Code = 0x6B
	OpConvR8 Code = 0x6C
	OpConvU4 Code = 0x6D
	OpConvU8 Code = 0x6E

	// ========================================================================
	// Object model (0x6F-0xA5)
	// ========================================================================

	OpCallvirt  Code = 0x6F
	OpLdobj     Code = 0x71
	OpLdstr     Code = 0x72
	OpNewobj    Code = 0x73
	OpCastclass Code = 0x74
	OpIsinst    Code = 0x75
	OpUnbox     Code = 0x79
	OpThrow     Code = 0x7A
	OpLdfld     Code = 0x7B
	OpLdflda    Code = 0x7C
	OpStfld     Code = 0x7D
	OpLdsfld    Code = 0x7E
	OpLdsflda   Code = 0x7F
	OpStsfld    Code = 0x80
	OpStobj     Code = 0x81
	OpBox       Code = 0x8C
	OpNewarr    Code = 0x8D
	OpLdlen     Code = 0x8E
	OpLdelema   Code = 0x8F
	OpLdelemI1  Code = 0x90
	OpLdelemU1  Code = 0x91
	OpLdelemI2  Code = 0x92
	OpLdelemU2  Code = 0x93
	OpLdelemI4  Code = 0x94
	OpLdelemU4  Code = 0x95
	OpLdelemI8  Code = 0x96
	OpLdelemI   Code = 0x97
	OpLdelemRef Code = 0x9A
	OpStelemI   Code = 0x9B
	OpStelemI1  Code = 0x9C
	OpStelemI2  Code = 0x9D
	OpStelemI4  Code = 0x9E
	OpStelemI8  Code = 0x9F
	OpStelemRef Code = 0xA2
	OpLdelem    Code = 0xA3
	OpStelem    Code = 0xA4
	OpUnboxAny  Code = 0xA5

	// ========================================================================
	// Checked conversions, tokens, protected regions (0xB3-0xE0)
	// ========================================================================

	OpConvOvfI1  Code = 0xB3
	OpConvOvfU1  Code = 0xB4
	OpConvOvfI2  Code = 0xB5
	OpConvOvfU2  Code = 0xB6
	OpConvOvfI4  Code = 0xB7
	OpConvOvfU4  Code = 0xB8
	OpConvOvfI8  Code = 0xB9
	OpConvOvfU8  Code = 0xBA
	OpLdtoken    Code = 0xD0
	OpConvU2     Code = 0xD1
	OpConvU1     Code = 0xD2
	OpConvI      Code = 0xD3
	OpConvOvfI   Code = 0xD4
	OpConvOvfU   Code = 0xD5
	OpAddOvf     Code = 0xD6
	OpAddOvfUn   Code = 0xD7
	OpMulOvf     Code = 0xD8
	OpMulOvfUn   Code = 0xD9
	OpSubOvf     Code = 0xDA
	OpSubOvfUn   Code = 0xDB
	OpEndfinally Code = 0xDC
	OpLeave      Code = 0xDD
	OpLeaveS     Code = 0xDE
	OpStindI     Code = 0xDF
	OpConvU      Code = 0xE0

	// ========================================================================
	// Two-byte opcodes (0xFE xx)
	// ========================================================================

	OpCeq         Code = 0xFE01
	OpCgt         Code = 0xFE02
	OpCgtUn       Code = 0xFE03
	OpClt         Code = 0xFE04
	OpCltUn       Code = 0xFE05
	OpLdftn       Code = 0xFE06
	OpLdarg       Code = 0xFE09
	OpLdarga      Code = 0xFE0A
	OpStarg       Code = 0xFE0B
	OpLdloc       Code = 0xFE0C
	OpLdloca      Code = 0xFE0D
	OpStloc       Code = 0xFE0E
	OpEndfilter   Code = 0xFE11
	OpVolatile    Code = 0xFE13
	OpTail        Code = 0xFE14
	OpInitobj     Code = 0xFE15
	OpConstrained Code = 0xFE16
	OpRethrow     Code = 0xFE1A
	OpSizeof      Code = 0xFE1C
	OpReadonly    Code = 0xFE1E
)

// OpCodeInfo provides metadata about each opcode for decoding, validation
// and disassembly.
type OpCodeInfo struct {
	Name        string      // ECMA-335 mnemonic
	OperandType OperandType // Inline operand following the opcode
	Flow        FlowControl // Effect on control flow
	StackPop    int         // Values popped (-1 = depends on operand)
	StackPush   int         // Values pushed (-1 = depends on operand)
}

// opCodeInfoTable maps opcodes to their metadata.
var opCodeInfoTable = map[Code]OpCodeInfo{
	// Base
	OpNop:     {"nop", InlineNone, FlowNext, 0, 0},
	OpBreak:   {"break", InlineNone, FlowBreak, 0, 0},
	OpLdarg0:  {"ldarg.0", InlineNone, FlowNext, 0, 1},
	OpLdarg1:  {"ldarg.1", InlineNone, FlowNext, 0, 1},
	OpLdarg2:  {"ldarg.2", InlineNone, FlowNext, 0, 1},
	OpLdarg3:  {"ldarg.3", InlineNone, FlowNext, 0, 1},
	OpLdloc0:  {"ldloc.0", InlineNone, FlowNext, 0, 1},
	OpLdloc1:  {"ldloc.1", InlineNone, FlowNext, 0, 1},
	OpLdloc2:  {"ldloc.2", InlineNone, FlowNext, 0, 1},
	OpLdloc3:  {"ldloc.3", InlineNone, FlowNext, 0, 1},
	OpStloc0:  {"stloc.0", InlineNone, FlowNext, 1, 0},
	OpStloc1:  {"stloc.1", InlineNone, FlowNext, 1, 0},
	OpStloc2:  {"stloc.2", InlineNone, FlowNext, 1, 0},
	OpStloc3:  {"stloc.3", InlineNone, FlowNext, 1, 0},
	OpLdargS:  {"ldarg.s", ShortInlineVar, FlowNext, 0, 1},
	OpLdargaS: {"ldarga.s", ShortInlineVar, FlowNext, 0, 1},
	OpStargS:  {"starg.s", ShortInlineVar, FlowNext, 1, 0},
	OpLdlocS:  {"ldloc.s", ShortInlineVar, FlowNext, 0, 1},
	OpLdlocaS: {"ldloca.s", ShortInlineVar, FlowNext, 0, 1},
	OpStlocS:  {"stloc.s", ShortInlineVar, FlowNext, 1, 0},
	OpLdnull:  {"ldnull", InlineNone, FlowNext, 0, 1},
	OpLdcI4M1: {"ldc.i4.m1", InlineNone, FlowNext, 0, 1},
	OpLdcI40:  {"ldc.i4.0", InlineNone, FlowNext, 0, 1},
	OpLdcI41:  {"ldc.i4.1", InlineNone, FlowNext, 0, 1},
	OpLdcI42:  {"ldc.i4.2", InlineNone, FlowNext, 0, 1},
	OpLdcI43:  {"ldc.i4.3", InlineNone, FlowNext, 0, 1},
	OpLdcI44:  {"ldc.i4.4", InlineNone, FlowNext, 0, 1},
	OpLdcI45:  {"ldc.i4.5", InlineNone, FlowNext, 0, 1},
	OpLdcI46:  {"ldc.i4.6", InlineNone, FlowNext, 0, 1},
	OpLdcI47:  {"ldc.i4.7", InlineNone, FlowNext, 0, 1},
	OpLdcI48:  {"ldc.i4.8", InlineNone, FlowNext, 0, 1},
	OpLdcI4S:  {"ldc.i4.s", ShortInlineI, FlowNext, 0, 1},
	OpLdcI4:   {"ldc.i4", InlineI, FlowNext, 0, 1},
	OpLdcI8:   {"ldc.i8", InlineI8, FlowNext, 0, 1},
	OpLdcR4:   {"ldc.r4", ShortInlineR, FlowNext, 0, 1},
	OpLdcR8:   {"ldc.r8", InlineR, FlowNext, 0, 1},
	OpDup:     {"dup", InlineNone, FlowNext, 1, 2},
	OpPop:     {"pop", InlineNone, FlowNext, 1, 0},
	OpCall:    {"call", InlineMethod, FlowCall, -1, -1},
	OpRet:     {"ret", InlineNone, FlowReturn, -1, 0},

	// Branches
	OpBrS:      {"br.s", ShortInlineBrTarget, FlowBranch, 0, 0},
	OpBrfalseS: {"brfalse.s", ShortInlineBrTarget, FlowCondBranch, 1, 0},
	OpBrtrueS:  {"brtrue.s", ShortInlineBrTarget, FlowCondBranch, 1, 0},
	OpBeqS:     {"beq.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
	OpBgeS:     {"bge.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
	OpBgtS:     {"bgt.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
	OpBleS:     {"ble.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
	OpBltS:     {"blt.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
	OpBneUnS:   {"bne.un.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
	OpBgeUnS:   {"bge.un.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
	OpBgtUnS:   {"bgt.un.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
	OpBleUnS:   {"ble.un.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
	OpBltUnS:   {"blt.un.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
	OpBr:       {"br", InlineBrTarget, FlowBranch, 0, 0},
	OpBrfalse:  {"brfalse", InlineBrTarget, FlowCondBranch, 1, 0},
	OpBrtrue:   {"brtrue", InlineBrTarget, FlowCondBranch, 1, 0},
	OpBeq:      {"beq", InlineBrTarget, FlowCondBranch, 2, 0},
	OpBge:      {"bge", InlineBrTarget, FlowCondBranch, 2, 0},
	OpBgt:      {"bgt", InlineBrTarget, FlowCondBranch, 2, 0},
	OpBle:      {"ble", InlineBrTarget, FlowCondBranch, 2, 0},
	OpBlt:      {"blt", InlineBrTarget, FlowCondBranch, 2, 0},
	OpBneUn:    {"bne.un", InlineBrTarget, FlowCondBranch, 2, 0},
	OpBgeUn:    {"bge.un", InlineBrTarget, FlowCondBranch, 2, 0},
	OpBgtUn:    {"bgt.un", InlineBrTarget, FlowCondBranch, 2, 0},
	OpBleUn:    {"ble.un", InlineBrTarget, FlowCondBranch, 2, 0},
	OpBltUn:    {"blt.un", InlineBrTarget, FlowCondBranch, 2, 0},
	OpSwitch:   {"switch", InlineSwitch, FlowCondBranch, 1, 0},

	// Indirect
	OpLdindI1:  {"ldind.i1", InlineNone, FlowNext, 1, 1},
	OpLdindU1:  {"ldind.u1", InlineNone, FlowNext, 1, 1},
	OpLdindI2:  {"ldind.i2", InlineNone, FlowNext, 1, 1},
	OpLdindU2:  {"ldind.u2", InlineNone, FlowNext, 1, 1},
	OpLdindI4:  {"ldind.i4", InlineNone, FlowNext, 1, 1},
	OpLdindU4:  {"ldind.u4", InlineNone, FlowNext, 1, 1},
	OpLdindI8:  {"ldind.i8", InlineNone, FlowNext, 1, 1},
	OpLdindI:   {"ldind.i", InlineNone, FlowNext, 1, 1},
	OpLdindRef: {"ldind.ref", InlineNone, FlowNext, 1, 1},
	OpStindRef: {"stind.ref", InlineNone, FlowNext, 2, 0},
	OpStindI1:  {"stind.i1", InlineNone, FlowNext, 2, 0},
	OpStindI2:  {"stind.i2", InlineNone, FlowNext, 2, 0},
	OpStindI4:  {"stind.i4", InlineNone, FlowNext, 2, 0},
	OpStindI8:  {"stind.i8", InlineNone, FlowNext, 2, 0},
	OpStindI:   {"stind.i", InlineNone, FlowNext, 2, 0},

	// Arithmetic
	OpAdd:      {"add", InlineNone, FlowNext, 2, 1},
	OpSub:      {"sub", InlineNone, FlowNext, 2, 1},
	OpMul:      {"mul", InlineNone, FlowNext, 2, 1},
	OpDiv:      {"div", InlineNone, FlowNext, 2, 1},
	OpDivUn:    {"div.un", InlineNone, FlowNext, 2, 1},
	OpRem:      {"rem", InlineNone, FlowNext, 2, 1},
	OpRemUn:    {"rem.un", InlineNone, FlowNext, 2, 1},
	OpAnd:      {"and", InlineNone, FlowNext, 2, 1},
	OpOr:       {"or", InlineNone, FlowNext, 2, 1},
	OpXor:      {"xor", InlineNone, FlowNext, 2, 1},
	OpShl:      {"shl", InlineNone, FlowNext, 2, 1},
	OpShr:      {"shr", InlineNone, FlowNext, 2, 1},
	OpShrUn:    {"shr.un", InlineNone, FlowNext, 2, 1},
	OpNeg:      {"neg", InlineNone, FlowNext, 1, 1},
	OpNot:      {"not", InlineNone, FlowNext, 1, 1},
	OpAddOvf:   {"add.ovf", InlineNone, FlowNext, 2, 1},
	OpAddOvfUn: {"add.ovf.un", InlineNone, FlowNext, 2, 1},
	OpMulOvf:   {"mul.ovf", InlineNone, FlowNext, 2, 1},
	OpMulOvfUn: {"mul.ovf.un", InlineNone, FlowNext, 2, 1},
	OpSubOvf:   {"sub.ovf", InlineNone, FlowNext, 2, 1},
	OpSubOvfUn: {"sub.ovf.un", InlineNone, FlowNext, 2, 1},

	// Conversion
	OpConvI1:    {"conv.i1", InlineNone, FlowNext, 1, 1},
	OpConvI2:    {"conv.i2", InlineNone, FlowNext, 1, 1},
	OpConvI4:    {"conv.i4", InlineNone, FlowNext, 1, 1},
	OpConvI8:    {"conv.i8", InlineNone, FlowNext, 1, 1},
	OpConvR4:    {"conv.r4", InlineNone, FlowNext, 1, 1},
	OpConvR8:    {"conv.r8", InlineNone, FlowNext, 1, 1},
	OpConvU4:    {"conv.u4", InlineNone, FlowNext, 1, 1},
	OpConvU8:    {"conv.u8", InlineNone, FlowNext, 1, 1},
	OpConvU2:    {"conv.u2", InlineNone, FlowNext, 1, 1},
	OpConvU1:    {"conv.u1", InlineNone, FlowNext, 1, 1},
	OpConvI:     {"conv.i", InlineNone, FlowNext, 1, 1},
	OpConvU:     {"conv.u", InlineNone, FlowNext, 1, 1},
	OpConvOvfI1: {"conv.ovf.i1", InlineNone, FlowNext, 1, 1},
	OpConvOvfU1: {"conv.ovf.u1", InlineNone, FlowNext, 1, 1},
	OpConvOvfI2: {"conv.ovf.i2", InlineNone, FlowNext, 1, 1},
	OpConvOvfU2: {"conv.ovf.u2", InlineNone, FlowNext, 1, 1},
	OpConvOvfI4: {"conv.ovf.i4", InlineNone, FlowNext, 1, 1},
	OpConvOvfU4: {"conv.ovf.u4", InlineNone, FlowNext, 1, 1},
	OpConvOvfI8: {"conv.ovf.i8", InlineNone, FlowNext, 1, 1},
	OpConvOvfU8: {"conv.ovf.u8", InlineNone, FlowNext, 1, 1},
	OpConvOvfI:  {"conv.ovf.i", InlineNone, FlowNext, 1, 1},
	OpConvOvfU:  {"conv.ovf.u", InlineNone, FlowNext, 1, 1},

	// Object model
	OpCallvirt:  {"callvirt", InlineMethod, FlowCall, -1, -1},
	OpLdobj:     {"ldobj", InlineType, FlowNext, 1, 1},
	OpLdstr:     {"ldstr", InlineString, FlowNext, 0, 1},
	OpNewobj:    {"newobj", InlineMethod, FlowCall, -1, 1},
	OpCastclass: {"castclass", InlineType, FlowNext, 1, 1},
	OpIsinst:    {"isinst", InlineType, FlowNext, 1, 1},
	OpUnbox:     {"unbox", InlineType, FlowNext, 1, 1},
	OpThrow:     {"throw", InlineNone, FlowThrow, 1, 0},
	OpLdfld:     {"ldfld", InlineField, FlowNext, 1, 1},
	OpLdflda:    {"ldflda", InlineField, FlowNext, 1, 1},
	OpStfld:     {"stfld", InlineField, FlowNext, 2, 0},
	OpLdsfld:    {"ldsfld", InlineField, FlowNext, 0, 1},
	OpLdsflda:   {"ldsflda", InlineField, FlowNext, 0, 1},
	OpStsfld:    {"stsfld", InlineField, FlowNext, 1, 0},
	OpStobj:     {"stobj", InlineType, FlowNext, 2, 0},
	OpBox:       {"box", InlineType, FlowNext, 1, 1},
	OpNewarr:    {"newarr", InlineType, FlowNext, 1, 1},
	OpLdlen:     {"ldlen", InlineNone, FlowNext, 1, 1},
	OpLdelema:   {"ldelema", InlineType, FlowNext, 2, 1},
	OpLdelemI1:  {"ldelem.i1", InlineNone, FlowNext, 2, 1},
	OpLdelemU1:  {"ldelem.u1", InlineNone, FlowNext, 2, 1},
	OpLdelemI2:  {"ldelem.i2", InlineNone, FlowNext, 2, 1},
	OpLdelemU2:  {"ldelem.u2", InlineNone, FlowNext, 2, 1},
	OpLdelemI4:  {"ldelem.i4", InlineNone, FlowNext, 2, 1},
	OpLdelemU4:  {"ldelem.u4", InlineNone, FlowNext, 2, 1},
	OpLdelemI8:  {"ldelem.i8", InlineNone, FlowNext, 2, 1},
	OpLdelemI:   {"ldelem.i", InlineNone, FlowNext, 2, 1},
	OpLdelemRef: {"ldelem.ref", InlineNone, FlowNext, 2, 1},
	OpStelemI:   {"stelem.i", InlineNone, FlowNext, 3, 0},
	OpStelemI1:  {"stelem.i1", InlineNone, FlowNext, 3, 0},
	OpStelemI2:  {"stelem.i2", InlineNone, FlowNext, 3, 0},
	OpStelemI4:  {"stelem.i4", InlineNone, FlowNext, 3, 0},
	OpStelemI8:  {"stelem.i8", InlineNone, FlowNext, 3, 0},
	OpStelemRef: {"stelem.ref", InlineNone, FlowNext, 3, 0},
	OpLdelem:    {"ldelem", InlineType, FlowNext, 2, 1},
	OpStelem:    {"stelem", InlineType, FlowNext, 3, 0},
	OpUnboxAny:  {"unbox.any", InlineType, FlowNext, 1, 1},

	// Tokens and protected regions
	OpLdtoken:    {"ldtoken", InlineTok, FlowNext, 0, 1},
	OpEndfinally: {"endfinally", InlineNone, FlowReturn, 0, 0},
	OpLeave:      {"leave", InlineBrTarget, FlowBranch, 0, 0},
	OpLeaveS:     {"leave.s", ShortInlineBrTarget, FlowBranch, 0, 0},

	// Two-byte
	OpCeq:         {"ceq", InlineNone, FlowNext, 2, 1},
	OpCgt:         {"cgt", InlineNone, FlowNext, 2, 1},
	OpCgtUn:       {"cgt.un", InlineNone, FlowNext, 2, 1},
	OpClt:         {"clt", InlineNone, FlowNext, 2, 1},
	OpCltUn:       {"clt.un", InlineNone, FlowNext, 2, 1},
	OpLdftn:       {"ldftn", InlineMethod, FlowNext, 0, 1},
	OpLdarg:       {"ldarg", InlineVar, FlowNext, 0, 1},
	OpLdarga:      {"ldarga", InlineVar, FlowNext, 0, 1},
	OpStarg:       {"starg", InlineVar, FlowNext, 1, 0},
	OpLdloc:       {"ldloc", InlineVar, FlowNext, 0, 1},
	OpLdloca:      {"ldloca", InlineVar, FlowNext, 0, 1},
	OpStloc:       {"stloc", InlineVar, FlowNext, 1, 0},
	OpEndfilter:   {"endfilter", InlineNone, FlowReturn, 1, 0},
	OpVolatile:    {"volatile.", InlineNone, FlowMeta, 0, 0},
	OpTail:        {"tail.", InlineNone, FlowMeta, 0, 0},
	OpInitobj:     {"initobj", InlineType, FlowNext, 1, 0},
	OpConstrained: {"constrained.", InlineType, FlowMeta, 0, 0},
	OpRethrow:     {"rethrow", InlineNone, FlowThrow, 0, 0},
	OpSizeof:      {"sizeof", InlineType, FlowNext, 0, 1},
	OpReadonly:    {"readonly.", InlineNone, FlowMeta, 0, 0},
}

// GetOpCodeInfo returns metadata for an opcode.
// Returns an OpCodeInfo named "UNKNOWN(0x..)" if the opcode is not recognized.
func GetOpCodeInfo(op Code) OpCodeInfo {
	if info, ok := opCodeInfoTable[op]; ok {
		return info
	}
	return OpCodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%04X)", uint16(op))}
}

// Known reports whether the opcode has metadata.
func (op Code) Known() bool {
	_, ok := opCodeInfoTable[op]
	return ok
}

// String returns the mnemonic of an opcode.
func (op Code) String() string {
	return GetOpCodeInfo(op).Name
}

// OperandType returns the inline operand kind for this opcode.
func (op Code) OperandType() OperandType {
	return GetOpCodeInfo(op).OperandType
}

// Flow returns the control-flow class of this opcode.
func (op Code) Flow() FlowControl {
	return GetOpCodeInfo(op).Flow
}

// Size returns the encoded size of the opcode itself (1 or 2 bytes).
func (op Code) Size() int {
	if op>>8 == 0xFE {
		return 2
	}
	return 1
}

// IsBranch returns true for conditional and unconditional branches.
func (op Code) IsBranch() bool {
	f := op.Flow()
	return f == FlowBranch || f == FlowCondBranch
}

// IsUnconditionalBranch returns true for br, br.s, leave and leave.s.
func (op Code) IsUnconditionalBranch() bool {
	return op.Flow() == FlowBranch
}

// IsCall returns true for call and callvirt.
func (op Code) IsCall() bool {
	return op == OpCall || op == OpCallvirt
}

// operandSize returns the encoded size of a fixed-width operand.
// InlineSwitch is variable and handled by Instruction.Size.
func operandSize(t OperandType) int {
	switch t {
	case InlineNone:
		return 0
	case ShortInlineI, ShortInlineVar, ShortInlineBrTarget:
		return 1
	case InlineVar:
		return 2
	case InlineI8, InlineR:
		return 8
	default:
		return 4
	}
}

// AllOpCodes returns every opcode that has metadata.
func AllOpCodes() []Code {
	codes := make([]Code, 0, len(opCodeInfoTable))
	for op := range opCodeInfoTable {
		codes = append(codes, op)
	}
	return codes
}

// OpCodeCount returns the number of defined opcodes.
func OpCodeCount() int {
	return len(opCodeInfoTable)
}
