package vm

import "fmt"

// Instruction is a single instruction word: an opcode plus as many
// immediate operands as its arity calls for (spec.md §3 "Instruction
// word"). Unused operand fields are simply zero; Opcode.Arity is the
// source of truth for how many of A and B a given op actually reads.
type Instruction struct {
	Op Opcode
	A  Word
	B  Word
}

// Nullary builds a zero-operand instruction.
func Nullary(op Opcode) Instruction {
	return Instruction{Op: op}
}

// Unary builds a one-operand instruction.
func Unary(op Opcode, a Word) Instruction {
	return Instruction{Op: op, A: a}
}

// Binary builds a two-operand instruction.
func Binary(op Opcode, a, b Word) Instruction {
	return Instruction{Op: op, A: a, B: b}
}

// String renders the instruction the way the assembler would have
// written it, for disassembly and trace output.
func (i Instruction) String() string {
	switch i.Op.Arity() {
	case 1:
		return fmt.Sprintf("%s %d", i.Op, i.A)
	case 2:
		return fmt.Sprintf("%s %d %d", i.Op, i.A, i.B)
	default:
		return i.Op.String()
	}
}
