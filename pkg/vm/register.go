package vm

// Registers holds the three named machine registers (spec.md §3).
// PC indexes instruction memory, TOP indexes the next free stack slot,
// BP indexes the current frame's base.
type Registers struct {
	PC  Word
	TOP Word
	BP  Word
}

// Reset zeroes all three registers, the initial state spec.md §4.9
// requires.
func (r *Registers) Reset() {
	r.PC = 0
	r.TOP = 0
	r.BP = 0
}
