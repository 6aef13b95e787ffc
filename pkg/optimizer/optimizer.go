// Package optimizer applies optional post-assembly passes to a
// vm.Program: constant folding of literal arithmetic and dead code
// elimination of statically unreachable instructions.
//
// Both passes preserve instruction count and addresses. Jmp, FJmp, and
// Call operands are already-resolved absolute addresses by the time a
// Program reaches the optimizer (pkg/asm has no notion of labels once
// assembly finishes), so deleting an instruction would silently
// misdirect every jump past it. Instead, an eliminated instruction is
// replaced in place with Nop.
package optimizer

import (
	"github.com/tastier-lang/tastvm/pkg/vm"
)

// Optimizer applies the enabled optimization passes to a Program.
type Optimizer struct {
	enableConstantFolding bool
	enableDeadCode        bool
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithConstantFolding enables constant folding.
func WithConstantFolding() Option {
	return func(o *Optimizer) { o.enableConstantFolding = true }
}

// WithDeadCodeElimination enables dead code elimination.
func WithDeadCodeElimination() Option {
	return func(o *Optimizer) { o.enableDeadCode = true }
}

// WithAllOptimizations enables every pass.
func WithAllOptimizations() Option {
	return func(o *Optimizer) {
		o.enableConstantFolding = true
		o.enableDeadCode = true
	}
}

// New creates an Optimizer with the given options applied.
func New(opts ...Option) *Optimizer {
	o := &Optimizer{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize runs the enabled passes over program and returns the result.
// The input Program is never mutated.
func (o *Optimizer) Optimize(program *vm.Program) *vm.Program {
	result := &vm.Program{
		Code:        append([]vm.Instruction(nil), program.Code...),
		Names:       program.Names,
		InitialData: append([]vm.Word(nil), program.InitialData...),
	}

	if o.enableConstantFolding {
		o.constantFolding(result)
	}
	if o.enableDeadCode {
		o.deadCodeElimination(result)
	}

	return result
}
