package optimizer

import (
	"github.com/tastier-lang/tastvm/pkg/vm"
)

// constantFolding rewrites any adjacent
//
//	Const b
//	Const a
//	<binary op>
//
// into
//
//	Nop
//	Nop
//	Const <folded result>
//
// in place. The two Nops keep every later instruction's address exactly
// where it was, so any Jmp/FJmp/Call target elsewhere in the program
// stays valid without a relocation pass. Entering the triple at its
// first address still behaves identically once folded (both push
// exactly one value onto whatever the stack looked like before), but a
// jump landing on the second Const or on the binary op itself expects
// the stack state partway through the original triple, which the fold
// no longer produces — such a triple is left alone.
func (o *Optimizer) constantFolding(program *vm.Program) {
	code := program.Code
	targets := jumpTargets(code)
	for i := 0; i+2 < len(code); i++ {
		first, second, third := code[i], code[i+1], code[i+2]
		if first.Op != vm.Const || second.Op != vm.Const {
			continue
		}
		if targets[i+1] || targets[i+2] {
			continue
		}
		result, ok := vm.ConstFold(third.Op, first.A, second.A)
		if !ok {
			continue
		}
		code[i] = vm.Nullary(vm.Nop)
		code[i+1] = vm.Nullary(vm.Nop)
		code[i+2] = vm.Unary(vm.Const, result)
	}
}

// jumpTargets returns the set of instruction addresses referenced by
// any Jmp, FJmp, or Call in code.
func jumpTargets(code []vm.Instruction) map[int]bool {
	targets := make(map[int]bool)
	for _, inst := range code {
		switch inst.Op {
		case vm.Jmp, vm.FJmp:
			targets[int(inst.A)] = true
		case vm.Call:
			targets[int(inst.B)] = true
		}
	}
	return targets
}
