package optimizer

import (
	"github.com/tastier-lang/tastvm/pkg/vm"
)

// deadCodeElimination replaces every instruction unreachable from
// address 0 with Nop, in place, so surviving jump targets keep their
// addresses.
//
// Reachability follows the same control-flow edges Step exercises at
// run time: Jmp only ever goes to its target, FJmp goes to its target
// or falls through, Call always resumes at its own address plus one
// once the callee eventually Rets there, and Halt/Ret end a path with
// no static successor.
//
// StoG 0 is a computed jump (it sets PC to a runtime-computed value,
// vm.go's StoG case), so its possible targets aren't knowable from the
// bytecode alone. A block reached only through one would be
// misclassified as dead and overwritten, so this pass conservatively
// declines to run at all on a program containing StoG 0 rather than
// risk corrupting a reachable block.
func (o *Optimizer) deadCodeElimination(program *vm.Program) {
	code := program.Code
	n := len(code)
	if n == 0 {
		return
	}
	for _, inst := range code {
		if inst.Op == vm.StoG && inst.A == 0 {
			return
		}
	}

	reachable := make([]bool, n)
	queue := []int{0}
	reachable[0] = true

	visit := func(addr int) {
		if addr < 0 || addr >= n || reachable[addr] {
			return
		}
		reachable[addr] = true
		queue = append(queue, addr)
	}

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		inst := code[i]

		switch inst.Op {
		case vm.Halt, vm.Ret:
			// no static successor

		case vm.Jmp:
			visit(int(inst.A))

		case vm.FJmp:
			visit(int(inst.A))
			visit(i + 1)

		case vm.Call:
			visit(int(inst.B))
			visit(i + 1)

		default:
			visit(i + 1)
		}
	}

	for i, live := range reachable {
		if !live {
			code[i] = vm.Nullary(vm.Nop)
		}
	}
}
