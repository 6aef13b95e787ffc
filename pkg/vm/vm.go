// Package vm implements the Tastier virtual machine: a stack-based,
// 16-bit word machine with separate instruction, data, and stack
// memories, nested lexical scoping via static/dynamic links, and a
// small procedure calling convention.
//
// Basic usage:
//
//	v := vm.NewVM()
//	v.SetInput([]vm.Word{3, 5, 0})
//	if err := v.Load(program); err != nil {
//	    // ...
//	}
//	if err := v.Execute(); err != nil {
//	    // ...
//	}
//	for _, line := range v.Output() {
//	    fmt.Println(line)
//	}
package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrStepLimitExceeded is returned by Execute when a caller-configured
// step budget (SetMaxSteps) is exhausted before the program halts.
var ErrStepLimitExceeded = errors.New("step limit exceeded")

// Program is an assembled Tastier program: the contents of instruction
// memory, the number of globally-visible symbols its header declared
// (spec.md §6, ".names"), and any initial data-memory contents the
// assembler laid down ahead of execution (string constants from `.var
// TYPE NAME "text"` directives).
type Program struct {
	Code        []Instruction
	Names       int
	InitialData []Word
}

// VM is the Tastier stack machine. The zero value is not ready for use;
// construct one with NewVM.
type VM struct {
	Registers

	instr []Instruction
	data  [MemSize]Word
	stack [MemSize]Word

	input    []Word
	inputPos int

	printBuf strings.Builder
	output   []string

	callDepth int

	maxSteps  int64
	stepCount int64
	ctx       context.Context

	trace  bool
	traceW io.Writer

	statsEnabled bool
	stats        ExecutionStats
}

// NewVM creates a VM with all memories and registers zeroed.
func NewVM() *VM {
	return &VM{}
}

// Load installs a program into instruction memory and resets all
// registers, data, and stack memory to their initial state (spec.md
// §4.9).
func (vm *VM) Load(p *Program) error {
	if len(p.Code) > MemSize {
		return fmt.Errorf("program has %d instructions, exceeds instruction memory of %d", len(p.Code), MemSize)
	}
	if len(p.InitialData) > MemSize {
		return fmt.Errorf("program has %d words of initial data, exceeds data memory of %d", len(p.InitialData), MemSize)
	}
	vm.instr = p.Code
	vm.data = [MemSize]Word{}
	vm.stack = [MemSize]Word{}
	copy(vm.data[:], p.InitialData)
	vm.Registers.Reset()
	vm.stepCount = 0
	vm.callDepth = 0
	vm.printBuf.Reset()
	vm.output = nil
	vm.inputPos = 0
	return nil
}

// SetInput supplies the finite input word sequence Read consumes from.
func (vm *VM) SetInput(words []Word) {
	vm.input = words
	vm.inputPos = 0
}

// SetContext enables cooperative cancellation of a long-running Execute.
func (vm *VM) SetContext(ctx context.Context) { vm.ctx = ctx }

// SetMaxSteps bounds the number of instructions Execute will run before
// returning ErrStepLimitExceeded. Zero (the default) means unbounded.
func (vm *VM) SetMaxSteps(n int64) { vm.maxSteps = n }

// SetTrace turns on the optional single-line-per-instruction trace
// spec.md §1 allows ("no source-level debugging beyond an optional
// single-line trace"), writing to w. Passing nil disables tracing.
func (vm *VM) SetTrace(w io.Writer) {
	vm.trace = w != nil
	vm.traceW = w
}

// EnableStats turns on collection of ExecutionStats for the next
// Execute call.
func (vm *VM) EnableStats() {
	vm.statsEnabled = true
	vm.stats = ExecutionStats{OpCounts: make(map[string]int)}
}

// Stats returns the statistics from the last Execute call, or nil if
// EnableStats was never called.
func (vm *VM) Stats() *ExecutionStats {
	if !vm.statsEnabled {
		return nil
	}
	return &vm.stats
}

// Output returns the ordered output lines Print has flushed so far.
func (vm *VM) Output() []string { return vm.output }

// DataAt returns D[a], the data-memory cell at raw index a (user-visible
// global address a+3), for inspection by a REPL or test.
func (vm *VM) DataAt(a Word) (Word, error) {
	idx := int(a)
	if idx < 0 || idx >= MemSize {
		return 0, newFault(MemoryFault, vm.PC, "data address %d out of range", a)
	}
	return vm.data[idx], nil
}

// StackAt returns S[addr], for inspection by a REPL or test.
func (vm *VM) StackAt(addr Word) (Word, error) {
	if addr < 0 || int(addr) >= MemSize {
		return 0, newFault(MemoryFault, vm.PC, "stack address %d out of range", addr)
	}
	return vm.stack[addr], nil
}

// InstrAt returns the instruction at PC index addr, for disassembly.
func (vm *VM) InstrAt(addr int) (Instruction, bool) {
	if addr < 0 || addr >= len(vm.instr) {
		return Instruction{}, false
	}
	return vm.instr[addr], true
}

// Execute runs the loaded program to completion: until Halt executes,
// or a Ret executes with an empty call chain (spec.md §2), or a fault
// aborts the run.
func (vm *VM) Execute() error {
	var start time.Time
	if vm.statsEnabled {
		start = time.Now()
	}
	for {
		halted, err := vm.Step()
		if err != nil {
			return err
		}
		if halted {
			if vm.statsEnabled {
				vm.stats.ExecutionTimeNs = time.Since(start).Nanoseconds()
			}
			return nil
		}
	}
}

// Step executes exactly one instruction and reports whether the run has
// now halted.
func (vm *VM) Step() (halted bool, err error) {
	if vm.ctx != nil {
		select {
		case <-vm.ctx.Done():
			return false, vm.ctx.Err()
		default:
		}
	}

	vm.stepCount++
	if vm.maxSteps > 0 && vm.stepCount > vm.maxSteps {
		return false, ErrStepLimitExceeded
	}

	if vm.PC < 0 || int(vm.PC) >= len(vm.instr) {
		return false, newFault(IllegalInstruction, vm.PC, "no instruction loaded at pc=%d", vm.PC)
	}
	inst := vm.instr[vm.PC]
	op := inst.Op

	if vm.statsEnabled {
		vm.stats.StepsExecuted++
		vm.stats.OpCounts[op.String()]++
		if vm.TOP > vm.stats.PeakTOP {
			vm.stats.PeakTOP = vm.TOP
		}
		if vm.BP > vm.stats.PeakBP {
			vm.stats.PeakBP = vm.BP
		}
	}
	if vm.trace {
		fmt.Fprintf(vm.traceW, "pc=%-4d %-24s top=%-4d bp=%-4d\n", vm.PC, inst, vm.TOP, vm.BP)
	}

	pcSet := false

	switch op {
	case Halt:
		return true, nil

	case Nop:
		// no state change beyond PC

	case Dup:
		v, err := vm.top(1)
		if err != nil {
			return false, err
		}
		if err := vm.push(v); err != nil {
			return false, err
		}

	case Add, Sub, Mul, Div:
		a, err := vm.top(1)
		if err != nil {
			return false, err
		}
		b, err := vm.top(2)
		if err != nil {
			return false, err
		}
		var result Word
		switch op {
		case Add:
			result = wrapAdd(b, a)
		case Sub:
			result = wrapSub(b, a)
		case Mul:
			result = wrapMul(b, a)
		case Div:
			if a == 0 {
				return false, newFault(DivideByZero, vm.PC, "")
			}
			result = floorDiv(b, a)
		}
		if err := vm.storeStack(vm.TOP-2, result); err != nil {
			return false, err
		}
		vm.TOP--

	case Equ, NEqu, Lss, LssEq, Gtr, GtrEq:
		a, err := vm.top(1)
		if err != nil {
			return false, err
		}
		b, err := vm.top(2)
		if err != nil {
			return false, err
		}
		var result bool
		switch op {
		case Equ:
			result = b == a
		case NEqu:
			result = b != a
		case Lss:
			result = b < a
		case LssEq:
			result = b <= a
		case Gtr:
			result = b > a
		case GtrEq:
			result = b >= a
		}
		if err := vm.storeStack(vm.TOP-2, boolWord(result)); err != nil {
			return false, err
		}
		vm.TOP--

	case Neg:
		v, err := vm.top(1)
		if err != nil {
			return false, err
		}
		if err := vm.storeStack(vm.TOP-1, complement(v)); err != nil {
			return false, err
		}

	case Ret:
		ra, err := vm.top(1)
		if err != nil {
			return false, err
		}
		vm.TOP--
		if vm.callDepth == 0 {
			// No Call is waiting on this Ret: the call chain is
			// empty, so this is the natural end of the program
			// rather than an actual return.
			return true, nil
		}
		vm.callDepth--
		vm.PC = ra
		pcSet = true

	case Read:
		if vm.inputPos >= len(vm.input) {
			return false, newFault(InputExhausted, vm.PC, "")
		}
		v := vm.input[vm.inputPos]
		vm.inputPos++
		if err := vm.push(v); err != nil {
			return false, err
		}

	case Write:
		v, err := vm.top(1)
		if err != nil {
			return false, err
		}
		vm.printBuf.WriteString(strconv.Itoa(int(v)))

	case WriteS:
		ptr, err := vm.top(1)
		if err != nil {
			return false, err
		}
		s, err := vm.readCString(ptr)
		if err != nil {
			return false, err
		}
		vm.printBuf.WriteString(s)

	case Print:
		vm.output = append(vm.output, vm.printBuf.String())
		vm.printBuf.Reset()
		if err := vm.requireTOP(1); err != nil {
			return false, err
		}
		vm.TOP--

	case Leave:
		calleeBP := vm.BP
		dl, err := vm.readStackChecked(calleeBP + 3)
		if err != nil {
			return false, err
		}
		vm.BP = dl
		// TOP must land one past the callee frame's own RA slot
		// (calleeBP+0), not one past the just-restored caller BP —
		// that slot is where the following Ret expects to find its
		// return address.
		vm.TOP = calleeBP + 1

	case StoG:
		v, err := vm.top(1)
		if err != nil {
			return false, err
		}
		vm.TOP--
		switch {
		case inst.A == 0:
			vm.PC = v
			pcSet = true
		case inst.A == 1:
			vm.TOP = v
		case inst.A == 2:
			vm.BP = v
		default:
			if err := vm.storeData(inst.A-3, v); err != nil {
				return false, err
			}
		}

	case LoadG:
		var v Word
		switch {
		case inst.A == 0:
			v = vm.PC
		case inst.A == 1:
			v = vm.TOP
		case inst.A == 2:
			v = vm.BP
		default:
			var err error
			v, err = vm.readData(inst.A - 3)
			if err != nil {
				return false, err
			}
		}
		if err := vm.push(v); err != nil {
			return false, err
		}

	case Const:
		if err := vm.push(inst.A); err != nil {
			return false, err
		}

	case Jmp:
		vm.PC = inst.A
		pcSet = true

	case FJmp:
		v, err := vm.top(1)
		if err != nil {
			return false, err
		}
		vm.TOP--
		if v == 0 {
			vm.PC = inst.A
		} else {
			vm.PC = vm.PC + 1
		}
		pcSet = true

	case Enter:
		lld, err := vm.readStackChecked(vm.TOP - 1)
		if err != nil {
			return false, err
		}
		sl, err := vm.followChain(lld, vm.BP)
		if err != nil {
			return false, err
		}
		dl := vm.BP
		newBP := vm.TOP - 2
		if err := vm.storeStackChecked(vm.TOP, sl); err != nil {
			return false, err
		}
		if err := vm.storeStackChecked(vm.TOP+1, dl); err != nil {
			return false, err
		}
		vm.BP = newBP
		vm.TOP = vm.TOP + inst.A + 2

	case Load:
		base, err := vm.followChain(inst.A, vm.BP)
		if err != nil {
			return false, err
		}
		v, err := vm.readStackChecked(base + 4 + inst.B)
		if err != nil {
			return false, err
		}
		if err := vm.push(v); err != nil {
			return false, err
		}

	case Sto:
		base, err := vm.followChain(inst.A, vm.BP)
		if err != nil {
			return false, err
		}
		v, err := vm.top(1)
		if err != nil {
			return false, err
		}
		if err := vm.storeStackChecked(base+4+inst.B, v); err != nil {
			return false, err
		}
		vm.TOP--

	case Call:
		if err := vm.storeStackChecked(vm.TOP, vm.PC+1); err != nil {
			return false, err
		}
		if err := vm.storeStackChecked(vm.TOP+1, inst.A); err != nil {
			return false, err
		}
		vm.TOP += 2
		vm.callDepth++
		vm.PC = inst.B
		pcSet = true

	case LoadArr:
		if _, err := vm.execLoadArr(inst.A, inst.B); err != nil {
			return false, err
		}

	case StoArr:
		if err := vm.execStoArr(inst.A, inst.B); err != nil {
			return false, err
		}

	default:
		return false, newFault(IllegalInstruction, vm.PC, "unknown opcode %d", op)
	}

	if !pcSet {
		vm.PC++
	}
	return false, nil
}

// ===== stack/data helpers =====

func (vm *VM) requireTOP(n Word) error {
	if vm.TOP < n {
		return newFault(MemoryFault, vm.PC, "stack underflow: TOP=%d", vm.TOP)
	}
	return nil
}

// top returns S[TOP-n] after checking the stack has at least n items.
func (vm *VM) top(n Word) (Word, error) {
	if err := vm.requireTOP(n); err != nil {
		return 0, err
	}
	return vm.readStackChecked(vm.TOP - n)
}

func (vm *VM) readStackChecked(addr Word) (Word, error) {
	if addr < 0 || int(addr) >= MemSize {
		return 0, newFault(MemoryFault, vm.PC, "stack address %d out of range", addr)
	}
	return vm.stack[addr], nil
}

func (vm *VM) storeStack(addr Word, v Word) error {
	return vm.storeStackChecked(addr, v)
}

func (vm *VM) storeStackChecked(addr Word, v Word) error {
	if addr < 0 || int(addr) >= MemSize {
		return newFault(MemoryFault, vm.PC, "stack address %d out of range", addr)
	}
	vm.stack[addr] = v
	return nil
}

func (vm *VM) push(v Word) error {
	if int(vm.TOP) >= MemSize {
		return newFault(MemoryFault, vm.PC, "stack overflow: TOP=%d", vm.TOP)
	}
	vm.stack[vm.TOP] = v
	vm.TOP++
	return nil
}

func (vm *VM) readData(a Word) (Word, error) {
	idx := a
	if idx < 0 || int(idx) >= MemSize {
		return 0, newFault(MemoryFault, vm.PC, "data address %d out of range", a+3)
	}
	return vm.data[idx], nil
}

func (vm *VM) storeData(a Word, v Word) error {
	idx := a
	if idx < 0 || int(idx) >= MemSize {
		return newFault(MemoryFault, vm.PC, "data address %d out of range", a+3)
	}
	vm.data[idx] = v
	return nil
}

// followChain walks n static-link hops from bp, iteratively so that
// lexical nesting depth never costs host stack (spec.md §4.4, §9).
func (vm *VM) followChain(n Word, bp Word) (Word, error) {
	for n > 0 {
		sl, err := vm.readStackChecked(bp + 2)
		if err != nil {
			return 0, err
		}
		bp = sl
		n--
	}
	return bp, nil
}

// readCString walks data memory downward from D[ptr-3] until a 0-word
// terminator, per spec.md §4.8.
func (vm *VM) readCString(ptr Word) (string, error) {
	if ptr < 3 {
		return "", newFault(NullStringPointer, vm.PC, "pointer=%d", ptr)
	}
	var b strings.Builder
	idx := int(ptr) - 3
	for {
		if idx < 0 || idx >= MemSize {
			return "", newFault(MemoryFault, vm.PC, "string walk left data memory at index %d", idx)
		}
		ch := vm.data[idx]
		if ch == 0 {
			break
		}
		b.WriteByte(byte(ch))
		idx--
	}
	return b.String(), nil
}

// ===== array indexing (spec.md §4.7) =====

// dimsAndIdx extracts the rank-b dimension and index groups, both
// pushed dims-then-idx per the code generator's convention noted in
// spec.md §4.7's parenthetical remark; LoadArr and StoArr both read
// them in that order.
func (vm *VM) dimsAndIdx(base Word, b Word) (dims, idx []Word, err error) {
	dims = make([]Word, b)
	idx = make([]Word, b)
	for i := Word(0); i < b; i++ {
		dims[i], err = vm.readStackChecked(base + i)
		if err != nil {
			return nil, nil, err
		}
	}
	for i := Word(0); i < b; i++ {
		idx[i], err = vm.readStackChecked(base + b + i)
		if err != nil {
			return nil, nil, err
		}
	}
	return dims, idx, nil
}

func arrayOffset(dims, idx []Word) (Word, error) {
	b := len(dims)
	for i := 0; i < b; i++ {
		if idx[i] < 0 || idx[i] >= dims[i] {
			return 0, errArrayBounds
		}
	}
	offset := idx[b-1]
	for i := 0; i < b-1; i++ {
		stride := Word(1)
		for j := i + 1; j < b; j++ {
			stride = wrapMul(stride, dims[j])
		}
		offset = wrapAdd(offset, wrapMul(idx[i], stride))
	}
	return offset, nil
}

var errArrayBounds = errors.New("array index out of bounds")

func (vm *VM) execLoadArr(a, b Word) (Word, error) {
	n := 2 * b
	if err := vm.requireTOP(n); err != nil {
		return 0, err
	}
	base := vm.TOP - n
	dims, idx, err := vm.dimsAndIdx(base, b)
	if err != nil {
		return 0, err
	}
	offset, err := arrayOffset(dims, idx)
	if err != nil {
		return 0, newFault(IndexOutOfBounds, vm.PC, "%v", idx)
	}
	v, err := vm.readData(a - 3 + offset)
	if err != nil {
		return 0, err
	}
	vm.TOP = vm.TOP - n + 1
	if err := vm.storeStackChecked(vm.TOP-1, v); err != nil {
		return 0, err
	}
	return v, nil
}

func (vm *VM) execStoArr(a, b Word) error {
	n := 2*b + 1
	if err := vm.requireTOP(n); err != nil {
		return err
	}
	base := vm.TOP - n
	v, err := vm.readStackChecked(base)
	if err != nil {
		return err
	}
	dims, idx, err := vm.dimsAndIdx(base+1, b)
	if err != nil {
		return err
	}
	offset, err := arrayOffset(dims, idx)
	if err != nil {
		return newFault(IndexOutOfBounds, vm.PC, "%v", idx)
	}
	if err := vm.storeData(a-3+offset, v); err != nil {
		return err
	}
	vm.TOP = vm.TOP - n
	return nil
}
