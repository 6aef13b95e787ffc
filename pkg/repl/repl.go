// Package repl provides an interactive stepping debugger for the
// Tastier virtual machine: load a program, single-step it, inspect
// registers and memory, and set breakpoints.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tastier-lang/tastvm/pkg/asm"
	"github.com/tastier-lang/tastvm/pkg/vm"
)

const prompt = "tastvm> "

// REPL is an interactive Tastier debugger session.
type REPL struct {
	machine    *vm.VM
	program    *vm.Program
	breakpoint map[int]bool
	history    []string
}

// New creates an empty REPL with no program loaded.
func New() *REPL {
	return &REPL{
		machine:    vm.NewVM(),
		breakpoint: make(map[int]bool),
	}
}

// Start runs the read-eval-print loop until in is exhausted or a "quit"
// command is entered.
func (r *REPL) Start(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "Tastier VM debugger. Type 'help' for commands, 'quit' to exit.")

	for {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		r.history = append(r.history, line)
		if r.handle(line, out) {
			return
		}
	}
}

// handle executes a single command line, returning true if the REPL
// should exit.
func (r *REPL) handle(line string, out io.Writer) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		fmt.Fprintln(out, "goodbye")
		return true

	case "help", "h", "?":
		r.printHelp(out)

	case "load":
		if len(args) < 1 {
			fmt.Fprintln(out, "usage: load <file.tvm>")
			return false
		}
		r.load(args[0], out)

	case "step", "s":
		r.step(out)

	case "continue", "c":
		r.cont(out)

	case "regs":
		r.printRegs(out)

	case "stack":
		r.printStack(out)

	case "mem":
		if len(args) < 1 {
			fmt.Fprintln(out, "usage: mem <address>")
			return false
		}
		r.printMem(args[0], out)

	case "break", "b":
		if len(args) < 1 {
			fmt.Fprintln(out, "usage: break <address>")
			return false
		}
		r.setBreak(args[0], out)

	case "output":
		for _, line := range r.machine.Output() {
			fmt.Fprintln(out, line)
		}

	case "history":
		for i, cmd := range r.history {
			fmt.Fprintf(out, "%3d: %s\n", i+1, cmd)
		}

	default:
		fmt.Fprintf(out, "unknown command: %s (try 'help')\n", cmd)
	}
	return false
}

func (r *REPL) load(path string, out io.Writer) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	program, _, err := asm.Assemble(string(data))
	if err != nil {
		fmt.Fprintf(out, "assembly error: %v\n", err)
		return
	}
	r.program = program
	r.machine = vm.NewVM()
	if err := r.machine.Load(program); err != nil {
		fmt.Fprintf(out, "load error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "loaded %d instructions\n", len(program.Code))
}

func (r *REPL) step(out io.Writer) {
	if r.program == nil {
		fmt.Fprintln(out, "no program loaded")
		return
	}
	halted, err := r.machine.Step()
	if err != nil {
		fmt.Fprintf(out, "fault: %v\n", err)
		return
	}
	if halted {
		fmt.Fprintln(out, "halted")
		return
	}
	r.printRegs(out)
}

func (r *REPL) cont(out io.Writer) {
	if r.program == nil {
		fmt.Fprintln(out, "no program loaded")
		return
	}
	for {
		if r.breakpoint[int(r.machine.PC)] {
			fmt.Fprintf(out, "breakpoint hit at pc=%d\n", r.machine.PC)
			return
		}
		halted, err := r.machine.Step()
		if err != nil {
			fmt.Fprintf(out, "fault: %v\n", err)
			return
		}
		if halted {
			fmt.Fprintln(out, "halted")
			for _, line := range r.machine.Output() {
				fmt.Fprintln(out, line)
			}
			return
		}
	}
}

func (r *REPL) printRegs(out io.Writer) {
	fmt.Fprintf(out, "pc=%d top=%d bp=%d\n", r.machine.PC, r.machine.TOP, r.machine.BP)
}

func (r *REPL) printStack(out io.Writer) {
	for i := vm.Word(0); i < r.machine.TOP; i++ {
		v, err := r.machine.StackAt(i)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return
		}
		fmt.Fprintf(out, "S[%d] = %d\n", i, v)
	}
}

func (r *REPL) printMem(arg string, out io.Writer) {
	addr, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Fprintf(out, "invalid address %q\n", arg)
		return
	}
	v, err := r.machine.DataAt(vm.Word(addr))
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "D[%d] = %d\n", addr, v)
}

func (r *REPL) setBreak(arg string, out io.Writer) {
	addr, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Fprintf(out, "invalid address %q\n", arg)
		return
	}
	r.breakpoint[addr] = true
	fmt.Fprintf(out, "breakpoint set at %d\n", addr)
}

func (r *REPL) printHelp(out io.Writer) {
	fmt.Fprint(out, `
Commands:
  load <file>     Assemble and load a Tastier source file
  step, s         Execute one instruction
  continue, c     Run until a breakpoint or halt
  regs            Print PC, TOP, BP
  stack           Print the stack from S[0] to S[TOP-1]
  mem <addr>      Print D[addr]
  break, b <addr> Set a breakpoint at an instruction address
  output          Print flushed output lines so far
  history         Show command history
  help, h, ?      Show this message
  quit, exit, q   Exit the debugger
`)
}
