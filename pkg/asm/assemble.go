package asm

import (
	"fmt"

	"github.com/tastier-lang/tastvm/pkg/vm"
)

// SymbolTable is the header-declared name table (spec.md §6): global
// procedures, variables, constants, and externally-linked symbols. The
// VM's dispatch loop never consults it — it exists for tooling
// (disassembly, REPL symbol lookup). `.names N` is recorded as given;
// it is not checked against the count of declared symbols.
type SymbolTable struct {
	Vars      []Directive
	Procs     []Directive
	Consts    []Directive
	Externals []Directive
	Names     int
}

// Assemble runs the lexer, parser, and two-pass label resolution over
// source and returns a Program ready for VM.Load.
//
// Pass one walks the instruction stream assigning each instruction its
// address (its index — header directives occupy no instruction memory)
// and records every label definition. Pass two encodes each
// instruction, resolving Jmp/FJmp targets and Call's procedure-address
// operand against the label table built in pass one; the labeling
// scheme itself ("enclosing$...$inner" for nested procedures) is opaque
// to the assembler, which only ever compares label strings for
// equality.
func Assemble(source string) (*vm.Program, *SymbolTable, error) {
	prog, err := NewParser(source).Parse()
	if err != nil {
		return nil, nil, err
	}
	return assemble(prog)
}

func assemble(prog *AsmProgram) (*vm.Program, *SymbolTable, error) {
	labels := make(map[string]int, len(prog.Instructions))
	for i, inst := range prog.Instructions {
		if inst.Label == "" {
			continue
		}
		if _, exists := labels[inst.Label]; exists {
			return nil, nil, fmt.Errorf("line %d: label %q redefined", inst.Line, inst.Label)
		}
		labels[inst.Label] = i
	}

	code := make([]vm.Instruction, len(prog.Instructions))
	for i, src := range prog.Instructions {
		inst, err := encode(src, labels)
		if err != nil {
			return nil, nil, err
		}
		code[i] = inst
	}

	data := layoutStrings(prog.Directives)

	sym := &SymbolTable{}
	for _, d := range prog.Directives {
		switch d.Kind {
		case DirNames:
			sym.Names = d.N
		case DirVar:
			sym.Vars = append(sym.Vars, d)
		case DirProc:
			sym.Procs = append(sym.Procs, d)
		case DirConst:
			sym.Consts = append(sym.Consts, d)
		case DirExternalVar, DirExternalProc:
			sym.Externals = append(sym.Externals, d)
		}
	}

	return &vm.Program{Code: code, Names: sym.Names, InitialData: data}, sym, nil
}

// layoutStrings lays every `.var TYPE NAME "text"` directive's string
// into data memory, packed back-to-back starting at address 0, and
// records each one's pointer (the value a `Const` instruction would
// push to hand to WriteS) in the directive's Addr field.
//
// vm.readCString walks downward from ptr-3, so a string's bytes are
// stored in reverse order with the NUL terminator at its lowest
// address: for "Hi" laid out at base 0, D[0]=0, D[1]='i', D[2]='H',
// and ptr = 5 (base + len + 3) is the pointer that reads forward as
// "Hi".
func layoutStrings(directives []Directive) []vm.Word {
	var data []vm.Word
	cursor := vm.Word(0)
	for i := range directives {
		d := &directives[i]
		if d.Kind != DirVar || d.StringVal == "" {
			continue
		}
		text := []byte(d.StringVal)
		n := vm.Word(len(text))
		base := cursor
		need := int(base + n + 1)
		for len(data) < need {
			data = append(data, 0)
		}
		data[base] = 0
		for k := vm.Word(0); k < n; k++ {
			data[base+1+k] = vm.Word(text[n-1-k])
		}
		d.Addr = int(base + n + 3)
		cursor = base + n + 1
	}
	return data
}

func encode(src SourceInstruction, labels map[string]int) (vm.Instruction, error) {
	op, ok := vm.OpcodeFromString(src.Opcode)
	if !ok {
		return vm.Instruction{}, fmt.Errorf("line %d: unknown opcode %q", src.Line, src.Opcode)
	}

	arity := op.Arity()
	if len(src.Operands) != arity {
		return vm.Instruction{}, fmt.Errorf("line %d: %s expects %d operand(s), got %d", src.Line, src.Opcode, arity, len(src.Operands))
	}

	switch arity {
	case 0:
		return vm.Nullary(op), nil

	case 1:
		a, err := resolveOperand(src.Operands[0], labels, op == vm.Jmp || op == vm.FJmp, src.Line)
		if err != nil {
			return vm.Instruction{}, err
		}
		return vm.Unary(op, a), nil

	case 2:
		a, err := resolveOperand(src.Operands[0], labels, false, src.Line)
		if err != nil {
			return vm.Instruction{}, err
		}
		bAllowsLabel := op == vm.Call
		b, err := resolveOperand(src.Operands[1], labels, bAllowsLabel, src.Line)
		if err != nil {
			return vm.Instruction{}, err
		}
		return vm.Binary(op, a, b), nil

	default:
		return vm.Instruction{}, fmt.Errorf("line %d: unsupported arity %d for %s", src.Line, arity, src.Opcode)
	}
}

func resolveOperand(o Operand, labels map[string]int, allowLabel bool, line int) (vm.Word, error) {
	if !o.IsLabel {
		return vm.Word(o.IntVal), nil
	}
	if !allowLabel {
		return 0, fmt.Errorf("line %d: label %q not valid here", line, o.Label)
	}
	addr, ok := labels[o.Label]
	if !ok {
		return 0, fmt.Errorf("line %d: undefined label %q", line, o.Label)
	}
	return vm.Word(addr), nil
}
