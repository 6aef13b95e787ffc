// Command tastvm is the driver CLI for the Tastier virtual machine.
//
// Usage:
//
//	tastvm run program.tvm            # assemble and execute
//	tastvm asm program.tvm -o out.tvmb  # assemble to bytecode
//	tastvm exec program.tvmb          # execute assembled bytecode
//	tastvm disasm program.tvmb        # disassemble bytecode
//	tastvm stats program.tvm          # execute and print opcode statistics
//	tastvm repl                       # start the interactive debugger
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"

	"github.com/tastier-lang/tastvm/pkg/asm"
	"github.com/tastier-lang/tastvm/pkg/config"
	"github.com/tastier-lang/tastvm/pkg/optimizer"
	"github.com/tastier-lang/tastvm/pkg/repl"
	"github.com/tastier-lang/tastvm/pkg/vm"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch os.Args[1] {
	case "run":
		return runCommand(os.Args[2:])
	case "asm":
		return asmCommand(os.Args[2:])
	case "exec":
		return execCommand(os.Args[2:])
	case "disasm":
		return disasmCommand(os.Args[2:])
	case "stats":
		return statsCommand(os.Args[2:])
	case "repl":
		return replCommand(os.Args[2:])
	case "version":
		fmt.Printf("tastvm version %s\n", version)
		if commit != "none" {
			fmt.Printf("  commit: %s\n", commit)
		}
		return nil
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

func runCommand(args []string) error {
	// Flags may also follow the file argument.
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		args = append(append([]string{}, args[1:]...), args[0])
	}
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	verbose := fs.Bool("v", false, "verbose output")
	trace := fs.Bool("trace", false, "print a one-line trace per instruction")
	optimize := fs.Bool("O", false, "enable constant folding and dead code elimination")
	configPath := fs.String("config", "", "YAML run configuration file")
	inputArg := fs.String("input", "", "comma-separated input words")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: tastvm run <file.tvm>")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}

	source, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	program, _, err := asm.Assemble(string(source))
	if err != nil {
		return fmt.Errorf("assembling: %w", err)
	}
	if *optimize || cfg.Optimize {
		program = optimizer.New(optimizer.WithAllOptimizations()).Optimize(program)
	}

	machine := vm.NewVM()
	if err := machine.Load(program); err != nil {
		return fmt.Errorf("loading program: %w", err)
	}

	input := cfg.InputWords()
	if *inputArg != "" {
		input, err = parseWordList(*inputArg)
		if err != nil {
			return err
		}
	}
	machine.SetInput(input)

	if cfg.MaxSteps > 0 {
		machine.SetMaxSteps(cfg.MaxSteps)
	}
	if *trace || cfg.Trace {
		machine.SetTrace(os.Stderr)
	}

	if *verbose {
		fmt.Printf("Executing: %s (%d instructions)\n", fs.Arg(0), len(program.Code))
	}

	if err := machine.Execute(); err != nil {
		return fmt.Errorf("executing: %w", err)
	}

	for _, line := range machine.Output() {
		fmt.Println(line)
	}
	return nil
}

func asmCommand(args []string) error {
	// Flags may also follow the file argument.
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		args = append(append([]string{}, args[1:]...), args[0])
	}
	fs := flag.NewFlagSet("asm", flag.ExitOnError)
	output := fs.String("o", "", "output file (default: input with .tvmb extension)")
	optimize := fs.Bool("O", false, "enable optimizations")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: tastvm asm <file.tvm> [-o out.tvmb]")
	}

	inputPath := fs.Arg(0)
	outputPath := *output
	if outputPath == "" {
		ext := filepath.Ext(inputPath)
		outputPath = strings.TrimSuffix(inputPath, ext) + ".tvmb"
	}

	source, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	program, _, err := asm.Assemble(string(source))
	if err != nil {
		return fmt.Errorf("assembling: %w", err)
	}
	if *optimize {
		program = optimizer.New(optimizer.WithAllOptimizations()).Optimize(program)
	}

	bytecode, err := vm.SerializeProgram(program)
	if err != nil {
		return fmt.Errorf("serializing: %w", err)
	}
	if err := os.WriteFile(outputPath, bytecode, 0644); err != nil {
		return fmt.Errorf("writing bytecode: %w", err)
	}
	fmt.Printf("Assembled: %s (%d instructions, %d bytes)\n", outputPath, len(program.Code), len(bytecode))
	return nil
}

func execCommand(args []string) error {
	// Flags may also follow the file argument.
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		args = append(append([]string{}, args[1:]...), args[0])
	}
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	inputArg := fs.String("input", "", "comma-separated input words")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: tastvm exec <file.tvmb>")
	}

	bytecode, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("reading bytecode: %w", err)
	}
	program, err := vm.DeserializeProgram(bytecode)
	if err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}

	machine := vm.NewVM()
	if err := machine.Load(program); err != nil {
		return fmt.Errorf("loading program: %w", err)
	}
	if *inputArg != "" {
		input, err := parseWordList(*inputArg)
		if err != nil {
			return err
		}
		machine.SetInput(input)
	}

	if err := machine.Execute(); err != nil {
		return fmt.Errorf("executing: %w", err)
	}
	for _, line := range machine.Output() {
		fmt.Println(line)
	}
	return nil
}

func disasmCommand(args []string) error {
	// Flags may also follow the file argument.
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		args = append(append([]string{}, args[1:]...), args[0])
	}
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	table := fs.Bool("table", false, "render as an aligned table instead of plain text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: tastvm disasm <file.tvmb>")
	}

	bytecode, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("reading bytecode: %w", err)
	}
	program, err := vm.DeserializeProgram(bytecode)
	if err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}

	if !*table {
		fmt.Print(vm.Disassemble(program))
		return nil
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Addr", "Op", "A", "B"})
	for i, inst := range program.Code {
		tw.Append([]string{
			strconv.Itoa(i),
			inst.Op.String(),
			strconv.Itoa(int(inst.A)),
			strconv.Itoa(int(inst.B)),
		})
	}
	tw.Render()
	return nil
}

func statsCommand(args []string) error {
	// Flags may also follow the file argument.
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		args = append(append([]string{}, args[1:]...), args[0])
	}
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	inputArg := fs.String("input", "", "comma-separated input words")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: tastvm stats <file.tvm>")
	}

	source, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}
	program, _, err := asm.Assemble(string(source))
	if err != nil {
		return fmt.Errorf("assembling: %w", err)
	}

	machine := vm.NewVM()
	if err := machine.Load(program); err != nil {
		return fmt.Errorf("loading program: %w", err)
	}
	if *inputArg != "" {
		input, err := parseWordList(*inputArg)
		if err != nil {
			return err
		}
		machine.SetInput(input)
	}
	machine.EnableStats()

	if err := machine.Execute(); err != nil {
		return fmt.Errorf("executing: %w", err)
	}

	stats := machine.Stats()
	fmt.Printf("steps executed: %d\n", stats.StepsExecuted)
	fmt.Printf("wall time:      %dns\n", stats.ExecutionTimeNs)
	fmt.Printf("peak TOP:       %d\n", stats.PeakTOP)
	fmt.Printf("peak BP:        %d\n", stats.PeakBP)

	names := make([]string, 0, len(stats.OpCounts))
	for name := range stats.OpCounts {
		names = append(names, name)
	}
	sort.Strings(names)

	counts := make([]float64, len(names))
	for i, name := range names {
		counts[i] = float64(stats.OpCounts[name])
	}
	if len(counts) > 0 {
		graph := asciigraph.Plot(counts, asciigraph.Height(10), asciigraph.Caption(strings.Join(names, " ")))
		fmt.Println(graph)
	}
	return nil
}

func replCommand(args []string) error {
	fs := flag.NewFlagSet("repl", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	repl.New().Start(os.Stdin, os.Stdout)
	return nil
}

func parseWordList(s string) ([]vm.Word, error) {
	parts := strings.Split(s, ",")
	words := make([]vm.Word, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid input word %q: %w", p, err)
		}
		words[i] = vm.Word(n)
	}
	return words, nil
}

func printUsage() error {
	fmt.Println(`tastvm - Tastier virtual machine driver

Usage:
  tastvm <command> [arguments]

Commands:
  run <file.tvm>       Assemble and execute a Tastier source file
  asm <file.tvm>       Assemble to bytecode (.tvmb)
  exec <file.tvmb>     Execute assembled bytecode
  disasm <file.tvmb>   Disassemble bytecode to text or a table
  stats <file.tvm>     Execute and print an opcode-frequency graph
  repl                 Start the interactive debugger
  version              Print version information
  help                 Show this help message

Run Options:
  -v              Verbose output
  -trace          Print a one-line trace per instruction
  -O              Enable constant folding and dead code elimination
  -config <file>  Load a YAML run configuration
  -input <list>   Comma-separated input words

Examples:
  tastvm run examples/fact.tvm -input 5
  tastvm asm examples/fact.tvm -o fact.tvmb -O
  tastvm exec fact.tvmb -input 5
  tastvm disasm fact.tvmb -table
  tastvm stats examples/fact.tvm -input 5
  tastvm repl`)
	return nil
}
