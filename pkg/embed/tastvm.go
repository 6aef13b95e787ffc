// Package embed provides the Go embedding API for the Tastier virtual
// machine.
//
// Tastier is embeddable in Go applications: hand it assembled source
// text (spec.md §6) and an input queue, get back the program's output
// lines.
//
// Basic usage:
//
//	output, err := embed.Execute(`
//	    .names 0
//	    Const 3
//	    Const 5
//	    Add
//	    Write
//	    Print
//	    Halt
//	`, nil)
package embed

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/tastier-lang/tastvm/pkg/asm"
	"github.com/tastier-lang/tastvm/pkg/config"
	"github.com/tastier-lang/tastvm/pkg/optimizer"
	"github.com/tastier-lang/tastvm/pkg/vm"
)

// Common errors returned by ExecuteWithOptions, translated from the
// underlying vm package so callers embedding this module don't need to
// import it just to check errors.Is.
var (
	ErrTimeout   = errors.New("execution timeout exceeded")
	ErrStepLimit = errors.New("step limit exceeded")
)

// Execute assembles and runs source, feeding it the given input queue,
// and returns the program's output lines.
func Execute(source string, input []vm.Word) ([]string, error) {
	return ExecuteWithOptions(source, WithInput(input))
}

// ExecuteFile reads a source file from path and executes it.
func ExecuteFile(path string, input []vm.Word) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Execute(string(data), input)
}

// Options configures execution behavior for ExecuteWithOptions.
type Options struct {
	// Input is the finite word queue Read consumes from.
	Input []vm.Word

	// Timeout sets a maximum wall-clock execution time. Zero means no
	// timeout.
	Timeout time.Duration

	// MaxSteps limits the number of instructions executed. Zero means
	// unlimited.
	MaxSteps int64

	// Optimize runs the optimizer's constant-folding and dead-code
	// passes over the assembled program before it is loaded.
	Optimize bool

	// Context allows cooperative cancellation. If nil,
	// context.Background() is used.
	Context context.Context

	// TraceWriter, if set, receives the VM's one-line-per-instruction
	// trace.
	TraceWriter io.Writer
}

// Option is a functional option for configuring execution.
type Option func(*Options)

// WithInput sets the input word queue.
func WithInput(input []vm.Word) Option {
	return func(o *Options) { o.Input = input }
}

// WithTimeout sets the execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithMaxSteps sets the instruction step budget.
func WithMaxSteps(n int64) Option {
	return func(o *Options) { o.MaxSteps = n }
}

// WithOptimize enables the optimizer before loading the program.
func WithOptimize() Option {
	return func(o *Options) { o.Optimize = true }
}

// WithContext sets the cancellation context.
func WithContext(ctx context.Context) Option {
	return func(o *Options) { o.Context = ctx }
}

// WithTraceWriter sets the destination for the VM's execution trace.
func WithTraceWriter(w io.Writer) Option {
	return func(o *Options) { o.TraceWriter = w }
}

// WithConfig applies a run configuration's step limit, input queue,
// trace, and optimizer settings, the same way cmd/tastvm applies a
// loaded config.Config to its own VM instance. A nil cfg is a no-op.
// Options passed after WithConfig in the same ExecuteWithOptions call
// still take precedence, since options apply in order.
func WithConfig(cfg *config.Config) Option {
	return func(o *Options) {
		if cfg == nil {
			return
		}
		if cfg.MaxSteps > 0 {
			o.MaxSteps = cfg.MaxSteps
		}
		if cfg.Input != nil {
			o.Input = cfg.InputWords()
		}
		if cfg.Optimize {
			o.Optimize = true
		}
		if cfg.Trace {
			o.TraceWriter = os.Stderr
		}
	}
}

// ExecuteWithOptions assembles and runs source with advanced
// configuration: step limits, timeouts, and optimization.
//
// Example:
//
//	output, err := embed.ExecuteWithOptions(source,
//	    embed.WithInput([]vm.Word{3, 5, 0}),
//	    embed.WithTimeout(5*time.Second),
//	    embed.WithMaxSteps(100000),
//	    embed.WithOptimize(),
//	)
func ExecuteWithOptions(source string, opts ...Option) ([]string, error) {
	options := &Options{Context: context.Background()}
	for _, opt := range opts {
		opt(options)
	}

	program, _, err := asm.Assemble(source)
	if err != nil {
		return nil, err
	}

	if options.Optimize {
		program = optimizer.New(optimizer.WithAllOptimizations()).Optimize(program)
	}

	machine := vm.NewVM()
	if err := machine.Load(program); err != nil {
		return nil, err
	}
	machine.SetInput(options.Input)
	if options.MaxSteps > 0 {
		machine.SetMaxSteps(options.MaxSteps)
	}
	if options.TraceWriter != nil {
		machine.SetTrace(options.TraceWriter)
	}

	ctx := options.Context
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}
	machine.SetContext(ctx)

	if err := machine.Execute(); err != nil {
		switch {
		case errors.Is(err, vm.ErrStepLimitExceeded):
			return machine.Output(), ErrStepLimit
		case errors.Is(err, context.DeadlineExceeded):
			return machine.Output(), ErrTimeout
		case errors.Is(err, context.Canceled):
			return machine.Output(), err
		}
		return machine.Output(), err
	}

	return machine.Output(), nil
}
