// Package config loads the YAML run configuration accepted by cmd/tastvm:
// step budgets, trace toggles, and default input queues, so a program's
// run parameters can live next to it instead of being retyped as flags
// every invocation.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/tastier-lang/tastvm/pkg/vm"
)

// Config is the run configuration for a single Tastier program.
type Config struct {
	// MaxSteps bounds Execute's instruction budget. Zero means
	// unbounded.
	MaxSteps int64 `yaml:"max_steps"`

	// Trace turns on the VM's one-line-per-instruction trace to stderr.
	Trace bool `yaml:"trace"`

	// Input is the finite input queue Read consumes from, in source
	// order.
	Input []int16 `yaml:"input"`

	// Optimize runs constant folding and dead code elimination on the
	// assembled program before it loads.
	Optimize bool `yaml:"optimize"`
}

// Default returns the zero-value configuration: unbounded steps, no
// trace, no input, no optimization.
func Default() Config {
	return Config{}
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// InputWords converts the configured Input into VM words.
func (c Config) InputWords() []vm.Word {
	if c.Input == nil {
		return nil
	}
	words := make([]vm.Word, len(c.Input))
	for i, v := range c.Input {
		words[i] = vm.Word(v)
	}
	return words
}
