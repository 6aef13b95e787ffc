// Package testutil provides testing utilities for tastvm tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tastier-lang/tastvm/pkg/asm"
	"github.com/tastier-lang/tastvm/pkg/vm"
)

// TempFile creates a temporary file with the given content and extension.
// The file is automatically cleaned up when the test finishes.
func TempFile(t *testing.T, content, ext string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test"+ext)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// AssembleAndRun assembles source, executes it against input, and returns
// its flushed output lines. Any assembly or execution error fails the test.
func AssembleAndRun(t *testing.T, source string, input []vm.Word) []string {
	t.Helper()
	program, _, err := asm.Assemble(source)
	if err != nil {
		t.Fatalf("assembling: %v", err)
	}
	m := vm.NewVM()
	if err := m.Load(program); err != nil {
		t.Fatalf("loading program: %v", err)
	}
	m.SetInput(input)
	if err := m.Execute(); err != nil {
		t.Fatalf("executing: %v", err)
	}
	return m.Output()
}

// AssertOutputEqual checks two output line slices for equality.
func AssertOutputEqual(t *testing.T, expected, actual []string) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Fatalf("expected %d output lines %v, got %d %v", len(expected), expected, len(actual), actual)
	}
	for i := range expected {
		if expected[i] != actual[i] {
			t.Errorf("output line %d: expected %q, got %q", i, expected[i], actual[i])
		}
	}
}

// AssertWordEqual checks two vm.Word values for equality.
func AssertWordEqual(t *testing.T, expected, actual vm.Word) {
	t.Helper()
	if expected != actual {
		t.Errorf("expected %d, got %d", expected, actual)
	}
}
