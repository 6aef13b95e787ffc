package vm

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSerializeDeserializeProgram_RoundTrip(t *testing.T) {
	prog := &Program{
		Names: 3,
		Code: []Instruction{
			Unary(Const, 41),
			Unary(Const, 1),
			Nullary(Add),
			Nullary(Write),
			Nullary(Print),
			Nullary(Halt),
			Binary(Call, 0, 2),
			Binary(StoArr, 3, 2),
		},
	}

	bc, err := SerializeProgram(prog)
	if err != nil {
		t.Fatalf("SerializeProgram failed: %v", err)
	}
	if !strings.HasPrefix(string(bc), BytecodeMagic) {
		t.Fatalf("serialized bytecode missing magic prefix")
	}

	got, err := DeserializeProgram(bc)
	if err != nil {
		t.Fatalf("DeserializeProgram failed: %v", err)
	}
	if diff := cmp.Diff(prog, got); diff != "" {
		t.Errorf("round-tripped program differs (-want +got):\n%s", diff)
	}
}

func TestSerializeDeserializeProgram_RoundTripsInitialData(t *testing.T) {
	prog := &Program{
		Names:       1,
		Code:        []Instruction{Unary(Const, 5), Nullary(WriteS), Nullary(Print), Nullary(Halt)},
		InitialData: []Word{0, 'i', 'H'},
	}
	bc, err := SerializeProgram(prog)
	if err != nil {
		t.Fatalf("SerializeProgram failed: %v", err)
	}
	got, err := DeserializeProgram(bc)
	if err != nil {
		t.Fatalf("DeserializeProgram failed: %v", err)
	}
	if diff := cmp.Diff(prog, got); diff != "" {
		t.Errorf("round-tripped program differs (-want +got):\n%s", diff)
	}
}

func TestDeserializeProgram_InvalidMagic(t *testing.T) {
	_, err := DeserializeProgram([]byte("nope, not a bytecode file"))
	if err != ErrInvalidMagic {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestDeserializeProgram_TooShort(t *testing.T) {
	_, err := DeserializeProgram([]byte("TV"))
	if err != ErrInvalidMagic {
		t.Fatalf("expected ErrInvalidMagic for a too-short input, got %v", err)
	}
}

func TestDisassemble_RendersOneInstructionPerLine(t *testing.T) {
	prog := &Program{
		Names: 1,
		Code: []Instruction{
			Unary(Const, 7),
			Nullary(Write),
			Nullary(Print),
			Nullary(Halt),
		},
	}
	out := Disassemble(prog)
	if !strings.Contains(out, ".names 1") {
		t.Errorf("disassembly missing names header, got:\n%s", out)
	}
	if !strings.Contains(out, "Const 7") {
		t.Errorf("disassembly missing Const 7, got:\n%s", out)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != len(prog.Code)+1 {
		t.Errorf("expected %d lines, got %d", len(prog.Code)+1, len(lines))
	}
}
