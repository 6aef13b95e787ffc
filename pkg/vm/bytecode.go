package vm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Bytecode file format ("TVMB"):
//   - Magic: "TVMB" (4 bytes)
//   - Version: uint16
//   - Names: uint32
//   - NumInstructions: uint32
//   - Instructions: for each, opcode (uint8), A (int16), B (int16)
//   - NumInitialData: uint32
//   - InitialData: int16 each
//
// The whole payload after the magic is gzip-compressed with
// klauspost/compress, the same role the teacher's stdlib-gzip-free
// SerializeProgram/DeserializeProgram pair played for its own .dfbc
// format, now with a faster compressor.
const (
	BytecodeMagic   = "TVMB"
	BytecodeVersion = 1
)

var (
	ErrInvalidMagic   = errors.New("invalid bytecode magic")
	ErrInvalidVersion = errors.New("unsupported bytecode version")
)

// SerializeProgram encodes a Program into the gzip-compressed .tvmb
// format.
func SerializeProgram(p *Program) ([]byte, error) {
	var payload bytes.Buffer
	if err := binary.Write(&payload, binary.LittleEndian, uint16(BytecodeVersion)); err != nil {
		return nil, fmt.Errorf("writing version: %w", err)
	}
	if err := binary.Write(&payload, binary.LittleEndian, uint32(p.Names)); err != nil {
		return nil, fmt.Errorf("writing names count: %w", err)
	}
	if err := binary.Write(&payload, binary.LittleEndian, uint32(len(p.Code))); err != nil {
		return nil, fmt.Errorf("writing instruction count: %w", err)
	}
	for _, inst := range p.Code {
		if err := binary.Write(&payload, binary.LittleEndian, uint8(inst.Op)); err != nil {
			return nil, fmt.Errorf("writing opcode: %w", err)
		}
		if err := binary.Write(&payload, binary.LittleEndian, int16(inst.A)); err != nil {
			return nil, fmt.Errorf("writing operand A: %w", err)
		}
		if err := binary.Write(&payload, binary.LittleEndian, int16(inst.B)); err != nil {
			return nil, fmt.Errorf("writing operand B: %w", err)
		}
	}
	if err := binary.Write(&payload, binary.LittleEndian, uint32(len(p.InitialData))); err != nil {
		return nil, fmt.Errorf("writing initial data count: %w", err)
	}
	for i, w := range p.InitialData {
		if err := binary.Write(&payload, binary.LittleEndian, int16(w)); err != nil {
			return nil, fmt.Errorf("writing initial data word %d: %w", i, err)
		}
	}

	var out bytes.Buffer
	out.WriteString(BytecodeMagic)
	gz, err := gzip.NewWriterLevel(&out, gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gz.Write(payload.Bytes()); err != nil {
		return nil, fmt.Errorf("compressing bytecode: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return out.Bytes(), nil
}

// DeserializeProgram decodes a .tvmb image produced by SerializeProgram.
func DeserializeProgram(data []byte) (*Program, error) {
	if len(data) < len(BytecodeMagic) {
		return nil, ErrInvalidMagic
	}
	magic := string(data[:len(BytecodeMagic)])
	if magic != BytecodeMagic {
		return nil, ErrInvalidMagic
	}

	gz, err := gzip.NewReader(bytes.NewReader(data[len(BytecodeMagic):]))
	if err != nil {
		return nil, fmt.Errorf("opening gzip reader: %w", err)
	}
	defer gz.Close()

	payload, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompressing bytecode: %w", err)
	}
	buf := bytes.NewReader(payload)

	var version uint16
	if err := binary.Read(buf, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != BytecodeVersion {
		return nil, ErrInvalidVersion
	}

	var names uint32
	if err := binary.Read(buf, binary.LittleEndian, &names); err != nil {
		return nil, fmt.Errorf("reading names count: %w", err)
	}

	var count uint32
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("reading instruction count: %w", err)
	}

	code := make([]Instruction, count)
	for i := range code {
		var op uint8
		var a, b int16
		if err := binary.Read(buf, binary.LittleEndian, &op); err != nil {
			return nil, fmt.Errorf("reading opcode %d: %w", i, err)
		}
		if err := binary.Read(buf, binary.LittleEndian, &a); err != nil {
			return nil, fmt.Errorf("reading operand A %d: %w", i, err)
		}
		if err := binary.Read(buf, binary.LittleEndian, &b); err != nil {
			return nil, fmt.Errorf("reading operand B %d: %w", i, err)
		}
		code[i] = Instruction{Op: Opcode(op), A: Word(a), B: Word(b)}
	}

	var dataCount uint32
	if err := binary.Read(buf, binary.LittleEndian, &dataCount); err != nil {
		return nil, fmt.Errorf("reading initial data count: %w", err)
	}
	var initialData []Word
	if dataCount > 0 {
		initialData = make([]Word, dataCount)
		for i := range initialData {
			var w int16
			if err := binary.Read(buf, binary.LittleEndian, &w); err != nil {
				return nil, fmt.Errorf("reading initial data word %d: %w", i, err)
			}
			initialData[i] = Word(w)
		}
	}

	return &Program{Code: code, Names: int(names), InitialData: initialData}, nil
}

// Disassemble renders a Program back to the textual assembly format
// (spec.md §6), one instruction per line, addresses shown as comments.
// Initial data words are listed in comment lines only, so re-assembling
// the text reproduces Code and Names but not InitialData.
func Disassemble(p *Program) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, ".names %d\n", p.Names)
	if len(p.InitialData) > 0 {
		fmt.Fprintf(&buf, "; .data %d\n", len(p.InitialData))
		for i, w := range p.InitialData {
			fmt.Fprintf(&buf, "; %4d: %d\n", i, w)
		}
	}
	for i, inst := range p.Code {
		fmt.Fprintf(&buf, "%-20s ; %d\n", inst, i)
	}
	return buf.String()
}
