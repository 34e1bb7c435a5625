package line

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-wasmsym/wasmsym/pkg/dwarf/dwarfbuilder"
)

func TestSequences(t *testing.T) {
	dbl := Parse("/cu", bytes.NewBuffer(buildTwoFileProgram(t)), nil, t.Logf, false, 8)
	if dbl == nil {
		t.Fatal("parse returned nil")
	}

	seqs := dbl.Sequences()
	if len(seqs) != 2 {
		t.Fatalf("got %d sequences, want 2", len(seqs))
	}

	s := seqs[0]
	if s.StartAddr != 0x100 || s.EndAddr != 0x120 {
		t.Errorf("sequence 0 range = [%#x, %#x)", s.StartAddr, s.EndAddr)
	}
	want := []Entry{
		{Address: 0x100, File: "src/main.rs", Line: 3, Column: 1, IsStmt: true},
		{Address: 0x108, File: "src/main.rs", Line: 4, Column: 5, IsStmt: true},
		{Address: 0x110, File: "src/lib.rs", Line: 9, Column: 1, IsStmt: true},
	}
	if len(s.Rows) != len(want) {
		t.Fatalf("rows = %+v", s.Rows)
	}
	for i := range want {
		if s.Rows[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, s.Rows[i], want[i])
		}
	}

	if seqs[1].StartAddr != 0x200 || seqs[1].EndAddr != 0x210 || len(seqs[1].Rows) != 1 {
		t.Errorf("sequence 1 = %+v", seqs[1])
	}
}

func TestSequencesDropAddressZero(t *testing.T) {
	lb := dwarfbuilder.NewLineBuilder()
	f := lb.AddFile("dead.rs", 0)
	// The linker parks stripped functions at address zero; their rows
	// must not shadow live code.
	lb.AddSequence([]dwarfbuilder.LineRow{
		{Address: 0, File: f, Line: 1},
		{Address: 8, File: f, Line: 2},
	}, 0x10)
	lb.AddSequence([]dwarfbuilder.LineRow{
		{Address: 0x80, File: f, Line: 10},
	}, 0x90)

	dbl := Parse("", bytes.NewBuffer(lb.Build()), nil, t.Logf, false, 8)
	seqs := dbl.Sequences()
	if len(seqs) != 1 {
		t.Fatalf("got %d sequences, want 1: %+v", len(seqs), seqs)
	}
	if seqs[0].StartAddr != 0x80 {
		t.Errorf("kept sequence starts at %#x, want 0x80", seqs[0].StartAddr)
	}
}

func TestSequencesUnknownExtendedOpcode(t *testing.T) {
	lb := dwarfbuilder.NewLineBuilder()
	lb.AddFile("main.rs", 0)

	var buf bytes.Buffer
	buf.Write(lb.Build())
	// set_address 0x10
	buf.Write([]byte{0x0, 0x9, 0x2})
	binary.Write(&buf, binary.LittleEndian, uint64(0x10))
	// DW_LNE_set_discriminator 5: llvm emits these routinely; the
	// operand must be skipped, not executed as an opcode.
	buf.Write([]byte{0x0, 0x2, 0x4, 0x5})
	// copy
	buf.WriteByte(0x1)
	// advance_pc 0x10
	buf.Write([]byte{0x2, 0x10})
	// end_sequence
	buf.Write([]byte{0x0, 0x1, 0x1})

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out, uint32(len(out)-4))

	dbl := Parse("", bytes.NewBuffer(out), nil, t.Logf, false, 8)
	if dbl == nil {
		t.Fatal("parse returned nil")
	}
	seqs := dbl.Sequences()
	if len(seqs) != 1 {
		t.Fatalf("got %d sequences, want 1: %+v", len(seqs), seqs)
	}
	s := seqs[0]
	if s.StartAddr != 0x10 || s.EndAddr != 0x20 {
		t.Errorf("sequence range = [%#x, %#x), want [0x10, 0x20)", s.StartAddr, s.EndAddr)
	}
	if len(s.Rows) != 1 || s.Rows[0] != (Entry{Address: 0x10, File: "main.rs", Line: 1, IsStmt: true}) {
		t.Errorf("rows = %+v", s.Rows)
	}
}

func TestSequencesTruncated(t *testing.T) {
	data := buildTwoFileProgram(t)
	// Cutting the final end_sequence opcode leaves the second sequence
	// incomplete; only the first survives.
	data = data[:len(data)-3]

	dbl := Parse("/cu", bytes.NewBuffer(data), nil, t.Logf, false, 8)
	if dbl == nil {
		t.Fatal("parse returned nil")
	}
	seqs := dbl.Sequences()
	if len(seqs) != 1 {
		t.Fatalf("got %d sequences, want 1", len(seqs))
	}
	if seqs[0].StartAddr != 0x100 {
		t.Errorf("kept sequence starts at %#x", seqs[0].StartAddr)
	}
}

func TestLineToPC(t *testing.T) {
	dbl := Parse("/cu", bytes.NewBuffer(buildTwoFileProgram(t)), nil, t.Logf, false, 8)

	if pc := dbl.LineToPC("src/main.rs", 4); pc != 0x108 {
		t.Errorf("LineToPC = %#x, want 0x108", pc)
	}
	if pc := dbl.LineToPC("src/lib.rs", 20); pc != 0x200 {
		t.Errorf("LineToPC = %#x, want 0x200", pc)
	}
	if pc := dbl.LineToPC("nope.rs", 1); pc != 0 {
		t.Errorf("LineToPC for unknown file = %#x, want 0", pc)
	}
}
