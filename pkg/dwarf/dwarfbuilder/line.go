package dwarfbuilder

import (
	"bytes"
	"encoding/binary"

	"github.com/go-wasmsym/wasmsym/pkg/dwarf/leb128"
)

// LineRow describes one row the generated line program should produce.
type LineRow struct {
	Address uint64
	File    uint64
	Line    int64
	Column  uint64
}

type lineSeq struct {
	rows    []LineRow
	endAddr uint64
}

// LineBuilder builds a version 4 .debug_line program. Directory and
// file indices are 1-based, matching what the emitted prologue
// declares.
type LineBuilder struct {
	dirs  []string
	files []LineFile
	seqs  []lineSeq
}

// LineFile is a file table entry; DirIdx indexes the directory table.
type LineFile struct {
	Name   string
	DirIdx uint64
}

// NewLineBuilder returns an empty line program builder.
func NewLineBuilder() *LineBuilder {
	return &LineBuilder{}
}

// AddDir appends a directory to the include table and returns its
// index.
func (lb *LineBuilder) AddDir(dir string) uint64 {
	lb.dirs = append(lb.dirs, dir)
	return uint64(len(lb.dirs))
}

// AddFile appends a file to the file table and returns its index.
func (lb *LineBuilder) AddFile(name string, dirIdx uint64) uint64 {
	lb.files = append(lb.files, LineFile{Name: name, DirIdx: dirIdx})
	return uint64(len(lb.files))
}

// AddSequence appends a sequence emitting the given rows in order,
// ended at endAddr. Rows must have non-decreasing addresses.
func (lb *LineBuilder) AddSequence(rows []LineRow, endAddr uint64) {
	lb.seqs = append(lb.seqs, lineSeq{rows: rows, endAddr: endAddr})
}

const (
	lnsCopy       = 1
	lnsAdvancePC  = 2
	lnsAdvLine    = 3
	lnsSetFile    = 4
	lnsSetColumn  = 5
	lneEndSeq     = 1
	lneSetAddress = 2
)

// Build returns the encoded .debug_line section.
func (lb *LineBuilder) Build() []byte {
	var buf bytes.Buffer

	buf.Write([]byte{
		0x0, 0x0, 0x0, 0x0, // unit_length
		0x4, 0x0, // version
		0x0, 0x0, 0x0, 0x0, // header_length
		0x1,       // minimum_instruction_length
		0x1,       // maximum_operations_per_instruction
		0x1,       // default_is_stmt
		0xfb,      // line_base (-5)
		0xe,       // line_range
		0xd,       // opcode_base
		0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1, // standard_opcode_lengths
	})

	for _, dir := range lb.dirs {
		buf.WriteString(dir)
		buf.WriteByte(0)
	}
	buf.WriteByte(0)

	for _, f := range lb.files {
		buf.WriteString(f.Name)
		buf.WriteByte(0)
		leb128.EncodeUnsigned(&buf, f.DirIdx)
		leb128.EncodeUnsigned(&buf, 0) // mtime
		leb128.EncodeUnsigned(&buf, 0) // length
	}
	buf.WriteByte(0)

	headerLen := buf.Len() - 10

	for _, seq := range lb.seqs {
		if len(seq.rows) == 0 {
			continue
		}

		writeExtended(&buf, lneSetAddress, func(b *bytes.Buffer) {
			binary.Write(b, binary.LittleEndian, seq.rows[0].Address)
		})

		addr := seq.rows[0].Address
		file := uint64(1)
		line := int64(1)
		col := uint64(0)

		for _, row := range seq.rows {
			if row.File != file {
				buf.WriteByte(lnsSetFile)
				leb128.EncodeUnsigned(&buf, row.File)
				file = row.File
			}
			if row.Column != col {
				buf.WriteByte(lnsSetColumn)
				leb128.EncodeUnsigned(&buf, row.Column)
				col = row.Column
			}
			if row.Line != line {
				buf.WriteByte(lnsAdvLine)
				leb128.EncodeSigned(&buf, row.Line-line)
				line = row.Line
			}
			if row.Address != addr {
				buf.WriteByte(lnsAdvancePC)
				leb128.EncodeUnsigned(&buf, row.Address-addr)
				addr = row.Address
			}
			buf.WriteByte(lnsCopy)
		}

		if seq.endAddr > addr {
			buf.WriteByte(lnsAdvancePC)
			leb128.EncodeUnsigned(&buf, seq.endAddr-addr)
		}
		writeExtended(&buf, lneEndSeq, nil)
	}

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out, uint32(len(out)-4))
	binary.LittleEndian.PutUint32(out[6:], uint32(headerLen))
	return out
}

func writeExtended(buf *bytes.Buffer, opcode byte, operand func(*bytes.Buffer)) {
	var body bytes.Buffer
	body.WriteByte(opcode)
	if operand != nil {
		operand(&body)
	}
	buf.WriteByte(0)
	leb128.EncodeUnsigned(buf, uint64(body.Len()))
	buf.Write(body.Bytes())
}
