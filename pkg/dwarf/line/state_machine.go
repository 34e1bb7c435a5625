package line

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Entry is one row of the line number matrix.
type Entry struct {
	Address uint64
	File    string
	Line    int
	Column  int
	IsStmt  bool
}

// Sequence is a run of rows covering the contiguous address range
// [StartAddr, EndAddr). Rows are in program order, addresses
// non-decreasing.
type Sequence struct {
	StartAddr uint64
	EndAddr   uint64
	Rows      []Entry
}

// StateMachine is the line number program interpreter.
type StateMachine struct {
	dbl           *DebugLineInfo
	file          string
	line          int
	address       uint64
	column        uint
	isStmt        bool
	isa           uint64 // instruction set architecture register (DWARFv4)
	basicBlock    bool
	endSeq        bool
	lastDelta     int
	prologueEnd   bool
	epilogueBegin bool
	// valid is true if the current value of the state machine is the address of
	// an instruction (using the terminology used by DWARF spec the current
	// value of the state machine should be appended to the matrix representing
	// the compilation unit)
	valid bool

	started bool

	buf     *bytes.Buffer // remaining instructions
	opcodes []opcodefn

	definedFiles []*FileEntry // files defined with DW_LINE_define_file
}

type opcodefn func(*StateMachine, *bytes.Buffer)

// Standard opcodes
const (
	DW_LNS_copy             = 1
	DW_LNS_advance_pc       = 2
	DW_LNS_advance_line     = 3
	DW_LNS_set_file         = 4
	DW_LNS_set_column       = 5
	DW_LNS_negate_stmt      = 6
	DW_LNS_set_basic_block  = 7
	DW_LNS_const_add_pc     = 8
	DW_LNS_fixed_advance_pc = 9
	DW_LNS_prologue_end     = 10
	DW_LNS_epilogue_begin   = 11
	DW_LNS_set_isa          = 12
)

// Extended opcodes
const (
	DW_LINE_end_sequence = 1
	DW_LINE_set_address  = 2
	DW_LINE_define_file  = 3
)

var standardopcodes = map[byte]opcodefn{
	DW_LNS_copy:             copyfn,
	DW_LNS_advance_pc:       advancepc,
	DW_LNS_advance_line:     advanceline,
	DW_LNS_set_file:         setfile,
	DW_LNS_set_column:       setcolumn,
	DW_LNS_negate_stmt:      negatestmt,
	DW_LNS_set_basic_block:  setbasicblock,
	DW_LNS_const_add_pc:     constaddpc,
	DW_LNS_fixed_advance_pc: fixedadvancepc,
	DW_LNS_prologue_end:     prologueend,
	DW_LNS_epilogue_begin:   epiloguebegin,
	DW_LNS_set_isa:          setisa,
}

var extendedopcodes = map[byte]opcodefn{
	DW_LINE_end_sequence: endsequence,
	DW_LINE_set_address:  setaddress,
	DW_LINE_define_file:  definefile,
}

func newStateMachine(dbl *DebugLineInfo, instructions []byte) *StateMachine {
	opcodes := make([]opcodefn, len(standardopcodes)+1)
	opcodes[0] = execExtendedOpcode
	for op := range standardopcodes {
		opcodes[op] = standardopcodes[op]
	}
	sm := &StateMachine{
		dbl:     dbl,
		file:    dbl.fileByIndex(1, nil),
		line:    1,
		buf:     bytes.NewBuffer(instructions),
		opcodes: opcodes,
		isStmt:  dbl.Prologue.InitialIsStmt == uint8(1),
	}
	return sm
}

// Sequences executes the line program once and returns the completed
// row sequences, sorted as emitted. Sequences starting at address zero
// are discarded: linkers park dead code there and its rows would
// shadow live functions. A truncated instruction stream keeps every
// sequence completed before the truncation point.
func (dbl *DebugLineInfo) Sequences() []Sequence {
	if dbl == nil {
		return nil
	}

	var (
		seqs []Sequence
		cur  []Entry
		sm   = newStateMachine(dbl, dbl.Instructions)
	)

	for {
		if err := sm.next(); err != nil {
			if err != io.EOF {
				dbl.Logf("line program: %v", err)
			}
			break
		}
		if !sm.valid {
			continue
		}
		if sm.endSeq {
			if len(cur) > 0 && cur[0].Address != 0 {
				seqs = append(seqs, Sequence{
					StartAddr: cur[0].Address,
					EndAddr:   sm.address,
					Rows:      cur,
				})
			}
			cur = nil
			continue
		}
		cur = append(cur, Entry{
			Address: sm.address,
			File:    sm.file,
			Line:    sm.line,
			Column:  int(sm.column),
			IsStmt:  sm.isStmt,
		})
	}

	return seqs
}

// LineToPC returns the first address associated with filename:lineno,
// preferring rows with the is_stmt flag.
func (dbl *DebugLineInfo) LineToPC(filename string, lineno int) uint64 {
	if dbl == nil {
		return 0
	}

	var fallbackPC uint64

	for _, seq := range dbl.Sequences() {
		for _, row := range seq.Rows {
			if row.Line != lineno || row.File != filename {
				continue
			}
			if row.IsStmt {
				return row.Address
			}
			if fallbackPC == 0 {
				fallbackPC = row.Address
			}
		}
	}
	return fallbackPC
}

func (sm *StateMachine) next() error {
	sm.started = true
	if sm.valid {
		// valid is set by either a special opcode or a DW_LNS_copy, in both cases
		// we need to reset basic_block, prologue_end and epilogue_begin
		sm.basicBlock = false
		sm.prologueEnd = false
		sm.epilogueBegin = false
	}
	if sm.endSeq {
		sm.endSeq = false
		sm.address = 0
		sm.file = sm.dbl.fileByIndex(1, nil)
		sm.line = 1
		sm.column = 0
		sm.isa = 0
		sm.isStmt = sm.dbl.Prologue.InitialIsStmt == uint8(1)
		sm.basicBlock = false
	}
	b, err := sm.buf.ReadByte()
	if err != nil {
		return err
	}
	if b < sm.dbl.Prologue.OpcodeBase {
		if int(b) < len(sm.opcodes) {
			sm.valid = false
			sm.opcodes[b](sm, sm.buf)
		} else {
			// unimplemented standard opcode, read the number of arguments specified
			// in the prologue and do nothing with them
			opnum := sm.dbl.Prologue.StdOpLengths[b-1]
			for i := 0; i < int(opnum); i++ {
				decodeSLEB(sm.buf)
			}
			sm.dbl.Logf("unknown opcode %d(0x%x), %d arguments, file %s, line %d, address 0x%x", b, b, opnum, sm.file, sm.line, sm.address)
		}
	} else {
		execSpecialOpcode(sm, b)
	}
	return nil
}

func execSpecialOpcode(sm *StateMachine, instr byte) {
	var (
		opcode  = uint8(instr)
		decoded = opcode - sm.dbl.Prologue.OpcodeBase
	)

	sm.lastDelta = int(sm.dbl.Prologue.LineBase + int8(decoded%sm.dbl.Prologue.LineRange))
	sm.line += sm.lastDelta
	sm.address += uint64(decoded/sm.dbl.Prologue.LineRange) * uint64(sm.dbl.Prologue.MinInstrLength)
	sm.valid = true
}

func execExtendedOpcode(sm *StateMachine, buf *bytes.Buffer) {
	n, _ := decodeULEB(buf)
	b, _ := buf.ReadByte()
	if fn, ok := extendedopcodes[b]; ok {
		fn(sm, buf)
		return
	}
	// The declared length covers the sub-opcode byte and its operands;
	// skip the operands so the stream stays aligned on the next opcode.
	operands := 0
	if n > 0 {
		operands = int(n - 1)
		buf.Next(operands)
	}
	sm.dbl.Logf("unknown extended opcode %#x, skipped %d operand bytes", b, operands)
}

func copyfn(sm *StateMachine, buf *bytes.Buffer) {
	sm.valid = true
}

func advancepc(sm *StateMachine, buf *bytes.Buffer) {
	addr, _ := decodeULEB(buf)
	sm.address += addr * uint64(sm.dbl.Prologue.MinInstrLength)
}

func advanceline(sm *StateMachine, buf *bytes.Buffer) {
	line, _ := decodeSLEB(buf)
	sm.line += int(line)
	sm.lastDelta = int(line)
}

func setfile(sm *StateMachine, buf *bytes.Buffer) {
	i, _ := decodeULEB(buf)
	sm.file = sm.dbl.fileByIndex(i, sm.definedFiles)
}

func setcolumn(sm *StateMachine, buf *bytes.Buffer) {
	c, _ := decodeULEB(buf)
	sm.column = uint(c)
}

func negatestmt(sm *StateMachine, buf *bytes.Buffer) {
	sm.isStmt = !sm.isStmt
}

func setbasicblock(sm *StateMachine, buf *bytes.Buffer) {
	sm.basicBlock = true
}

func constaddpc(sm *StateMachine, buf *bytes.Buffer) {
	sm.address += uint64((255-sm.dbl.Prologue.OpcodeBase)/sm.dbl.Prologue.LineRange) * uint64(sm.dbl.Prologue.MinInstrLength)
}

func fixedadvancepc(sm *StateMachine, buf *bytes.Buffer) {
	var operand uint16
	binary.Read(buf, binary.LittleEndian, &operand)

	sm.address += uint64(operand)
}

func endsequence(sm *StateMachine, buf *bytes.Buffer) {
	sm.endSeq = true
	sm.valid = true
}

func setaddress(sm *StateMachine, buf *bytes.Buffer) {
	if sm.dbl.ptrSize == 4 {
		var addr uint32
		binary.Read(buf, binary.LittleEndian, &addr)
		sm.address = uint64(addr)
		return
	}
	var addr uint64
	binary.Read(buf, binary.LittleEndian, &addr)
	sm.address = addr
}

func definefile(sm *StateMachine, buf *bytes.Buffer) {
	entry := readFileEntry(sm.dbl, sm.buf, false)
	if entry != nil {
		sm.definedFiles = append(sm.definedFiles, entry)
	}
}

func prologueend(sm *StateMachine, buf *bytes.Buffer) {
	sm.prologueEnd = true
}

func epiloguebegin(sm *StateMachine, buf *bytes.Buffer) {
	sm.epilogueBegin = true
}

func setisa(sm *StateMachine, buf *bytes.Buffer) {
	c, _ := decodeULEB(buf)
	sm.isa = c
}
