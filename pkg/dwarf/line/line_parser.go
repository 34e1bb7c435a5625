// Package line decodes DWARF line number programs. The program for a
// compilation unit is executed once and materialized into sequences of
// address/file/line rows that symbol resolution then searches.
package line

import (
	"bytes"
	"encoding/binary"
	"path"
	"strings"
)

// DebugLinePrologue prologue of .debug_line data.
type DebugLinePrologue struct {
	UnitLength     uint32
	Version        uint16
	Length         uint32
	MinInstrLength uint8
	MaxOpPerInstr  uint8
	InitialIsStmt  uint8
	LineBase       int8
	LineRange      uint8
	OpcodeBase     uint8
	StdOpLengths   []uint8
}

// DebugLineInfo info of one .debug_line program.
type DebugLineInfo struct {
	Prologue     *DebugLinePrologue
	IncludeDirs  []string
	FileNames    []*FileEntry
	Instructions []byte
	Lookup       map[string]*FileEntry

	Logf func(string, ...interface{})

	// debugLineStr is the contents of the .debug_line_str section.
	debugLineStr []byte

	// if normalizeBackslash is true all backslashes (\) will be converted into forward slashes (/)
	normalizeBackslash bool
	ptrSize            int
}

// FileEntry file entry in File Name Table.
type FileEntry struct {
	Path        string
	DirIdx      uint64
	LastModTime uint64
	Length      uint64
}

type DebugLines []*DebugLineInfo

// ParseAll parses all line programs found in data.
func ParseAll(data []byte, debugLineStr []byte, logfn func(string, ...interface{}), normalizeBackslash bool, ptrSize int) DebugLines {
	var (
		lines = make(DebugLines, 0)
		buf   = bytes.NewBuffer(data)
	)

	for buf.Len() > 0 {
		dbl := Parse("", buf, debugLineStr, logfn, normalizeBackslash, ptrSize)
		if dbl == nil {
			break
		}
		lines = append(lines, dbl)
	}

	return lines
}

// ParseAt parses the single line program starting at off in data.
// Compdir is the DW_AT_comp_dir attribute of the compile unit that
// references the program through DW_AT_stmt_list.
func ParseAt(data []byte, off uint64, compdir string, debugLineStr []byte, logfn func(string, ...interface{}), normalizeBackslash bool, ptrSize int) *DebugLineInfo {
	if off >= uint64(len(data)) {
		if logfn != nil {
			logfn("line program offset %#x out of bounds", off)
		}
		return nil
	}
	return Parse(compdir, bytes.NewBuffer(data[off:]), debugLineStr, logfn, normalizeBackslash, ptrSize)
}

// Parse parses a single line program from buf.
func Parse(compdir string, buf *bytes.Buffer, debugLineStr []byte, logfn func(string, ...interface{}), normalizeBackslash bool, ptrSize int) *DebugLineInfo {
	dbl := new(DebugLineInfo)
	dbl.Logf = logfn
	if logfn == nil {
		dbl.Logf = func(string, ...interface{}) {}
	}
	dbl.ptrSize = ptrSize
	dbl.Lookup = make(map[string]*FileEntry)
	dbl.IncludeDirs = append(dbl.IncludeDirs, compdir)

	dbl.normalizeBackslash = normalizeBackslash
	dbl.debugLineStr = debugLineStr

	if !parseDebugLinePrologue(dbl, buf) {
		return nil
	}
	if dbl.Prologue.Version >= 5 {
		if !parseIncludeDirs5(dbl, buf) {
			return nil
		}
		if !parseFileEntries5(dbl, buf) {
			return nil
		}
	} else {
		if !parseIncludeDirs2(dbl, buf) {
			return nil
		}
		if !parseFileEntries2(dbl, buf) {
			return nil
		}
	}

	// Instructions size calculation breakdown:
	//   - UnitLength is the length of the entire unit, not including the 4 bytes to represent that length.
	//   - Length is the length of the prologue not including unit length, version or prologue length itself.
	//   - For version 5 the address size and segment selector size bytes precede the prologue length.
	instrLen := int(dbl.Prologue.UnitLength) - int(dbl.Prologue.Length) - 6
	if dbl.Prologue.Version >= 5 {
		instrLen -= 2
	}
	if instrLen < 0 {
		dbl.Logf("line program header lengths are inconsistent")
		return nil
	}
	if instrLen > buf.Len() {
		// Keep what is there, execution stops at the truncation point.
		dbl.Logf("line program truncated: %d instruction bytes missing", instrLen-buf.Len())
		instrLen = buf.Len()
	}
	dbl.Instructions = buf.Next(instrLen)

	return dbl
}

func parseDebugLinePrologue(dbl *DebugLineInfo, buf *bytes.Buffer) bool {
	p := new(DebugLinePrologue)

	b := take(buf, 6)
	if b == nil {
		dbl.Logf("short line program header")
		return false
	}
	p.UnitLength = binary.LittleEndian.Uint32(b)
	p.Version = binary.LittleEndian.Uint16(b[4:])
	if p.Version < 2 || p.Version > 5 {
		dbl.Logf("unsupported line program version %d", p.Version)
		return false
	}
	if p.Version >= 5 {
		b = take(buf, 2)
		if b == nil {
			dbl.Logf("short line program header")
			return false
		}
		dbl.ptrSize = int(b[0]) + int(b[1]) // address_size + segment_selector_size
	}

	n := 9
	if p.Version >= 4 {
		n = 10 // maximum_operations_per_instruction was added in version 4
	}
	b = take(buf, n)
	if b == nil {
		dbl.Logf("short line program header")
		return false
	}
	p.Length = binary.LittleEndian.Uint32(b)
	p.MinInstrLength = b[4]
	rest := b[5:]
	if p.Version >= 4 {
		p.MaxOpPerInstr = rest[0]
		rest = rest[1:]
	} else {
		p.MaxOpPerInstr = 1
	}
	p.InitialIsStmt = rest[0]
	p.LineBase = int8(rest[1])
	p.LineRange = rest[2]
	p.OpcodeBase = rest[3]

	if p.OpcodeBase == 0 || p.LineRange == 0 {
		dbl.Logf("malformed line program header")
		return false
	}

	b = take(buf, int(p.OpcodeBase)-1)
	if b == nil {
		dbl.Logf("short line program header")
		return false
	}
	p.StdOpLengths = append([]uint8{}, b...)

	dbl.Prologue = p
	return true
}

// parseIncludeDirs2 parses the directory table for DWARF version 2 through 4.
func parseIncludeDirs2(info *DebugLineInfo, buf *bytes.Buffer) bool {
	for {
		str, err := parseString(buf)
		if err != nil {
			info.Logf("error reading string: %v", err)
			return false
		}
		if str == "" {
			break
		}

		info.IncludeDirs = append(info.IncludeDirs, str)
	}
	return true
}

// parseIncludeDirs5 parses the directory table for DWARF version 5.
func parseIncludeDirs5(info *DebugLineInfo, buf *bytes.Buffer) bool {
	dirEntryFormReader := readEntryFormat(buf, info.Logf)
	if dirEntryFormReader == nil {
		return false
	}
	dirCount, _ := decodeULEB(buf)
	info.IncludeDirs = make([]string, 0, dirCount)
	for i := uint64(0); i < dirCount; i++ {
		dirEntryFormReader.reset()
		for dirEntryFormReader.next(buf) {
			switch dirEntryFormReader.contentType {
			case _DW_LNCT_path:
				switch dirEntryFormReader.formCode {
				case _DW_FORM_string:
					info.IncludeDirs = append(info.IncludeDirs, dirEntryFormReader.str)
				case _DW_FORM_line_strp:
					info.IncludeDirs = append(info.IncludeDirs, info.lineStrAt(dirEntryFormReader.u64))
				default:
					info.Logf("unsupported string form %#x", dirEntryFormReader.formCode)
				}
			case _DW_LNCT_directory_index:
			case _DW_LNCT_timestamp:
			case _DW_LNCT_size:
			case _DW_LNCT_MD5:
			}
		}
		if dirEntryFormReader.err != nil {
			info.Logf("error reading directory entries table: %v", dirEntryFormReader.err)
			return false
		}
	}
	return true
}

func (info *DebugLineInfo) lineStrAt(off uint64) string {
	if off >= uint64(len(info.debugLineStr)) {
		info.Logf("debug_line_str offset %#x out of bounds", off)
		return ""
	}
	s, _ := parseString(bytes.NewBuffer(info.debugLineStr[off:]))
	return s
}

// parseFileEntries2 parses the file table for DWARF 2 through 4.
func parseFileEntries2(info *DebugLineInfo, buf *bytes.Buffer) bool {
	for {
		entry := readFileEntry(info, buf, true)
		if entry == nil {
			return false
		}
		if entry.Path == "" {
			break
		}

		info.FileNames = append(info.FileNames, entry)
		info.Lookup[entry.Path] = entry
	}
	return true
}

func readFileEntry(info *DebugLineInfo, buf *bytes.Buffer, exitOnEmptyPath bool) *FileEntry {
	entry := new(FileEntry)

	var err error
	entry.Path, err = parseString(buf)
	if err != nil {
		info.Logf("error reading file entry: %v", err)
		return nil
	}
	if entry.Path == "" && exitOnEmptyPath {
		return entry
	}

	if info.normalizeBackslash {
		entry.Path = strings.ReplaceAll(entry.Path, "\\", "/")
	}

	entry.DirIdx, _ = decodeULEB(buf)
	entry.LastModTime, _ = decodeULEB(buf)
	entry.Length, _ = decodeULEB(buf)
	if !pathIsAbs(entry.Path) {
		if entry.DirIdx < uint64(len(info.IncludeDirs)) {
			entry.Path = path.Join(info.IncludeDirs[entry.DirIdx], entry.Path)
		}
	}

	return entry
}

// pathIsAbs returns true if this is an absolute path.
// We can not use path.IsAbs because it will not recognize windows paths
// as absolute, and we want this processing to be independent of the
// host operating system (a wasm module built on windows can be
// symbolized on a unix machine or vice versa).
func pathIsAbs(s string) bool {
	if len(s) >= 1 && s[0] == '/' {
		return true
	}
	if len(s) >= 2 && s[1] == ':' && (('a' <= s[0] && s[0] <= 'z') || ('A' <= s[0] && s[0] <= 'Z')) {
		return true
	}
	return false
}

// parseFileEntries5 parses the file table for DWARF 5.
func parseFileEntries5(info *DebugLineInfo, buf *bytes.Buffer) bool {
	fileEntryFormReader := readEntryFormat(buf, info.Logf)
	if fileEntryFormReader == nil {
		return false
	}
	fileCount, _ := decodeULEB(buf)
	info.FileNames = make([]*FileEntry, 0, fileCount)
	for i := 0; i < int(fileCount); i++ {
		var (
			p      string
			diridx = -1

			entry = new(FileEntry)
		)

		fileEntryFormReader.reset()

		for fileEntryFormReader.next(buf) {
			switch fileEntryFormReader.contentType {
			case _DW_LNCT_path:
				switch fileEntryFormReader.formCode {
				case _DW_FORM_string:
					p = fileEntryFormReader.str
				case _DW_FORM_line_strp:
					p = info.lineStrAt(fileEntryFormReader.u64)
				default:
					info.Logf("unsupported string form %#x", fileEntryFormReader.formCode)
				}
			case _DW_LNCT_directory_index:
				diridx = int(fileEntryFormReader.u64)
			case _DW_LNCT_timestamp:
				entry.LastModTime = fileEntryFormReader.u64
			case _DW_LNCT_size:
				entry.Length = fileEntryFormReader.u64
			case _DW_LNCT_MD5:
				// not implemented
			}
		}
		if fileEntryFormReader.err != nil {
			info.Logf("error reading file entries table: %v", fileEntryFormReader.err)
			return false
		}

		if !pathIsAbs(p) && diridx >= 0 && diridx < len(info.IncludeDirs) {
			p = path.Join(info.IncludeDirs[diridx], p)
		}
		if info.normalizeBackslash {
			p = strings.ReplaceAll(p, "\\", "/")
		}
		entry.Path = p
		info.FileNames = append(info.FileNames, entry)
		info.Lookup[entry.Path] = entry
	}
	return true
}

// fileByIndex resolves a file register value to a table entry. Version
// 5 programs number files from zero, earlier versions from one.
func (info *DebugLineInfo) fileByIndex(i uint64, definedFiles []*FileEntry) string {
	if info.Prologue.Version < 5 {
		if i == 0 {
			return ""
		}
		i--
	}
	if i < uint64(len(info.FileNames)) {
		return info.FileNames[i].Path
	}
	j := i - uint64(len(info.FileNames))
	if j < uint64(len(definedFiles)) {
		return definedFiles[j].Path
	}
	return ""
}
