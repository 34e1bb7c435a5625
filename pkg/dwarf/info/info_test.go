package info

import (
	"encoding/binary"
	"testing"

	"github.com/go-wasmsym/wasmsym/pkg/dwarf/abbrev"
	"github.com/go-wasmsym/wasmsym/pkg/dwarf/dwarfbuilder"
)

func parseBuilt(t *testing.T, b *dwarfbuilder.Builder, ranges []byte) *Data {
	t.Helper()
	infoSec, abbrevSec, strSec, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	data, err := Parse(Sections{Info: infoSec, Abbrev: abbrevSec, Str: strSec, Ranges: ranges}, t.Logf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return data
}

func TestParseUnit(t *testing.T) {
	b := dwarfbuilder.New("main.rs", "/src/hello")
	b.Attr(abbrev.AttrLanguage, uint8(0x1c))
	b.Attr(abbrev.AttrStmtList, dwarfbuilder.SecOff(0x30))
	b.Attr(abbrev.AttrLowPC, dwarfbuilder.Address(0x100))

	addRef := b.AddSubprogram("add", 0x100, 0x140)

	b.TagOpen(abbrev.TagSubprogram, "main")
	b.Attr(abbrev.AttrLowPC, dwarfbuilder.Address(0x140))
	b.Attr(abbrev.AttrHighPC, dwarfbuilder.Address(0x180))
	b.AddInlinedSubroutine(addRef, 0x150, 0x160)
	b.TagClose()

	b.TagOpen(abbrev.TagSubprogram, "")
	b.Attr(abbrev.AttrName, dwarfbuilder.StrpString("strp_fn"))
	b.Attr(abbrev.AttrLowPC, dwarfbuilder.Address(0x200))
	b.Attr(abbrev.AttrHighPC, uint64(0x20))
	b.TagClose()

	data := parseBuilt(t, b, nil)

	if len(data.Units) != 1 {
		t.Fatalf("expected 1 unit, got %d", len(data.Units))
	}
	u := data.Units[0]
	if u.Version != 4 {
		t.Errorf("version = %d, want 4", u.Version)
	}
	if u.Name != "main.rs" || u.CompDir != "/src/hello" {
		t.Errorf("unit name/dir = %q %q", u.Name, u.CompDir)
	}
	if u.Language != 0x1c {
		t.Errorf("language = %#x, want 0x1c", u.Language)
	}
	if !u.HasStmtList || u.StmtList != 0x30 {
		t.Errorf("stmt list = %v %#x, want 0x30", u.HasStmtList, u.StmtList)
	}
	if u.LowPC != 0x100 {
		t.Errorf("unit low pc = %#x, want 0x100", u.LowPC)
	}

	want := []Func{
		{Name: "add", LowPC: 0x100, HighPC: 0x140},
		{Name: "main", LowPC: 0x140, HighPC: 0x180},
		{Name: "add", LowPC: 0x150, HighPC: 0x160, Inlined: true},
		{Name: "strp_fn", LowPC: 0x200, HighPC: 0x220},
	}
	if len(u.Funcs) != len(want) {
		t.Fatalf("got %d funcs %+v, want %d", len(u.Funcs), u.Funcs, len(want))
	}
	for i := range want {
		if u.Funcs[i] != want[i] {
			t.Errorf("func %d = %+v, want %+v", i, u.Funcs[i], want[i])
		}
	}
	if data.Stats.Units != 1 || data.Stats.BadUnits != 0 {
		t.Errorf("stats = %+v", data.Stats)
	}

	if u.Root == nil || u.Root.Tag != abbrev.TagCompileUnit {
		t.Fatalf("root = %+v", u.Root)
	}
	if len(u.Root.Children) != 3 {
		t.Fatalf("root has %d children, want 3", len(u.Root.Children))
	}
	main := u.Root.Children[1]
	if main.Val(abbrev.AttrName) != "main" || len(main.Children) != 1 {
		t.Errorf("main DIE = %+v", main)
	}
}

func TestParseRangeList(t *testing.T) {
	var ranges []byte
	add := func(v uint64) {
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], v)
		ranges = append(ranges, tmp[:]...)
	}
	add(^uint64(0)) // base address selector
	add(0x1000)
	add(0x10)
	add(0x20)
	add(0x30)
	add(0x40)
	add(0)
	add(0)

	b := dwarfbuilder.New("frag.rs", "/src")
	b.TagOpen(abbrev.TagSubprogram, "scattered")
	b.Attr(abbrev.AttrRanges, dwarfbuilder.SecOff(0))
	b.TagClose()

	data := parseBuilt(t, b, ranges)

	u := data.Units[0]
	want := []Func{
		{Name: "scattered", LowPC: 0x1010, HighPC: 0x1020},
		{Name: "scattered", LowPC: 0x1030, HighPC: 0x1040},
	}
	if len(u.Funcs) != len(want) {
		t.Fatalf("got funcs %+v, want %+v", u.Funcs, want)
	}
	for i := range want {
		if u.Funcs[i] != want[i] {
			t.Errorf("func %d = %+v, want %+v", i, u.Funcs[i], want[i])
		}
	}
}

func TestParseSkipsBadUnit(t *testing.T) {
	b1 := dwarfbuilder.New("one.rs", "/a")
	b1.AddSubprogram("f", 0x10, 0x20)
	info1, abbrevSec, _, err := b1.Build()
	if err != nil {
		t.Fatal(err)
	}

	b2 := dwarfbuilder.New("two.rs", "/b")
	b2.AddSubprogram("g", 0x30, 0x40)
	info2, _, _, err := b2.Build()
	if err != nil {
		t.Fatal(err)
	}
	// Point the second unit's root at an abbreviation code that does
	// not exist. The first byte after the 11 byte unit header is the
	// root's abbreviation code.
	info2[11] = 0x7f

	sec := append(append([]byte{}, info1...), info2...)
	data, err := Parse(Sections{Info: sec, Abbrev: abbrevSec}, t.Logf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(data.Units) != 1 || data.Units[0].Name != "one.rs" {
		t.Fatalf("units = %+v", data.Units)
	}
	if data.Stats.Units != 2 || data.Stats.BadUnits != 1 {
		t.Errorf("stats = %+v", data.Stats)
	}
}

func TestParseFirstUnitUnreadable(t *testing.T) {
	_, err := Parse(Sections{Info: []byte{0xff, 0xff}}, t.Logf)
	if err == nil {
		t.Fatal("expected error for unreadable first unit header")
	}
}

func TestParseSkips64BitUnit(t *testing.T) {
	sec := []byte{
		0xff, 0xff, 0xff, 0xff, // 64-bit marker
		0, 0, 0, 0, 0, 0, 0, 0, // 64-bit length
	}
	data, err := Parse(Sections{Info: sec}, t.Logf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(data.Units) != 0 || data.Stats.BadUnits != 1 {
		t.Errorf("units %d stats %+v", len(data.Units), data.Stats)
	}
}

func TestParseVersion5Header(t *testing.T) {
	abbrevSec := []byte{
		0x01,       // code
		0x11,       // DW_TAG_compile_unit
		0x00,       // no children
		0x03, 0x08, // DW_AT_name, DW_FORM_string
		0x00, 0x00, // end of specs
		0x00, // end of table
	}

	var infoSec []byte
	infoSec = append(infoSec,
		0, 0, 0, 0, // length, patched below
		0x05, 0x00, // version
		0x01,       // DW_UT_compile
		0x08,       // address size
		0, 0, 0, 0, // abbrev offset
		0x01, // abbreviation code
	)
	infoSec = append(infoSec, "v5.rs\x00"...)
	binary.LittleEndian.PutUint32(infoSec, uint32(len(infoSec)-4))

	data, err := Parse(Sections{Info: infoSec, Abbrev: abbrevSec}, t.Logf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(data.Units) != 1 {
		t.Fatalf("expected 1 unit, got %d", len(data.Units))
	}
	if data.Units[0].Version != 5 || data.Units[0].Name != "v5.rs" {
		t.Errorf("unit = %+v", data.Units[0])
	}
}

func TestParseStrxIndirection(t *testing.T) {
	abbrevSec := []byte{
		0x01,       // code
		0x11,       // DW_TAG_compile_unit
		0x00,       // no children
		0x03, 0x25, // DW_AT_name, DW_FORM_strx1
		0x1b, 0x25, // DW_AT_comp_dir, DW_FORM_strx1
		0x00, 0x00, // end of specs
		0x00, // end of table
	}

	strSec := []byte("hello.rs\x00/src\x00")

	// 8 byte version 5 header, then one uint32 entry per string.
	var strOff []byte
	strOff = append(strOff, make([]byte, 8)...)
	strOff = append(strOff, 0, 0, 0, 0) // index 0 -> "hello.rs"
	strOff = append(strOff, 9, 0, 0, 0) // index 1 -> "/src"

	var infoSec []byte
	infoSec = append(infoSec,
		0, 0, 0, 0, // length, patched below
		0x05, 0x00, // version
		0x01,       // DW_UT_compile
		0x08,       // address size
		0, 0, 0, 0, // abbrev offset
		0x01, // abbreviation code
		0x00, // name: string index 0
		0x07, // comp_dir: string index 7, past the offsets table
	)
	binary.LittleEndian.PutUint32(infoSec, uint32(len(infoSec)-4))

	data, err := Parse(Sections{Info: infoSec, Abbrev: abbrevSec, Str: strSec, StrOffsets: strOff}, t.Logf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(data.Units) != 1 {
		t.Fatalf("expected 1 unit, got %d", len(data.Units))
	}
	u := data.Units[0]
	if u.Name != "hello.rs" {
		t.Errorf("name = %q, want hello.rs", u.Name)
	}
	// An out of range string index leaves the attribute absent; the
	// unit itself survives.
	if u.CompDir != "" {
		t.Errorf("comp dir = %q, want absent", u.CompDir)
	}
	if u.Root.Val(abbrev.AttrCompDir) != nil {
		t.Errorf("comp_dir attribute = %v, want nil", u.Root.Val(abbrev.AttrCompDir))
	}
}

func TestParseStrOffsetsBase(t *testing.T) {
	abbrevSec := []byte{
		0x01,       // code
		0x11,       // DW_TAG_compile_unit
		0x00,       // no children
		0x72, 0x17, // DW_AT_str_offsets_base, DW_FORM_sec_offset
		0x03, 0x25, // DW_AT_name, DW_FORM_strx1
		0x00, 0x00,
		0x00,
	}

	strSec := []byte("aaa\x00indexed.rs\x00")

	// Entries start at offset 12 instead of the default 8; the
	// str_offsets_base attribute must take precedence.
	var strOff []byte
	strOff = append(strOff, make([]byte, 12)...)
	strOff = append(strOff, 4, 0, 0, 0) // index 0 -> "indexed.rs"

	var infoSec []byte
	infoSec = append(infoSec,
		0, 0, 0, 0,
		0x05, 0x00,
		0x01,
		0x08,
		0, 0, 0, 0,
		0x01,        // abbreviation code
		12, 0, 0, 0, // str_offsets_base
		0x00, // name: string index 0
	)
	binary.LittleEndian.PutUint32(infoSec, uint32(len(infoSec)-4))

	data, err := Parse(Sections{Info: infoSec, Abbrev: abbrevSec, Str: strSec, StrOffsets: strOff}, t.Logf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(data.Units) != 1 || data.Units[0].Name != "indexed.rs" {
		t.Fatalf("units = %+v", data.Units)
	}
}

func TestParseUnsupportedVersion(t *testing.T) {
	var infoSec []byte
	infoSec = append(infoSec,
		0, 0, 0, 0,
		0x09, 0x00, // version 9
		0, 0, 0, 0,
		0x08,
	)
	binary.LittleEndian.PutUint32(infoSec, uint32(len(infoSec)-4))

	_, err := Parse(Sections{Info: infoSec}, t.Logf)
	if err == nil {
		t.Fatal("expected error: single unsupported unit leaves nothing parsed")
	}
}

func TestParseEmptySection(t *testing.T) {
	data, err := Parse(Sections{}, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(data.Units) != 0 {
		t.Errorf("units = %d, want 0", len(data.Units))
	}
}
