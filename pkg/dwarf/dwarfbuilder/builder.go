// Package dwarfbuilder provides a way to build DWARF sections with
// arbitrary contents. It exists for tests: wasm modules with debug
// information cannot be produced on the fly, so the tests synthesize
// the sections they need.
package dwarfbuilder

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-wasmsym/wasmsym/pkg/dwarf/abbrev"
	"github.com/go-wasmsym/wasmsym/pkg/dwarf/leb128"
)

// Address represents a machine address, emitted with DW_FORM_addr.
type Address uint64

// SecOff represents a section offset, emitted with DW_FORM_sec_offset.
type SecOff uint32

// Ref represents a reference to another entry by .debug_info offset,
// emitted with DW_FORM_ref_addr.
type Ref uint32

// Builder builds a single-unit .debug_info section and its matching
// .debug_abbrev table.
type Builder struct {
	info     bytes.Buffer
	str      bytes.Buffer
	abbrevs  []tagDescr
	tagStack []*tagState
}

type tagDescr struct {
	tag      abbrev.Tag
	attr     []abbrev.Attr
	form     []abbrev.Form
	children bool
}

type tagState struct {
	off Ref
	tagDescr
}

// New creates a builder holding an open version 4 compilation unit
// with the given name and comp dir. Close it with TagClose before
// calling Build.
func New(name, compDir string) *Builder {
	b := &Builder{}

	b.info.Write([]byte{
		0x0, 0x0, 0x0, 0x0, // length
		0x4, 0x0, // version
		0x0, 0x0, 0x0, 0x0, // debug_abbrev_offset
		0x8, // address_size
	})

	b.TagOpen(abbrev.TagCompileUnit, name)
	b.Attr(abbrev.AttrCompDir, compDir)

	return b
}

// Build closes b and returns the finished sections.
func (b *Builder) Build() (info, abbrevSec, str []byte, err error) {
	b.TagClose()

	if len(b.tagStack) > 0 {
		err = fmt.Errorf("unbalanced TagOpen/TagClose %d", len(b.tagStack))
		return
	}

	abbrevSec = b.makeAbbrevTable()
	info = b.info.Bytes()
	binary.LittleEndian.PutUint32(info, uint32(len(info)-4))
	str = b.str.Bytes()

	return
}

// TagOpen starts a new DIE, call TagClose after adding all attributes
// and children elements. A non-empty name becomes a DW_AT_name.
func (b *Builder) TagOpen(tag abbrev.Tag, name string) Ref {
	if len(b.tagStack) > 0 {
		b.tagStack[len(b.tagStack)-1].children = true
	}
	ts := &tagState{off: Ref(b.info.Len())}
	ts.tag = tag
	b.info.WriteByte(0)
	b.tagStack = append(b.tagStack, ts)
	if name != "" {
		b.Attr(abbrev.AttrName, name)
	}

	return ts.off
}

// TagClose closes the current DIE.
func (b *Builder) TagClose() {
	if len(b.tagStack) <= 0 {
		panic("TagClose with no open tags")
	}
	tag := b.tagStack[len(b.tagStack)-1]
	code := b.abbrevFor(tag.tagDescr)
	b.info.Bytes()[tag.off] = code
	if tag.children {
		b.info.WriteByte(0)
	}
	b.tagStack = b.tagStack[:len(b.tagStack)-1]
}

// Attr adds an attribute to the current DIE; the form is derived from
// the Go type of val.
func (b *Builder) Attr(attr abbrev.Attr, val interface{}) {
	if len(b.tagStack) == 0 {
		panic("Attr with no open tags")
	}
	tag := b.tagStack[len(b.tagStack)-1]
	if tag.children {
		panic("Can't add attributes after adding children")
	}

	tag.attr = append(tag.attr, attr)

	switch x := val.(type) {
	case string:
		tag.form = append(tag.form, abbrev.FormString)
		b.info.WriteString(x)
		b.info.WriteByte(0)
	case StrpString:
		tag.form = append(tag.form, abbrev.FormStrp)
		binary.Write(&b.info, binary.LittleEndian, uint32(b.str.Len()))
		b.str.WriteString(string(x))
		b.str.WriteByte(0)
	case uint8:
		tag.form = append(tag.form, abbrev.FormData1)
		binary.Write(&b.info, binary.LittleEndian, x)
	case uint16:
		tag.form = append(tag.form, abbrev.FormData2)
		binary.Write(&b.info, binary.LittleEndian, x)
	case uint64:
		tag.form = append(tag.form, abbrev.FormData8)
		binary.Write(&b.info, binary.LittleEndian, x)
	case Address:
		tag.form = append(tag.form, abbrev.FormAddr)
		binary.Write(&b.info, binary.LittleEndian, uint64(x))
	case SecOff:
		tag.form = append(tag.form, abbrev.FormSecOffset)
		binary.Write(&b.info, binary.LittleEndian, uint32(x))
	case Ref:
		tag.form = append(tag.form, abbrev.FormRefAddr)
		binary.Write(&b.info, binary.LittleEndian, uint32(x))
	case bool:
		tag.form = append(tag.form, abbrev.FormFlag)
		if x {
			b.info.WriteByte(1)
		} else {
			b.info.WriteByte(0)
		}
	case []byte:
		tag.form = append(tag.form, abbrev.FormBlock4)
		binary.Write(&b.info, binary.LittleEndian, uint32(len(x)))
		b.info.Write(x)
	default:
		panic("unknown value type")
	}
}

// StrpString is a string attribute value emitted through .debug_str
// with DW_FORM_strp instead of inline.
type StrpString string

func sameTagDescr(a, b tagDescr) bool {
	if a.tag != b.tag {
		return false
	}
	if len(a.attr) != len(b.attr) {
		return false
	}
	if a.children != b.children {
		return false
	}
	for i := range a.attr {
		if a.attr[i] != b.attr[i] {
			return false
		}
		if a.form[i] != b.form[i] {
			return false
		}
	}
	return true
}

// abbrevFor returns an abbrev code for the given entry description. If
// no abbrev for tag already exists a new one is created.
func (b *Builder) abbrevFor(tag tagDescr) byte {
	for code, descr := range b.abbrevs {
		if sameTagDescr(descr, tag) {
			return byte(code + 1)
		}
	}

	b.abbrevs = append(b.abbrevs, tag)
	return byte(len(b.abbrevs))
}

func (b *Builder) makeAbbrevTable() []byte {
	var buf bytes.Buffer

	for i := range b.abbrevs {
		leb128.EncodeUnsigned(&buf, uint64(i+1))
		leb128.EncodeUnsigned(&buf, uint64(b.abbrevs[i].tag))
		if b.abbrevs[i].children {
			buf.WriteByte(0x01)
		} else {
			buf.WriteByte(0x00)
		}
		for j := range b.abbrevs[i].attr {
			leb128.EncodeUnsigned(&buf, uint64(b.abbrevs[i].attr[j]))
			leb128.EncodeUnsigned(&buf, uint64(b.abbrevs[i].form[j]))
		}
		leb128.EncodeUnsigned(&buf, 0)
		leb128.EncodeUnsigned(&buf, 0)
	}
	buf.WriteByte(0)

	return buf.Bytes()
}

// AddSubprogram adds a subprogram declaration covering [lowpc, highpc).
// The returned offset can be the target of abstract origin references.
func (b *Builder) AddSubprogram(fnname string, lowpc, highpc uint64) Ref {
	r := b.TagOpen(abbrev.TagSubprogram, fnname)
	b.Attr(abbrev.AttrLowPC, Address(lowpc))
	b.Attr(abbrev.AttrHighPC, Address(highpc))
	b.TagClose()
	return r
}

// AddInlinedSubroutine adds an inlined subroutine referencing its
// abstract instance by offset.
func (b *Builder) AddInlinedSubroutine(origin Ref, lowpc, highpc uint64) Ref {
	r := b.TagOpen(abbrev.TagInlinedSubroutine, "")
	b.Attr(abbrev.AttrAbstractOrigin, origin)
	b.Attr(abbrev.AttrLowPC, Address(lowpc))
	b.Attr(abbrev.AttrHighPC, Address(highpc))
	b.TagClose()
	return r
}
