// Package info decodes .debug_info compilation units. Entries are
// decoded with their abbreviation table into a generic attribute map
// and assembled into a tree; from the tree each unit's file table
// reference, address ranges and subprogram list are harvested for the
// resolver.
package info

import (
	"errors"
	"fmt"

	"github.com/go-wasmsym/wasmsym/pkg/dwarf/abbrev"
	"github.com/go-wasmsym/wasmsym/pkg/dwarf/util"
)

// ErrUnsupportedVersion reports a compilation unit whose version or
// header layout this package does not decode. The unit is skipped.
var ErrUnsupportedVersion = errors.New("unsupported DWARF version")

// Offset is a position inside .debug_info. Entries reference each
// other by offset, so it doubles as the stable identity of a DIE.
type Offset uint64

// Address is an attribute value of the address class, distinguished
// from plain constants by its type.
type Address uint64

// DIE is one debugging information entry. Attribute values are one of:
// uint64 (constants), int64 (signed constants), Address, Offset
// (references and section offsets), string, bool or []byte (blocks).
type DIE struct {
	Offset   Offset
	Tag      abbrev.Tag
	Attr     map[abbrev.Attr]interface{}
	Children []*DIE
}

// Val returns the value of the given attribute, or nil if absent.
func (d *DIE) Val(a abbrev.Attr) interface{} { return d.Attr[a] }

// Func is a subprogram or inlined subroutine covering [LowPC, HighPC).
type Func struct {
	Name    string
	LowPC   uint64
	HighPC  uint64
	Inlined bool
}

// Unit is one decoded compilation unit.
type Unit struct {
	Offset   Offset
	Version  int
	AddrSize int

	Name     string
	CompDir  string
	Language uint64

	// StmtList is the unit's offset into .debug_line, valid only when
	// HasStmtList is set.
	StmtList    uint64
	HasStmtList bool

	LowPC uint64
	Funcs []Func

	Root *DIE
}

// Stats counts what parsing saw, including what it had to skip.
type Stats struct {
	Units    int
	BadUnits int
}

// Data is the decoded content of a .debug_info section.
type Data struct {
	Units []*Unit
	Stats Stats
}

// Sections carries the auxiliary sections .debug_info indirects into.
// Absent sections are nil.
type Sections struct {
	Info       []byte
	Abbrev     []byte
	Str        []byte
	StrOffsets []byte
	LineStr    []byte
	Ranges     []byte
	Addr       []byte
}

const dwarf64Marker = 0xffffffff

// Parse decodes every compilation unit in sec.Info. Corruption local to
// one unit skips that unit (counted in Stats.BadUnits) and parsing
// continues with the next; only a section in which not even the first
// unit header can be read returns an error.
func Parse(sec Sections, logf func(string, ...interface{})) (*Data, error) {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	data := &Data{}
	if len(sec.Info) == 0 {
		return data, nil
	}

	p := &parser{
		sec:     sec,
		logf:    logf,
		tables:  make(map[uint64]abbrev.Table),
		byOff:   make(map[Offset]*DIE),
		dieName: make(map[Offset]string),
	}

	buf := util.NewBuf("info", sec.Info)
	first := true
	for buf.Len() > 0 {
		unitOff := buf.Off()
		length := uint64(buf.Uint32())
		if length == dwarf64Marker {
			// 64-bit DWARF: the real length follows, the rest of the
			// header layout differs. Skip the whole unit.
			length = buf.Uint64()
			if buf.Err() != nil || uint64(buf.Len()) < length {
				logf("unreadable 64-bit unit at %#x", unitOff)
				break
			}
			logf("skipping 64-bit DWARF unit at %#x", unitOff)
			data.Stats.BadUnits++
			buf.Skip(int(length))
			first = false
			continue
		}
		if buf.Err() != nil || uint64(buf.Len()) < length {
			if first {
				return nil, fmt.Errorf("debug info: no readable unit header: %w", util.ErrUnexpectedEOF)
			}
			logf("truncated unit header at %#x", unitOff)
			break
		}
		end := buf.Off() + length

		unit, err := p.parseUnit(buf, Offset(unitOff), end)
		data.Stats.Units++
		if err != nil {
			if first && unit == nil {
				return nil, fmt.Errorf("debug info unit at %#x: %w", unitOff, err)
			}
			logf("unit at %#x: %v", unitOff, err)
			data.Stats.BadUnits++
		}
		if unit != nil {
			data.Units = append(data.Units, unit)
		}

		buf.Seek(end)
		if buf.Err() != nil {
			break
		}
		first = false
	}

	return data, nil
}

type parser struct {
	sec    Sections
	logf   func(string, ...interface{})
	tables map[uint64]abbrev.Table

	// byOff indexes every decoded DIE by its section offset, for
	// abstract origin and specification chasing.
	byOff   map[Offset]*DIE
	dieName map[Offset]string

	warnedRnglists bool
}

// unitCtx is the decode context of a single compilation unit.
type unitCtx struct {
	version  int
	addrSize int
	offset   Offset

	// Bases into .debug_str_offsets and .debug_addr. Initialized to
	// the first entry past the v5 section headers and overridden when
	// the root entry carries explicit base attributes.
	strOffBase uint64
	addrBase   uint64

	table abbrev.Table
}

func (p *parser) abbrevTable(off uint64) (abbrev.Table, error) {
	if t, ok := p.tables[off]; ok {
		return t, nil
	}
	t, err := abbrev.Parse(p.sec.Abbrev, off)
	if err != nil {
		return nil, err
	}
	p.tables[off] = t
	return t, nil
}

// parseUnit decodes one unit. On an error mid-unit it returns both the
// partially harvested unit and the error; the caller keeps what was
// decoded.
func (p *parser) parseUnit(buf *util.Buf, off Offset, end uint64) (*Unit, error) {
	version := int(buf.Uint16())
	if version < 2 || version > 5 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	var abbrevOff uint64
	var addrSize int
	if version >= 5 {
		unitType := buf.Uint8()
		addrSize = int(buf.Uint8())
		abbrevOff = uint64(buf.Uint32())
		const (
			utCompile = 0x01
			utPartial = 0x03
		)
		if unitType != utCompile && unitType != utPartial {
			return nil, fmt.Errorf("%w: unit type %#x", ErrUnsupportedVersion, unitType)
		}
	} else {
		abbrevOff = uint64(buf.Uint32())
		addrSize = int(buf.Uint8())
	}
	if err := buf.Err(); err != nil {
		return nil, err
	}
	if addrSize != 4 && addrSize != 8 {
		return nil, fmt.Errorf("%w: address size %d", ErrUnsupportedVersion, addrSize)
	}

	table, err := p.abbrevTable(abbrevOff)
	if err != nil {
		return nil, err
	}

	cu := &unitCtx{
		version:    version,
		addrSize:   addrSize,
		offset:     off,
		strOffBase: 8,
		addrBase:   8,
		table:      table,
	}

	root, err := p.parseDIEs(buf, cu, end)
	if root == nil {
		return nil, err
	}

	unit := p.harvest(root, cu)
	return unit, err
}

// parseDIEs decodes the flat entry stream into a tree using an
// explicit stack of open parents; a zero abbreviation code closes the
// sibling list of the innermost open parent.
func (p *parser) parseDIEs(buf *util.Buf, cu *unitCtx, end uint64) (*DIE, error) {
	var root *DIE
	var stack []*DIE

	for buf.Off() < end {
		dieOff := Offset(buf.Off())
		code := buf.Uleb()
		if err := buf.Err(); err != nil {
			return root, err
		}
		if code == 0 {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		ab := cu.table[code]
		if ab == nil {
			return root, fmt.Errorf("entry at %#x references unknown abbreviation code %d", dieOff, code)
		}

		die := &DIE{Offset: dieOff, Tag: ab.Tag}
		attrStart := buf.Off()
		decodeAttrs := func() error {
			die.Attr = make(map[abbrev.Attr]interface{}, len(ab.Specs))
			for _, spec := range ab.Specs {
				val, err := p.formValue(buf, cu, spec)
				if err != nil {
					return fmt.Errorf("entry at %#x attribute %#x: %w", dieOff, uint64(spec.Attr), err)
				}
				if val != nil {
					die.Attr[spec.Attr] = val
				}
			}
			return nil
		}
		if err := decodeAttrs(); err != nil {
			return root, err
		}
		p.byOff[dieOff] = die

		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, die)
		} else if root == nil {
			root = die
			// Base attributes live on the root and apply to the whole
			// unit, including the root's own indexed attributes:
			// producers emit the unit name as strx alongside the base,
			// so once a base changes the root is decoded again.
			rebase := false
			if v, ok := die.Attr[abbrev.AttrStrOffsetsBase].(Offset); ok && uint64(v) != cu.strOffBase {
				cu.strOffBase = uint64(v)
				rebase = true
			}
			if v, ok := die.Attr[abbrev.AttrAddrBase].(Offset); ok && uint64(v) != cu.addrBase {
				cu.addrBase = uint64(v)
				rebase = true
			}
			if rebase {
				buf.Seek(attrStart)
				if err := decodeAttrs(); err != nil {
					return root, err
				}
			}
		}
		if ab.Children {
			stack = append(stack, die)
		}
	}
	return root, nil
}

// formValue decodes one attribute value. A nil value with a nil error
// means the attribute resolved to nothing (for example a string index
// pointing outside .debug_str); the entry survives without it.
func (p *parser) formValue(buf *util.Buf, cu *unitCtx, spec abbrev.Spec) (interface{}, error) {
	switch spec.Form {
	case abbrev.FormAddr:
		return Address(buf.Addr(cu.addrSize)), buf.Err()

	case abbrev.FormAddrx:
		return p.addrx(buf.Uleb(), cu, buf)
	case abbrev.FormAddrx1:
		return p.addrx(uint64(buf.Uint8()), cu, buf)
	case abbrev.FormAddrx2:
		return p.addrx(uint64(buf.Uint16()), cu, buf)
	case abbrev.FormAddrx3:
		return p.addrx(uint64(buf.Uint24()), cu, buf)
	case abbrev.FormAddrx4:
		return p.addrx(uint64(buf.Uint32()), cu, buf)

	case abbrev.FormBlock1:
		return copyBlock(buf.Bytes(int(buf.Uint8()))), buf.Err()
	case abbrev.FormBlock2:
		return copyBlock(buf.Bytes(int(buf.Uint16()))), buf.Err()
	case abbrev.FormBlock4:
		return copyBlock(buf.Bytes(int(buf.Uint32()))), buf.Err()
	case abbrev.FormBlock, abbrev.FormExprloc:
		return copyBlock(buf.Bytes(int(buf.Uleb()))), buf.Err()
	case abbrev.FormData16:
		return copyBlock(buf.Bytes(16)), buf.Err()

	case abbrev.FormData1:
		return uint64(buf.Uint8()), buf.Err()
	case abbrev.FormData2:
		return uint64(buf.Uint16()), buf.Err()
	case abbrev.FormData4:
		return uint64(buf.Uint32()), buf.Err()
	case abbrev.FormData8:
		return buf.Uint64(), buf.Err()
	case abbrev.FormSdata:
		return buf.Sleb(), buf.Err()
	case abbrev.FormUdata:
		return buf.Uleb(), buf.Err()
	case abbrev.FormImplicitConst:
		return spec.Const, nil

	case abbrev.FormFlag:
		return buf.Uint8() != 0, buf.Err()
	case abbrev.FormFlagPresent:
		return true, nil

	case abbrev.FormString:
		return buf.String(), buf.Err()
	case abbrev.FormStrp:
		return p.strAt(p.sec.Str, uint64(buf.Uint32()), buf)
	case abbrev.FormLineStrp:
		return p.strAt(p.sec.LineStr, uint64(buf.Uint32()), buf)

	case abbrev.FormStrx:
		return p.strx(buf.Uleb(), cu, buf)
	case abbrev.FormStrx1:
		return p.strx(uint64(buf.Uint8()), cu, buf)
	case abbrev.FormStrx2:
		return p.strx(uint64(buf.Uint16()), cu, buf)
	case abbrev.FormStrx3:
		return p.strx(uint64(buf.Uint24()), cu, buf)
	case abbrev.FormStrx4:
		return p.strx(uint64(buf.Uint32()), cu, buf)

	case abbrev.FormRef1:
		return Offset(uint64(cu.offset) + uint64(buf.Uint8())), buf.Err()
	case abbrev.FormRef2:
		return Offset(uint64(cu.offset) + uint64(buf.Uint16())), buf.Err()
	case abbrev.FormRef4:
		return Offset(uint64(cu.offset) + uint64(buf.Uint32())), buf.Err()
	case abbrev.FormRef8:
		return Offset(uint64(cu.offset) + buf.Uint64()), buf.Err()
	case abbrev.FormRefUdata:
		return Offset(uint64(cu.offset) + buf.Uleb()), buf.Err()
	case abbrev.FormRefAddr:
		return Offset(buf.Uint32()), buf.Err()
	case abbrev.FormRefSig8:
		return buf.Uint64(), buf.Err()

	case abbrev.FormSecOffset:
		return Offset(buf.Uint32()), buf.Err()
	case abbrev.FormLoclistx, abbrev.FormRnglistx:
		// Index into .debug_loclists/.debug_rnglists; consumed but not
		// resolved, those sections are not part of the wasm debug set.
		buf.Uleb()
		if !p.warnedRnglists {
			p.warnedRnglists = true
			p.logf("ignoring loclistx/rnglistx attributes")
		}
		return nil, buf.Err()

	case abbrev.FormIndirect:
		form := abbrev.Form(buf.Uleb())
		if err := buf.Err(); err != nil {
			return nil, err
		}
		if form == abbrev.FormIndirect {
			return nil, fmt.Errorf("nested DW_FORM_indirect")
		}
		return p.formValue(buf, cu, abbrev.Spec{Attr: spec.Attr, Form: form})

	case abbrev.FormRefSup4, abbrev.FormStrpSup:
		// Supplementary files are not supported; consume the offset.
		buf.Uint32()
		return nil, buf.Err()
	case abbrev.FormRefSup8:
		buf.Uint64()
		return nil, buf.Err()
	}

	// The width of an unknown form is unknowable; everything after it
	// in the unit would be misaligned.
	return nil, fmt.Errorf("unknown attribute form %#x", uint64(spec.Form))
}

func copyBlock(d []byte) []byte {
	if d == nil {
		return nil
	}
	out := make([]byte, len(d))
	copy(out, d)
	return out
}

// strAt resolves a direct string section offset. An offset outside the
// section leaves the attribute absent rather than failing the entry.
func (p *parser) strAt(section []byte, off uint64, buf *util.Buf) (interface{}, error) {
	if err := buf.Err(); err != nil {
		return nil, err
	}
	s, ok := util.NewBuf("str", section).StringAt(off)
	if !ok {
		p.logf("string offset %#x out of bounds", off)
		return nil, nil
	}
	return s, nil
}

// strx resolves an index into .debug_str_offsets and from there into
// .debug_str.
func (p *parser) strx(idx uint64, cu *unitCtx, buf *util.Buf) (interface{}, error) {
	if err := buf.Err(); err != nil {
		return nil, err
	}
	entry := cu.strOffBase + 4*idx
	sob := util.NewBuf("str_offsets", p.sec.StrOffsets)
	sob.Seek(entry)
	off := uint64(sob.Uint32())
	if sob.Err() != nil {
		p.logf("string index %d out of bounds", idx)
		return nil, nil
	}
	return p.strAt(p.sec.Str, off, buf)
}

// addrx resolves an index into .debug_addr.
func (p *parser) addrx(idx uint64, cu *unitCtx, buf *util.Buf) (interface{}, error) {
	if err := buf.Err(); err != nil {
		return nil, err
	}
	ab := util.NewBuf("addr", p.sec.Addr)
	ab.Seek(cu.addrBase + uint64(cu.addrSize)*idx)
	a := ab.Addr(cu.addrSize)
	if ab.Err() != nil {
		p.logf("address index %d out of bounds", idx)
		return nil, nil
	}
	return Address(a), nil
}
