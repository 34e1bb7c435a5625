// Package abbrev decodes .debug_abbrev tables. An abbreviation table
// maps the abbreviation codes used by .debug_info entries to their tag,
// has-children flag and ordered attribute/form list.
package abbrev

import (
	"fmt"

	"github.com/go-wasmsym/wasmsym/pkg/dwarf/util"
)

// Tag identifies the kind of a debug information entry. Unknown tags
// are preserved as their numeric value.
type Tag uint64

const (
	TagCompileUnit       Tag = 0x11
	TagInlinedSubroutine Tag = 0x1d
	TagSubprogram        Tag = 0x2e
	TagPartialUnit       Tag = 0x3c
)

// Attr identifies an attribute of a debug information entry. Unknown
// attributes are preserved as their numeric value.
type Attr uint64

const (
	AttrName            Attr = 0x03
	AttrStmtList        Attr = 0x10
	AttrLowPC           Attr = 0x11
	AttrHighPC          Attr = 0x12
	AttrLanguage        Attr = 0x13
	AttrCompDir         Attr = 0x1b
	AttrAbstractOrigin  Attr = 0x31
	AttrSpecification   Attr = 0x47
	AttrRanges          Attr = 0x55
	AttrLinkageName     Attr = 0x6e
	AttrStrOffsetsBase  Attr = 0x72
	AttrAddrBase        Attr = 0x73
	AttrMIPSLinkageName Attr = 0x2007
)

// Form identifies the wire encoding of an attribute value.
type Form uint64

const (
	FormAddr          Form = 0x01
	FormBlock2        Form = 0x03
	FormBlock4        Form = 0x04
	FormData2         Form = 0x05
	FormData4         Form = 0x06
	FormData8         Form = 0x07
	FormString        Form = 0x08
	FormBlock         Form = 0x09
	FormBlock1        Form = 0x0a
	FormData1         Form = 0x0b
	FormFlag          Form = 0x0c
	FormSdata         Form = 0x0d
	FormStrp          Form = 0x0e
	FormUdata         Form = 0x0f
	FormRefAddr       Form = 0x10
	FormRef1          Form = 0x11
	FormRef2          Form = 0x12
	FormRef4          Form = 0x13
	FormRef8          Form = 0x14
	FormRefUdata      Form = 0x15
	FormIndirect      Form = 0x16
	FormSecOffset     Form = 0x17
	FormExprloc       Form = 0x18
	FormFlagPresent   Form = 0x19
	FormStrx          Form = 0x1a
	FormAddrx         Form = 0x1b
	FormRefSup4       Form = 0x1c
	FormStrpSup       Form = 0x1d
	FormData16        Form = 0x1e
	FormLineStrp      Form = 0x1f
	FormRefSig8       Form = 0x20
	FormImplicitConst Form = 0x21
	FormLoclistx      Form = 0x22
	FormRnglistx      Form = 0x23
	FormRefSup8       Form = 0x24
	FormStrx1         Form = 0x25
	FormStrx2         Form = 0x26
	FormStrx3         Form = 0x27
	FormStrx4         Form = 0x28
	FormAddrx1        Form = 0x29
	FormAddrx2        Form = 0x2a
	FormAddrx3        Form = 0x2b
	FormAddrx4        Form = 0x2c
)

// Spec is one attribute/form pair of an abbreviation declaration. For
// DW_FORM_implicit_const the value lives in the table itself and is
// carried in Const.
type Spec struct {
	Attr  Attr
	Form  Form
	Const int64
}

// Entry is one abbreviation declaration.
type Entry struct {
	Code     uint64
	Tag      Tag
	Children bool
	Specs    []Spec
}

// Table maps abbreviation codes to declarations. Codes are only unique
// within one table; every compilation unit references its table by
// section offset.
type Table map[uint64]*Entry

// Parse decodes the abbreviation table starting at off inside the
// .debug_abbrev section. The table ends at the first 0 code.
func Parse(data []byte, off uint64) (Table, error) {
	buf := util.NewBuf("abbrev", data)
	buf.Seek(off)

	table := make(Table)
	for {
		code := buf.Uleb()
		if code == 0 {
			break
		}
		tag := buf.Uleb()
		children := buf.Uint8()

		entry := &Entry{
			Code:     code,
			Tag:      Tag(tag),
			Children: children != 0,
		}

		for {
			attr := buf.Uleb()
			form := buf.Uleb()
			if attr == 0 && form == 0 {
				break
			}
			spec := Spec{Attr: Attr(attr), Form: Form(form)}
			if Form(form) == FormImplicitConst {
				spec.Const = buf.Sleb()
			}
			entry.Specs = append(entry.Specs, spec)
		}

		if err := buf.Err(); err != nil {
			return nil, fmt.Errorf("abbreviation table at %#x: %w", off, err)
		}
		table[code] = entry
	}
	if err := buf.Err(); err != nil {
		return nil, fmt.Errorf("abbreviation table at %#x: %w", off, err)
	}
	return table, nil
}
