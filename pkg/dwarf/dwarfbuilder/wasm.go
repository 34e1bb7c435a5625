package dwarfbuilder

import (
	"bytes"

	"github.com/go-wasmsym/wasmsym/pkg/dwarf/leb128"
)

// NamedSection is a custom section to embed in a synthesized module.
type NamedSection struct {
	Name string
	Data []byte
}

// WrapWasm assembles a minimal wasm module holding the given code
// section payload followed by the named custom sections, in order.
func WrapWasm(code []byte, sections ...NamedSection) []byte {
	var buf bytes.Buffer

	buf.WriteString("\x00asm")
	buf.Write([]byte{0x1, 0x0, 0x0, 0x0})

	if code != nil {
		buf.WriteByte(10)
		leb128.EncodeUnsigned(&buf, uint64(len(code)))
		buf.Write(code)
	}

	for _, sec := range sections {
		var payload bytes.Buffer
		leb128.EncodeUnsigned(&payload, uint64(len(sec.Name)))
		payload.WriteString(sec.Name)
		payload.Write(sec.Data)

		buf.WriteByte(0)
		leb128.EncodeUnsigned(&buf, uint64(payload.Len()))
		buf.Write(payload.Bytes())
	}

	return buf.Bytes()
}
