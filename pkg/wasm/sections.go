// Package wasm locates the DWARF debug information embedded in a
// WebAssembly module. Compilers attach DWARF to wasm as custom sections
// named after the classic .debug_* sections; this package walks the
// section table, slices those payloads out and records the file offset
// of the code section, which is what runtimes report trap addresses
// relative to.
package wasm

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-wasmsym/wasmsym/pkg/dwarf/util"
)

// ErrNotWasm reports input that is not a WebAssembly module.
var ErrNotWasm = errors.New("not a WebAssembly module")

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d} // \0asm

const (
	customSectionID = 0
	codeSectionID   = 10

	supportedVersion = 1
)

// Section is one custom section of the module.
type Section struct {
	Name string
	Data []byte
}

// Module holds what the resolver needs from a parsed wasm module: the
// .debug_* custom sections and the payload offset of the code section.
type Module struct {
	Sections          []Section
	CodeSectionOffset uint64

	byName map[string][]byte
}

// ParseModule walks the section table of data. Section payloads are
// sliced, not copied; the module must stay alive as long as the
// returned sections are in use. Malformed section framing after a valid
// header stops the walk and keeps the sections found so far; logf, if
// not nil, receives a diagnostic.
func ParseModule(data []byte, logf func(string, ...interface{})) (*Module, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], wasmMagic) {
		return nil, ErrNotWasm
	}
	buf := util.NewBuf("wasm", data)
	buf.Skip(4)
	if version := buf.Uint32(); version != supportedVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrNotWasm, version)
	}

	mod := &Module{byName: make(map[string][]byte)}

	for buf.Len() > 0 {
		id := buf.Uint8()
		size := buf.Uleb()
		if buf.Err() != nil || uint64(buf.Len()) < size {
			if logf != nil {
				logf("truncated section id %d at offset %#x", id, buf.Off())
			}
			break
		}
		end := buf.Off() + size

		switch id {
		case customSectionID:
			nameLen := buf.Uleb()
			if buf.Err() != nil || buf.Off()+nameLen > end {
				if logf != nil {
					logf("malformed custom section name at offset %#x", buf.Off())
				}
				return mod, nil
			}
			name := string(buf.Bytes(int(nameLen)))
			payload := buf.Bytes(int(end - buf.Off()))
			if isDebugSection(name) {
				mod.Sections = append(mod.Sections, Section{Name: name, Data: payload})
				mod.byName[name] = payload
			}
		case codeSectionID:
			mod.CodeSectionOffset = buf.Off()
		}

		buf.Seek(end)
		if buf.Err() != nil {
			break
		}
	}
	return mod, nil
}

func isDebugSection(name string) bool {
	return len(name) > len(".debug_") && name[:len(".debug_")] == ".debug_"
}

// Section returns the payload of the named custom section, or nil.
func (m *Module) Section(name string) []byte {
	return m.byName[name]
}

// DebugSections returns the .debug_* custom sections keyed by name.
func (m *Module) DebugSections() map[string][]byte {
	out := make(map[string][]byte, len(m.Sections))
	for _, s := range m.Sections {
		out[s.Name] = s.Data
	}
	return out
}
