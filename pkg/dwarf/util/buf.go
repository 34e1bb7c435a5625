// Copyright 2009 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Buffered reading and decoding of DWARF data streams.

package util

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-wasmsym/wasmsym/pkg/dwarf/leb128"
)

var (
	// ErrUnexpectedEOF reports a read past the end of a section.
	ErrUnexpectedEOF = errors.New("unexpected end of data")
	// ErrMalformedVarint reports a LEB128 value that does not fit its
	// target type.
	ErrMalformedVarint = errors.New("malformed variable length integer")
)

// DecodeError records where inside a debug section decoding failed.
type DecodeError struct {
	Name string
	Off  uint64
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s at offset %#x: %v", e.Name, e.Off, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Buf is a decode cursor over a section byte slice. The first decoding
// error is recorded and every read after it returns zero values, so a
// decode loop only needs to check Err once at the end.
type Buf struct {
	name string
	data []byte
	off  uint64
	err  error
}

// NewBuf returns a cursor over data positioned at its start. The name
// identifies the section in errors.
func NewBuf(name string, data []byte) *Buf {
	return &Buf{name: name, data: data}
}

// Err returns the first error encountered by the cursor, or nil.
func (b *Buf) Err() error { return b.err }

// Off returns the current position of the cursor.
func (b *Buf) Off() uint64 { return b.off }

// Len returns the number of bytes remaining.
func (b *Buf) Len() int {
	if b.err != nil {
		return 0
	}
	return len(b.data) - int(b.off)
}

func (b *Buf) error(err error) {
	if b.err == nil {
		b.err = &DecodeError{Name: b.name, Off: b.off, Err: err}
	}
}

// Seek positions the cursor at the absolute offset off.
func (b *Buf) Seek(off uint64) {
	if b.err != nil {
		return
	}
	if off > uint64(len(b.data)) {
		b.error(ErrUnexpectedEOF)
		return
	}
	b.off = off
}

// Skip advances the cursor by n bytes.
func (b *Buf) Skip(n int) { b.Bytes(n) }

// Bytes reads the next n bytes. The returned slice aliases the section
// data and must not be modified.
func (b *Buf) Bytes(n int) []byte {
	if b.err != nil {
		return nil
	}
	if n < 0 || b.Len() < n {
		b.error(ErrUnexpectedEOF)
		return nil
	}
	data := b.data[b.off : b.off+uint64(n)]
	b.off += uint64(n)
	return data
}

// ReadByte implements io.ByteReader for the LEB128 decoders.
func (b *Buf) ReadByte() (byte, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.Len() < 1 {
		return 0, io.EOF
	}
	val := b.data[b.off]
	b.off++
	return val, nil
}

// PeekByte returns the next byte without advancing the cursor.
func (b *Buf) PeekByte() (byte, bool) {
	if b.err != nil || b.Len() < 1 {
		return 0, false
	}
	return b.data[b.off], true
}

func (b *Buf) Uint8() uint8 {
	d := b.Bytes(1)
	if d == nil {
		return 0
	}
	return d[0]
}

func (b *Buf) Uint16() uint16 {
	d := b.Bytes(2)
	if d == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(d)
}

// Uint24 reads a 3-byte little endian unsigned integer, used by the
// DW_FORM_strx3 and DW_FORM_addrx3 encodings.
func (b *Buf) Uint24() uint32 {
	d := b.Bytes(3)
	if d == nil {
		return 0
	}
	return uint32(d[0]) | uint32(d[1])<<8 | uint32(d[2])<<16
}

func (b *Buf) Uint32() uint32 {
	d := b.Bytes(4)
	if d == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(d)
}

func (b *Buf) Uint64() uint64 {
	d := b.Bytes(8)
	if d == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(d)
}

// Addr reads an address of the given size in bytes.
func (b *Buf) Addr(size int) uint64 {
	switch size {
	case 1:
		return uint64(b.Uint8())
	case 2:
		return uint64(b.Uint16())
	case 4:
		return uint64(b.Uint32())
	case 8:
		return b.Uint64()
	}
	b.error(fmt.Errorf("unsupported address size %d", size))
	return 0
}

// Uleb reads an unsigned LEB128 encoded integer.
func (b *Buf) Uleb() uint64 {
	if b.err != nil {
		return 0
	}
	x, _, err := leb128.DecodeUnsigned(b)
	if err != nil {
		if errors.Is(err, leb128.ErrOverflow) {
			b.error(ErrMalformedVarint)
		} else {
			b.error(ErrUnexpectedEOF)
		}
		return 0
	}
	return x
}

// Sleb reads a signed LEB128 encoded integer.
func (b *Buf) Sleb() int64 {
	if b.err != nil {
		return 0
	}
	x, _, err := leb128.DecodeSigned(b)
	if err != nil {
		if errors.Is(err, leb128.ErrOverflow) {
			b.error(ErrMalformedVarint)
		} else {
			b.error(ErrUnexpectedEOF)
		}
		return 0
	}
	return x
}

// String reads the NUL-terminated (C-like) string at the cursor. The
// terminal NUL is discarded.
func (b *Buf) String() string {
	if b.err != nil {
		return ""
	}
	for i := b.off; i < uint64(len(b.data)); i++ {
		if b.data[i] == 0 {
			s := string(b.data[b.off:i])
			b.off = i + 1
			return s
		}
	}
	b.error(ErrUnexpectedEOF)
	return ""
}

// StringAt reads the NUL-terminated string at the absolute offset off
// without moving the cursor. The second return is false if off is out
// of bounds or the string is unterminated.
func (b *Buf) StringAt(off uint64) (string, bool) {
	if off >= uint64(len(b.data)) {
		return "", false
	}
	for i := off; i < uint64(len(b.data)); i++ {
		if b.data[i] == 0 {
			return string(b.data[off:i]), true
		}
	}
	return "", false
}
