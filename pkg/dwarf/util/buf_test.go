package util

import (
	"errors"
	"testing"
)

func TestBufFixedWidth(t *testing.T) {
	b := NewBuf("test", []byte{
		0x01,
		0x02, 0x03,
		0x04, 0x05, 0x06,
		0x07, 0x08, 0x09, 0x0a,
		0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12,
	})

	if v := b.Uint8(); v != 0x01 {
		t.Errorf("Uint8 = %#x", v)
	}
	if v := b.Uint16(); v != 0x0302 {
		t.Errorf("Uint16 = %#x", v)
	}
	if v := b.Uint24(); v != 0x060504 {
		t.Errorf("Uint24 = %#x", v)
	}
	if v := b.Uint32(); v != 0x0a090807 {
		t.Errorf("Uint32 = %#x", v)
	}
	if v := b.Uint64(); v != 0x1211100f0e0d0c0b {
		t.Errorf("Uint64 = %#x", v)
	}
	if err := b.Err(); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 0 {
		t.Fatal("expected empty buffer")
	}
}

func TestBufUnderflowIsSticky(t *testing.T) {
	b := NewBuf("test", []byte{0x01, 0x02})
	if v := b.Uint32(); v != 0 {
		t.Errorf("expected zero value after underflow, got %#x", v)
	}
	if !errors.Is(b.Err(), ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", b.Err())
	}
	// Every read after the first error keeps returning zero values.
	if v := b.Uint8(); v != 0 {
		t.Errorf("read after error returned %#x", v)
	}
	var derr *DecodeError
	if !errors.As(b.Err(), &derr) || derr.Name != "test" {
		t.Fatalf("expected positional decode error, got %v", b.Err())
	}
}

func TestBufString(t *testing.T) {
	b := NewBuf("test", []byte("hello\x00world\x00"))
	if s := b.String(); s != "hello" {
		t.Errorf("String = %q", s)
	}
	if s := b.String(); s != "world" {
		t.Errorf("String = %q", s)
	}

	if s, ok := b.StringAt(6); !ok || s != "world" {
		t.Errorf("StringAt(6) = %q, %v", s, ok)
	}
	if _, ok := b.StringAt(100); ok {
		t.Error("StringAt out of bounds succeeded")
	}

	b = NewBuf("test", []byte("unterminated"))
	_ = b.String()
	if !errors.Is(b.Err(), ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", b.Err())
	}
}

func TestBufVarint(t *testing.T) {
	b := NewBuf("test", []byte{0xE5, 0x8E, 0x26, 0x9b, 0xf1, 0x59})
	if v := b.Uleb(); v != 624485 {
		t.Errorf("Uleb = %d", v)
	}
	if v := b.Sleb(); v != -624485 {
		t.Errorf("Sleb = %d", v)
	}

	b = NewBuf("test", []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x2})
	b.Uleb()
	if !errors.Is(b.Err(), ErrMalformedVarint) {
		t.Fatalf("expected ErrMalformedVarint, got %v", b.Err())
	}

	b = NewBuf("test", []byte{0x80})
	b.Uleb()
	if !errors.Is(b.Err(), ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", b.Err())
	}
}

func TestBufSeek(t *testing.T) {
	b := NewBuf("test", []byte{0x01, 0x02, 0x03, 0x04})
	b.Seek(2)
	if v := b.Uint8(); v != 0x03 {
		t.Errorf("Uint8 after Seek = %#x", v)
	}
	if off := b.Off(); off != 3 {
		t.Errorf("Off = %d", off)
	}
	b.Seek(100)
	if !errors.Is(b.Err(), ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", b.Err())
	}
}

func TestBufPeek(t *testing.T) {
	b := NewBuf("test", []byte{0xab})
	if v, ok := b.PeekByte(); !ok || v != 0xab {
		t.Fatalf("PeekByte = %#x, %v", v, ok)
	}
	if v := b.Uint8(); v != 0xab {
		t.Fatalf("Uint8 after peek = %#x", v)
	}
	if _, ok := b.PeekByte(); ok {
		t.Fatal("PeekByte succeeded on empty buffer")
	}
}
