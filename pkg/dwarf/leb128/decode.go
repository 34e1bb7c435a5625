package leb128

import (
	"errors"
	"io"
)

// Reader is an io.ByteReader with a Len method. This interface is
// satisfied by both bytes.Buffer and bytes.Reader.
type Reader interface {
	io.ByteReader
	Len() int
}

// maxLen is the longest encoding of a 64 bit integer: nine full 7-bit
// groups plus a final group carrying the top bit.
const maxLen = 10

var (
	// ErrTruncated is returned when the input ends in the middle of a
	// variable length integer.
	ErrTruncated = errors.New("truncated variable length integer")
	// ErrOverflow is returned when a variable length integer does not
	// fit a 64 bit value.
	ErrOverflow = errors.New("variable length integer overflows 64 bits")
)

// DecodeUnsigned decodes an unsigned Little Endian Base 128 represented
// number and returns it along with the number of bytes read.
func DecodeUnsigned(buf Reader) (uint64, uint32, error) {
	var (
		result uint64
		shift  uint64
		length uint32
	)

	for {
		b, err := buf.ReadByte()
		if err != nil {
			return 0, length, ErrTruncated
		}
		length++
		if length > maxLen || (length == maxLen && b > 0x1) {
			return 0, length, ErrOverflow
		}

		result |= uint64(b&0x7f) << shift

		// If high order bit is 1 another byte follows.
		if b&0x80 == 0 {
			return result, length, nil
		}

		shift += 7
	}
}

// DecodeSigned decodes a signed Little Endian Base 128 represented
// number and returns it along with the number of bytes read.
func DecodeSigned(buf Reader) (int64, uint32, error) {
	var (
		b      byte
		err    error
		result int64
		shift  uint64
		length uint32
	)

	for {
		b, err = buf.ReadByte()
		if err != nil {
			return 0, length, ErrTruncated
		}
		length++
		if length > maxLen {
			return 0, length, ErrOverflow
		}

		result |= (int64(b) & 0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}

	if (shift < 8*uint64(length)) && (b&0x40 > 0) {
		result |= -(1 << shift)
	}

	return result, length, nil
}
