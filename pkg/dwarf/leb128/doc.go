// Package leb128 provides encoders and bounds-checked decoders for The
// Little Endian Base 128 format. The Little Endian Base 128 format is
// defined in the DWARF v4 standard, section 7.6, page 161 and following.
package leb128
