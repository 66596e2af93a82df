package binary

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MaxCompressed is the largest value a compressed unsigned integer can carry.
const MaxCompressed = 0x1FFFFFFF

// Writer provides buffered little-endian writing for metadata encoding.
type Writer struct {
	buf *bytes.Buffer
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{buf: &bytes.Buffer{}}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Byte writes a single byte.
func (w *Writer) Byte(b byte) {
	w.buf.WriteByte(b)
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// WriteU16LE writes a little-endian uint16.
func (w *Writer) WriteU16LE(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.buf.Write(buf[:])
}

// WriteU32LE writes a little-endian uint32 (fixed 4 bytes).
func (w *Writer) WriteU32LE(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.buf.Write(buf[:])
}

// WriteU64LE writes a little-endian uint64.
func (w *Writer) WriteU64LE(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.buf.Write(buf[:])
}

// WriteIndex writes a 2- or 4-byte index column. A value that does not fit
// in a 2-byte column is an error; it is never truncated.
func (w *Writer) WriteIndex(v uint32, size int) error {
	if size == 2 {
		if v > 0xFFFF {
			return fmt.Errorf("index 0x%X does not fit in 2 bytes", v)
		}
		w.WriteU16LE(uint16(v))
		return nil
	}
	w.WriteU32LE(v)
	return nil
}

// WriteCompressedU32 writes an ECMA-335 compressed unsigned integer.
func (w *Writer) WriteCompressedU32(v uint32) error {
	switch {
	case v < 0x80:
		w.buf.WriteByte(byte(v))
	case v < 0x4000:
		w.buf.WriteByte(byte(v>>8) | 0x80)
		w.buf.WriteByte(byte(v))
	case v <= MaxCompressed:
		w.buf.WriteByte(byte(v>>24) | 0xC0)
		w.buf.WriteByte(byte(v >> 16))
		w.buf.WriteByte(byte(v >> 8))
		w.buf.WriteByte(byte(v))
	default:
		return fmt.Errorf("value 0x%X exceeds compressed integer range", v)
	}
	return nil
}

// WriteCompressedI32 writes an ECMA-335 compressed signed integer.
func (w *Writer) WriteCompressedI32(v int32) error {
	var sign uint32
	if v < 0 {
		sign = 1
	}
	switch {
	case v >= -0x40 && v <= 0x3F:
		return w.WriteCompressedU32(uint32(v)&0x3F<<1 | sign)
	case v >= -0x2000 && v <= 0x1FFF:
		u := uint32(v)&0x1FFF<<1 | sign
		w.buf.WriteByte(byte(u>>8) | 0x80)
		w.buf.WriteByte(byte(u))
		return nil
	case v >= -0x10000000 && v <= 0x0FFFFFFF:
		u := uint32(v)&0x0FFFFFFF<<1 | sign
		w.buf.WriteByte(byte(u>>24) | 0xC0)
		w.buf.WriteByte(byte(u >> 16))
		w.buf.WriteByte(byte(u >> 8))
		w.buf.WriteByte(byte(u))
		return nil
	default:
		return fmt.Errorf("value %d exceeds compressed integer range", v)
	}
}

// Align pads with zero bytes up to the next multiple of n.
func (w *Writer) Align(n int) {
	for w.buf.Len()%n != 0 {
		w.buf.WriteByte(0)
	}
}

// CompressedSize returns the encoded size of a compressed unsigned integer.
func CompressedSize(v uint32) int {
	switch {
	case v < 0x80:
		return 1
	case v < 0x4000:
		return 2
	default:
		return 4
	}
}
