package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrBadCompressed is returned for a compressed integer with a reserved prefix.
	ErrBadCompressed = errors.New("compressed integer: reserved encoding")

	// ErrNoTerminator is returned when a NUL-terminated scan hits its limit.
	ErrNoTerminator = errors.New("missing NUL terminator")

	// ErrOutOfRange is returned when a fork or seek falls outside the reader.
	ErrOutOfRange = errors.New("offset out of range")
)

// Reader is a forkable little-endian cursor over a byte slice.
// The slice is never modified; returned byte slices alias it.
type Reader struct {
	data []byte
	pos  int
	base int
}

// NewReader creates a Reader over data starting at position 0.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Position returns the current byte position relative to the reader start.
func (r *Reader) Position() int {
	return r.pos
}

// Offset returns the absolute position including the offset of every parent fork.
func (r *Reader) Offset() int {
	return r.base + r.pos
}

// Len returns the total length of the reader.
func (r *Reader) Len() int {
	return len(r.data)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Reset seeks to the given position.
func (r *Reader) Reset(pos int) error {
	if pos < 0 || pos > len(r.data) {
		return r.wrapError(ErrOutOfRange)
	}
	r.pos = pos
	return nil
}

// Fork returns an independent reader over [offset, offset+length) of this reader.
func (r *Reader) Fork(offset, length int) (*Reader, error) {
	if offset < 0 || length < 0 || offset+length > len(r.data) {
		return nil, fmt.Errorf("fork [%d,+%d) of %d bytes: %w", offset, length, len(r.data), ErrOutOfRange)
	}
	return &Reader{data: r.data[offset : offset+length], base: r.base + offset}, nil
}

// ReadByte reads a single byte and advances the position.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadU16LE reads a little-endian uint16.
func (r *Reader) ReadU16LE() (uint16, error) {
	buf, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// ReadU32LE reads a little-endian uint32 (fixed 4 bytes).
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadU64LE reads a little-endian uint64.
func (r *Reader) ReadU64LE() (uint64, error) {
	buf, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// ReadIndex reads a 2- or 4-byte index column.
func (r *Reader) ReadIndex(size int) (uint32, error) {
	if size == 2 {
		v, err := r.ReadU16LE()
		return uint32(v), err
	}
	return r.ReadU32LE()
}

// ReadCompressedU32 reads an ECMA-335 compressed unsigned integer.
func (r *Reader) ReadCompressedU32() (uint32, error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch {
	case b0&0x80 == 0:
		return uint32(b0), nil
	case b0&0xC0 == 0x80:
		b1, err := r.ReadByte()
		if err != nil {
			return 0, io.ErrUnexpectedEOF
		}
		return uint32(b0&0x3F)<<8 | uint32(b1), nil
	case b0&0xE0 == 0xC0:
		rest, err := r.ReadBytes(3)
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x1F)<<24 | uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2]), nil
	default:
		return 0, r.wrapError(ErrBadCompressed)
	}
}

// ReadCompressedI32 reads an ECMA-335 compressed signed integer.
// The sign bit is rotated into the least significant bit.
func (r *Reader) ReadCompressedI32() (int32, error) {
	start := r.pos
	u, err := r.ReadCompressedU32()
	if err != nil {
		return 0, err
	}
	v := int32(u >> 1)
	if u&1 == 0 {
		return v, nil
	}
	switch r.pos - start {
	case 1:
		return v - 0x40, nil
	case 2:
		return v - 0x2000, nil
	default:
		return v - 0x10000000, nil
	}
}

// ReadCString reads a NUL-terminated byte sequence, scanning at most limit bytes.
// The terminator is consumed but not returned.
func (r *Reader) ReadCString(limit int) ([]byte, error) {
	end := len(r.data)
	if limit >= 0 && r.pos+limit < end {
		end = r.pos + limit
	}
	for i := r.pos; i < end; i++ {
		if r.data[i] == 0 {
			s := r.data[r.pos:i]
			r.pos = i + 1
			return s, nil
		}
	}
	return nil, r.wrapError(ErrNoTerminator)
}

// Align advances the position to the next multiple of n.
func (r *Reader) Align(n int) error {
	pad := (n - r.pos%n) % n
	if r.pos+pad > len(r.data) {
		return io.ErrUnexpectedEOF
	}
	r.pos += pad
	return nil
}

// ReadRemaining reads all remaining bytes from the reader.
func (r *Reader) ReadRemaining() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}

func (r *Reader) wrapError(err error) error {
	return fmt.Errorf("at position %d: %w", r.pos, err)
}

// ParseError represents an error during binary parsing with position information.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("metadata: %s at position %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("metadata: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// WrapError creates a ParseError with the current absolute position.
func (r *Reader) WrapError(section string, err error) error {
	return &ParseError{
		Position: r.Offset(),
		Section:  section,
		Err:      err,
	}
}
