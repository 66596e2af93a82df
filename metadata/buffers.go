package metadata

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf16"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/internal/binary"
)

// StringsBuffer builds a #Strings heap, deduplicating by value.
type StringsBuffer struct {
	data  []byte
	index map[string]uint32
}

// NewStringsBuffer creates a buffer holding only the empty string.
func NewStringsBuffer() *StringsBuffer {
	return &StringsBuffer{data: []byte{0}, index: make(map[string]uint32)}
}

// Intern returns the offset of s, appending it if it is new.
// The empty string is offset 0 and appends nothing.
func (b *StringsBuffer) Intern(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	if off, ok := b.index[s]; ok {
		return off, nil
	}
	if strings.IndexByte(s, 0) >= 0 {
		return 0, errors.InvalidData(errors.PhaseWrite, []string{StreamStrings}, "string contains NUL")
	}
	off := uint32(len(b.data))
	b.data = append(b.data, s...)
	b.data = append(b.data, 0)
	b.index[s] = off
	return off, nil
}

// Import seeds an empty buffer with an existing heap so its offsets stay valid.
func (b *StringsBuffer) Import(h *StringsHeap) error {
	if len(b.data) > 1 {
		return errors.InvalidInput(errors.PhaseWrite, "strings buffer is not empty")
	}
	if h.Len() == 0 {
		return nil
	}
	b.data = append([]byte(nil), h.Bytes()...)
	return h.Enumerate(func(off uint32, v string) bool {
		if _, ok := b.index[v]; !ok {
			b.index[v] = off
		}
		return true
	})
}

// Len returns the buffer size in bytes.
func (b *StringsBuffer) Len() int { return len(b.data) }

// Bytes returns the heap bytes.
func (b *StringsBuffer) Bytes() []byte { return b.data }

// WriteTo writes the heap bytes to w.
func (b *StringsBuffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.data)
	return int64(n), err
}

type blobEntry struct {
	offset uint32
	start  int
	end    int
}

// BlobBuffer builds a #Blob heap. Values are bucketed by xxhash and verified
// byte for byte before being shared.
type BlobBuffer struct {
	data    []byte
	buckets map[uint64][]blobEntry
}

// NewBlobBuffer creates a buffer holding only the empty blob.
func NewBlobBuffer() *BlobBuffer {
	return &BlobBuffer{data: []byte{0}, buckets: make(map[uint64][]blobEntry)}
}

// Intern returns the offset of v, appending it if it is new.
// The empty blob is offset 0.
func (b *BlobBuffer) Intern(v []byte) (uint32, error) {
	if len(v) == 0 {
		return 0, nil
	}
	h := xxhash.Sum64(v)
	for _, e := range b.buckets[h] {
		if bytes.Equal(b.data[e.start:e.end], v) {
			return e.offset, nil
		}
	}
	if len(v) > binary.MaxCompressed {
		return 0, errors.Overflow(errors.PhaseWrite, []string{StreamBlob}, len(v), 4)
	}

	w := binary.NewWriter()
	_ = w.WriteCompressedU32(uint32(len(v)))
	off := uint32(len(b.data))
	b.data = append(b.data, w.Bytes()...)
	start := len(b.data)
	b.data = append(b.data, v...)
	b.buckets[h] = append(b.buckets[h], blobEntry{offset: off, start: start, end: len(b.data)})
	return off, nil
}

// Import seeds an empty buffer with an existing heap so its offsets stay valid.
func (b *BlobBuffer) Import(h *BlobHeap) error {
	if len(b.data) > 1 {
		return errors.InvalidInput(errors.PhaseWrite, "blob buffer is not empty")
	}
	if h.Len() == 0 {
		return nil
	}
	b.data = append([]byte(nil), h.Bytes()...)
	return h.Enumerate(func(off uint32, v []byte) bool {
		start := int(off) + binary.CompressedSize(uint32(len(v)))
		e := blobEntry{offset: off, start: start, end: start + len(v)}
		hv := xxhash.Sum64(v)
		for _, x := range b.buckets[hv] {
			if bytes.Equal(b.data[x.start:x.end], v) {
				return true
			}
		}
		b.buckets[hv] = append(b.buckets[hv], e)
		return true
	})
}

// Len returns the buffer size in bytes.
func (b *BlobBuffer) Len() int { return len(b.data) }

// Bytes returns the heap bytes.
func (b *BlobBuffer) Bytes() []byte { return b.data }

// WriteTo writes the heap bytes to w.
func (b *BlobBuffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.data)
	return int64(n), err
}

// GUIDBuffer builds a #GUID heap of 16-byte entries.
type GUIDBuffer struct {
	data  []byte
	index map[uuid.UUID]uint32
}

// NewGUIDBuffer creates an empty buffer.
func NewGUIDBuffer() *GUIDBuffer {
	return &GUIDBuffer{index: make(map[uuid.UUID]uint32)}
}

// Intern returns the 1-based index of g, appending it if it is new.
// The nil GUID is index 0.
func (b *GUIDBuffer) Intern(g uuid.UUID) (uint32, error) {
	if g == uuid.Nil {
		return 0, nil
	}
	if idx, ok := b.index[g]; ok {
		return idx, nil
	}
	b.data = append(b.data, g[:]...)
	idx := uint32(len(b.data) / 16)
	b.index[g] = idx
	return idx, nil
}

// Import seeds an empty buffer with an existing heap so its indices stay valid.
func (b *GUIDBuffer) Import(h *GUIDHeap) error {
	if len(b.data) > 0 {
		return errors.InvalidInput(errors.PhaseWrite, "guid buffer is not empty")
	}
	b.data = append([]byte(nil), h.Bytes()[:h.Count()*16]...)
	return h.Enumerate(func(idx uint32, g uuid.UUID) bool {
		if _, ok := b.index[g]; !ok && g != uuid.Nil {
			b.index[g] = idx
		}
		return true
	})
}

// Len returns the buffer size in bytes.
func (b *GUIDBuffer) Len() int { return len(b.data) }

// Bytes returns the heap bytes.
func (b *GUIDBuffer) Bytes() []byte { return b.data }

// WriteTo writes the heap bytes to w.
func (b *GUIDBuffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.data)
	return int64(n), err
}

// UserStringsBuffer builds a #US heap.
type UserStringsBuffer struct {
	data  []byte
	index map[string]uint32
}

// NewUserStringsBuffer creates a buffer holding only the null entry.
func NewUserStringsBuffer() *UserStringsBuffer {
	return &UserStringsBuffer{data: []byte{0}, index: make(map[string]uint32)}
}

// Intern returns the offset of s, appending it if it is new. Unlike the
// other heaps the empty string gets its own entry: offset 0 is the nil
// user-string token.
func (b *UserStringsBuffer) Intern(s string) (uint32, error) {
	if off, ok := b.index[s]; ok {
		return off, nil
	}
	off := uint32(len(b.data))
	if off > MaxRid {
		return 0, errors.Overflow(errors.PhaseWrite, []string{StreamUserStrings}, off, 3)
	}

	units := utf16.Encode([]rune(s))
	payload := make([]byte, 0, 2*len(units)+1)
	var special byte
	for _, u := range units {
		payload = append(payload, byte(u), byte(u>>8))
		if hasSpecialChar(u) {
			special = 1
		}
	}
	payload = append(payload, special)

	w := binary.NewWriter()
	if err := w.WriteCompressedU32(uint32(len(payload))); err != nil {
		return 0, errors.Overflow(errors.PhaseWrite, []string{StreamUserStrings}, len(payload), 4)
	}
	b.data = append(b.data, w.Bytes()...)
	b.data = append(b.data, payload...)
	b.index[s] = off
	return off, nil
}

// hasSpecialChar reports whether a UTF-16 unit sets the trailing flag byte.
func hasSpecialChar(u uint16) bool {
	if u>>8 != 0 {
		return true
	}
	switch {
	case u >= 0x01 && u <= 0x08, u >= 0x0E && u <= 0x1F, u == 0x27, u == 0x2D, u == 0x7F:
		return true
	}
	return false
}

// Import seeds an empty buffer with an existing heap so its offsets stay valid.
// User string offsets are baked into method bodies, so rebuilds import them.
func (b *UserStringsBuffer) Import(h *UserStringsHeap) error {
	if len(b.data) > 1 {
		return errors.InvalidInput(errors.PhaseWrite, "user strings buffer is not empty")
	}
	if h.Len() == 0 {
		return nil
	}
	b.data = append([]byte(nil), h.Bytes()...)
	return h.Enumerate(func(off uint32, v string) bool {
		if _, ok := b.index[v]; !ok {
			b.index[v] = off
		}
		return true
	})
}

// Len returns the buffer size in bytes.
func (b *UserStringsBuffer) Len() int { return len(b.data) }

// Bytes returns the heap bytes.
func (b *UserStringsBuffer) Bytes() []byte { return b.data }

// WriteTo writes the heap bytes to w.
func (b *UserStringsBuffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.data)
	return int64(n), err
}
