package metadata

import (
	"sync"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/internal/binary"
)

// Heap stream names.
const (
	StreamStrings            = "#Strings"
	StreamBlob               = "#Blob"
	StreamGUID               = "#GUID"
	StreamUserStrings        = "#US"
	StreamTables             = "#~"
	StreamTablesUncompressed = "#-"
)

// heapCache memoizes decoded values by offset. The decode and visit
// callbacks always run without the lock held.
type heapCache[T any] struct {
	mu     sync.Mutex
	values map[uint32]T
	order  []uint32
	all    []T
	full   bool
}

func (c *heapCache[T]) lookup(offset uint32) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[offset]
	return v, ok
}

func (c *heapCache[T]) store(offset uint32, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[uint32]T)
	}
	c.values[offset] = v
}

func (c *heapCache[T]) complete(order []uint32, all []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = order
	c.all = all
	c.full = true
}

// cached returns the entries of a fully enumerated heap, or false.
func (c *heapCache[T]) cached() ([]uint32, []T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order, c.all, c.full
}

// enumerate walks entries starting at first; next decodes the entry at an
// offset and returns the following offset. Empty entries (padding) are skipped.
func enumerate[T any](c *heapCache[T], first, end uint32, next func(uint32) (T, uint32, bool, error), fn func(uint32, T) bool) error {
	if order, all, ok := c.cached(); ok {
		for i, off := range order {
			if !fn(off, all[i]) {
				return nil
			}
		}
		return nil
	}

	var (
		order []uint32
		all   []T
	)
	for off := first; off < end; {
		v, following, empty, err := next(off)
		if err != nil {
			return err
		}
		if !empty {
			order = append(order, off)
			all = append(all, v)
			if !fn(off, v) {
				return nil
			}
		}
		off = following
	}
	c.complete(order, all)
	return nil
}

// StringsHeap reads the #Strings heap: NUL-terminated UTF-8 strings.
type StringsHeap struct {
	data  []byte
	cache heapCache[string]
}

// NewStringsHeap creates a reader over the heap bytes.
func NewStringsHeap(data []byte) *StringsHeap {
	return &StringsHeap{data: data}
}

// Len returns the heap size in bytes.
func (h *StringsHeap) Len() int { return len(h.data) }

// Bytes returns the raw heap bytes.
func (h *StringsHeap) Bytes() []byte { return h.data }

// Get returns the string at offset. Interior offsets decode to the suffix.
func (h *StringsHeap) Get(offset uint32) (string, error) {
	if offset == 0 {
		return "", nil
	}
	if v, ok := h.cache.lookup(offset); ok {
		return v, nil
	}
	if int(offset) >= len(h.data) {
		return "", errors.BadOffset(StreamStrings, offset, uint32(len(h.data)))
	}
	r := binary.NewReader(h.data[offset:])
	b, err := r.ReadCString(-1)
	if err != nil {
		return "", errors.MalformedHeap(StreamStrings, offset, "missing NUL terminator")
	}
	v := string(b)
	h.cache.store(offset, v)
	return v, nil
}

// Enumerate visits every non-empty string in offset order until fn returns false.
func (h *StringsHeap) Enumerate(fn func(offset uint32, v string) bool) error {
	return enumerate(&h.cache, 1, uint32(len(h.data)), func(off uint32) (string, uint32, bool, error) {
		v, err := h.Get(off)
		return v, off + uint32(len(v)) + 1, v == "", err
	}, fn)
}

// BlobHeap reads the #Blob heap: compressed length prefix plus payload.
type BlobHeap struct {
	data  []byte
	cache heapCache[[]byte]
}

// NewBlobHeap creates a reader over the heap bytes.
func NewBlobHeap(data []byte) *BlobHeap {
	return &BlobHeap{data: data}
}

// Len returns the heap size in bytes.
func (h *BlobHeap) Len() int { return len(h.data) }

// Bytes returns the raw heap bytes.
func (h *BlobHeap) Bytes() []byte { return h.data }

// Get returns the blob at offset. The returned slice aliases the heap and
// must not be modified.
func (h *BlobHeap) Get(offset uint32) ([]byte, error) {
	v, _, err := h.get(offset)
	return v, err
}

func (h *BlobHeap) get(offset uint32) ([]byte, uint32, error) {
	if offset == 0 {
		return []byte{}, 1, nil
	}
	if int(offset) >= len(h.data) {
		return nil, 0, errors.BadOffset(StreamBlob, offset, uint32(len(h.data)))
	}
	r := binary.NewReader(h.data[offset:])
	n, err := r.ReadCompressedU32()
	if err != nil {
		return nil, 0, errors.MalformedHeap(StreamBlob, offset, "bad length prefix")
	}
	if v, ok := h.cache.lookup(offset); ok {
		return v, offset + uint32(r.Position()) + n, nil
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return nil, 0, errors.MalformedHeap(StreamBlob, offset, "length exceeds heap")
	}
	h.cache.store(offset, b)
	return b, offset + uint32(r.Position()), nil
}

// Enumerate visits every non-empty blob in offset order until fn returns false.
func (h *BlobHeap) Enumerate(fn func(offset uint32, v []byte) bool) error {
	return enumerate(&h.cache, 1, uint32(len(h.data)), func(off uint32) ([]byte, uint32, bool, error) {
		v, next, err := h.get(off)
		return v, next, len(v) == 0, err
	}, fn)
}

// GUIDHeap reads the #GUID heap: 16-byte entries addressed by 1-based index.
type GUIDHeap struct {
	data  []byte
	cache heapCache[uuid.UUID]
}

// NewGUIDHeap creates a reader over the heap bytes.
func NewGUIDHeap(data []byte) *GUIDHeap {
	return &GUIDHeap{data: data}
}

// Len returns the heap size in bytes.
func (h *GUIDHeap) Len() int { return len(h.data) }

// Count returns the number of GUID entries.
func (h *GUIDHeap) Count() int { return len(h.data) / 16 }

// Bytes returns the raw heap bytes.
func (h *GUIDHeap) Bytes() []byte { return h.data }

// Get returns the GUID with the given 1-based index. Index 0 is the nil GUID.
func (h *GUIDHeap) Get(index uint32) (uuid.UUID, error) {
	if index == 0 {
		return uuid.Nil, nil
	}
	if v, ok := h.cache.lookup(index); ok {
		return v, nil
	}
	start := uint64(index-1) * 16
	if start+16 > uint64(len(h.data)) {
		return uuid.Nil, errors.BadOffset(StreamGUID, index, uint32(h.Count()))
	}
	var v uuid.UUID
	copy(v[:], h.data[start:start+16])
	h.cache.store(index, v)
	return v, nil
}

// Enumerate visits every GUID in index order until fn returns false.
func (h *GUIDHeap) Enumerate(fn func(index uint32, v uuid.UUID) bool) error {
	return enumerate(&h.cache, 1, uint32(h.Count())+1, func(idx uint32) (uuid.UUID, uint32, bool, error) {
		v, err := h.Get(idx)
		return v, idx + 1, false, err
	}, fn)
}

// UserStringsHeap reads the #US heap: compressed byte length, UTF-16LE
// characters and a trailing flag byte.
type UserStringsHeap struct {
	data  []byte
	cache heapCache[string]
}

// NewUserStringsHeap creates a reader over the heap bytes.
func NewUserStringsHeap(data []byte) *UserStringsHeap {
	return &UserStringsHeap{data: data}
}

// Len returns the heap size in bytes.
func (h *UserStringsHeap) Len() int { return len(h.data) }

// Bytes returns the raw heap bytes.
func (h *UserStringsHeap) Bytes() []byte { return h.data }

// Get returns the user string at offset.
func (h *UserStringsHeap) Get(offset uint32) (string, error) {
	v, _, err := h.get(offset)
	return v, err
}

func (h *UserStringsHeap) get(offset uint32) (string, uint32, error) {
	if offset == 0 {
		return "", 1, nil
	}
	if int(offset) >= len(h.data) {
		return "", 0, errors.BadOffset(StreamUserStrings, offset, uint32(len(h.data)))
	}
	r := binary.NewReader(h.data[offset:])
	n, err := r.ReadCompressedU32()
	if err != nil {
		return "", 0, errors.MalformedHeap(StreamUserStrings, offset, "bad length prefix")
	}
	next := offset + uint32(r.Position()) + n
	if v, ok := h.cache.lookup(offset); ok {
		return v, next, nil
	}
	if n == 0 {
		return "", next, nil
	}
	if n%2 == 0 {
		return "", 0, errors.MalformedHeap(StreamUserStrings, offset, "even byte length leaves no flag byte")
	}
	payload, err := r.ReadBytes(int(n))
	if err != nil {
		return "", 0, errors.MalformedHeap(StreamUserStrings, offset, "length exceeds heap")
	}
	units := make([]uint16, n/2)
	for i := range units {
		units[i] = uint16(payload[2*i]) | uint16(payload[2*i+1])<<8
	}
	v := string(utf16.Decode(units))
	h.cache.store(offset, v)
	return v, next, nil
}

// Enumerate visits every user string in offset order until fn returns false.
// Zero-length padding entries are skipped.
func (h *UserStringsHeap) Enumerate(fn func(offset uint32, v string) bool) error {
	return enumerate(&h.cache, 1, uint32(len(h.data)), func(off uint32) (string, uint32, bool, error) {
		v, next, err := h.get(off)
		return v, next, next == off+1, err
	}, fn)
}
