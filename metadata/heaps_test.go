package metadata

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"

	clrerrors "github.com/wippyai/clrmeta/errors"
)

func TestStringsHeapGet(t *testing.T) {
	h := NewStringsHeap([]byte("\x00Object\x00System\x00\x00"))

	tests := []struct {
		offset uint32
		want   string
	}{
		{0, ""},
		{1, "Object"},
		{8, "System"},
		{4, "ect"}, // suffix sharing
		{15, ""},
	}
	for _, tt := range tests {
		got, err := h.Get(tt.offset)
		if err != nil {
			t.Errorf("Get(%d): %v", tt.offset, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Get(%d): got %q, want %q", tt.offset, got, tt.want)
		}
	}
}

func TestStringsHeapErrors(t *testing.T) {
	h := NewStringsHeap([]byte("\x00abc"))

	if _, err := h.Get(1); !errors.Is(err, clrerrors.ErrMalformedHeap) {
		t.Errorf("unterminated: got %v, want ErrMalformedHeap", err)
	}
	if _, err := h.Get(3); !errors.Is(err, clrerrors.ErrMalformedHeap) {
		t.Errorf("last byte unterminated: got %v, want ErrMalformedHeap", err)
	}
	if _, err := h.Get(5); !errors.Is(err, clrerrors.ErrBadOffset) {
		t.Errorf("past end: got %v, want ErrBadOffset", err)
	}
}

func TestOffsetZeroOnEmptyHeaps(t *testing.T) {
	if v, err := NewStringsHeap(nil).Get(0); err != nil || v != "" {
		t.Errorf("strings: got %q, %v", v, err)
	}
	if v, err := NewBlobHeap(nil).Get(0); err != nil || len(v) != 0 {
		t.Errorf("blob: got %v, %v", v, err)
	}
	if v, err := NewGUIDHeap(nil).Get(0); err != nil || v != uuid.Nil {
		t.Errorf("guid: got %v, %v", v, err)
	}
	if v, err := NewUserStringsHeap(nil).Get(0); err != nil || v != "" {
		t.Errorf("user strings: got %q, %v", v, err)
	}

	// Offset 0 never touches storage, even when the first byte is garbage.
	if v, err := NewStringsHeap([]byte("X")).Get(0); err != nil || v != "" {
		t.Errorf("garbage strings heap: got %q, %v", v, err)
	}
}

func TestStringsHeapEnumerate(t *testing.T) {
	h := NewStringsHeap([]byte("\x00a\x00bc\x00\x00\x00"))

	collect := func() ([]uint32, []string) {
		var offs []uint32
		var vals []string
		if err := h.Enumerate(func(off uint32, v string) bool {
			offs = append(offs, off)
			vals = append(vals, v)
			return true
		}); err != nil {
			t.Fatalf("Enumerate: %v", err)
		}
		return offs, vals
	}

	offs, vals := collect()
	if len(vals) != 2 || vals[0] != "a" || vals[1] != "bc" || offs[0] != 1 || offs[1] != 3 {
		t.Fatalf("first pass: got %v at %v", vals, offs)
	}
	if !h.cache.full {
		t.Error("heap should be fully cached after a complete pass")
	}

	offs2, vals2 := collect()
	if len(vals2) != 2 || vals2[1] != "bc" || offs2[1] != 3 {
		t.Errorf("cached pass: got %v at %v", vals2, offs2)
	}

	// Stopping early does not mark the heap as fully cached.
	h2 := NewStringsHeap([]byte("\x00a\x00b\x00"))
	_ = h2.Enumerate(func(uint32, string) bool { return false })
	if h2.cache.full {
		t.Error("partial pass should not mark the heap as fully cached")
	}
}

func TestBlobHeap(t *testing.T) {
	data := []byte{0x00, 0x03, 0x01, 0x02, 0x03, 0x00, 0x01, 0xFF}
	h := NewBlobHeap(data)

	got, err := h.Get(1)
	if err != nil || !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("Get(1): got %v, %v", got, err)
	}
	got, err = h.Get(5)
	if err != nil || len(got) != 0 {
		t.Errorf("Get(5) empty blob: got %v, %v", got, err)
	}

	var offs []uint32
	if err := h.Enumerate(func(off uint32, v []byte) bool {
		offs = append(offs, off)
		return true
	}); err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(offs) != 2 || offs[0] != 1 || offs[1] != 6 {
		t.Errorf("Enumerate offsets: got %v, want [1 6]", offs)
	}

	if _, err := h.Get(8); !errors.Is(err, clrerrors.ErrBadOffset) {
		t.Errorf("past end: got %v, want ErrBadOffset", err)
	}

	truncated := NewBlobHeap([]byte{0x00, 0x05, 0x01})
	if _, err := truncated.Get(1); !errors.Is(err, clrerrors.ErrMalformedHeap) {
		t.Errorf("truncated: got %v, want ErrMalformedHeap", err)
	}
	badPrefix := NewBlobHeap([]byte{0x00, 0xFF})
	if _, err := badPrefix.Get(1); !errors.Is(err, clrerrors.ErrMalformedHeap) {
		t.Errorf("bad prefix: got %v, want ErrMalformedHeap", err)
	}
}

func TestGUIDHeap(t *testing.T) {
	g1 := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	g2 := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	h := NewGUIDHeap(append(append([]byte(nil), g1[:]...), g2[:]...))

	if h.Count() != 2 {
		t.Errorf("Count: got %d, want 2", h.Count())
	}
	if got, err := h.Get(1); err != nil || got != g1 {
		t.Errorf("Get(1): got %v, %v", got, err)
	}
	if got, err := h.Get(2); err != nil || got != g2 {
		t.Errorf("Get(2): got %v, %v", got, err)
	}
	if _, err := h.Get(3); !errors.Is(err, clrerrors.ErrBadOffset) {
		t.Errorf("Get(3): got %v, want ErrBadOffset", err)
	}

	var seen []uuid.UUID
	_ = h.Enumerate(func(_ uint32, g uuid.UUID) bool {
		seen = append(seen, g)
		return true
	})
	if len(seen) != 2 || seen[0] != g1 || seen[1] != g2 {
		t.Errorf("Enumerate: got %v", seen)
	}
}

func TestUserStringsHeap(t *testing.T) {
	// "Hi" -> 2 UTF-16 units + flag byte = 5 bytes.
	data := []byte{0x00, 0x05, 'H', 0x00, 'i', 0x00, 0x00, 0x01, 0x00}
	h := NewUserStringsHeap(data)

	got, err := h.Get(1)
	if err != nil || got != "Hi" {
		t.Errorf("Get(1): got %q, %v", got, err)
	}
	got, err = h.Get(7)
	if err != nil || got != "" {
		t.Errorf("Get(7) empty entry: got %q, %v", got, err)
	}

	var offs []uint32
	_ = h.Enumerate(func(off uint32, _ string) bool {
		offs = append(offs, off)
		return true
	})
	if len(offs) != 2 || offs[0] != 1 || offs[1] != 7 {
		t.Errorf("Enumerate offsets: got %v, want [1 7]", offs)
	}

	even := NewUserStringsHeap([]byte{0x00, 0x02, 'A', 0x00})
	if _, err := even.Get(1); !errors.Is(err, clrerrors.ErrMalformedHeap) {
		t.Errorf("even length: got %v, want ErrMalformedHeap", err)
	}
	short := NewUserStringsHeap([]byte{0x00, 0x07, 'A', 0x00})
	if _, err := short.Get(1); !errors.Is(err, clrerrors.ErrMalformedHeap) {
		t.Errorf("truncated: got %v, want ErrMalformedHeap", err)
	}
}

func TestUserStringsHeapSurrogates(t *testing.T) {
	b := NewUserStringsBuffer()
	off, err := b.Intern("😀")
	if err != nil {
		t.Fatal(err)
	}
	got, err := NewUserStringsHeap(b.Bytes()).Get(off)
	if err != nil || got != "😀" {
		t.Errorf("surrogate pair: got %q, %v", got, err)
	}
}
