package metadata

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"

	clrerrors "github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/internal/binary"
)

// buildRoot assembles a small metadata root through the heap buffers.
func buildRoot(t *testing.T) *Metadata {
	t.Helper()
	strs := NewStringsBuffer()
	blobs := NewBlobBuffer()
	guids := NewGUIDBuffer()
	us := NewUserStringsBuffer()

	name, _ := strs.Intern("demo.dll")
	mvid, _ := guids.Intern(uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e"))
	typeName, _ := strs.Intern("Program")
	sig, _ := blobs.Intern([]byte{0x00, 0x00, 0x01})
	_, _ = us.Intern("hello")

	m := New()
	_, _ = m.Tables.Table(TableModule).Add(Row{0, name, mvid, 0, 0})
	_, _ = m.Tables.Table(TableTypeDef).Add(Row{0, typeName, 0, 0, 1, 1})
	_, _ = m.Tables.Table(TableMethod).Add(Row{0, 0, 0, typeName, sig, 1})

	m.Strings = NewStringsHeap(strs.Bytes())
	m.Blob = NewBlobHeap(blobs.Bytes())
	m.GUID = NewGUIDHeap(guids.Bytes())
	m.UserStrings = NewUserStringsHeap(us.Bytes())
	return m
}

func TestMetadataEncodeParse(t *testing.T) {
	m := buildRoot(t)
	data, err := m.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	parsed, err := ParseBytes(data)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if parsed.Version != DefaultVersion {
		t.Errorf("Version: got %q", parsed.Version)
	}
	if len(parsed.Headers) != 5 {
		t.Fatalf("streams: got %d, want 5", len(parsed.Headers))
	}
	wantOrder := []string{StreamTables, StreamStrings, StreamUserStrings, StreamGUID, StreamBlob}
	for i, h := range parsed.Headers {
		if h.Name != wantOrder[i] {
			t.Errorf("stream %d: got %q, want %q", i, h.Name, wantOrder[i])
		}
		if h.Offset%4 != 0 || h.Size%4 != 0 {
			t.Errorf("stream %s not aligned: offset %d size %d", h.Name, h.Offset, h.Size)
		}
	}

	row, ok := parsed.Tables.Resolve(NewToken(TableModule, 1))
	if !ok {
		t.Fatal("module row missing")
	}
	if name, _ := parsed.Strings.Get(row[1]); name != "demo.dll" {
		t.Errorf("module name: got %q", name)
	}
	if g, _ := parsed.GUID.Get(row[2]); g.String() != "0f8fad5b-d9cb-469f-a165-70867728950e" {
		t.Errorf("mvid: got %v", g)
	}
	if s, _ := parsed.UserStrings.Get(1); s != "hello" {
		t.Errorf("user string: got %q", s)
	}

	again, err := parsed.Bytes()
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(again, data) {
		t.Error("parse then encode changed the bytes")
	}
}

func TestMetadataUnknownStream(t *testing.T) {
	m := buildRoot(t)
	m.Custom = append(m.Custom, &CustomStream{Name: "#Pdb", Data: []byte{1, 2, 3, 4}})
	data, err := m.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseBytes(data)
	if err != nil {
		t.Fatalf("unknown stream should not fail the parse: %v", err)
	}
	if len(parsed.Custom) != 1 || parsed.Custom[0].Name != "#Pdb" {
		t.Fatalf("custom streams: got %v", parsed.Custom)
	}
	if !bytes.Equal(parsed.Custom[0].Data, []byte{1, 2, 3, 4}) {
		t.Errorf("custom data: got %v", parsed.Custom[0].Data)
	}

	again, err := parsed.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, data) {
		t.Error("custom stream did not survive re-encoding")
	}
}

func TestParseBytesErrors(t *testing.T) {
	if _, err := ParseBytes([]byte("MZ\x90\x00")); !errors.Is(err, clrerrors.ErrInvalidData) {
		t.Errorf("bad signature: got %v, want ErrInvalidData", err)
	}

	w := binary.NewWriter()
	w.WriteU32LE(Signature)
	w.WriteU16LE(1)
	w.WriteU16LE(1)
	w.WriteU32LE(0)
	w.WriteU32LE(4)
	w.WriteBytes([]byte("v1\x00\x00"))
	w.WriteU16LE(0)
	w.WriteU16LE(1)
	w.WriteU32LE(0x1000) // past the end
	w.WriteU32LE(0x10)
	w.WriteBytes([]byte("#~\x00\x00"))
	if _, err := ParseBytes(w.Bytes()); !errors.Is(err, clrerrors.ErrInvalidData) {
		t.Errorf("stream outside root: got %v, want ErrInvalidData", err)
	}
}

func TestParseCorruptTablesStreamIsFatal(t *testing.T) {
	m := buildRoot(t)
	data, err := m.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	parsed, _ := ParseBytes(data)
	h := parsed.Headers[0]
	// Set presence bit 63 in the tables header.
	data[h.Offset+15] |= 0x80
	if _, err := ParseBytes(data); err == nil {
		t.Error("corrupt tables header should abort the load")
	}
}

func TestParseFromSource(t *testing.T) {
	m := buildRoot(t)
	root, err := m.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	image := append(make([]byte, 0x200), root...)

	off, ok := ScanRoot(image)
	if !ok || off != 0x200 {
		t.Fatalf("ScanRoot: got 0x%X, %v", off, ok)
	}
	if off, ok := ScanRoot(append(make([]byte, 0x201), root...)); ok {
		t.Errorf("unaligned root: got 0x%X, want not found", off)
	}

	src := &ImageSource{Data: image, Root: off}
	parsed, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Tables.Table(TableMethod).Len() != 1 {
		t.Errorf("methods: got %d", parsed.Tables.Table(TableMethod).Len())
	}
}

func TestImageSourceRVA(t *testing.T) {
	src := &ImageSource{
		Data: make([]byte, 0x600),
		Sections: []Section{
			{VirtualAddress: 0x2000, VirtualSize: 0x300, PointerToRawData: 0x200, SizeOfRawData: 0x400},
		},
	}
	tests := []struct {
		rva  uint32
		off  uint32
		want bool
	}{
		{0x2000, 0x200, true},
		{0x2010, 0x210, true},
		{0x23FF, 0x5FF, true},
		{0x1000, 0, false},
		{0x2400, 0, false},
	}
	for _, tt := range tests {
		off, ok := src.RVAToOffset(tt.rva)
		if ok != tt.want || (ok && off != tt.off) {
			t.Errorf("RVAToOffset(0x%X): got 0x%X, %v, want 0x%X, %v", tt.rva, off, ok, tt.off, tt.want)
		}
	}

	if _, ok := ReadRVA(src, 0x23F0, 0x20); ok {
		t.Error("read crossing the image end should fail")
	}
	if b, ok := ReadRVA(src, 0x2000, 4); !ok || len(b) != 4 {
		t.Errorf("ReadRVA: got %v, %v", b, ok)
	}
}
