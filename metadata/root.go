package metadata

import (
	"bytes"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/internal/binary"
)

// Signature is the magic number of a metadata root ("BSJB").
const Signature = 0x424A5342

// DefaultVersion is the runtime version string of newly built metadata.
const DefaultVersion = "v4.0.30319"

const maxStreamName = 32

// CustomStream is a stream with an unrecognized name, kept verbatim.
type CustomStream struct {
	Name string
	Data []byte
}

// StreamHeader locates one stream relative to the metadata root.
type StreamHeader struct {
	Offset uint32
	Size   uint32
	Name   string
}

// Metadata is a parsed or built metadata root with its streams.
type Metadata struct {
	MajorVersion uint16
	MinorVersion uint16
	Reserved     uint32
	Version      string
	Flags        uint16

	Tables      *TablesStream
	TablesName  string
	Strings     *StringsHeap
	Blob        *BlobHeap
	GUID        *GUIDHeap
	UserStrings *UserStringsHeap
	Custom      []*CustomStream

	// Headers lists the stream headers in file order as parsed.
	Headers []StreamHeader
}

// New creates an empty metadata root with the default version.
func New() *Metadata {
	return &Metadata{
		MajorVersion: 1,
		MinorVersion: 1,
		Version:      DefaultVersion,
		Tables:       NewTablesStream(),
		TablesName:   StreamTables,
		Strings:      NewStringsHeap(nil),
		Blob:         NewBlobHeap(nil),
		GUID:         NewGUIDHeap(nil),
		UserStrings:  NewUserStringsHeap(nil),
	}
}

// Parse reads the metadata root located by src.
func Parse(src Source) (*Metadata, error) {
	data := src.Bytes()
	off := src.MetadataOffset()
	if int(off) >= len(data) {
		return nil, errors.InvalidInput(errors.PhaseParse, fmt.Sprintf("metadata offset 0x%X outside image", off))
	}
	return ParseBytes(data[off:])
}

// ParseBytes reads a metadata root starting at data[0].
func ParseBytes(data []byte) (*Metadata, error) {
	r := binary.NewReader(data)
	m := New()
	m.Tables = nil

	sig, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("metadata root", err)
	}
	if sig != Signature {
		return nil, r.WrapError("metadata root", errors.InvalidData(errors.PhaseParse, nil,
			fmt.Sprintf("bad signature 0x%08X", sig)))
	}

	if err := m.parseHeader(r); err != nil {
		return nil, err
	}

	count, err := r.ReadU16LE()
	if err != nil {
		return nil, r.WrapError("metadata root", err)
	}
	m.Headers = make([]StreamHeader, 0, count)
	for i := 0; i < int(count); i++ {
		h, err := parseStreamHeader(r)
		if err != nil {
			return nil, err
		}
		m.Headers = append(m.Headers, h)
	}

	seen := make(map[string]bool)
	for _, h := range m.Headers {
		sr, err := r.Fork(int(h.Offset), int(h.Size))
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", h.Name, errors.InvalidData(errors.PhaseParse, nil,
				fmt.Sprintf("header [0x%X,+0x%X) outside metadata", h.Offset, h.Size)))
		}
		if err := m.attach(h.Name, sr.ReadRemaining(), !seen[h.Name]); err != nil {
			return nil, err
		}
		seen[h.Name] = true
	}

	if m.Tables == nil {
		return nil, errors.InvalidData(errors.PhaseParse, nil, "no tables stream")
	}
	return m, nil
}

func (m *Metadata) parseHeader(r *binary.Reader) error {
	var err error
	if m.MajorVersion, err = r.ReadU16LE(); err != nil {
		return r.WrapError("metadata root", err)
	}
	if m.MinorVersion, err = r.ReadU16LE(); err != nil {
		return r.WrapError("metadata root", err)
	}
	if m.Reserved, err = r.ReadU32LE(); err != nil {
		return r.WrapError("metadata root", err)
	}
	n, err := r.ReadU32LE()
	if err != nil {
		return r.WrapError("metadata root", err)
	}
	raw, err := r.ReadBytes(int(n))
	if err != nil {
		return r.WrapError("version string", err)
	}
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	m.Version = string(raw)
	if m.Flags, err = r.ReadU16LE(); err != nil {
		return r.WrapError("metadata root", err)
	}
	return nil
}

func parseStreamHeader(r *binary.Reader) (StreamHeader, error) {
	var h StreamHeader
	var err error
	if h.Offset, err = r.ReadU32LE(); err != nil {
		return h, r.WrapError("stream header", err)
	}
	if h.Size, err = r.ReadU32LE(); err != nil {
		return h, r.WrapError("stream header", err)
	}
	name, err := r.ReadCString(maxStreamName)
	if err != nil {
		return h, r.WrapError("stream header", err)
	}
	h.Name = string(name)
	if err := r.Align(4); err != nil {
		return h, r.WrapError("stream header", err)
	}
	return h, nil
}

func (m *Metadata) attach(name string, data []byte, first bool) error {
	switch {
	case !first:
		Logger().Debug("keeping duplicate stream verbatim", zap.String("name", name))
		m.Custom = append(m.Custom, &CustomStream{Name: name, Data: data})
	case (name == StreamTables || name == StreamTablesUncompressed) && m.Tables == nil:
		t, err := ParseTablesStream(data)
		if err != nil {
			return fmt.Errorf("tables stream: %w", err)
		}
		m.Tables = t
		m.TablesName = name
		return nil
	case name == StreamStrings:
		m.Strings = NewStringsHeap(data)
	case name == StreamBlob:
		m.Blob = NewBlobHeap(data)
	case name == StreamGUID:
		m.GUID = NewGUIDHeap(data)
	case name == StreamUserStrings:
		m.UserStrings = NewUserStringsHeap(data)
	default:
		Logger().Debug("keeping unknown stream verbatim", zap.String("name", name), zap.Int("size", len(data)))
		m.Custom = append(m.Custom, &CustomStream{Name: name, Data: data})
	}
	return nil
}

// streamOrder returns stream names in the order they are written.
func (m *Metadata) streamOrder() []string {
	if len(m.Headers) > 0 {
		names := make([]string, len(m.Headers))
		for i, h := range m.Headers {
			names[i] = h.Name
		}
		return names
	}

	names := []string{m.tablesName()}
	if m.Strings.Len() > 0 {
		names = append(names, StreamStrings)
	}
	if m.UserStrings.Len() > 0 {
		names = append(names, StreamUserStrings)
	}
	if m.GUID.Len() > 0 {
		names = append(names, StreamGUID)
	}
	if m.Blob.Len() > 0 {
		names = append(names, StreamBlob)
	}
	for _, c := range m.Custom {
		names = append(names, c.Name)
	}
	return names
}

func (m *Metadata) tablesName() string {
	if m.TablesName == "" {
		return StreamTables
	}
	return m.TablesName
}

// streamData returns the contents of each named stream. Duplicate names
// resolve to the typed stream first and then to custom streams in order.
func (m *Metadata) streamData(names []string) ([][]byte, error) {
	used := make(map[string]bool)
	custom := 0
	out := make([][]byte, len(names))
	for i, name := range names {
		typed := !used[name]
		used[name] = true
		switch {
		case typed && name == m.tablesName():
			if m.Tables.State() != StateFinalized {
				flags := HeapFlagsFor(m.Strings.Len(), m.GUID.Len(), m.Blob.Len()) | m.Tables.HeapFlags()&HeapExtraData
				if err := m.Tables.Finalize(flags); err != nil {
					return nil, err
				}
			}
			var buf bytes.Buffer
			if err := m.Tables.Encode(&buf); err != nil {
				return nil, fmt.Errorf("tables stream: %w", err)
			}
			out[i] = buf.Bytes()
		case typed && name == StreamStrings:
			out[i] = m.Strings.Bytes()
		case typed && name == StreamBlob:
			out[i] = m.Blob.Bytes()
		case typed && name == StreamGUID:
			out[i] = m.GUID.Bytes()
		case typed && name == StreamUserStrings:
			out[i] = m.UserStrings.Bytes()
		default:
			for custom < len(m.Custom) && m.Custom[custom].Name != name {
				custom++
			}
			if custom == len(m.Custom) {
				return nil, errors.NotFound(errors.PhaseWrite, "stream", name)
			}
			out[i] = m.Custom[custom].Data
			custom++
		}
	}
	return out, nil
}

// Encode writes the metadata root and its streams to w. Stream offsets are
// recomputed; streams are laid out contiguously in header order and padded
// to 4 bytes. A populated tables stream is finalized first.
func (m *Metadata) Encode(w io.Writer) error {
	names := m.streamOrder()
	data, err := m.streamData(names)
	if err != nil {
		return err
	}

	version := []byte(m.Version)
	versionLen := (len(version) + 1 + 3) &^ 3

	headerSize := 16 + versionLen + 4
	for _, name := range names {
		headerSize += 8 + (len(name)+1+3)&^3
	}

	bw := binary.NewWriter()
	bw.WriteU32LE(Signature)
	bw.WriteU16LE(m.MajorVersion)
	bw.WriteU16LE(m.MinorVersion)
	bw.WriteU32LE(m.Reserved)
	bw.WriteU32LE(uint32(versionLen))
	bw.WriteBytes(version)
	bw.Byte(0)
	bw.Align(4)
	bw.WriteU16LE(m.Flags)
	bw.WriteU16LE(uint16(len(names)))

	offset := uint32(headerSize)
	for i, name := range names {
		size := uint32(len(data[i])+3) &^ 3
		bw.WriteU32LE(offset)
		bw.WriteU32LE(size)
		bw.WriteBytes([]byte(name))
		bw.Byte(0)
		bw.Align(4)
		offset += size
	}

	for _, d := range data {
		bw.WriteBytes(d)
		bw.Align(4)
	}

	_, err = w.Write(bw.Bytes())
	return err
}

// Bytes encodes the metadata root into a new slice.
func (m *Metadata) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
