package metadata

import (
	"fmt"
	"io"
	"math/bits"

	"go.uber.org/zap"

	"github.com/wippyai/clrmeta/errors"
	"github.com/wippyai/clrmeta/internal/binary"
)

// State is the lifecycle stage of a tables stream.
type State uint8

const (
	StateUnbuilt   State = iota // created empty
	StatePopulated              // rows added, widths unknown
	StateFinalized              // widths fixed, read-only
)

func (s State) String() string {
	switch s {
	case StateUnbuilt:
		return "unbuilt"
	case StatePopulated:
		return "populated"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Default header values of a freshly built stream.
const (
	DefaultMajorVersion = 2
	DefaultMinorVersion = 0
	DefaultLog2Rid      = 1
)

// TablesStream owns the 45 tables of a #~ stream.
type TablesStream struct {
	Reserved     uint32
	MajorVersion uint8
	MinorVersion uint8
	Reserved2    uint8
	Sorted       uint64
	ExtraData    uint32

	heaps   HeapFlags
	valid   uint64
	padding []byte
	tables  [TableCount]*Table
	sizes   IndexSizes
	state   State
}

// NewTablesStream creates an empty, unbuilt stream.
func NewTablesStream() *TablesStream {
	s := &TablesStream{
		MajorVersion: DefaultMajorVersion,
		MinorVersion: DefaultMinorVersion,
		Reserved2:    DefaultLog2Rid,
		Sorted:       SortedMask(),
	}
	for i := range s.tables {
		s.tables[i] = &Table{layout: layouts[i], stream: s}
	}
	return s
}

// State returns the current lifecycle stage.
func (s *TablesStream) State() State {
	return s.state
}

// Table returns the table of the given kind. Absent tables are empty, never nil.
func (s *TablesStream) Table(kind TableKind) *Table {
	return s.tables[kind]
}

// Resolve returns the row a token refers to. Nil or out-of-range tokens
// report false.
func (s *TablesStream) Resolve(token Token) (Row, bool) {
	if !token.Table().Valid() {
		return nil, false
	}
	return s.tables[token.Table()].Row(token.Rid())
}

// Valid returns the presence bitmap.
func (s *TablesStream) Valid() uint64 {
	if s.state == StateFinalized {
		return s.valid
	}
	return s.presence()
}

// HeapFlags returns the heap-size flags.
func (s *TablesStream) HeapFlags() HeapFlags {
	return s.heaps
}

// IndexSizes returns the column widths. Only meaningful once finalized.
func (s *TablesStream) IndexSizes() *IndexSizes {
	return &s.sizes
}

// RowCounts returns the number of rows of every table.
func (s *TablesStream) RowCounts() [TableCount]uint32 {
	var counts [TableCount]uint32
	for i, t := range s.tables {
		counts[i] = uint32(len(t.rows))
	}
	return counts
}

// ListRange returns the half-open rid range [start, end) that the list column
// of parent row rid owns in the column's target table.
func (s *TablesStream) ListRange(parent TableKind, rid uint32, column int) (start, end uint32) {
	pt := s.tables[parent]
	col := pt.layout.Columns[column]
	childLen := uint32(s.tables[col.Table].Len())

	row, ok := pt.Row(rid)
	if !ok {
		return 0, 0
	}
	start = row[column]
	if int(rid) < pt.Len() {
		end = pt.rows[rid][column]
	} else {
		end = childLen + 1
	}
	if end > childLen+1 {
		end = childLen + 1
	}
	if start > end {
		start = end
	}
	return start, end
}

func (s *TablesStream) touch() {
	if s.state == StateUnbuilt {
		s.state = StatePopulated
	}
}

func (s *TablesStream) presence() uint64 {
	var mask uint64
	for i, t := range s.tables {
		if len(t.rows) > 0 {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// Finalize fixes index widths from the current row counts and the given heap
// flags, recomputes the presence bitmap and locks the stream.
func (s *TablesStream) Finalize(heaps HeapFlags) error {
	if s.state == StateFinalized {
		return errors.MetadataLocked(errors.PhaseWrite, "tables stream")
	}
	s.heaps = heaps
	s.valid = s.presence()
	s.padding = nil
	s.sizes = NewIndexSizes(s.RowCounts(), heaps)
	s.state = StateFinalized
	Logger().Debug("tables stream finalized",
		zap.Int("tables", bits.OnesCount64(s.valid)),
		zap.Uint8("heap_flags", uint8(heaps)))
	return nil
}

// Unlock rewinds a finalized stream to populated so rows can change again.
func (s *TablesStream) Unlock() {
	if s.state == StateFinalized {
		s.state = StatePopulated
	}
}

// ParseTablesStream decodes a #~ or #- stream. The returned stream is finalized.
func ParseTablesStream(data []byte) (*TablesStream, error) {
	r := binary.NewReader(data)
	s := NewTablesStream()

	if err := s.parseHeader(r); err != nil {
		return nil, err
	}

	var counts [TableCount]uint32
	for i := 0; i < 64; i++ {
		if s.valid&(1<<uint(i)) == 0 {
			continue
		}
		if i >= TableCount {
			return nil, r.WrapError("tables stream", errors.InvalidData(errors.PhaseRead, nil,
				fmt.Sprintf("presence bit %d names no table", i)))
		}
		n, err := r.ReadU32LE()
		if err != nil {
			return nil, r.WrapError("row counts", err)
		}
		if n > MaxRid {
			return nil, r.WrapError("row counts", errors.InvalidData(errors.PhaseRead, []string{TableKind(i).String()},
				fmt.Sprintf("row count %d exceeds rid range", n)))
		}
		counts[i] = n
	}

	if s.heaps&HeapExtraData != 0 {
		v, err := r.ReadU32LE()
		if err != nil {
			return nil, r.WrapError("extra data", err)
		}
		s.ExtraData = v
	}

	s.sizes = NewIndexSizes(counts, s.heaps)
	for i := range s.tables {
		if counts[i] == 0 {
			continue
		}
		if err := s.parseRows(r, s.tables[i], counts[i]); err != nil {
			return nil, err
		}
	}

	if r.Remaining() > 0 {
		s.padding = append([]byte(nil), r.ReadRemaining()...)
	}
	s.state = StateFinalized
	return s, nil
}

func (s *TablesStream) parseHeader(r *binary.Reader) error {
	var err error
	if s.Reserved, err = r.ReadU32LE(); err != nil {
		return r.WrapError("tables header", err)
	}
	hdr, err := r.ReadBytes(4)
	if err != nil {
		return r.WrapError("tables header", err)
	}
	s.MajorVersion = hdr[0]
	s.MinorVersion = hdr[1]
	s.heaps = HeapFlags(hdr[2])
	s.Reserved2 = hdr[3]
	if s.valid, err = r.ReadU64LE(); err != nil {
		return r.WrapError("tables header", err)
	}
	if s.Sorted, err = r.ReadU64LE(); err != nil {
		return r.WrapError("tables header", err)
	}
	return nil
}

func (s *TablesStream) parseRows(r *binary.Reader, t *Table, count uint32) error {
	cols := t.layout.Columns
	widths := make([]int, len(cols))
	rowSize := 0
	for i, c := range cols {
		widths[i] = s.sizes.ColumnSize(c)
		rowSize += widths[i]
	}
	if uint64(r.Remaining()) < uint64(rowSize)*uint64(count) {
		return r.WrapError(t.Kind().String()+" table", errors.InvalidData(errors.PhaseRead, nil,
			fmt.Sprintf("%d rows of %d bytes exceed the %d remaining bytes", count, rowSize, r.Remaining())))
	}

	t.rows = make([]Row, count)
	values := make([]uint32, int(count)*len(cols))
	for n := range t.rows {
		row := Row(values[n*len(cols) : (n+1)*len(cols) : (n+1)*len(cols)])
		for i, w := range widths {
			v, err := r.ReadIndex(w)
			if err != nil {
				return r.WrapError(t.Kind().String()+" table", err)
			}
			row[i] = v
		}
		t.rows[n] = row
	}
	return nil
}

// Encode writes the stream. The stream must be finalized. Values that do not
// fit their column width fail with an overflow error.
func (s *TablesStream) Encode(w io.Writer) error {
	if s.state != StateFinalized {
		return errors.InvalidInput(errors.PhaseWrite, "tables stream must be finalized before encoding")
	}

	bw := binary.NewWriter()
	bw.WriteU32LE(s.Reserved)
	bw.Byte(s.MajorVersion)
	bw.Byte(s.MinorVersion)
	bw.Byte(uint8(s.heaps))
	bw.Byte(s.Reserved2)
	bw.WriteU64LE(s.valid)
	bw.WriteU64LE(s.Sorted)

	for i, t := range s.tables {
		if s.valid&(1<<uint(i)) != 0 {
			bw.WriteU32LE(uint32(len(t.rows)))
		}
	}
	if s.heaps&HeapExtraData != 0 {
		bw.WriteU32LE(s.ExtraData)
	}

	for _, t := range s.tables {
		if len(t.rows) == 0 {
			continue
		}
		if err := s.encodeRows(bw, t); err != nil {
			return err
		}
	}

	bw.WriteBytes(s.padding)
	bw.Align(4)
	_, err := w.Write(bw.Bytes())
	return err
}

func (s *TablesStream) encodeRows(w *binary.Writer, t *Table) error {
	cols := t.layout.Columns
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = s.sizes.ColumnSize(c)
	}
	for n, row := range t.rows {
		for i, v := range row {
			if err := w.WriteIndex(v, widths[i]); err != nil {
				path := []string{t.Kind().String(), cols[i].Name, fmt.Sprint(n + 1)}
				return errors.Overflow(errors.PhaseWrite, path, v, widths[i])
			}
		}
	}
	return nil
}
