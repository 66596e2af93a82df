package metadata

import (
	"fmt"
	"sort"

	"github.com/wippyai/clrmeta/errors"
)

// Row holds the decoded column values of one table row: heap offsets,
// rids, raw coded indices and constants, in layout order.
type Row []uint32

// Table is an ordered sequence of rows of one table kind.
type Table struct {
	layout *TableLayout
	rows   []Row
	stream *TablesStream
}

// Kind returns the table kind.
func (t *Table) Kind() TableKind {
	return t.layout.Kind
}

// Layout returns the row shape.
func (t *Table) Layout() *TableLayout {
	return t.layout
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns the row with the given 1-based rid.
func (t *Table) Row(rid uint32) (Row, bool) {
	if rid == 0 || int(rid) > len(t.rows) {
		return nil, false
	}
	return t.rows[rid-1], true
}

// Rows returns all rows in rid order. The slice must not be modified.
func (t *Table) Rows() []Row {
	return t.rows
}

// Column returns a single named column of the row with the given rid.
func (t *Table) Column(rid uint32, name string) (uint32, bool) {
	row, ok := t.Row(rid)
	if !ok {
		return 0, false
	}
	i := t.layout.ColumnIndex(name)
	if i < 0 {
		return 0, false
	}
	return row[i], true
}

// Add appends a row and returns its token.
func (t *Table) Add(row Row) (Token, error) {
	if err := t.checkMutable(); err != nil {
		return 0, err
	}
	if err := t.checkShape(row); err != nil {
		return 0, err
	}
	if len(t.rows) >= MaxRid {
		return 0, errors.Overflow(errors.PhaseWrite, []string{t.Kind().String()}, len(t.rows)+1, 3)
	}
	t.rows = append(t.rows, row)
	t.stream.touch()
	return NewToken(t.Kind(), uint32(len(t.rows))), nil
}

// Set replaces the row with the given rid.
func (t *Table) Set(rid uint32, row Row) error {
	if err := t.checkMutable(); err != nil {
		return err
	}
	if err := t.checkShape(row); err != nil {
		return err
	}
	if rid == 0 || int(rid) > len(t.rows) {
		return errors.InvalidInput(errors.PhaseWrite, fmt.Sprintf("%s rid %d out of range", t.Kind(), rid))
	}
	t.rows[rid-1] = row
	return nil
}

// Clear removes every row.
func (t *Table) Clear() error {
	if err := t.checkMutable(); err != nil {
		return err
	}
	t.rows = nil
	return nil
}

func (t *Table) checkMutable() error {
	if t.stream.state == StateFinalized {
		return errors.MetadataLocked(errors.PhaseWrite, t.Kind().String()+" table")
	}
	return nil
}

func (t *Table) checkShape(row Row) error {
	if len(row) != len(t.layout.Columns) {
		return errors.InvalidInput(errors.PhaseWrite,
			fmt.Sprintf("%s row has %d columns, want %d", t.Kind(), len(row), len(t.layout.Columns)))
	}
	return nil
}

// FindByKey binary searches a sorted table for a row whose column equals key
// and returns the rid of the first match.
func (t *Table) FindByKey(column int, key uint32) (uint32, bool) {
	start, end := t.FindRange(column, key)
	if start == end {
		return 0, false
	}
	return start, true
}

// FindRange returns the half-open rid range of rows whose column equals key.
// Rows must be ordered by column.
func (t *Table) FindRange(column int, key uint32) (start, end uint32) {
	lo := sort.Search(len(t.rows), func(i int) bool { return t.rows[i][column] >= key })
	hi := sort.Search(len(t.rows), func(i int) bool { return t.rows[i][column] > key })
	return uint32(lo) + 1, uint32(hi) + 1
}
