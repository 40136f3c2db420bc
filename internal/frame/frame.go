// Package frame holds the in-memory tabular representation shared by the
// transform and load stages: an ordered list of column names plus rows of
// loosely typed cells.
//
// Cell values are one of:
//
//   - string    (raw CSV fields and zero-filled values)
//   - float64   (derived ordinal codes and indices)
//   - time.Time (load timestamp attached by the loader)
//   - nil       (missing value, e.g. an unmapped category)
//
// Column order is significant: it is preserved from the source file through
// both output formats and into the destination table.
package frame

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

// Table is an ordered, column-named collection of rows.
type Table struct {
	Columns []string
	Rows    [][]any
}

// New returns an empty table with the given column names.
func New(columns []string) *Table {
	return &Table{Columns: columns}
}

// NumRows reports the number of data rows.
func (t *Table) NumRows() int { return len(t.Rows) }

// NumCols reports the number of columns.
func (t *Table) NumCols() int { return len(t.Columns) }

// ColumnIndex returns the position of the named column, or false when the
// column does not exist.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, c := range t.Columns {
		if c == name {
			return i, true
		}
	}
	return 0, false
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.ColumnIndex(name)
	return ok
}

// AddColumn appends a new column with the given per-row values. The value
// slice must match the current row count.
func (t *Table) AddColumn(name string, values []any) error {
	if len(values) != len(t.Rows) {
		return fmt.Errorf("add column %s: %d values for %d rows", name, len(values), len(t.Rows))
	}
	if t.HasColumn(name) {
		return fmt.Errorf("add column %s: column already exists", name)
	}
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], values[i])
	}
	return nil
}

// Column returns the values of the named column in row order.
func (t *Table) Column(name string) ([]any, bool) {
	i, ok := t.ColumnIndex(name)
	if !ok {
		return nil, false
	}
	out := make([]any, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out, true
}

// Dedupe removes exact-duplicate rows, keeping the first occurrence, and
// returns the number of rows removed. Row order is otherwise preserved.
//
// Rows are keyed by an xxh3 hash of their cells; hash collisions fall back
// to a full cell-by-cell comparison, so two rows are only collapsed when
// they are genuinely identical.
func (t *Table) Dedupe() int {
	if len(t.Rows) < 2 {
		return 0
	}
	seen := make(map[uint64][]int, len(t.Rows))
	kept := t.Rows[:0]
	removed := 0

	for _, row := range t.Rows {
		h := hashRow(row)
		dup := false
		for _, idx := range seen[h] {
			if rowsEqual(kept[idx], row) {
				dup = true
				break
			}
		}
		if dup {
			removed++
			continue
		}
		seen[h] = append(seen[h], len(kept))
		kept = append(kept, row)
	}
	t.Rows = kept
	return removed
}

// hashRow computes a stable hash of a row. Cells are joined with an unlikely
// separator byte so that ("a","bc") and ("ab","c") hash differently.
func hashRow(row []any) uint64 {
	var b strings.Builder
	for i, v := range row {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		switch c := v.(type) {
		case nil:
			b.WriteByte('\x00')
		case string:
			b.WriteString(c)
		default:
			b.WriteString(fmt.Sprint(c))
		}
	}
	return xxh3.HashString(b.String())
}

func rowsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CellString renders a cell for the row-oriented text output. Missing values
// become the empty string; floats drop their trailing zeros so that derived
// indices print as "2.5" or "2" rather than "2.500000".
func CellString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case time.Time:
		return c.Format(time.RFC3339)
	default:
		return fmt.Sprint(c)
	}
}
