package tables

import (
	"fmt"
	"strconv"
)

// Table is a string table whose column set grows as files are appended.
// Rows keep the width the table had when they were added; cells beyond a
// row's width read as null. An empty cell is null.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{index: make(map[string]int)}
}

// Columns returns the column names in first-seen order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Cell returns the value at row i, column c and whether it is non-null.
func (t *Table) Cell(i, c int) (string, bool) {
	row := t.rows[i]
	if c >= len(row) || row[c] == "" {
		return "", false
	}
	return row[c], true
}

// Row returns row i padded to the current column count.
func (t *Table) Row(i int) []string {
	out := make([]string, len(t.columns))
	copy(out, t.rows[i])
	return out
}

// Append adds records read under header. Columns the table has not seen
// are appended to the column list; existing rows are left as they are.
// Records shorter than the header are null-padded.
func (t *Table) Append(header []string, records [][]string) error {
	for i, rec := range records {
		if len(rec) > len(header) {
			return fmt.Errorf("record %d has %d fields, header has %d", i+1, len(rec), len(header))
		}
	}

	pos := make([]int, len(header))
	for i, name := range dedupeHeader(header) {
		c, ok := t.index[name]
		if !ok {
			c = len(t.columns)
			t.columns = append(t.columns, name)
			t.index[name] = c
		}
		pos[i] = c
	}

	for _, rec := range records {
		row := make([]string, len(t.columns))
		for i, v := range rec {
			row[pos[i]] = v
		}
		t.rows = append(t.rows, row)
	}
	return nil
}

// dedupeHeader renames repeated names within one header to name.1, name.2,
// skipping suffixes already taken by another column of the same header.
func dedupeHeader(header []string) []string {
	taken := make(map[string]bool, len(header))
	for _, name := range header {
		taken[name] = true
	}
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, name := range header {
		n := seen[name]
		seen[name] = n + 1
		if n == 0 {
			out[i] = name
			continue
		}
		candidate := name + "." + strconv.Itoa(n)
		for taken[candidate] {
			n++
			candidate = name + "." + strconv.Itoa(n)
		}
		seen[name] = n + 1
		taken[candidate] = true
		out[i] = candidate
	}
	return out
}
