// Package table implements the tabular sample-set value shared by the ring
// engine, the aggregation operator and the wire format described for
// URL-addressed sinks and sources: an ordered column list, a dense row-major
// body and a sparse per-column info sidecar.
package table

import (
	"sort"
	"strconv"
)

// Reserved column names carrying out-of-band metadata (spec §3).
const (
	SeqCol  = "_seq"
	TimeCol = "_time"
	DurCol  = "_dur"
)

// Info sidecar tags (spec §6).
const (
	TagKey  = "key"
	TagType = "type"
	TagInfo = "info"
	TagName = "name"
	TagMax  = "max"
)

// Info tag values for TagType.
const (
	TypeString = "str"
	TypeNum    = "num"
)

// InfoKey addresses one info sidecar cell: a (tag, column) pair.
type InfoKey struct {
	Tag    string
	Column string
}

// Table is an ordered-column, row-major tabular value.
type Table struct {
	Columns []string
	Info    map[InfoKey]string
	Rows    [][]string
}

// New returns an empty table over the given columns.
func New(columns ...string) *Table {
	return &Table{
		Columns: append([]string(nil), columns...),
		Info:    make(map[InfoKey]string),
	}
}

// ColIndex returns the position of name in t.Columns, or -1.
func (t *Table) ColIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether name is one of t.Columns.
func (t *Table) HasColumn(name string) bool {
	return t.ColIndex(name) >= 0
}

// Value returns the string cell at (row, column), or "" if either is absent.
func (t *Table) Value(row int, column string) string {
	i := t.ColIndex(column)
	if i < 0 || row < 0 || row >= len(t.Rows) || i >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][i]
}

// NumericValue parses the cell at (row, column) as a float64.
func (t *Table) NumericValue(row int, column string) (float64, bool) {
	s := t.Value(row, column)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// IsKeyColumn reports whether column is marked as the primary instance key
// (info tag "key" with precedence "1", spec §3).
func (t *Table) IsKeyColumn(column string) bool {
	return t.Info[InfoKey{TagKey, column}] == "1"
}

// PrimaryKeyColumn returns the name of the column marked key=1, if any.
func (t *Table) PrimaryKeyColumn() (string, bool) {
	for _, c := range t.Columns {
		if t.IsKeyColumn(c) {
			return c, true
		}
	}
	return "", false
}

// IsStringColumn reports whether column is tagged type=str.
func (t *Table) IsStringColumn(column string) bool {
	return t.Info[InfoKey{TagType, column}] == TypeString
}

// NRows returns the number of rows.
func (t *Table) NRows() int { return len(t.Rows) }

// AddRow appends a row, truncating or padding it to len(t.Columns).
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.Columns))
	copy(row, values)
	t.Rows = append(t.Rows, row)
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Info:    make(map[InfoKey]string, len(t.Info)),
		Rows:    make([][]string, len(t.Rows)),
	}
	for k, v := range t.Info {
		out.Info[k] = v
	}
	for i, r := range t.Rows {
		out.Rows[i] = append([]string(nil), r...)
	}
	return out
}

// WithColumn returns a copy of t with an additional column appended, its
// info left untouched, and values filled in for every existing row.
func (t *Table) WithColumn(name string, values []string) *Table {
	out := t.Clone()
	out.Columns = append(out.Columns, name)
	for i := range out.Rows {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		out.Rows[i] = append(out.Rows[i], v)
	}
	return out
}

// DropColumns returns a copy of t with the named columns removed from both
// the column list and every row; their info entries are dropped too. Used
// by the ring engine to strip _seq/_time/_dur before persisting a data
// block (spec §4.2.2 step 2).
func (t *Table) DropColumns(names ...string) *Table {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := &Table{Info: make(map[InfoKey]string)}
	keep := make([]int, 0, len(t.Columns))
	for i, c := range t.Columns {
		if drop[c] {
			continue
		}
		out.Columns = append(out.Columns, c)
		keep = append(keep, i)
	}
	for k, v := range t.Info {
		if drop[k.Column] {
			continue
		}
		out.Info[k] = v
	}
	out.Rows = make([][]string, len(t.Rows))
	for ri, row := range t.Rows {
		nr := make([]string, len(keep))
		for ni, oi := range keep {
			if oi < len(row) {
				nr[ni] = row[oi]
			}
		}
		out.Rows[ri] = nr
	}
	return out
}

// SortByTimeAscending sorts rows by the numeric value of TimeCol, stably
// (rows sharing a timestamp keep their relative order). Used by
// consolidation (spec §4.2.4); the aggregation operator does not call it
// and takes its input order as given.
func (t *Table) SortByTimeAscending() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		ti, _ := t.NumericValue(i, TimeCol)
		tj, _ := t.NumericValue(j, TimeCol)
		return ti < tj
	})
}
