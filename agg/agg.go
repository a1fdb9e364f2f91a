// Package agg implements the aggregation operator (spec §4.3): it reduces
// a multi-sample table, grouped by the column marked as the primary
// instance key, into one row per group using one of eight arithmetic
// functions. It is the principal reader of the ring engine's output and
// the sample-catchup session's (package catchup) collapsing step.
package agg

import (
	"fmt"
	"strconv"

	"github.com/SystemGarden/habitat-sub003/store"
	"github.com/SystemGarden/habitat-sub003/table"
)

// Func is an aggregation function tag (spec §4.3).
type Func string

const (
	AVG   Func = "AVG"
	MIN   Func = "MIN"
	MAX   Func = "MAX"
	SUM   Func = "SUM"
	FIRST Func = "FIRST"
	LAST  Func = "LAST"
	DIFF  Func = "DIFF"
	RATE  Func = "RATE"
)

// Apply reduces in to one row per primary-key group using fn (spec §4.3).
// It reports Invalid if in is empty or has no _time column, matching the
// operator's documented propagation policy (spec §7: "the aggregation
// operator reports Invalid to its caller rather than producing a
// malformed table").
func Apply(fn Func, in *table.Table) (*table.Table, error) {
	if in.NRows() == 0 {
		return nil, store.New(store.KindInvalid, "agg.Apply", fmt.Errorf("empty input"))
	}
	if !in.HasColumn(table.TimeCol) {
		return nil, store.New(store.KindInvalid, "agg.Apply", fmt.Errorf("input has no %s column", table.TimeCol))
	}

	groups, order := groupRows(in)

	// The result always carries _seq (spec §4.3: "same schema plus
	// _seq=0"), even when the input being aggregated does not itself
	// carry it — e.g. a table read with include_meta=false.
	outColumns := in.Columns
	if !in.HasColumn(table.SeqCol) {
		outColumns = append(append([]string(nil), in.Columns...), table.SeqCol)
	}

	// The time span is determined once over the whole input (spec §4.3
	// step 1), not per group: every key-group's RATE/DIFF divisor for this
	// tick reuses the same span, matching
	// original_source/src/iiab/cascade.c's table_first/table_last computing
	// tdiff once and every group's rate reusing it.
	span := timeSpan(in)

	out := &table.Table{Columns: outColumns, Info: in.Info}
	for _, key := range order {
		row, err := reduceGroup(fn, in, outColumns, groups[key], span)
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// timeSpan is the RATE/DIFF divisor for this tick, computed once across
// the whole input table rather than per group (spec §4.3 step 1). The
// input is assumed to arrive in time-ascending order, so the first and
// last rows bound the span; callers that cannot guarantee this should
// call table.SortByTimeAscending first.
func timeSpan(in *table.Table) float64 {
	tFirst, _ := in.NumericValue(0, table.TimeCol)
	tLast, _ := in.NumericValue(in.NRows()-1, table.TimeCol)
	dur, _ := in.NumericValue(0, table.DurCol)
	return tLast - tFirst + dur
}

// groupRows partitions row indices by the primary-key column's value, in
// first-occurrence order; if there is no primary-key column the whole
// input is a single group (spec §4.3 step 2).
func groupRows(in *table.Table) (map[string][]int, []string) {
	keyCol, hasKey := in.PrimaryKeyColumn()
	groups := make(map[string][]int)
	var order []string
	for r := 0; r < in.NRows(); r++ {
		k := ""
		if hasKey {
			k = in.Value(r, keyCol)
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}
	return groups, order
}

// reduceGroup emits one output row for the rows at indices (spec §4.3
// step 3-4), using span as the RATE/DIFF divisor determined once for the
// whole input by Apply. The rows within a group are assumed to arrive in
// the original table's order, i.e. time-ascending; callers that cannot
// guarantee this should call table.SortByTimeAscending first.
func reduceGroup(fn Func, in *table.Table, outColumns []string, indices []int, span float64) ([]string, error) {
	last := indices[len(indices)-1]

	row := make([]string, len(outColumns))
	for ci, col := range outColumns {
		switch {
		case col == table.SeqCol:
			row[ci] = "0"
		case col == table.TimeCol || col == table.DurCol:
			row[ci] = in.Value(last, col)
		case !in.HasColumn(col):
			// padding for a column added only to the output schema.
			row[ci] = ""
		case in.IsStringColumn(col):
			row[ci] = in.Value(last, col)
		default:
			v, err := reduceNumeric(fn, in, col, indices, span)
			if err != nil {
				return nil, err
			}
			row[ci] = formatFloat(v)
		}
	}
	return row, nil
}

// reduceNumeric applies fn to column col across indices (spec §4.3 step
// 4's numeric-column case).
func reduceNumeric(fn Func, in *table.Table, col string, indices []int, span float64) (float64, error) {
	values := make([]float64, len(indices))
	for i, r := range indices {
		v, _ := in.NumericValue(r, col)
		values[i] = v
	}
	first, last := values[0], values[len(values)-1]

	switch fn {
	case AVG:
		return sumOf(values) / float64(len(values)), nil
	case SUM:
		return sumOf(values), nil
	case MIN:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	case MAX:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	case FIRST:
		return first, nil
	case LAST:
		return last, nil
	case DIFF:
		return last - first, nil
	case RATE:
		// span <= 0 yields 0 rather than NaN/Inf: this is the Open Question
		// resolution recorded in SPEC_FULL.md (a rate over a zero-or-negative
		// span is defined as "no change observed", not an error or sentinel
		// float that a downstream consumer would have to special-case).
		if span <= 0 {
			return 0, nil
		}
		return (last - first) / span, nil
	default:
		return 0, store.New(store.KindInvalid, "agg.reduceNumeric", fmt.Errorf("unknown function %q", fn))
	}
}

func sumOf(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
