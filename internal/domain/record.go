// Package domain holds the pipeline's core model: records, record sets,
// operation specs, error taxonomy, and the ports the stages plug into.
package domain

import (
	"fmt"
	"strconv"
)

// Record is one row keyed by column name. Values are string, int64,
// float64, bool, or nil (null).
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RecordSet is an ordered batch of records with a declared column order.
// Columns define the output order for writers; records may carry extra
// keys, which writers ignore.
type RecordSet struct {
	Columns []string
	Records []Record
}

// NewRecordSet creates an empty record set with the given column order.
func NewRecordSet(columns ...string) *RecordSet {
	return &RecordSet{Columns: append([]string{}, columns...)}
}

// Len returns the number of records.
func (rs *RecordSet) Len() int { return len(rs.Records) }

// HasColumn reports whether the set declares the column.
func (rs *RecordSet) HasColumn(name string) bool {
	for _, c := range rs.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Append adds a record, filling any declared column the record lacks
// with null.
func (rs *RecordSet) Append(rec Record) {
	for _, col := range rs.Columns {
		if _, ok := rec[col]; !ok {
			rec[col] = nil
		}
	}
	rs.Records = append(rs.Records, rec)
}

// Concat appends another set's records. The schemas must match exactly.
func (rs *RecordSet) Concat(other *RecordSet) error {
	if len(rs.Columns) != len(other.Columns) {
		return ErrSchema("concat schema mismatch: %v vs %v", rs.Columns, other.Columns)
	}
	for i, col := range rs.Columns {
		if other.Columns[i] != col {
			return ErrSchema("concat schema mismatch: %v vs %v", rs.Columns, other.Columns)
		}
	}
	rs.Records = append(rs.Records, other.Records...)
	return nil
}

// Project returns a new set holding only the requested columns, in the
// requested order. Unknown columns fail with a SchemaError.
func (rs *RecordSet) Project(columns []string) (*RecordSet, error) {
	for _, col := range columns {
		if !rs.HasColumn(col) {
			return nil, ErrSchema("column %q not in schema %v", col, rs.Columns)
		}
	}
	out := NewRecordSet(columns...)
	for _, rec := range rs.Records {
		projected := make(Record, len(columns))
		for _, col := range columns {
			projected[col] = rec[col]
		}
		out.Records = append(out.Records, projected)
	}
	return out, nil
}

// AsFloat converts a numeric value to float64. Null and non-numeric
// values report false.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// FormatValue renders a value for delimited output and key building.
// Null renders as the empty string; integral floats drop the decimal
// point.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
