package tabular

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Dataset is an in-memory table of named columns and rows.
//
// Cells hold nil, string, int64, float64 or bool. Write normalizes other
// Go scalar types into one of these before handing the table to a codec.
type Dataset struct {
	Columns []string
	Rows    [][]any
}

// NewDataset creates an empty dataset with the given columns
func NewDataset(columns ...string) *Dataset {
	return &Dataset{Columns: append([]string(nil), columns...)}
}

// Append adds a row. Missing trailing cells are left nil.
func (d *Dataset) Append(values ...any) {
	row := make([]any, len(d.Columns))
	copy(row, values)
	d.Rows = append(d.Rows, row)
}

// Len returns the number of rows
func (d *Dataset) Len() int { return len(d.Rows) }

// ColumnIndex returns the position of name, or -1
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the cell at row/column name, or nil when the column is absent
func (d *Dataset) Value(row int, column string) any {
	idx := d.ColumnIndex(column)
	if idx < 0 || row < 0 || row >= len(d.Rows) || idx >= len(d.Rows[row]) {
		return nil
	}
	return d.Rows[row][idx]
}

// Clone returns a deep copy of the column list and row slices
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Columns: append([]string(nil), d.Columns...),
		Rows:    make([][]any, len(d.Rows)),
	}
	for i, row := range d.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return out
}

// Equal reports whether both datasets have identical columns and cells
func (d *Dataset) Equal(o *Dataset) bool {
	if d == nil || o == nil {
		return d == o
	}
	if !reflect.DeepEqual(d.Columns, o.Columns) || len(d.Rows) != len(o.Rows) {
		return false
	}
	for i := range d.Rows {
		if !reflect.DeepEqual(d.Rows[i], o.Rows[i]) {
			return false
		}
	}
	return true
}

// normalized returns a copy whose rows are exactly len(Columns) wide and
// whose cells are all canonical kinds.
func (d *Dataset) normalized() (*Dataset, error) {
	out := &Dataset{
		Columns: append([]string(nil), d.Columns...),
		Rows:    make([][]any, len(d.Rows)),
	}
	for i, row := range d.Rows {
		if len(row) > len(d.Columns) {
			return nil, fmt.Errorf("row %d has %d cells for %d columns", i, len(row), len(d.Columns))
		}
		norm := make([]any, len(d.Columns))
		for j, v := range row {
			norm[j] = normalizeCell(v)
		}
		out.Rows[i] = norm
	}
	return out, nil
}

func normalizeCell(v any) any {
	switch x := v.(type) {
	case nil, string, int64, float64, bool:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// CellString renders a canonical cell as text. nil renders as "".
func CellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// parseText converts a text cell into a canonical value. Empty text is a
// missing value; with infer set, integers, floats and booleans are parsed.
func parseText(s string, infer bool) any {
	if s == "" {
		return nil
	}
	if !infer {
		return s
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// columnKind is the narrowest canonical type that holds every non-nil cell of a column
type columnKind int

const (
	kindNull columnKind = iota
	kindInt
	kindFloat
	kindBool
	kindString
)

func inferColumnKind(ds *Dataset, col int) columnKind {
	kind := kindNull
	for _, row := range ds.Rows {
		var k columnKind
		switch row[col].(type) {
		case nil:
			continue
		case int64:
			k = kindInt
		case float64:
			k = kindFloat
		case bool:
			k = kindBool
		default:
			return kindString
		}
		switch {
		case kind == kindNull || kind == k:
			kind = k
		case (kind == kindInt && k == kindFloat) || (kind == kindFloat && k == kindInt):
			kind = kindFloat
		default:
			return kindString
		}
	}
	return kind
}
