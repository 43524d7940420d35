// Package transform holds the table operations used by the association
// analysis: filtering, grouping into list cells, left joins and set
// operations over ", "-joined list cells.
//
// Every function returns a new dataset and leaves its input untouched.
package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/toxichempy/toxichem/pkg/tabular"
)

// ListSeparator joins the values of an aggregated list cell
const ListSeparator = ", "

// JoinSuffix is appended to right-hand columns whose names clash in LeftJoin
const JoinSuffix = "_y"

func columnIndexes(ds *tabular.Dataset, columns []string) ([]int, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = ds.ColumnIndex(c)
		if idx[i] < 0 {
			return nil, fmt.Errorf("column %q not found (available: %q)", c, ds.Columns)
		}
	}
	return idx, nil
}

func cell(row []any, idx int) any {
	if idx < len(row) {
		return row[idx]
	}
	return nil
}

// rowKey renders the key cells of a row. ok is false when any key cell is missing.
func rowKey(row []any, idx []int) (key string, ok bool) {
	parts := make([]string, len(idx))
	for i, j := range idx {
		v := cell(row, j)
		if v == nil {
			return "", false
		}
		parts[i] = tabular.CellString(v)
	}
	return strings.Join(parts, "\x1f"), true
}

// Filter keeps the rows whose column renders exactly as value
func Filter(ds *tabular.Dataset, column string, value string) (*tabular.Dataset, error) {
	idx, err := columnIndexes(ds, []string{column})
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	out := tabular.NewDataset(ds.Columns...)
	for _, row := range ds.Rows {
		v := cell(row, idx[0])
		if v != nil && tabular.CellString(v) == value {
			out.Append(row...)
		}
	}
	return out, nil
}

// Aggregate groups rows by the groupBy columns and collapses column into
// one cell per group holding its distinct non-empty values joined with
// ListSeparator, in first-seen order. Groups keep the order in which their
// key first appears; rows with a missing key cell are dropped.
//
// A group whose cells equal the column names comes from a header line
// repeated inside the body (every batch of a combined CTD report starts
// with one) and is removed.
func Aggregate(ds *tabular.Dataset, groupBy []string, column string) (*tabular.Dataset, error) {
	keyIdx, err := columnIndexes(ds, groupBy)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	valIdx, err := columnIndexes(ds, []string{column})
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	type group struct {
		keys   []any
		values []string
		seen   map[string]struct{}
	}
	var order []*group
	groups := make(map[string]*group)

	for _, row := range ds.Rows {
		key, ok := rowKey(row, keyIdx)
		if !ok {
			continue
		}
		g, exists := groups[key]
		if !exists {
			g = &group{keys: make([]any, len(keyIdx)), seen: make(map[string]struct{})}
			for i, j := range keyIdx {
				g.keys[i] = row[j]
			}
			groups[key] = g
			order = append(order, g)
		}

		v := cell(row, valIdx[0])
		if v == nil {
			continue
		}
		s := tabular.CellString(v)
		if _, dup := g.seen[s]; dup {
			continue
		}
		g.seen[s] = struct{}{}
		g.values = append(g.values, s)
	}

	columns := append(append([]string(nil), groupBy...), column)
	out := tabular.NewDataset(columns...)
	for _, g := range order {
		row := append([]any(nil), g.keys...)
		if len(g.values) > 0 {
			row = append(row, strings.Join(g.values, ListSeparator))
		} else {
			row = append(row, nil)
		}
		out.Append(row...)
	}

	return DropHeaderRows(out), nil
}

// DropHeaderRows removes rows whose cells equal the column names
func DropHeaderRows(ds *tabular.Dataset) *tabular.Dataset {
	out := tabular.NewDataset(ds.Columns...)
	for _, row := range ds.Rows {
		if !repeatsHeader(row, ds.Columns) {
			out.Append(row...)
		}
	}
	return out
}

func repeatsHeader(row []any, columns []string) bool {
	for i, c := range columns {
		if tabular.CellString(cell(row, i)) != c {
			return false
		}
	}
	return true
}

// LeftJoin keeps every left row and appends the columns of the matching
// right rows on the shared key columns. A left row matching several right
// rows is repeated once per match; a left row with no match gets nil in
// the right-hand columns. Right-hand columns whose name already exists on
// the left are renamed with JoinSuffix.
func LeftJoin(left, right *tabular.Dataset, on []string) (*tabular.Dataset, error) {
	leftIdx, err := columnIndexes(left, on)
	if err != nil {
		return nil, fmt.Errorf("left join: left: %w", err)
	}
	rightIdx, err := columnIndexes(right, on)
	if err != nil {
		return nil, fmt.Errorf("left join: right: %w", err)
	}

	isKey := make(map[int]bool, len(rightIdx))
	for _, j := range rightIdx {
		isKey[j] = true
	}

	columns := append([]string(nil), left.Columns...)
	var extra []int
	for j, name := range right.Columns {
		if isKey[j] {
			continue
		}
		if left.ColumnIndex(name) >= 0 {
			name += JoinSuffix
		}
		columns = append(columns, name)
		extra = append(extra, j)
	}

	index := make(map[string][][]any)
	for _, row := range right.Rows {
		if key, ok := rowKey(row, rightIdx); ok {
			index[key] = append(index[key], row)
		}
	}

	out := tabular.NewDataset(columns...)
	width := len(left.Columns)
	for _, row := range left.Rows {
		base := make([]any, width, len(columns))
		copy(base, row)

		var matches [][]any
		if key, ok := rowKey(row, leftIdx); ok {
			matches = index[key]
		}
		if len(matches) == 0 {
			out.Append(base...)
			continue
		}
		for _, m := range matches {
			joined := append([]any(nil), base...)
			for _, j := range extra {
				joined = append(joined, cell(m, j))
			}
			out.Append(joined...)
		}
	}
	return out, nil
}

// Rename changes the name of column from to to
func Rename(ds *tabular.Dataset, from, to string) (*tabular.Dataset, error) {
	idx := ds.ColumnIndex(from)
	if idx < 0 {
		return nil, fmt.Errorf("rename: column %q not found (available: %q)", from, ds.Columns)
	}
	if from != to && ds.ColumnIndex(to) >= 0 {
		return nil, fmt.Errorf("rename: column %q already exists", to)
	}
	out := ds.Clone()
	out.Columns[idx] = to
	return out, nil
}

// Select projects the dataset onto columns, in the order given
func Select(ds *tabular.Dataset, columns ...string) (*tabular.Dataset, error) {
	idx, err := columnIndexes(ds, columns)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	out := tabular.NewDataset(columns...)
	for _, row := range ds.Rows {
		projected := make([]any, len(idx))
		for i, j := range idx {
			projected[i] = cell(row, j)
		}
		out.Append(projected...)
	}
	return out, nil
}

// Unique returns the distinct non-empty values of column in first-seen order
func Unique(ds *tabular.Dataset, column string) ([]string, error) {
	idx, err := columnIndexes(ds, []string{column})
	if err != nil {
		return nil, fmt.Errorf("unique: %w", err)
	}
	var out []string
	seen := make(map[string]struct{})
	for _, row := range ds.Rows {
		v := cell(row, idx[0])
		if v == nil {
			continue
		}
		s := tabular.CellString(v)
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out, nil
}

// UniqueListValues splits every list cell of column and returns the
// distinct values sorted
func UniqueListValues(ds *tabular.Dataset, column string) ([]string, error) {
	idx, err := columnIndexes(ds, []string{column})
	if err != nil {
		return nil, fmt.Errorf("unique list values: %w", err)
	}
	seen := make(map[string]struct{})
	for _, row := range ds.Rows {
		for _, v := range SplitList(tabular.CellString(cell(row, idx[0]))) {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// SplitList splits a comma separated list cell into trimmed, non-empty
// values. "nan" placeholders are skipped.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || strings.EqualFold(part, "nan") {
			continue
		}
		out = append(out, part)
	}
	return out
}

// Intersect returns the values of a that also appear in b, deduplicated,
// in the order of a
func Intersect(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, v := range b {
		inB[v] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, v := range a {
		if _, ok := inB[v]; !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func joinList(values []string) any {
	if len(values) == 0 {
		return nil
	}
	return strings.Join(values, ListSeparator)
}

// CommonValues adds column dst holding, per row, the intersection of the
// list cells in colA and colB. Rows with nothing in common get nil.
// Missing source columns count as empty lists.
func CommonValues(ds *tabular.Dataset, colA, colB, dst string) (*tabular.Dataset, error) {
	if ds.ColumnIndex(dst) >= 0 {
		return nil, fmt.Errorf("common values: column %q already exists", dst)
	}
	a, b := ds.ColumnIndex(colA), ds.ColumnIndex(colB)

	out := tabular.NewDataset(append(append([]string(nil), ds.Columns...), dst)...)
	for _, row := range ds.Rows {
		var common []string
		if a >= 0 && b >= 0 {
			common = Intersect(
				SplitList(tabular.CellString(cell(row, a))),
				SplitList(tabular.CellString(cell(row, b))),
			)
		}
		next := make([]any, len(ds.Columns), len(ds.Columns)+1)
		copy(next, row)
		out.Append(append(next, joinList(common))...)
	}
	return out, nil
}

// GroupLists maps each distinct key to the values of column seen with it,
// splitting list cells. Values keep first-seen order per key.
func GroupLists(ds *tabular.Dataset, key, column string) (map[string][]string, error) {
	idx, err := columnIndexes(ds, []string{key, column})
	if err != nil {
		return nil, fmt.Errorf("group lists: %w", err)
	}
	out := make(map[string][]string)
	seen := make(map[string]map[string]struct{})
	for _, row := range ds.Rows {
		k := cell(row, idx[0])
		if k == nil {
			continue
		}
		ks := tabular.CellString(k)
		if seen[ks] == nil {
			seen[ks] = make(map[string]struct{})
		}
		for _, v := range SplitList(tabular.CellString(cell(row, idx[1]))) {
			if _, dup := seen[ks][v]; dup {
				continue
			}
			seen[ks][v] = struct{}{}
			out[ks] = append(out[ks], v)
		}
	}
	return out, nil
}

// Lookup adds column dst holding the union of lookup[v] for every value v
// in the list cell of column. Rows whose values have no entry get nil.
func Lookup(ds *tabular.Dataset, column string, lookup map[string][]string, dst string) (*tabular.Dataset, error) {
	idx, err := columnIndexes(ds, []string{column})
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	if ds.ColumnIndex(dst) >= 0 {
		return nil, fmt.Errorf("lookup: column %q already exists", dst)
	}

	out := tabular.NewDataset(append(append([]string(nil), ds.Columns...), dst)...)
	for _, row := range ds.Rows {
		var mapped []string
		seen := make(map[string]struct{})
		for _, v := range SplitList(tabular.CellString(cell(row, idx[0]))) {
			for _, m := range lookup[v] {
				if _, dup := seen[m]; !dup {
					seen[m] = struct{}{}
					mapped = append(mapped, m)
				}
			}
		}
		next := make([]any, len(ds.Columns), len(ds.Columns)+1)
		copy(next, row)
		out.Append(append(next, joinList(mapped))...)
	}
	return out, nil
}
