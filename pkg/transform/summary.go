package transform

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/toxichempy/toxichem/pkg/tabular"
)

// ColumnSummary counts the distinct and missing values of one column
type ColumnSummary struct {
	Name    string `json:"name"`
	Unique  int    `json:"unique"`
	Missing int    `json:"missing"`
}

// Summarize returns one summary per column, in column order
func Summarize(ds *tabular.Dataset) []ColumnSummary {
	out := make([]ColumnSummary, len(ds.Columns))
	for i, name := range ds.Columns {
		s := ColumnSummary{Name: name}
		seen := make(map[string]struct{})
		for _, row := range ds.Rows {
			v := cell(row, i)
			if v == nil {
				s.Missing++
				continue
			}
			seen[tabular.CellString(v)] = struct{}{}
		}
		s.Unique = len(seen)
		out[i] = s
	}
	return out
}

// WriteSummary prints summaries in a fixed text layout
func WriteSummary(w io.Writer, summaries []ColumnSummary) error {
	for _, s := range summaries {
		if _, err := fmt.Fprintf(w, "Column: %s\n  Unique values: %d\n  Missing values: %d\n", s.Name, s.Unique, s.Missing); err != nil {
			return err
		}
	}
	return nil
}

// ReadTermList reads one term per line, trimming whitespace and skipping
// blank lines
func ReadTermList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open term list %s: %w", path, err)
	}
	defer f.Close()

	var terms []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			terms = append(terms, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read term list %s: %w", path, err)
	}
	return terms, nil
}

// WriteTermList writes items one per line
func WriteTermList(path string, items []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create term list %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	for _, item := range items {
		w.WriteString(item)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write term list %s: %w", path, err)
	}
	return f.Close()
}
