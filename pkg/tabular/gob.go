package tabular

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"
)

// GobCodec stores a Dataset as a gob stream, the Go-native serialized form
// used for pkl paths. Cell types survive the round trip unchanged.
type GobCodec struct{}

// NewGobCodec creates a pkl codec
func NewGobCodec() *GobCodec { return &GobCodec{} }

func (c *GobCodec) Format() Format { return FormatPKL }

const (
	gobNull uint8 = iota
	gobString
	gobInt
	gobFloat
	gobBool
)

type gobCell struct {
	Kind uint8
	S    string
	I    int64
	F    float64
	B    bool
}

type gobTable struct {
	Columns []string
	Rows    [][]gobCell
}

func (c *GobCodec) Read(path string, opts Options) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var table gobTable
	if err := gob.NewDecoder(bufio.NewReader(file)).Decode(&table); err != nil {
		return nil, fmt.Errorf("failed to decode table: %w", err)
	}

	ds := &Dataset{Columns: table.Columns, Rows: make([][]any, len(table.Rows))}
	for i, cells := range table.Rows {
		row := make([]any, len(ds.Columns))
		for j, cell := range cells {
			if j >= len(row) {
				return nil, fmt.Errorf("row %d has more cells than columns", i)
			}
			switch cell.Kind {
			case gobNull:
			case gobString:
				row[j] = cell.S
			case gobInt:
				row[j] = cell.I
			case gobFloat:
				row[j] = cell.F
			case gobBool:
				row[j] = cell.B
			default:
				return nil, fmt.Errorf("row %d column %d: unknown cell kind %d", i, j, cell.Kind)
			}
		}
		ds.Rows[i] = row
	}
	return ds, nil
}

func (c *GobCodec) Write(ds *Dataset, path string, opts Options) error {
	table := gobTable{Columns: ds.Columns, Rows: make([][]gobCell, len(ds.Rows))}
	for i, row := range ds.Rows {
		cells := make([]gobCell, len(row))
		for j, v := range row {
			switch x := v.(type) {
			case nil:
			case string:
				cells[j] = gobCell{Kind: gobString, S: x}
			case int64:
				cells[j] = gobCell{Kind: gobInt, I: x}
			case float64:
				cells[j] = gobCell{Kind: gobFloat, F: x}
			case bool:
				cells[j] = gobCell{Kind: gobBool, B: x}
			default:
				cells[j] = gobCell{Kind: gobString, S: CellString(x)}
			}
		}
		table.Rows[i] = cells
	}

	return writeAtomic(path, func(w io.Writer) error {
		if err := gob.NewEncoder(w).Encode(&table); err != nil {
			return fmt.Errorf("failed to encode table: %w", err)
		}
		return nil
	})
}
