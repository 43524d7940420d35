package tabular

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

// JSONCodec reads and writes record-oriented JSON: an array with one object per row.
//
// Column order follows the first object; keys first seen in later objects
// are appended. Integral numbers decode to int64, others to float64.
// Nested objects and arrays are kept as compact JSON text.
type JSONCodec struct{}

// NewJSONCodec creates a JSON codec
func NewJSONCodec() *JSONCodec { return &JSONCodec{} }

func (c *JSONCodec) Format() Format { return FormatJSON }

func (c *JSONCodec) Read(path string, opts Options) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(bufio.NewReader(file))
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	ds := &Dataset{}
	index := map[string]int{}
	var records []map[int]any

	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, fmt.Errorf("record %d: %w", len(records), err)
		}
		record := map[int]any{}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", len(records), err)
			}
			key, ok := tok.(string)
			if !ok {
				return nil, fmt.Errorf("record %d: expected object key, got %v", len(records), tok)
			}
			var raw any
			if err := dec.Decode(&raw); err != nil {
				return nil, fmt.Errorf("record %d field %q: %w", len(records), key, err)
			}
			pos, seen := index[key]
			if !seen {
				pos = len(ds.Columns)
				index[key] = pos
				ds.Columns = append(ds.Columns, key)
			}
			value, err := jsonCell(raw)
			if err != nil {
				return nil, fmt.Errorf("record %d field %q: %w", len(records), key, err)
			}
			record[pos] = value
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, fmt.Errorf("record %d: %w", len(records), err)
		}
		records = append(records, record)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}

	ds.Rows = make([][]any, len(records))
	for i, record := range records {
		row := make([]any, len(ds.Columns))
		for pos, v := range record {
			row[pos] = v
		}
		ds.Rows[i] = row
	}
	return ds, nil
}

func (c *JSONCodec) Write(ds *Dataset, path string, opts Options) error {
	keys := make([][]byte, len(ds.Columns))
	for i, col := range ds.Columns {
		b, err := json.Marshal(col)
		if err != nil {
			return fmt.Errorf("failed to encode column %q: %w", col, err)
		}
		keys[i] = b
	}

	return writeAtomic(path, func(w io.Writer) error {
		if _, err := io.WriteString(w, "["); err != nil {
			return err
		}
		for r, row := range ds.Rows {
			if r > 0 {
				io.WriteString(w, ",")
			}
			io.WriteString(w, "{")
			for i, v := range row {
				if i > 0 {
					io.WriteString(w, ",")
				}
				value, err := json.Marshal(v)
				if err != nil {
					return fmt.Errorf("row %d column %q: %w", r, ds.Columns[i], err)
				}
				w.Write(keys[i])
				io.WriteString(w, ":")
				if _, err := w.Write(value); err != nil {
					return err
				}
			}
			io.WriteString(w, "}")
		}
		_, err := io.WriteString(w, "]")
		return err
	})
}

func expectDelim(dec *json.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || rune(d) != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func jsonCell(raw any) (any, error) {
	switch v := raw.(type) {
	case nil, string, bool:
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		return v.Float64()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}
