package tabular

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const utf8BOM = "\uFEFF"

// DelimitedCodec handles csv and txt files, which differ only in their default delimiter
type DelimitedCodec struct {
	format    Format
	delimiter string
}

// NewDelimitedCodec creates a delimited text codec for format
func NewDelimitedCodec(format Format, defaultDelimiter string) *DelimitedCodec {
	return &DelimitedCodec{format: format, delimiter: defaultDelimiter}
}

func (c *DelimitedCodec) Format() Format { return c.format }

func (c *DelimitedCodec) comma(opts Options) (rune, error) {
	delim := c.delimiter
	if opts.Delimiter != "" {
		delim = opts.Delimiter
	}
	runes := []rune(delim)
	if len(runes) == 0 {
		return 0, fmt.Errorf("empty delimiter")
	}
	return runes[0], nil
}

// Read parses the first record as the header and every later record as a row
func (c *DelimitedCodec) Read(path string, opts Options) (*Dataset, error) {
	comma, err := c.comma(opts)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReaderSize(file, 64*1024))
	reader.Comma = comma

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	ds := &Dataset{Columns: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		row := make([]any, len(record))
		for i, field := range record {
			row[i] = parseText(field, opts.InferTypes)
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// Write emits the header followed by one record per row
func (c *DelimitedCodec) Write(ds *Dataset, path string, opts Options) error {
	comma, err := c.comma(opts)
	if err != nil {
		return err
	}

	return writeAtomic(path, func(w io.Writer) error {
		writer := csv.NewWriter(w)
		writer.Comma = comma

		if err := writer.Write(ds.Columns); err != nil {
			return fmt.Errorf("failed to write headers: %w", err)
		}

		values := make([]string, len(ds.Columns))
		for _, row := range ds.Rows {
			for i, v := range row {
				values[i] = CellString(v)
			}
			// A lone empty field would be an empty line, which readers skip
			if len(values) == 1 && values[0] == "" {
				writer.Flush()
				if _, err := io.WriteString(w, `""`+"\n"); err != nil {
					return fmt.Errorf("failed to write record: %w", err)
				}
				continue
			}
			if err := writer.Write(values); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
		}

		writer.Flush()
		if err := writer.Error(); err != nil {
			return fmt.Errorf("failed to flush writer: %w", err)
		}
		return nil
	})
}
