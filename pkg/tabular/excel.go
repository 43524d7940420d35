package tabular

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// rowCountName is a sheet scoped defined name holding the number of data
// rows. GetRows trims trailing empty rows, so reads pad back to it.
const rowCountName = "toxichem_rows"

// ExcelCodec reads and writes a single worksheet of an xlsx workbook
type ExcelCodec struct{}

// NewExcelCodec creates an xlsx codec
func NewExcelCodec() *ExcelCodec { return &ExcelCodec{} }

func (c *ExcelCodec) Format() Format { return FormatXLSX }

// Read loads the header from the first row of the sheet. Cells come back
// as their formatted text.
func (c *ExcelCodec) Read(path string, opts Options) (*Dataset, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer file.Close()

	sheet := opts.SheetName
	if sheet == "" {
		sheets := file.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q has no header row", sheet)
	}

	ds := &Dataset{Columns: rows[0]}
	for i, cells := range rows[1:] {
		if len(cells) > len(ds.Columns) {
			return nil, fmt.Errorf("sheet %q row %d has %d cells for %d columns", sheet, i+2, len(cells), len(ds.Columns))
		}
		// GetRows trims trailing empty cells
		row := make([]any, len(ds.Columns))
		for j, cell := range cells {
			row[j] = parseText(cell, opts.InferTypes)
		}
		ds.Rows = append(ds.Rows, row)
	}
	for n := storedRowCount(file, sheet); len(ds.Rows) < n; {
		ds.Rows = append(ds.Rows, make([]any, len(ds.Columns)))
	}
	return ds, nil
}

// storedRowCount returns the row count recorded by Write, or -1 for
// workbooks written elsewhere.
func storedRowCount(file *excelize.File, sheet string) int {
	for _, dn := range file.GetDefinedName() {
		if dn.Name != rowCountName || dn.Scope != sheet {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(dn.RefersTo, "="))
		if err != nil {
			return -1
		}
		return n
	}
	return -1
}

// Write streams the header and rows into a new workbook holding one sheet
func (c *ExcelCodec) Write(ds *Dataset, path string, opts Options) error {
	sheet := opts.SheetName
	if sheet == "" {
		sheet = defaultSheetName
	}

	file := excelize.NewFile()
	defer file.Close()

	if _, err := file.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	// Drop the default sheet when a custom name was requested
	if sheet != defaultSheetName {
		if err := file.DeleteSheet(defaultSheetName); err != nil {
			return fmt.Errorf("failed to remove default sheet: %w", err)
		}
	}
	index, err := file.GetSheetIndex(sheet)
	if err != nil {
		return fmt.Errorf("failed to locate sheet: %w", err)
	}
	file.SetActiveSheet(index)

	stream, err := file.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("failed to create stream writer: %w", err)
	}

	headers := make([]interface{}, len(ds.Columns))
	for i, col := range ds.Columns {
		headers[i] = col
	}
	if err := stream.SetRow("A1", headers); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}

	for r, row := range ds.Rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return fmt.Errorf("failed to get cell coordinate: %w", err)
		}
		values := make([]interface{}, len(row))
		copy(values, row)
		if err := stream.SetRow(cell, values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r+1, err)
		}
	}

	if err := stream.Flush(); err != nil {
		return fmt.Errorf("failed to flush stream: %w", err)
	}
	if err := file.SetDefinedName(&excelize.DefinedName{
		Name:     rowCountName,
		RefersTo: "=" + strconv.Itoa(len(ds.Rows)),
		Scope:    sheet,
	}); err != nil {
		return fmt.Errorf("failed to record row count: %w", err)
	}

	return writeAtomic(path, func(w io.Writer) error {
		if err := file.Write(w); err != nil {
			return fmt.Errorf("failed to save workbook: %w", err)
		}
		return nil
	})
}
