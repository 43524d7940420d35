package tabular

import (
	"fmt"
	"path/filepath"
	"strings"

	"gorm.io/gorm"
)

// Format identifies one of the supported physical table encodings
type Format int

const (
	FormatCSV Format = iota + 1
	FormatTXT
	FormatJSON
	FormatXLSX
	FormatPKL
	FormatH5
	FormatDB
)

// extensions maps a lower-case file extension to its format
var extensions = map[string]Format{
	"csv":  FormatCSV,
	"txt":  FormatTXT,
	"json": FormatJSON,
	"xlsx": FormatXLSX,
	"pkl":  FormatPKL,
	"h5":   FormatH5,
	"db":   FormatDB,
}

// String returns the file extension of the format
func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatTXT:
		return "txt"
	case FormatJSON:
		return "json"
	case FormatXLSX:
		return "xlsx"
	case FormatPKL:
		return "pkl"
	case FormatH5:
		return "h5"
	case FormatDB:
		return "db"
	default:
		return "unknown"
	}
}

// Formats returns every supported format in declaration order
func Formats() []Format {
	return []Format{FormatCSV, FormatTXT, FormatJSON, FormatXLSX, FormatPKL, FormatH5, FormatDB}
}

// ParseFormat resolves an extension token such as "csv" or ".XLSX"
func ParseFormat(ext string) (Format, error) {
	token := strings.ToLower(strings.TrimPrefix(ext, "."))
	if f, ok := extensions[token]; ok {
		return f, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// FormatFromPath resolves the format from the suffix of path
func FormatFromPath(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return 0, fmt.Errorf("%w: %s has no file extension", ErrUnsupportedFormat, path)
	}
	return ParseFormat(ext)
}

// Options carries codec-specific settings. Each codec reads only the
// fields that apply to it and ignores the rest.
type Options struct {
	// Delimiter is the field separator for csv and txt. Only the first
	// rune is used. Defaults to "," for csv and "\t" for txt.
	Delimiter string

	// SheetName selects the xlsx worksheet. Writes default to "Sheet1",
	// reads default to the first sheet of the workbook.
	SheetName string

	// Key names the table inside an h5 store. Defaults to "df".
	Key string

	// Table is the SQL table name for the db format. Required.
	Table string

	// DB is an optional caller-owned connection for the db format. When
	// nil the path is opened as a SQLite database.
	DB *gorm.DB

	// InferTypes parses text cells of csv, txt and xlsx into int64,
	// float64 or bool where possible.
	InferTypes bool
}

const (
	defaultSheetName = "Sheet1"
	defaultStoreKey  = "df"
)
