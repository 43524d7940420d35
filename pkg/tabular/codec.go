package tabular

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Codec reads and writes a Dataset in one physical format
type Codec interface {
	// Format returns the format handled by the codec
	Format() Format

	// Read decodes the table stored at path
	Read(path string, opts Options) (*Dataset, error)

	// Write encodes ds to path, replacing any existing content
	Write(ds *Dataset, path string, opts Options) error
}

// defaultCodecs returns one codec per supported format
func defaultCodecs() map[Format]Codec {
	codecs := []Codec{
		NewDelimitedCodec(FormatCSV, ","),
		NewDelimitedCodec(FormatTXT, "\t"),
		NewJSONCodec(),
		NewExcelCodec(),
		NewGobCodec(),
		NewArrowCodec(),
		NewSQLCodec(),
	}
	m := make(map[Format]Codec, len(codecs))
	for _, c := range codecs {
		m[c.Format()] = c
	}
	return m
}

// writeAtomic streams encode output into a temporary sibling of path and
// renames it into place once encode and the flush both succeed.
func writeAtomic(path string, encode func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// 64KB buffer, same as the batch writer
	buffered := bufio.NewWriterSize(tmp, 64*1024)
	if err := encode(buffered); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := buffered.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move temp file into place: %w", err)
	}
	return nil
}
