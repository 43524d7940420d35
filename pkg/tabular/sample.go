package tabular

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// SamplePath returns dir/filename when that file exists
func SamplePath(dir, filename string) (string, error) {
	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &Error{Op: "load", Path: path, Err: ErrFileNotFound}
		}
		return "", &Error{Op: "load", Path: path, Err: err}
	}
	return path, nil
}

// Load reads the sample table called name from dir. It tries name.csv,
// name.txt, name.json and so on in Formats order and reads the first file
// that exists. A db sample uses name as its table unless opts.Table is set.
func (g *Gateway) Load(dir, name string, opts Options) (*Dataset, error) {
	for _, format := range Formats() {
		path, err := SamplePath(dir, name+"."+format.String())
		if errors.Is(err, ErrFileNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if format == FormatDB && opts.Table == "" {
			opts.Table = name
		}
		return g.Read(path, opts)
	}
	return nil, &Error{Op: "load", Path: filepath.Join(dir, name), Err: ErrFileNotFound}
}

// Load reads a sample table with the package default gateway
func Load(dir, name string, opts Options) (*Dataset, error) {
	return defaultGateway.Load(dir, name, opts)
}
