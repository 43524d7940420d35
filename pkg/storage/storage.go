package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/toxichempy/toxichem/pkg/logger"
)

// Workspace owns the per-run batch directory {outputDir}/{baseName}_files
type Workspace struct {
	outputDir string
	baseName  string
	dir       string
	logger    *logger.Logger
}

// NewWorkspace creates a workspace handle. Nothing touches the disk until Reset.
func NewWorkspace(outputDir string, baseName string, log *logger.Logger) *Workspace {
	if log == nil {
		log = logger.Nop()
	}
	// Sanitize base name to prevent path traversal
	baseName = filepath.Base(baseName)
	return &Workspace{
		outputDir: outputDir,
		baseName:  baseName,
		dir:       filepath.Join(outputDir, baseName+"_files"),
		logger:    log,
	}
}

// Dir returns the batch directory path
func (w *Workspace) Dir() string { return w.dir }

// BatchPath returns the file for the 1-based batch index
func (w *Workspace) BatchPath(index int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%d.csv", w.baseName, index))
}

// CombinedPath returns {outputDir}/{baseName}.{ext}
func (w *Workspace) CombinedPath(ext string) string {
	return filepath.Join(w.outputDir, w.baseName+"."+ext)
}

// Exists reports whether the batch directory is present
func (w *Workspace) Exists() bool {
	info, err := os.Stat(w.dir)
	return err == nil && info.IsDir()
}

// Reset removes any previous batch directory and creates an empty one
func (w *Workspace) Reset() error {
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", w.dir, err)
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create workspace %s: %w", w.dir, err)
	}

	w.logger.Debug("Workspace reset", logger.Fields{"dir": w.dir})
	return nil
}

// Remove deletes the batch directory and any combined file left by an earlier run
func (w *Workspace) Remove(combinedExt string) error {
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", w.dir, err)
	}
	if combinedExt != "" {
		if err := os.Remove(w.CombinedPath(combinedExt)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale combined file: %w", err)
		}
	}
	return nil
}

// Cleanup deletes the batch directory, leaving any combined file in place
func (w *Workspace) Cleanup() error {
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to clean up workspace %s: %w", w.dir, err)
	}
	w.logger.Debug("Workspace removed", logger.Fields{"dir": w.dir})
	return nil
}

// WriteBatch streams r into the batch file. The file only appears once
// the whole body has been copied.
func (w *Workspace) WriteBatch(index int, r io.Reader) (int64, error) {
	path := w.BatchPath(index)
	n, err := copyAtomic(path, []io.Reader{r})
	if err != nil {
		return 0, fmt.Errorf("failed to write batch %d to %s: %w", index, path, err)
	}
	return n, nil
}

// Combine concatenates the given batch files, in the order given, into dst
func (w *Workspace) Combine(dst string, indices []int) (int64, error) {
	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	readers := make([]io.Reader, 0, len(indices))
	for _, idx := range indices {
		f, err := os.Open(w.BatchPath(idx))
		if err != nil {
			return 0, fmt.Errorf("failed to open batch %d: %w", idx, err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	n, err := copyAtomic(dst, readers)
	if err != nil {
		return 0, fmt.Errorf("failed to combine batches into %s: %w", dst, err)
	}

	w.logger.Debug("Batches combined", logger.Fields{"path": dst, "batches": len(indices), "bytes": n})
	return n, nil
}

func copyAtomic(path string, readers []io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	fail := func(err error) (int64, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, err
	}

	// 1MB buffer, matching the download chunk size
	buffered := bufio.NewWriterSize(tmp, 1024*1024)
	var total int64
	for _, r := range readers {
		n, err := io.Copy(buffered, r)
		total += n
		if err != nil {
			return fail(err)
		}
	}
	if err := buffered.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	return total, nil
}
