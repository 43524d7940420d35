// Package tabular reads, writes and converts tables across file formats.
//
// The format is chosen from the path extension (csv, txt, json, xlsx, pkl,
// h5, db). Unknown extensions are rejected before any codec runs, and a
// missing source file is reported before the extension is looked at.
package tabular

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/toxichempy/toxichem/pkg/logger"
)

// Gateway dispatches table reads and writes to the codec for each path
type Gateway struct {
	codecs map[Format]Codec
	logger *logger.Logger
}

// NewGateway creates a gateway with the built-in codecs
func NewGateway(log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.Nop()
	}
	return &Gateway{
		codecs: defaultCodecs(),
		logger: log,
	}
}

var defaultGateway = NewGateway(nil)

// Read loads the table at path with the package default gateway
func Read(path string, opts Options) (*Dataset, error) {
	return defaultGateway.Read(path, opts)
}

// Write stores ds at path with the package default gateway
func Write(ds *Dataset, path string, opts Options) error {
	return defaultGateway.Write(ds, path, opts)
}

// Convert re-encodes src into dst with the package default gateway
func Convert(src, dst string, srcOpts, dstOpts Options) error {
	return defaultGateway.Convert(src, dst, srcOpts, dstOpts)
}

// Read loads the table stored at path
func (g *Gateway) Read(path string, opts Options) (*Dataset, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Op: "read", Path: path, Err: ErrFileNotFound}
		}
		return nil, &Error{Op: "read", Path: path, Err: err}
	}

	format, err := FormatFromPath(path)
	if err != nil {
		return nil, &Error{Op: "read", Path: path, Err: err}
	}
	codec, err := g.codec(format)
	if err != nil {
		return nil, &Error{Op: "read", Path: path, Format: format, Err: err}
	}

	start := time.Now()
	ds, err := codec.Read(path, opts)
	if err != nil {
		g.logger.Debug("Table read failed", logger.Fields{"path": path, "format": format.String(), "error": err.Error()})
		return nil, codecError("read", path, format, err)
	}

	g.logger.Debug("Table read", logger.Fields{
		"path":        path,
		"format":      format.String(),
		"columns":     len(ds.Columns),
		"rows":        len(ds.Rows),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return ds, nil
}

// Write stores ds at path, replacing what is there. Nothing is created
// when the extension is not supported.
func (g *Gateway) Write(ds *Dataset, path string, opts Options) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return &Error{Op: "write", Path: path, Err: err}
	}
	codec, err := g.codec(format)
	if err != nil {
		return &Error{Op: "write", Path: path, Format: format, Err: err}
	}
	if ds == nil {
		return codecError("write", path, format, fmt.Errorf("nil dataset"))
	}

	norm, err := ds.normalized()
	if err != nil {
		return codecError("write", path, format, err)
	}

	start := time.Now()
	if err := codec.Write(norm, path, opts); err != nil {
		g.logger.Debug("Table write failed", logger.Fields{"path": path, "format": format.String(), "error": err.Error()})
		return codecError("write", path, format, err)
	}

	g.logger.Debug("Table written", logger.Fields{
		"path":        path,
		"format":      format.String(),
		"columns":     len(norm.Columns),
		"rows":        len(norm.Rows),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// Convert reads src with srcOpts and writes the result to dst with dstOpts
func (g *Gateway) Convert(src, dst string, srcOpts, dstOpts Options) error {
	// Fail on an unsupported destination before reading the source
	if _, err := FormatFromPath(dst); err != nil {
		return &Error{Op: "convert", Path: dst, Err: err}
	}

	ds, err := g.Read(src, srcOpts)
	if err != nil {
		return err
	}
	if err := g.Write(ds, dst, dstOpts); err != nil {
		return err
	}

	g.logger.Info("Table converted", logger.Fields{"source": src, "destination": dst, "rows": len(ds.Rows)})
	return nil
}

func (g *Gateway) codec(format Format) (Codec, error) {
	codec, ok := g.codecs[format]
	if !ok {
		return nil, fmt.Errorf("%w: no codec registered for %s", ErrUnsupportedFormat, format)
	}
	return codec, nil
}
