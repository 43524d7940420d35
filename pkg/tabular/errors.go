package tabular

import (
	"errors"
	"fmt"
)

var (
	// ErrFileNotFound is returned by Read when the source path does not exist
	ErrFileNotFound = errors.New("file not found")

	// ErrUnsupportedFormat is returned when a path extension has no codec
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrCodec wraps any failure raised while encoding or decoding a table
	ErrCodec = errors.New("codec error")
)

// Error describes a failed gateway operation on a single path
type Error struct {
	Op     string
	Path   string
	Format Format
	Err    error
}

func (e *Error) Error() string {
	if e.Format == 0 {
		return fmt.Sprintf("tabular: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("tabular: %s %s (%s): %v", e.Op, e.Path, e.Format, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// codecError labels cause as ErrCodec while keeping it reachable through errors.Is / errors.As
func codecError(op, path string, format Format, cause error) error {
	return &Error{
		Op:     op,
		Path:   path,
		Format: format,
		Err:    fmt.Errorf("%w: %w", ErrCodec, cause),
	}
}
