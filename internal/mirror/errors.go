package mirror

import (
	"errors"
	"io/fs"
)

var (
	// ErrNotFound reports a path that vanished between check and use.
	ErrNotFound = errors.New("path not found")
	// ErrNotAFile reports a file-only operation on a directory.
	ErrNotAFile = errors.New("not a file")
	// ErrResolutionMiss reports a watch event that maps to no mirrored node.
	ErrResolutionMiss = errors.New("no mirrored node for path")
)

// IOError is a filesystem failure unrelated to concurrent modification.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e == nil {
		return ""
	}
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// classify maps a filesystem error to ErrNotFound or an *IOError.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if isNotExist(err) {
		return ErrNotFound
	}
	return &IOError{Op: op, Path: path, Err: err}
}
