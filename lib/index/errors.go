package index

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument is returned for unusable keys and for range bounds
	// of different types
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrIndexBuild is matched by every *BuildError
	ErrIndexBuild = errors.New("index build failed")
	// ErrDuplicateKey is returned by unique indexes for a key that already
	// references another record
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotCreated is returned while the index has no backing map
	ErrNotCreated = errors.New("index has no backing map")
)

// BuildError reports a failed rebuild. The index is empty when it is returned.
type BuildError struct {
	Index      string
	Partitions []string
	Scanned    int64
	Err        error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("rebuild of index %q over [%s] failed after %d records: %v",
		e.Index, strings.Join(e.Partitions, ", "), e.Scanned, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func (e *BuildError) Is(target error) bool {
	return target == ErrIndexBuild
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
