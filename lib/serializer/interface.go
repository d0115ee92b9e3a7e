package serializer

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dDB/lib/common"
)

// IConfigSerializer is the interface for all index configuration serializers
type IConfigSerializer interface {
	// Name returns the format name (json, gob, binary)
	Name() string
	// Serialize serializes a configuration record into a byte array
	Serialize(cfg common.IndexConfiguration) ([]byte, error)
	// Deserialize decodes a byte array into cfg, replacing its content.
	// Malformed input yields an error matching ErrSerialization.
	Deserialize(b []byte, cfg *common.IndexConfiguration) error
}

// New returns the serializer registered under name
func New(name string) (IConfigSerializer, error) {
	switch name {
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	case "binary":
		return NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// ErrSerialization is matched by every error returned for malformed input
var ErrSerialization = errors.New("serialization error")

// Error reports a configuration record that could not be encoded or decoded
type Error struct {
	Format string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s configuration record: %v", e.Format, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrSerialization
}

func wrap(format string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Format: format, Err: err}
}
