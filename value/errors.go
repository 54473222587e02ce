package value

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by EncodingError.
var (
	ErrUnsupportedType = errors.New("unsupported type")
	ErrCyclic          = errors.New("cyclic structure")
	ErrInvalidKey      = errors.New("map key is not a string")
	ErrOverflow        = errors.New("integer overflows int64")
	ErrMalformed       = errors.New("malformed encoding")
	ErrInvalidUTF8     = errors.New("string is not valid UTF-8")
)

// EncodingError reports a native value that cannot be represented as a
// Value. Path locates the offending element, rooted at "$".
type EncodingError struct {
	Path string
	Type string
	Err  error
}

func (e *EncodingError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("encode %s: %v (%s)", e.Path, e.Err, e.Type)
	}
	return fmt.Sprintf("encode %s: %v", e.Path, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }
