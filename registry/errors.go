package registry

import "errors"

var (
	ErrEmptyAddress = errors.New("address must not be empty")
	ErrNilTarget    = errors.New("registration target context is nil")
)
