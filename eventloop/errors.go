package eventloop

import "errors"

// ErrClosed is returned by Post after a loop was closed.
var ErrClosed = errors.New("event loop closed")
