package exemplar

import "errors"

// ErrClosed is returned by Log operations after Close.
var ErrClosed = errors.New("exemplar: log closed")
