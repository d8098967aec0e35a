package pipeq

import (
	"errors"
	"fmt"
	"io"
)

// ErrInvalidUsage covers programming errors: a zero element size, releasing
// an already-released handle, or pushing/popping with a length that isn't a
// multiple of the queue's element size.
var ErrInvalidUsage = errors.New("pipeq: invalid usage")

// ErrClosed is returned by Pop once all producers are gone and the buffer
// has been fully drained. It wraps io.EOF so callers that only check for
// end-of-stream the conventional way still work with errors.Is.
var ErrClosed = fmt.Errorf("pipeq: %w", io.EOF)
