package image

import (
	"errors"
	"fmt"
)

// ErrInterrupted reports that the host cancelled the request before it
// completed. Partial results already transferred are reported separately.
var ErrInterrupted = errors.New("operation interrupted")

// errEOF marks a read or write starting at or beyond the current image
// size. It is consumed inside the package; public operations turn it into a
// short count.
var errEOF = errors.New("end of file")

func errorf(typeMethod, format string, a ...interface{}) error {
	return fmt.Errorf("github.com/nicolagi/vmnetfs/internal/image."+typeMethod+": "+format, a...)
}
