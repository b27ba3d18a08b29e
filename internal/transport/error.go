package transport

import "fmt"

// Error classifies a failed fetch the way the retry policy needs it:
// network errors are retried, fatal ones (validator mismatch, short body,
// rejected authentication) are not.
type Error struct {
	Network bool
	Cause   error
}

func (e *Error) Error() string { return e.Cause.Error() }

func (e *Error) Unwrap() error { return e.Cause }

func fatalf(format string, a ...interface{}) error {
	return &Error{Cause: fmt.Errorf("github.com/nicolagi/vmnetfs/internal/transport: "+format, a...)}
}

func networkf(format string, a ...interface{}) error {
	return &Error{Network: true, Cause: fmt.Errorf("github.com/nicolagi/vmnetfs/internal/transport: "+format, a...)}
}
