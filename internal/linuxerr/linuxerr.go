// Package linuxerr holds error values corresponding to the Linux error
// numbers we need to surface at the file server boundary.
package linuxerr

// E is an errno with its conventional message. It is a value type so that
// sentinel comparisons with errors.Is work across wrapping.
type E struct {
	errno int32
	text  string
}

func (e E) Error() string { return e.text }

// Errno returns the Linux error number.
func (e E) Errno() int32 { return e.errno }

var (
	EPERM  = E{1, "operation not permitted"}
	ENOENT = E{2, "no such file or directory"}
	EINTR  = E{4, "interrupted system call"}
	EIO    = E{5, "input/output error"}
	EAGAIN = E{11, "resource temporarily unavailable"}
	EINVAL = E{22, "invalid argument"}

	ENOTDIR = E{20, "not a directory"}
	EISDIR  = E{21, "is a directory"}
)
