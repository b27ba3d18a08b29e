package fs

import (
	"errors"
	"fmt"
	"io"

	"github.com/nicolagi/vmnetfs/internal/image"
	"github.com/nicolagi/vmnetfs/internal/linuxerr"
	"github.com/nicolagi/vmnetfs/internal/stat"
	"github.com/nicolagi/vmnetfs/internal/stream"
)

// unsupported supplies EPERM defaults for the read-only file kinds.
type unsupported struct{}

func (unsupported) Write([]byte, uint64, image.Interrupt) (int, error) {
	return 0, linuxerr.EPERM
}

func (unsupported) Truncate(uint64, image.Interrupt) error { return linuxerr.EPERM }

func (unsupported) Release() {}

// bufHandle serves reads out of a snapshot taken at open time.
type bufHandle struct {
	unsupported
	data []byte
}

func (h *bufHandle) Read(p []byte, off uint64, _ image.Interrupt) (int, error) {
	if off >= uint64(len(h.data)) {
		return 0, nil
	}
	return copy(p, h.data[off:]), nil
}

// staticFile holds fixed text, such as the censored configuration.
type staticFile struct {
	contents []byte
}

func (f *staticFile) Attr() Attr {
	return Attr{Mode: 0400, Size: uint64(len(f.contents))}
}

func (f *staticFile) Open(bool) (Handle, error) {
	return &bufHandle{data: f.contents}, nil
}

// counterFile formats its counter at open, like the stats files of the C
// implementation, and is pollable for subsequent changes through the
// counter's change handle.
type counterFile struct {
	c *stat.Counter
}

func (f *counterFile) Attr() Attr { return Attr{Mode: 0400, Direct: true} }

func (f *counterFile) Open(bool) (Handle, error) {
	v, h := f.c.GetHandle()
	return &counterHandle{
		bufHandle: bufHandle{data: []byte(fmt.Sprintf("%d\n", v))},
		handle:    h,
	}, nil
}

type counterHandle struct {
	bufHandle
	handle *stat.Handle
}

func (h *counterHandle) Release() { h.handle.Free() }

func (h *counterHandle) Poll(notify func()) bool {
	if h.handle.Changed() {
		return true
	}
	h.handle.AttachPoll(notify)
	return false
}

// fixedFile reports a value that does not change while open, such as the
// chunk size or the chunk count.
type fixedFile struct {
	value func() uint64
}

func (f *fixedFile) Attr() Attr { return Attr{Mode: 0400, Direct: true} }

func (f *fixedFile) Open(bool) (Handle, error) {
	return &bufHandle{data: []byte(fmt.Sprintf("%d\n", f.value()))}, nil
}

// imageFile is the raw device image: readable, writable, truncatable,
// sized by the image's current size.
type imageFile struct {
	img *image.Image
}

func (f *imageFile) Attr() Attr { return Attr{Mode: 0600, Size: f.img.Size()} }

func (f *imageFile) Open(bool) (Handle, error) {
	return &imageHandle{img: f.img}, nil
}

func (f *imageFile) Truncate(size uint64, intr image.Interrupt) error {
	return mapImageError(f.img.Truncate(size, intr))
}

type imageHandle struct {
	img *image.Image
}

func (h *imageHandle) Read(p []byte, off uint64, intr image.Interrupt) (int, error) {
	n, err := h.img.ReadAt(p, off, intr)
	return n, mapImageError(err)
}

func (h *imageHandle) Write(p []byte, off uint64, intr image.Interrupt) (int, error) {
	n, err := h.img.WriteAt(p, off, intr)
	return n, mapImageError(err)
}

func (h *imageHandle) Truncate(size uint64, intr image.Interrupt) error {
	return mapImageError(h.img.Truncate(size, intr))
}

func (h *imageHandle) Release() {}

func mapImageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, image.ErrInterrupted):
		return linuxerr.EINTR
	default:
		return linuxerr.EIO
	}
}

// streamFile opens a new subscriber on its group per open.
type streamFile struct {
	group *stream.Group
}

func (f *streamFile) Attr() Attr {
	return Attr{Mode: 0400, Direct: true, Nonseekable: true}
}

func (f *streamFile) Open(blocking bool) (Handle, error) {
	return &streamHandle{s: f.group.New(), blocking: blocking}, nil
}

type streamHandle struct {
	unsupported
	s        *stream.Stream
	blocking bool
}

// Read ignores the offset: streams are non-seekable.
func (h *streamHandle) Read(p []byte, _ uint64, _ image.Interrupt) (int, error) {
	n, err := h.s.Read(p, h.blocking)
	switch {
	case err == io.EOF:
		return 0, nil
	case errors.Is(err, stream.ErrWouldBlock):
		return 0, linuxerr.EAGAIN
	}
	return n, err
}

func (h *streamHandle) Release() { h.s.Free() }
