// Package stream implements append-only byte streams fanned out to any
// number of late-joining subscribers. A stream group is the write side; each
// subscriber owns an independent stream with its own backlog and cursor.
package stream

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrWouldBlock is returned by a non-blocking read on an empty stream whose
// group is still open.
var ErrWouldBlock = errors.New("stream would block")

// A PopulateFunc seeds a newly opened stream with historical state. It runs
// before any live write is delivered to that stream.
type PopulateFunc func(s *Stream)

// A Group fans out appended text to every stream opened on it.
type Group struct {
	populate PopulateFunc

	mu      sync.Mutex
	streams map[*Stream]struct{}
	closed  bool
}

func NewGroup(populate PopulateFunc) *Group {
	return &Group{
		populate: populate,
		streams:  make(map[*Stream]struct{}),
	}
}

// New opens a subscriber. The populate callback, if any, runs synchronously
// with the new stream so that no live write can interleave with the
// historical state.
func (g *Group) New() *Stream {
	s := &Stream{group: g, wake: make(chan struct{}, 1)}
	g.mu.Lock()
	s.closed = g.closed
	if g.populate != nil {
		g.populate(s)
	}
	g.streams[s] = struct{}{}
	g.mu.Unlock()
	return s
}

// Write appends formatted text to every live stream in the group.
func (g *Group) Write(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	g.mu.Lock()
	for s := range g.streams {
		s.append(text)
	}
	g.mu.Unlock()
}

// Close ends the group. Blocked readers wake up; further reads drain any
// backlog and then report EOF. Closing twice is allowed.
func (g *Group) Close() {
	g.mu.Lock()
	g.closed = true
	for s := range g.streams {
		s.close()
	}
	g.mu.Unlock()
}

// A Stream is one subscriber's ordered byte queue. It has a single reader.
type Stream struct {
	group *Group
	wake  chan struct{}

	mu     sync.Mutex
	buf    []byte
	closed bool
}

// Write appends formatted text to this stream only. It is meant for
// populate callbacks seeding historical state.
func (s *Stream) Write(format string, args ...interface{}) {
	s.append(fmt.Sprintf(format, args...))
}

func (s *Stream) append(text string) {
	s.mu.Lock()
	s.buf = append(s.buf, text...)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Stream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Read returns up to len(p) bytes. In blocking mode it waits until at least
// one byte is available or the group is closed. In non-blocking mode it
// fails with ErrWouldBlock when empty and the group is open. Once the group
// is closed and the backlog drained, it returns io.EOF.
func (s *Stream) Read(p []byte, blocking bool) (int, error) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			n := copy(p, s.buf)
			s.buf = s.buf[n:]
			s.mu.Unlock()
			return n, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return 0, io.EOF
		}
		if !blocking {
			return 0, ErrWouldBlock
		}
		<-s.wake
	}
}

// Free detaches the stream from its group. The stream must not be read
// afterwards.
func (s *Stream) Free() {
	g := s.group
	g.mu.Lock()
	delete(g.streams, s)
	g.mu.Unlock()
}
