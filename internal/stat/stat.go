// Package stat implements the image counters and the change-handle
// mechanism backing poll on counter files.
package stat

import "sync"

// A Counter is a monotonically non-decreasing uint64 with change
// notification for attached handles.
type Counter struct {
	mu        sync.Mutex
	value     uint64
	unchanged []*Handle
}

func NewCounter() *Counter { return &Counter{} }

// Add increments the counter and fires every pending poll notification.
func (c *Counter) Add(delta uint64) {
	c.mu.Lock()
	c.value += delta
	var fire []func()
	for _, h := range c.unchanged {
		h.changed = true
		if h.notify != nil {
			fire = append(fire, h.notify)
			h.notify = nil
		}
	}
	c.unchanged = nil
	c.mu.Unlock()
	for _, f := range fire {
		f()
	}
}

// Get returns the current value.
func (c *Counter) Get() uint64 {
	c.mu.Lock()
	v := c.value
	c.mu.Unlock()
	return v
}

// GetHandle returns the current value together with a handle marking this
// point in the counter's history.
func (c *Counter) GetHandle() (uint64, *Handle) {
	c.mu.Lock()
	h := &Handle{counter: c}
	c.unchanged = append(c.unchanged, h)
	v := c.value
	c.mu.Unlock()
	return v, h
}

// A Handle is a reference to a particular point in the history of a
// Counter. Its fields are protected by the counter's lock.
type Handle struct {
	counter *Counter
	changed bool
	notify  func() // pending one-shot notification, only if unchanged
}

// Changed reports whether the counter was mutated since the handle was
// taken.
func (h *Handle) Changed() bool {
	c := h.counter
	c.mu.Lock()
	v := h.changed
	c.mu.Unlock()
	return v
}

// AttachPoll registers a one-shot notification. It fires immediately if the
// counter already changed, otherwise at the next mutation. A later call
// replaces a pending notification.
func (h *Handle) AttachPoll(notify func()) {
	c := h.counter
	c.mu.Lock()
	if h.changed {
		c.mu.Unlock()
		notify()
		return
	}
	h.notify = notify
	c.mu.Unlock()
}

// Free detaches the handle, cancelling any pending notification.
func (h *Handle) Free() {
	c := h.counter
	c.mu.Lock()
	if !h.changed {
		for i, other := range c.unchanged {
			if other == h {
				c.unchanged = append(c.unchanged[:i], c.unchanged[i+1:]...)
				break
			}
		}
		h.notify = nil
	}
	c.mu.Unlock()
}
