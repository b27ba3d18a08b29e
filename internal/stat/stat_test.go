package stat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAddAndGet(t *testing.T) {
	c := NewCounter()
	assert.Equal(t, uint64(0), c.Get())
	c.Add(3)
	c.Add(39)
	assert.Equal(t, uint64(42), c.Get())
}

func TestHandleTracksChanges(t *testing.T) {
	c := NewCounter()
	c.Add(1)
	v, h := c.GetHandle()
	defer h.Free()
	require.Equal(t, uint64(1), v)
	assert.False(t, h.Changed())
	c.Add(1)
	assert.True(t, h.Changed())
}

func TestAttachPollFiresOnNextMutation(t *testing.T) {
	c := NewCounter()
	_, h := c.GetHandle()
	defer h.Free()
	fired := 0
	h.AttachPoll(func() { fired++ })
	assert.Equal(t, 0, fired)
	c.Add(1)
	assert.Equal(t, 1, fired)
	// The notification is one-shot.
	c.Add(1)
	assert.Equal(t, 1, fired)
}

func TestAttachPollFiresImmediatelyIfAlreadyChanged(t *testing.T) {
	c := NewCounter()
	_, h := c.GetHandle()
	defer h.Free()
	c.Add(1)
	fired := 0
	h.AttachPoll(func() { fired++ })
	assert.Equal(t, 1, fired)
}

func TestFreeCancelsPendingNotification(t *testing.T) {
	c := NewCounter()
	_, h := c.GetHandle()
	fired := 0
	h.AttachPoll(func() { fired++ })
	h.Free()
	c.Add(1)
	assert.Equal(t, 0, fired)
}

func TestHandlesAreIndependent(t *testing.T) {
	c := NewCounter()
	_, h1 := c.GetHandle()
	c.Add(1)
	_, h2 := c.GetHandle()
	defer h1.Free()
	defer h2.Free()
	assert.True(t, h1.Changed())
	assert.False(t, h2.Changed())
}
