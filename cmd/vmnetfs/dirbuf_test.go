package main

import (
	"testing"

	"github.com/lionkov/go9p/p"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBuffer() (*dirBuffer, []int) {
	b := new(dirBuffer)
	for _, name := range []string{"image", "stats", "streams"} {
		b.write(&p.Dir{Name: name, Uid: "u", Gid: "g", Muid: "u"})
	}
	return b, b.ends
}

func TestDirBufferReadsWholeListing(t *testing.T) {
	b, ends := sampleBuffer()
	out := make([]byte, ends[len(ends)-1])
	n, err := b.read(out, 0)
	require.Nil(t, err)
	assert.Equal(t, len(out), n)
}

func TestDirBufferResumesAtEntryBoundary(t *testing.T) {
	b, ends := sampleBuffer()
	out := make([]byte, ends[0])
	n, err := b.read(out, 0)
	require.Nil(t, err)
	require.Equal(t, ends[0], n)
	rest := make([]byte, ends[len(ends)-1])
	n, err = b.read(rest, ends[0])
	require.Nil(t, err)
	assert.Equal(t, ends[len(ends)-1]-ends[0], n)
}

func TestDirBufferNeverTruncatesAnEntry(t *testing.T) {
	b, ends := sampleBuffer()
	// Room for one and a half entries: only the first is returned.
	out := make([]byte, ends[0]+(ends[1]-ends[0])/2)
	n, err := b.read(out, 0)
	require.Nil(t, err)
	assert.Equal(t, ends[0], n)
}

func TestDirBufferRejectsMisalignedOffset(t *testing.T) {
	b, _ := sampleBuffer()
	_, err := b.read(make([]byte, 64), 1)
	assert.NotNil(t, err)
}

func TestDirBufferShortBufferReadsNothing(t *testing.T) {
	b, _ := sampleBuffer()
	n, err := b.read(make([]byte, 2), 0)
	require.Nil(t, err)
	assert.Equal(t, 0, n)
}
