package image

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModifiedStore(t *testing.T, chunkSize uint32) *modifiedStore {
	t.Helper()
	s, err := newModifiedStore(&Image{chunkSize: chunkSize})
	require.Nil(t, err)
	t.Cleanup(s.close)
	return s
}

func TestModifiedStoreRoundTrip(t *testing.T) {
	s := newTestModifiedStore(t, 64)
	require.Nil(t, s.writeChunk([]byte("overlay"), 3, 10))
	p := make([]byte, 7)
	require.Nil(t, s.readChunk(p, 3, 10, 7))
	assert.Equal(t, "overlay", string(p))
}

func TestModifiedStoreHolesReadAsZeros(t *testing.T) {
	s := newTestModifiedStore(t, 64)
	// Writing chunk 2 leaves chunks 0 and 1 as holes.
	require.Nil(t, s.writeChunk(bytes.Repeat([]byte{0xff}, 64), 2, 0))
	p := make([]byte, 64)
	require.Nil(t, s.readChunk(p, 0, 0, 64))
	assert.Equal(t, make([]byte, 64), p)
}

func TestModifiedStoreReadsPastFrontierAreZeros(t *testing.T) {
	s := newTestModifiedStore(t, 64)
	require.Nil(t, s.writeChunk([]byte{1, 2, 3}, 0, 0))
	p := make([]byte, 10)
	require.Nil(t, s.readChunk(p, 0, 0, 10))
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0, 0, 0}, p)
}

func TestModifiedStoreZeroRange(t *testing.T) {
	s := newTestModifiedStore(t, 64)
	require.Nil(t, s.writeChunk(bytes.Repeat([]byte{0xaa}, 64), 0, 0))
	require.Nil(t, s.zeroRange(16, 48))
	p := make([]byte, 64)
	require.Nil(t, s.readChunk(p, 0, 0, 64))
	assert.Equal(t, bytes.Repeat([]byte{0xaa}, 16), p[:16])
	assert.Equal(t, make([]byte, 32), p[16:48])
	assert.Equal(t, bytes.Repeat([]byte{0xaa}, 16), p[48:])
}

func TestModifiedStoreEmptyZeroRange(t *testing.T) {
	s := newTestModifiedStore(t, 64)
	assert.Nil(t, s.zeroRange(10, 10))
}
