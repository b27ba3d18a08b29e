package bitmap

import (
	"sort"
	"strconv"
	"strings"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapSetAndTest(t *testing.T) {
	m := New()
	assert.False(t, m.Test(0))
	m.Set(0)
	assert.True(t, m.Test(0))
	// Test beyond storage does not grow it.
	assert.False(t, m.Test(1 << 20))
}

func TestMapMembership(t *testing.T) {
	f := func(bits []uint16) bool {
		m := New()
		want := make(map[uint64]bool)
		for _, b := range bits {
			m.Set(uint64(b))
			want[uint64(b)] = true
		}
		for b := range want {
			if !m.Test(b) {
				return false
			}
		}
		// A bit never mentioned stays clear.
		return !m.Test(1 << 17)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func readAll(t *testing.T, m *Map) []uint64 {
	t.Helper()
	s := m.StreamGroup().New()
	defer s.Free()
	var sb strings.Builder
	p := make([]byte, 256)
	for {
		n, err := s.Read(p, false)
		if err != nil {
			break
		}
		sb.Write(p[:n])
	}
	var out []uint64
	for _, line := range strings.Fields(sb.String()) {
		v, err := strconv.ParseUint(line, 10, 64)
		require.Nil(t, err)
		out = append(out, v)
	}
	return out
}

func TestSubscriberSeesHistoricalBits(t *testing.T) {
	m := New()
	for _, b := range []uint64{3, 700, 12} {
		m.Set(b)
	}
	got := readAll(t, m)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if diff := cmp.Diff([]uint64{3, 12, 700}, got); diff != "" {
		t.Error(diff)
	}
}

func TestSubscriberSeesLiveBits(t *testing.T) {
	m := New()
	s := m.StreamGroup().New()
	defer s.Free()
	m.Set(9)
	p := make([]byte, 16)
	n, err := s.Read(p, false)
	require.Nil(t, err)
	assert.Equal(t, "9\n", string(p[:n]))
}

func TestSetIsIdempotentInTheStream(t *testing.T) {
	m := New()
	s := m.StreamGroup().New()
	defer s.Free()
	m.Set(5)
	m.Set(5)
	m.Set(5)
	p := make([]byte, 64)
	n, err := s.Read(p, false)
	require.Nil(t, err)
	assert.Equal(t, "5\n", string(p[:n]))
}
