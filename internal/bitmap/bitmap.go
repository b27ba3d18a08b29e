// Package bitmap implements the per-image chunk bitmaps. A bitmap owns a
// stream group over which newly set bits are published, one decimal index
// per line; subscribers are first seeded with every bit already set.
package bitmap

import (
	"sync"

	"github.com/nicolagi/vmnetfs/internal/stream"
)

// Map is a dynamically sized set of non-negative integers. The internal
// mutex only keeps independent stores consistent; callers that need a bit
// to stay meaningful across operations must serialize externally (the image
// does so with the chunk lock).
type Map struct {
	sgrp *stream.Group

	mu   sync.Mutex
	bits []byte
}

func New() *Map {
	m := &Map{}
	m.sgrp = stream.NewGroup(m.populate)
	return m
}

// Set adds i to the set. The first-set event is emitted after the lock is
// released, and only when this call flipped the bit.
func (m *Map) Set(i uint64) {
	m.mu.Lock()
	m.grow(i)
	idx, mask := i/8, byte(1)<<(7-i%8)
	first := m.bits[idx]&mask == 0
	m.bits[idx] |= mask
	m.mu.Unlock()
	if first {
		m.sgrp.Write("%d\n", i)
	}
}

// Test reports whether i is in the set.
func (m *Map) Test(i uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := i / 8
	if idx >= uint64(len(m.bits)) {
		return false
	}
	return m.bits[idx]&(byte(1)<<(7-i%8)) != 0
}

// StreamGroup returns the group publishing this map's first-set events.
func (m *Map) StreamGroup() *stream.Group { return m.sgrp }

// Storage grows to the next power of two bytes that covers the bit.
func (m *Map) grow(i uint64) {
	need := int(i/8) + 1
	if need <= len(m.bits) {
		return
	}
	size := len(m.bits)
	if size == 0 {
		size = 1
	}
	for size < need {
		size *= 2
	}
	bits := make([]byte, size)
	copy(bits, m.bits)
	m.bits = bits
}

func (m *Map) populate(s *stream.Stream) {
	m.mu.Lock()
	for i, b := range m.bits {
		for j := uint(0); j < 8; j++ {
			if b&(byte(1)<<(7-j)) != 0 {
				s.Write("%d\n", uint64(i)*8+uint64(j))
			}
		}
	}
	m.mu.Unlock()
}
