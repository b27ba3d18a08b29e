package image

// cursor iterates the chunk-sized sub-ranges of one I/O request. Each step
// advances by the bytes actually processed in the previous step, which may
// be fewer than requested when the image ended mid-range.
type cursor struct {
	chunkSize uint32
	start     uint64
	count     uint64

	// Current step, valid after next returns true.
	chunk  uint64
	offset uint32
	length uint32
	bufOff uint64
}

func (img *Image) newCursor(start, count uint64) *cursor {
	return &cursor{chunkSize: img.chunkSize, start: start, count: count}
}

// next consumes the byte count of the previous step and computes the
// following (chunk, offset, length, bufOff) tuple. It returns false once
// the whole request has been covered.
func (c *cursor) next(prev uint64) bool {
	c.bufOff += prev
	if c.bufOff >= c.count {
		return false
	}
	abs := c.start + c.bufOff
	cs := uint64(c.chunkSize)
	c.chunk = abs / cs
	c.offset = uint32(abs % cs)
	length := cs - uint64(c.offset)
	if rest := c.count - c.bufOff; rest < length {
		length = rest
	}
	c.length = uint32(length)
	return true
}
