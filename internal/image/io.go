package image

import (
	"errors"
	"fmt"

	"github.com/nicolagi/vmnetfs/internal/transport"
	log "github.com/sirupsen/logrus"
)

// fetchData retrieves [start, start+count) of the image from the origin,
// accounting for the configured request offset and for segmentation across
// numbered sibling URLs.
func (img *Image) fetchData(buf []byte, start, count uint64, intr Interrupt) error {
	pos := start + img.fetchOffset
	for count > 0 {
		var u string
		var off, n uint64
		if img.segmentSize != 0 {
			u = fmt.Sprintf("%s.%d", img.url, pos/img.segmentSize)
			off = pos % img.segmentSize
			n = img.segmentSize - off
			if count < n {
				n = count
			}
		} else {
			u, off, n = img.url, pos, count
		}
		req := &transport.Request{
			URL:          u,
			ETag:         img.etag,
			LastModified: img.lastModified,
			Offset:       off,
			Length:       n,
		}
		if intr != nil {
			req.ShouldCancel = func() bool { return intr() }
		}
		if err := img.pool.Fetch(req, buf[:n]); err != nil {
			return err
		}
		buf = buf[n:]
		pos += n
		count -= n
	}
	return nil
}

// constrain clamps the requested in-chunk range against the current image
// size. It reports errEOF when the start lies at or beyond the end.
func (img *Image) constrain(chunk uint64, offset, length uint32) (uint32, error) {
	size := img.Size()
	start := chunk*uint64(img.chunkSize) + uint64(offset)
	if start >= size {
		return 0, errEOF
	}
	if avail := size - start; uint64(length) > avail {
		length = uint32(avail)
	}
	return length, nil
}

// pristineBytes returns how many bytes of the chunk are backed by the
// origin. Zero for chunks entirely beyond the initial size.
func (img *Image) pristineBytes(chunk uint64) uint64 {
	start := chunk * uint64(img.chunkSize)
	if start >= img.initialSize {
		return 0
	}
	n := img.initialSize - start
	if n > uint64(img.chunkSize) {
		n = uint64(img.chunkSize)
	}
	return n
}

// readChunkLocked implements the per-chunk read pipeline. The caller holds
// the chunk lock.
func (img *Image) readChunkLocked(p []byte, chunk uint64, offset, length uint32, intr Interrupt) (int, error) {
	length, err := img.constrain(chunk, offset, length)
	if err != nil {
		return 0, err
	}
	img.accessedMap.Set(chunk)
	if img.modifiedMap.Test(chunk) {
		if err := img.mstore.readChunk(p, chunk, offset, length); err != nil {
			return 0, err
		}
		return int(length), nil
	}
	pristine := img.pristineBytes(chunk)
	if uint64(offset) >= pristine {
		// Space the image grew into; it has no origin backing.
		for i := uint32(0); i < length; i++ {
			p[i] = 0
		}
		return int(length), nil
	}
	if !img.presentMap.Test(chunk) {
		// If two engines share one pristine cache they will redundantly
		// fetch chunks, since neither sees the other's present map.
		buf := make([]byte, pristine)
		if err := img.fetchData(buf, chunk*uint64(img.chunkSize), pristine, intr); err != nil {
			return 0, err
		}
		if err := img.pstore.writeChunk(chunk, buf); err != nil {
			return 0, err
		}
		img.chunkFetches.Add(1)
	}
	n := uint64(length)
	if uint64(offset)+n > pristine {
		n = pristine - uint64(offset)
	}
	if err := img.pstore.readChunk(p, chunk, offset, uint32(n)); err != nil {
		return 0, err
	}
	for i := n; i < uint64(length); i++ {
		p[i] = 0
	}
	return int(length), nil
}

func (img *Image) readChunk(p []byte, chunk uint64, offset, length uint32, intr Interrupt) (int, error) {
	if !img.locks.acquire(chunk, intr) {
		return 0, ErrInterrupted
	}
	defer img.locks.release(chunk)
	return img.readChunkLocked(p, chunk, offset, length, intr)
}

// writeChunk implements the per-chunk write pipeline: the first write to a
// chunk materializes the whole chunk into the overlay, possibly fetching
// it, so the overlay alone is authoritative from then on.
func (img *Image) writeChunk(p []byte, chunk uint64, offset, length uint32, intr Interrupt) (int, error) {
	if !img.locks.acquire(chunk, intr) {
		return 0, ErrInterrupted
	}
	defer img.locks.release(chunk)
	length, err := img.constrain(chunk, offset, length)
	if err != nil {
		return 0, err
	}
	img.accessedMap.Set(chunk)
	if !img.modifiedMap.Test(chunk) {
		count, err := img.constrain(chunk, 0, img.chunkSize)
		if err != nil {
			return 0, err
		}
		buf := make([]byte, count)
		if _, err := img.readChunkLocked(buf, chunk, 0, count, intr); err != nil {
			return 0, err
		}
		if err := img.mstore.writeChunk(buf, chunk, 0); err != nil {
			return 0, err
		}
		img.chunkDirties.Add(1)
		img.modifiedMap.Set(chunk)
	}
	if err := img.mstore.writeChunk(p[:length], chunk, offset); err != nil {
		return 0, err
	}
	return int(length), nil
}

// ReadAt reads up to len(p) bytes starting at start. A short count with a
// nil error means the image ended; zero bytes at nil error is end of
// stream. Bytes transferred before an interruption or I/O error are
// reported as a short count with no error.
func (img *Image) ReadAt(p []byte, start uint64, intr Interrupt) (int, error) {
	img.ioStream.Write("read %d+%d\n", start, len(p))
	var n int
	var err error
	cur := img.newCursor(start, uint64(len(p)))
	for cur.next(uint64(n)) {
		n, err = img.readChunk(p[cur.bufOff:cur.bufOff+uint64(cur.length)], cur.chunk, cur.offset, cur.length, intr)
		if err != nil {
			return img.ioResult(cur.bufOff, err)
		}
		img.bytesRead.Add(uint64(n))
	}
	return int(cur.bufOff), nil
}

// WriteAt writes len(p) bytes starting at start. Writes cannot grow the
// image; bytes beyond the current size are dropped with a short count.
func (img *Image) WriteAt(p []byte, start uint64, intr Interrupt) (int, error) {
	img.ioStream.Write("write %d+%d\n", start, len(p))
	var n int
	var err error
	cur := img.newCursor(start, uint64(len(p)))
	for cur.next(uint64(n)) {
		n, err = img.writeChunk(p[cur.bufOff:cur.bufOff+uint64(cur.length)], cur.chunk, cur.offset, cur.length, intr)
		if err != nil {
			return img.ioResult(cur.bufOff, err)
		}
		img.bytesWritten.Add(uint64(n))
	}
	return int(cur.bufOff), nil
}

// ioResult maps a pipeline error onto the engine's failure semantics, given
// the bytes already transferred.
func (img *Image) ioResult(done uint64, err error) (int, error) {
	switch {
	case errors.Is(err, errEOF):
		return int(done), nil
	case errors.Is(err, ErrInterrupted) || errors.Is(err, transport.ErrInterrupted):
		if done > 0 {
			return int(done), nil
		}
		return 0, ErrInterrupted
	default:
		log.WithFields(log.Fields{
			"image": img.name,
			"cause": err,
		}).Warning("I/O error")
		img.ioErrors.Add(1)
		if done > 0 {
			return int(done), nil
		}
		return 0, err
	}
}

// Truncate changes the current logical size. Growing extends into overlay
// space only: the new bytes read as zeros and are not fetchable. Shrinking
// proceeds chunk by chunk from the top, taking each excluded chunk's lock
// before moving the boundary past it, so the size never drops below a
// chunk some thread is operating on.
func (img *Image) Truncate(newSize uint64, intr Interrupt) error {
	img.mu.Lock()
	old := img.size
	if newSize >= old {
		img.size = newSize
		img.mu.Unlock()
		return nil
	}
	img.mu.Unlock()

	cs := uint64(img.chunkSize)
	boundary := newSize / cs
	top := (old + cs - 1) / cs
	for c := top; c > boundary; c-- {
		chunk := c - 1
		if !img.locks.acquire(chunk, intr) {
			return ErrInterrupted
		}
		img.mu.Lock()
		floor := chunk * cs
		if newSize > floor {
			floor = newSize
		}
		var zerr error
		if img.size > floor {
			if img.modifiedMap.Test(chunk) {
				end := (chunk + 1) * cs
				if img.size < end {
					end = img.size
				}
				zerr = img.mstore.zeroRange(floor, end)
			}
			if zerr == nil {
				img.size = floor
			}
		}
		img.mu.Unlock()
		img.locks.release(chunk)
		if zerr != nil {
			img.ioErrors.Add(1)
			return zerr
		}
	}
	return nil
}
