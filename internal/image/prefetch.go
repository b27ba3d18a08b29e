package image

import (
	log "github.com/sirupsen/logrus"
)

// Prefetch starts warming the pristine cache sequentially in the
// background. It is used for images configured with fetch mode "stream",
// where the whole image is expected to be needed. Demand fetches for the
// same chunks coalesce with it through the chunk locks.
func (img *Image) Prefetch() {
	go img.prefetch()
}

func (img *Image) prefetch() {
	intr := func() bool {
		select {
		case <-img.done:
			return true
		default:
			return false
		}
	}
	cs := uint64(img.chunkSize)
	for chunk := uint64(0); chunk*cs < img.initialSize; chunk++ {
		select {
		case <-img.done:
			return
		default:
		}
		if err := img.prefetchChunk(chunk, intr); err != nil {
			if err != ErrInterrupted {
				log.WithFields(log.Fields{
					"image": img.name,
					"chunk": chunk,
					"cause": err,
				}).Warning("prefetch stopped")
			}
			return
		}
	}
}

// prefetchChunk fetches one chunk into the pristine store unless some layer
// already covers it. Unlike the read pipeline it does not touch the
// accessed map: prefetching is not a client access.
func (img *Image) prefetchChunk(chunk uint64, intr Interrupt) error {
	if !img.locks.acquire(chunk, intr) {
		return ErrInterrupted
	}
	defer img.locks.release(chunk)
	if img.presentMap.Test(chunk) || img.modifiedMap.Test(chunk) {
		return nil
	}
	pristine := img.pristineBytes(chunk)
	if pristine == 0 {
		return nil
	}
	buf := make([]byte, pristine)
	if err := img.fetchData(buf, chunk*uint64(img.chunkSize), pristine, intr); err != nil {
		return err
	}
	if err := img.pstore.writeChunk(chunk, buf); err != nil {
		return err
	}
	img.chunkFetches.Add(1)
	return nil
}
