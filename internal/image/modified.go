package image

import (
	"io"
	"io/ioutil"
	"os"
)

// modifiedStore is the sparse overlay holding every chunk that has been
// written. The backing file is unlinked right after creation so it stays
// private to the process and disappears with it. A byte at logical offset o
// lives at offset o of the overlay file; holes read as zeros.
type modifiedStore struct {
	img  *Image
	file *os.File
}

func newModifiedStore(img *Image) (*modifiedStore, error) {
	const method = "newModifiedStore"
	f, err := ioutil.TempFile("", "vmnetfs-modified-")
	if err != nil {
		return nil, errorf(method, "%v", err)
	}
	if err := os.Remove(f.Name()); err != nil {
		_ = f.Close()
		return nil, errorf(method, "unlink %s: %v", f.Name(), err)
	}
	return &modifiedStore{img: img, file: f}, nil
}

// readChunk fills p[:length]. Bytes never written, including everything
// past the write frontier, read as zeros.
func (s *modifiedStore) readChunk(p []byte, chunk uint64, offset, length uint32) error {
	const method = "modifiedStore.readChunk"
	off := int64(chunk)*int64(s.img.chunkSize) + int64(offset)
	n, err := s.file.ReadAt(p[:length], off)
	if err != nil && err != io.EOF {
		return errorf(method, "%v", err)
	}
	for i := n; i < int(length); i++ {
		p[i] = 0
	}
	return nil
}

func (s *modifiedStore) writeChunk(data []byte, chunk uint64, offset uint32) error {
	const method = "modifiedStore.writeChunk"
	off := int64(chunk)*int64(s.img.chunkSize) + int64(offset)
	if _, err := s.file.WriteAt(data, off); err != nil {
		return errorf(method, "%v", err)
	}
	return nil
}

// zeroRange clears the overlay bytes in [start, end). Truncation uses it so
// that a later re-extension of the image reads zeros. The range never spans
// more than one chunk, which bounds the scratch buffer.
func (s *modifiedStore) zeroRange(start, end uint64) error {
	const method = "modifiedStore.zeroRange"
	if end <= start {
		return nil
	}
	if _, err := s.file.WriteAt(make([]byte, end-start), int64(start)); err != nil {
		return errorf(method, "%v", err)
	}
	return nil
}

func (s *modifiedStore) close() {
	_ = s.file.Close()
}
