// Package image implements the on-demand chunked image engine: a pristine
// layer of chunks fetched from the origin and cached on disk, overlaid by a
// private modified layer that absorbs all writes.
package image

import (
	"sync"

	"github.com/nicolagi/vmnetfs/internal/bitmap"
	"github.com/nicolagi/vmnetfs/internal/stat"
	"github.com/nicolagi/vmnetfs/internal/stream"
	"github.com/nicolagi/vmnetfs/internal/transport"
)

// Config carries everything needed to construct an Image. It mirrors one
// image element of the configuration document.
type Config struct {
	Name         string
	URL          string
	Username     string
	Password     string
	Cookies      []string
	FetchOffset  uint64 // added to every range request
	SegmentSize  uint64 // if nonzero, origin is split across <url>.0, <url>.1, ...
	ChunkSize    uint32
	Size         uint64 // size of the origin object when the session began
	CacheDir     string
	ETag         string
	LastModified int64
}

// Image is one logical device backed by a remote origin. All methods are
// safe for concurrent use.
type Image struct {
	name         string
	url          string
	fetchOffset  uint64
	segmentSize  uint64
	chunkSize    uint32
	initialSize  uint64
	etag         string
	lastModified int64

	pool   *transport.Pool
	locks  *lockTable
	pstore *pristineStore
	mstore *modifiedStore

	accessedMap *bitmap.Map
	presentMap  *bitmap.Map
	modifiedMap *bitmap.Map

	ioStream *stream.Group

	bytesRead    *stat.Counter
	bytesWritten *stat.Counter
	chunkFetches *stat.Counter
	chunkDirties *stat.Counter
	ioErrors     *stat.Counter

	// mu is the chunk-state mutex: it guards size. Shrinks are additionally
	// serialized against the chunk locks of the excluded chunks.
	mu   sync.Mutex
	size uint64

	closeOnce sync.Once
	done      chan struct{}
}

// New constructs and initializes an image: it rebuilds the present map from
// the pristine cache directory and opens the modified store. A malformed
// cache entry is a fatal error.
func New(cfg Config) (*Image, error) {
	if cfg.ChunkSize == 0 {
		return nil, errorf("New", "image %q: zero chunk size", cfg.Name)
	}
	pool, err := transport.NewPool(cfg.Username, cfg.Password)
	if err != nil {
		return nil, err
	}
	for _, cookie := range cfg.Cookies {
		if err := pool.SetCookie(cfg.URL, cookie); err != nil {
			return nil, err
		}
	}
	img := &Image{
		name:         cfg.Name,
		url:          cfg.URL,
		fetchOffset:  cfg.FetchOffset,
		segmentSize:  cfg.SegmentSize,
		chunkSize:    cfg.ChunkSize,
		initialSize:  cfg.Size,
		etag:         cfg.ETag,
		lastModified: cfg.LastModified,
		pool:         pool,
		locks:        newLockTable(),
		accessedMap:  bitmap.New(),
		presentMap:   bitmap.New(),
		modifiedMap:  bitmap.New(),
		ioStream:     stream.NewGroup(nil),
		bytesRead:    stat.NewCounter(),
		bytesWritten: stat.NewCounter(),
		chunkFetches: stat.NewCounter(),
		chunkDirties: stat.NewCounter(),
		ioErrors:     stat.NewCounter(),
		size:         cfg.Size,
		done:         make(chan struct{}),
	}
	img.pstore = &pristineStore{img: img, dir: cfg.CacheDir}
	if err := img.pstore.init(); err != nil {
		return nil, err
	}
	img.mstore, err = newModifiedStore(img)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (img *Image) Name() string { return img.name }

func (img *Image) ChunkSize() uint32 { return img.chunkSize }

func (img *Image) InitialSize() uint64 { return img.initialSize }

// Size returns the current logical size of the image.
func (img *Image) Size() uint64 {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.size
}

// Chunks returns the chunk count derived from the current size.
func (img *Image) Chunks() uint64 {
	return (img.Size() + uint64(img.chunkSize) - 1) / uint64(img.chunkSize)
}

func (img *Image) AccessedMap() *bitmap.Map { return img.accessedMap }
func (img *Image) PresentMap() *bitmap.Map  { return img.presentMap }
func (img *Image) ModifiedMap() *bitmap.Map { return img.modifiedMap }

func (img *Image) IOStream() *stream.Group { return img.ioStream }

func (img *Image) BytesRead() *stat.Counter    { return img.bytesRead }
func (img *Image) BytesWritten() *stat.Counter { return img.bytesWritten }
func (img *Image) ChunkFetches() *stat.Counter { return img.chunkFetches }
func (img *Image) ChunkDirties() *stat.Counter { return img.chunkDirties }
func (img *Image) IOErrors() *stat.Counter     { return img.ioErrors }

// Close ends the image's session: stream subscribers unblock with EOF and
// the background prefetcher, if any, stops. In-flight operations complete.
func (img *Image) Close() {
	img.closeOnce.Do(func() {
		close(img.done)
		img.ioStream.Close()
		img.accessedMap.StreamGroup().Close()
		img.presentMap.StreamGroup().Close()
		img.modifiedMap.StreamGroup().Close()
		img.mstore.close()
	})
}
