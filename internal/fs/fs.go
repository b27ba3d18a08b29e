// Package fs defines the mount namespace: a small read-mostly directory
// tree mapping each path to a file implementation (counter, fixed integer,
// static text, raw image, subscriber stream). It is independent of the VFS
// host serving it.
package fs

import (
	"github.com/nicolagi/vmnetfs/internal/image"
	"github.com/nicolagi/vmnetfs/internal/stream"
)

// Attr describes a namespace file to the host.
type Attr struct {
	Mode uint32 // permission bits
	Size uint64
	// Direct files report no size; the host must read them to EOF rather
	// than trust Size (counters format their value at open).
	Direct bool
	// Nonseekable files ignore the read offset (streams).
	Nonseekable bool
}

// A File is an entry in the namespace. Opening it yields a Handle carrying
// per-open state.
type File interface {
	Attr() Attr
	Open(blocking bool) (Handle, error)
}

// A Handle is one open instance of a File. Operations a file kind does not
// support fail with linuxerr.EPERM.
type Handle interface {
	Read(p []byte, off uint64, intr image.Interrupt) (int, error)
	Write(p []byte, off uint64, intr image.Interrupt) (int, error)
	Truncate(size uint64, intr image.Interrupt) error
	Release()
}

// A Poller is implemented by handles that can report readiness changes.
// Poll reports whether the handle is ready now; if it is not, notify fires
// once when it becomes ready.
type Poller interface {
	Poll(notify func()) bool
}

// A Truncater is implemented by files that support truncation without an
// open handle (the host's wstat path).
type Truncater interface {
	Truncate(size uint64, intr image.Interrupt) error
}

// Dir is an immutable directory in the namespace.
type Dir struct {
	entries []*Dirent
}

// Dirent names either a subdirectory or a file. ID is unique across the
// namespace; hosts use it for inode-like identifiers.
type Dirent struct {
	ID     uint64
	Name   string
	Parent *Dirent // nil at the root
	Dir    *Dir    // nil for files
	File   File    // nil for directories
}

func (d *Dir) Lookup(name string) *Dirent {
	for _, e := range d.entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

func (d *Dir) Entries() []*Dirent { return d.entries }

type builder struct {
	nextID uint64
}

func (b *builder) id() uint64 {
	b.nextID++
	return b.nextID
}

func (b *builder) addDir(parent *Dirent, name string) *Dirent {
	e := &Dirent{ID: b.id(), Name: name, Parent: parent, Dir: new(Dir)}
	parent.Dir.entries = append(parent.Dir.entries, e)
	return e
}

func (b *builder) addFile(parent *Dirent, name string, f File) {
	e := &Dirent{ID: b.id(), Name: name, Parent: parent, File: f}
	parent.Dir.entries = append(parent.Dir.entries, e)
}

// Build assembles the namespace of a session: the censored configuration,
// the global log, and one subtree per image.
func Build(configText string, images []*image.Image, logGroup *stream.Group) *Dirent {
	b := new(builder)
	root := &Dirent{ID: b.id(), Name: "/", Dir: new(Dir)}
	b.addFile(root, "config", &staticFile{contents: []byte(configText)})
	b.addFile(root, "log", &streamFile{group: logGroup})
	for _, img := range images {
		img := img
		d := b.addDir(root, img.Name())
		b.addFile(d, "image", &imageFile{img: img})
		stats := b.addDir(d, "stats")
		b.addFile(stats, "bytes_read", &counterFile{c: img.BytesRead()})
		b.addFile(stats, "bytes_written", &counterFile{c: img.BytesWritten()})
		b.addFile(stats, "chunk_fetches", &counterFile{c: img.ChunkFetches()})
		b.addFile(stats, "chunk_dirties", &counterFile{c: img.ChunkDirties()})
		b.addFile(stats, "io_errors", &counterFile{c: img.IOErrors()})
		b.addFile(stats, "chunk_size", &fixedFile{value: func() uint64 { return uint64(img.ChunkSize()) }})
		b.addFile(stats, "chunks", &fixedFile{value: img.Chunks})
		streams := b.addDir(d, "streams")
		b.addFile(streams, "chunks_accessed", &streamFile{group: img.AccessedMap().StreamGroup()})
		b.addFile(streams, "chunks_cached", &streamFile{group: img.PresentMap().StreamGroup()})
		b.addFile(streams, "chunks_modified", &streamFile{group: img.ModifiedMap().StreamGroup()})
		b.addFile(streams, "io", &streamFile{group: img.IOStream()})
	}
	return root
}
