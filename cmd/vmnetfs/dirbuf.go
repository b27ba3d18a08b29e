package main

import (
	"fmt"
	"sort"

	"github.com/lionkov/go9p/p"
	"github.com/nicolagi/vmnetfs/internal/linuxerr"
)

// dirBuffer accumulates packed directory entries at open time and serves
// 9P directory reads from them. Per read(5), a directory read offset must
// be zero or the end of a previous read, and entries are never truncated.
type dirBuffer struct {
	packed []byte
	ends   []int
}

func (b *dirBuffer) write(dir *p.Dir) {
	b.packed = append(b.packed, p.PackDir(dir, false)...)
	b.ends = append(b.ends, len(b.packed))
}

func (b *dirBuffer) read(out []byte, offset int) (int, error) {
	count := len(out)
	if offset > 0 {
		i := sort.SearchInts(b.ends, offset)
		if i == len(b.ends) || b.ends[i] != offset {
			return 0, fmt.Errorf("%d is not a dir entry offset: %w", offset, linuxerr.EINVAL)
		}
	}
	j := sort.SearchInts(b.ends, offset+count)
	if j == len(b.ends) || b.ends[j] != offset+count {
		if j == 0 {
			count = 0
		} else {
			count = b.ends[j-1] - offset
		}
	}
	if count < 0 {
		return 0, fmt.Errorf("short %d bytes for dir entry: %w", -count, linuxerr.EINVAL)
	}
	return copy(out, b.packed[offset:offset+count]), nil
}
