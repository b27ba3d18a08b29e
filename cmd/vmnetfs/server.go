package main

import (
	"os/user"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lionkov/go9p/p"
	"github.com/lionkov/go9p/p/srv"
	"github.com/nicolagi/vmnetfs/internal/fs"
	"github.com/nicolagi/vmnetfs/internal/image"
	"github.com/nicolagi/vmnetfs/internal/linuxerr"
	log "github.com/sirupsen/logrus"
)

// ops serves the namespace over 9P. Unlike a general-purpose file server it
// holds no global lock across requests: stream reads block for arbitrarily
// long, and the engine components serialize internally.
type ops struct {
	root    *fs.Dirent
	uid     string
	gid     string
	started uint32

	// In-flight requests, so that Tflush can mark one interrupted.
	mu       sync.Mutex
	inflight map[*srv.Req]*int32
}

var (
	_ srv.ReqOps        = (*ops)(nil)
	_ srv.FidOps        = (*ops)(nil)
	_ srv.ReqProcessOps = (*ops)(nil)

	Eperm     = "permission denied"
	Enotfound = "file not found"
)

// fsFid is the per-fid state: the dirent it points at, plus the open
// handle or directory snapshot.
type fsFid struct {
	dent   *fs.Dirent
	handle fs.Handle
	dirb   *dirBuffer
}

func newOps(root *fs.Dirent) (*ops, error) {
	u, err := user.Current()
	if err != nil {
		return nil, err
	}
	gid := u.Gid
	if g, err := user.LookupGroupId(u.Gid); err == nil {
		gid = g.Name
	}
	return &ops{
		root:     root,
		uid:      u.Username,
		gid:      gid,
		started:  uint32(time.Now().Unix()),
		inflight: make(map[*srv.Req]*int32),
	}, nil
}

func logRespondError(r *srv.Req, err string) {
	log.Printf("Rerror: %s", err)
	r.RespondError(err)
}

// ReqProcess implements srv.ReqProcessOps. It registers the request so
// that a later Tflush can interrupt it.
func (ops *ops) ReqProcess(r *srv.Req) {
	ops.mu.Lock()
	ops.inflight[r] = new(int32)
	ops.mu.Unlock()
	r.Process()
}

// ReqRespond implements srv.ReqProcessOps.
func (ops *ops) ReqRespond(r *srv.Req) {
	ops.mu.Lock()
	delete(ops.inflight, r)
	ops.mu.Unlock()
	r.PostProcess()
}

// Flush marks the flushed request interrupted. The blocked operation
// notices at its next cancellation poll; the library answers the Tflush.
func (ops *ops) Flush(r *srv.Req) {
	ops.mu.Lock()
	if flag, ok := ops.inflight[r]; ok {
		atomic.StoreInt32(flag, 1)
	}
	ops.mu.Unlock()
}

// interruptFor returns the cancellation predicate the engine polls while
// serving r.
func (ops *ops) interruptFor(r *srv.Req) image.Interrupt {
	ops.mu.Lock()
	flag := ops.inflight[r]
	ops.mu.Unlock()
	if flag == nil {
		return nil
	}
	return func() bool { return atomic.LoadInt32(flag) != 0 }
}

func (ops *ops) qid(dent *fs.Dirent) (qid p.Qid) {
	qid.Path = dent.ID
	if dent.Dir != nil {
		qid.Type = p.QTDIR
	}
	return qid
}

func (ops *ops) dir(dent *fs.Dirent) (dir p.Dir) {
	dir.Qid = ops.qid(dent)
	dir.Name = dent.Name
	dir.Uid = ops.uid
	dir.Gid = ops.gid
	dir.Mtime = ops.started
	dir.Atime = ops.started
	if dent.Dir != nil {
		dir.Mode = p.DMDIR | 0500
	} else {
		a := dent.File.Attr()
		dir.Mode = a.Mode
		if !a.Direct {
			dir.Length = a.Size
		}
	}
	return dir
}

func (ops *ops) FidDestroy(fid *srv.Fid) {
	if fid.Aux == nil {
		return
	}
	f := fid.Aux.(*fsFid)
	if f.handle != nil {
		f.handle.Release()
		f.handle = nil
	}
}

func (ops *ops) Attach(r *srv.Req) {
	r.Fid.Aux = &fsFid{dent: ops.root}
	qid := ops.qid(ops.root)
	r.RespondRattach(&qid)
}

func (ops *ops) Walk(r *srv.Req) {
	f := r.Fid.Aux.(*fsFid)
	if len(r.Tc.Wname) == 0 {
		r.Newfid.Aux = &fsFid{dent: f.dent}
		r.RespondRwalk(nil)
		return
	}
	dent := f.dent
	var qids []p.Qid
	for _, name := range r.Tc.Wname {
		switch {
		case name == "..":
			if dent.Parent != nil {
				dent = dent.Parent
			}
		case dent.Dir == nil:
			logRespondError(r, linuxerr.ENOTDIR.Error())
			return
		default:
			next := dent.Dir.Lookup(name)
			if next == nil {
				if len(qids) == 0 {
					logRespondError(r, Enotfound)
					return
				}
				r.RespondRwalk(qids)
				return
			}
			dent = next
		}
		qids = append(qids, ops.qid(dent))
	}
	r.Newfid.Aux = &fsFid{dent: dent}
	r.RespondRwalk(qids)
}

func (ops *ops) Open(r *srv.Req) {
	f := r.Fid.Aux.(*fsFid)
	if r.Tc.Mode&p.ORCLOSE != 0 {
		logRespondError(r, Eperm)
		return
	}
	qid := ops.qid(f.dent)
	if f.dent.Dir != nil {
		if r.Tc.Mode&3 != p.OREAD {
			logRespondError(r, linuxerr.EISDIR.Error())
			return
		}
		f.dirb = new(dirBuffer)
		for _, e := range f.dent.Dir.Entries() {
			dir := ops.dir(e)
			f.dirb.write(&dir)
		}
		r.RespondRopen(&qid, 0)
		return
	}
	handle, err := f.dent.File.Open(true)
	if err != nil {
		logRespondError(r, err.Error())
		return
	}
	if r.Tc.Mode&p.OTRUNC != 0 {
		if err := handle.Truncate(0, ops.interruptFor(r)); err != nil {
			handle.Release()
			logRespondError(r, err.Error())
			return
		}
	}
	f.handle = handle
	r.RespondRopen(&qid, 0)
}

func (ops *ops) Create(r *srv.Req) {
	logRespondError(r, Eperm)
}

func (ops *ops) Read(r *srv.Req) {
	f := r.Fid.Aux.(*fsFid)
	if err := p.InitRread(r.Rc, r.Tc.Count); err != nil {
		logRespondError(r, err.Error())
		return
	}
	var count int
	var err error
	switch {
	case f.dirb != nil:
		count, err = f.dirb.read(r.Rc.Data[:r.Tc.Count], int(r.Tc.Offset))
	case f.handle != nil:
		count, err = f.handle.Read(r.Rc.Data[:r.Tc.Count], r.Tc.Offset, ops.interruptFor(r))
	default:
		err = linuxerr.EINVAL
	}
	if err != nil {
		logRespondError(r, err.Error())
		return
	}
	p.SetRreadCount(r.Rc, uint32(count))
	r.Respond()
}

func (ops *ops) Write(r *srv.Req) {
	f := r.Fid.Aux.(*fsFid)
	if f.handle == nil {
		logRespondError(r, linuxerr.EINVAL.Error())
		return
	}
	count, err := f.handle.Write(r.Tc.Data, r.Tc.Offset, ops.interruptFor(r))
	if err != nil {
		logRespondError(r, err.Error())
		return
	}
	r.RespondRwrite(uint32(count))
}

func (ops *ops) Clunk(r *srv.Req) {
	// The handle, if any, is released by FidDestroy.
	r.RespondRclunk()
}

func (ops *ops) Remove(r *srv.Req) {
	logRespondError(r, Eperm)
}

func (ops *ops) Stat(r *srv.Req) {
	f := r.Fid.Aux.(*fsFid)
	dir := ops.dir(f.dent)
	r.RespondRstat(&dir)
}

func (ops *ops) Wstat(r *srv.Req) {
	f := r.Fid.Aux.(*fsFid)
	dir := r.Tc.Dir
	if dir.ChangeLength() {
		t, ok := f.dent.File.(fs.Truncater)
		if !ok {
			logRespondError(r, Eperm)
			return
		}
		if err := t.Truncate(dir.Length, ops.interruptFor(r)); err != nil {
			logRespondError(r, err.Error())
			return
		}
	}
	// Mounting through the Linux 9p module produces wstat calls carrying
	// atime and muid; failing them would break tools like touch, so both
	// are discarded.
	dir.Atime = ^uint32(0)
	dir.Muid = ""
	if dir.ChangeIllegalFields() || dir.ChangeName() || dir.ChangeMode() || dir.ChangeGID() {
		logRespondError(r, Eperm)
		return
	}
	r.RespondRwstat()
}
