package pseudofd

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/vfs"
)

// Handler implements one node's worth of the reverse-FD bridge's tagged
// union of operations (spec §4.10). Like vfs.BaseFD, concrete handlers
// embed BaseHandler and shadow only the operations they support (spec §9:
// interface with Not-supported defaults, not an inheritance hierarchy).
type Handler interface {
	Lookup(ctx context.Context, path string, lookup cloudabi.LookupFlags) (vfs.Stat, cloudabi.Errno)
	Open(ctx context.Context, path string, lookup cloudabi.LookupFlags, oflags cloudabi.OFlags, rightsBase, rightsInheriting cloudabi.Rights, fdflags cloudabi.FDFlags) (Handler, vfs.Stat, cloudabi.Errno)
	Readlink(ctx context.Context, path string) (string, cloudabi.Errno)
	Rename(ctx context.Context, path, destPath string) cloudabi.Errno
	Symlink(ctx context.Context, target, path string) cloudabi.Errno
	Link(ctx context.Context, path string, lookup cloudabi.LookupFlags, destPath string) cloudabi.Errno
	Unlink(ctx context.Context, path string, isDir bool) cloudabi.Errno
	Create(ctx context.Context, path string, filetype cloudabi.FileType) (uint64, cloudabi.Errno)
	Close(ctx context.Context)
	PRead(ctx context.Context, offset int64, length int) ([]byte, cloudabi.Errno)
	PWrite(ctx context.Context, offset int64, data []byte) (int, cloudabi.Errno)
	Datasync(ctx context.Context) cloudabi.Errno
	Sync(ctx context.Context) cloudabi.Errno
	Readdir(ctx context.Context, cookie uint64, limit int) ([]vfs.DirEntry, cloudabi.Errno)
	StatFGet(ctx context.Context) (vfs.Stat, cloudabi.Errno)
	StatFPut(ctx context.Context, s vfs.Stat, mask uint32) cloudabi.Errno
	IsReadable(ctx context.Context) (bool, cloudabi.Errno)
	Allocate(ctx context.Context, offset, length int64) cloudabi.Errno
}

// BaseHandler supplies a Not-supported default for every Handler operation.
// Concrete handlers embed it and shadow only what they implement.
type BaseHandler struct{}

func (BaseHandler) Lookup(context.Context, string, cloudabi.LookupFlags) (vfs.Stat, cloudabi.Errno) {
	return vfs.Stat{}, cloudabi.ENotSup
}
func (BaseHandler) Open(context.Context, string, cloudabi.LookupFlags, cloudabi.OFlags, cloudabi.Rights, cloudabi.Rights, cloudabi.FDFlags) (Handler, vfs.Stat, cloudabi.Errno) {
	return nil, vfs.Stat{}, cloudabi.ENotSup
}
func (BaseHandler) Readlink(context.Context, string) (string, cloudabi.Errno) {
	return "", cloudabi.ENotSup
}
func (BaseHandler) Rename(context.Context, string, string) cloudabi.Errno  { return cloudabi.ENotSup }
func (BaseHandler) Symlink(context.Context, string, string) cloudabi.Errno { return cloudabi.ENotSup }
func (BaseHandler) Link(context.Context, string, cloudabi.LookupFlags, string) cloudabi.Errno {
	return cloudabi.ENotSup
}
func (BaseHandler) Unlink(context.Context, string, bool) cloudabi.Errno { return cloudabi.ENotSup }
func (BaseHandler) Create(context.Context, string, cloudabi.FileType) (uint64, cloudabi.Errno) {
	return 0, cloudabi.ENotSup
}
func (BaseHandler) Close(context.Context) {}
func (BaseHandler) PRead(context.Context, int64, int) ([]byte, cloudabi.Errno) {
	return nil, cloudabi.ENotSup
}
func (BaseHandler) PWrite(context.Context, int64, []byte) (int, cloudabi.Errno) {
	return 0, cloudabi.ENotSup
}
func (BaseHandler) Datasync(context.Context) cloudabi.Errno { return cloudabi.ENotSup }
func (BaseHandler) Sync(context.Context) cloudabi.Errno     { return cloudabi.ENotSup }
func (BaseHandler) Readdir(context.Context, uint64, int) ([]vfs.DirEntry, cloudabi.Errno) {
	return nil, cloudabi.ENotSup
}
func (BaseHandler) StatFGet(context.Context) (vfs.Stat, cloudabi.Errno) {
	return vfs.Stat{}, cloudabi.ENotSup
}
func (BaseHandler) StatFPut(context.Context, vfs.Stat, uint32) cloudabi.Errno {
	return cloudabi.ENotSup
}
func (BaseHandler) IsReadable(context.Context) (bool, cloudabi.Errno) { return false, cloudabi.ENotSup }
func (BaseHandler) Allocate(context.Context, int64, int64) cloudabi.Errno {
	return cloudabi.ENotSup
}

// PairFactory creates a fresh connected stream-socket pair for a newly
// opened pseudo-FD/reverse-FD bridge (spec §4.10: "both backed by a stream
// socket pair"). Injected rather than imported directly so this package
// doesn't depend on the concrete socket implementation (spec §9 design
// note: compose via a callback, not a base class) — the kernel wires this
// to unixsock.Store.
type PairFactory func() (serverEnd, clientEnd vfs.FD)

// ReverseFD is the server-side half of the bridge: it reads requests off
// conn, dispatches them to handler, and writes replies back.
type ReverseFD struct {
	conn    vfs.FD
	handler Handler
	pairs   PairFactory
}

// Serve starts a ReverseFD's dispatch loop in the background.
func Serve(conn vfs.FD, handler Handler, pairs PairFactory) *ReverseFD {
	r := &ReverseFD{conn: conn, handler: handler, pairs: pairs}
	go r.loop()
	return r
}

func (r *ReverseFD) loop() {
	ctx := context.Background()
	for {
		buf := make([]byte, maxMessageBytes)
		res, errno := r.conn.SockRecv(ctx, [][]byte{buf}, 0)
		if errno != cloudabi.ESuccess || res.DataLen == 0 {
			r.handler.Close(ctx)
			return
		}
		req, err := DecodeRequest(buf[:res.DataLen])
		if err != nil {
			continue
		}
		reply, fds := r.dispatch(ctx, req)
		body := EncodeReply(reply)
		if _, errno := r.conn.SockSend(ctx, [][]byte{body}, fds); errno != cloudabi.ESuccess {
			return
		}
	}
}

// NotifyBecomesReadable sends the unsolicited readiness notification (spec
// §4.10) any producer of new data for this node can call, independent of
// the request/reply loop.
func (r *ReverseFD) NotifyBecomesReadable(ctx context.Context) {
	r.conn.SockSend(ctx, [][]byte{EncodeReply(Reply{ID: 0})}, nil)
}

func (r *ReverseFD) dispatch(ctx context.Context, req Request) (Reply, []vfs.FDMapping) {
	fields, err := parsePayload(req.Payload)
	if err != nil {
		return Reply{ID: req.ID, Errno: cloudabi.EInval}, nil
	}
	path := func() string {
		f, _ := firstField(fields, pfPath)
		return f.string()
	}
	lookup := func() cloudabi.LookupFlags {
		f, _ := firstField(fields, pfLookup)
		return cloudabi.LookupFlags(f.varint())
	}

	switch req.Op {
	case OpLookup:
		st, errno := r.handler.Lookup(ctx, path(), lookup())
		if errno != cloudabi.ESuccess {
			return Reply{ID: req.ID, Errno: errno}, nil
		}
		return Reply{ID: req.ID, Payload: encodeStatPayload(st)}, nil

	case OpOpen:
		oflags, _ := firstField(fields, pfOFlags)
		rbase, _ := firstField(fields, pfRBase)
		rinh, _ := firstField(fields, pfRInh)
		fdflags, _ := firstField(fields, pfFDFlags)
		child, st, errno := r.handler.Open(ctx, path(), lookup(),
			cloudabi.OFlags(oflags.varint()), cloudabi.Rights(rbase.varint()),
			cloudabi.Rights(rinh.varint()), cloudabi.FDFlags(fdflags.varint()))
		if errno != cloudabi.ESuccess {
			return Reply{ID: req.ID, Errno: errno}, nil
		}
		serverEnd, clientEnd := r.pairs()
		Serve(serverEnd, child, r.pairs)
		return Reply{ID: req.ID, Payload: encodeStatPayload(st)}, []vfs.FDMapping{{FD: clientEnd}}

	case OpReadlink:
		target, errno := r.handler.Readlink(ctx, path())
		if errno != cloudabi.ESuccess {
			return Reply{ID: req.ID, Errno: errno}, nil
		}
		var w payloadWriter
		w.str(1, target)
		return Reply{ID: req.ID, Payload: w.b}, nil

	case OpRename:
		dest, _ := firstField(fields, pfDestPath)
		errno := r.handler.Rename(ctx, path(), dest.string())
		return Reply{ID: req.ID, Errno: errno}, nil

	case OpSymlink:
		target, _ := firstField(fields, pfTarget)
		errno := r.handler.Symlink(ctx, target.string(), path())
		return Reply{ID: req.ID, Errno: errno}, nil

	case OpLink:
		dest, _ := firstField(fields, pfDestPath)
		errno := r.handler.Link(ctx, path(), lookup(), dest.string())
		return Reply{ID: req.ID, Errno: errno}, nil

	case OpUnlink:
		isDir, _ := firstField(fields, pfIsDir)
		errno := r.handler.Unlink(ctx, path(), isDir.varint() != 0)
		return Reply{ID: req.ID, Errno: errno}, nil

	case OpCreate:
		ft, _ := firstField(fields, pfFileType)
		ino, errno := r.handler.Create(ctx, path(), cloudabi.FileType(ft.varint()))
		if errno != cloudabi.ESuccess {
			return Reply{ID: req.ID, Errno: errno}, nil
		}
		var w payloadWriter
		w.u64(1, ino)
		return Reply{ID: req.ID, Payload: w.b}, nil

	case OpClose:
		r.handler.Close(ctx)
		return Reply{ID: req.ID}, nil

	case OpPRead:
		off, _ := firstField(fields, pfOffset)
		length, _ := firstField(fields, pfLimit)
		data, errno := r.handler.PRead(ctx, int64(off.varint()), int(length.varint()))
		if errno != cloudabi.ESuccess {
			return Reply{ID: req.ID, Errno: errno}, nil
		}
		var w payloadWriter
		w.bytes(1, data)
		return Reply{ID: req.ID, Payload: w.b}, nil

	case OpPWrite:
		off, _ := firstField(fields, pfOffset)
		data, _ := firstField(fields, pfData)
		n, errno := r.handler.PWrite(ctx, int64(off.varint()), data.bytesVal())
		if errno != cloudabi.ESuccess {
			return Reply{ID: req.ID, Errno: errno}, nil
		}
		var w payloadWriter
		w.u64(1, uint64(n))
		return Reply{ID: req.ID, Payload: w.b}, nil

	case OpDatasync:
		return Reply{ID: req.ID, Errno: r.handler.Datasync(ctx)}, nil

	case OpSync:
		return Reply{ID: req.ID, Errno: r.handler.Sync(ctx)}, nil

	case OpReaddir:
		cookie, _ := firstField(fields, pfCookie)
		limit, _ := firstField(fields, pfLimit)
		entries, errno := r.handler.Readdir(ctx, cookie.varint(), int(limit.varint()))
		if errno != cloudabi.ESuccess {
			return Reply{ID: req.ID, Errno: errno}, nil
		}
		var w payloadWriter
		for _, e := range entries {
			appendDirEntry(&w, 1, e)
		}
		return Reply{ID: req.ID, Payload: w.b}, nil

	case OpStatFGet:
		st, errno := r.handler.StatFGet(ctx)
		if errno != cloudabi.ESuccess {
			return Reply{ID: req.ID, Errno: errno}, nil
		}
		return Reply{ID: req.ID, Payload: encodeStatPayload(st)}, nil

	case OpStatFPut:
		statField, _ := firstField(fields, 1)
		mask, _ := firstField(fields, pfMask)
		st, err := parseStat(statField.bytesVal())
		if err != nil {
			return Reply{ID: req.ID, Errno: cloudabi.EInval}, nil
		}
		errno := r.handler.StatFPut(ctx, st, uint32(mask.varint()))
		return Reply{ID: req.ID, Errno: errno}, nil

	case OpIsReadable:
		readable, errno := r.handler.IsReadable(ctx)
		if errno != cloudabi.ESuccess {
			return Reply{ID: req.ID, Errno: errno}, nil
		}
		var w payloadWriter
		if readable {
			w.u64(1, 1)
		} else {
			w.u64(1, 0)
		}
		return Reply{ID: req.ID, Payload: w.b}, nil

	case OpAllocate:
		off, _ := firstField(fields, pfOffset)
		length, _ := firstField(fields, pfLimit)
		errno := r.handler.Allocate(ctx, int64(off.varint()), int64(length.varint()))
		return Reply{ID: req.ID, Errno: errno}, nil

	default:
		return Reply{ID: req.ID, Errno: cloudabi.ENoSys}, nil
	}
}
