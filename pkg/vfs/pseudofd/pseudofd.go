package pseudofd

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/sync"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/waiter"
)

// PseudoFD is the user-side half of the reverse-FD bridge (spec §4.10): its
// operations are serialized onto conn (a dedicated stream-socket connection
// to a ReverseFD server) and block for the matching reply. Only one request
// is outstanding at a time, enforced by callMu.
type PseudoFD struct {
	vfs.BaseFD

	conn vfs.FD

	callMu sync.Mutex // held for the duration of one request/reply round trip

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]chan pendingReply
	closed    bool
	pipeErrno cloudabi.Errno

	readableGate *waiter.Gate

	offMu  sync.Mutex
	offset int64
}

type pendingReply struct {
	reply Reply
	fds   []vfs.FDMapping
}

// New wraps conn (already connected to a ReverseFD peer) as a client-side
// pseudo-FD of the given file type, and starts the background reader that
// dispatches replies to outstanding requests and becomes_readable
// notifications to pollers.
func New(conn vfs.FD, filetype cloudabi.FileType, name string) *PseudoFD {
	p := &PseudoFD{
		conn:         conn,
		pending:      make(map[uint64]chan pendingReply),
		readableGate: waiter.NewGate(),
	}
	p.InitBaseFD(filetype, name)
	go p.readerLoop()
	return p
}

func (p *PseudoFD) readerLoop() {
	ctx := context.Background()
	for {
		buf := make([]byte, maxMessageBytes)
		res, errno := p.conn.SockRecv(ctx, [][]byte{buf}, 1)
		if errno != cloudabi.ESuccess || res.DataLen == 0 {
			p.fail(cloudabi.EPipe)
			return
		}
		reply, err := DecodeReply(buf[:res.DataLen])
		if err != nil {
			continue
		}
		if reply.ID == 0 {
			// Unsolicited becomes_readable notification (spec §4.10).
			p.readableGate.Fire()
			continue
		}
		p.mu.Lock()
		ch, ok := p.pending[reply.ID]
		if ok {
			delete(p.pending, reply.ID)
		}
		p.mu.Unlock()
		if ok {
			ch <- pendingReply{reply: reply, fds: res.FDs}
		}
	}
}

// fail marks the bridge permanently broken: every outstanding request fails
// with pipeErrno and every future request fails immediately (spec §4.10:
// "subsequent operations on the pseudo-FD fail not-connected").
func (p *PseudoFD) fail(errno cloudabi.Errno) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.pipeErrno = errno
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	p.readableGate.Fire()
}

func (p *PseudoFD) notConnectedErrno() cloudabi.Errno {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		if p.pipeErrno == cloudabi.EPipe {
			return cloudabi.ENotConn
		}
		return p.pipeErrno
	}
	return cloudabi.ESuccess
}

// call sends one request and blocks for its reply. Only one call may be in
// flight at a time per pseudo-FD (spec §4.10).
func (p *PseudoFD) call(ctx context.Context, op Op, payload []byte) (Reply, []vfs.FDMapping, cloudabi.Errno) {
	p.callMu.Lock()
	defer p.callMu.Unlock()

	if errno := p.notConnectedErrno(); errno != cloudabi.ESuccess {
		return Reply{}, nil, errno
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	ch := make(chan pendingReply, 1)
	p.pending[id] = ch
	p.mu.Unlock()

	body := EncodeRequest(Request{ID: id, Op: op, Payload: payload})
	if _, errno := p.conn.SockSend(ctx, [][]byte{body}, nil); errno != cloudabi.ESuccess {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		p.fail(cloudabi.EPipe)
		return Reply{}, nil, cloudabi.EPipe
	}

	select {
	case pr, ok := <-ch:
		if !ok {
			p.mu.Lock()
			errno := p.pipeErrno
			p.mu.Unlock()
			return Reply{}, nil, errno
		}
		return pr.reply, pr.fds, cloudabi.ESuccess
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return Reply{}, nil, cloudabi.EIntr
	}
}

// DecRef tells the peer this pseudo-FD is going away, then releases the
// underlying connection.
func (p *PseudoFD) DecRef() {
	p.BaseFD.AtomicRefCount.DecRefWithDestructor(func() {
		p.call(context.Background(), OpClose, nil)
		p.conn.DecRef()
	})
}

func (p *PseudoFD) Read(ctx context.Context, iov [][]byte) (int, cloudabi.Errno) {
	p.offMu.Lock()
	off := p.offset
	p.offMu.Unlock()
	n, errno := p.PRead(ctx, iov, off)
	if errno == cloudabi.ESuccess {
		p.offMu.Lock()
		p.offset += int64(n)
		p.offMu.Unlock()
	}
	return n, errno
}

func (p *PseudoFD) Write(ctx context.Context, iov [][]byte) (int, cloudabi.Errno) {
	p.offMu.Lock()
	off := p.offset
	p.offMu.Unlock()
	n, errno := p.PWrite(ctx, iov, off)
	if errno == cloudabi.ESuccess {
		p.offMu.Lock()
		p.offset += int64(n)
		p.offMu.Unlock()
	}
	return n, errno
}

func (p *PseudoFD) PRead(ctx context.Context, iov [][]byte, offset int64) (int, cloudabi.Errno) {
	length := 0
	for _, b := range iov {
		length += len(b)
	}
	var w payloadWriter
	w.u64(pfOffset, uint64(offset))
	w.u64(pfLimit, uint64(length))
	reply, _, errno := p.call(ctx, OpPRead, w.b)
	if errno != cloudabi.ESuccess {
		return 0, errno
	}
	if reply.Errno != cloudabi.ESuccess {
		return 0, reply.Errno
	}
	fields, err := parsePayload(reply.Payload)
	if err != nil || len(fields) == 0 {
		return 0, cloudabi.EInval
	}
	n, _ := vfs.CopyOut(iov, fields[0].bytesVal())
	return n, cloudabi.ESuccess
}

func (p *PseudoFD) PWrite(ctx context.Context, iov [][]byte, offset int64) (int, cloudabi.Errno) {
	data := vfs.CopyIn(iov, 0)
	var w payloadWriter
	w.u64(pfOffset, uint64(offset))
	w.bytes(pfData, data)
	reply, _, errno := p.call(ctx, OpPWrite, w.b)
	if errno != cloudabi.ESuccess {
		return 0, errno
	}
	if reply.Errno != cloudabi.ESuccess {
		return 0, reply.Errno
	}
	fields, err := parsePayload(reply.Payload)
	if err != nil || len(fields) == 0 {
		return 0, cloudabi.EInval
	}
	return int(fields[0].varint()), cloudabi.ESuccess
}

func (p *PseudoFD) Seek(ctx context.Context, delta int64, whence cloudabi.Whence) (int64, cloudabi.Errno) {
	p.offMu.Lock()
	defer p.offMu.Unlock()
	var base int64
	switch whence {
	case cloudabi.WhenceSet:
		base = 0
	case cloudabi.WhenceCur:
		base = p.offset
	case cloudabi.WhenceEnd:
		st, errno := p.statFGetLocked(ctx)
		if errno != cloudabi.ESuccess {
			return 0, errno
		}
		base = int64(st.Size)
	default:
		return 0, cloudabi.EInval
	}
	newOff := base + delta
	if newOff < 0 {
		return 0, cloudabi.EInval
	}
	p.offset = newOff
	return newOff, cloudabi.ESuccess
}

func (p *PseudoFD) Sync(ctx context.Context) cloudabi.Errno {
	reply, _, errno := p.call(ctx, OpSync, nil)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return reply.Errno
}

func (p *PseudoFD) Datasync(ctx context.Context) cloudabi.Errno {
	reply, _, errno := p.call(ctx, OpDatasync, nil)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return reply.Errno
}

func (p *PseudoFD) StatFGet(ctx context.Context) (vfs.Stat, cloudabi.Errno) {
	return p.statFGetLocked(ctx)
}

func (p *PseudoFD) statFGetLocked(ctx context.Context) (vfs.Stat, cloudabi.Errno) {
	reply, _, errno := p.call(ctx, OpStatFGet, nil)
	if errno != cloudabi.ESuccess {
		return vfs.Stat{}, errno
	}
	if reply.Errno != cloudabi.ESuccess {
		return vfs.Stat{}, reply.Errno
	}
	return parseStat(reply.Payload)
}

func (p *PseudoFD) StatFPut(ctx context.Context, s vfs.Stat, mask uint32) cloudabi.Errno {
	var w payloadWriter
	appendStat(&w, 1, s)
	w.u64(pfMask, uint64(mask))
	reply, _, errno := p.call(ctx, OpStatFPut, w.b)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return reply.Errno
}

// OpenAt sends an "open" request and, on success, wraps the new connection
// the server passes back (an FD-passed stream socket to a freshly spun up
// ReverseFD) as a new PseudoFD.
func (p *PseudoFD) OpenAt(ctx context.Context, path string, lookup cloudabi.LookupFlags, oflags cloudabi.OFlags, rightsBase, rightsInheriting cloudabi.Rights, fdflags cloudabi.FDFlags) (vfs.FD, cloudabi.Errno) {
	var w payloadWriter
	w.str(pfPath, path)
	w.u64(pfLookup, uint64(lookup))
	w.u64(pfOFlags, uint64(oflags))
	w.u64(pfRBase, uint64(rightsBase))
	w.u64(pfRInh, uint64(rightsInheriting))
	w.u64(pfFDFlags, uint64(fdflags))
	reply, fds, errno := p.call(ctx, OpOpen, w.b)
	if errno != cloudabi.ESuccess {
		return nil, errno
	}
	if reply.Errno != cloudabi.ESuccess {
		return nil, reply.Errno
	}
	if len(fds) != 1 {
		return nil, cloudabi.EInval
	}
	st, err := parseStat(reply.Payload)
	if err != nil {
		return nil, cloudabi.EInval
	}
	return New(fds[0].FD, st.FileType, path), cloudabi.ESuccess
}

func (p *PseudoFD) ReadDir(ctx context.Context, cookie uint64, limit int) ([]vfs.DirEntry, cloudabi.Errno) {
	var w payloadWriter
	w.u64(pfCookie, cookie)
	w.u64(pfLimit, uint64(limit))
	reply, _, errno := p.call(ctx, OpReaddir, w.b)
	if errno != cloudabi.ESuccess {
		return nil, errno
	}
	if reply.Errno != cloudabi.ESuccess {
		return nil, reply.Errno
	}
	fields, err := parsePayload(reply.Payload)
	if err != nil {
		return nil, cloudabi.EInval
	}
	var entries []vfs.DirEntry
	for _, f := range fields {
		e, err := parseDirEntry(f.bytesVal())
		if err != nil {
			return nil, cloudabi.EInval
		}
		entries = append(entries, e)
	}
	return entries, cloudabi.ESuccess
}

func (p *PseudoFD) FileCreate(ctx context.Context, path string, filetype cloudabi.FileType) (uint64, cloudabi.Errno) {
	var w payloadWriter
	w.str(pfPath, path)
	w.u64(pfFileType, uint64(filetype))
	reply, _, errno := p.call(ctx, OpCreate, w.b)
	if errno != cloudabi.ESuccess {
		return 0, errno
	}
	if reply.Errno != cloudabi.ESuccess {
		return 0, reply.Errno
	}
	fields, err := parsePayload(reply.Payload)
	if err != nil || len(fields) == 0 {
		return 0, cloudabi.EInval
	}
	return fields[0].varint(), cloudabi.ESuccess
}

func (p *PseudoFD) FileUnlink(ctx context.Context, path string, isDir bool) cloudabi.Errno {
	var w payloadWriter
	w.str(pfPath, path)
	if isDir {
		w.u64(pfIsDir, 1)
	} else {
		w.u64(pfIsDir, 0)
	}
	reply, _, errno := p.call(ctx, OpUnlink, w.b)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return reply.Errno
}

// FileLink and FileRename only support operating within the directory this
// pseudo-FD itself represents: the wire protocol has no notion of a
// cross-connection destination directory, so a destDir belonging to a
// different reverse-FD bridge fails not-supported (the pseudofd analogue of
// EXDEV).
func (p *PseudoFD) FileLink(ctx context.Context, path string, lookup cloudabi.LookupFlags, destDir vfs.FD, destPath string) cloudabi.Errno {
	if destDir != vfs.FD(p) {
		return cloudabi.ENotSup
	}
	var w payloadWriter
	w.str(pfPath, path)
	w.u64(pfLookup, uint64(lookup))
	w.str(pfDestPath, destPath)
	reply, _, errno := p.call(ctx, OpLink, w.b)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return reply.Errno
}

func (p *PseudoFD) FileRename(ctx context.Context, path string, destDir vfs.FD, destPath string) cloudabi.Errno {
	if destDir != vfs.FD(p) {
		return cloudabi.ENotSup
	}
	var w payloadWriter
	w.str(pfPath, path)
	w.str(pfDestPath, destPath)
	reply, _, errno := p.call(ctx, OpRename, w.b)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return reply.Errno
}

func (p *PseudoFD) FileReadlink(ctx context.Context, path string) (string, cloudabi.Errno) {
	var w payloadWriter
	w.str(pfPath, path)
	reply, _, errno := p.call(ctx, OpReadlink, w.b)
	if errno != cloudabi.ESuccess {
		return "", errno
	}
	if reply.Errno != cloudabi.ESuccess {
		return "", reply.Errno
	}
	fields, err := parsePayload(reply.Payload)
	if err != nil || len(fields) == 0 {
		return "", cloudabi.EInval
	}
	return fields[0].string(), cloudabi.ESuccess
}

func (p *PseudoFD) FileSymlink(ctx context.Context, target, path string) cloudabi.Errno {
	var w payloadWriter
	w.str(pfTarget, target)
	w.str(pfPath, path)
	reply, _, errno := p.call(ctx, OpSymlink, w.b)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return reply.Errno
}

func (p *PseudoFD) FileStatGet(ctx context.Context, path string, lookup cloudabi.LookupFlags) (vfs.Stat, cloudabi.Errno) {
	var w payloadWriter
	w.str(pfPath, path)
	w.u64(pfLookup, uint64(lookup))
	reply, _, errno := p.call(ctx, OpLookup, w.b)
	if errno != cloudabi.ESuccess {
		return vfs.Stat{}, errno
	}
	if reply.Errno != cloudabi.ESuccess {
		return vfs.Stat{}, reply.Errno
	}
	return parseStat(reply.Payload)
}

// IsReadable issues the explicit readability poll the spec requires in
// addition to the server's unsolicited becomes_readable notifications.
func (p *PseudoFD) IsReadable(ctx context.Context) (bool, cloudabi.Errno) {
	reply, _, errno := p.call(ctx, OpIsReadable, nil)
	if errno != cloudabi.ESuccess {
		return false, errno
	}
	if reply.Errno != cloudabi.ESuccess {
		return false, reply.Errno
	}
	fields, err := parsePayload(reply.Payload)
	if err != nil || len(fields) == 0 {
		return false, cloudabi.ESuccess
	}
	return fields[0].varint() != 0, cloudabi.ESuccess
}

// Allocate issues the file_allocate-shaped request (spec §6's file_allocate
// syscall), not otherwise part of the vfs.FD interface.
func (p *PseudoFD) Allocate(ctx context.Context, offset, length int64) cloudabi.Errno {
	var w payloadWriter
	w.u64(pfOffset, uint64(offset))
	w.u64(pfLimit, uint64(length))
	reply, _, errno := p.call(ctx, OpAllocate, w.b)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return reply.Errno
}

// GetReadSignaler exposes the becomes_readable gate for the poll engine
// (spec §4.10, §4.12): pollers attach to this and the explicit IsReadable
// check decides whether the event actually fired.
func (p *PseudoFD) GetReadSignaler() *waiter.Signaler { return p.readableGate.Current() }
