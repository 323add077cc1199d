// Package unixsock implements the Unix-domain socket core of spec §4.9: the
// idle/bound/listening/connected state machine, the process-wide listen
// store keyed by (device,inode), bounded send/receive queues, and FD
// passing with rights preservation.
//
// Grounded on original_source/fd/unixsock.hpp and fd/sock.hpp (state
// machine, bounded queue, the listener's accept queue) and gVisor's
// transport.Endpoint shape (host.go's socket FD: Readiness/EventRegister
// wired straight into the generic FD poll contract).
package unixsock

import (
	"sync"
	"sync/atomic"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/refs"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/waiter"
)

type sockState int

const (
	stateIdle sockState = iota
	stateBound
	stateListening
	stateConnected
	stateShutdown
)

// unixSockDevice is the synthetic device id every Unix socket reports via
// file_stat_get (spec §8 round-trip law: "the received FD ... reports the
// same (device, inode) as the sender's FD" — a fixed device id plus a
// unique per-socket inode is sufficient to satisfy that without a real
// block device backing sockets).
const unixSockDevice = ^uint64(0) // reserved device id, never issued to a real block device

var nextInode uint64 // atomic counter; inode 0 is never issued

func allocInode() uint64 { return atomic.AddUint64(&nextInode, 1) }

// Socket is a Unix-domain socket FD. It embeds vfs.BaseFD for the common
// refcounted/name/flags/error machinery and shadows the socket- and
// I/O-related methods; directory/file operations keep BaseFD's
// Not-supported default.
type Socket struct {
	vfs.BaseFD

	store      *Store
	streamType bool
	inode      uint64

	mu       sync.Mutex
	state    sockState
	bindKey  listenKey
	bound    bool
	listener *Listener

	recvQ      *queue
	selfTarget *refs.WeakTarget[*Socket]
	peer       refs.Weak[*Socket]
}

// New creates an unconnected, unbound socket of the given type (stream or
// datagram).
func New(store *Store, streamType bool) *Socket {
	s := &Socket{store: store, streamType: streamType, inode: allocInode(), recvQ: newQueue()}
	ft := cloudabi.FiletypeSocketDgram
	if streamType {
		ft = cloudabi.FiletypeSocketStream
	}
	s.InitBaseFD(ft, "sock")
	s.selfTarget = refs.NewWeakTarget[*Socket](s)
	return s
}

// NewPair creates two sockets already connected to each other, for
// socket_pair (spec §4.9: "socketpair creates two peer connected sockets").
func NewPair(store *Store, streamType bool) (*Socket, *Socket) {
	a := New(store, streamType)
	b := New(store, streamType)
	a.mu.Lock()
	a.peer = refs.NewWeak(b.selfTarget)
	a.state = stateConnected
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = refs.NewWeak(a.selfTarget)
	b.state = stateConnected
	b.mu.Unlock()
	return a, b
}

func (s *Socket) DecRef() {
	s.BaseFD.DecRefWithDestructor(s.onDestroy)
}

func (s *Socket) onDestroy() {
	s.selfTarget.Drop()
	if peer, ok := s.peer.Navigate(); ok {
		peer.recvQ.close()
	}
	s.mu.Lock()
	bound, key := s.bound, s.bindKey
	s.mu.Unlock()
	if bound {
		s.store.unregister(key)
	}
}

func (s *Socket) peerOf() (*Socket, bool) { return s.peer.Navigate() }

// SockBind records (device,inode) as the socket's address, transitioning
// idle->bound (spec §4.9 state table). Nothing is added to the listen store
// until SockListen.
func (s *Socket) SockBind(ctx context.Context, device, inode uint64) cloudabi.Errno {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateIdle {
		return cloudabi.EInval
	}
	s.bindKey = listenKey{device: device, inode: inode}
	s.bound = true
	s.state = stateBound
	return cloudabi.ESuccess
}

// SockListen transitions bound->listening and creates the listener entry in
// the store (spec §4.9 state table).
func (s *Socket) SockListen(ctx context.Context, backlog int) cloudabi.Errno {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateBound {
		return cloudabi.EInval
	}
	if backlog <= 0 {
		backlog = 1
	}
	s.listener = s.store.listen(s.bindKey, backlog)
	s.state = stateListening
	return cloudabi.ESuccess
}

// SockConnect looks up the listener bound at (device,inode) and enqueues a
// freshly connected peer end onto it, returning immediately without
// blocking (spec §4.9: "the connecting side never blocks, only accept
// does"). Connecting to a (device,inode) with no active listener fails
// connection-refused (spec §8).
func (s *Socket) SockConnect(ctx context.Context, device, inode uint64) cloudabi.Errno {
	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		return cloudabi.EInval
	}
	s.mu.Unlock()

	l, ok := s.store.lookup(listenKey{device: device, inode: inode})
	if !ok {
		return cloudabi.EConnRefused
	}

	acceptEnd := New(s.store, s.streamType)
	s.mu.Lock()
	s.peer = refs.NewWeak(acceptEnd.selfTarget)
	s.state = stateConnected
	s.mu.Unlock()
	acceptEnd.peer = refs.NewWeak(s.selfTarget)
	acceptEnd.state = stateConnected

	if errno := l.enqueue(acceptEnd); errno != cloudabi.ESuccess {
		return errno
	}
	return cloudabi.ESuccess
}

// SockAccept blocks until a connecting peer is queued, then returns the
// queued end (spec §4.9).
func (s *Socket) SockAccept(ctx context.Context) (vfs.FD, cloudabi.Errno) {
	s.mu.Lock()
	if s.state != stateListening {
		s.mu.Unlock()
		return nil, cloudabi.EInval
	}
	l := s.listener
	s.mu.Unlock()

	for {
		if peer, ok := l.dequeue(); ok {
			return peer, cloudabi.ESuccess
		}
		// Attach before rechecking: a connect() racing between the
		// failed dequeue above and this Attach must still be observed,
		// either because its Fire targets the signaler we just
		// attached to, or because the recheck below finds the queued
		// entry it left behind.
		cond := waiter.NewCondition(nil)
		sig := l.gate.Current()
		ch := sig.Attach(cond)
		if peer, ok := l.dequeue(); ok {
			sig.Detach(cond)
			return peer, cloudabi.ESuccess
		}
		select {
		case <-ch:
		case <-ctx.Done():
			sig.Detach(cond)
			return nil, cloudabi.EIntr
		}
	}
}

// SockShutdown marks the socket's write direction closed (spec §4.9: "on
// shutdown-write, further send returns pipe-error") and, since this socket's
// sends are what feeds the peer's receive queue, also closes that peer
// queue so its "a single pending recv still drains the queue, then returns
// 0" invariant holds once drained rather than blocking forever.
func (s *Socket) SockShutdown(ctx context.Context, how cloudabi.SDFlags) cloudabi.Errno {
	s.mu.Lock()
	if s.state != stateConnected && s.state != stateShutdown {
		s.mu.Unlock()
		return cloudabi.ENotConn
	}
	if how&cloudabi.ShutWR != 0 {
		s.state = stateShutdown
	}
	if how&cloudabi.ShutRD != 0 {
		s.recvQ.close()
	}
	peer, hasPeer := s.peerOf()
	s.mu.Unlock()

	if how&cloudabi.ShutWR != 0 && hasPeer {
		peer.recvQ.close()
	}
	return cloudabi.ESuccess
}

func (s *Socket) SockStatGet(ctx context.Context) (vfs.SockStat, cloudabi.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var state uint8
	switch s.state {
	case stateConnected:
		state = 1
	case stateShutdown:
		state = 2
	}
	return vfs.SockStat{SockType: s.FileType(), State: state}, cloudabi.ESuccess
}

func (s *Socket) StatFGet(ctx context.Context) (vfs.Stat, cloudabi.Errno) {
	return vfs.Stat{
		Device:    unixSockDevice,
		Inode:     s.inode,
		FileType:  s.FileType(),
		LinkCount: 1,
	}, cloudabi.ESuccess
}

func (s *Socket) writeShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateShutdown
}

// SockSend enqueues one message onto the peer's receive queue (spec §4.9:
// "each send enqueues one message"). Datagram messages over 1500 bytes fail
// message-size; sends after shutdown(write) fail pipe; a full peer queue
// blocks, or fails again for a non-blocking FD.
func (s *Socket) SockSend(ctx context.Context, iov [][]byte, fds []vfs.FDMapping) (int, cloudabi.Errno) {
	if s.writeShutdown() {
		return 0, cloudabi.EPipe
	}
	peer, ok := s.peerOf()
	if !ok {
		return 0, cloudabi.EPipe
	}

	data := vfs.CopyIn(iov, 0)
	if !s.streamType && len(data) > maxDatagramBytes {
		return 0, cloudabi.EMsgSize
	}

	msg := message{data: data, fds: fds}
	nonblocking := s.Flags()&cloudabi.FDFlagNonblock != 0
	for {
		if s.writeShutdown() {
			return 0, cloudabi.EPipe
		}
		if peer.recvQ.push(msg) {
			return len(data), cloudabi.ESuccess
		}
		if nonblocking {
			return 0, cloudabi.EAgain
		}
		// Attach before retrying push: a concurrent pop draining the
		// queue between the failed push above and this Attach must
		// still be observed by the immediate retry below, not missed
		// by waiting on a signaler already fired before we attached.
		cond := waiter.NewCondition(nil)
		sig := peer.recvQ.writeGate.Current()
		ch := sig.Attach(cond)
		if peer.recvQ.push(msg) {
			sig.Detach(cond)
			return len(data), cloudabi.ESuccess
		}
		select {
		case <-ch:
		case <-ctx.Done():
			sig.Detach(cond)
			return 0, cloudabi.EIntr
		}
	}
}

// SockRecv dequeues the oldest message and copies its payload into iov and
// any attached FDs (up to maxFDs) to the caller, per spec §4.9's
// data-truncated / fds-truncated rules. Recv on a drained, peer-closed
// queue returns 0 with success (clean EOF, not an error, per spec §7).
func (s *Socket) SockRecv(ctx context.Context, iov [][]byte, maxFDs int) (vfs.RecvResult, cloudabi.Errno) {
	nonblocking := s.Flags()&cloudabi.FDFlagNonblock != 0
	deliver := func(m message) vfs.RecvResult {
		n, truncated := vfs.CopyOut(iov, m.data)
		res := vfs.RecvResult{DataLen: n}
		if truncated {
			res.Truncated |= cloudabi.RecvDataTruncated
		}
		if len(m.fds) > maxFDs {
			res.FDs = m.fds[:maxFDs]
			res.Truncated |= cloudabi.RecvFDsTruncated
		} else {
			res.FDs = m.fds
		}
		return res
	}
	for {
		if m, ok := s.recvQ.pop(); ok {
			return deliver(m), cloudabi.ESuccess
		}
		if s.recvQ.isClosed() {
			return vfs.RecvResult{}, cloudabi.ESuccess
		}
		if nonblocking {
			return vfs.RecvResult{}, cloudabi.EAgain
		}
		// Attach before retrying pop, for the same reason SockSend does:
		// a push racing between the failed pop above and this Attach
		// must not be missed by waiting on an already-fired signaler.
		cond := waiter.NewCondition(nil)
		sig := s.recvQ.readGate.Current()
		ch := sig.Attach(cond)
		if m, ok := s.recvQ.pop(); ok {
			sig.Detach(cond)
			return deliver(m), cloudabi.ESuccess
		}
		select {
		case <-ch:
		case <-ctx.Done():
			sig.Detach(cond)
			return vfs.RecvResult{}, cloudabi.EIntr
		}
	}
}

// Read/Write are the plain fd_read/fd_write path over the same queues,
// without ancillary FD transfer.
func (s *Socket) Read(ctx context.Context, iov [][]byte) (int, cloudabi.Errno) {
	res, errno := s.SockRecv(ctx, iov, 0)
	return res.DataLen, errno
}

func (s *Socket) Write(ctx context.Context, iov [][]byte) (int, cloudabi.Errno) {
	return s.SockSend(ctx, iov, nil)
}

func (s *Socket) GetReadSignaler() *waiter.Signaler  { return s.recvQ.readGate.Current() }
func (s *Socket) GetWriteSignaler() *waiter.Signaler {
	if peer, ok := s.peerOf(); ok {
		return peer.recvQ.writeGate.Current()
	}
	return nil
}
