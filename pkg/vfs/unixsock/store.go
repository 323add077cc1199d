package unixsock

import (
	"sync"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/waiter"
)

// listenKey identifies a bound socket by the (device,inode) of the
// filesystem node it was bound at (spec §4.9: "bind registers the socket by
// (device,inode) in a process-wide listen store"). The caller (the
// sock_bind syscall handler) resolves the path to that pair before calling
// Socket.SockBind, which records it; the store entry itself is added by
// Socket.SockListen. This package has no filesystem dependency of its own.
type listenKey struct {
	device, inode uint64
}

// Listener is the accept-side queue for a bound, listening stream socket:
// sock_connect enqueues the new peer end here and returns immediately
// without blocking; sock_accept is what blocks (spec §4.9: "the connecting
// side never blocks, only accept does").
type Listener struct {
	mu      sync.Mutex
	backlog int
	queued  []*Socket
	gate    *waiter.Gate
}

func newListener(backlog int) *Listener {
	return &Listener{backlog: backlog, gate: waiter.NewGate()}
}

func (l *Listener) enqueue(s *Socket) cloudabi.Errno {
	l.mu.Lock()
	if len(l.queued) >= l.backlog {
		l.mu.Unlock()
		return cloudabi.EConnRefused
	}
	l.queued = append(l.queued, s)
	l.mu.Unlock()
	l.gate.Fire()
	return cloudabi.ESuccess
}

// dequeue pops the earliest-queued connecting end, in connect order (spec
// §8: "accept returns exactly the sockets enqueued by connect, in connect
// order").
func (l *Listener) dequeue() (*Socket, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queued) == 0 {
		return nil, false
	}
	s := l.queued[0]
	l.queued = l.queued[1:]
	return s, true
}

// Store is the process-wide listen store (spec §4.9, glossary). One Store
// is owned by the root Kernel value (spec §9: "process-wide singletons ...
// owned by a single Kernel root value").
type Store struct {
	mu        sync.Mutex
	listeners map[listenKey]*Listener
}

// NewStore returns an empty listen store.
func NewStore() *Store {
	return &Store{listeners: make(map[listenKey]*Listener)}
}

// listen creates the listener for key, or returns the one already present
// (keeping the backlog it was created with), called by Socket.SockListen on
// a bound socket.
func (st *Store) listen(key listenKey, backlog int) *Listener {
	st.mu.Lock()
	defer st.mu.Unlock()
	if l, ok := st.listeners[key]; ok {
		return l
	}
	l := newListener(backlog)
	st.listeners[key] = l
	return l
}

// lookup finds the listener bound at key, for Socket.SockConnect.
func (st *Store) lookup(key listenKey) (*Listener, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	l, ok := st.listeners[key]
	return l, ok
}

// unregister removes key's listener, called when the listening socket is
// closed.
func (st *Store) unregister(key listenKey) {
	st.mu.Lock()
	delete(st.listeners, key)
	st.mu.Unlock()
}
