package unixsock

import (
	"sync"

	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/waiter"
)

// Resource ceilings from spec §5 ("Unix-socket queues are capped at 20
// messages / 30 KiB").
const (
	maxQueueMessages = 20
	maxQueueBytes    = 30 * 1024
	maxDatagramBytes = 1500
	maxInFlightFDs   = 20
)

// message is one enqueued send: a payload plus any FDs passed as ancillary
// data (spec §4.9).
type message struct {
	data []byte
	fds  []vfs.FDMapping
}

func (m message) size() int { return len(m.data) }

// queue is a bounded FIFO of messages shared by a connected socket pair,
// with level-triggered readability/writability gates for the poll engine.
// Grounded on original_source/fd/unixsock.hpp's bounded ring buffer plus
// condition-variable pair (cv_t readable/writable).
type queue struct {
	mu        sync.Mutex
	msgs      []message
	bytes     int
	fdCount   int
	closed    bool // peer gone or shutdown(write) on the writing end
	readGate  *waiter.Gate
	writeGate *waiter.Gate
}

func newQueue() *queue {
	return &queue{readGate: waiter.NewGate(), writeGate: waiter.NewGate()}
}

func (q *queue) isFull() bool {
	return len(q.msgs) >= maxQueueMessages || q.bytes >= maxQueueBytes
}

// push appends msg, returning false if the queue is at capacity (the
// caller decides whether that means EAgain or blocking-then-retry).
func (q *queue) push(msg message) bool {
	q.mu.Lock()
	if q.closed || q.isFull() || q.fdCount+len(msg.fds) > maxInFlightFDs {
		q.mu.Unlock()
		return false
	}
	q.msgs = append(q.msgs, msg)
	q.bytes += msg.size()
	q.fdCount += len(msg.fds)
	q.mu.Unlock()
	q.readGate.Fire()
	return true
}

// pop removes and returns the oldest message, if any.
func (q *queue) pop() (message, bool) {
	q.mu.Lock()
	if len(q.msgs) == 0 {
		q.mu.Unlock()
		return message{}, false
	}
	m := q.msgs[0]
	q.msgs = q.msgs[1:]
	q.bytes -= m.size()
	q.fdCount -= len(m.fds)
	q.mu.Unlock()
	q.writeGate.Fire()
	return m, true
}

func (q *queue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs) == 0
}

// close marks the queue permanently unreadable-as-open and wakes every
// waiter so they observe the new (pipe/EOF) state.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.readGate.Fire()
	q.writeGate.Fire()
}

func (q *queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
