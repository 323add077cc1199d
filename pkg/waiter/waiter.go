// Package waiter implements the thread-condition/signaler pair that is the
// substrate of every blocking operation in the kernel (spec §4.3): socket
// read/write wakeups, userland locks and CVs, poll deadlines, process-exit
// waits, pseudo-FD responses.
//
// Grounded on gVisor's waiter.Queue/waiter.Entry (host.go: "queue
// waiter.Queue", "EventRegister"/"EventUnregister", "fdnotifier.UpdateFD"),
// generalized to the spec's stronger invariant that a thread may have at
// most one Condition attached at a time, and that a Condition is detached
// atomically with being woken (§4.3: "its condition is detached atomically
// before it resumes").
package waiter

import (
	"sync"
)

// Condition is a thread's attachment to at most one Signaler at a time
// (spec glossary). Constructed by a blocking syscall just before it
// suspends, and discarded (or inspected for Fired) once the thread resumes.
type Condition struct {
	mu       sync.Mutex
	signaler *Signaler
	fired    bool
	// id is caller-defined context (e.g. a poll subscription index) copied
	// back out after the wait so the caller can tell which of several
	// attached conditions fired without extra bookkeeping.
	id any
}

// NewCondition creates a detached condition carrying the given id.
func NewCondition(id any) *Condition {
	return &Condition{id: id}
}

// ID returns the id the condition was constructed with.
func (c *Condition) ID() any {
	return c.id
}

// Fired reports whether the condition's signaler has broadcast.
func (c *Condition) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// firedBy returns the signaler that fired this condition, if any.
func (c *Condition) firedBy() *Signaler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signaler
}

func (c *Condition) mark(s *Signaler) {
	c.mu.Lock()
	c.fired = true
	c.signaler = s
	c.mu.Unlock()
}

// Signaler is a one-shot broadcast object (spec glossary). Many conditions
// may attach; Broadcast wakes all of them exactly once, each recording which
// signaler fired so the waiting thread knows the outcome (spec §4.3).
type Signaler struct {
	mu        sync.Mutex
	fired     bool
	attached  map[*Condition]chan struct{}
}

// NewSignaler returns a fresh, unfired signaler.
func NewSignaler() *Signaler {
	return &Signaler{attached: make(map[*Condition]chan struct{})}
}

// Attach registers c on s and returns a channel that closes when s fires (or
// immediately, if s already fired). Detach must be called when the waiter
// gives up without being woken (e.g. a poll subscription whose sibling
// fired first).
func (s *Signaler) Attach(c *Condition) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	if s.fired {
		c.mark(s)
		close(ch)
		return ch
	}
	s.attached[c] = ch
	return ch
}

// Detach removes c from s's waiter set without marking it fired. Safe to
// call after the signaler has already fired (no-op in that case, since
// Broadcast already removed every entry).
func (s *Signaler) Detach(c *Condition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, c)
}

// Broadcast fires the signaler exactly once: every attached condition is
// marked, woken and atomically detached before Broadcast returns (spec §5:
// "A signaler's broadcast is observed by all attached conditions before the
// broadcaster resumes"). A second Broadcast is a no-op (one-shot).
func (s *Signaler) Broadcast() {
	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		return
	}
	s.fired = true
	attached := s.attached
	s.attached = make(map[*Condition]chan struct{})
	s.mu.Unlock()

	for c, ch := range attached {
		c.mark(s)
		close(ch)
	}
}

// Fired reports whether Broadcast has already run.
func (s *Signaler) Fired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Gate is a level-triggered readiness condition built on top of the
// one-shot Signaler: sockets, queues and similar long-lived objects need to
// wake pollers repeatedly over their lifetime (became readable, drained,
// became readable again), which a single Signaler cannot do since it only
// ever broadcasts once. A Gate holds the current Signaler for its state and
// swaps in a fresh one each time it fires, so every waiter that attached
// before the most recent transition gets woken, and callers that ask for
// "the signaler for readiness right now" after a Fire always see an
// unfired one to attach to.
type Gate struct {
	mu  sync.Mutex
	sig *Signaler
}

// NewGate returns a Gate in its not-ready state.
func NewGate() *Gate {
	return &Gate{sig: NewSignaler()}
}

// Current returns the signaler representing the gate's present state. Poll
// and blocking reads/writes attach a Condition to this before checking the
// underlying condition (e.g. "is the queue non-empty"), so that a Fire
// racing with the check is never missed.
func (g *Gate) Current() *Signaler {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sig
}

// Fire wakes every waiter attached to the gate's current signaler and
// arms a fresh one for the next transition.
func (g *Gate) Fire() {
	g.mu.Lock()
	s := g.sig
	g.sig = NewSignaler()
	g.mu.Unlock()
	s.Broadcast()
}
