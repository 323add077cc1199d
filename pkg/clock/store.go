package clock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/waiter"
)

// deadlineItem orders pending signalers by fire time, then by a monotonic
// sequence number so that two signalers registered for the same instant
// remain distinguishable entries in the btree (btree.BTreeG requires a
// strict total order with no duplicate "equal" entries).
type deadlineItem struct {
	deadline time.Duration
	seq      uint64
	sig      *waiter.Signaler
}

func lessDeadline(a, b deadlineItem) bool {
	if a.deadline != b.deadline {
		return a.deadline < b.deadline
	}
	return a.seq < b.seq
}

// clockState adds bookkeeping around a Clock that the Store alone needs.
type clockState struct {
	*Clock
}

// Store is the process-wide registry of clocks (spec §4.2, §9: "process-wide
// singletons with init -> serve -> teardown lifecycles"). Grounded on
// original_source/time/clock_store.hpp's register/duplicate-rejection
// contract.
//
// All outstanding deadlines, regardless of which clock id they were
// registered against, are tracked in one queue keyed by *monotonic* time.
// This is what makes spec §4.2's rule hold without special-casing: "If the
// realtime clock is set backward, outstanding signalers keep their original
// monotonic fire time (the interval, not the wall deadline, is preserved)."
// A signaler registered against the realtime clock is converted to a
// monotonic deadline at registration time and never consults the realtime
// clock's value again.
type Store struct {
	mu      sync.Mutex
	clocks  map[cloudabi.ClockID]*clockState
	pending *btree.BTreeG[deadlineItem]
	seq     uint64
	monoNow time.Duration
	ticks   *ticker
}

// NewStore creates a store with the monotonic and realtime clocks already
// registered, starting monotonic at zero (spec §4.2: "starting from zero at
// boot") and realtime at rtcOffset (the RTC reading consumed once at boot).
func NewStore(resolution time.Duration, rtcOffset time.Duration) *Store {
	s := &Store{
		clocks:  make(map[cloudabi.ClockID]*clockState),
		pending: btree.NewG(32, lessDeadline),
	}
	s.registerLocked(cloudabi.ClockMonotonic, resolution)
	s.registerLocked(cloudabi.ClockRealtime, resolution)
	s.clocks[cloudabi.ClockRealtime].set(rtcOffset)
	s.ticks = &ticker{}
	return s
}

func (s *Store) registerLocked(id cloudabi.ClockID, resolution time.Duration) *clockState {
	cs := &clockState{Clock: newClock(id, resolution)}
	s.clocks[id] = cs
	return cs
}

// Register adds a new clock id to the store. Per spec §4.2 ("The store
// rejects register of a duplicate clock id"), re-registering an existing id
// fails.
func (s *Store) Register(id cloudabi.ClockID, resolution time.Duration) cloudabi.Errno {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clocks[id]; ok {
		return cloudabi.EInval
	}
	s.registerLocked(id, resolution)
	return cloudabi.ESuccess
}

// Clock returns the named clock, or nil if unregistered.
func (s *Store) Clock(id cloudabi.ClockID) *Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.clocks[id]
	if !ok {
		return nil
	}
	return cs.Clock
}

// Time reads clock id, rounded down by precision (spec §4.2).
func (s *Store) Time(id cloudabi.ClockID, precision time.Duration) (time.Duration, cloudabi.Errno) {
	c := s.Clock(id)
	if c == nil {
		return 0, cloudabi.EInval
	}
	return c.Time(precision), cloudabi.ESuccess
}

// Signaler returns a one-shot broadcaster that fires once clock id's time
// reaches deadline (spec §4.2). deadline must be in the future; an
// already-past deadline is undefined behavior per spec and the caller
// (the poll engine) must check clock.Time() first.
func (s *Store) Signaler(id cloudabi.ClockID, deadline time.Duration) (*waiter.Signaler, cloudabi.Errno) {
	s.mu.Lock()
	cs, ok := s.clocks[id]
	if !ok {
		s.mu.Unlock()
		return nil, cloudabi.EInval
	}

	// Convert to a monotonic deadline now, so a later SetRealtime jump
	// cannot move it (spec §4.2).
	monoDeadline := deadline
	if id != cloudabi.ClockMonotonic {
		clockNow := cs.Time(0)
		monoDeadline = s.monoNow + (deadline - clockNow)
	}

	sig := waiter.NewSignaler()
	s.seq++
	s.pending.ReplaceOrInsert(deadlineItem{deadline: monoDeadline, seq: s.seq, sig: sig})
	s.mu.Unlock()
	return sig, cloudabi.ESuccess
}

// Advance moves every registered clock (the realtime clock included, from
// whatever reading it was last Set to) forward by d, firing every signaler
// whose deadline has elapsed. Called once per TickSource tick.
func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	for _, cs := range s.clocks {
		cs.advance(d)
	}
	s.monoNow += d
	now := s.monoNow

	var due []*waiter.Signaler
	for {
		min, ok := s.pending.Min()
		if !ok || min.deadline > now {
			break
		}
		s.pending.Delete(min)
		due = append(due, min.sig)
	}
	s.mu.Unlock()

	for _, sig := range due {
		sig.Broadcast()
	}
}

// SetRealtime jumps the realtime clock to an absolute reading (e.g. an
// operator setting the wall clock backward). Per spec §4.2, outstanding
// signalers keep their original monotonic fire time: Set never touches the
// deadline queue, since Signaler already converted every deadline to a
// monotonic one at registration time.
func (s *Store) SetRealtime(t time.Duration) cloudabi.Errno {
	c := s.Clock(cloudabi.ClockRealtime)
	if c == nil {
		return cloudabi.EInval
	}
	c.set(t)
	return cloudabi.ESuccess
}

// ticker is a small helper run by cmd/cosixkernel (or tests) to pump a
// TickSource into Store.Advance.
type ticker struct {
	running int32
}

// Run drains src until it closes, advancing s by every tick's duration. This
// is the production stand-in for the PIT interrupt handler: an interrupt
// "only enqueues work ... and returns" (spec §5), which here is exactly what
// Advance/Broadcast do — no blocking, no allocator calls.
func Run(s *Store, src TickSource) {
	if !atomic.CompareAndSwapInt32(&s.ticks.running, 0, 1) {
		return
	}
	for d := range src.Ticks() {
		s.Advance(d)
	}
}
