// Package clock implements the clock store and signalers of spec §4.2: a
// monotonic clock (zero at boot, incremented by a periodic tick source) and
// a realtime clock (monotonic + an RTC offset established once), each able
// to mint a one-shot Signaler that fires once clock time reaches a deadline.
//
// Grounded on original_source/time/clock_store.hpp/cpp (register/duplicate
// rejection) and the x86_pit/x86_rtc driver shapes named in spec §1 as
// external, kept here only as the abstract TickSource interface they feed.
package clock

import (
	"time"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
)

// TickSource supplies ticks to the monotonic clock. In production
// (cmd/cosixkernel) it is backed by a time.Ticker standing in for the PIT;
// tests supply a fake that advances on demand. This is the "abstract clock
// interface" spec §1 explicitly keeps in scope even though the PIT/RTC
// drivers themselves are not.
type TickSource interface {
	// Ticks returns a channel delivering one value per elapsed tick
	// duration.
	Ticks() <-chan time.Duration
}

// Clock is a single clock as described in spec §4.2.
type Clock struct {
	id         cloudabi.ClockID
	resolution time.Duration

	mu  chan struct{} // binary semaphore: buffered chan of cap 1
	now time.Duration
}

func newClock(id cloudabi.ClockID, resolution time.Duration) *Clock {
	c := &Clock{id: id, resolution: resolution, mu: make(chan struct{}, 1)}
	c.mu <- struct{}{}
	return c
}

func (c *Clock) lock()   { <-c.mu }
func (c *Clock) unlock() { c.mu <- struct{}{} }

// Resolution returns the clock's tick resolution.
func (c *Clock) Resolution() time.Duration {
	return c.resolution
}

// Time returns the current clock reading, rounded down by at most
// precision, per spec §4.2.
func (c *Clock) Time(precision time.Duration) time.Duration {
	c.lock()
	now := c.now
	c.unlock()
	if precision > 0 {
		now -= now % precision
	}
	return now
}

// advance moves the clock forward by d and returns the new reading. The
// caller (Store.Advance) then pops and fires any signalers whose deadline
// has now elapsed.
func (c *Clock) advance(d time.Duration) time.Duration {
	c.lock()
	c.now += d
	now := c.now
	c.unlock()
	return now
}

// set jumps the clock to an absolute reading (realtime clock being set by
// the RTC, or adjusted backward/forward by an operator). Per spec §4.2,
// outstanding signalers keep their originally computed monotonic fire time:
// set() never touches the deadline heap, only `now`.
func (c *Clock) set(t time.Duration) {
	c.lock()
	c.now = t
	c.unlock()
}
