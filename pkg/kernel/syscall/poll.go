// Package syscall implements the dispatch and poll engine of spec §4.12:
// mapping a syscall number to a handler that reads a typed argument view over
// the trap frame, and the wait-for-any-of-N-signalers primitive every
// blocking syscall's "wait" half reduces to.
//
// Grounded on original_source/proc/syscall_context.hpp (syscall_context,
// arguments_t<T1..T7> unpacking a fixed argument list positionally) and
// original_source/proc/syscalls.hpp (the syscall_* declaration list mirrored
// one-to-one by cloudabi.SyscallNo). There is no real trap frame here — this
// kernel's "ring 3" is an ordinary goroutine, not a CPU privilege level — so
// TrapFrame stands in for the original's esp-relative stack reads with a
// fixed argument-word array the (unmodeled) syscall entry point populates.
package syscall

import (
	"time"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/clock"
	"github.com/sgielen/cosixgo/pkg/kernel/thread"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/waiter"
)

// SubscriptionKind names the event source a poll subscription names (spec
// §4.12's exhaustive list).
type SubscriptionKind int

const (
	SubClockDeadline SubscriptionKind = iota
	SubFDReadReady
	SubFDWriteReady
	SubProcessTerminate
	SubCondvar
	SubLockAcquire
)

// Subscription is one input to Poll. Only the fields relevant to Kind are
// read; the rest are ignored, mirroring cloudabi_subscription_t's tagged
// union.
type Subscription struct {
	Kind SubscriptionKind

	// SubClockDeadline.
	ClockID   cloudabi.ClockID
	Timeout   time.Duration
	Precision time.Duration
	Abstime   bool

	// SubFDReadReady, SubFDWriteReady, SubProcessTerminate.
	FD vfs.FD

	// SubCondvar, SubLockAcquire: the userland word's address.
	Addr uint64
}

// Event is one output of Poll: which subscription (by index into the slice
// Poll was given) fired, and its error (always ESuccess: a clock lookup
// failure fails the whole Poll call up front instead).
type Event struct {
	Index int
	Errno cloudabi.Errno
}

// Poll implements the poll syscall (spec §4.12). It materialises a signaler
// per subscription, attaches a condition carrying the subscription's index,
// and blocks until at least one fires. On wake it reports one event per
// fired signaler (a signaler referenced by more than one subscription — e.g.
// the caller polling the same lock address twice — is only reported once,
// against its earliest-indexed subscription) and detaches every condition
// still attached to a signaler that never fired.
//
// Zero subscriptions is rejected up front (spec: "Zero-event calls fail
// invalid").
func Poll(clocks *clock.Store, locks *thread.LockTable, conds *thread.CondTable, subs []Subscription) ([]Event, cloudabi.Errno) {
	if len(subs) == 0 {
		return nil, cloudabi.EInval
	}

	sigs := make([]*waiter.Signaler, len(subs))
	condv := make([]*waiter.Condition, len(subs))
	woke := make(chan int, len(subs))

	for i, sub := range subs {
		sig, errno := signalerFor(clocks, locks, conds, sub)
		if errno != cloudabi.ESuccess {
			detachAttached(sigs, condv, i)
			return nil, errno
		}
		sigs[i] = sig
		condv[i] = waiter.NewCondition(i)
		ch := sig.Attach(condv[i])
		go func(i int, ch <-chan struct{}) {
			<-ch
			woke <- i
		}(i, ch)
	}

	first := <-woke
	fired := map[int]bool{first: true}
drain:
	for {
		select {
		case i := <-woke:
			fired[i] = true
		default:
			break drain
		}
	}

	seenSignalers := make(map[*waiter.Signaler]bool, len(fired))
	var events []Event
	for i := range subs {
		if !fired[i] {
			sigs[i].Detach(condv[i])
			continue
		}
		if seenSignalers[sigs[i]] {
			continue
		}
		seenSignalers[sigs[i]] = true
		events = append(events, Event{Index: i, Errno: cloudabi.ESuccess})
	}
	return events, cloudabi.ESuccess
}

func detachAttached(sigs []*waiter.Signaler, condv []*waiter.Condition, upTo int) {
	for i := 0; i < upTo; i++ {
		sigs[i].Detach(condv[i])
	}
}

func signalerFor(clocks *clock.Store, locks *thread.LockTable, conds *thread.CondTable, sub Subscription) (*waiter.Signaler, cloudabi.Errno) {
	switch sub.Kind {
	case SubClockDeadline:
		deadline := sub.Timeout
		if !sub.Abstime {
			now, errno := clocks.Time(sub.ClockID, sub.Precision)
			if errno != cloudabi.ESuccess {
				return nil, errno
			}
			deadline = now + sub.Timeout
		}
		return clocks.Signaler(sub.ClockID, deadline)
	case SubFDReadReady, SubProcessTerminate:
		if sub.FD == nil {
			return nil, cloudabi.EInval
		}
		return sub.FD.GetReadSignaler(), cloudabi.ESuccess
	case SubFDWriteReady:
		if sub.FD == nil {
			return nil, cloudabi.EInval
		}
		return sub.FD.GetWriteSignaler(), cloudabi.ESuccess
	case SubCondvar:
		return conds.Gate(sub.Addr).Current(), cloudabi.ESuccess
	case SubLockAcquire:
		return locks.Gate(sub.Addr).Current(), cloudabi.ESuccess
	default:
		return nil, cloudabi.EInval
	}
}

// ProcessTerminateSubscription builds the Subscription for watching a
// process fd's exit (spec §4.5: exit/raise fire the termination signaler
// pollers wake on, surfaced through the process fd's read-readiness).
func ProcessTerminateSubscription(fd vfs.FD) Subscription {
	return Subscription{Kind: SubProcessTerminate, FD: fd}
}
