package syscall

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
)

// registerPollSyscalls wires poll and poll_fd (spec §4.12).
func registerPollSyscalls(d *Dispatcher) {
	d.register(cloudabi.SysPoll, pollSyscall)
	d.register(cloudabi.SysPollFD, pollFDSyscall)
}

// subscriptionRecordSize is one cloudabi_subscription_t-equivalent record:
// kind (u8, padded to 8), clock id (u32, padded to 8), timeout ns (u64),
// precision ns (u64), abstime (u8, padded to 8), fd number (u32, padded to
// 8), address (u64).
const subscriptionRecordSize = 8 + 8 + 8 + 8 + 8 + 8 + 8

// eventRecordSize is one output record: subscription index (u64), errno
// (u64).
const eventRecordSize = 16

// pollSyscall: arg0 = subscriptions ptr, arg1 = subscription count, arg2 =
// events-out ptr (holds up to arg1 records — poll never reports more events
// than subscriptions). Result[0] = number of events written.
func pollSyscall(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	count := int(sc.Frame.U64(1))
	if count == 0 {
		return cloudabi.EInval
	}
	raw, errno := sc.Proc().Mem().ReadBytes(sc.Frame.Ptr(0), uint64(count)*subscriptionRecordSize)
	if errno != cloudabi.ESuccess {
		return errno
	}
	subs := make([]Subscription, count)
	for i := 0; i < count; i++ {
		sub, errno := unpackSubscription(sc, raw[i*subscriptionRecordSize:])
		if errno != cloudabi.ESuccess {
			return errno
		}
		subs[i] = sub
	}

	events, errno := Poll(env.Clocks, env.Locks, env.Conds, subs)
	if errno != cloudabi.ESuccess {
		return errno
	}

	out := make([]byte, len(events)*eventRecordSize)
	for i, e := range events {
		putU64(out[i*eventRecordSize:], uint64(e.Index))
		putU64(out[i*eventRecordSize+8:], uint64(e.Errno))
	}
	if errno := sc.Proc().Mem().WriteBytes(sc.Frame.Ptr(2), out); errno != cloudabi.ESuccess {
		return errno
	}
	sc.SetResults(uint64(len(events)), 0)
	return cloudabi.ESuccess
}

func unpackSubscription(sc *Context, b []byte) (Subscription, cloudabi.Errno) {
	kind := SubscriptionKind(getU64(b, 0))
	sub := Subscription{
		Kind:      kind,
		ClockID:   cloudabi.ClockID(getU64(b, 8)),
		Timeout:   nsToDuration(getU64(b, 16)),
		Precision: nsToDuration(getU64(b, 24)),
		Abstime:   getU64(b, 32) != 0,
		Addr:      getU64(b, 48),
	}
	switch kind {
	case SubFDReadReady, SubFDWriteReady, SubProcessTerminate:
		want := cloudabi.RightPollFDReadwrite
		m, errno := resolveFD(sc, int(getU64(b, 40)), want)
		if errno != cloudabi.ESuccess {
			return Subscription{}, errno
		}
		sub.FD = m.FD
	}
	return sub, cloudabi.ESuccess
}

// pollFDSyscall is poll_fd: a single-subscription convenience wrapper over
// the same Poll engine. arg0 = fd, arg1 = 1 for write-readiness else
// read-readiness, arg2 = timeout ns (0 means no timeout subscription).
func pollFDSyscall(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	kind := SubFDReadReady
	if sc.Frame.U32(1) != 0 {
		kind = SubFDWriteReady
	}
	m, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightPollFDReadwrite)
	if errno != cloudabi.ESuccess {
		return errno
	}
	subs := []Subscription{{Kind: kind, FD: m.FD}}
	if timeout := sc.Frame.U64(2); timeout != 0 {
		subs = append(subs, Subscription{Kind: SubClockDeadline, ClockID: cloudabi.ClockMonotonic, Timeout: nsToDuration(timeout)})
	}
	events, errno := Poll(env.Clocks, env.Locks, env.Conds, subs)
	if errno != cloudabi.ESuccess {
		return errno
	}
	sc.SetResults(uint64(len(events)), 0)
	return cloudabi.ESuccess
}
