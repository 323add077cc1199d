package syscall

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
)

// registerClockSyscalls wires clock_res_get/clock_time_get (spec §4.2).
func registerClockSyscalls(d *Dispatcher) {
	d.register(cloudabi.SysClockResGet, clockResGet)
	d.register(cloudabi.SysClockTimeGet, clockTimeGet)
}

// clockResGet: arg0 = clock id. Result[0] = resolution in nanoseconds.
func clockResGet(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	id := cloudabi.ClockID(sc.Frame.U32(0))
	c := env.Clocks.Clock(id)
	if c == nil {
		return cloudabi.EInval
	}
	sc.SetResults(uint64(c.Resolution().Nanoseconds()), 0)
	return cloudabi.ESuccess
}

// clockTimeGet: arg0 = clock id, arg1 = precision in nanoseconds. Result[0]
// = time in nanoseconds.
func clockTimeGet(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	id := cloudabi.ClockID(sc.Frame.U32(0))
	precision := sc.Frame.U64(1)
	now, errno := env.Clocks.Time(id, nsToDuration(precision))
	if errno != cloudabi.ESuccess {
		return errno
	}
	sc.SetResults(uint64(now.Nanoseconds()), 0)
	return cloudabi.ESuccess
}
