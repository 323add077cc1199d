package syscall

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/vfs"
)

// HandlerFunc implements one syscall number: given the ambient go context
// (for the FD operations it delegates to), the decoded call, and the
// process-wide environment, it performs the operation and returns the
// errno the caller's trap-return path reports (spec §4.12: "each returns a
// 32-bit error code; some return a second value").
type HandlerFunc func(ctx context.Context, sc *Context, env *Env) cloudabi.Errno

// Dispatcher maps a syscall number to its handler (spec §4.12: "Dispatch
// maps a syscall number to a handler receiving a typed argument view over
// the trap frame").
type Dispatcher struct {
	handlers [cloudabi.Count]HandlerFunc
}

// NewDispatcher returns a dispatcher with every syscall in the spec §6
// registry wired to its handler.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{}
	registerClockSyscalls(d)
	registerConcurSyscalls(d)
	registerFDSyscalls(d)
	registerFileSyscalls(d)
	registerMemSyscalls(d)
	registerPollSyscalls(d)
	registerProcSyscalls(d)
	registerRandomSyscalls(d)
	registerSockSyscalls(d)
	registerThreadSyscalls(d)
	return d
}

func (d *Dispatcher) register(no cloudabi.SyscallNo, fn HandlerFunc) {
	d.handlers[no] = fn
}

// Dispatch runs sc.SyscallNo's handler. A number with no registered handler
// (shouldn't happen against the registry NewDispatcher builds, but would for
// a syscall number out of range) fails not-implemented rather than panicking
// — every trap return path expects an errno, never a crash, from a bad call.
func (d *Dispatcher) Dispatch(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	if int(sc.SyscallNo) >= len(d.handlers) {
		return cloudabi.ENoSys
	}
	fn := d.handlers[sc.SyscallNo]
	if fn == nil {
		return cloudabi.ENoSys
	}
	return fn(ctx, sc, env)
}

// resolveFD looks up fd in the calling thread's process table, checking that
// its rights cover want (spec §4.4: "every FD operation first checks that
// the FD's rights_base covers the right the operation requires").
func resolveFD(sc *Context, fd int, want cloudabi.Rights) (vfs.FDMapping, cloudabi.Errno) {
	return sc.Proc().FDs().CheckRights(fd, want)
}
