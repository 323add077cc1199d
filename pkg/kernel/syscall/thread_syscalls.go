package syscall

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/kernel/thread"
)

// registerThreadSyscalls wires thread_create/thread_exit/thread_yield (spec
// §4.6; grounded on original_source/proc/syscall/thread_syscalls.cpp).
func registerThreadSyscalls(d *Dispatcher) {
	d.register(cloudabi.SysThreadCreate, threadCreate)
	d.register(cloudabi.SysThreadExit, threadExit)
	d.register(cloudabi.SysThreadYield, threadYield)
}

// threadCreate: arg0 = cloudabi_threadattr_t pointer (stack, stack_len,
// argument, entry_point packed as four u64 words). Result[0] = new tid.
// The new thread is enrolled in the process's scheduler but, per
// Scheduler.AddThread's contract, must call AwaitTurn itself once its
// goroutine starts running its entry point — creating the goroutine itself
// is the trap-entry layer's job, not this handler's, since it has no way to
// jump to a userland entry point directly.
func threadCreate(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	buf, errno := sc.Proc().Mem().ReadBytes(sc.Frame.Ptr(0), 32)
	if errno != cloudabi.ESuccess {
		return errno
	}
	attr := cloudabi.ThreadAttr{
		Stack:      getU64(buf, 0),
		StackLen:   getU64(buf, 8),
		Argument:   getU64(buf, 16),
		EntryPoint: getU64(buf, 24),
	}
	tid := env.NextTID()
	t := thread.New(tid, sc.Proc(), attr)
	sc.Proc().AddThread(t)
	env.Scheduler(sc.Proc()).AddThread(t)
	sc.SetResults(tid, 0)
	return cloudabi.ESuccess
}

// threadExit: arg0 = lock address (0 if none), arg1 = scope.
func threadExit(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	lock := sc.Frame.U64(0)
	scope := cloudabi.Scope(sc.Frame.U32(1))
	return sc.Thread.Exit(env.Locks, lock, scope)
}

// threadYield takes no arguments.
func threadYield(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	sc.Thread.Yield()
	return cloudabi.ESuccess
}

func getU64(b []byte, off int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[off+i]) << (8 * i)
	}
	return v
}
