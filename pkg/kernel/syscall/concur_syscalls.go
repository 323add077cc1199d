package syscall

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
)

// registerConcurSyscalls wires lock_unlock and condvar_signal (spec §4.6;
// grounded on original_source/proc/syscall/concur_syscalls.cpp, both
// rejecting non-private scope).
func registerConcurSyscalls(d *Dispatcher) {
	d.register(cloudabi.SysLockUnlock, lockUnlock)
	d.register(cloudabi.SysCondvarSignal, condvarSignal)
}

// lockUnlock: arg0 = lock address, arg1 = scope.
func lockUnlock(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	if cloudabi.Scope(sc.Frame.U32(1)) != cloudabi.ScopePrivate {
		return cloudabi.ENoSys
	}
	return env.Locks.Unlock(sc.Proc().Mem(), sc.Frame.Ptr(0))
}

// condvarSignal: arg0 = condvar address, arg1 = scope, arg2 = nwaiters.
func condvarSignal(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	if cloudabi.Scope(sc.Frame.U32(1)) != cloudabi.ScopePrivate {
		return cloudabi.ENoSys
	}
	return env.Conds.Signal(sc.Frame.Ptr(0), sc.Frame.U32(2))
}
