package syscall

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/vfs"
)

// registerMemSyscalls wires the mem_* family (spec §3's address-space model;
// grounded on original_source/proc/syscall/mem_syscalls.cpp).
func registerMemSyscalls(d *Dispatcher) {
	d.register(cloudabi.SysMemMap, memMap)
	d.register(cloudabi.SysMemProtect, memProtect)
	d.register(cloudabi.SysMemUnmap, memUnmap)
	d.register(cloudabi.SysMemSync, memSync)
	d.register(cloudabi.SysMemAdvise, memAdvise)
	d.register(cloudabi.SysMemLock, memLockUnlock)
	d.register(cloudabi.SysMemUnlock, memLockUnlock)
}

// memMap: arg0 = address hint, arg1 = length, arg2 = prot, arg3 = flags,
// arg4 = fd (ignored if MemAnon), arg5 = offset. Result[0] = mapped address.
func memMap(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	length := sc.Frame.U64(1)
	prot := cloudabi.MemProt(sc.Frame.U32(2))
	flags := cloudabi.MemFlags(sc.Frame.U32(3))

	var fd vfs.FD
	if flags&cloudabi.MemAnon == 0 {
		m, errno := resolveFD(sc, int(sc.Frame.U32(4)), cloudabi.RightMemMap)
		if errno != cloudabi.ESuccess {
			return errno
		}
		fd = m.FD
	}
	addr, errno := sc.Proc().Mem().MemMap(ctx, sc.Frame.Ptr(0), length, prot, flags, fd, sc.Frame.U64(5))
	if errno != cloudabi.ESuccess {
		return errno
	}
	sc.SetResults(addr, 0)
	return cloudabi.ESuccess
}

// memProtect: arg0 = address, arg1 = length, arg2 = prot.
func memProtect(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	return sc.Proc().Mem().MemProtect(sc.Frame.Ptr(0), sc.Frame.U64(1), cloudabi.MemProt(sc.Frame.U32(2)))
}

// memUnmap: arg0 = address, arg1 = length.
func memUnmap(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	return sc.Proc().Mem().MemUnmap(sc.Frame.Ptr(0), sc.Frame.U64(1))
}

// memSync: arg0 = address, arg1 = length, arg2 = flags.
func memSync(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	return sc.Proc().Mem().MemSync(ctx, sc.Frame.Ptr(0), sc.Frame.U64(1), cloudabi.MemSyncFlags(sc.Frame.U32(2)))
}

// memAdvise: arg0 = address, arg1 = length, arg2 = advice (ignored — see
// MemAdvise's own doc comment on accepting only alignment validation).
func memAdvise(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	return sc.Proc().Mem().MemAdvise(sc.Frame.Ptr(0), sc.Frame.U64(1))
}

// memLockUnlock implements both mem_lock and mem_unlock: cloudabi's mlock/
// munlock equivalent, pinning physical frames against eviction. This kernel
// never evicts a resident frame in the first place (no swap, no page
// reclaim — vmem's frames live until explicitly unmapped), so the
// distinction mem_lock/mem_unlock exist to express has nothing to attach to
// here; accepted as a no-op success rather than invented eviction machinery
// no other part of the corpus's memory managers model either.
func memLockUnlock(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	return cloudabi.ESuccess
}
