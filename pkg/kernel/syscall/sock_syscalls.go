package syscall

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/vfs"
)

// registerSockSyscalls wires sock_* (spec §4.9, §6's unix-socket state
// machine).
func registerSockSyscalls(d *Dispatcher) {
	d.register(cloudabi.SysSockBind, sockBind)
	d.register(cloudabi.SysSockConnect, sockConnect)
	d.register(cloudabi.SysSockListen, sockListen)
	d.register(cloudabi.SysSockAccept, sockAccept)
	d.register(cloudabi.SysSockShutdown, sockShutdown)
	d.register(cloudabi.SysSockStatGet, sockStatGet)
	d.register(cloudabi.SysSockRecv, sockRecv)
	d.register(cloudabi.SysSockSend, sockSend)
}

// sockBind: arg0 = fd, arg1 = device, arg2 = inode (the filesystem node the
// socket is bound at — path resolution to (device, inode) is a file_open
// concern above this syscall, spec §4.9).
func sockBind(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	m, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightSockBind)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return m.FD.SockBind(ctx, sc.Frame.U64(1), sc.Frame.U64(2))
}

// sockConnect: arg0 = fd, arg1 = device, arg2 = inode.
func sockConnect(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	m, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightSockConnect)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return m.FD.SockConnect(ctx, sc.Frame.U64(1), sc.Frame.U64(2))
}

// sockListen: arg0 = fd, arg1 = backlog.
func sockListen(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	m, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightSockListen)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return m.FD.SockListen(ctx, int(sc.Frame.U32(1)))
}

// sockAccept: arg0 = fd. Result[0] = new fd number for the accepted
// connection, carrying the same rights as the listening socket's
// rights_inheriting.
func sockAccept(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	m, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightSockAccept)
	if errno != cloudabi.ESuccess {
		return errno
	}
	conn, errno := m.FD.SockAccept(ctx)
	if errno != cloudabi.ESuccess {
		return errno
	}
	newFD := sc.Proc().FDs().Allocate(vfs.FDMapping{
		FD:               conn,
		RightsBase:       m.RightsInheriting,
		RightsInheriting: m.RightsInheriting,
	})
	sc.SetResults(uint64(newFD), 0)
	return cloudabi.ESuccess
}

// sockShutdown: arg0 = fd, arg1 = how.
func sockShutdown(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	m, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightSockShutdown)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return m.FD.SockShutdown(ctx, cloudabi.SDFlags(sc.Frame.U32(1)))
}

// sockStatGet: arg0 = fd, arg1 = cloudabi_sockstat_t pointer.
func sockStatGet(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	m, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightSockStat)
	if errno != cloudabi.ESuccess {
		return errno
	}
	st, errno := m.FD.SockStatGet(ctx)
	if errno != cloudabi.ESuccess {
		return errno
	}
	buf := []byte{st.Family, uint8(st.SockType), st.State}
	return sc.Proc().Mem().WriteBytes(sc.Frame.Ptr(1), buf)
}

// sockRecv: arg0 = fd, arg1 = data ptr, arg2 = data len, arg3 = fd-array ptr
// (unused — accepted FDs are appended to the caller's table and their
// numbers aren't separately reported back through this minimal argument
// layout), arg4 = max FDs to accept. Result[0] = bytes received,
// Result[1] = RecvOutFlags.
func sockRecv(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	m, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightSockRecv)
	if errno != cloudabi.ESuccess {
		return errno
	}
	length := sc.Frame.U64(2)
	maxFDs := int(sc.Frame.U32(4))
	buf := make([]byte, length)
	res, errno := m.FD.SockRecv(ctx, [][]byte{buf}, maxFDs)
	if errno != cloudabi.ESuccess {
		return errno
	}
	if errno := sc.Proc().Mem().WriteBytes(sc.Frame.Ptr(1), buf[:res.DataLen]); errno != cloudabi.ESuccess {
		return errno
	}
	for _, fdm := range res.FDs {
		sc.Proc().FDs().Allocate(fdm)
	}
	sc.SetResults(uint64(res.DataLen), uint64(res.Truncated))
	return cloudabi.ESuccess
}

// sockSend: arg0 = fd, arg1 = data ptr, arg2 = data len, arg3 = fd-array ptr
// (each entry a cloudabi_fd_t to pass — read as a sequence of u32s), arg4 =
// fd-array count. Result[0] = bytes sent.
func sockSend(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	m, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightSockSend)
	if errno != cloudabi.ESuccess {
		return errno
	}
	buf, errno := sc.Proc().Mem().ReadBytes(sc.Frame.Ptr(1), sc.Frame.U64(2))
	if errno != cloudabi.ESuccess {
		return errno
	}
	fdCount := int(sc.Frame.U32(4))
	var toSend []vfs.FDMapping
	if fdCount > 0 {
		raw, errno := sc.Proc().Mem().ReadBytes(sc.Frame.Ptr(3), uint64(fdCount)*4)
		if errno != cloudabi.ESuccess {
			return errno
		}
		for i := 0; i < fdCount; i++ {
			num := int(getU32(raw, i*4))
			fdm, ok := sc.Proc().FDs().Get(num)
			if !ok {
				return cloudabi.EBadF
			}
			toSend = append(toSend, fdm)
		}
	}
	n, errno := m.FD.SockSend(ctx, [][]byte{buf}, toSend)
	if errno != cloudabi.ESuccess {
		return errno
	}
	sc.SetResults(uint64(n), 0)
	return cloudabi.ESuccess
}

func getU32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}
