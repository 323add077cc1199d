package syscall

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
)

// registerFDSyscalls wires the fd_* family (spec §4.4): the operations every
// FD subtype supports regardless of what kind of object it is.
func registerFDSyscalls(d *Dispatcher) {
	d.register(cloudabi.SysFDClose, fdClose)
	d.register(cloudabi.SysFDDup, fdDup)
	d.register(cloudabi.SysFDReplace, fdReplace)
	d.register(cloudabi.SysFDRead, fdRead)
	d.register(cloudabi.SysFDPread, fdPread)
	d.register(cloudabi.SysFDWrite, fdWrite)
	d.register(cloudabi.SysFDPwrite, fdPwrite)
	d.register(cloudabi.SysFDSeek, fdSeek)
	d.register(cloudabi.SysFDSync, fdSync)
	d.register(cloudabi.SysFDDatasync, fdDatasync)
	d.register(cloudabi.SysFDStatGet, fdStatGet)
	d.register(cloudabi.SysFDStatPut, fdStatPut)
}

// fdClose: arg0 = fd.
func fdClose(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	fd := int(sc.Frame.U32(0))
	return sc.Proc().FDs().Close(fd)
}

// fdDup: arg0 = fd. Result[0] = new fd number.
func fdDup(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	fd := int(sc.Frame.U32(0))
	m, ok := sc.Proc().FDs().Get(fd)
	if !ok {
		return cloudabi.EBadF
	}
	m.FD.IncRef()
	newFD := sc.Proc().FDs().Allocate(m)
	sc.SetResults(uint64(newFD), 0)
	return cloudabi.ESuccess
}

// fdReplace implements fd_replace (cloudabi's fd_dup2-style renumber): arg0 =
// from, arg1 = to.
func fdReplace(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	from := int(sc.Frame.U32(0))
	to := int(sc.Frame.U32(1))
	return sc.Proc().FDs().Renumber(from, to)
}

// fdRead: arg0 = fd, arg1 = data pointer, arg2 = length. Result[0] = bytes
// read. Userland iovecs are assumed already gathered into one contiguous
// buffer by the (unmodeled) trap entry, matching how mem_map's FD-backed
// path already treats [][]byte as a single-element iovec in practice.
func fdRead(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	return readInto(ctx, sc, cloudabi.RightFDRead, -1)
}

// fdPread: arg0 = fd, arg1 = data pointer, arg2 = length, arg3 = offset.
func fdPread(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	offset := int64(sc.Frame.I64(3))
	return readInto(ctx, sc, cloudabi.RightFDRead|cloudabi.RightFDSeek, offset)
}

func readInto(ctx context.Context, sc *Context, want cloudabi.Rights, offset int64) cloudabi.Errno {
	fd := int(sc.Frame.U32(0))
	length := sc.Frame.U64(2)
	m, errno := resolveFD(sc, fd, want)
	if errno != cloudabi.ESuccess {
		return errno
	}
	buf := make([]byte, length)
	var n int
	if offset < 0 {
		n, errno = m.FD.Read(ctx, [][]byte{buf})
	} else {
		n, errno = m.FD.PRead(ctx, [][]byte{buf}, offset)
	}
	if errno != cloudabi.ESuccess {
		return errno
	}
	if errno := sc.Proc().Mem().WriteBytes(sc.Frame.Ptr(1), buf[:n]); errno != cloudabi.ESuccess {
		return errno
	}
	sc.SetResults(uint64(n), 0)
	return cloudabi.ESuccess
}

// fdWrite: arg0 = fd, arg1 = data pointer, arg2 = length.
func fdWrite(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	return writeFrom(ctx, sc, cloudabi.RightFDWrite, -1)
}

// fdPwrite: arg0 = fd, arg1 = data pointer, arg2 = length, arg3 = offset.
func fdPwrite(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	offset := int64(sc.Frame.I64(3))
	return writeFrom(ctx, sc, cloudabi.RightFDWrite|cloudabi.RightFDSeek, offset)
}

func writeFrom(ctx context.Context, sc *Context, want cloudabi.Rights, offset int64) cloudabi.Errno {
	fd := int(sc.Frame.U32(0))
	length := sc.Frame.U64(2)
	m, errno := resolveFD(sc, fd, want)
	if errno != cloudabi.ESuccess {
		return errno
	}
	buf, errno := sc.Proc().Mem().ReadBytes(sc.Frame.Ptr(1), length)
	if errno != cloudabi.ESuccess {
		return errno
	}
	var n int
	if offset < 0 {
		n, errno = m.FD.Write(ctx, [][]byte{buf})
	} else {
		n, errno = m.FD.PWrite(ctx, [][]byte{buf}, offset)
	}
	if errno != cloudabi.ESuccess {
		return errno
	}
	sc.SetResults(uint64(n), 0)
	return cloudabi.ESuccess
}

// fdSeek: arg0 = fd, arg1 = delta, arg2 = whence. Result[0] = new offset.
func fdSeek(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	fd := int(sc.Frame.U32(0))
	delta := sc.Frame.I64(1)
	whence := cloudabi.Whence(sc.Frame.U32(2))
	m, errno := resolveFD(sc, fd, cloudabi.RightFDSeek)
	if errno != cloudabi.ESuccess {
		return errno
	}
	newOff, errno := m.FD.Seek(ctx, delta, whence)
	if errno != cloudabi.ESuccess {
		return errno
	}
	sc.SetResults(uint64(newOff), 0)
	return cloudabi.ESuccess
}

// fdSync: arg0 = fd.
func fdSync(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	fd := int(sc.Frame.U32(0))
	m, errno := resolveFD(sc, fd, cloudabi.RightFDSync)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return m.FD.Sync(ctx)
}

// fdDatasync: arg0 = fd.
func fdDatasync(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	fd := int(sc.Frame.U32(0))
	m, errno := resolveFD(sc, fd, cloudabi.RightFDDatasync)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return m.FD.Datasync(ctx)
}

// fdStatGet: arg0 = fd, arg1 = cloudabi_fdstat_t pointer. Only the
// FD-flags/rights half of fdstat (not file stat) is fd_stat's concern;
// rights are read back from the table's own mapping rather than the FD
// object, which has no notion of its own rights.
func fdStatGet(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	fd := int(sc.Frame.U32(0))
	m, ok := sc.Proc().FDs().Get(fd)
	if !ok {
		return cloudabi.EBadF
	}
	var buf [24]byte
	buf[0] = uint8(m.FD.FileType())
	flags := m.FD.Flags()
	buf[2] = uint8(flags)
	buf[3] = uint8(flags >> 8)
	putU64(buf[8:16], uint64(m.RightsBase))
	putU64(buf[16:24], uint64(m.RightsInheriting))
	return sc.Proc().Mem().WriteBytes(sc.Frame.Ptr(1), buf[:])
}

// fdStatPut: arg0 = fd, arg1 = cloudabi_fdstat_t pointer, arg2 = mask (which
// fields to apply — only fs_flags is ever mutable post-creation).
func fdStatPut(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	fd := int(sc.Frame.U32(0))
	m, ok := sc.Proc().FDs().Get(fd)
	if !ok {
		return cloudabi.EBadF
	}
	buf, errno := sc.Proc().Mem().ReadBytes(sc.Frame.Ptr(1), 24)
	if errno != cloudabi.ESuccess {
		return errno
	}
	flags := cloudabi.FDFlags(buf[2]) | cloudabi.FDFlags(buf[3])<<8
	return m.FD.SetFlags(flags)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

