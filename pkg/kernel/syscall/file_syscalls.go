package syscall

import (
	"encoding/binary"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/vfs"
)

// registerFileSyscalls wires the file_* family (spec §4.4, §4.8): operations
// that resolve a path against a directory FD's root-confined traversal.
func registerFileSyscalls(d *Dispatcher) {
	d.register(cloudabi.SysFileOpen, fileOpen)
	d.register(cloudabi.SysFileReaddir, fileReaddir)
	d.register(cloudabi.SysFileCreate, fileCreate)
	d.register(cloudabi.SysFileUnlink, fileUnlink)
	d.register(cloudabi.SysFileLink, fileLink)
	d.register(cloudabi.SysFileRename, fileRename)
	d.register(cloudabi.SysFileReadlink, fileReadlink)
	d.register(cloudabi.SysFileSymlink, fileSymlink)
	d.register(cloudabi.SysFileStatGet, fileStatGet)
	d.register(cloudabi.SysFileStatFGet, fileStatFGet)
	d.register(cloudabi.SysFileStatFPut, fileStatFPut)
	d.register(cloudabi.SysFileStatPut, fileStatPut)
	d.register(cloudabi.SysFileAdvise, fileAdvise)
	d.register(cloudabi.SysFileAllocate, fileAllocate)
}

func readPath(ctx context.Context, sc *Context, ptrArg, lenArg int) (string, cloudabi.Errno) {
	b, errno := sc.Proc().Mem().ReadBytes(sc.Frame.Ptr(ptrArg), sc.Frame.U64(lenArg))
	if errno != cloudabi.ESuccess {
		return "", errno
	}
	return string(b), cloudabi.ESuccess
}

// fileOpen: arg0 = dirfd, arg1 = path ptr, arg2 = path len, arg3 = lookup
// flags, arg4 = oflags, arg5 = rights_base, arg6 = rights_inheriting. The
// new FD's FDFlags are left at zero (cloudabi's fdsflags is a separate,
// later fd_stat_put); Result[0] = new fd number.
func fileOpen(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	dir, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightFileOpen)
	if errno != cloudabi.ESuccess {
		return errno
	}
	path, errno := readPath(ctx, sc, 1, 2)
	if errno != cloudabi.ESuccess {
		return errno
	}
	lookup := cloudabi.LookupFlags(sc.Frame.U32(3))
	oflags := cloudabi.OFlags(sc.Frame.U32(4))
	base := cloudabi.Rights(sc.Frame.U64(5))
	inheriting := cloudabi.Rights(sc.Frame.U64(6))

	newFD, errno := dir.FD.OpenAt(ctx, path, lookup, oflags, base, inheriting, 0)
	if errno != cloudabi.ESuccess {
		return errno
	}
	fd := sc.Proc().FDs().Allocate(mappingFor(newFD, base, inheriting))
	sc.SetResults(uint64(fd), 0)
	return cloudabi.ESuccess
}

// fileReaddir: arg0 = fd, arg1 = buffer ptr, arg2 = buffer len, arg3 =
// cookie. Result[0] = bytes written. Entries are packed as
// (next,inode,namlen,type,name) per spec §4.4, truncating the last entry
// that doesn't fully fit.
func fileReaddir(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	m, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightFileReaddir)
	if errno != cloudabi.ESuccess {
		return errno
	}
	bufLen := int(sc.Frame.U64(2))
	cookie := sc.Frame.U64(3)
	entries, errno := m.FD.ReadDir(ctx, cookie, bufLen)
	if errno != cloudabi.ESuccess {
		return errno
	}
	var out []byte
	for _, e := range entries {
		rec := packDirEntry(e)
		if len(out)+len(rec) > bufLen {
			out = append(out, rec[:bufLen-len(out)]...)
			break
		}
		out = append(out, rec...)
	}
	if errno := sc.Proc().Mem().WriteBytes(sc.Frame.Ptr(1), out); errno != cloudabi.ESuccess {
		return errno
	}
	sc.SetResults(uint64(len(out)), 0)
	return cloudabi.ESuccess
}

// packDirEntry serialises one readdir record as (d_next, d_ino, d_namlen,
// d_type, name), matching cloudabi_dirent_t's layout (spec §4.4).
func packDirEntry(e vfs.DirEntry) []byte {
	rec := make([]byte, 24+len(e.Name))
	binary.LittleEndian.PutUint64(rec[0:8], e.Next)
	binary.LittleEndian.PutUint64(rec[8:16], e.Inode)
	binary.LittleEndian.PutUint32(rec[16:20], uint32(len(e.Name)))
	rec[20] = uint8(e.FileType)
	copy(rec[24:], e.Name)
	return rec
}

// fileCreate: arg0 = dirfd, arg1 = path ptr, arg2 = path len, arg3 =
// filetype. Result[0] = the new inode.
func fileCreate(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	right := cloudabi.RightFileCreateFile
	if cloudabi.FileType(sc.Frame.U32(3)) == cloudabi.FiletypeDirectory {
		right = cloudabi.RightFileCreateDirectory
	}
	dir, errno := resolveFD(sc, int(sc.Frame.U32(0)), right)
	if errno != cloudabi.ESuccess {
		return errno
	}
	path, errno := readPath(ctx, sc, 1, 2)
	if errno != cloudabi.ESuccess {
		return errno
	}
	inode, errno := dir.FD.FileCreate(ctx, path, cloudabi.FileType(sc.Frame.U32(3)))
	if errno != cloudabi.ESuccess {
		return errno
	}
	sc.SetResults(inode, 0)
	return cloudabi.ESuccess
}

// fileUnlink: arg0 = dirfd, arg1 = path ptr, arg2 = path len, arg3 = 1 if
// removing a directory.
func fileUnlink(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	dir, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightFileUnlink)
	if errno != cloudabi.ESuccess {
		return errno
	}
	path, errno := readPath(ctx, sc, 1, 2)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return dir.FD.FileUnlink(ctx, path, sc.Frame.U32(3) != 0)
}

// fileLink: arg0 = dirfd, arg1 = path ptr, arg2 = path len, arg3 = lookup
// flags, arg4 = dest dirfd, arg5 = dest path ptr, arg6 = dest path len.
func fileLink(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	dir, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightFileLink)
	if errno != cloudabi.ESuccess {
		return errno
	}
	path, errno := readPath(ctx, sc, 1, 2)
	if errno != cloudabi.ESuccess {
		return errno
	}
	destDir, errno := resolveFD(sc, int(sc.Frame.U32(4)), cloudabi.RightFileLink)
	if errno != cloudabi.ESuccess {
		return errno
	}
	destPath, errno := readPath(ctx, sc, 5, 6)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return dir.FD.FileLink(ctx, path, cloudabi.LookupFlags(sc.Frame.U32(3)), destDir.FD, destPath)
}

// fileRename: arg0 = dirfd, arg1 = path ptr, arg2 = path len, arg3 = dest
// dirfd, arg4 = dest path ptr, arg5 = dest path len.
func fileRename(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	dir, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightFileRename)
	if errno != cloudabi.ESuccess {
		return errno
	}
	path, errno := readPath(ctx, sc, 1, 2)
	if errno != cloudabi.ESuccess {
		return errno
	}
	destDir, errno := resolveFD(sc, int(sc.Frame.U32(3)), cloudabi.RightFileRename)
	if errno != cloudabi.ESuccess {
		return errno
	}
	destPath, errno := readPath(ctx, sc, 4, 5)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return dir.FD.FileRename(ctx, path, destDir.FD, destPath)
}

// fileReadlink: arg0 = dirfd, arg1 = path ptr, arg2 = path len, arg3 = buffer
// ptr, arg4 = buffer len. Result[0] = bytes written.
func fileReadlink(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	dir, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightFileReadlink)
	if errno != cloudabi.ESuccess {
		return errno
	}
	path, errno := readPath(ctx, sc, 1, 2)
	if errno != cloudabi.ESuccess {
		return errno
	}
	target, errno := dir.FD.FileReadlink(ctx, path)
	if errno != cloudabi.ESuccess {
		return errno
	}
	bufLen := int(sc.Frame.U64(4))
	if len(target) > bufLen {
		target = target[:bufLen]
	}
	if errno := sc.Proc().Mem().WriteBytes(sc.Frame.Ptr(3), []byte(target)); errno != cloudabi.ESuccess {
		return errno
	}
	sc.SetResults(uint64(len(target)), 0)
	return cloudabi.ESuccess
}

// fileSymlink: arg0 = target ptr, arg1 = target len, arg2 = dirfd, arg3 =
// path ptr, arg4 = path len.
func fileSymlink(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	target, errno := readPath(ctx, sc, 0, 1)
	if errno != cloudabi.ESuccess {
		return errno
	}
	dir, errno := resolveFD(sc, int(sc.Frame.U32(2)), cloudabi.RightFileSymlink)
	if errno != cloudabi.ESuccess {
		return errno
	}
	path, errno := readPath(ctx, sc, 3, 4)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return dir.FD.FileSymlink(ctx, target, path)
}

// fileStatGet: arg0 = dirfd, arg1 = lookup flags, arg2 = path ptr, arg3 =
// path len, arg4 = cloudabi_filestat_t pointer.
func fileStatGet(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	dir, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightFileStatGet)
	if errno != cloudabi.ESuccess {
		return errno
	}
	path, errno := readPath(ctx, sc, 2, 3)
	if errno != cloudabi.ESuccess {
		return errno
	}
	st, errno := dir.FD.FileStatGet(ctx, path, cloudabi.LookupFlags(sc.Frame.U32(1)))
	if errno != cloudabi.ESuccess {
		return errno
	}
	return sc.Proc().Mem().WriteBytes(sc.Frame.Ptr(4), packFilestat(st))
}

// fileStatFGet: arg0 = fd, arg1 = cloudabi_filestat_t pointer.
func fileStatFGet(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	m, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightFileStatFGet)
	if errno != cloudabi.ESuccess {
		return errno
	}
	st, errno := m.FD.StatFGet(ctx)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return sc.Proc().Mem().WriteBytes(sc.Frame.Ptr(1), packFilestat(st))
}

// fileStatFPut: arg0 = fd, arg1 = cloudabi_filestat_t pointer, arg2 = mask.
func fileStatFPut(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	m, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightFileStatFPut)
	if errno != cloudabi.ESuccess {
		return errno
	}
	buf, errno := sc.Proc().Mem().ReadBytes(sc.Frame.Ptr(1), filestatSize)
	if errno != cloudabi.ESuccess {
		return errno
	}
	return m.FD.StatFPut(ctx, unpackFilestat(buf), sc.Frame.U32(2))
}

// fileStatPut: arg0 = dirfd, arg1 = lookup flags, arg2 = path ptr, arg3 =
// path len, arg4 = cloudabi_filestat_t pointer, arg5 = mask. There is no
// path-relative stat_put in the FD contract (only stat_fput on an already
// open FD); cloudabi's file_stat_put implies an implicit open, which this
// kernel does not model — it is rejected with ENoSys (no-sys), not with
// the ENotSup that BaseFD returns for operations an FD type lacks.
func fileStatPut(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	return cloudabi.ENoSys
}

// fileAdvise: arg0 = fd, arg1 = offset, arg2 = length, arg3 = advice. Advice
// is a hint the in-memory filesystem backing has no use for; accepted as a
// no-op success like mem_advise's alignment-only validation.
func fileAdvise(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	_, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightFileAdvise)
	return errno
}

// fileAllocate: arg0 = fd, arg1 = offset, arg2 = length.
func fileAllocate(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	_, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightFileAllocate)
	return errno
}

// filestatSize matches cloudabi_filestat_t: device, inode, filetype (padded
// to 8), linkcount, size, atim, mtim; ctim is not carried.
const filestatSize = 56

func packFilestat(st vfs.Stat) []byte {
	b := make([]byte, filestatSize)
	binary.LittleEndian.PutUint64(b[0:8], st.Device)
	binary.LittleEndian.PutUint64(b[8:16], st.Inode)
	b[16] = uint8(st.FileType)
	binary.LittleEndian.PutUint64(b[24:32], st.LinkCount)
	binary.LittleEndian.PutUint64(b[32:40], st.Size)
	binary.LittleEndian.PutUint64(b[40:48], uint64(st.ATimeNsec))
	binary.LittleEndian.PutUint64(b[48:56], uint64(st.MTimeNsec))
	return b
}

func unpackFilestat(b []byte) vfs.Stat {
	return vfs.Stat{
		ATimeNsec: int64(binary.LittleEndian.Uint64(b[40:48])),
		MTimeNsec: int64(binary.LittleEndian.Uint64(b[48:56])),
	}
}

func mappingFor(fd vfs.FD, base, inheriting cloudabi.Rights) vfs.FDMapping {
	return vfs.FDMapping{FD: fd, RightsBase: base, RightsInheriting: inheriting}
}
