// Package vfs implements the polymorphic file-descriptor object model
// (spec §3, §4.4): a uniform read/write/seek/stat/recv/send/shutdown
// contract shared by every FD subtype, plus the rights-checked FD mapping
// and the root-confined path traversal that sits above it (§4.8).
//
// Grounded on original_source/fd/vfs.hpp (traverse/openat contract) and
// gVisor's vfs.FileDescriptionImpl shape (host.go's fileDescription type:
// every operation takes a context.Context, returns (result, error), and
// unsupported operations return a stable error rather than panicking).
//
// Per spec §9 Design Notes, FD subtypes are composed via Go interface
// satisfaction, not inheritance: BaseFD supplies a Not-supported default for
// every operation, and concrete FD types embed it and shadow only the
// operations they implement.
package vfs

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/refs"
	"github.com/sgielen/cosixgo/pkg/sync"
	"github.com/sgielen/cosixgo/pkg/waiter"
)

// Stat is the subset of cloudabi_filestat_t the kernel actually tracks.
type Stat struct {
	Device     uint64
	Inode      uint64
	FileType   cloudabi.FileType
	LinkCount  uint64
	Size       uint64
	ATimeNsec  int64
	MTimeNsec  int64
	CTimeNsec  int64
}

// DirEntry is one packed readdir record (spec §4.4: "(d_next, d_ino,
// d_namlen, d_type, name)").
type DirEntry struct {
	Next     uint64
	Inode    uint64
	Name     string
	FileType cloudabi.FileType
}

// FD is the uniform contract every descriptor subtype implements (spec
// §4.4). Every method sets the FD's own error slot as a side effect (spec
// §3: "a last-error slot set by the most recent operation") in addition to
// returning it, because some callers (traverse, the pseudo-FD bridge) need
// to inspect fd.Error() after a call whose return value they don't
// otherwise retain.
type FD interface {
	refsOwner

	// FileType returns the FD's type tag.
	FileType() cloudabi.FileType
	// DebugName returns the FD's (<=32 character) debug name.
	DebugName() string
	// Flags/SetFlags access the FD-flags word.
	Flags() cloudabi.FDFlags
	SetFlags(cloudabi.FDFlags) cloudabi.Errno
	// Error returns the error set by the most recently completed
	// operation.
	Error() cloudabi.Errno

	Read(ctx context.Context, iov [][]byte) (int, cloudabi.Errno)
	PRead(ctx context.Context, iov [][]byte, offset int64) (int, cloudabi.Errno)
	Write(ctx context.Context, iov [][]byte) (int, cloudabi.Errno)
	PWrite(ctx context.Context, iov [][]byte, offset int64) (int, cloudabi.Errno)
	Seek(ctx context.Context, delta int64, whence cloudabi.Whence) (int64, cloudabi.Errno)
	Sync(ctx context.Context) cloudabi.Errno
	Datasync(ctx context.Context) cloudabi.Errno

	StatFGet(ctx context.Context) (Stat, cloudabi.Errno)
	StatFPut(ctx context.Context, s Stat, mask uint32) cloudabi.Errno

	// Directory-only operations.
	OpenAt(ctx context.Context, path string, lookup cloudabi.LookupFlags, oflags cloudabi.OFlags, rightsBase, rightsInheriting cloudabi.Rights, fdflags cloudabi.FDFlags) (FD, cloudabi.Errno)
	ReadDir(ctx context.Context, cookie uint64, limit int) ([]DirEntry, cloudabi.Errno)
	FileCreate(ctx context.Context, path string, filetype cloudabi.FileType) (uint64, cloudabi.Errno)
	FileUnlink(ctx context.Context, path string, isDir bool) cloudabi.Errno
	FileLink(ctx context.Context, path string, lookup cloudabi.LookupFlags, destDir FD, destPath string) cloudabi.Errno
	FileRename(ctx context.Context, path string, destDir FD, destPath string) cloudabi.Errno
	FileReadlink(ctx context.Context, path string) (string, cloudabi.Errno)
	FileSymlink(ctx context.Context, target, path string) cloudabi.Errno
	FileStatGet(ctx context.Context, path string, lookup cloudabi.LookupFlags) (Stat, cloudabi.Errno)

	// Socket operations. device/inode name the (device,inode) of the
	// filesystem node the socket is bound at or connecting to (spec §4.9);
	// the vfs package is agnostic to how the caller resolved a path to
	// that pair.
	SockBind(ctx context.Context, device, inode uint64) cloudabi.Errno
	SockConnect(ctx context.Context, device, inode uint64) cloudabi.Errno
	SockListen(ctx context.Context, backlog int) cloudabi.Errno
	SockAccept(ctx context.Context) (FD, cloudabi.Errno)
	SockShutdown(ctx context.Context, how cloudabi.SDFlags) cloudabi.Errno
	SockStatGet(ctx context.Context) (SockStat, cloudabi.Errno)
	SockRecv(ctx context.Context, iov [][]byte, maxFDs int) (RecvResult, cloudabi.Errno)
	SockSend(ctx context.Context, iov [][]byte, fds []FDMapping) (int, cloudabi.Errno)

	// Poll integration (spec §4.4).
	GetReadSignaler() *waiter.Signaler
	GetWriteSignaler() *waiter.Signaler
}

// SockStat is the subset of cloudabi_sockstat_t the kernel tracks.
type SockStat struct {
	Family   uint8
	SockType cloudabi.FileType
	State    uint8
}

// RecvResult is the decoded result of a successful SockRecv.
type RecvResult struct {
	DataLen   int
	FDs       []FDMapping
	Truncated cloudabi.RecvOutFlags
}

type refsOwner interface {
	IncRef()
	DecRef()
}

// BaseFD supplies the fields spec §3 lists as common to every FD
// ("a reference-counted object with: a file type tag ... an FD-flags word
// ... a last-error slot ... a 32-character debug name") plus a
// Not-supported default for every operation in FD. Concrete subtypes embed
// BaseFD and shadow only what they implement (spec §9: interface with
// default-implementations that fail not-supported).
type BaseFD struct {
	refs.AtomicRefCount

	mu       sync.Mutex
	filetype cloudabi.FileType
	flags    cloudabi.FDFlags
	errno    cloudabi.Errno
	name     [32]byte
	nameLen  int
}

// InitBaseFD initializes the embedded BaseFD; constructors of concrete FD
// types call this instead of duplicating the field setup.
func (b *BaseFD) InitBaseFD(filetype cloudabi.FileType, name string) {
	b.AtomicRefCount.Init()
	b.filetype = filetype
	b.setName(name)
}

func (b *BaseFD) setName(name string) {
	n := copy(b.name[:], name)
	b.nameLen = n
}

// DecRef is the common destructor hook; subtypes needing teardown logic
// override it (shadow) and should still decrement via BaseFD.DecRefWithDestructor.
func (b *BaseFD) DecRef() {
	b.AtomicRefCount.DecRefWithDestructor(func() {})
}

func (b *BaseFD) FileType() cloudabi.FileType { return b.filetype }
func (b *BaseFD) DebugName() string           { return string(b.name[:b.nameLen]) }

func (b *BaseFD) Flags() cloudabi.FDFlags {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flags
}

func (b *BaseFD) SetFlags(f cloudabi.FDFlags) cloudabi.Errno {
	b.mu.Lock()
	b.flags = f
	b.mu.Unlock()
	return b.ok()
}

func (b *BaseFD) Error() cloudabi.Errno {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errno
}

// setErrno records e as the FD's last-error slot and returns it, so call
// sites can `return b.fail(cloudabi.EBadF)`.
func (b *BaseFD) setErrno(e cloudabi.Errno) cloudabi.Errno {
	b.mu.Lock()
	b.errno = e
	b.mu.Unlock()
	return e
}

func (b *BaseFD) ok() cloudabi.Errno { return b.setErrno(cloudabi.ESuccess) }
func (b *BaseFD) notSupported() cloudabi.Errno { return b.setErrno(cloudabi.ENotSup) }

// -- default (Not-supported) implementations --

func (b *BaseFD) Read(context.Context, [][]byte) (int, cloudabi.Errno)          { return 0, b.notSupported() }
func (b *BaseFD) PRead(context.Context, [][]byte, int64) (int, cloudabi.Errno)  { return 0, b.notSupported() }
func (b *BaseFD) Write(context.Context, [][]byte) (int, cloudabi.Errno)         { return 0, b.notSupported() }
func (b *BaseFD) PWrite(context.Context, [][]byte, int64) (int, cloudabi.Errno) { return 0, b.notSupported() }
func (b *BaseFD) Seek(context.Context, int64, cloudabi.Whence) (int64, cloudabi.Errno) {
	return 0, b.notSupported()
}
func (b *BaseFD) Sync(context.Context) cloudabi.Errno     { return b.notSupported() }
func (b *BaseFD) Datasync(context.Context) cloudabi.Errno { return b.notSupported() }

func (b *BaseFD) StatFGet(context.Context) (Stat, cloudabi.Errno) {
	return Stat{}, b.notSupported()
}
func (b *BaseFD) StatFPut(context.Context, Stat, uint32) cloudabi.Errno { return b.notSupported() }

func (b *BaseFD) OpenAt(context.Context, string, cloudabi.LookupFlags, cloudabi.OFlags, cloudabi.Rights, cloudabi.Rights, cloudabi.FDFlags) (FD, cloudabi.Errno) {
	return nil, b.notSupported()
}
func (b *BaseFD) ReadDir(context.Context, uint64, int) ([]DirEntry, cloudabi.Errno) {
	return nil, b.notSupported()
}
func (b *BaseFD) FileCreate(context.Context, string, cloudabi.FileType) (uint64, cloudabi.Errno) {
	return 0, b.notSupported()
}
func (b *BaseFD) FileUnlink(context.Context, string, bool) cloudabi.Errno { return b.notSupported() }
func (b *BaseFD) FileLink(context.Context, string, cloudabi.LookupFlags, FD, string) cloudabi.Errno {
	return b.notSupported()
}
func (b *BaseFD) FileRename(context.Context, string, FD, string) cloudabi.Errno {
	return b.notSupported()
}
func (b *BaseFD) FileReadlink(context.Context, string) (string, cloudabi.Errno) {
	return "", b.notSupported()
}
func (b *BaseFD) FileSymlink(context.Context, string, string) cloudabi.Errno { return b.notSupported() }
func (b *BaseFD) FileStatGet(context.Context, string, cloudabi.LookupFlags) (Stat, cloudabi.Errno) {
	return Stat{}, b.notSupported()
}

func (b *BaseFD) SockBind(context.Context, uint64, uint64) cloudabi.Errno    { return b.notSupported() }
func (b *BaseFD) SockConnect(context.Context, uint64, uint64) cloudabi.Errno { return b.notSupported() }
func (b *BaseFD) SockListen(context.Context, int) cloudabi.Errno            { return b.notSupported() }
func (b *BaseFD) SockAccept(context.Context) (FD, cloudabi.Errno)   { return nil, b.notSupported() }
func (b *BaseFD) SockShutdown(context.Context, cloudabi.SDFlags) cloudabi.Errno {
	return b.notSupported()
}
func (b *BaseFD) SockStatGet(context.Context) (SockStat, cloudabi.Errno) {
	return SockStat{}, b.notSupported()
}
func (b *BaseFD) SockRecv(context.Context, [][]byte, int) (RecvResult, cloudabi.Errno) {
	return RecvResult{}, b.notSupported()
}
func (b *BaseFD) SockSend(context.Context, [][]byte, []FDMapping) (int, cloudabi.Errno) {
	return 0, b.notSupported()
}

func (b *BaseFD) GetReadSignaler() *waiter.Signaler  { return nil }
func (b *BaseFD) GetWriteSignaler() *waiter.Signaler { return nil }

// CopyOut copies src into the iovec array dst, returning the number of
// bytes copied and whether src had leftover bytes that didn't fit (the
// "data-truncated" condition used by both socket recv and regular reads).
func CopyOut(dst [][]byte, src []byte) (n int, truncated bool) {
	for _, d := range dst {
		if len(src) == 0 {
			break
		}
		c := copy(d, src)
		src = src[c:]
		n += c
	}
	return n, len(src) > 0
}

// CopyIn concatenates an iovec array into one contiguous buffer, bounded by
// max bytes (0 means unbounded).
func CopyIn(src [][]byte, max int) []byte {
	var out []byte
	for _, s := range src {
		out = append(out, s...)
		if max > 0 && len(out) >= max {
			return out[:max]
		}
	}
	return out
}
