package initrd

import (
	"sync"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/vfs"
)

// fd is a read-only descriptor over one tar entry. Every operation not
// overridden here (writes, socket ops, mem ops) falls through to
// vfs.BaseFD's Not-supported default.
type fd struct {
	vfs.BaseFD
	fs *FS
	n  *node

	mu     sync.Mutex
	offset int64
}

func newFD(fs *FS, n *node) *fd {
	f := &fd{fs: fs, n: n}
	f.InitBaseFD(filetypeOf(n), basename(n.name))
	return f
}

func (f *fd) DecRef() {
	f.BaseFD.DecRefWithDestructor(func() {})
}

func (f *fd) StatFGet(ctx context.Context) (vfs.Stat, cloudabi.Errno) {
	return vfs.Stat{
		Inode:     f.n.inode,
		FileType:  filetypeOf(f.n),
		LinkCount: 1,
		Size:      uint64(len(f.n.data)),
	}, cloudabi.ESuccess
}

// StatFPut is intentionally left as the Not-supported default: the
// filesystem is read-only (spec §4.11).

func (f *fd) Read(ctx context.Context, iov [][]byte) (int, cloudabi.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n.isDir {
		return 0, cloudabi.EIsDir
	}
	n, _ := vfs.CopyOut(iov, f.n.data[min64(f.offset, int64(len(f.n.data))):])
	f.offset += int64(n)
	return n, cloudabi.ESuccess
}

func (f *fd) PRead(ctx context.Context, iov [][]byte, offset int64) (int, cloudabi.Errno) {
	if f.n.isDir {
		return 0, cloudabi.EIsDir
	}
	if offset < 0 {
		return 0, cloudabi.EInval
	}
	n, _ := vfs.CopyOut(iov, f.n.data[min64(offset, int64(len(f.n.data))):])
	return n, cloudabi.ESuccess
}

func (f *fd) Seek(ctx context.Context, delta int64, whence cloudabi.Whence) (int64, cloudabi.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var base int64
	switch whence {
	case cloudabi.WhenceSet:
		base = 0
	case cloudabi.WhenceCur:
		base = f.offset
	case cloudabi.WhenceEnd:
		base = int64(len(f.n.data))
	default:
		return 0, cloudabi.EInval
	}
	newOff := base + delta
	if newOff < 0 {
		return 0, cloudabi.EInvalSeek
	}
	f.offset = newOff
	return newOff, cloudabi.ESuccess
}

func (f *fd) Sync(ctx context.Context) cloudabi.Errno     { return cloudabi.ESuccess }
func (f *fd) Datasync(ctx context.Context) cloudabi.Errno { return cloudabi.ESuccess }

// OpenAt resolves a single path component (traverse.go is responsible for
// multi-component walks) against this directory entry.
func (f *fd) OpenAt(ctx context.Context, path string, lookup cloudabi.LookupFlags, oflags cloudabi.OFlags, rightsBase, rightsInheriting cloudabi.Rights, fdflags cloudabi.FDFlags) (vfs.FD, cloudabi.Errno) {
	if !f.n.isDir {
		return nil, cloudabi.ENotDir
	}
	if oflags&cloudabi.OCreat != 0 {
		// Read-only filesystem: creation always fails, matching how
		// the source's initrdfs rejects every mutating syscall.
		return nil, cloudabi.ERoFS
	}
	child := f.fs.lookup(f.n.name, path)
	if child == nil {
		return nil, cloudabi.ENoEnt
	}
	if oflags&cloudabi.ODirectory != 0 && !child.isDir {
		return nil, cloudabi.ENotDir
	}
	return newFD(f.fs, child), cloudabi.ESuccess
}

func (f *fd) ReadDir(ctx context.Context, cookie uint64, limit int) ([]vfs.DirEntry, cloudabi.Errno) {
	if !f.n.isDir {
		return nil, cloudabi.ENotDir
	}
	kids := f.fs.children(f.n.name)
	if cookie > uint64(len(kids)) {
		return nil, cloudabi.EInval
	}
	var out []vfs.DirEntry
	for i := int(cookie); i < len(kids); i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, vfs.DirEntry{
			Next:     uint64(i + 1),
			Inode:    kids[i].inode,
			Name:     basename(kids[i].name),
			FileType: filetypeOf(kids[i]),
		})
	}
	return out, cloudabi.ESuccess
}

func (f *fd) FileStatGet(ctx context.Context, path string, lookup cloudabi.LookupFlags) (vfs.Stat, cloudabi.Errno) {
	if !f.n.isDir {
		return vfs.Stat{}, cloudabi.ENotDir
	}
	child := f.fs.lookup(f.n.name, path)
	if child == nil {
		return vfs.Stat{}, cloudabi.ENoEnt
	}
	return vfs.Stat{
		Inode:     child.inode,
		FileType:  filetypeOf(child),
		LinkCount: 1,
		Size:      uint64(len(child.data)),
	}, cloudabi.ESuccess
}

func (f *fd) FileReadlink(ctx context.Context, path string) (string, cloudabi.Errno) {
	target := f.n
	if path != "" {
		if !f.n.isDir {
			return "", cloudabi.ENotDir
		}
		child := f.fs.lookup(f.n.name, path)
		if child == nil {
			return "", cloudabi.ENoEnt
		}
		target = child
	}
	if !target.isSymlink {
		return "", cloudabi.EInval
	}
	return target.linkTarget, cloudabi.ESuccess
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
