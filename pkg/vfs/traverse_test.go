package vfs

import (
	"testing"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
)

// fakeEntry is one child of a fakeDir: either a nested fakeDir, a plain
// regular file, or a symlink naming another path in the same directory.
type fakeEntry struct {
	dir         *fakeDir
	isSymlink   bool
	symlinkDest string
}

// fakeDir is a minimal writable in-memory directory FD, standing in for a
// real directory implementation (the only one in the tree, initrd, is
// read-only and so can't exercise O_CREAT) purely to drive traverse.go's
// own component-walk, ".." confinement, and symlink-follow logic.
type fakeDir struct {
	BaseFD
	name     string
	children map[string]*fakeEntry
}

func newFakeDir(name string) *fakeDir {
	d := &fakeDir{name: name, children: map[string]*fakeEntry{}}
	d.InitBaseFD(cloudabi.FiletypeDirectory, name)
	return d
}

func (d *fakeDir) DecRef() { d.BaseFD.DecRefWithDestructor(func() {}) }

func (d *fakeDir) addDir(name string) *fakeDir {
	sub := newFakeDir(name)
	d.children[name] = &fakeEntry{dir: sub}
	return sub
}

func (d *fakeDir) addSymlink(name, dest string) {
	d.children[name] = &fakeEntry{isSymlink: true, symlinkDest: dest}
}

// fakeSymlinkFD is the leaf FD type returned for a symlink entry.
type fakeSymlinkFD struct {
	BaseFD
	target string
}

func (f *fakeSymlinkFD) DecRef() { f.BaseFD.DecRefWithDestructor(func() {}) }
func (f *fakeSymlinkFD) FileReadlink(ctx context.Context, path string) (string, cloudabi.Errno) {
	return f.target, cloudabi.ESuccess
}

// fakeFileFD is the leaf FD type returned for a plain regular file.
type fakeFileFD struct {
	BaseFD
}

func (f *fakeFileFD) DecRef() { f.BaseFD.DecRefWithDestructor(func() {}) }

// OpenAt resolves a single path component against this directory, matching
// traverse.go's expectation that each FD subtype only ever sees one
// component at a time (§4.8).
func (d *fakeDir) OpenAt(ctx context.Context, name string, lookup cloudabi.LookupFlags, oflags cloudabi.OFlags, rightsBase, rightsInheriting cloudabi.Rights, fdflags cloudabi.FDFlags) (FD, cloudabi.Errno) {
	entry, ok := d.children[name]
	if !ok {
		if oflags&cloudabi.OCreat == 0 {
			return nil, cloudabi.ENoEnt
		}
		f := &fakeFileFD{}
		f.InitBaseFD(cloudabi.FiletypeRegularFile, name)
		d.children[name] = &fakeEntry{}
		return f, cloudabi.ESuccess
	}
	if oflags&cloudabi.OCreat != 0 && oflags&cloudabi.OExcl != 0 {
		// traverse finds the existing entry, but O_CREAT|O_EXCL on an
		// existing target fails at the openat layer (spec §4.8, §8).
		return nil, cloudabi.EExist
	}
	if entry.isSymlink {
		f := &fakeSymlinkFD{target: entry.symlinkDest}
		f.InitBaseFD(cloudabi.FiletypeSymbolicLink, name)
		return f, cloudabi.ESuccess
	}
	if entry.dir != nil {
		entry.dir.IncRef()
		return entry.dir, cloudabi.ESuccess
	}
	if oflags&cloudabi.ODirectory != 0 {
		return nil, cloudabi.ENotDir
	}
	f := &fakeFileFD{}
	f.InitBaseFD(cloudabi.FiletypeRegularFile, name)
	return f, cloudabi.ESuccess
}

func TestOpenAtEmptyPathFailsInval(t *testing.T) {
	root := newFakeDir("root")
	_, errno := OpenAt(context.Background(), root, "", cloudabi.LookupSymlinkFollow, 0, 0, 0, 0)
	if errno != cloudabi.EInval {
		t.Fatalf("OpenAt(\"\") = %v, want EInval", errno)
	}
}

func TestOpenAtLeadingSlashFailsNotCapable(t *testing.T) {
	root := newFakeDir("root")
	root.addDir("etc")
	_, errno := OpenAt(context.Background(), root, "/etc", cloudabi.LookupSymlinkFollow, 0, 0, 0, 0)
	if errno != cloudabi.ENotCapable {
		t.Fatalf("OpenAt(\"/etc\") = %v, want ENotCapable", errno)
	}
}

func TestOpenAtDotDotFailsNotCapable(t *testing.T) {
	root := newFakeDir("root")
	root.addDir("etc")
	_, errno := OpenAt(context.Background(), root, "../etc", cloudabi.LookupSymlinkFollow, 0, 0, 0, 0)
	if errno != cloudabi.ENotCapable {
		t.Fatalf("OpenAt(\"../etc\") = %v, want ENotCapable", errno)
	}
	_, errno = OpenAt(context.Background(), root, "etc/../..", cloudabi.LookupSymlinkFollow, 0, 0, 0, 0)
	if errno != cloudabi.ENotCapable {
		t.Fatalf("OpenAt(\"etc/../..\") = %v, want ENotCapable", errno)
	}
}

func TestOpenAtDescendsThroughNestedDirectories(t *testing.T) {
	root := newFakeDir("root")
	bin := root.addDir("bin")
	bin.addDir("sub")

	got, errno := OpenAt(context.Background(), root, "bin/sub", cloudabi.LookupSymlinkFollow, 0, 0, 0, 0)
	if errno != cloudabi.ESuccess {
		t.Fatalf("OpenAt(\"bin/sub\") = %v", errno)
	}
	if got.DebugName() != "sub" {
		t.Fatalf("resolved to %q, want sub", got.DebugName())
	}
}

func TestOpenAtAllDotsReturnsStartingDirectory(t *testing.T) {
	root := newFakeDir("root")
	before := root.ReadRefs()

	got, errno := OpenAt(context.Background(), root, "./.", cloudabi.LookupSymlinkFollow, 0, 0, 0, 0)
	if errno != cloudabi.ESuccess {
		t.Fatalf("OpenAt(\"./.\") = %v", errno)
	}
	if got != FD(root) {
		t.Fatal("OpenAt(\"./.\") did not return the starting directory")
	}
	if root.ReadRefs() != before+1 {
		t.Fatalf("refcount = %d, want %d (OpenAt should IncRef the returned dir)", root.ReadRefs(), before+1)
	}
}

func TestOpenAtTrailingSlashRequiresDirectory(t *testing.T) {
	root := newFakeDir("root")
	root.children["hosts"] = &fakeEntry{}

	_, errno := OpenAt(context.Background(), root, "hosts/", cloudabi.LookupSymlinkFollow, 0, 0, 0, 0)
	if errno != cloudabi.ENotDir {
		t.Fatalf("OpenAt(\"hosts/\") = %v, want ENotDir", errno)
	}

	// Without the trailing slash the same regular file opens fine.
	if _, errno := OpenAt(context.Background(), root, "hosts", cloudabi.LookupSymlinkFollow, 0, 0, 0, 0); errno != cloudabi.ESuccess {
		t.Fatalf("OpenAt(\"hosts\") = %v, want success", errno)
	}
}

func TestOpenAtCreateExclOnExistingFails(t *testing.T) {
	root := newFakeDir("root")
	root.children["hosts"] = &fakeEntry{}

	_, errno := OpenAt(context.Background(), root, "hosts", cloudabi.LookupSymlinkFollow, cloudabi.OCreat|cloudabi.OExcl, 0, 0, 0)
	if errno != cloudabi.EExist {
		t.Fatalf("OpenAt(O_CREAT|O_EXCL, existing) = %v, want EExist", errno)
	}
}

func TestOpenAtCreateOnMissingSucceeds(t *testing.T) {
	root := newFakeDir("root")
	_, errno := OpenAt(context.Background(), root, "new", cloudabi.LookupSymlinkFollow, cloudabi.OCreat|cloudabi.OExcl, 0, 0, 0)
	if errno != cloudabi.ESuccess {
		t.Fatalf("OpenAt(O_CREAT|O_EXCL, missing) = %v, want success", errno)
	}
}

func TestOpenAtFollowsSymlinkAtLeaf(t *testing.T) {
	root := newFakeDir("root")
	root.children["hosts"] = &fakeEntry{}
	root.addSymlink("current", "hosts")

	got, errno := OpenAt(context.Background(), root, "current", cloudabi.LookupSymlinkFollow, 0, 0, 0, 0)
	if errno != cloudabi.ESuccess {
		t.Fatalf("OpenAt(symlink, follow) = %v", errno)
	}
	if got.FileType() != cloudabi.FiletypeRegularFile {
		t.Fatalf("resolved file type = %v, want regular file", got.FileType())
	}
}

func TestOpenAtSymlinkLoopFailsELoop(t *testing.T) {
	root := newFakeDir("root")
	root.addSymlink("a", "b")
	root.addSymlink("b", "a")

	_, errno := OpenAt(context.Background(), root, "a", cloudabi.LookupSymlinkFollow, 0, 0, 0, 0)
	if errno != cloudabi.ELoop {
		t.Fatalf("OpenAt(self-referential symlink) = %v, want ELoop", errno)
	}
}
