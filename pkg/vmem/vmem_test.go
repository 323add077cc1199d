package vmem_test

import (
	"testing"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/vmem"
)

// fakeFile is a minimal fd.PRead/PWrite-only FD standing in for a real
// initrd/pseudofd-backed file, the way pkg/vfs/leaf's tests stand in their
// own fakes for the callbacks they inject.
type fakeFile struct {
	vfs.BaseFD
	data []byte
}

func newFakeFile(data []byte) *fakeFile {
	f := &fakeFile{data: data}
	f.InitBaseFD(cloudabi.FiletypeRegularFile, "fake")
	return f
}

func (f *fakeFile) PRead(ctx context.Context, iov [][]byte, offset int64) (int, cloudabi.Errno) {
	if offset >= int64(len(f.data)) {
		return 0, cloudabi.ESuccess
	}
	n, _ := vfs.CopyOut(iov, f.data[offset:])
	return n, cloudabi.ESuccess
}

func (f *fakeFile) PWrite(ctx context.Context, iov [][]byte, offset int64) (int, cloudabi.Errno) {
	data := vfs.CopyIn(iov, 0)
	for int64(len(f.data)) < offset+int64(len(data)) {
		f.data = append(f.data, 0)
	}
	copy(f.data[offset:], data)
	return len(data), cloudabi.ESuccess
}

func TestMemMapAnonZeroFilled(t *testing.T) {
	ctx := context.Background()
	a := vmem.NewAddressSpace(0x1000_0000, 1<<30)
	addr, errno := a.MemMap(ctx, 0, vmem.PageSize, cloudabi.ProtRead|cloudabi.ProtWrite, cloudabi.MemAnon|cloudabi.MemPrivate, nil, 0)
	if errno != cloudabi.ESuccess {
		t.Fatalf("mem_map: %v", errno)
	}
	if addr%vmem.PageSize != 0 {
		t.Fatalf("addr %#x not page-aligned", addr)
	}
}

func TestMemMapRejectsWriteAndExec(t *testing.T) {
	ctx := context.Background()
	a := vmem.NewAddressSpace(0x1000_0000, 1<<30)
	_, errno := a.MemMap(ctx, 0, vmem.PageSize, cloudabi.ProtWrite|cloudabi.ProtExec, cloudabi.MemAnon|cloudabi.MemPrivate, nil, 0)
	if errno != cloudabi.EInval {
		t.Fatalf("errno = %v, want EInval", errno)
	}
}

func TestMemMapRejectsAnonWithFD(t *testing.T) {
	ctx := context.Background()
	a := vmem.NewAddressSpace(0x1000_0000, 1<<30)
	f := newFakeFile(nil)
	_, errno := a.MemMap(ctx, 0, vmem.PageSize, cloudabi.ProtRead, cloudabi.MemAnon|cloudabi.MemPrivate, f, 0)
	if errno != cloudabi.EInval {
		t.Fatalf("errno = %v, want EInval", errno)
	}
}

func TestMemMapFDBackedReadsContent(t *testing.T) {
	ctx := context.Background()
	a := vmem.NewAddressSpace(0x1000_0000, 1<<30)
	content := make([]byte, vmem.PageSize)
	content[0] = 0xAB
	f := newFakeFile(content)

	addr, errno := a.MemMap(ctx, 0, vmem.PageSize, cloudabi.ProtRead, cloudabi.MemPrivate, f, 0)
	if errno != cloudabi.ESuccess {
		t.Fatalf("mem_map: %v", errno)
	}
	got, errno := a.ReadBytes(addr, 1)
	if errno != cloudabi.ESuccess || got[0] != 0xAB {
		t.Fatalf("first byte = %v errno=%v, want 0xAB", got, errno)
	}
}

func TestMemMapFixedEvictsOverlap(t *testing.T) {
	ctx := context.Background()
	a := vmem.NewAddressSpace(0x1000_0000, 1<<30)
	addr, errno := a.MemMap(ctx, 0, 4*vmem.PageSize, cloudabi.ProtRead|cloudabi.ProtWrite, cloudabi.MemAnon|cloudabi.MemPrivate, nil, 0)
	if errno != cloudabi.ESuccess {
		t.Fatalf("first mem_map: %v", errno)
	}
	// Re-map the middle two pages fixed; this must not error and must not
	// corrupt the surrounding remainder's accounting.
	mid := addr + vmem.PageSize
	_, errno = a.MemMap(ctx, mid, 2*vmem.PageSize, cloudabi.ProtRead, cloudabi.MemAnon|cloudabi.MemPrivate|cloudabi.MemFixed, nil, 0)
	if errno != cloudabi.ESuccess {
		t.Fatalf("fixed mem_map: %v", errno)
	}
	if errno := a.MemProtect(addr, vmem.PageSize, cloudabi.ProtRead); errno != cloudabi.ESuccess {
		t.Fatalf("protect first page: %v", errno)
	}
	if errno := a.MemProtect(mid+2*vmem.PageSize, vmem.PageSize, cloudabi.ProtRead); errno != cloudabi.ESuccess {
		t.Fatalf("protect last page: %v", errno)
	}
}

func TestMemProtectFailsOnGap(t *testing.T) {
	ctx := context.Background()
	a := vmem.NewAddressSpace(0x1000_0000, 1<<30)
	addr, _ := a.MemMap(ctx, 0, vmem.PageSize, cloudabi.ProtRead, cloudabi.MemAnon|cloudabi.MemPrivate, nil, 0)
	if errno := a.MemProtect(addr, 2*vmem.PageSize, cloudabi.ProtRead); errno != cloudabi.ENoMem {
		t.Fatalf("errno = %v, want ENoMem", errno)
	}
}

func TestMemUnmapThenRemapReusesSpace(t *testing.T) {
	ctx := context.Background()
	a := vmem.NewAddressSpace(0x1000_0000, 4*vmem.PageSize)
	addr, _ := a.MemMap(ctx, 0, 4*vmem.PageSize, cloudabi.ProtRead, cloudabi.MemAnon|cloudabi.MemPrivate, nil, 0)
	if errno := a.MemUnmap(addr, 4*vmem.PageSize); errno != cloudabi.ESuccess {
		t.Fatalf("mem_unmap: %v", errno)
	}
	addr2, errno := a.MemMap(ctx, 0, 4*vmem.PageSize, cloudabi.ProtRead, cloudabi.MemAnon|cloudabi.MemPrivate, nil, 0)
	if errno != cloudabi.ESuccess || addr2 != addr {
		t.Fatalf("remap: addr=%#x errno=%v, want %#x", addr2, errno, addr)
	}
}

func TestMemAdviseValidatesAlignmentOnly(t *testing.T) {
	a := vmem.NewAddressSpace(0x1000_0000, 1<<20)
	if errno := a.MemAdvise(1, vmem.PageSize); errno != cloudabi.EInval {
		t.Fatalf("errno = %v, want EInval for misaligned addr", errno)
	}
	if errno := a.MemAdvise(0x1000_0000, vmem.PageSize); errno != cloudabi.ESuccess {
		t.Fatalf("errno = %v, want ESuccess", errno)
	}
}

func TestForkCOWDivergesOnWrite(t *testing.T) {
	ctx := context.Background()
	parent := vmem.NewAddressSpace(0x2000_0000, 1<<20)
	addr, _ := parent.MemMap(ctx, 0, vmem.PageSize, cloudabi.ProtRead|cloudabi.ProtWrite, cloudabi.MemAnon|cloudabi.MemPrivate, nil, 0)

	child := parent.Fork()

	if errno := parent.HandleWriteFault(addr); errno != cloudabi.ESuccess {
		t.Fatalf("parent write fault: %v", errno)
	}
	if errno := child.HandleWriteFault(addr); errno != cloudabi.ESuccess {
		t.Fatalf("child write fault: %v", errno)
	}
	// After both faults each side owns its own frame, so a write through the
	// parent is not visible to the child. A second fault on the same address
	// must be a no-op (cow already cleared) rather than erroring or
	// re-cloning.
	if errno := parent.WriteBytes(addr, []byte("p")); errno != cloudabi.ESuccess {
		t.Fatalf("parent write bytes: %v", errno)
	}
	if got, errno := child.ReadBytes(addr, 1); errno != cloudabi.ESuccess || got[0] != 0 {
		t.Fatalf("child byte = %v errno=%v, want 0", got, errno)
	}
	if errno := parent.HandleWriteFault(addr); errno != cloudabi.ESuccess {
		t.Fatalf("parent second write fault: %v", errno)
	}
}

func TestForkSharedMappingStaysLinked(t *testing.T) {
	ctx := context.Background()
	parent := vmem.NewAddressSpace(0x3000_0000, 1<<20)
	addr, _ := parent.MemMap(ctx, 0, vmem.PageSize, cloudabi.ProtRead|cloudabi.ProtWrite, cloudabi.MemAnon|cloudabi.MemShared, nil, 0)
	child := parent.Fork()

	// A shared mapping's pages are never COW; a write fault against it is a
	// harmless no-op on both sides, not a clone.
	if errno := parent.HandleWriteFault(addr); errno != cloudabi.ESuccess {
		t.Fatalf("parent write fault: %v", errno)
	}
	if errno := child.HandleWriteFault(addr); errno != cloudabi.ESuccess {
		t.Fatalf("child write fault: %v", errno)
	}
	// Both sides still reference the same frame: a parent write shows up in
	// the child.
	if errno := parent.WriteBytes(addr, []byte("s")); errno != cloudabi.ESuccess {
		t.Fatalf("parent write bytes: %v", errno)
	}
	if got, errno := child.ReadBytes(addr, 1); errno != cloudabi.ESuccess || string(got) != "s" {
		t.Fatalf("child bytes = %q errno=%v, want \"s\"", got, errno)
	}
}

func TestHandleWriteFaultUnmappedFails(t *testing.T) {
	a := vmem.NewAddressSpace(0x4000_0000, 1<<20)
	if errno := a.HandleWriteFault(0x4000_0000); errno != cloudabi.ENoMem {
		t.Fatalf("errno = %v, want ENoMem", errno)
	}
}

func TestMemSyncWritesBackFDBackedMapping(t *testing.T) {
	ctx := context.Background()
	a := vmem.NewAddressSpace(0x5000_0000, 1<<20)
	f := newFakeFile(make([]byte, vmem.PageSize))
	addr, errno := a.MemMap(ctx, 0, vmem.PageSize, cloudabi.ProtRead|cloudabi.ProtWrite, cloudabi.MemShared, f, 0)
	if errno != cloudabi.ESuccess {
		t.Fatalf("mem_map: %v", errno)
	}
	if errno := a.WriteBytes(addr, []byte("x")); errno != cloudabi.ESuccess {
		t.Fatalf("write bytes: %v", errno)
	}
	if errno := a.MemSync(ctx, addr, vmem.PageSize, cloudabi.MemSyncSync); errno != cloudabi.ESuccess {
		t.Fatalf("mem_sync: %v", errno)
	}
	if f.data[0] != 'x' {
		t.Fatalf("file byte 0 = %q, want 'x' written back", f.data[0])
	}
}

func TestWriteBytesThenReadBytesRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := vmem.NewAddressSpace(0x6000_0000, 1<<20)
	addr, _ := a.MemMap(ctx, 0, vmem.PageSize, cloudabi.ProtRead|cloudabi.ProtWrite, cloudabi.MemAnon|cloudabi.MemPrivate, nil, 0)

	payload := []byte("argv\x00envp\x00")
	if errno := a.WriteBytes(addr, payload); errno != cloudabi.ESuccess {
		t.Fatalf("write bytes: %v", errno)
	}
	got, errno := a.ReadBytes(addr, uint64(len(payload)))
	if errno != cloudabi.ESuccess || string(got) != string(payload) {
		t.Fatalf("read bytes: %q errno=%v", got, errno)
	}
}

func TestWriteBytesRejectsReadOnlyMapping(t *testing.T) {
	ctx := context.Background()
	a := vmem.NewAddressSpace(0x7000_0000, 1<<20)
	addr, _ := a.MemMap(ctx, 0, vmem.PageSize, cloudabi.ProtRead, cloudabi.MemAnon|cloudabi.MemPrivate, nil, 0)
	if errno := a.WriteBytes(addr, []byte("x")); errno != cloudabi.EPerm {
		t.Fatalf("errno = %v, want EPerm", errno)
	}
}

func TestTeardownDropsFrameReferences(t *testing.T) {
	ctx := context.Background()
	a := vmem.NewAddressSpace(0x8000_0000, 1<<20)
	addr, _ := a.MemMap(ctx, 0, vmem.PageSize, cloudabi.ProtRead|cloudabi.ProtWrite, cloudabi.MemAnon|cloudabi.MemPrivate, nil, 0)
	a.Teardown()
	// After teardown the range is unmapped; re-mapping at the same address
	// must succeed exactly as it would against a virgin address space.
	addr2, errno := a.MemMap(ctx, addr, vmem.PageSize, cloudabi.ProtRead, cloudabi.MemAnon|cloudabi.MemPrivate|cloudabi.MemFixed, nil, 0)
	if errno != cloudabi.ESuccess || addr2 != addr {
		t.Fatalf("remap after teardown: addr=%#x errno=%v", addr2, errno)
	}
}
