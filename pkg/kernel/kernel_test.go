package kernel_test

import (
	"archive/tar"
	"bytes"
	"testing"
	"time"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	gocontext "github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/kernel"
)

// fakeTicks is a clock.TickSource that never fires, enough to satisfy Boot
// without pulling in a real time.Ticker during tests.
type fakeTicks struct{}

func (fakeTicks) Ticks() <-chan time.Duration { return make(chan time.Duration) }

// buildInitrd assembles a minimal ustar image containing a single file, the
// shape Boot's root stage expects to find at the location named in
// BootInfo.Initrd.
func buildInitrd(t *testing.T, name, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}
	if err := w.WriteHeader(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		t.Fatalf("write body: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	return buf.Bytes()
}

func TestBootWiresSingletonsInOrder(t *testing.T) {
	image := buildInitrd(t, "init", "#!/bin/init\n")
	physMem := make([]byte, len(image))
	copy(physMem, image)

	info := kernel.BootInfo{
		MemoryMap: []kernel.MemoryMapEntry{
			{Base: 0, Length: 1 << 20, Type: kernel.MemoryAvailable},
		},
		Initrd: &kernel.Module{Start: 0, End: uint64(len(image))},
	}

	k, err := kernel.Boot(gocontext.Background(), info, physMem, fakeTicks{})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if k.Alloc == nil || k.Clocks == nil || k.Random == nil || k.Root == nil || k.Procs == nil {
		t.Fatalf("Boot left a singleton unset: %+v", k)
	}
	if k.Sockets == nil || k.Ifaces == nil || k.BlockDevs == nil {
		t.Fatalf("Boot did not bring up the socket/interface/block-device stores: %+v", k)
	}
	if k.Dispatcher == nil || k.Env == nil {
		t.Fatalf("Boot did not build the dispatch environment")
	}
}

func TestBootFailsWithoutInitrd(t *testing.T) {
	info := kernel.BootInfo{
		MemoryMap: []kernel.MemoryMapEntry{
			{Base: 0, Length: 1 << 20, Type: kernel.MemoryAvailable},
		},
	}
	if _, err := kernel.Boot(gocontext.Background(), info, nil, fakeTicks{}); err == nil {
		t.Fatal("Boot with no initrd module should fail, got nil error")
	}
}

func TestSpawnInitOpensBinaryAndEnrollsThread(t *testing.T) {
	image := buildInitrd(t, "init", "binary contents")
	physMem := make([]byte, len(image))
	copy(physMem, image)

	info := kernel.BootInfo{
		MemoryMap: []kernel.MemoryMapEntry{
			{Base: 0, Length: 1 << 20, Type: kernel.MemoryAvailable},
		},
		Initrd: &kernel.Module{Start: 0, End: uint64(len(image))},
	}
	k, err := kernel.Boot(gocontext.Background(), info, physMem, fakeTicks{})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	p, th, errno := k.SpawnInit(gocontext.Background(), "init", nil)
	if errno != cloudabi.ESuccess {
		t.Fatalf("SpawnInit: %v", errno)
	}
	if p == nil || th == nil {
		t.Fatal("SpawnInit returned a nil process or thread on success")
	}
	if len(p.Threads()) != 1 {
		t.Fatalf("got %d threads on the spawned process, want 1", len(p.Threads()))
	}
	if _, ok := p.FDs().Get(0); !ok {
		t.Fatal("SpawnInit did not install the binary at fd 0")
	}
	if _, ok := p.FDs().Get(1); !ok {
		t.Fatal("SpawnInit did not install the interface store command socket at fd 1")
	}
	if _, ok := p.FDs().Get(2); !ok {
		t.Fatal("SpawnInit did not install the block-device store command socket at fd 2")
	}
}

func TestSpawnInitFailsOnMissingPath(t *testing.T) {
	image := buildInitrd(t, "init", "binary contents")
	physMem := make([]byte, len(image))
	copy(physMem, image)

	info := kernel.BootInfo{
		MemoryMap: []kernel.MemoryMapEntry{
			{Base: 0, Length: 1 << 20, Type: kernel.MemoryAvailable},
		},
		Initrd: &kernel.Module{Start: 0, End: uint64(len(image))},
	}
	k, err := kernel.Boot(gocontext.Background(), info, physMem, fakeTicks{})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	if _, _, errno := k.SpawnInit(gocontext.Background(), "missing", nil); errno == cloudabi.ESuccess {
		t.Fatal("SpawnInit with a missing path should fail")
	}
}
