package proc_test

import (
	"testing"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/kernel/proc"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/vmem"
)

// fakeFile is a minimal FD standing in for a real file so a Table can hold
// something with working refcounting (pkg/vfs/leaf's tests use the same
// BaseFD-embedding fake pattern).
type fakeFile struct {
	vfs.BaseFD
}

func newFakeFile() *fakeFile {
	f := &fakeFile{}
	f.InitBaseFD(cloudabi.FiletypeRegularFile, "fake")
	return f
}

// fakeThread is the minimal proc.Thread fake: it just records whether
// RequestTerminate was called.
type fakeThread struct {
	id         uint64
	terminated bool
}

func (t *fakeThread) ID() uint64           { return t.id }
func (t *fakeThread) RequestTerminate()    { t.terminated = true }

func newProcess() *proc.Process {
	return proc.New(vfs.NewTable(), vmem.NewAddressSpace(0x1000_0000, 1<<20))
}

func TestNewAssignsDistinctRandomIDs(t *testing.T) {
	a := newProcess()
	b := newProcess()
	if a.ID() == b.ID() {
		t.Fatalf("two processes got the same id %v", a.ID())
	}
}

func TestForkSharesFDObjectsDuplicatesTable(t *testing.T) {
	p := newProcess()
	f := newFakeFile()
	p.FDs().Allocate(vfs.FDMapping{FD: f, RightsBase: cloudabi.RightFDRead})

	child := p.Fork()

	if child.ID() == p.ID() {
		t.Fatalf("fork produced the same id as the parent")
	}
	if child.FDs() == p.FDs() {
		t.Fatalf("fork must duplicate the FD table, not share it")
	}
	cm, ok := child.FDs().Get(0)
	if !ok || cm.FD != f {
		t.Fatalf("fork must share the underlying FD object at the same number")
	}
	if child.Mem() == p.Mem() {
		t.Fatalf("fork must give the child its own address space")
	}
}

func TestForkChildMemoryIsIndependentAddressSpace(t *testing.T) {
	ctx := context.Background()
	p := newProcess()
	addr, errno := p.Mem().MemMap(ctx, 0, vmem.PageSize, cloudabi.ProtRead|cloudabi.ProtWrite, cloudabi.MemAnon|cloudabi.MemPrivate, nil, 0)
	if errno != cloudabi.ESuccess {
		t.Fatalf("mem_map: %v", errno)
	}
	child := p.Fork()

	if errno := p.Mem().HandleWriteFault(addr); errno != cloudabi.ESuccess {
		t.Fatalf("parent write fault: %v", errno)
	}
	if errno := child.Mem().HandleWriteFault(addr); errno != cloudabi.ESuccess {
		t.Fatalf("child write fault: %v", errno)
	}
}

func TestExecTerminatesOtherThreadsKeepsCaller(t *testing.T) {
	p := newProcess()
	caller := &fakeThread{id: 1}
	other := &fakeThread{id: 2}
	p.AddThread(caller)
	p.AddThread(other)

	newMem := vmem.NewAddressSpace(0x2000_0000, 1<<20)
	p.Exec(caller, newMem, nil, []byte("argv\x00"))

	if !other.terminated {
		t.Fatalf("exec must request termination of every thread but the caller")
	}
	if caller.terminated {
		t.Fatalf("exec must not terminate the calling thread")
	}
	threads := p.Threads()
	if len(threads) != 1 || threads[0] != proc.Thread(caller) {
		t.Fatalf("exec must leave only the calling thread registered, got %v", threads)
	}
	if p.Mem() != newMem {
		t.Fatalf("exec must install the new address space")
	}
	if string(p.ArgvEnvp()) != "argv\x00" {
		t.Fatalf("exec must record the new argv/envp blob")
	}
}

func TestExecInstallsProvidedFDsAndClosesOldTable(t *testing.T) {
	p := newProcess()
	caller := &fakeThread{id: 1}
	p.AddThread(caller)
	old := newFakeFile()
	p.FDs().Allocate(vfs.FDMapping{FD: old, RightsBase: cloudabi.RightFDRead})

	next := newFakeFile()
	p.Exec(caller, vmem.NewAddressSpace(0x3000_0000, 1<<20), []vfs.FDMapping{
		{FD: next, RightsBase: cloudabi.RightFDRead},
	}, nil)

	m, ok := p.FDs().Get(0)
	if !ok || m.FD != next {
		t.Fatalf("exec must install the passed FDs at their given numbers")
	}
}

func TestExitFiresTerminationSignalerOnce(t *testing.T) {
	p := newProcess()
	sig := p.TerminationSignaler()
	if sig.Fired() {
		t.Fatalf("signaler must not be fired before exit")
	}
	p.Exit(7)
	if !sig.Fired() {
		t.Fatalf("exit must fire the termination signaler")
	}
	state := p.ExitState()
	if !state.Terminated || state.BySignal || state.Code != 7 {
		t.Fatalf("unexpected exit state %+v", state)
	}

	// A second termination call (raise after exit) must not override the
	// first recorded state; the signaler is one-shot regardless.
	p.Raise(9)
	state2 := p.ExitState()
	if state2 != state {
		t.Fatalf("terminate must be idempotent: got %+v, want %+v", state2, state)
	}
}

func TestRaiseRecordsSignalAndFires(t *testing.T) {
	p := newProcess()
	p.Raise(11)
	state := p.ExitState()
	if !state.Terminated || !state.BySignal || state.Signal != 11 {
		t.Fatalf("unexpected exit state %+v", state)
	}
	if !p.TerminationSignaler().Fired() {
		t.Fatalf("raise must fire the termination signaler")
	}
}

func TestStoreFindReturnsRegisteredProcess(t *testing.T) {
	s := proc.NewStore()
	p := newProcess()
	f := proc.NewProcessFD(p)
	s.Register(f)

	got, ok := s.Find(p.ID())
	if !ok || got != f {
		t.Fatalf("store.Find = %v, %v; want %v, true", got, ok, f)
	}
}

func TestStoreFindFailsAfterProcessFDDropped(t *testing.T) {
	s := proc.NewStore()
	p := newProcess()
	f := proc.NewProcessFD(p)
	s.Register(f)

	f.DecRef()

	if _, ok := s.Find(p.ID()); ok {
		t.Fatalf("store.Find must report not-found once the last reference is dropped")
	}
}

func TestStoreFindUnknownIDFails(t *testing.T) {
	s := proc.NewStore()
	if _, ok := s.Find(proc.ID{}); ok {
		t.Fatalf("store.Find must report not-found for an id that was never registered")
	}
}
