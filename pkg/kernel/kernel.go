package kernel

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/blockdevstore"
	"github.com/sgielen/cosixgo/pkg/clock"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/ifstore"
	"github.com/sgielen/cosixgo/pkg/kernel/proc"
	"github.com/sgielen/cosixgo/pkg/kernel/syscall"
	"github.com/sgielen/cosixgo/pkg/kernel/thread"
	"github.com/sgielen/cosixgo/pkg/log"
	"github.com/sgielen/cosixgo/pkg/memalloc"
	"github.com/sgielen/cosixgo/pkg/sync"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/vfs/initrd"
	"github.com/sgielen/cosixgo/pkg/vfs/unixsock"
	"github.com/sgielen/cosixgo/pkg/vmem"
)

// initAddressSpaceSize is the size handed to the first process's address
// space; later mappings grow within it via MemMap's own free-region search
// (spec §4.7 does not mandate a particular default, so this mirrors the
// layout vmem's own tests exercise).
const initAddressSpaceSize = 256 << 20

// initProcessBase is the virtual base address the boot process's address
// space starts from.
const initProcessBase = 0x1000_0000

// Kernel is the root object: every process-independent singleton subsystem
// spec §3's "Kernel" description names ("the allocator, the clock store, the
// process store, the VFS root, and the per-process schedulers"), plus the
// Dispatcher and Env every syscall trap is served through.
type Kernel struct {
	Alloc  *memalloc.Allocator
	Clocks *clock.Store
	Random io.Reader
	Root   vfs.FD
	Procs  *proc.Store

	Locks *thread.LockTable
	Conds *thread.CondTable

	Sockets   *unixsock.Store
	Ifaces    *ifstore.Store
	BlockDevs *blockdevstore.Store

	Env        *syscall.Env
	Dispatcher *syscall.Dispatcher

	mu         sync.Mutex
	schedulers map[*proc.Process]*thread.Scheduler
	nextTID    uint64
}

// Boot brings up every singleton in dependency order — allocator, clocks,
// RNG, VFS roots, process store, scheduler set — as an errgroup pipeline:
// each stage is a goroutine that first waits on the previous stage's done
// channel (or ctx cancellation, whichever comes first), so a failure at any
// stage propagates to every stage still waiting without each one needing to
// check an error return by hand.
func Boot(ctx context.Context, info BootInfo, physMem []byte, ticks clock.TickSource) (*Kernel, error) {
	g, gctx := errgroup.WithContext(ctx)
	k := &Kernel{schedulers: make(map[*proc.Process]*thread.Scheduler)}

	allocDone := make(chan struct{})
	g.Go(func() error {
		defer close(allocDone)
		k.Alloc = memalloc.New(info.regions())
		log.Infof("kernel: boot allocator ready")
		return nil
	})

	clocksDone := make(chan struct{})
	g.Go(func() error {
		defer close(clocksDone)
		if err := waitStage(gctx, allocDone); err != nil {
			return err
		}
		k.Clocks = clock.NewStore(time.Millisecond, time.Duration(info.RTCOffsetNS))
		go clock.Run(k.Clocks, ticks)
		log.Infof("kernel: clocks running")
		return nil
	})

	rngDone := make(chan struct{})
	g.Go(func() error {
		defer close(rngDone)
		if err := waitStage(gctx, clocksDone); err != nil {
			return err
		}
		k.Random = rand.Reader
		return nil
	})

	rootDone := make(chan struct{})
	g.Go(func() error {
		defer close(rootDone)
		if err := waitStage(gctx, rngDone); err != nil {
			return err
		}
		image, err := info.initrdImage(physMem)
		if err != nil {
			return err
		}
		if image == nil {
			return fmt.Errorf("kernel: no initrd module in boot info, nothing to mount as root")
		}
		fs, err := initrd.Load(image)
		if err != nil {
			return err
		}
		k.Root = fs.Root()
		log.Infof("kernel: initrd mounted as root")
		return nil
	})

	storesDone := make(chan struct{})
	g.Go(func() error {
		defer close(storesDone)
		if err := waitStage(gctx, rootDone); err != nil {
			return err
		}
		k.Sockets = unixsock.NewStore()
		k.BlockDevs = blockdevstore.NewStore()
		ifaces, err := ifstore.NewStore()
		if err != nil {
			return fmt.Errorf("kernel: bringing up interface store: %w", err)
		}
		k.Ifaces = ifaces
		log.Infof("kernel: interface and block-device stores ready")
		return nil
	})

	procsDone := make(chan struct{})
	g.Go(func() error {
		defer close(procsDone)
		if err := waitStage(gctx, storesDone); err != nil {
			return err
		}
		k.Procs = proc.NewStore()
		return nil
	})

	g.Go(func() error {
		if err := waitStage(gctx, procsDone); err != nil {
			return err
		}
		k.Locks = thread.NewWaitTable()
		k.Conds = thread.NewWaitTable()
		k.nextTID = 1
		k.Env = syscall.NewEnv(k.Clocks, k.Locks, k.Conds, k.Procs, k.schedulerFor, k.allocTID)
		k.Dispatcher = syscall.NewDispatcher()
		log.Infof("kernel: scheduler environment ready")
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return k, nil
}

// waitStage blocks until prev closes or ctx is cancelled by some other
// stage's failure, whichever happens first.
func waitStage(ctx context.Context, prev <-chan struct{}) error {
	select {
	case <-prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// schedulerFor returns the scheduler a process's threads run on, creating
// one the first time a process is seen — proc_fork hands Env.Scheduler a
// brand-new child process that was never separately registered here (spec
// §4.6: "a process's threads share a single scheduler, created with its
// first thread").
func (k *Kernel) schedulerFor(p *proc.Process) *thread.Scheduler {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.schedulers[p]
	if !ok {
		s = thread.NewScheduler()
		k.schedulers[p] = s
	}
	return s
}

// allocTID hands out the next thread id, unique across the whole kernel
// (spec §4.6 does not scope thread ids per-process).
func (k *Kernel) allocTID() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextTID++
	return k.nextTID - 1
}

// SpawnInit creates the kernel's first process, opens path from the root
// filesystem as its sole initial fd, and enrolls its main thread with that
// process's scheduler. This is as far as the kernel itself goes: actually
// transferring control to the new thread is the trap-entry layer's job,
// left unmodeled the same way thread_create's handoff is (spec §1's
// "bootstrap trampoline" is out of scope; spec §4.5 only requires that the
// first process exist, own an address space, and hold an open fd to its
// binary).
//
// Alongside the binary, init also inherits a command socket for the
// interface store and one for the block-device store (spec §6: both are
// "addressed through a dedicated command socket FD") — the only way
// userland can reach either store, since neither is mounted anywhere in
// the VFS namespace.
func (k *Kernel) SpawnInit(ctx context.Context, path string, argvEnvp []byte) (*proc.Process, *thread.Thread, cloudabi.Errno) {
	fds := vfs.NewTable()
	mem := vmem.NewAddressSpace(initProcessBase, initAddressSpaceSize)
	p := proc.New(fds, mem)
	p.SetArgvEnvp(argvEnvp)

	bin, errno := vfs.OpenAt(ctx, k.Root, path, cloudabi.LookupSymlinkFollow, 0,
		cloudabi.RightFDRead|cloudabi.RightFDSeek|cloudabi.RightFileOpen, 0, 0)
	if errno != cloudabi.ESuccess {
		return nil, nil, errno
	}
	fds.Allocate(vfs.FDMapping{
		FD:         bin,
		RightsBase: cloudabi.RightFDRead | cloudabi.RightFDSeek,
	})

	const storeRights = cloudabi.RightFDRead | cloudabi.RightFDWrite | cloudabi.RightSockRecv | cloudabi.RightSockSend
	fds.Allocate(vfs.FDMapping{
		FD:         ifstore.NewCommandSocket(k.Ifaces, k.Sockets),
		RightsBase: storeRights,
	})
	fds.Allocate(vfs.FDMapping{
		FD:         blockdevstore.NewCommandSocket(k.BlockDevs),
		RightsBase: storeRights,
	})

	th := thread.New(k.allocTID(), p, cloudabi.ThreadAttr{})
	p.AddThread(th)
	k.schedulerFor(p).AddThread(th)

	k.Procs.Register(proc.NewProcessFD(p))

	log.Infof("kernel: spawned init from %q", path)
	return p, th, cloudabi.ESuccess
}
