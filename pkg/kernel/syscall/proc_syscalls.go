package syscall

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/kernel/proc"
	"github.com/sgielen/cosixgo/pkg/kernel/thread"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/vmem"
)

// registerProcSyscalls wires proc_fork/proc_exec/proc_exit/proc_raise (spec
// §4.5).
func registerProcSyscalls(d *Dispatcher) {
	d.register(cloudabi.SysProcFork, procFork)
	d.register(cloudabi.SysProcExec, procExec)
	d.register(cloudabi.SysProcExit, procExit)
	d.register(cloudabi.SysProcRaise, procRaise)
}

// procFork takes no arguments. Result[0] = the new process fd number
// installed in the caller's own table, the capability a parent polls to
// learn the child terminated (spec §4.5, §4.12's process-terminate
// subscription). cloudabi's real fork duplicates the calling thread of
// control so the same syscall returns twice (parent sees the child's fd,
// the child sees CLOUDABI_PROCESS_CHILD); since this kernel has no trap
// frame to duplicate, only the parent-side return happens here — the child
// process and its first thread are fully constructed and enrolled in their
// own scheduler, but actually resuming a goroutine "as" the child is, like
// thread_create's AwaitTurn handoff, left to the unmodeled trap-entry layer
// that decides when to run it.
func procFork(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	child := sc.Proc().Fork()
	tid := env.NextTID()
	childThread := thread.New(tid, child, sc.Thread.Attr())
	child.AddThread(childThread)
	env.Scheduler(child).AddThread(childThread)

	fd := proc.NewProcessFD(child)
	env.Procs.Register(fd)
	fdNum := sc.Proc().FDs().Allocate(vfs.FDMapping{
		FD:               fd,
		RightsBase:       cloudabi.RightFDRead | cloudabi.RightPollFDReadwrite,
		RightsInheriting: 0,
	})
	sc.SetResults(uint64(fdNum), 0)
	return cloudabi.ESuccess
}

// execLoadAddr is where procExec maps the executed file's bytes. ELF parsing
// is outside this kernel's scope — no ELF loader exists anywhere in the
// retrieval pack to ground one on (the corpus's only *elf* hit is an
// unrelated APE-executable test file) — so rather than inventing ELF
// section-header parsing wholesale, exec treats the target file as a flat
// binary image mapped read+exec at a fixed address, entry point at offset
// zero. This still exercises every process-table/address-space transition
// Exec performs; only instruction encoding/relocation is out of scope
// (documented in DESIGN.md).
const execLoadAddr = 0x0040_0000

// procExec: arg0 = fd (the binary to execute), arg1 = argv/envp blob
// pointer, arg2 = argv/envp blob length. The process's FD table is reset to
// empty, matching CloudABI's "a program receives no implicit FDs, only the
// ones its invoker explicitly passed through argdata" model (the carried-FD
// list itself is an argdata-layer concern above this syscall).
func procExec(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	binFD, errno := resolveFD(sc, int(sc.Frame.U32(0)), cloudabi.RightFileOpen)
	if errno != cloudabi.ESuccess {
		return errno
	}
	argvEnvp, errno := sc.Proc().Mem().ReadBytes(sc.Frame.Ptr(1), sc.Frame.U64(2))
	if errno != cloudabi.ESuccess {
		return errno
	}

	st, errno := binFD.FD.StatFGet(ctx)
	if errno != cloudabi.ESuccess {
		return errno
	}
	newMem := vmem.NewAddressSpace(execLoadAddr, 64<<20)
	if _, errno := newMem.MemMap(ctx, execLoadAddr, st.Size, cloudabi.ProtRead|cloudabi.ProtExec, cloudabi.MemPrivate|cloudabi.MemFixed, binFD.FD, 0); errno != cloudabi.ESuccess {
		return errno
	}

	sc.Proc().Exec(sc.Thread, newMem, nil, argvEnvp)
	return cloudabi.ESuccess
}

// procExit: arg0 = exit code.
func procExit(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	sc.Proc().Exit(int32(sc.Frame.U32(0)))
	return cloudabi.ESuccess
}

// procRaise: arg0 = signal number.
func procRaise(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	sc.Proc().Raise(int32(sc.Frame.U32(0)))
	return cloudabi.ESuccess
}
