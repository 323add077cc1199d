package proc

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/refs"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/waiter"
)

// ProcessFD is the capability userland actually holds to address a process
// (original: fd/process_fd.hpp, referenced by process_store.cpp as the type
// the store tracks weak references to). Polling its read-readiness
// subscribes to process termination (spec §4.12's "process-terminate"
// poll-subscription kind).
type ProcessFD struct {
	vfs.BaseFD

	proc *Process
	self *refs.WeakTarget[*ProcessFD]
}

// NewProcessFD wraps proc as a process FD and publishes the weak-reference
// cell a process Store observes.
func NewProcessFD(proc *Process) *ProcessFD {
	f := &ProcessFD{proc: proc}
	f.InitBaseFD(cloudabi.FiletypeProcess, "process_fd")
	f.self = refs.NewWeakTarget[*ProcessFD](f)
	return f
}

// Process returns the wrapped process.
func (f *ProcessFD) Process() *Process { return f.proc }

// DecRef drops the weak-reference cell once the last strong owner (the FD
// table entry that created it, or a dup of it) releases, so the process
// store's find_process-equivalent lookups start reporting not-found
// (original: weak_ptr::lock() returning null once the shared_ptr is gone).
func (f *ProcessFD) DecRef() {
	f.AtomicRefCount.DecRefWithDestructor(func() {
		f.self.Drop()
	})
}

func (f *ProcessFD) GetReadSignaler() *waiter.Signaler {
	return f.proc.TerminationSignaler()
}

func (f *ProcessFD) StatFGet(ctx context.Context) (vfs.Stat, cloudabi.Errno) {
	return vfs.Stat{FileType: cloudabi.FiletypeProcess}, cloudabi.ESuccess
}
