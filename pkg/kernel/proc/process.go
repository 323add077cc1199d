// Package proc implements the process model of spec §4.5: per-process FD
// table and address-space ownership, fork/exec/exit bookkeeping, and the
// process store processes are looked up through by their 16-byte random
// identifier.
//
// Grounded on original_source/proc/process_store.cpp (register_process/
// find_process against a weak-reference list, referencing fd/process_fd.hpp
// for the capability a process is addressed through) and spec §3's "Process"
// description ("Owns a page directory, a map from FD number to FD mapping
// ..., an ordered list of memory mappings, a thread set, an argv/envp blob
// ..., and an exit state").
package proc

import (
	"github.com/google/uuid"

	"github.com/sgielen/cosixgo/pkg/sync"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/vmem"
	"github.com/sgielen/cosixgo/pkg/waiter"
)

// ID is a process's 16-byte random identifier (spec §4.5: "Process IDs are
// 16 random bytes; the process store permits lookup but never reuses an id
// within a boot").
type ID [16]byte

// Thread is the minimal view a Process needs of the threads running inside
// it (spec §4.6's thread set). Declared here, rather than imported from
// pkg/kernel/thread, to avoid a package cycle — the same split
// pkg/context uses for ThreadValue: thread.Thread implements this
// interface, and proc only needs to enumerate and terminate threads, not
// schedule them.
type Thread interface {
	ID() uint64
	RequestTerminate()
}

// ExitState records how a process ended (spec §4.5: exit/raise "mark the
// process terminated, fire its termination signaler").
type ExitState struct {
	Terminated bool
	BySignal   bool
	Code       int32
	Signal     int32
}

// Process is the per-process bookkeeping object spec §3 describes: FD
// table, address space, thread set, argv/envp blob and exit state. It is
// not itself an FD; ProcessFD wraps one as the capability userland holds
// and waits on (original: fd/process_fd.hpp).
type Process struct {
	id ID

	mu         sync.Mutex
	fds        *vfs.Table
	mem        *vmem.AddressSpace
	threads    map[uint64]Thread
	argvEnvp   []byte
	exit       ExitState
	exitSignal *waiter.Signaler
}

// New creates a process with a fresh random id, owning fds and mem (which
// the caller must have already populated — e.g. boot's first process, or
// the result of an exec's ELF load).
func New(fds *vfs.Table, mem *vmem.AddressSpace) *Process {
	id, err := uuid.NewRandom()
	if err != nil {
		// crypto/rand failure is not a condition this kernel can recover
		// from meaningfully; every process identity depends on it.
		panic("proc: failed to generate random process id: " + err.Error())
	}
	return &Process{
		id:         ID(id),
		fds:        fds,
		mem:        mem,
		threads:    make(map[uint64]Thread),
		exitSignal: waiter.NewSignaler(),
	}
}

func (p *Process) ID() ID                      { return p.id }
func (p *Process) FDs() *vfs.Table             { return p.fds }
func (p *Process) Mem() *vmem.AddressSpace     { return p.mem }
func (p *Process) TerminationSignaler() *waiter.Signaler { return p.exitSignal }

// AddThread registers a newly created thread (fork's new main thread,
// thread_create).
func (p *Process) AddThread(t Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threads[t.ID()] = t
}

// RemoveThread drops a thread that has run to completion (thread_exit).
func (p *Process) RemoveThread(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.threads, id)
}

// Threads returns a snapshot of the process's current thread set.
func (p *Process) Threads() []Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Thread, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	return out
}

// SetArgvEnvp records the argv/envp blob exec laid out in the process's
// address space (spec §3); the well-known virtual address itself is an
// exec-syscall concern (pkg/kernel/syscall), not tracked here.
func (p *Process) SetArgvEnvp(blob []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.argvEnvp = blob
}

// ArgvEnvp returns the blob set by SetArgvEnvp.
func (p *Process) ArgvEnvp() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.argvEnvp
}

// Fork implements the bookkeeping half of fork() (spec §4.5): a fresh id, a
// COW copy of the address space, and a deep copy of the FD table (shared FD
// objects, duplicated mappings/rights). The caller is responsible for
// creating the new main thread at the parent's trap frame and calling
// AddThread on the result — proc has no notion of trap frames.
func (p *Process) Fork() *Process {
	p.mu.Lock()
	childMem := p.mem
	childFDs := p.fds
	p.mu.Unlock()

	return New(childFDs.ForkCopy(), childMem.Fork())
}

// Exec implements the bookkeeping half of exec() (spec §4.5): the calling
// thread survives, every other thread is terminated, the address space and
// FD table are replaced wholesale, and the passed FDs are installed at
// positions 0..len(fds)-1 carrying the exact rights the caller recorded.
// ELF parsing and building newMem/fds/argvEnvp themselves are an
// exec-syscall concern; Exec performs the atomic state transition once
// those pieces are ready.
func (p *Process) Exec(calling Thread, newMem *vmem.AddressSpace, fds []vfs.FDMapping, argvEnvp []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, t := range p.threads {
		if t != calling {
			t.RequestTerminate()
			delete(p.threads, id)
		}
	}
	p.threads[calling.ID()] = calling

	oldMem := p.mem
	p.mem = newMem
	oldMem.Teardown()

	newTable := vfs.NewTable()
	for i, m := range fds {
		newTable.Install(i, m)
	}
	p.fds.CloseAll()
	p.fds = newTable

	p.argvEnvp = argvEnvp
}

// Exit implements exit(code) (spec §4.5): marks the process terminated,
// fires the termination signaler, and tears down its mappings. Calling
// Exit twice is a no-op beyond the first (the signaler is one-shot).
func (p *Process) Exit(code int32) {
	p.terminate(ExitState{Terminated: true, Code: code})
}

// Raise implements raise(signal): the same termination bookkeeping as
// Exit, distinguished by BySignal for a waiter inspecting the exit state.
func (p *Process) Raise(signal int32) {
	p.terminate(ExitState{Terminated: true, BySignal: true, Signal: signal})
}

func (p *Process) terminate(state ExitState) {
	p.mu.Lock()
	if p.exit.Terminated {
		p.mu.Unlock()
		return
	}
	p.exit = state
	mem := p.mem
	p.mu.Unlock()

	mem.Teardown()
	p.exitSignal.Broadcast()
}

// ExitState returns the process's current termination state.
func (p *Process) ExitState() ExitState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}
