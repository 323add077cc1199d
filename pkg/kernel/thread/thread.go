// Package thread implements the cooperative thread model and userland
// lock/condition-variable contract of spec §4.6: round-robin scheduling
// between a process's threads, thread_create/thread_exit/thread_yield
// bookkeeping, and the futex-like lock_unlock/condvar_signal primitives.
//
// Grounded on original_source/proc/syscall/thread_syscalls.cpp (thread_create
// allocating a stack and pushing entry point/argument, thread_exit releasing
// a lock then yielding) and concur_syscalls.cpp (lock_unlock/condvar_signal,
// both rejecting non-private scope). thread.Thread satisfies the
// proc.Thread interface (ID/RequestTerminate) declared in pkg/kernel/proc to
// avoid a package cycle, the same split pkg/context.ThreadValue uses.
package thread

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/kernel/proc"
	"github.com/sgielen/cosixgo/pkg/sync"
)

// State is a thread's scheduling state.
type State int32

const (
	StateRunnable State = iota
	StateExited
)

// Thread is one cooperatively-scheduled thread within a process (spec
// §4.6). The zero value is not usable; use New.
type Thread struct {
	id    uint64
	proc  *proc.Process
	sched *Scheduler
	attr  cloudabi.ThreadAttr

	turn chan struct{}

	mu     sync.Mutex
	state  State
	doomed bool
}

// New creates a thread with the given id (allocated by the caller — the
// kernel-wide thread-id counter) inside proc, described by attr
// (stack range, entry point, argument — spec §4.6's thread_create
// parameters). The thread is not yet runnable until AddThread enrolls it in
// a Scheduler.
func New(id uint64, p *proc.Process, attr cloudabi.ThreadAttr) *Thread {
	return &Thread{
		id:   id,
		proc: p,
		attr: attr,
		turn: make(chan struct{}, 1),
	}
}

// ID returns the thread's numeric identifier (cloudabi_tid_t).
func (t *Thread) ID() uint64 { return t.id }

// Process returns the owning process.
func (t *Thread) Process() *proc.Process { return t.proc }

// Attr returns the thread's creation attributes.
func (t *Thread) Attr() cloudabi.ThreadAttr { return t.attr }

// RequestTerminate marks the thread doomed (proc.Exec terminating every
// thread but the caller — spec §4.5). Per spec §4.12, "cancellation is not
// user-observable": this only sets a flag a doomed thread is expected to
// check at its own next syscall boundary, it does not forcibly interrupt
// whatever the thread is currently blocked in.
func (t *Thread) RequestTerminate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doomed = true
}

// Doomed reports whether RequestTerminate has been called.
func (t *Thread) Doomed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doomed
}

// State returns the thread's current scheduling state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Thread) grantTurn() {
	select {
	case t.turn <- struct{}{}:
	default:
	}
}

// AwaitTurn blocks until the scheduler hands this thread the round-robin
// token. A thread created via thread_create must call this once, before
// running its entry point, since AddThread enrolls it without granting it
// the token immediately (spec §4.6: the new thread doesn't preempt its
// creator; it only starts once an existing thread yields or exits into it).
func (t *Thread) AwaitTurn() {
	<-t.turn
}

// Yield implements thread_yield: hand the scheduler token to the next
// runnable thread round-robin, and block until it comes back around (spec
// §4.6: "thread_yield picks the next runnable thread round-robin").
func (t *Thread) Yield() {
	t.sched.yield(t)
}

// Exit implements thread_exit(lock, scope) (spec §4.6): marks the thread
// exited, drops it from the scheduler's run queue, releases the named
// userland lock, and — if it was the process's last thread — triggers
// proc_exit(0) ("the last thread exiting a process triggers exit(0)").
// Only CLOUDABI_SCOPE_PRIVATE locks are supported, matching thread_exit's
// own rejection of other scopes.
func (t *Thread) Exit(locks *LockTable, lock uint64, scope cloudabi.Scope) cloudabi.Errno {
	if scope != cloudabi.ScopePrivate {
		return cloudabi.ENoSys
	}
	t.setState(StateExited)
	t.sched.RemoveThread(t)
	t.proc.RemoveThread(t.id)

	if lock != 0 {
		if errno := locks.Unlock(t.proc.Mem(), lock); errno != cloudabi.ESuccess {
			return errno
		}
	}

	if len(t.proc.Threads()) == 0 {
		t.proc.Exit(0)
	}
	return cloudabi.ESuccess
}
