package syscall

import (
	"crypto/rand"
	"io"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/clock"
	"github.com/sgielen/cosixgo/pkg/kernel/proc"
	"github.com/sgielen/cosixgo/pkg/kernel/thread"
)

// maxArgs bounds TrapFrame's argument words. CloudABI's widest syscalls
// (sock_recv, poll) take at most a handful of scalar/pointer arguments once
// array parameters are passed as (pointer, count) pairs, so seven words
// (matching original_source/proc/syscall_context.hpp's arguments_t<T1..T7>)
// is generous headroom.
const maxArgs = 7

// TrapFrame is the decoded argument list a syscall entry hands the
// dispatcher. Grounded on syscall_context.hpp's arguments_t<T1..T7>, which
// reads each argument positionally off the user stack at a fixed offset;
// since this kernel has no real x86 stack to read from (its "ring 3" is a
// goroutine, not a CPU privilege level), TrapFrame instead holds the
// already-decoded words, however the unmodeled trap entry produced them.
type TrapFrame struct {
	Args [maxArgs]uint64
}

// U32 reads argument i as a 32-bit value (cloudabi_fd_t, flags words, etc).
func (f TrapFrame) U32(i int) uint32 { return uint32(f.Args[i]) }

// U64 reads argument i as a 64-bit value (sizes, rights masks, addresses).
func (f TrapFrame) U64(i int) uint64 { return f.Args[i] }

// I64 reads argument i as a signed 64-bit value (seek deltas, offsets).
func (f TrapFrame) I64(i int) int64 { return int64(f.Args[i]) }

// Ptr reads argument i as a user-memory address.
func (f TrapFrame) Ptr(i int) uint64 { return f.Args[i] }

// Context is the per-call state a handler operates on: which thread issued
// the call, its decoded arguments, and the result words it writes back
// (original: syscall_context's thread pointer plus set_results(a, b) for
// dual-return calls like proc_fork distinguishing parent from child).
type Context struct {
	SyscallNo cloudabi.SyscallNo
	Thread    *thread.Thread
	Frame     TrapFrame
	Results   [2]uint64
}

// Proc returns the calling thread's owning process.
func (c *Context) Proc() *proc.Process { return c.Thread.Process() }

// SetResults records the handler's return values; most syscalls only ever
// set Results[0].
func (c *Context) SetResults(a, b uint64) {
	c.Results[0] = a
	c.Results[1] = b
}

// Env bundles the process-wide singletons handlers need beyond the calling
// thread itself — the pieces spec §9 describes as "process-wide singletons
// with init -> serve -> teardown lifecycles" that every syscall handler
// shares read access to.
type Env struct {
	Clocks    *clock.Store
	Locks     *thread.LockTable
	Conds     *thread.CondTable
	Procs     *proc.Store
	Scheduler func(*proc.Process) *thread.Scheduler
	NextTID   func() uint64
	Random    io.Reader
}

// NewEnv returns an Env reading randomness from crypto/rand, the source
// random_get is grounded on using (spec §4.2: "backed by a CSPRNG").
func NewEnv(clocks *clock.Store, locks *thread.LockTable, conds *thread.CondTable, procs *proc.Store, scheduler func(*proc.Process) *thread.Scheduler, nextTID func() uint64) *Env {
	return &Env{
		Clocks:    clocks,
		Locks:     locks,
		Conds:     conds,
		Procs:     procs,
		Scheduler: scheduler,
		NextTID:   nextTID,
		Random:    rand.Reader,
	}
}
