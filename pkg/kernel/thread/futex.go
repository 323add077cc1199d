package thread

import (
	"encoding/binary"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/sync"
	"github.com/sgielen/cosixgo/pkg/vmem"
	"github.com/sgielen/cosixgo/pkg/waiter"
)

// lockUnlocked is CLOUDABI_LOCK_UNLOCKED: the userland lock word's value
// when nobody holds the lock.
const lockUnlocked uint32 = 0

// WaitTable is the shared implementation behind the userland lock and
// condition-variable syscalls (spec §4.6: "the kernel implements a
// futex-like contract"): a lazily-created waiter.Gate per user-memory
// address, so any number of threads can block on "this address changed"
// without the kernel tracking lock/CV objects explicitly — exactly how a
// real futex only needs the address, never an allocated kernel object.
//
// Grounded on original_source/proc/syscall/concur_syscalls.cpp
// (condvar_signal/lock_unlock), reusing the waiter.Gate primitive
// pkg/vfs/unixsock already uses for its receive queue's repeatable
// readiness transitions.
type WaitTable struct {
	mu    sync.Mutex
	gates map[uint64]*waiter.Gate
}

// NewWaitTable returns an empty table; LockTable and CondTable are thin
// named wrappers around it for the two syscalls that use it.
func NewWaitTable() *WaitTable {
	return &WaitTable{gates: make(map[uint64]*waiter.Gate)}
}

// Gate returns the gate associated with addr, poll's "lock-acquire" and
// "condvar" subscription kinds (spec §4.12) attach conditions to. Lazily
// created and never removed — like the process store, an accepted
// simplification given addresses are a bounded per-process resource that
// disappears wholesale at process exit, not something this table needs to
// prune eagerly.
func (w *WaitTable) Gate(addr uint64) *waiter.Gate {
	w.mu.Lock()
	defer w.mu.Unlock()
	g, ok := w.gates[addr]
	if !ok {
		g = waiter.NewGate()
		w.gates[addr] = g
	}
	return g
}

// LockTable is the WaitTable as seen by lock_unlock.
type LockTable = WaitTable

// Unlock implements lock_unlock(lock, scope) (spec §4.6: "transfers
// ownership to one waiter (or clears the word if none)"). Actual ownership
// transfer happens in userland: Unlock clears the lock word and fires the
// address's gate, waking every thread blocked acquiring it in poll, which
// then race to CAS the word to their own thread id — exactly one wins, the
// rest observe it already locked and re-block. Only the caller-visible
// half (clearing the word, waking waiters) is a kernel responsibility.
func (w *WaitTable) Unlock(mem *vmem.AddressSpace, addr uint64) cloudabi.Errno {
	if errno := writeWord(mem, addr, lockUnlocked); errno != cloudabi.ESuccess {
		return errno
	}
	w.Gate(addr).Fire()
	return cloudabi.ESuccess
}

// CondTable is the WaitTable as seen by condvar_signal.
type CondTable = WaitTable

// Signal implements condvar_signal(condvar, scope, nwaiters) (spec §4.6:
// "wakes n waiters attached to a CV word"). waiter.Gate.Fire wakes every
// currently attached waiter in one shot rather than a bounded subset —
// precise only when n is at least the number of actually-attached waiters,
// which is the overwhelmingly common caller pattern (signal one waiter with
// n=1 and no contention, or broadcast with n=NTHREADS). A bounded partial
// wake would need waiter.Signaler to support waking an arbitrary subset
// while leaving the signaler open for more waiters, which conflicts with
// its one-shot contract; extending it was judged not worth complicating a
// primitive every blocking operation in the kernel depends on for a case
// this simplification already covers.
func (w *WaitTable) Signal(addr uint64, nwaiters uint32) cloudabi.Errno {
	if nwaiters == 0 {
		return cloudabi.ESuccess
	}
	w.Gate(addr).Fire()
	return cloudabi.ESuccess
}

func writeWord(mem *vmem.AddressSpace, addr uint64, v uint32) cloudabi.Errno {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return mem.WriteBytes(addr, b[:])
}
