package cloudabi

// OFlags controls openat/file_create behavior (spec §4.4, §4.8).
type OFlags uint16

const (
	OCreat OFlags = 1 << iota
	ODirectory
	OExcl
	OTrunc
)

// LookupFlags controls traverse's symlink handling (spec §4.8).
type LookupFlags uint16

const (
	LookupSymlinkFollow LookupFlags = 1 << iota
)

// Whence selects the reference point for seek (spec §4.4).
type Whence uint8

const (
	WhenceSet Whence = iota
	WhenceCur
	WhenceEnd
)

// SDFlags controls sock_shutdown direction (spec §4.9).
type SDFlags uint8

const (
	ShutRD SDFlags = 1 << iota
	ShutWR
)

// RecvFlags/SendFlags are out-flags reported by recv (spec §4.9, §8).
type RecvOutFlags uint8

const (
	RecvDataTruncated RecvOutFlags = 1 << iota
	RecvFDsTruncated
)

// MemProt is a mem_map/mem_protect protection bitmask (spec §4.7).
type MemProt uint8

const (
	ProtRead MemProt = 1 << iota
	ProtWrite
	ProtExec
)

// MemFlags selects anon/fd-backed and private/shared/fixed semantics
// (spec §4.7).
type MemFlags uint8

const (
	MemAnon MemFlags = 1 << iota
	MemPrivate
	MemShared
	MemFixed
)

// MemSyncFlags controls mem_sync behavior (spec §4.7).
type MemSyncFlags uint8

const (
	MemSyncAsync MemSyncFlags = 1 << iota
	MemSyncSync
	MemSyncInvalidate
)

// ClockFlags selects absolute vs relative deadline interpretation for poll
// timer subscriptions (spec §4.12).
type ClockFlags uint8

const (
	ClockAbstime ClockFlags = 1 << iota
)

// ClockID names a clock in the clock store (spec §4.2).
type ClockID uint8

const (
	ClockMonotonic ClockID = iota
	ClockRealtime
)

func (c ClockID) String() string {
	switch c {
	case ClockMonotonic:
		return "monotonic"
	case ClockRealtime:
		return "realtime"
	default:
		return "clock(unknown)"
	}
}

// Scope names whether a userland lock or condition variable is private to
// one process or shared across processes (spec §4.6: "Scope other than
// private is currently rejected").
type Scope uint8

const (
	ScopePrivate Scope = iota
	ScopeShared
)

// ThreadAttr is the userland-supplied description of a new thread's entry
// point and stack (spec §4.6: "thread_create(attr) allocates a stack from
// the parent's address space region the attr names, pushes entry-point and
// argument per the userland ABI"), mirroring cloudabi_threadattr_t.
type ThreadAttr struct {
	Stack      uint64
	StackLen   uint64
	Argument   uint64
	EntryPoint uint64
}
