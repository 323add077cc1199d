// Package sync re-exports the standard synchronization primitives used
// throughout the kernel, mirroring gVisor's own pkg/sync wrapper (host.go
// uses "gvisor.dev/gvisor/pkg/sync" for a plain sync.Mutex). A single import
// point lets the kernel's cooperative-scheduling invariant (§5: "Kernel data
// structures need no mutexes" for thread-owned state) be told apart from the
// few structures genuinely shared across OS threads (interrupt handlers,
// host-facing I/O) at a glance.
package sync

import "sync"

type (
	Mutex   = sync.Mutex
	RWMutex = sync.RWMutex
	Once    = sync.Once
	WaitGroup = sync.WaitGroup
)
