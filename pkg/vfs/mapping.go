package vfs

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/sync"
)

// FDMapping binds one process-visible descriptor number to an FD object
// plus the rights that number currently carries (spec §4.5: "a process's FD
// table maps small integers to (fd object, rights_base, rights_inheriting)
// triples; rights only ever shrink across a transfer").
type FDMapping struct {
	FD               FD
	RightsBase       cloudabi.Rights
	RightsInheriting cloudabi.Rights
}

// Narrow returns the mapping with rights intersected against the
// requested base/inheriting rights, implementing the monotonic-shrink
// invariant of spec §4.5 ("a dup, an openat, or a pseudo-FD handoff can
// only narrow rights, never widen them").
func (m FDMapping) Narrow(base, inheriting cloudabi.Rights) FDMapping {
	return FDMapping{
		FD:               m.FD,
		RightsBase:       m.RightsBase.Intersect(base),
		RightsInheriting: m.RightsInheriting.Intersect(inheriting),
	}
}

// Table is a process's FD table (spec §4.5). Zero value is not usable; use
// NewTable.
type Table struct {
	mu      sync.Mutex
	entries map[int]FDMapping
	next    int
}

// NewTable returns an empty FD table.
func NewTable() *Table {
	return &Table{entries: make(map[int]FDMapping)}
}

// Get returns the mapping at fd, or ok=false if fd is unused.
func (t *Table) Get(fd int) (FDMapping, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.entries[fd]
	return m, ok
}

// CheckRights returns EBadF if fd is unused, or ENotCapable if its current
// rights don't cover want (spec §4.4: "every FD operation first checks that
// the FD's rights_base covers the right the operation requires").
func (t *Table) CheckRights(fd int, want cloudabi.Rights) (FDMapping, cloudabi.Errno) {
	m, ok := t.Get(fd)
	if !ok {
		return FDMapping{}, cloudabi.EBadF
	}
	if !m.RightsBase.Has(want) {
		return FDMapping{}, cloudabi.ENotCapable
	}
	return m, cloudabi.ESuccess
}

// Install places m at a caller-chosen fd number, evicting (and dropping a
// reference to) whatever was there, per cloudabi's fd_dup2-style semantics.
func (t *Table) Install(fd int, m FDMapping) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.entries[fd]; ok && old.FD != nil {
		old.FD.DecRef()
	}
	m.FD.IncRef()
	t.entries[fd] = m
}

// Allocate installs m at the lowest unused fd number >= 0, mirroring POSIX's
// lowest-available-descriptor rule that cloudabi inherits for fd_create-like
// operations. Unlike Install, Allocate takes ownership of the reference the
// caller already holds on m.FD (the usual case: m.FD was just constructed
// by traverse/OpenAt/accept and has no other owner yet) rather than adding
// a new one — callers that want to install an FD that remains owned
// elsewhere too (dup, renumber) should use Install, which does IncRef.
func (t *Table) Allocate(m FDMapping) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if _, used := t.entries[t.next]; !used {
			fd := t.next
			t.next++
			t.entries[fd] = m
			return fd
		}
		t.next++
	}
}

// Close releases fd, dropping the table's reference to its FD object.
func (t *Table) Close(fd int) cloudabi.Errno {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.entries[fd]
	if !ok {
		return cloudabi.EBadF
	}
	delete(t.entries, fd)
	m.FD.DecRef()
	return cloudabi.ESuccess
}

// Renumber implements fd_renumber: fd `from` becomes accessible at `to`,
// closing whatever `to` previously held.
func (t *Table) Renumber(from, to int) cloudabi.Errno {
	t.mu.Lock()
	m, ok := t.entries[from]
	t.mu.Unlock()
	if !ok {
		return cloudabi.EBadF
	}
	if from == to {
		return cloudabi.ESuccess
	}
	t.Install(to, m)
	return t.Close(from)
}

// ForkCopy returns a new table sharing the same FD objects (with bumped
// refcounts) and rights as t, for use by process fork (spec §4.5).
func (t *Table) ForkCopy() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := NewTable()
	nt.next = t.next
	for fd, m := range t.entries {
		m.FD.IncRef()
		nt.entries[fd] = m
	}
	return nt
}

// Close all releases every entry, for process exit.
func (t *Table) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd, m := range t.entries {
		m.FD.DecRef()
		delete(t.entries, fd)
	}
}
