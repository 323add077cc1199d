// Package vmem implements the per-process virtual-memory manager of spec
// §4.7: mem_map/mem_protect/mem_unmap/mem_sync/mem_advise plus the
// copy-on-write semantics fork() relies on.
//
// No VM source file was retrieved from original_source/ for this module; the
// free-range allocator and mapping list follow spec §4.7's description
// directly, shaped the way gVisor's own mm package organizes a process
// address space as a searchable collection of non-overlapping VMAs ordered
// by virtual address, generalized here to use github.com/google/btree for
// both that collection and the free-range allocator spec §4.7 calls out
// ("a free range of len pages is selected from the process's free-range
// allocator").
package vmem

import (
	"github.com/google/btree"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/sync"
	"github.com/sgielen/cosixgo/pkg/vfs"
)

const btreeDegree = 32

// freeRange is one unallocated [base, base+length) span of virtual address
// space, ordered by base in the AddressSpace's free-range tree.
type freeRange struct {
	base, length uint64
}

func (r *freeRange) Less(than btree.Item) bool { return r.base < than.(*freeRange).base }

// Mapping is one virtual-memory-area (spec §4.7: "(virtual base, page
// count, backing {anonymous | FD-offset pair}, protection, sharing)").
// Mappings are kept non-overlapping; frames/cow are parallel per-page
// slices, one entry per page of the mapping.
type Mapping struct {
	Start uint64
	Pages uint64
	Prot  cloudabi.MemProt
	Flags cloudabi.MemFlags

	fd              vfs.FD
	fileOffsetPages uint64

	frames []*frame
	cow    []bool
}

func (m *Mapping) Less(than btree.Item) bool { return m.Start < than.(*Mapping).Start }

func (m *Mapping) end() uint64 { return m.Start + m.Pages*PageSize }

// AddressSpace is one process's page-directory worth of mappings (spec
// §4.7, §4.5 "owns a page directory"). The zero value is not usable; use
// NewAddressSpace.
type AddressSpace struct {
	mu       sync.Mutex
	free     *btree.BTree
	mappings *btree.BTree
}

// NewAddressSpace creates an address space managing the virtual range
// [base, base+size).
func NewAddressSpace(base, size uint64) *AddressSpace {
	a := &AddressSpace{free: btree.New(btreeDegree), mappings: btree.New(btreeDegree)}
	a.free.ReplaceOrInsert(&freeRange{base: base, length: size})
	return a
}

func pageRound(n uint64) uint64 { return (n + PageSize - 1) / PageSize }

// MemMap implements mem_map (spec §4.7). fd is nil for an anonymous
// mapping.
func (a *AddressSpace) MemMap(ctx context.Context, addrHint, length uint64, prot cloudabi.MemProt, flags cloudabi.MemFlags, fd vfs.FD, offset uint64) (uint64, cloudabi.Errno) {
	if prot&cloudabi.ProtWrite != 0 && prot&cloudabi.ProtExec != 0 {
		return 0, cloudabi.EInval
	}
	private := flags&cloudabi.MemPrivate != 0
	shared := flags&cloudabi.MemShared != 0
	if private == shared {
		return 0, cloudabi.EInval
	}
	anon := flags&cloudabi.MemAnon != 0
	if anon && fd != nil {
		return 0, cloudabi.EInval
	}
	if !anon && fd == nil {
		return 0, cloudabi.EInval
	}
	if !anon && offset%PageSize != 0 {
		return 0, cloudabi.EInval
	}
	if length == 0 {
		return 0, cloudabi.EInval
	}
	pages := pageRound(length)
	span := pages * PageSize

	a.mu.Lock()
	defer a.mu.Unlock()

	fixed := flags&cloudabi.MemFixed != 0
	var start uint64
	if fixed {
		if addrHint%PageSize != 0 {
			return 0, cloudabi.EInval
		}
		start = addrHint
		a.evictRangeLocked(start, span)
		if !a.occupyLocked(start, span) {
			return 0, cloudabi.ENoMem
		}
	} else {
		found, ok := a.findFirstFitLocked(pages)
		if !ok {
			return 0, cloudabi.ENoMem
		}
		start = found
		if !a.occupyLocked(start, span) {
			return 0, cloudabi.ENoMem
		}
	}

	frames := make([]*frame, pages)
	for i := range frames {
		f := newFrame()
		if !anon {
			// Best-effort page-in; a short/failed read past EOF leaves the
			// frame zero-filled, matching ordinary file-backed mmap
			// behavior. This kernel has no page cache (spec §1 Non-goal),
			// so every page is read in eagerly at map time rather than on
			// first fault.
			fd.PRead(ctx, [][]byte{f.data}, int64(offset)+int64(i)*PageSize)
		}
		frames[i] = f
	}

	m := &Mapping{
		Start: start, Pages: pages, Prot: prot, Flags: flags,
		fd: fd, fileOffsetPages: offset / PageSize,
		frames: frames, cow: make([]bool, pages),
	}
	a.mappings.ReplaceOrInsert(m)
	return start, cloudabi.ESuccess
}

// MemProtect implements mem_protect: the whole range must already be
// mapped (spec §4.7: "operate on the containing mapping(s)").
func (a *AddressSpace) MemProtect(addr, length uint64, prot cloudabi.MemProt) cloudabi.Errno {
	if prot&cloudabi.ProtWrite != 0 && prot&cloudabi.ProtExec != 0 {
		return cloudabi.EInval
	}
	if addr%PageSize != 0 || length == 0 {
		return cloudabi.EInval
	}
	span := pageRound(length) * PageSize

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.coversFullyLocked(addr, span) {
		return cloudabi.ENoMem
	}
	middles := a.splitAtBoundariesLocked(addr, span)
	for _, m := range middles {
		m.Prot = prot
		a.mappings.ReplaceOrInsert(m)
	}
	return cloudabi.ESuccess
}

// MemUnmap implements mem_unmap. Unmapping a partially- or un-mapped range
// is not an error, matching ordinary munmap semantics.
func (a *AddressSpace) MemUnmap(addr, length uint64) cloudabi.Errno {
	if addr%PageSize != 0 || length == 0 {
		return cloudabi.EInval
	}
	span := pageRound(length) * PageSize

	a.mu.Lock()
	defer a.mu.Unlock()
	a.evictRangeLocked(addr, span)
	return cloudabi.ESuccess
}

// MemSync implements mem_sync: flushes fd-backed mappings' pages back
// through PWrite. Anonymous mappings have nothing to flush. Invalidate
// forces an eager re-read from the backing FD (this kernel never caches
// pages beyond a mapping's own frames, so there is no separate cache to
// drop).
func (a *AddressSpace) MemSync(ctx context.Context, addr, length uint64, flags cloudabi.MemSyncFlags) cloudabi.Errno {
	if addr%PageSize != 0 || length == 0 {
		return cloudabi.EInval
	}
	span := pageRound(length) * PageSize

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.coversFullyLocked(addr, span) {
		return cloudabi.ENoMem
	}

	var result cloudabi.Errno = cloudabi.ESuccess
	a.mappings.AscendLessThan(&Mapping{Start: addr + span}, func(item btree.Item) bool {
		m := item.(*Mapping)
		if m.fd == nil || m.end() <= addr {
			return true
		}
		for i, f := range m.frames {
			pageAddr := m.Start + uint64(i)*PageSize
			if pageAddr < addr || pageAddr >= addr+span {
				continue
			}
			off := int64((m.fileOffsetPages + uint64(i)) * PageSize)
			if flags&(cloudabi.MemSyncSync|cloudabi.MemSyncAsync) != 0 {
				if _, errno := m.fd.PWrite(ctx, [][]byte{f.data}, off); errno != cloudabi.ESuccess {
					result = errno
				}
			}
			if flags&cloudabi.MemSyncInvalidate != 0 {
				m.fd.PRead(ctx, [][]byte{f.data}, off)
			}
		}
		return true
	})
	return result
}

// MemAdvise is a no-op except for argument validation (spec §4.7).
func (a *AddressSpace) MemAdvise(addr, length uint64) cloudabi.Errno {
	if addr%PageSize != 0 || length == 0 {
		return cloudabi.EInval
	}
	return cloudabi.ESuccess
}
