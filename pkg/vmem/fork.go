package vmem

import (
	"github.com/google/btree"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
)

// Fork produces a new address space whose page directory is a copy of this
// one's (spec §4.7, §4.5 fork: "private mappings become copy-on-write;
// shared mappings share frames"). Every private mapping's pages are marked
// COW in *both* the parent's own mapping (mutated in place) and the new
// child's copy; shared mappings simply gain another frame reference with
// no COW flag, since writes to a shared mapping are visible to every
// mapper by definition.
func (a *AddressSpace) Fork() *AddressSpace {
	a.mu.Lock()
	defer a.mu.Unlock()

	child := &AddressSpace{free: btree.New(btreeDegree), mappings: btree.New(btreeDegree)}
	a.free.Ascend(func(item btree.Item) bool {
		fr := item.(*freeRange)
		child.free.ReplaceOrInsert(&freeRange{base: fr.base, length: fr.length})
		return true
	})

	a.mappings.Ascend(func(item btree.Item) bool {
		m := item.(*Mapping)
		shared := m.Flags&cloudabi.MemShared != 0

		childFrames := make([]*frame, len(m.frames))
		childCOW := make([]bool, len(m.cow))
		for i, f := range m.frames {
			f.incRef()
			childFrames[i] = f
			if !shared {
				childCOW[i] = true
				m.cow[i] = true
			}
		}
		child.mappings.ReplaceOrInsert(&Mapping{
			Start: m.Start, Pages: m.Pages, Prot: m.Prot, Flags: m.Flags,
			fd: m.fd, fileOffsetPages: m.fileOffsetPages,
			frames: childFrames, cow: childCOW,
		})
		return true
	})
	return child
}

// HandleWriteFault resolves a write fault at addr (spec §4.7: "a write
// fault clones the page into a new frame owned by the faulting process and
// restores W"). Returns ENoMem if addr isn't covered by any mapping, or
// EPerm if the mapping's declared protection doesn't include write access
// (a real protection fault, not a COW one).
func (a *AddressSpace) HandleWriteFault(addr uint64) cloudabi.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()

	var target *Mapping
	a.mappings.DescendLessOrEqual(&Mapping{Start: addr}, func(item btree.Item) bool {
		m := item.(*Mapping)
		if m.Start <= addr && addr < m.end() {
			target = m
		}
		return false
	})
	if target == nil {
		return cloudabi.ENoMem
	}
	if target.Prot&cloudabi.ProtWrite == 0 {
		return cloudabi.EPerm
	}

	i := (addr - target.Start) / PageSize
	if !target.cow[i] {
		return cloudabi.ESuccess
	}
	if target.frames[i].shared() {
		old := target.frames[i]
		target.frames[i] = old.clone()
		old.dropRef()
	}
	target.cow[i] = false
	return cloudabi.ESuccess
}
