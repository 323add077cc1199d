package vmem

import "github.com/google/btree"

// findFreeContaining returns the free range (if any) that fully contains
// [start, start+length), the search a non-fixed mem_map skips (it instead
// uses findFirstFitLocked) but occupyLocked needs to carve a mapping's
// address out of the allocator's bookkeeping either way.
func (a *AddressSpace) findFreeContaining(start, length uint64) *freeRange {
	var found *freeRange
	a.free.DescendLessOrEqual(&freeRange{base: start}, func(item btree.Item) bool {
		fr := item.(*freeRange)
		if fr.base <= start && start+length <= fr.base+fr.length {
			found = fr
		}
		return false
	})
	return found
}

// occupyLocked carves [start, start+length) out of the free-range tree,
// splitting the containing range into up to two remaining pieces. Reports
// false if the range isn't entirely free (e.g. a fixed mem_map hint outside
// the address space, or evictRangeLocked failed to fully vacate it).
func (a *AddressSpace) occupyLocked(start, length uint64) bool {
	fr := a.findFreeContaining(start, length)
	if fr == nil {
		return false
	}
	a.free.Delete(fr)
	if fr.base < start {
		a.free.ReplaceOrInsert(&freeRange{base: fr.base, length: start - fr.base})
	}
	end := start + length
	frEnd := fr.base + fr.length
	if end < frEnd {
		a.free.ReplaceOrInsert(&freeRange{base: end, length: frEnd - end})
	}
	return true
}

// releaseLocked returns [start, start+length) to the free-range tree,
// coalescing with an immediately-adjacent predecessor or successor range.
func (a *AddressSpace) releaseLocked(start, length uint64) {
	lo, hi := start, start+length

	a.free.DescendLessOrEqual(&freeRange{base: start}, func(item btree.Item) bool {
		fr := item.(*freeRange)
		if fr.base+fr.length == lo {
			lo = fr.base
			a.free.Delete(fr)
		}
		return false
	})
	if item := a.free.Get(&freeRange{base: hi}); item != nil {
		fr := item.(*freeRange)
		hi = fr.base + fr.length
		a.free.Delete(fr)
	}
	a.free.ReplaceOrInsert(&freeRange{base: lo, length: hi - lo})
}

// findFirstFitLocked implements spec §4.7's "a free range of len pages is
// selected from the process's free-range allocator" for a non-fixed,
// null-hint mem_map.
func (a *AddressSpace) findFirstFitLocked(pages uint64) (uint64, bool) {
	need := pages * PageSize
	var addr uint64
	found := false
	a.free.Ascend(func(item btree.Item) bool {
		fr := item.(*freeRange)
		if fr.length >= need {
			addr = fr.base
			found = true
			return false
		}
		return true
	})
	return addr, found
}

// splitAtBoundariesLocked trims every mapping overlapping [start,
// start+length) to exactly that range, reinserting any untouched
// before/after remainder under its original extent, and returns the
// trimmed middle fragments (still removed from a.mappings) for the caller
// to either mutate-and-reinsert (mem_protect) or discard (mem_unmap,
// mem_map fixed).
func (a *AddressSpace) splitAtBoundariesLocked(start, length uint64) []*Mapping {
	end := start + length
	var overlapping []*Mapping
	a.mappings.Ascend(func(item btree.Item) bool {
		m := item.(*Mapping)
		if m.Start < end && m.end() > start {
			overlapping = append(overlapping, m)
		}
		return true
	})

	middles := make([]*Mapping, 0, len(overlapping))
	for _, m := range overlapping {
		a.mappings.Delete(m)

		rs := uint64(0)
		if start > m.Start {
			rs = (start - m.Start) / PageSize
		}
		re := m.Pages
		if end < m.end() {
			re = (end - m.Start) / PageSize
		}

		if rs > 0 {
			a.mappings.ReplaceOrInsert(&Mapping{
				Start: m.Start, Pages: rs, Prot: m.Prot, Flags: m.Flags,
				fd: m.fd, fileOffsetPages: m.fileOffsetPages,
				frames: m.frames[:rs], cow: m.cow[:rs],
			})
		}
		if re < m.Pages {
			a.mappings.ReplaceOrInsert(&Mapping{
				Start: m.Start + re*PageSize, Pages: m.Pages - re, Prot: m.Prot, Flags: m.Flags,
				fd: m.fd, fileOffsetPages: m.fileOffsetPages + re,
				frames: m.frames[re:], cow: m.cow[re:],
			})
		}
		middles = append(middles, &Mapping{
			Start: m.Start + rs*PageSize, Pages: re - rs, Prot: m.Prot, Flags: m.Flags,
			fd: m.fd, fileOffsetPages: m.fileOffsetPages + rs,
			frames: m.frames[rs:re], cow: m.cow[rs:re],
		})
	}
	return middles
}

// evictRangeLocked drops every mapping's presence over [start,
// start+length), dropping a reference on each vacated page's frame and
// returning the address range to the free-range tree.
func (a *AddressSpace) evictRangeLocked(start, length uint64) {
	for _, m := range a.splitAtBoundariesLocked(start, length) {
		for _, f := range m.frames {
			f.dropRef()
		}
		a.releaseLocked(m.Start, m.Pages*PageSize)
	}
}

// coversFullyLocked reports whether [start, start+length) is entirely
// covered by existing mappings with no gaps, the precondition mem_protect
// and mem_sync apply (spec §4.7: they "operate on the containing
// mapping(s)", which presumes one exists throughout the range).
func (a *AddressSpace) coversFullyLocked(start, length uint64) bool {
	end := start + length
	cursor := start
	ok := true
	a.mappings.AscendGreaterOrEqual(&Mapping{Start: 0}, func(item btree.Item) bool {
		m := item.(*Mapping)
		if m.end() <= cursor {
			return true
		}
		if cursor >= end {
			return false
		}
		if m.Start > cursor {
			ok = false
			return false
		}
		cursor = m.end()
		return cursor < end
	})
	return ok && cursor >= end
}
