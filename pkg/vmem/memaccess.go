package vmem

import (
	"github.com/google/btree"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
)

// WriteBytes copies data directly into the mapped pages covering
// [addr, addr+len(data)), for kernel-side setup that has no FD to go
// through (exec laying out the argv/envp blob at a well-known address,
// spec §4.5). The destination must already be entirely mapped and writable.
func (a *AddressSpace) WriteBytes(addr uint64, data []byte) cloudabi.Errno {
	if len(data) == 0 {
		return cloudabi.ESuccess
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.coversFullyLocked(addr, uint64(len(data))) {
		return cloudabi.ENoMem
	}

	end := addr + uint64(len(data))
	var errno cloudabi.Errno = cloudabi.ESuccess
	a.mappings.AscendLessThan(&Mapping{Start: end}, func(item btree.Item) bool {
		m := item.(*Mapping)
		if m.end() <= addr {
			return true
		}
		if m.Prot&cloudabi.ProtWrite == 0 {
			errno = cloudabi.EPerm
			return false
		}
		for i := range m.frames {
			pageAddr := m.Start + uint64(i)*PageSize
			if pageAddr < addr || pageAddr >= end {
				continue
			}
			copy(m.frames[i].data, data[pageAddr-addr:])
		}
		return true
	})
	return errno
}

// ReadBytes copies length bytes starting at addr out of the mapped pages
// covering that range, the read-side counterpart used by the syscall
// dispatcher to resolve a trap-frame pointer argument into kernel-visible
// bytes (gVisor's usermem package plays the same role for a real user
// address space).
func (a *AddressSpace) ReadBytes(addr, length uint64) ([]byte, cloudabi.Errno) {
	if length == 0 {
		return nil, cloudabi.ESuccess
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.coversFullyLocked(addr, length) {
		return nil, cloudabi.ENoMem
	}

	out := make([]byte, length)
	end := addr + length
	a.mappings.AscendLessThan(&Mapping{Start: end}, func(item btree.Item) bool {
		m := item.(*Mapping)
		if m.end() <= addr {
			return true
		}
		for i := range m.frames {
			pageAddr := m.Start + uint64(i)*PageSize
			if pageAddr < addr || pageAddr >= end {
				continue
			}
			copy(out[pageAddr-addr:], m.frames[i].data)
		}
		return true
	})
	return out, cloudabi.ESuccess
}

// Teardown drops every mapping's frame references, for process exit (spec
// §4.5: "tear down mappings"). After Teardown the address space holds no
// mappings; a shared mapping's frames stay alive as long as another
// process (a fork sibling) still references them.
func (a *AddressSpace) Teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	var all []*Mapping
	a.mappings.Ascend(func(item btree.Item) bool {
		all = append(all, item.(*Mapping))
		return true
	})
	for _, m := range all {
		a.mappings.Delete(m)
		for _, f := range m.frames {
			f.dropRef()
		}
		a.releaseLocked(m.Start, m.Pages*PageSize)
	}
}
