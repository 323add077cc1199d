// Package kernel wires every singleton subsystem (allocator, clocks, RNG,
// VFS roots, process store, scheduler set) into one Kernel and drives the
// boot sequence spec §9's design notes describe: "allocator → clocks → RNG
// → VFS roots → process store → scheduler".
//
// Grounded on gVisor's runsc boot sequence (create the kernel, then bring up
// subsystems in dependency order before starting the init process) and on
// SPEC_FULL.md §3's domain-stack row for golang.org/x/sync/errgroup: the
// bring-up is a short errgroup-supervised pipeline so a failed stage cancels
// the rest without hand-rolled if-err-return chains at every step.
package kernel

import (
	"fmt"

	"github.com/sgielen/cosixgo/pkg/memalloc"
)

// MemoryRegionType classifies one Multiboot memory-map entry (spec §6,
// "Multiboot boot interface (consumed)").
type MemoryRegionType uint32

const (
	MemoryAvailable MemoryRegionType = iota
	MemoryReserved
	MemoryACPIReclaimable
	MemoryNVS
	MemoryBadRAM
)

// MemoryMapEntry is one firmware-reported region: {base, length, type, size}
// exactly as spec §6 names the Multiboot fields.
type MemoryMapEntry struct {
	Base, Length uint64
	Type         MemoryRegionType
}

// Module is the optional initial-ramdisk module Multiboot hands off as
// {start, end} (spec §6).
type Module struct {
	Start, End uint64
}

// BootInfo is everything the (unmodeled) bootloader trampoline is assumed to
// have already collected before jumping into this kernel: the firmware
// memory map, the initrd module if one was loaded, and an RTC reading to
// seed the wall-clock offset (spec §6's Multiboot subsection, spec §4.2's
// clock store).
type BootInfo struct {
	MemoryMap   []MemoryMapEntry
	Initrd      *Module
	RTCOffsetNS int64
}

// regions converts the firmware memory map into the allocator's free-list
// input. Every available entry that overlaps the initrd module is split
// around it, so the module's bytes never reach the free list (spec §4.1:
// "the caller is responsible for excluding whatever it has already reserved
// before handing the map to the allocator"). BootInfo carries no range for
// the kernel image, so nothing is carved out for it.
func (b BootInfo) regions() []memalloc.Region {
	out := make([]memalloc.Region, 0, len(b.MemoryMap))
	for _, e := range b.MemoryMap {
		avail := e.Type == MemoryAvailable
		if avail && b.Initrd != nil && b.Initrd.Start < e.Base+e.Length && b.Initrd.End > e.Base {
			if b.Initrd.Start > e.Base {
				out = append(out, memalloc.Region{Base: e.Base, Length: b.Initrd.Start - e.Base, Available: true})
			}
			if end := e.Base + e.Length; b.Initrd.End < end {
				out = append(out, memalloc.Region{Base: b.Initrd.End, Length: end - b.Initrd.End, Available: true})
			}
			continue
		}
		out = append(out, memalloc.Region{
			Base:      e.Base,
			Length:    e.Length,
			Available: avail,
		})
	}
	if b.Initrd != nil {
		out = append(out, memalloc.Region{
			Base:      b.Initrd.Start,
			Length:    b.Initrd.End - b.Initrd.Start,
			Available: false,
		})
	}
	return out
}

// initrdImage extracts the ramdisk blob from Module, given the physical
// memory it was loaded into. cmd/cosixkernel is expected to have mapped
// physical memory 1:1 into this process's address space (or to run under an
// emulator that does); Image here is that mapping's backing slice.
func (b BootInfo) initrdImage(physMem []byte) ([]byte, error) {
	if b.Initrd == nil {
		return nil, nil
	}
	if b.Initrd.End < b.Initrd.Start || int(b.Initrd.End) > len(physMem) {
		return nil, fmt.Errorf("kernel: initrd module [%d,%d) outside physical memory of length %d", b.Initrd.Start, b.Initrd.End, len(physMem))
	}
	return physMem[b.Initrd.Start:b.Initrd.End], nil
}
