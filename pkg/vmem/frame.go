package vmem

import "sync/atomic"

// PageSize is the unit every mapping, offset and length in this package is
// expressed in multiples of (spec §4.7: "len is rounded up to pages; addr
// must be page-aligned"). The spec never pins a concrete size; 4096 matches
// the x86 paging layout the kernel's bootstrap (out of scope per spec §1)
// otherwise establishes.
const PageSize = 4096

// frame is one physical page's worth of backing storage. Multiple mappings
// (a shared mapping across processes, or a COW private mapping before its
// first post-fork write) may reference the same frame; refs tracks how many
// page-table entries currently point at it, the same "frame owned by the
// faulting process" accounting spec §4.7's COW description assumes.
//
// This kernel cannot address real physical memory (see pkg/memalloc's frame
// allocator note); a frame's "physical" identity is just this struct's
// pointer, and its bytes live on the Go heap like everything else.
type frame struct {
	data []byte
	refs int32
}

func newFrame() *frame {
	return &frame{data: make([]byte, PageSize), refs: 1}
}

func (f *frame) incRef() { atomic.AddInt32(&f.refs, 1) }

// shared reports whether more than one page-table entry currently points at
// this frame (the condition a write fault must resolve by cloning).
func (f *frame) shared() bool { return atomic.LoadInt32(&f.refs) > 1 }

// dropRef releases one reference, returning true if this was the last one.
func (f *frame) dropRef() bool { return atomic.AddInt32(&f.refs, -1) == 0 }

// clone copies this frame's contents into a fresh, singly-referenced frame
// (spec §4.7: "a write fault clones the page into a new frame owned by the
// faulting process").
func (f *frame) clone() *frame {
	nf := newFrame()
	copy(nf.data, f.data)
	return nf
}
