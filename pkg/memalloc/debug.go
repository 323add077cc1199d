package memalloc

import (
	"crypto/rand"
	"runtime"
	"sync"
	"time"
)

// guardSize is the prefix/suffix length surrounding every debug allocation
// (spec §4.1: "surrounds every allocation with a random 8-byte
// prefix/suffix").
const guardSize = 8

// allocRecord is a live-allocation header: caller return addresses (four
// frames), size and timestamp (spec §4.1), kept in a doubly-linked list for
// leak inspection.
type allocRecord struct {
	size      uint64
	timestamp time.Time
	frames    [4]uintptr
	prefix    [guardSize]byte
	suffix    [guardSize]byte
}

// DebugAllocator wraps an Allocator with guard bytes and a live-allocation
// ledger, per spec §4.1. It is opt-in: normal kernel code allocates directly
// through Allocator (or, for Go-native objects, through make/new). No
// kernel package wraps its allocator with it; only code that builds one
// through NewDebug gets the guard bytes and the ledger.
type DebugAllocator struct {
	under *Allocator

	mu    sync.Mutex
	live  map[*allocRecord]Blk
}

// NewDebug wraps under with guard-byte and leak tracking.
func NewDebug(under *Allocator) *DebugAllocator {
	return &DebugAllocator{under: under, live: make(map[*allocRecord]Blk)}
}

// Allocate reserves size bytes plus guard prefix/suffix, recording the
// call site per spec §4.1.
func (d *DebugAllocator) Allocate(size uint64) Blk {
	raw := d.under.Allocate(size + 2*guardSize)
	if !raw.Ok() {
		return Blk{}
	}
	rec := &allocRecord{size: size, timestamp: time.Now()}
	rand.Read(rec.prefix[:])
	rand.Read(rec.suffix[:])
	copy(raw.Data[:guardSize], rec.prefix[:])
	copy(raw.Data[guardSize+size:], rec.suffix[:])
	for i := range rec.frames {
		pc, _, _, ok := runtime.Caller(i + 1)
		if !ok {
			break
		}
		rec.frames[i] = pc
	}

	d.mu.Lock()
	d.live[rec] = raw
	d.mu.Unlock()

	return Blk{Data: raw.Data[guardSize : guardSize+size]}
}

// CheckGuards verifies that no live allocation's guard bytes were
// overwritten, returning the offending records.
func (d *DebugAllocator) CheckGuards() []*allocRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	var corrupted []*allocRecord
	for rec, raw := range d.live {
		if string(raw.Data[:guardSize]) != string(rec.prefix[:]) {
			corrupted = append(corrupted, rec)
			continue
		}
		tail := raw.Data[guardSize+rec.size:]
		if string(tail) != string(rec.suffix[:]) {
			corrupted = append(corrupted, rec)
		}
	}
	return corrupted
}

// LiveCount returns the number of allocations not yet freed, for leak
// inspection.
func (d *DebugAllocator) LiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// Deallocate releases a previously allocated Blk obtained from Allocate.
func (d *DebugAllocator) Deallocate(b Blk) {
	if !b.Ok() {
		return
	}
	d.mu.Lock()
	var found *allocRecord
	for rec := range d.live {
		full := d.reconstructFull(rec, b)
		if full {
			found = rec
			break
		}
	}
	if found != nil {
		delete(d.live, found)
	}
	d.mu.Unlock()
}

// reconstructFull reports whether b's data slice is the inner payload of
// rec's tracked allocation (identity via pointer, not content).
func (d *DebugAllocator) reconstructFull(rec *allocRecord, b Blk) bool {
	raw, ok := d.live[rec]
	if !ok || len(b.Data) == 0 || len(raw.Data) < guardSize+len(b.Data) {
		return false
	}
	return &raw.Data[guardSize] == &b.Data[0]
}
