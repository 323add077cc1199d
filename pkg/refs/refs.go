// Package refs implements the shared/weak ownership discipline spec §9
// calls for around cyclic FD ownership (socket peers, listener<->queued
// connectors, pseudo/reverse siblings): strong references are held by
// owners (FD mappings, in-flight socket messages); weak references are used
// for pure navigation (a socket's peer pointer, a listen-store entry) and
// never keep the referent alive.
//
// Grounded on gVisor's pkg/refs.AtomicRefCount (host.go: "refs.AtomicRefCount"
// embedded in inode, destroyed via "DecRefWithDestructor(i.Destroy)").
package refs

import (
	"sync"
	"sync/atomic"
)

// AtomicRefCount is embedded by reference-counted kernel objects (FDs,
// processes). The zero value holds no reference; Init establishes the first
// one, matching the object having just been constructed and handed to its
// first owner.
type AtomicRefCount struct {
	n int64
}

// Init must be called once, before the object is shared, to establish the
// first reference. Embedding structs call this from their constructor.
func (r *AtomicRefCount) Init() {
	atomic.StoreInt64(&r.n, 1)
}

// IncRef adds a new strong reference.
func (r *AtomicRefCount) IncRef() {
	if atomic.AddInt64(&r.n, 1) <= 1 {
		panic("refs: IncRef on a destroyed object")
	}
}

// TryIncRef attempts to add a strong reference, failing if the object is
// already destroyed (the race a weak reference must handle when promoting).
func (r *AtomicRefCount) TryIncRef() bool {
	for {
		n := atomic.LoadInt64(&r.n)
		if n <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&r.n, n, n+1) {
			return true
		}
	}
}

// DecRefWithDestructor drops a strong reference, invoking destroy exactly
// once when the count reaches zero.
func (r *AtomicRefCount) DecRefWithDestructor(destroy func()) {
	if n := atomic.AddInt64(&r.n, -1); n == 0 {
		if destroy != nil {
			destroy()
		}
	} else if n < 0 {
		panic("refs: DecRef underflow")
	}
}

// ReadRefs returns the current strong-reference count, for tests and
// leak-inspection debug paths.
func (r *AtomicRefCount) ReadRefs() int64 {
	return atomic.LoadInt64(&r.n)
}

// Weak[T] is a non-owning back-reference (spec §9: "a weak back-reference
// from a peer to its mate"). Navigate reads the referent only if it is
// still alive; once the strong owner drops it, Navigate returns the zero
// value and ok=false, which callers turn into Pipe/NotConnected per spec.
type Weak[T any] struct {
	ptr *WeakTarget[T]
}

// WeakTarget is the shared indirection cell: the strong owner clears val
// (and sets live=false) when it drops its own last reference, so every Weak
// pointing at it observes the drop atomically (spec §9: "Drop the peer link
// atomically when the peer's refcount reaches zero").
type WeakTarget[T any] struct {
	mu   sync.RWMutex
	val  T
	live bool
}

// NewWeakTarget creates the shared cell a strong owner publishes to its
// weak observers.
func NewWeakTarget[T any](val T) *WeakTarget[T] {
	return &WeakTarget[T]{val: val, live: true}
}

// NewWeak wraps a target cell as a Weak reference.
func NewWeak[T any](t *WeakTarget[T]) Weak[T] {
	return Weak[T]{ptr: t}
}

// Drop marks the target cell dead. Subsequent Navigate calls on any Weak
// observing it return the zero value and ok=false.
func (t *WeakTarget[T]) Drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero T
	t.val = zero
	t.live = false
}

// Navigate reads the current value, reporting whether the target is still
// alive.
func (w Weak[T]) Navigate() (T, bool) {
	if w.ptr == nil {
		var zero T
		return zero, false
	}
	w.ptr.mu.RLock()
	defer w.ptr.mu.RUnlock()
	return w.ptr.val, w.ptr.live
}
