// Package context carries the calling thread across kernel operations.
//
// Grounded on gVisor's pkg/context, which every FileDescriptionImpl method in
// host.go takes as its first argument (e.g. "func (f *fileDescription)
// Read(ctx context.Context, ...)"). Every FD operation, every blocking
// primitive and every syscall handler in this repo takes a context.Context
// first argument in the same style; the thread issuing the call is reachable
// from it via ThreadValue, not through a hidden global.
package context

import "context"

// Context is the standard library context, re-exported so call sites read
// "context.Context" the same way the teacher's do.
type Context = context.Context

// Background returns a Context with no attached thread, for boot-time and
// test code that runs outside any thread's syscall dispatch.
func Background() Context {
	return context.Background()
}

type threadKey struct{}

// ThreadValue is satisfied by *thread.Thread. Declared here (rather than
// imported from pkg/kernel/thread) to avoid a package cycle: thread.Thread
// implements this interface, and packages that only need the calling
// thread's identity (not its full type) depend on context, not on
// pkg/kernel/thread.
type ThreadValue interface {
	ThreadID() uint64
}

// WithThread attaches the calling thread to ctx.
func WithThread(parent Context, t ThreadValue) Context {
	return context.WithValue(parent, threadKey{}, t)
}

// ThreadFromContext returns the thread attached by WithThread, if any.
func ThreadFromContext(ctx Context) (ThreadValue, bool) {
	t, ok := ctx.Value(threadKey{}).(ThreadValue)
	return t, ok
}
