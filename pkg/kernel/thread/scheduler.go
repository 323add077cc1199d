package thread

import (
	"github.com/sgielen/cosixgo/pkg/sync"
)

// Scheduler is a per-process cooperative round-robin scheduler (spec §4.6:
// "Threads are cooperative: they block only at explicit suspension points
// ... thread_yield picks the next runnable thread round-robin"). It does not
// itself run anything — each thread's actual code runs on its own goroutine
// — it arbitrates a single "turn" token so that at most one of a process's
// threads is ever meant to be making forward progress at a time, matching a
// single-CPU cooperative kernel's scheduling contract. No scheduler package
// exists in the retrieval pack to ground the token-passing mechanism on;
// this is a direct, minimal implementation of the round-robin policy spec
// §4.6 states, channel-based per gVisor's own preference for goroutines and
// channels over manual condition-variable bookkeeping.
type Scheduler struct {
	mu    sync.Mutex
	queue []*Thread
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// AddThread enrolls t in the run queue. A thread newly added behind an
// already-running one does not run until the round robin reaches it — its
// goroutine must call AwaitTurn before executing its entry point (spec
// §4.6: thread_create's new thread doesn't preempt its creator). The first
// thread a process ever runs is driven directly by whatever created it
// (boot, fork, exec), not through a grant from this scheduler, so it needs
// no such wait.
func (s *Scheduler) AddThread(t *Thread) {
	t.sched = s
	s.mu.Lock()
	s.queue = append(s.queue, t)
	s.mu.Unlock()
}

// RemoveThread drops t from the run queue (thread_exit), handing the token
// to the new front of the queue if t held it.
func (s *Scheduler) RemoveThread(t *Thread) {
	s.mu.Lock()
	idx := indexOf(s.queue, t)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	hadToken := idx == 0
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	var next *Thread
	if hadToken && len(s.queue) > 0 {
		next = s.queue[0]
	}
	s.mu.Unlock()
	if next != nil {
		next.grantTurn()
	}
}

// yield rotates t to the back of the queue and blocks until its turn comes
// back around, unless t is the only runnable thread (in which case the
// token never left it).
func (s *Scheduler) yield(t *Thread) {
	s.mu.Lock()
	idx := indexOf(s.queue, t)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	s.queue = append(s.queue, t)
	next := s.queue[0]
	s.mu.Unlock()

	if next == t {
		return
	}
	next.grantTurn()
	<-t.turn
}

func indexOf(queue []*Thread, t *Thread) int {
	for i, q := range queue {
		if q == t {
			return i
		}
	}
	return -1
}
