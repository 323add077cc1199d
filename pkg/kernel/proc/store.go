package proc

import (
	"github.com/sgielen/cosixgo/pkg/refs"
	"github.com/sgielen/cosixgo/pkg/sync"
)

// Store is the process-wide process registry (original:
// process_store::register_process/find_process, a weak_ptr<process_fd>
// list scanned O(n) per lookup with a "TODO: O(n) -> O(log n)" left
// unaddressed). This port resolves that TODO directly: ids are looked up
// in a map instead of scanned, and the "process already exited, should
// take entry out" TODO is handled for free by Weak.Navigate reporting
// ok=false for a dropped target rather than needing explicit pruning.
type Store struct {
	mu      sync.Mutex
	entries map[ID]*refs.WeakTarget[*ProcessFD]
}

// NewStore returns an empty process store.
func NewStore() *Store {
	return &Store{entries: make(map[ID]*refs.WeakTarget[*ProcessFD])}
}

// Register publishes f under its process's id (spec §4.5: "the process
// store permits lookup but never reuses an id within a boot" — entries are
// never removed, only left to report not-found once f is dropped).
func (s *Store) Register(f *ProcessFD) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[f.Process().ID()] = f.self
}

// Find looks up the live ProcessFD for id, if its process hasn't been
// fully dropped.
func (s *Store) Find(id ID) (*ProcessFD, bool) {
	s.mu.Lock()
	target := s.entries[id]
	s.mu.Unlock()
	if target == nil {
		return nil, false
	}
	return refs.NewWeak(target).Navigate()
}
