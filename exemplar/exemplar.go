// Package exemplar stores the successful (arguments, response) pairs a proxy
// replays as few-shot context, and persists them as an ordered JSON log.
package exemplar

import (
	"sync"
	"sync/atomic"
)

// Example is one verified invocation. Arguments map parameter names to their
// JSON text. Examples are immutable once recorded.
type Example struct {
	Operation string            `json:"operation,omitempty"`
	Arguments map[string]string `json:"arguments"`

	// Response is the JSON payload extracted from the backend's answer (the
	// outermost object, or array for slice returns), not the surrounding
	// prose.
	Response string `json:"response"`
}

// Store is an append-only example sequence. Readers take snapshots that never
// change after they are returned, so in-flight prompts are unaffected by
// concurrent appends.
type Store struct {
	mu  sync.Mutex // serializes writers
	cur atomic.Pointer[[]Example]
}

// NewStore returns a store seeded with examples.
func NewStore(examples ...Example) *Store {
	s := &Store{}
	s.Replace(examples)
	return s
}

// Snapshot returns the current example sequence. The returned slice must not
// be modified.
func (s *Store) Snapshot() []Example {
	if p := s.cur.Load(); p != nil {
		return *p
	}
	return nil
}

// Len returns the number of stored examples.
func (s *Store) Len() int { return len(s.Snapshot()) }

// Append records ex after every previously stored example.
func (s *Store) Append(ex Example) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.Snapshot()
	next := make([]Example, len(old), len(old)+1)
	copy(next, old)
	next = append(next, clone(ex))
	s.cur.Store(&next)
}

// Replace swaps the whole sequence, used for bulk loads and external trims.
func (s *Store) Replace(examples []Example) {
	next := make([]Example, len(examples))
	for i, ex := range examples {
		next[i] = clone(ex)
	}
	s.mu.Lock()
	s.cur.Store(&next)
	s.mu.Unlock()
}

// ForOperation filters a snapshot to the examples recorded for name. Examples
// without an operation apply to every operation.
func ForOperation(examples []Example, name string) []Example {
	out := make([]Example, 0, len(examples))
	for _, ex := range examples {
		if ex.Operation == "" || ex.Operation == name {
			out = append(out, ex)
		}
	}
	return out
}

func clone(ex Example) Example {
	args := make(map[string]string, len(ex.Arguments))
	for k, v := range ex.Arguments {
		args[k] = v
	}
	ex.Arguments = args
	return ex
}
