package flow

import (
	"sort"
	"sync"

	"github.com/cptaffe/acme-flow/textlayer"
)

// ReaderState is the overlay state for one viewer instance.
//
// ID is set at creation.  Every other field is owned by the controller's
// event loop.
type ReaderState struct {
	ID      int
	DocType string
	Enabled bool

	root     Root
	watcher  *watch    // at most one per instance
	pending  *debounce // at most one outstanding
	segments *textlayer.Segments
	passes   int
}

// Registry holds one ReaderState per viewer instance.  Entries leave only
// through Remove or Clear.
type Registry struct {
	mu     sync.Mutex
	states map[int]*ReaderState
}

func NewRegistry() *Registry {
	return &Registry{states: make(map[int]*ReaderState)}
}

// Ensure returns the state for id, creating an enabled one if absent.
func (r *Registry) Ensure(id int) *ReaderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[id]; ok {
		return st
	}
	st := &ReaderState{ID: id, Enabled: true, segments: textlayer.NewSegments()}
	r.states[id] = st
	return st
}

func (r *Registry) Get(id int) (*ReaderState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	return st, ok
}

func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, id)
}

// Clear drops every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.states)
}

// IDs returns all registered instance IDs in ascending order.
func (r *Registry) IDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.states))
	for id := range r.states {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
