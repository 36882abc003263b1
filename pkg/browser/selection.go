package browser

import (
	"sort"
	"sync"
)

// SelectionSet tracks which entry ids are selected in the current listing.
// It is safe for concurrent use.
type SelectionSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewSelectionSet creates an empty selection.
func NewSelectionSet() *SelectionSet {
	return &SelectionSet{ids: make(map[string]struct{})}
}

// Toggle flips the selection state of id and reports whether it is selected
// afterwards. Toggling twice restores the original state.
func (s *SelectionSet) Toggle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Add marks id as selected.
func (s *SelectionSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// Remove unmarks id.
func (s *SelectionSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// Has reports whether id is selected.
func (s *SelectionSet) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of selected ids.
func (s *SelectionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// IDs returns the selected ids in sorted order.
func (s *SelectionSet) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear empties the selection. Called whenever the displayed listing
// changes so selections never outlive the listing they refer to.
func (s *SelectionSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
}
