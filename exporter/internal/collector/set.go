package collector

import "github.com/hazyhaar/scrollback/exporter/record"

// CollectedSet is an insertion-ordered set of fragments keyed by identity.
// It only grows; a key is stored once, at its first observation.
type CollectedSet struct {
	order []record.Fragment
	index map[string]int
}

// NewCollectedSet returns an empty set.
func NewCollectedSet() *CollectedSet {
	return &CollectedSet{index: make(map[string]int)}
}

// Add inserts f unless its key is already present. It reports whether f
// was new.
func (s *CollectedSet) Add(f record.Fragment) bool {
	if _, ok := s.index[f.Key]; ok {
		return false
	}
	f.Seq = len(s.order)
	s.index[f.Key] = len(s.order)
	s.order = append(s.order, f)
	return true
}

// Has reports whether key was already collected.
func (s *CollectedSet) Has(key string) bool {
	_, ok := s.index[key]
	return ok
}

// Len returns the number of distinct fragments.
func (s *CollectedSet) Len() int { return len(s.order) }

// Fragments returns a copy in first-observation order.
func (s *CollectedSet) Fragments() []record.Fragment {
	return append([]record.Fragment(nil), s.order...)
}
