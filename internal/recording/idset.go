package recording

import "sort"

// IDSet is a grow-only set of chunk or keyframe ids. It has no removal
// operation; once an id is inserted it stays.
type IDSet struct {
	ids map[uint32]struct{}
}

// NewIDSet returns a set seeded with ids.
func NewIDSet(ids ...uint32) *IDSet {
	s := &IDSet{ids: make(map[uint32]struct{}, len(ids))}
	for _, id := range ids {
		s.Insert(id)
	}
	return s
}

// Contains reports whether id is in the set.
func (s *IDSet) Contains(id uint32) bool {
	_, ok := s.ids[id]
	return ok
}

// Insert adds id to the set.
func (s *IDSet) Insert(id uint32) {
	s.ids[id] = struct{}{}
}

// Len returns the number of ids in the set.
func (s *IDSet) Len() int {
	return len(s.ids)
}

// Sorted returns a copy of the ids in ascending order. The result is never nil.
func (s *IDSet) Sorted() []uint32 {
	out := make([]uint32, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
