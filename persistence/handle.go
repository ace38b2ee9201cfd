package persistence

import (
	"sort"
	"strconv"
)

// Handle is an opaque identifier assigned to a stored value when it is first
// persisted.
//
// Handles are unique within a data-store and are never reused. The zero value
// is not a valid handle.
type Handle uint64

// IsValid returns true if h has been assigned by a data-store.
func (h Handle) IsValid() bool {
	return h != 0
}

// String returns a human-readable representation of the handle.
func (h Handle) String() string {
	return "#" + strconv.FormatUint(uint64(h), 10)
}

// HandleSetter is an interface for values that record their own handle.
//
// HandleMap implementations call SetHandle() when a value is stored for the
// first time and whenever a value is loaded.
type HandleSetter interface {
	SetHandle(Handle)
}

// HandleSet is an ordered set of handles.
//
// The zero-value is an empty set. It is kept sorted so that two sets with the
// same members always compare (and marshal) identically.
type HandleSet []Handle

// NewHandleSet returns a set containing the given handles.
func NewHandleSet(handles ...Handle) HandleSet {
	var s HandleSet
	for _, h := range handles {
		s.Add(h)
	}
	return s
}

// Add adds h to the set. It returns false if h was already a member.
func (s *HandleSet) Add(h Handle) bool {
	i, ok := s.search(h)
	if ok {
		return false
	}

	*s = append(*s, 0)
	copy((*s)[i+1:], (*s)[i:])
	(*s)[i] = h

	return true
}

// Remove removes h from the set. It returns false if h was not a member.
func (s *HandleSet) Remove(h Handle) bool {
	i, ok := s.search(h)
	if !ok {
		return false
	}

	*s = append((*s)[:i], (*s)[i+1:]...)

	return true
}

// Has returns true if h is a member of the set.
func (s HandleSet) Has(h Handle) bool {
	_, ok := s.search(h)
	return ok
}

// Len returns the number of members in the set.
func (s HandleSet) Len() int {
	return len(s)
}

// Clone returns a copy of the set.
func (s HandleSet) Clone() HandleSet {
	if s == nil {
		return nil
	}

	return append(HandleSet(nil), s...)
}

func (s HandleSet) search(h Handle) (int, bool) {
	i := sort.Search(len(s), func(i int) bool {
		return s[i] >= h
	})

	return i, i < len(s) && s[i] == h
}
