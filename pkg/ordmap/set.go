package ordmap

import "github.com/relcore/db/pkg/key"

// Set is a persistent ordered set of keys, used by the table store for
// each secondary index's key -> {primary keys} fan-out and by
// the transaction manager's ordered set of active transaction ids (§4.5).
// It is a thin wrapper over Map[struct{}] so it shares the exact same
// balancing and structural-sharing guarantees.
type Set struct {
	m Map[struct{}]
}

// Len returns the number of elements.
func (s Set) Len() int { return s.m.Len() }

// Empty reports whether the set has no elements.
func (s Set) Empty() bool { return s.m.Empty() }

// Member reports whether k is in the set.
func (s Set) Member(k key.Key) bool { return s.m.Member(k) }

// Insert returns a new set with k added.
func (s Set) Insert(k key.Key) Set {
	return Set{m: s.m.Insert(k, struct{}{}, func(old, _ struct{}) struct{} { return old })}
}

// Delete returns a new set with k removed.
func (s Set) Delete(k key.Key) Set {
	return Set{m: s.m.Delete(k)}
}

// Keys returns all elements in ascending order.
func (s Set) Keys() []key.Key { return s.m.Keys() }

// Union returns the union of s and other.
func (s Set) Union(other Set) Set {
	return Set{m: s.m.Union(other.m, func(a, _ struct{}) struct{} { return a })}
}

// Difference returns the elements of s absent from other.
func (s Set) Difference(other Set) Set {
	return Set{m: s.m.Difference(other.m)}
}

// Intersection returns the elements present in both sets.
func (s Set) Intersection(other Set) Set {
	return Set{m: s.m.Intersection(other.m, func(a, _ struct{}) struct{} { return a })}
}

// Disjoint reports whether s and other share no elements.
func (s Set) Disjoint(other Set) bool {
	return s.m.Disjoint(other.m)
}

// MinView returns the smallest element and the set with it removed.
func (s Set) MinView() (k key.Key, rest Set, ok bool) {
	k, _, m2, ok := s.m.MinView()
	return k, Set{m: m2}, ok
}

// FromKeys builds a set from an arbitrary slice of keys.
func FromKeys(keys []key.Key) Set {
	entries := make([]Entry[struct{}], len(keys))
	for i, k := range keys {
		entries[i] = Entry[struct{}]{Key: k, Value: struct{}{}}
	}
	return Set{m: FromEntries(entries)}
}
