// Package ordmap implements a persistent, structurally-shared ordered
// map: a weight-balanced binary search tree (Adams' algorithm, the same
// balancing scheme behind Haskell's Data.Map) keyed by
// the total order from pkg/key. Every mutating operation returns a new
// root; existing roots, and every subtree reachable from them, are never
// mutated in place. That immutability is what lets the MVCC table store
// in pkg/table hand out an O(1) snapshot of an entire table or index simply
// by keeping a pointer to the root at some transaction id, with no copy
// of the whole tree.
//
// The teacher repo's own tree (pkg/btree) is a concurrent, mutable B+Tree
// built for an on-disk heap of fixed-size pages — a different data
// structure for a different constraint (disk I/O amortization via wide
// fanout). Persistent structural sharing with named balancing constants
// (DELTA, RATIO) rules out reusing
// that B+Tree directly; this package is grounded instead in the classic
// description of the algorithm, written in the teacher's terse,
// lock-aware comment style but over an immutable binary tree rather than
// a mutable wide one.
package ordmap

import (
	"sort"

	"github.com/relcore/db/pkg/key"
)

// Balancing constants for the weight-balanced tree.
const (
	delta = 3
	ratio = 2
)

type node[V any] struct {
	k           key.Key
	v           V
	left, right *node[V]
	sz          int
}

func sizeOf[V any](n *node[V]) int {
	if n == nil {
		return 0
	}
	return n.sz
}

func newNode[V any](k key.Key, v V, l, r *node[V]) *node[V] {
	return &node[V]{k: k, v: v, left: l, right: r, sz: 1 + sizeOf(l) + sizeOf(r)}
}

// balance rebuilds a node from a (possibly newly-inserted/deleted) pair of
// children, applying at most one single or double rotation so that the
// result again satisfies the DELTA/RATIO weight invariant.
func balance[V any](k key.Key, v V, l, r *node[V]) *node[V] {
	ls, rs := sizeOf(l), sizeOf(r)
	if ls+rs <= 1 {
		return newNode(k, v, l, r)
	}
	if rs > delta*ls {
		rl, rr := r.left, r.right
		if sizeOf(rl) < ratio*sizeOf(rr) {
			return singleLeft(k, v, l, r)
		}
		return doubleLeft(k, v, l, r)
	}
	if ls > delta*rs {
		ll, lr := l.left, l.right
		if sizeOf(lr) < ratio*sizeOf(ll) {
			return singleRight(k, v, l, r)
		}
		return doubleRight(k, v, l, r)
	}
	return newNode(k, v, l, r)
}

func singleLeft[V any](k key.Key, v V, l, r *node[V]) *node[V] {
	return newNode(r.k, r.v, newNode(k, v, l, r.left), r.right)
}

func singleRight[V any](k key.Key, v V, l, r *node[V]) *node[V] {
	return newNode(l.k, l.v, l.left, newNode(k, v, l.right, r))
}

func doubleLeft[V any](k key.Key, v V, l, r *node[V]) *node[V] {
	rl := r.left
	return newNode(rl.k, rl.v, newNode(k, v, l, rl.left), newNode(r.k, r.v, rl.right, r.right))
}

func doubleRight[V any](k key.Key, v V, l, r *node[V]) *node[V] {
	lr := l.right
	return newNode(lr.k, lr.v, newNode(l.k, l.v, l.left, lr.left), newNode(k, v, lr.right, r))
}

// Map is a persistent ordered map from key.Key to V. The zero value is an
// empty map ready to use.
type Map[V any] struct {
	root *node[V]
}

// Len returns the number of entries.
func (m Map[V]) Len() int { return sizeOf(m.root) }

// Empty reports whether the map has no entries.
func (m Map[V]) Empty() bool { return m.root == nil }

// Lookup returns the value stored for k, if any.
func (m Map[V]) Lookup(k key.Key) (V, bool) {
	n := m.root
	for n != nil {
		switch c := k.Compare(n.k); {
		case c < 0:
			n = n.left
		case c > 0:
			n = n.right
		default:
			return n.v, true
		}
	}
	var zero V
	return zero, false
}

// Member reports whether k is present.
func (m Map[V]) Member(k key.Key) bool {
	_, ok := m.Lookup(k)
	return ok
}

func insert[V any](n *node[V], k key.Key, v V, combine func(old, new V) V) *node[V] {
	if n == nil {
		return newNode(k, v, nil, nil)
	}
	switch c := k.Compare(n.k); {
	case c < 0:
		return balance(n.k, n.v, insert(n.left, k, v, combine), n.right)
	case c > 0:
		return balance(n.k, n.v, n.left, insert(n.right, k, v, combine))
	default:
		nv := v
		if combine != nil {
			nv = combine(n.v, v)
		}
		// Replacing a value in place never changes subtree sizes.
		return newNode(k, nv, n.left, n.right)
	}
}

// Insert returns a new map with k bound to v. If k is already present and
// combine is non-nil, the stored value becomes combine(old, v); otherwise
// v replaces the old value.
func (m Map[V]) Insert(k key.Key, v V, combine func(old, new V) V) Map[V] {
	return Map[V]{root: insert(m.root, k, v, combine)}
}

// InsertR inserts v for k only if k is absent, keeping the existing value
// otherwise.
func (m Map[V]) InsertR(k key.Key, v V) Map[V] {
	return m.Insert(k, v, func(old, _ V) V { return old })
}

func del[V any](n *node[V], k key.Key) *node[V] {
	if n == nil {
		return nil
	}
	switch c := k.Compare(n.k); {
	case c < 0:
		return balance(n.k, n.v, del(n.left, k), n.right)
	case c > 0:
		return balance(n.k, n.v, n.left, del(n.right, k))
	default:
		return glue(n.left, n.right)
	}
}

func glue[V any](l, r *node[V]) *node[V] {
	if l == nil {
		return r
	}
	if r == nil {
		return l
	}
	if sizeOf(l) > sizeOf(r) {
		k, v, l2 := maxViewSure(l)
		return balance(k, v, l2, r)
	}
	k, v, r2 := minViewSure(r)
	return balance(k, v, l, r2)
}

func minViewSure[V any](n *node[V]) (key.Key, V, *node[V]) {
	if n.left == nil {
		return n.k, n.v, n.right
	}
	k, v, l2 := minViewSure(n.left)
	return k, v, balance(n.k, n.v, l2, n.right)
}

func maxViewSure[V any](n *node[V]) (key.Key, V, *node[V]) {
	if n.right == nil {
		return n.k, n.v, n.left
	}
	k, v, r2 := maxViewSure(n.right)
	return k, v, balance(n.k, n.v, n.left, r2)
}

// Delete returns a new map with k removed, or m unchanged if absent.
func (m Map[V]) Delete(k key.Key) Map[V] {
	return Map[V]{root: del(m.root, k)}
}

// Alter applies f to the current value for k (found is false if absent)
// and installs the result, or removes the entry if keep is false. This is
// the general-purpose read-modify-write primitive other operations are
// expressible in terms of.
func (m Map[V]) Alter(k key.Key, f func(old V, found bool) (newV V, keep bool)) Map[V] {
	old, found := m.Lookup(k)
	newV, keep := f(old, found)
	if !keep {
		if !found {
			return m
		}
		return m.Delete(k)
	}
	return m.Insert(k, newV, func(_, _ V) V { return newV })
}

// MinView returns the smallest entry and the map with it removed.
func (m Map[V]) MinView() (k key.Key, v V, rest Map[V], ok bool) {
	if m.root == nil {
		return key.Min, v, m, false
	}
	k, v, r := minViewSure(m.root)
	return k, v, Map[V]{root: r}, true
}

// MaxView returns the largest entry and the map with it removed.
func (m Map[V]) MaxView() (k key.Key, v V, rest Map[V], ok bool) {
	if m.root == nil {
		return key.Max, v, m, false
	}
	k, v, l := maxViewSure(m.root)
	return k, v, Map[V]{root: l}, true
}

// lookupBound implements the four directional lookups by descending the
// tree once, keeping the best candidate seen so far.
func lookupBound[V any](n *node[V], k key.Key, wantLess, orEqual bool) (key.Key, V, bool) {
	var bestK key.Key
	var bestV V
	found := false
	for n != nil {
		c := k.Compare(n.k)
		switch {
		case c == 0 && orEqual:
			return n.k, n.v, true
		case (c > 0 && wantLess) || (c < 0 && !wantLess):
			bestK, bestV, found = n.k, n.v, true
			if wantLess {
				n = n.right
			} else {
				n = n.left
			}
		default:
			if wantLess {
				n = n.left
			} else {
				n = n.right
			}
		}
	}
	return bestK, bestV, found
}

// LookupLT returns the greatest entry strictly less than k.
func (m Map[V]) LookupLT(k key.Key) (key.Key, V, bool) { return lookupBound(m.root, k, true, false) }

// LookupLE returns the greatest entry less than or equal to k.
func (m Map[V]) LookupLE(k key.Key) (key.Key, V, bool) { return lookupBound(m.root, k, true, true) }

// LookupGT returns the smallest entry strictly greater than k.
func (m Map[V]) LookupGT(k key.Key) (key.Key, V, bool) { return lookupBound(m.root, k, false, false) }

// LookupGE returns the smallest entry greater than or equal to k.
func (m Map[V]) LookupGE(k key.Key) (key.Key, V, bool) { return lookupBound(m.root, k, false, true) }

// Entry is a single key/value pair, used by bulk construction and iteration.
type Entry[V any] struct {
	Key   key.Key
	Value V
}

func foldAsc[V any, A any](n *node[V], acc A, f func(A, key.Key, V) A) A {
	if n == nil {
		return acc
	}
	acc = foldAsc(n.left, acc, f)
	acc = f(acc, n.k, n.v)
	return foldAsc(n.right, acc, f)
}

func foldDesc[V any, A any](n *node[V], acc A, f func(A, key.Key, V) A) A {
	if n == nil {
		return acc
	}
	acc = foldDesc(n.right, acc, f)
	acc = f(acc, n.k, n.v)
	return foldDesc(n.left, acc, f)
}

// Foldl folds ascending (left to right). It is a free function rather
// than a method because Go methods cannot introduce a type parameter (the
// accumulator type A) beyond the receiver's own.
func Foldl[V any, A any](m Map[V], init A, f func(A, key.Key, V) A) A {
	return foldAsc(m.root, init, f)
}

// Foldr folds descending (right to left): entries are visited from the
// largest key down, pairing with Foldl's naming.
func Foldr[V any, A any](m Map[V], init A, f func(A, key.Key, V) A) A {
	return foldDesc(m.root, init, f)
}

// Entries returns all entries in ascending order.
func (m Map[V]) Entries() []Entry[V] {
	out := make([]Entry[V], 0, m.Len())
	foldAsc(m.root, struct{}{}, func(_ struct{}, k key.Key, v V) struct{} {
		out = append(out, Entry[V]{Key: k, Value: v})
		return struct{}{}
	})
	return out
}

// EntriesReversed returns all entries in descending order.
func (m Map[V]) EntriesReversed() []Entry[V] {
	out := make([]Entry[V], 0, m.Len())
	foldDesc(m.root, struct{}{}, func(_ struct{}, k key.Key, v V) struct{} {
		out = append(out, Entry[V]{Key: k, Value: v})
		return struct{}{}
	})
	return out
}

// Keys returns all keys in ascending order.
func (m Map[V]) Keys() []key.Key {
	es := m.Entries()
	out := make([]key.Key, len(es))
	for i, e := range es {
		out[i] = e.Key
	}
	return out
}

// Values returns all values in ascending key order.
func (m Map[V]) Values() []V {
	es := m.Entries()
	out := make([]V, len(es))
	for i, e := range es {
		out[i] = e.Value
	}
	return out
}

// ElementAt returns the 0-indexed i-th entry in ascending order.
func (m Map[V]) ElementAt(i int) (key.Key, V, bool) {
	n := m.root
	for n != nil {
		ls := sizeOf(n.left)
		switch {
		case i < ls:
			n = n.left
		case i == ls:
			return n.k, n.v, true
		default:
			i -= ls + 1
			n = n.right
		}
	}
	var zero V
	return nil, zero, false
}

// IndexOf returns the ascending rank of k, or -1 if absent.
func (m Map[V]) IndexOf(k key.Key) int {
	n := m.root
	idx := 0
	for n != nil {
		switch c := k.Compare(n.k); {
		case c < 0:
			n = n.left
		case c > 0:
			idx += sizeOf(n.left) + 1
			n = n.right
		default:
			return idx + sizeOf(n.left)
		}
	}
	return -1
}

// take returns the subtree holding the first i entries in ascending
// order. It relies on link (defined below) to rejoin a kept node with a
// recursively-trimmed child, which keeps every intermediate result
// balanced without a second rebalancing pass.
func take[V any](n *node[V], i int) *node[V] {
	if n == nil || i <= 0 {
		return nil
	}
	if i >= sizeOf(n) {
		return n
	}
	ls := sizeOf(n.left)
	if i <= ls {
		return take(n.left, i)
	}
	return link(n.k, n.v, n.left, take(n.right, i-ls-1))
}

// drop returns the subtree holding all but the first i entries.
func drop[V any](n *node[V], i int) *node[V] {
	if n == nil || i <= 0 {
		return n
	}
	if i >= sizeOf(n) {
		return nil
	}
	ls := sizeOf(n.left)
	if i <= ls {
		return link(n.k, n.v, drop(n.left, i), n.right)
	}
	return drop(n.right, i-ls-1)
}

// Take returns the map containing only the first n entries in ascending
// order.
func (m Map[V]) Take(n int) Map[V] {
	return Map[V]{root: take(m.root, n)}
}

// Drop returns the map with the first n entries (ascending order) removed.
func (m Map[V]) Drop(n int) Map[V] {
	return Map[V]{root: drop(m.root, n)}
}

// SplitAt splits the map by ascending rank into (first n entries, rest).
func (m Map[V]) SplitAt(n int) (Map[V], Map[V]) {
	return m.Take(n), m.Drop(n)
}

// Split partitions the map into entries less than k and entries greater
// than k, reporting whether k itself was present.
func (m Map[V]) Split(k key.Key) (left Map[V], found bool, right Map[V]) {
	l, f, r := split(m.root, k)
	return Map[V]{root: l}, f, Map[V]{root: r}
}

func split[V any](n *node[V], k key.Key) (*node[V], bool, *node[V]) {
	if n == nil {
		return nil, false, nil
	}
	switch c := k.Compare(n.k); {
	case c < 0:
		l, f, r := split(n.left, k)
		return l, f, balance(n.k, n.v, r, n.right)
	case c > 0:
		l, f, r := split(n.right, k)
		return balance(n.k, n.v, n.left, l), f, r
	default:
		return n.left, true, n.right
	}
}

func link[V any](k key.Key, v V, l, r *node[V]) *node[V] {
	switch {
	case l == nil:
		return insert(r, k, v, func(_, _ V) V { return v })
	case r == nil:
		return insert(l, k, v, func(_, _ V) V { return v })
	}
	ls, rs := sizeOf(l), sizeOf(r)
	switch {
	case delta*ls < rs:
		return balance(r.k, r.v, link(k, v, l, r.left), r.right)
	case delta*rs < ls:
		return balance(l.k, l.v, l.left, link(k, v, l.right, r))
	default:
		return newNode(k, v, l, r)
	}
}

func merge[V any](l, r *node[V]) *node[V] {
	if l == nil {
		return r
	}
	if r == nil {
		return l
	}
	ls, rs := sizeOf(l), sizeOf(r)
	switch {
	case delta*ls < rs:
		return balance(r.k, r.v, merge(l, r.left), r.right)
	case delta*rs < ls:
		return balance(l.k, l.v, l.left, merge(l.right, r))
	default:
		k, v, r2 := minViewSure(r)
		return newNode(k, v, l, r2)
	}
}

// Union returns the left-biased union: entries from m, plus entries from
// other whose key is absent from m. Pass combine to control merges of
// keys present in both.
func (m Map[V]) Union(other Map[V], combine func(a, b V) V) Map[V] {
	return Map[V]{root: union(m.root, other.root, combine)}
}

func union[V any](a, b *node[V], combine func(x, y V) V) *node[V] {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	l, found, r := split(b, a.k)
	nl := union(a.left, l, combine)
	nr := union(a.right, r, combine)
	v := a.v
	if found {
		if combine != nil {
			if bv, ok := lookup(b, a.k); ok {
				v = combine(a.v, bv)
			}
		}
	}
	return link(a.k, v, nl, nr)
}

func lookup[V any](n *node[V], k key.Key) (V, bool) {
	for n != nil {
		switch c := k.Compare(n.k); {
		case c < 0:
			n = n.left
		case c > 0:
			n = n.right
		default:
			return n.v, true
		}
	}
	var zero V
	return zero, false
}

// Difference returns entries of m whose key is absent from other.
func (m Map[V]) Difference(other Map[V]) Map[V] {
	return Map[V]{root: difference(m.root, other.root)}
}

func difference[V any](a, b *node[V]) *node[V] {
	if a == nil {
		return nil
	}
	if b == nil {
		return a
	}
	l, found, r := split(b, a.k)
	nl := difference(a.left, l)
	nr := difference(a.right, r)
	if found {
		return merge(nl, nr)
	}
	return link(a.k, a.v, nl, nr)
}

// Intersection returns entries present in both maps, with combine
// resolving the stored value (nil combine keeps m's value).
func (m Map[V]) Intersection(other Map[V], combine func(a, b V) V) Map[V] {
	return Map[V]{root: intersection(m.root, other.root, combine)}
}

func intersection[V any](a, b *node[V], combine func(x, y V) V) *node[V] {
	if a == nil || b == nil {
		return nil
	}
	l, found, r := split(b, a.k)
	nl := intersection(a.left, l, combine)
	nr := intersection(a.right, r, combine)
	if !found {
		return merge(nl, nr)
	}
	v := a.v
	if combine != nil {
		if bv, ok := lookup(b, a.k); ok {
			v = combine(a.v, bv)
		}
	}
	return link(a.k, v, nl, nr)
}

// Disjoint reports whether m and other share no keys.
func (m Map[V]) Disjoint(other Map[V]) bool {
	return m.Intersection(other, nil).Len() == 0
}

// FromAscList builds a map in O(n) from entries already in strictly
// ascending key order, taking the balanced-build fast path. The caller
// is responsible for the ordering precondition; use FromEntries for
// unordered input.
func FromAscList[V any](entries []Entry[V]) Map[V] {
	n, _ := buildBalanced(entries)
	return Map[V]{root: n}
}

func buildBalanced[V any](entries []Entry[V]) (*node[V], []Entry[V]) {
	if len(entries) == 0 {
		return nil, entries
	}
	mid := len(entries) / 2
	left, _ := buildBalanced(entries[:mid])
	right, _ := buildBalanced(entries[mid+1:])
	return newNode(entries[mid].Key, entries[mid].Value, left, right), nil
}

// FromEntries builds a map from arbitrary (possibly unordered, possibly
// duplicate-keyed) entries. It takes the O(n) ascending path when the
// input already happens to be sorted, and falls back to sort-then-build
// (O(n log n)) otherwise. Later entries win on duplicate keys.
func FromEntries[V any](entries []Entry[V]) Map[V] {
	if isStrictlyAscending(entries) {
		return FromAscList(entries)
	}
	sorted := make([]Entry[V], len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key.Compare(sorted[j].Key) < 0
	})
	deduped := make([]Entry[V], 0, len(sorted))
	for _, e := range sorted {
		if n := len(deduped); n > 0 && deduped[n-1].Key.Compare(e.Key) == 0 {
			deduped[n-1] = e // last write wins, matching Insert's replace semantics
			continue
		}
		deduped = append(deduped, e)
	}
	return FromAscList(deduped)
}

func isStrictlyAscending[V any](entries []Entry[V]) bool {
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Key.Compare(entries[i].Key) >= 0 {
			return false
		}
	}
	return true
}
