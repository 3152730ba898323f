// Package table implements the MVCC row store: a primary-key ordered
// map of version chains plus one ordered map per secondary index, all
// built on pkg/ordmap's persistent weight-balanced tree so that
// snapshots held by older transactions are never mutated out from
// under them.
//
// This generalizes the teacher's pkg/storage.Table (a flat struct wrapping
// one *btree.BPlusTree per index plus a Heap map[int]string for row
// bodies) into a version-chain model: rows here are queues of
// versions rather than single heap slots, and indices map to ordered sets
// of primary keys rather than single row pointers, mirroring the
// teacher's own distinction between unique (primary) and non-unique
// (secondary) trees (see btree.NewUniqueTree vs btree.NewTree) while
// adding the visibility and conflict rules MVCC requires.
package table

import (
	"math"

	"github.com/relcore/db/pkg/errors"
	"github.com/relcore/db/pkg/key"
	"github.com/relcore/db/pkg/ordmap"
	"github.com/relcore/db/pkg/rowcodec"
	"github.com/relcore/db/pkg/schema"
)

// NoTxn marks the absence of a write lock or a reader bound.
const NoTxn int64 = -1

// PosInf marks a version with no known end transaction yet.
const PosInf int64 = math.MaxInt64

// Version is one entry in a primary key's version chain.
type Version struct {
	Writer     int64 // NoTxn if unlocked
	Begin      int64
	End        int64 // PosInf if still open
	LastReader int64 // NoTxn if never read
	Obj        rowcodec.Value
	Tombstone  bool
}

func (v Version) visibleTo(tid int64) bool {
	return v.Begin <= tid && tid < v.End && (v.Writer == NoTxn || v.Writer == tid)
}

func (v Version) writeLockedByOther(tid int64) bool {
	return v.Writer != NoTxn && v.Writer != tid
}

// Entry is a (primary key, row) pair returned by iteration and matching.
type Entry struct {
	PKey key.Key
	Obj  rowcodec.Value
}

// Table is the live MVCC store for one declared table.
type Table struct {
	Name    string
	Schema  schema.Schema
	rows    ordmap.Map[[]Version]
	indices map[string]ordmap.Map[ordmap.Set]

	nextAutoIncrement int64
}

// New constructs an empty table store for the given schema.
func New(s schema.Schema) *Table {
	indices := make(map[string]ordmap.Map[ordmap.Set], len(s.Secondary))
	for _, ix := range s.Secondary {
		indices[ix.Name] = ordmap.Map[ordmap.Set]{}
	}
	return &Table{Name: s.Table, Schema: s, indices: indices, nextAutoIncrement: 1}
}

// NextAutoIncrement returns the next value for an auto-increment primary
// key and advances the counter. Callers only use this for schemas whose
// primary key declares "++".
func (t *Table) NextAutoIncrement() int64 {
	v := t.nextAutoIncrement
	t.nextAutoIncrement++
	return v
}

// Get returns the visible row at pKey for tid using MVCC's visibility
// rule, bumping lastReader on the version that served the read. It never
// returns an error; absence and tombstones both yield ok=false.
func (t *Table) Get(tid int64, pKey key.Key) (rowcodec.Value, bool) {
	versions, ok := t.rows.Lookup(pKey)
	if !ok {
		return rowcodec.Value{}, false
	}
	for i, v := range versions {
		if !v.visibleTo(tid) {
			continue
		}
		if v.LastReader < tid {
			versions = touchLastReader(versions, i, tid)
			t.rows = t.rows.Insert(pKey, versions, nil)
		}
		if v.Tombstone {
			return rowcodec.Value{}, false
		}
		return v.Obj.Clone(), true
	}
	return rowcodec.Value{}, false
}

// touchLastReader copy-on-writes the version slice so that earlier
// snapshots referencing the same slice (via structural sharing) keep
// seeing the prior lastReader value.
func touchLastReader(versions []Version, idx int, tid int64) []Version {
	cp := make([]Version, len(versions))
	copy(cp, versions)
	cp[idx].LastReader = tid
	return cp
}

// visibleVersion returns the first version chain entry visible to tid,
// along with its index in the chain, without mutating lastReader.
func visibleVersion(versions []Version, tid int64) (Version, int, bool) {
	for i, v := range versions {
		if v.visibleTo(tid) {
			return v, i, true
		}
	}
	return Version{}, -1, false
}

// Entries walks every primary key in ascending order and returns, as one
// slice, the row visible to tid at each; it is not lazy, the whole result
// is built before it returns. Iteration read-observes each row
// but takes no gap lock: concurrent inserts of new keys are not excluded,
// so there is no phantom protection.
func (t *Table) Entries(tid int64) []Entry {
	var out []Entry
	for _, e := range t.rows.Entries() {
		versions := e.Value
		if v, idx, ok := visibleVersion(versions, tid); ok {
			if v.LastReader < tid {
				t.rows = t.rows.Insert(e.Key, touchLastReader(versions, idx, tid), nil)
			}
			if !v.Tombstone {
				out = append(out, Entry{PKey: e.Key, Obj: v.Obj.Clone()})
			}
		}
	}
	return out
}

// Snapshot yields (pKey, obj) for every live row visible to tid, for
// durability serialization. It does not mutate lastReader:
// a background save must not perturb live transactions' conflict state.
func (t *Table) Snapshot(tid int64) []Entry {
	var out []Entry
	for _, e := range t.rows.Entries() {
		if v, _, ok := visibleVersion(e.Value, tid); ok && !v.Tombstone {
			out = append(out, Entry{PKey: e.Key, Obj: v.Obj.Clone()})
		}
	}
	return out
}

// Match routes a lookup through either the primary key map (indexName ==
// "" or the primary index's own name) or a named secondary index,
// yielding (pKey, obj) pairs within m's range in ascending order. Matches
// against a secondary index re-validate visibility and re-extract the
// index key from the live row, since the secondary index may be stale.
func (t *Table) Match(tid int64, indexName string, m Matcher) ([]Entry, error) {
	if indexName == "" || indexName == t.Schema.Primary.Name {
		return t.matchPrimary(tid, m), nil
	}
	ix, ok := t.Schema.IndexByName(indexName)
	if !ok {
		return nil, &errors.IndexNotFoundError{Table: t.Name, Name: indexName}
	}
	return t.matchSecondary(tid, ix, m), nil
}

func (t *Table) matchPrimary(tid int64, m Matcher) []Entry {
	var out []Entry
	for _, e := range t.rows.Entries() {
		if !m.contains(e.Key) {
			continue
		}
		if v, idx, ok := visibleVersion(e.Value, tid); ok {
			if v.LastReader < tid {
				t.rows = t.rows.Insert(e.Key, touchLastReader(e.Value, idx, tid), nil)
			}
			if !v.Tombstone {
				out = append(out, Entry{PKey: e.Key, Obj: v.Obj.Clone()})
			}
		}
	}
	return out
}

func containsKey(keys []key.Key, m Matcher) bool {
	for _, k := range keys {
		if m.contains(k) {
			return true
		}
	}
	return false
}

func (t *Table) matchSecondary(tid int64, ix schema.Index, m Matcher) []Entry {
	idxMap, ok := t.indices[ix.Name]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	var out []Entry
	for _, e := range idxMap.Entries() {
		if !m.contains(e.Key) {
			continue
		}
		for _, pk := range e.Value.Keys() {
			dedupeKey := key.Repr(pk)
			if _, dup := seen[dedupeKey]; dup {
				continue
			}
			seen[dedupeKey] = struct{}{}
			versions, ok := t.rows.Lookup(pk)
			if !ok {
				continue
			}
			v, vidx, ok := visibleVersion(versions, tid)
			if !ok || v.Tombstone {
				continue
			}
			liveKeys, ok := extractIndexKeys(ix, v.Obj)
			if !ok || !containsKey(liveKeys, m) {
				continue
			}
			if v.LastReader < tid {
				t.rows = t.rows.Insert(pk, touchLastReader(versions, vidx, tid), nil)
			}
			out = append(out, Entry{PKey: pk, Obj: v.Obj.Clone()})
		}
	}
	return out
}
