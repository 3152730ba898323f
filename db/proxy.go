package db

import (
	"github.com/relcore/db/pkg/errors"
	"github.com/relcore/db/pkg/key"
	"github.com/relcore/db/pkg/rowcodec"
	"github.com/relcore/db/pkg/schema"
	"github.com/relcore/db/pkg/table"
)

// TableHandle is the per-table proxy: obtained from a Database it
// auto-commits every call as its own transaction; obtained
// from a Txn it participates in that transaction instead.
//
// Grounded on the teacher's pkg/storage.Table methods (Insert/Update/
// Delete/Get/Scan hung directly off the engine-owned table, each taking
// the caller's *Transaction) generalized so the auto-commit case never
// needs its own one-off transaction plumbing at the call site.
type TableHandle struct {
	db   *Database
	name string
	txn  *Txn
}

func (h *TableHandle) tbl() *table.Table     { return h.db.tables[h.name] }
func (h *TableHandle) schema() schema.Schema { return h.db.schemas[h.name] }

// withTxn runs f against this handle's bound transaction, or opens a
// fresh auto-committed one when the handle came straight from a
// Database.
func (h *TableHandle) withTxn(f func(tx *Txn) error) error {
	if h.txn != nil {
		return f(h.txn)
	}
	return h.db.Transaction(f)
}

// RowUpdateFunc computes a row's replacement from its current value.
// Returning keep=false deletes the row. For a table whose primary key
// is intrinsic (stored inside the row) and not auto-incremented,
// returning a newObj whose
// primary-key field differs from the row's current key renames it in
// place: the old key's row is tombstoned and the
// new object is inserted under the new key, both within the same
// transaction. An auto-increment table gets no such rename: the new
// object stays stored under the old key.
type RowUpdateFunc func(old rowcodec.Value) (newObj rowcodec.Value, keep bool)

// Add inserts obj under a generated primary key: an auto-increment
// integer for a "++"-declared primary key, or the key intrinsically
// held in obj's own fields for any other intrinsic primary key. It
// fails with SchemaError if the table's primary key is not intrinsic —
// use AddWithKey for those.
func (h *TableHandle) Add(obj rowcodec.Value) (key.Key, error) {
	var pKey key.Key
	err := h.withTxn(func(tx *Txn) error {
		s := h.schema()
		tbl := h.tbl()
		row := obj

		var k key.Key
		switch {
		case s.Primary.AutoIncrement:
			id := tbl.NextAutoIncrement()
			k = key.Int(id)
			row = row.WithPath([]string(s.Primary.Paths[0]), rowcodec.Int(id))
		case s.Primary.Intrinsic:
			extracted, ok := s.Primary.ExtractKey(row)
			if !ok {
				return &errors.SchemaError{Table: h.name, Detail: "row is missing its intrinsic primary key field"}
			}
			k = extracted
		default:
			return &errors.SchemaError{Table: h.name, Detail: "table has an externally supplied primary key; use AddWithKey"}
		}

		if err := tbl.UnsafeAdd(tx.t.ID, row, k); err != nil {
			return err
		}
		tx.t.RecordWrite(h.name, k)
		pKey = k
		return nil
	})
	return pKey, err
}

// AddWithKey inserts obj under an externally supplied pKey, for tables
// whose primary key is not stored in the row itself.
func (h *TableHandle) AddWithKey(pKey key.Key, obj rowcodec.Value) error {
	return h.withTxn(func(tx *Txn) error {
		if err := h.tbl().UnsafeAdd(tx.t.ID, obj, pKey); err != nil {
			return err
		}
		tx.t.RecordWrite(h.name, pKey)
		return nil
	})
}

// Get returns the row visible under pKey, if any.
func (h *TableHandle) Get(pKey key.Key) (rowcodec.Value, bool, error) {
	var obj rowcodec.Value
	var found bool
	err := h.withTxn(func(tx *Txn) error {
		obj, found = h.tbl().Get(tx.t.ID, pKey)
		return nil
	})
	return obj, found, err
}

// Update replaces the row at pKey via f. found reports whether a live
// row existed to operate on.
func (h *TableHandle) Update(pKey key.Key, f RowUpdateFunc) (found bool, err error) {
	err = h.withTxn(func(tx *Txn) error {
		s := h.schema()
		var renamedTo key.Key

		wrapped := func(old rowcodec.Value) (rowcodec.Value, key.Key, bool) {
			newObj, keep := f(old)
			if !keep {
				return newObj, nil, false
			}
			if s.Primary.Intrinsic && !s.Primary.AutoIncrement {
				if nk, ok := s.Primary.ExtractKey(newObj); ok && !key.Equal(nk, pKey) {
					renamedTo = nk
					return newObj, nk, true
				}
			}
			return newObj, nil, true
		}

		ok, updErr := h.tbl().Update(tx.t.ID, pKey, wrapped)
		if updErr != nil {
			return updErr
		}
		found = ok
		if ok {
			tx.t.RecordWrite(h.name, pKey)
			if renamedTo != nil {
				tx.t.RecordWrite(h.name, renamedTo)
			}
		}
		return nil
	})
	return found, err
}

// Delete tombstones the row at pKey, idempotently.
func (h *TableHandle) Delete(pKey key.Key) error {
	return h.withTxn(func(tx *Txn) error {
		if err := h.tbl().Delete(tx.t.ID, pKey); err != nil {
			return err
		}
		tx.t.RecordWrite(h.name, pKey)
		return nil
	})
}

// Count returns the number of live rows visible to the handle's
// transaction.
func (h *TableHandle) Count() (int, error) {
	var n int
	err := h.withTxn(func(tx *Txn) error {
		n = len(h.tbl().Entries(tx.t.ID))
		return nil
	})
	return n, err
}

// Entries returns every live row visible to the handle's transaction,
// in ascending primary-key order.
func (h *TableHandle) Entries() ([]table.Entry, error) {
	var out []table.Entry
	err := h.withTxn(func(tx *Txn) error {
		out = h.tbl().Entries(tx.t.ID)
		return nil
	})
	return out, err
}

// Where begins a query against the named index ("" or the primary
// index's own name selects the primary key).
func (h *TableHandle) Where(indexName string) *Query {
	return &Query{h: h, index: indexName}
}

// Query narrows Where's chosen index down to a key range.
type Query struct {
	h     *TableHandle
	index string
}

// Equals matches rows whose index key equals k exactly.
func (q *Query) Equals(k key.Key) *Matched { return &Matched{h: q.h, index: q.index, m: table.Equals(k)} }

// All matches every row under the chosen index.
func (q *Query) All() *Matched { return &Matched{h: q.h, index: q.index, m: table.All()} }

// Range matches rows whose index key falls between lo and hi, with the
// given inclusivity on each bound. A nil bound is unbounded on that
// side.
func (q *Query) Range(lo, hi key.Key, loInclusive, hiInclusive bool) *Matched {
	return &Matched{h: q.h, index: q.index, m: table.Range(lo, hi, loInclusive, hiInclusive)}
}

// CompoundPrefix matches rows whose compound index key agrees with
// given on its first len(given) paths.
func (q *Query) CompoundPrefix(totalPaths int, given []key.Key) *Matched {
	return &Matched{h: q.h, index: q.index, m: table.CompoundPrefix(totalPaths, given)}
}

// Matched is a query result set, not yet materialized.
type Matched struct {
	h     *TableHandle
	index string
	m     table.Matcher
}

func (q *Matched) match(tx *Txn) ([]table.Entry, error) {
	return q.h.tbl().Match(tx.t.ID, q.index, q.m)
}

// ToArray materializes the match as a slice of entries.
func (q *Matched) ToArray() ([]table.Entry, error) {
	var out []table.Entry
	err := q.h.withTxn(func(tx *Txn) error {
		entries, err := q.match(tx)
		if err != nil {
			return err
		}
		out = entries
		return nil
	})
	return out, err
}

// Count reports the number of rows the match contains.
func (q *Matched) Count() (int, error) {
	entries, err := q.ToArray()
	return len(entries), err
}

// Delete tombstones every row the match contains, within a single
// transaction.
func (q *Matched) Delete() error {
	return q.h.withTxn(func(tx *Txn) error {
		entries, err := q.match(tx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := q.h.tbl().Delete(tx.t.ID, e.PKey); err != nil {
				return err
			}
			tx.t.RecordWrite(q.h.name, e.PKey)
		}
		return nil
	})
}

// Modify applies f to every row the match contains, within a single
// transaction, with the same intrinsic-primary-key rename detection
// Update performs per row.
func (q *Matched) Modify(f RowUpdateFunc) error {
	return q.h.withTxn(func(tx *Txn) error {
		entries, err := q.match(tx)
		if err != nil {
			return err
		}
		s := q.h.schema()
		for _, e := range entries {
			pKey := e.PKey
			var renamedTo key.Key
			wrapped := func(old rowcodec.Value) (rowcodec.Value, key.Key, bool) {
				newObj, keep := f(old)
				if !keep {
					return newObj, nil, false
				}
				if s.Primary.Intrinsic && !s.Primary.AutoIncrement {
					if nk, ok := s.Primary.ExtractKey(newObj); ok && !key.Equal(nk, pKey) {
						renamedTo = nk
						return newObj, nk, true
					}
				}
				return newObj, nil, true
			}
			if _, err := q.h.tbl().Update(tx.t.ID, pKey, wrapped); err != nil {
				return err
			}
			tx.t.RecordWrite(q.h.name, pKey)
			if renamedTo != nil {
				tx.t.RecordWrite(q.h.name, renamedTo)
			}
		}
		return nil
	})
}
