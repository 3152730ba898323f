// Package txn implements the transaction manager: monotonically
// increasing transaction ids, an ordered set of active
// transactions used to compute the GC horizon, per-table write-set
// tracking, and the commit/abort/retry protocol the database facade
// drives.
//
// Grounded on the teacher's pkg/storage/transaction_manager.go
// (TransactionRegistry: register/unregister active transactions, track
// the minimum active snapshot id for vacuum) — kept the registry's
// "smallest id among active transactions is the GC horizon" idiom, but
// swapped its mutex-guarded map[*Transaction]struct{} for pkg/ordmap.Set
// since this model commits to single-threaded cooperative concurrency
// (no locks needed) and requires the active-transaction set itself to
// be a persistent ordered structure.
package txn

import (
	"github.com/relcore/db/pkg/errors"
	"github.com/relcore/db/pkg/key"
	"github.com/relcore/db/pkg/ordmap"
)

// WriteSet records every (table, primary key) pair a transaction wrote,
// so the table store's GC step knows which rows to
// reconsider once the transaction ends.
type WriteSet map[string][]key.Key

// Txn is one in-flight transaction.
type Txn struct {
	ID     int64
	writes WriteSet
	wrote  bool
}

// rowUpdated records that tid wrote pKey in table, for later GC.
func (t *Txn) rowUpdated(table string, pKey key.Key) {
	t.wrote = true
	if t.writes == nil {
		t.writes = make(WriteSet)
	}
	t.writes[table] = append(t.writes[table], pKey)
}

// RecordWrite is rowUpdated exported for the db facade, which lives in a
// separate package and must tell a Txn about every table.Update/Delete/
// UnsafeAdd it performs on the transaction's behalf.
func (t *Txn) RecordWrite(table string, pKey key.Key) {
	t.rowUpdated(table, pKey)
}

// Wrote reports whether this transaction performed any write.
func (t *Txn) Wrote() bool { return t.wrote }

// Writes returns the write set accumulated so far.
func (t *Txn) Writes() WriteSet { return t.writes }

// Manager assigns transaction ids, tracks which are active, and computes
// the GC horizon: garbage collection only runs when the ending
// transaction has no older still-active transaction.
type Manager struct {
	nextID  int64
	active  ordmap.Set
	byID    map[int64]*Txn
}

// NewManager constructs a manager with the first transaction id being 1
// (0 is reserved as "no transaction" in pkg/table's NoTxn-adjacent
// bookkeeping, though pkg/table itself uses -1 for that sentinel; keeping
// ids starting at 1 avoids any ambiguity with either sentinel).
func NewManager() *Manager {
	return &Manager{nextID: 1, byID: make(map[int64]*Txn)}
}

// Begin allocates a fresh transaction id, registers it as active, and
// returns the new Txn.
func (m *Manager) Begin() *Txn {
	id := m.nextID
	m.nextID++
	t := &Txn{ID: id}
	m.active = m.active.Insert(key.Int(id))
	m.byID[id] = t
	return t
}

// oldestActive returns the smallest active transaction id and whether one
// exists.
func (m *Manager) oldestActive() (int64, bool) {
	k, _, ok := m.active.MinView()
	if !ok {
		return 0, false
	}
	return asInt(k), true
}

// asInt reads back the int64 held by a key.Int active-set element; any
// other key kind yields 0.
func asInt(k key.Key) int64 {
	if i, ok := k.(key.Int); ok {
		return int64(i)
	}
	return 0
}

// End removes tid from the active set and reports the GC horizon to use:
// GC runs only when the ending transaction has no older still-active
// transaction, using the oldest remaining active id
// (or tid itself, if none remain) as the horizon.
func (m *Manager) End(t *Txn) (horizon int64, shouldGC bool) {
	oldestBefore, hadOlder := m.oldestActiveOlderThan(t.ID)
	m.active = m.active.Delete(key.Int(t.ID))
	delete(m.byID, t.ID)

	if hadOlder {
		_ = oldestBefore
		return 0, false
	}
	if newOldest, ok := m.oldestActive(); ok {
		return newOldest, true
	}
	return t.ID, true
}

func (m *Manager) oldestActiveOlderThan(tid int64) (int64, bool) {
	for _, k := range m.active.Keys() {
		i := asInt(k)
		if i < tid {
			return i, true
		}
	}
	return 0, false
}

// IsActive reports whether tid is still a registered active transaction.
func (m *Manager) IsActive(tid int64) bool {
	_, ok := m.byID[tid]
	return ok
}

// FastForward advances the next transaction id past lastUsed, so ids
// assigned after recovery replay never collide with a transaction id
// that was already committed into the restored snapshot or WAL (spec
// §4.7). It is a no-op if the manager's counter is already ahead.
func (m *Manager) FastForward(lastUsed int64) {
	if lastUsed+1 > m.nextID {
		m.nextID = lastUsed + 1
	}
}

// ErrAborted can be returned by a transaction body to signal a deliberate
// abort that should not be retried (distinct from a WriteConflictError,
// which is always retried).
var ErrAborted = errors.Newf("transaction aborted by caller")
