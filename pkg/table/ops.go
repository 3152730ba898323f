package table

import (
	"github.com/relcore/db/pkg/errors"
	"github.com/relcore/db/pkg/key"
	"github.com/relcore/db/pkg/rowcodec"
	"github.com/relcore/db/pkg/schema"
)

// UpdateFunc computes the replacement for an existing row. Returning
// keep=false tombstones the row. Returning a non-nil newPKey different
// from the row's current key renames an intrinsic primary key: the old
// key is tombstoned and the object is re-inserted under newPKey.
type UpdateFunc func(old rowcodec.Value) (newObj rowcodec.Value, newPKey key.Key, keep bool)

func prependVersion(existing []Version, v Version) []Version {
	chain := make([]Version, 0, len(existing)+1)
	chain = append(chain, v)
	return append(chain, existing...)
}

// checkAddConflict implements the shared conflict rules that apply to
// any write against a row's latest version.
func (t *Table) checkAddConflict(tid int64, pKey key.Key) error {
	versions, ok := t.rows.Lookup(pKey)
	if !ok || len(versions) == 0 {
		return nil
	}
	latest := versions[0]
	if latest.writeLockedByOther(tid) {
		return &errors.WriteConflictError{Table: t.Name, Key: key.Repr(pKey), Cause: "latest version is write-locked by another transaction"}
	}
	if latest.LastReader > tid {
		return &errors.WriteConflictError{Table: t.Name, Key: key.Repr(pKey), Cause: "latest version was already read by a newer transaction"}
	}
	if !latest.Tombstone && latest.Writer != tid {
		return &errors.UniquenessViolationError{Table: t.Name, Key: key.Repr(pKey)}
	}
	return nil
}

// UnsafeAdd inserts a brand-new write-locked version under pKey. It
// requires either no existing row, a tombstone-only latest version, or an
// uncommitted-by-self latest version; any other state fails with
// UniquenessViolationError or WriteConflictError. A secondary
// unique-index violation revokes the version it just pushed.
func (t *Table) UnsafeAdd(tid int64, obj rowcodec.Value, pKey key.Key) error {
	if err := t.checkAddConflict(tid, pKey); err != nil {
		return err
	}
	existing, _ := t.rows.Lookup(pKey)
	newChain := prependVersion(existing, Version{Writer: tid, Begin: tid, End: PosInf, LastReader: NoTxn, Obj: obj.Clone()})
	t.rows = t.rows.Insert(pKey.Clone(), newChain, nil)

	if err := t.indexRow(tid, pKey, obj); err != nil {
		t.Revoke(tid, pKey)
		return err
	}
	return nil
}

// Update replaces the row visible to tid at pKey using f. found reports
// whether a visible live row existed to operate on; when it does not,
// Update is a no-op, reporting found=false.
func (t *Table) Update(tid int64, pKey key.Key, f UpdateFunc) (found bool, err error) {
	versions, ok := t.rows.Lookup(pKey)
	if !ok || len(versions) == 0 {
		return false, nil
	}
	latest := versions[0]
	if latest.writeLockedByOther(tid) {
		return false, &errors.WriteConflictError{Table: t.Name, Key: key.Repr(pKey), Cause: "latest version is write-locked by another transaction"}
	}
	if latest.LastReader > tid {
		return false, &errors.WriteConflictError{Table: t.Name, Key: key.Repr(pKey), Cause: "latest version was already read by a newer transaction"}
	}
	if latest.Tombstone || !latest.visibleTo(tid) {
		return false, nil
	}

	newObj, newPKey, keep := f(latest.Obj.Clone())
	if !keep {
		t.pushTombstone(tid, pKey, versions)
		return true, nil
	}
	if newPKey == nil || key.Equal(newPKey, pKey) {
		if err := t.pushVersion(tid, pKey, versions, newObj); err != nil {
			return false, err
		}
		return true, nil
	}

	t.pushTombstone(tid, pKey, versions)
	if err := t.UnsafeAdd(tid, newObj, newPKey); err != nil {
		t.Revoke(tid, pKey)
		return false, err
	}
	return true, nil
}

// pushVersion appends a new write-locked version over the current chain
// and indexes the row under its new field values, rolling back on a
// secondary unique-index failure. The old version's index entries are
// left in place rather than removed here: they still point at pKey, and
// Match re-extracts and re-checks the index key from whichever version a
// reader actually sees, so a stale entry never yields a false match.
// Dropping them is GC's job, once the old version is no longer visible
// to any live transaction.
func (t *Table) pushVersion(tid int64, pKey key.Key, versions []Version, newObj rowcodec.Value) error {
	newChain := prependVersion(versions, Version{Writer: tid, Begin: tid, End: PosInf, LastReader: NoTxn, Obj: newObj.Clone()})
	t.rows = t.rows.Insert(pKey, newChain, nil)

	if err := t.indexRow(tid, pKey, newObj); err != nil {
		t.rows = t.rows.Insert(pKey, versions, nil)
		return err
	}
	return nil
}

// pushTombstone appends a tombstone version over the current chain,
// unless the chain is already tombstoned, making repeated deletes
// idempotent.
func (t *Table) pushTombstone(tid int64, pKey key.Key, versions []Version) {
	if len(versions) > 0 && versions[0].Tombstone {
		return
	}
	var oldObj rowcodec.Value
	if len(versions) > 0 {
		oldObj = versions[0].Obj
	}
	newChain := prependVersion(versions, Version{Writer: tid, Begin: tid, End: PosInf, LastReader: NoTxn, Tombstone: true})
	t.rows = t.rows.Insert(pKey, newChain, nil)
	if len(versions) > 0 && !versions[0].Tombstone {
		t.unindexRow(oldObj, pKey)
	}
}

// Delete tombstones the row visible to tid at pKey. Deleting an
// already-tombstoned row is a no-op, making retries idempotent.
func (t *Table) Delete(tid int64, pKey key.Key) error {
	versions, ok := t.rows.Lookup(pKey)
	if !ok || len(versions) == 0 {
		return nil
	}
	latest := versions[0]
	if latest.Tombstone {
		return nil
	}
	if latest.writeLockedByOther(tid) {
		return &errors.WriteConflictError{Table: t.Name, Key: key.Repr(pKey), Cause: "latest version is write-locked by another transaction"}
	}
	if latest.LastReader > tid {
		return &errors.WriteConflictError{Table: t.Name, Key: key.Repr(pKey), Cause: "latest version was already read by a newer transaction"}
	}
	t.pushTombstone(tid, pKey, versions)
	return nil
}

// Revoke drops the latest version at pKey if it is an uncommitted write by
// tid, and unindexes it. Used to undo a partially-applied UnsafeAdd/Update
// when secondary indexing fails.
func (t *Table) Revoke(tid int64, pKey key.Key) {
	versions, ok := t.rows.Lookup(pKey)
	if !ok || len(versions) == 0 {
		return
	}
	latest := versions[0]
	if latest.Writer != tid {
		return
	}
	if !latest.Tombstone {
		t.unindexRow(latest.Obj, pKey)
	}
	rest := versions[1:]
	if len(rest) == 0 {
		t.rows = t.rows.Delete(pKey)
	} else {
		t.rows = t.rows.Insert(pKey, append([]Version(nil), rest...), nil)
	}
}

// Settle clears the write lock on the latest version at pKey (called on
// commit) and closes the previous version's validity window at tid.
func (t *Table) Settle(tid int64, pKey key.Key) {
	versions, ok := t.rows.Lookup(pKey)
	if !ok || len(versions) == 0 || versions[0].Writer != tid {
		return
	}
	cp := make([]Version, len(versions))
	copy(cp, versions)
	cp[0].Writer = NoTxn
	if len(cp) > 1 {
		cp[1].End = tid
	}
	t.rows = t.rows.Insert(pKey, cp, nil)
}

// GC partitions each listed row's version chain at horizon, dropping
// collected versions' index entries and the row itself if nothing kept
// remains live or locked.
func (t *Table) GC(horizon int64, pKeys []key.Key) {
	for _, pKey := range pKeys {
		versions, ok := t.rows.Lookup(pKey)
		if !ok {
			continue
		}
		var kept, collected []Version
		for _, v := range versions {
			if v.End > horizon {
				kept = append(kept, v)
			} else {
				collected = append(collected, v)
			}
		}

		hasLiveOrLocked := false
		for _, v := range kept {
			if v.Writer != NoTxn || !v.Tombstone {
				hasLiveOrLocked = true
				break
			}
		}

		for _, v := range collected {
			if !v.Tombstone {
				t.unindexRow(v.Obj, pKey)
			}
		}

		if !hasLiveOrLocked {
			for _, v := range kept {
				if !v.Tombstone {
					t.unindexRow(v.Obj, pKey)
				}
			}
			t.rows = t.rows.Delete(pKey)
		} else if len(kept) != len(versions) {
			t.rows = t.rows.Insert(pKey, kept, nil)
		}
	}
}

// Restore installs a single already-settled version at pKey, replacing
// any prior chain outright, and re-points secondary indices at it. Used
// only during recovery replay: a snapshot row followed by
// its WAL mutations in commit order rebuilds the exact same end state
// that serial execution produced, so there is nothing to conflict-check
// against — recovery runs before any transaction is live. tid is the
// transaction id the row's Begin is stamped with, purely for the
// visibility rule's bookkeeping; it carries no write lock.
func (t *Table) Restore(tid int64, pKey key.Key, obj rowcodec.Value, tombstone bool) {
	if existing, ok := t.rows.Lookup(pKey); ok && len(existing) > 0 && !existing[0].Tombstone {
		t.unindexRow(existing[0].Obj, pKey)
	}
	v := Version{Writer: NoTxn, Begin: tid, End: PosInf, LastReader: NoTxn, Tombstone: tombstone}
	if !tombstone {
		v.Obj = obj.Clone()
	}
	t.rows = t.rows.Insert(pKey.Clone(), []Version{v}, nil)
	if !tombstone {
		t.indexRow(tid, pKey, obj)
	}
	if i, ok := pKey.(key.Int); ok && int64(i) >= t.nextAutoIncrement {
		t.nextAutoIncrement = int64(i) + 1
	}
}

// indexRow extracts every secondary index's key(s) from obj and adds
// pKey under each, validating unique-index exclusivity against other
// live, visible rows first. On a uniqueness failure it rolls back any
// entries it already added within this call.
func (t *Table) indexRow(tid int64, pKey key.Key, obj rowcodec.Value) error {
	type applied struct {
		name string
		k    key.Key
	}
	var done []applied

	for _, ix := range t.Schema.Secondary {
		keys, ok := extractIndexKeys(ix, obj)
		if !ok {
			continue
		}
		for _, k := range keys {
			if ix.Unique && t.hasLiveCompetitor(tid, ix.Name, k, pKey) {
				for _, a := range done {
					t.removeIndexEntry(a.name, a.k, pKey)
				}
				return &errors.UniquenessViolationError{Table: t.Name, Index: ix.Name, Key: key.Repr(k)}
			}
			t.addIndexEntry(ix.Name, k, pKey)
			done = append(done, applied{ix.Name, k})
		}
	}
	return nil
}

// unindexRow removes pKey from every secondary index entry obj
// previously contributed.
func (t *Table) unindexRow(obj rowcodec.Value, pKey key.Key) {
	for _, ix := range t.Schema.Secondary {
		keys, ok := extractIndexKeys(ix, obj)
		if !ok {
			continue
		}
		for _, k := range keys {
			t.removeIndexEntry(ix.Name, k, pKey)
		}
	}
}

func extractIndexKeys(ix schema.Index, obj rowcodec.Value) ([]key.Key, bool) {
	if k, ok := ix.ExtractKey(obj); ok {
		return []key.Key{k}, true
	}
	if ks, ok := ix.ExtractMultiEntry(obj); ok {
		return ks, true
	}
	return nil, false
}

func (t *Table) addIndexEntry(name string, k key.Key, pKey key.Key) {
	m := t.indices[name]
	set, _ := m.Lookup(k)
	set = set.Insert(pKey)
	t.indices[name] = m.Insert(k, set, nil)
}

func (t *Table) removeIndexEntry(name string, k key.Key, pKey key.Key) {
	m, ok := t.indices[name]
	if !ok {
		return
	}
	set, ok := m.Lookup(k)
	if !ok {
		return
	}
	set = set.Delete(pKey)
	if set.Empty() {
		t.indices[name] = m.Delete(k)
	} else {
		t.indices[name] = m.Insert(k, set, nil)
	}
}

func (t *Table) hasLiveCompetitor(tid int64, indexName string, k key.Key, exclude key.Key) bool {
	m, ok := t.indices[indexName]
	if !ok {
		return false
	}
	set, ok := m.Lookup(k)
	if !ok {
		return false
	}
	for _, pk := range set.Keys() {
		if key.Equal(pk, exclude) {
			continue
		}
		versions, ok := t.rows.Lookup(pk)
		if !ok {
			continue
		}
		if v, _, ok := visibleVersion(versions, tid); ok && !v.Tombstone {
			return true
		}
	}
	return false
}
