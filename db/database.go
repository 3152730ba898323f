package db

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/relcore/db/pkg/durability"
	"github.com/relcore/db/pkg/errors"
	"github.com/relcore/db/pkg/key"
	"github.com/relcore/db/pkg/metrics"
	"github.com/relcore/db/pkg/schema"
	"github.com/relcore/db/pkg/snapshot"
	"github.com/relcore/db/pkg/table"
	"github.com/relcore/db/pkg/txn"
	"github.com/relcore/db/pkg/wal"
)

// Database is the live, open handle: one set of table stores, a
// transaction manager, and the durability manager that
// persists them, all reachable only through Transaction and Table.
//
// Grounded on the teacher's pkg/storage.StorageEngine (one struct owning
// every table, the transaction registry and the checkpoint manager,
// with engine-level methods as the only entry point into a running
// database) — kept that "engine owns everything, callers never reach a
// table directly" shape, but added the mu critical section the
// cooperative-concurrency model calls for: the source language's
// scheduler guaranteed only one logical transaction ran at a time, a guarantee Go
// goroutines don't give for free, so here the whole attempt of one
// Transaction call (including its retries) holds mu.
type Database struct {
	name          string
	tables        map[string]*table.Table
	schemas       map[string]schema.Schema
	schemaVersion int

	txns       *txn.Manager
	durability *durability.Manager
	metrics    *metrics.Registry
	logger     zerolog.Logger

	mu                 sync.Mutex
	pendingGC          map[string][]key.Key
	lastCommittedTxnID int64
	commitsSinceSave   int
	saveEveryNCommits  int
}

// loadFromDurability replays the durability manager's recovered
// snapshot and WAL entries into fresh table stores, then fast-forwards the transaction manager so freshly
// minted transaction ids never collide with a replayed one.
func (d *Database) loadFromDurability() error {
	snap, entries, err := d.durability.Recover()
	if err != nil {
		return err
	}

	maxTid := snap.AsOf
	for _, stbl := range snap.Tables {
		tbl, ok := d.tables[stbl.Name]
		if !ok {
			// A table present in an older save but dropped from the
			// newest declared schema version; its rows have nowhere to
			// land and are discarded, matching the fail-closed schema
			// version check already performed in Build.
			continue
		}
		for _, row := range stbl.Rows {
			tbl.Restore(snap.AsOf, row.PKey, row.Obj, false)
		}
	}

	for _, e := range entries {
		for _, m := range e.Mutations {
			tbl, ok := d.tables[m.Table]
			if !ok {
				continue
			}
			tbl.Restore(e.TxnID, m.PKey, m.Obj, m.Tombstone)
		}
		if e.TxnID > maxTid {
			maxTid = e.TxnID
		}
	}

	d.lastCommittedTxnID = maxTid
	d.txns.FastForward(maxTid)
	return nil
}

// Transaction runs fn once against a fresh transaction id, retrying
// with a new id whenever fn's own writes collide with a concurrent
// writer (a WriteConflictError from pkg/table) and propagating any
// other error after undoing fn's writes.
func (d *Database) Transaction(fn func(*Txn) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		t := d.txns.Begin()
		tx := &Txn{db: d, t: t}

		err := fn(tx)
		if err != nil {
			d.revokeWrites(t)
			d.txns.End(t)
			if errors.IsWriteConflict(err) {
				if d.metrics != nil {
					d.metrics.Retries.Inc()
				}
				continue
			}
			if d.metrics != nil {
				d.metrics.Aborts.Inc()
			}
			return err
		}

		if err := d.commit(t); err != nil {
			return err
		}
		return nil
	}
}

// commit appends the transaction's write set to the WAL, settles every
// version it wrote, advances the GC horizon bookkeeping, and, once
// SaveEveryNCommits is reached, runs a save synchronously before
// returning.
func (d *Database) commit(t *txn.Txn) error {
	if t.Wrote() {
		entry, err := d.buildWALEntry(t)
		if err != nil {
			d.revokeWrites(t)
			d.txns.End(t)
			return err
		}
		if err := d.durability.AppendCommit(entry); err != nil {
			d.revokeWrites(t)
			d.txns.End(t)
			return err
		}
		for tableName, keys := range t.Writes() {
			tbl := d.tables[tableName]
			for _, k := range keys {
				tbl.Settle(t.ID, k)
			}
			d.pendingGC[tableName] = append(d.pendingGC[tableName], keys...)
		}
		d.lastCommittedTxnID = t.ID
		d.commitsSinceSave++
		if d.metrics != nil {
			d.metrics.Commits.Inc()
		}
	}

	horizon, shouldGC := d.txns.End(t)
	if shouldGC {
		d.runGC(horizon)
	}

	if d.saveEveryNCommits > 0 && d.commitsSinceSave >= d.saveEveryNCommits {
		d.commitsSinceSave = 0
		if err := d.saveNow(); err != nil {
			d.logger.Warn().Err(err).Str("database", d.name).Msg("automatic save failed")
		}
	}
	return nil
}

// revokeWrites undoes every version t pushed during a transaction that
// is about to abort or retry.
func (d *Database) revokeWrites(t *txn.Txn) {
	for tableName, keys := range t.Writes() {
		tbl, ok := d.tables[tableName]
		if !ok {
			continue
		}
		for _, k := range keys {
			tbl.Revoke(t.ID, k)
		}
	}
}

// buildWALEntry reads back, under t's own write lock, the final state
// of every row t wrote (visible to t regardless of commit order since
// the visibility rule admits the writer's own uncommitted version) and
// packages it as one WAL entry.
func (d *Database) buildWALEntry(t *txn.Txn) (wal.Entry, error) {
	var muts []wal.Mutation
	for tableName, keys := range t.Writes() {
		tbl, ok := d.tables[tableName]
		if !ok {
			return wal.Entry{}, &errors.TableNotFoundError{Name: tableName}
		}
		for _, k := range keys {
			if obj, ok := tbl.Get(t.ID, k); ok {
				muts = append(muts, wal.Mutation{Table: tableName, PKey: k, Obj: obj})
			} else {
				muts = append(muts, wal.Mutation{Table: tableName, PKey: k, Tombstone: true})
			}
		}
	}
	return wal.Entry{TxnID: t.ID, Mutations: muts}, nil
}

// runGC sweeps every table's pending keys once horizon allows it (spec
// §4.5 step 2), clearing the accumulated pending set afterward.
func (d *Database) runGC(horizon int64) {
	for tableName, keys := range d.pendingGC {
		if len(keys) == 0 {
			continue
		}
		tbl, ok := d.tables[tableName]
		if !ok {
			continue
		}
		tbl.GC(horizon, keys)
		if d.metrics != nil {
			d.metrics.GCVersions.Add(float64(len(keys)))
		}
	}
	d.pendingGC = make(map[string][]key.Key)
}

// buildSnapshot gathers every table's rows visible as of the last
// committed transaction id, the consistent cut a background save
// persists.
func (d *Database) buildSnapshot() snapshot.Snapshot {
	tables := make([]snapshot.Table, 0, len(d.tables))
	for name, tbl := range d.tables {
		entries := tbl.Snapshot(d.lastCommittedTxnID)
		rows := make([]snapshot.Row, len(entries))
		for i, e := range entries {
			rows[i] = snapshot.Row{PKey: e.PKey, Obj: e.Obj}
		}
		tables = append(tables, snapshot.Table{Name: name, Rows: rows})
	}
	return snapshot.Snapshot{AsOf: d.lastCommittedTxnID, Tables: tables}
}

// saveNow runs one save epoch unconditionally; TrySave's own
// single-flight latch is still what actually prevents overlap with a
// concurrent save from another goroutine.
func (d *Database) saveNow() error {
	snap := d.buildSnapshot()
	_, ran, err := d.durability.TrySave(d.schemaVersion, snap)
	if err != nil {
		return err
	}
	if !ran {
		d.logger.Debug().Str("database", d.name).Msg("save skipped, another save already in flight")
	}
	return nil
}

// Save forces a save epoch outside the automatic SaveEveryNCommits
// trigger, e.g. before a deliberate shutdown.
func (d *Database) Save() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saveNow()
}

// Table returns an auto-commit proxy for the named table: every call on
// it runs as its own single-operation Transaction. Returns
// TableNotFoundError if name was never declared.
func (d *Database) Table(name string) (*TableHandle, error) {
	if _, ok := d.tables[name]; !ok {
		return nil, &errors.TableNotFoundError{Name: name}
	}
	return &TableHandle{db: d, name: name}, nil
}
