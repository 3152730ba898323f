package durability_test

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/relcore/db/pkg/durability"
	"github.com/relcore/db/pkg/hostkv"
	"github.com/relcore/db/pkg/key"
	"github.com/relcore/db/pkg/rowcodec"
	"github.com/relcore/db/pkg/snapshot"
	"github.com/relcore/db/pkg/wal"
)

func newTestManager(t *testing.T, kv hostkv.Store) *durability.Manager {
	t.Helper()
	opts := durability.DefaultOptions(kv)
	opts.Logger = zerolog.Nop()
	m, _, err := durability.Open("testdb", kv, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return m
}

func sampleSnapshot(asOf int64) snapshot.Snapshot {
	return snapshot.Snapshot{
		AsOf: asOf,
		Tables: []snapshot.Table{{
			Name: "players",
			Rows: []snapshot.Row{
				{PKey: key.Int(1), Obj: rowcodec.Doc(map[string]rowcodec.Value{"name": rowcodec.Str("a")})},
			},
		}},
	}
}

func TestOpenEmptyDatabase(t *testing.T) {
	kv := hostkv.NewMemory(0)
	m := newTestManager(t, kv)
	if m.Metadata().ActiveParts != durability.SideA || m.Metadata().ActiveWAL != durability.SideA {
		t.Fatalf("fresh database should start on side A, got %+v", m.Metadata())
	}
	snap, entries, err := m.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(snap.Tables) != 0 || len(entries) != 0 {
		t.Fatalf("expected empty recovery, got snap=%+v entries=%v", snap, entries)
	}
}

func TestAppendCommitThenRecoverReplaysWAL(t *testing.T) {
	kv := hostkv.NewMemory(0)
	m := newTestManager(t, kv)

	e1 := wal.Entry{TxnID: 1, Mutations: []wal.Mutation{{Table: "players", PKey: key.Int(1), Obj: rowcodec.Doc(map[string]rowcodec.Value{"name": rowcodec.Str("a")})}}}
	e2 := wal.Entry{TxnID: 2, Mutations: []wal.Mutation{{Table: "players", PKey: key.Int(2), Obj: rowcodec.Doc(map[string]rowcodec.Value{"name": rowcodec.Str("b")})}}}
	if err := m.AppendCommit(e1); err != nil {
		t.Fatalf("AppendCommit e1: %v", err)
	}
	if err := m.AppendCommit(e2); err != nil {
		t.Fatalf("AppendCommit e2: %v", err)
	}

	// A fresh manager over the same kv simulates a process restart.
	reopened := newTestManager(t, kv)
	_, entries, err := reopened.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 replayed WAL entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].TxnID != 1 || entries[1].TxnID != 2 {
		t.Fatalf("unexpected entry order: %+v", entries)
	}
}

func TestTrySaveThenRecoverLoadsSnapshotNotWAL(t *testing.T) {
	kv := hostkv.NewMemory(0)
	m := newTestManager(t, kv)

	e1 := wal.Entry{TxnID: 1, Mutations: []wal.Mutation{{Table: "players", PKey: key.Int(1), Obj: rowcodec.Doc(map[string]rowcodec.Value{"name": rowcodec.Str("a")})}}}
	if err := m.AppendCommit(e1); err != nil {
		t.Fatalf("AppendCommit: %v", err)
	}

	res, ran, err := m.TrySave(1, sampleSnapshot(1))
	if err != nil || !ran {
		t.Fatalf("TrySave: ran=%v err=%v", ran, err)
	}
	if res.NewSide != durability.SideB {
		t.Fatalf("expected save to flip to side B, got %s", res.NewSide)
	}

	reopened := newTestManager(t, kv)
	snap, entries, err := reopened.Recover()
	if err != nil {
		t.Fatalf("Recover after save: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("post-save WAL should be empty (old side truncated), got %+v", entries)
	}
	if len(snap.Tables) != 1 || len(snap.Tables[0].Rows) != 1 {
		t.Fatalf("expected saved snapshot to recover, got %+v", snap)
	}
	if reopened.SchemaVersion() != 1 {
		t.Fatalf("SchemaVersion = %d, want 1", reopened.SchemaVersion())
	}
}

// TestCrashBetweenSnapshotWriteAndMetadataFlip simulates the
// crash-during-(b) case: part.B.* gets written but
// the crash happens before CommitSave ever runs, so metadata on restart
// still says A is active and the B-side chunks are simply ignored.
func TestCrashBetweenSnapshotWriteAndMetadataFlip(t *testing.T) {
	mem := hostkv.NewMemory(0)
	crash := hostkv.NewCrash(mem)
	m := newTestManager(t, crash)

	e1 := wal.Entry{TxnID: 1, Mutations: []wal.Mutation{{Table: "players", PKey: key.Int(1), Obj: rowcodec.Doc(map[string]rowcodec.Value{"name": rowcodec.Str("a")})}}}
	if err := m.AppendCommit(e1); err != nil {
		t.Fatalf("AppendCommit: %v", err)
	}

	newWALSide := m.BeginSave()
	if _, err := m.WriteSnapshotChunks(durability.SideB, sampleSnapshot(1)); err != nil {
		t.Fatalf("WriteSnapshotChunks: %v", err)
	}
	crash.Kill() // crash strictly between steps (b) and (c)
	_ = newWALSide

	reopened := newTestManager(t, mem) // "restart": read whatever the host kv actually has
	if reopened.Metadata().ActiveParts != durability.SideA {
		t.Fatalf("active parts should still be A after a crash before metadata flip, got %s", reopened.Metadata().ActiveParts)
	}
	_, entries, err := reopened.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(entries) != 1 || entries[0].TxnID != 1 {
		t.Fatalf("expected pre-crash WAL entry to still replay, got %+v", entries)
	}
}

// TestCrashAfterMetadataFlipBeforeCleanup simulates a crash right
// after (c), before cleanup starts: metadata already points at the new
// side, but the old WAL/part chunks are still physically present. They
// must be ignored, not replayed twice.
func TestCrashAfterMetadataFlipBeforeCleanup(t *testing.T) {
	mem := hostkv.NewMemory(0)
	crash := hostkv.NewCrash(mem)
	m := newTestManager(t, crash)

	e1 := wal.Entry{TxnID: 1, Mutations: []wal.Mutation{{Table: "players", PKey: key.Int(1), Obj: rowcodec.Doc(map[string]rowcodec.Value{"name": rowcodec.Str("a")})}}}
	if err := m.AppendCommit(e1); err != nil {
		t.Fatalf("AppendCommit: %v", err)
	}

	newWALSide := m.BeginSave()
	k, err := m.WriteSnapshotChunks(durability.SideB, sampleSnapshot(1))
	if err != nil {
		t.Fatalf("WriteSnapshotChunks: %v", err)
	}
	if err := m.CommitSave(1, durability.SideB, k, newWALSide); err != nil {
		t.Fatalf("CommitSave: %v", err)
	}
	crash.Kill() // crash strictly between (c) and (d): cleanup never runs

	// Old side A WAL chunk is still physically present in mem.
	if _, ok := mem.Get("database.testdb.wal.A.0"); !ok {
		t.Fatal("expected stale WAL.A.0 chunk to still be present before cleanup")
	}

	reopened := newTestManager(t, mem)
	if reopened.Metadata().ActiveParts != durability.SideB || reopened.Metadata().ActiveWAL != durability.SideB {
		t.Fatalf("unexpected metadata after simulated crash: %+v", reopened.Metadata())
	}
	snap, entries, err := reopened.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("new WAL side has count 0, stale A chunks must be ignored, got %+v", entries)
	}
	if len(snap.Tables) != 1 || len(snap.Tables[0].Rows) != 1 {
		t.Fatalf("expected snapshot B to recover, got %+v", snap)
	}
}

