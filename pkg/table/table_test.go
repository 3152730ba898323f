package table

import (
	"testing"

	"github.com/relcore/db/pkg/errors"
	"github.com/relcore/db/pkg/key"
	"github.com/relcore/db/pkg/rowcodec"
	"github.com/relcore/db/pkg/schema"
)

func newTestTable(t *testing.T, decl string) *Table {
	t.Helper()
	s, err := schema.Parse("widgets", decl)
	if err != nil {
		t.Fatalf("unexpected schema error: %v", err)
	}
	return New(s)
}

func obj(id int64, name string) rowcodec.Value {
	return rowcodec.Doc(map[string]rowcodec.Value{
		"id":   rowcodec.Int(id),
		"name": rowcodec.Str(name),
	})
}

func TestUnsafeAddAndGet(t *testing.T) {
	tb := newTestTable(t, "id")
	if err := tb.UnsafeAdd(1, obj(1, "a"), key.Int(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tb.Settle(1, key.Int(1))

	v, ok := tb.Get(2, key.Int(1))
	if !ok {
		t.Fatal("expected row to be visible")
	}
	if name, _ := v.Field("name"); mustString(t, name) != "a" {
		t.Fatalf("expected name a, got %v", name)
	}
}

func mustString(t *testing.T, v rowcodec.Value) string {
	t.Helper()
	s, ok := v.AsString()
	if !ok {
		t.Fatalf("expected string, got %v", v)
	}
	return s
}

func TestUnsafeAddUniquenessViolation(t *testing.T) {
	tb := newTestTable(t, "id")
	if err := tb.UnsafeAdd(1, obj(1, "a"), key.Int(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tb.Settle(1, key.Int(1))

	err := tb.UnsafeAdd(2, obj(1, "b"), key.Int(1))
	if err == nil {
		t.Fatal("expected uniqueness violation")
	}
	if _, ok := err.(*errors.UniquenessViolationError); !ok {
		t.Fatalf("expected UniquenessViolationError, got %v", err)
	}
}

func TestUnsafeAddAfterTombstoneSucceeds(t *testing.T) {
	tb := newTestTable(t, "id")
	if err := tb.UnsafeAdd(1, obj(1, "a"), key.Int(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tb.Settle(1, key.Int(1))
	if err := tb.Delete(2, key.Int(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tb.Settle(2, key.Int(1))

	if err := tb.UnsafeAdd(3, obj(1, "c"), key.Int(1)); err != nil {
		t.Fatalf("expected insert after delete to succeed, got %v", err)
	}
}

func TestWriteConflictOnLockedRow(t *testing.T) {
	tb := newTestTable(t, "id")
	if err := tb.UnsafeAdd(1, obj(1, "a"), key.Int(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// tid 1 still holds the write lock (not yet settled).
	err := tb.UnsafeAdd(2, obj(1, "b"), key.Int(1))
	if !errors.IsWriteConflict(err) {
		t.Fatalf("expected write conflict, got %v", err)
	}
}

func TestUpdateRenamesPrimaryKey(t *testing.T) {
	tb := newTestTable(t, "id")
	if err := tb.UnsafeAdd(1, obj(1, "a"), key.Int(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tb.Settle(1, key.Int(1))

	found, err := tb.Update(2, key.Int(1), func(old rowcodec.Value) (rowcodec.Value, key.Key, bool) {
		return obj(2, "a"), key.Int(2), true
	})
	if err != nil || !found {
		t.Fatalf("expected successful rename, err=%v found=%v", err, found)
	}
	tb.Settle(2, key.Int(1))
	tb.Settle(2, key.Int(2))

	if _, ok := tb.Get(3, key.Int(1)); ok {
		t.Fatal("old key should be tombstoned")
	}
	if _, ok := tb.Get(3, key.Int(2)); !ok {
		t.Fatal("new key should be visible")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	tb := newTestTable(t, "id")
	if err := tb.UnsafeAdd(1, obj(1, "a"), key.Int(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tb.Settle(1, key.Int(1))
	if err := tb.Delete(2, key.Int(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tb.Settle(2, key.Int(1))
	if err := tb.Delete(3, key.Int(1)); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
}

func TestSecondaryUniqueIndexConflict(t *testing.T) {
	tb := newTestTable(t, "id, &name")
	if err := tb.UnsafeAdd(1, obj(1, "a"), key.Int(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tb.Settle(1, key.Int(1))

	err := tb.UnsafeAdd(2, obj(2, "a"), key.Int(2))
	if err == nil {
		t.Fatal("expected unique secondary index violation")
	}
	if _, ok := tb.Get(3, key.Int(2)); ok {
		t.Fatal("the row whose indexing failed must have been revoked")
	}
}

func TestMatchPrimaryAndSecondary(t *testing.T) {
	tb := newTestTable(t, "id, name")
	for i := int64(1); i <= 5; i++ {
		if err := tb.UnsafeAdd(i, obj(i, "n"), key.Int(i)); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
		tb.Settle(i, key.Int(i))
	}

	entries, err := tb.Match(10, "", Range(key.Int(2), key.Int(4), true, true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries in [2,4], got %d", len(entries))
	}

	secondary, err := tb.Match(10, "name", Equals(key.String("n")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(secondary) != 5 {
		t.Fatalf("expected all 5 rows to match name=n, got %d", len(secondary))
	}
}

func TestGCRemovesTombstonesBelowHorizon(t *testing.T) {
	tb := newTestTable(t, "id")
	if err := tb.UnsafeAdd(1, obj(1, "a"), key.Int(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tb.Settle(1, key.Int(1))
	if err := tb.Delete(2, key.Int(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tb.Settle(2, key.Int(1))

	tb.GC(10, []key.Key{key.Int(1)})
	if _, ok := tb.rows.Lookup(key.Int(1)); ok {
		t.Fatal("expected row with only tombstones below the horizon to be dropped")
	}
}

func TestMultiEntryIndex(t *testing.T) {
	tb := newTestTable(t, "id, *tags")
	row := rowcodec.Doc(map[string]rowcodec.Value{
		"id":   rowcodec.Int(1),
		"tags": rowcodec.List([]rowcodec.Value{rowcodec.Str("x"), rowcodec.Str("y")}),
	})
	if err := tb.UnsafeAdd(1, row, key.Int(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tb.Settle(1, key.Int(1))

	matches, err := tb.Match(2, "tags", Equals(key.String("y")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match on tag y, got %d", len(matches))
	}
}
