package durability

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/relcore/db/pkg/hostkv"
	"github.com/relcore/db/pkg/key"
	"github.com/relcore/db/pkg/rowcodec"
	"github.com/relcore/db/pkg/snapshot"
)

func sampleSnapshotForInternalTest() snapshot.Snapshot {
	return snapshot.Snapshot{
		AsOf: 1,
		Tables: []snapshot.Table{{
			Name: "players",
			Rows: []snapshot.Row{{PKey: key.Int(1), Obj: rowcodec.Doc(map[string]rowcodec.Value{"name": rowcodec.Str("a")})}},
		}},
	}
}

// TestSingleFlightSaveLatch exercises the "only one save may be in
// progress per database" guarantee directly against the unexported saving latch,
// since TrySave is reentrant-safe only because nothing else can observe
// mid-save state from outside this package.
func TestSingleFlightSaveLatch(t *testing.T) {
	kv := hostkv.NewMemory(0)
	opts := DefaultOptions(kv)
	opts.Logger = zerolog.Nop()
	m, _, err := Open("testdb", kv, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m.saving = true
	_, ran, err := m.TrySave(1, sampleSnapshotForInternalTest())
	if err != nil {
		t.Fatalf("TrySave: %v", err)
	}
	if ran {
		t.Fatal("expected TrySave to no-op while a save is already in flight")
	}
}
