package wal_test

import (
	"testing"

	"github.com/relcore/db/pkg/key"
	"github.com/relcore/db/pkg/rowcodec"
	"github.com/relcore/db/pkg/wal"
)

func sampleEntry(txnID int64) wal.Entry {
	return wal.Entry{
		TxnID: txnID,
		Mutations: []wal.Mutation{
			{Table: "players", PKey: key.Int(1), Obj: rowcodec.Doc(map[string]rowcodec.Value{
				"name": rowcodec.Str("a"),
			})},
			{Table: "players", PKey: key.Int(2), Tombstone: true},
		},
	}
}

func TestEncodeDecodeChunkRoundTrip(t *testing.T) {
	entries := []wal.Entry{sampleEntry(10), sampleEntry(11)}
	chunk, err := wal.EncodeChunk(entries)
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}
	if chunk == "" {
		t.Fatal("expected non-empty chunk")
	}

	got, corrupt, err := wal.DecodeChunk(chunk)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if len(corrupt) != 0 {
		t.Fatalf("unexpected corrupt records: %+v", corrupt)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, e := range got {
		if e.TxnID != entries[i].TxnID {
			t.Fatalf("entry %d: txn id = %d, want %d", i, e.TxnID, entries[i].TxnID)
		}
		if len(e.Mutations) != len(entries[i].Mutations) {
			t.Fatalf("entry %d: %d mutations, want %d", i, len(e.Mutations), len(entries[i].Mutations))
		}
	}
}

func TestDecodeEmptyChunk(t *testing.T) {
	entries, corrupt, err := wal.DecodeChunk("")
	if err != nil {
		t.Fatalf("DecodeChunk(\"\"): %v", err)
	}
	if len(entries) != 0 || len(corrupt) != 0 {
		t.Fatalf("expected empty chunk to decode to nothing, got entries=%v corrupt=%v", entries, corrupt)
	}
}

func TestDecodeChunkRejectsGarbage(t *testing.T) {
	if _, _, err := wal.DecodeChunk("not-valid-base64!!"); err == nil {
		t.Fatal("expected an error decoding non-base64 input")
	}
}

func TestEncodedLenMatchesEncodeChunk(t *testing.T) {
	entries := []wal.Entry{sampleEntry(1)}
	want, err := wal.EncodeChunk(entries)
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}
	n, err := wal.EncodedLen(entries)
	if err != nil {
		t.Fatalf("EncodedLen: %v", err)
	}
	if n != len(want) {
		t.Fatalf("EncodedLen = %d, want %d", n, len(want))
	}
}

func TestTombstoneMutationRoundTrips(t *testing.T) {
	e := wal.Entry{TxnID: 5, Mutations: []wal.Mutation{
		{Table: "t", PKey: key.String("k"), Tombstone: true},
	}}
	chunk, err := wal.EncodeChunk([]wal.Entry{e})
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}
	got, _, err := wal.DecodeChunk(chunk)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if len(got) != 1 || len(got[0].Mutations) != 1 || !got[0].Mutations[0].Tombstone {
		t.Fatalf("tombstone mutation did not round-trip: %+v", got)
	}
}
