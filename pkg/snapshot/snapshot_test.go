package snapshot_test

import (
	"testing"

	"github.com/relcore/db/pkg/key"
	"github.com/relcore/db/pkg/rowcodec"
	"github.com/relcore/db/pkg/snapshot"
)

func sample() snapshot.Snapshot {
	return snapshot.Snapshot{
		AsOf: 42,
		Tables: []snapshot.Table{
			{
				Name: "players",
				Rows: []snapshot.Row{
					{PKey: key.Int(1), Obj: rowcodec.Doc(map[string]rowcodec.Value{"name": rowcodec.Str("a")})},
					{PKey: key.Int(2), Obj: rowcodec.Doc(map[string]rowcodec.Value{"name": rowcodec.Str("b")})},
				},
			},
			{Name: "empty_table", Rows: nil},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := sample()
	chunks, err := snapshot.Encode(s, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := snapshot.Decode(chunks)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.AsOf != s.AsOf {
		t.Fatalf("AsOf = %d, want %d", got.AsOf, s.AsOf)
	}
	if len(got.Tables) != len(s.Tables) {
		t.Fatalf("got %d tables, want %d", len(got.Tables), len(s.Tables))
	}
	if len(got.Tables[0].Rows) != 2 {
		t.Fatalf("got %d rows in players, want 2", len(got.Tables[0].Rows))
	}
}

func TestEncodeChunksRespectMaxLen(t *testing.T) {
	s := sample()
	const maxLen = 32
	chunks, err := snapshot.Encode(s, maxLen)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks at chunkLen=%d, got %d", maxLen, len(chunks))
	}
	for i, c := range chunks {
		if len(c) > maxLen {
			t.Fatalf("chunk %d is %d bytes, exceeds max %d", i, len(c), maxLen)
		}
	}

	got, err := snapshot.Decode(chunks)
	if err != nil {
		t.Fatalf("Decode chunked: %v", err)
	}
	if got.AsOf != s.AsOf || len(got.Tables) != len(s.Tables) {
		t.Fatalf("chunked round-trip mismatch: %+v", got)
	}
}

func TestDecodeEmptyChunkList(t *testing.T) {
	got, err := snapshot.Decode(nil)
	if err != nil {
		t.Fatalf("Decode(nil): %v", err)
	}
	if got.AsOf != 0 || len(got.Tables) != 0 {
		t.Fatalf("expected zero-value snapshot, got %+v", got)
	}
}
