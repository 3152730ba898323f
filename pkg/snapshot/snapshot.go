// Package snapshot implements the snapshot half of durability: one
// document holding the snapshot's transaction id and, per table, its name
// and row list, which the durability manager chunks to fit the host KV's
// maximum string length and writes to
// `part.<side>.0 .. part.<side>.k-1`. Secondary indices are never part
// of this stream — they are rebuilt in memory from rows on load.
//
// Grounded on the teacher's pkg/storage/checkpoint_serializer.go
// (Serialize/Deserialize the whole Heap+Indices of every table into one
// stream for a checkpoint file), generalized to emit only primary rows
// (no index trees — ours are rebuilt on load) and to target a
// chunked string stream rather than a single file.
package snapshot

import (
	"encoding/base64"

	"github.com/klauspost/compress/zstd"

	"github.com/relcore/db/pkg/errors"
	"github.com/relcore/db/pkg/key"
	"github.com/relcore/db/pkg/rowcodec"
)

// Row is one live primary-keyed row as of the snapshot's transaction id.
type Row struct {
	PKey key.Key
	Obj  rowcodec.Value
}

// Table is one table's full row set for the snapshot.
type Table struct {
	Name string
	Rows []Row
}

// Snapshot is the whole-database payload durability streams: the
// transaction id it was taken as of, plus every table's live rows.
type Snapshot struct {
	AsOf   int64
	Tables []Table
}

func (s Snapshot) toValue() rowcodec.Value {
	tables := make([]rowcodec.Value, len(s.Tables))
	for i, tbl := range s.Tables {
		rows := make([]rowcodec.Value, len(tbl.Rows))
		for j, r := range tbl.Rows {
			rows[j] = rowcodec.Doc(map[string]rowcodec.Value{
				"pkey": rowcodec.FromKey(r.PKey),
				"obj":  r.Obj,
			})
		}
		tables[i] = rowcodec.Doc(map[string]rowcodec.Value{
			"table": rowcodec.Str(tbl.Name),
			"rows":  rowcodec.List(rows),
		})
	}
	return rowcodec.Doc(map[string]rowcodec.Value{
		"asOf":   rowcodec.Int(s.AsOf),
		"tables": rowcodec.List(tables),
	})
}

func fromValue(v rowcodec.Value) (Snapshot, error) {
	asOfField, ok := v.Field("asOf")
	if !ok {
		return Snapshot{}, errors.Newf("snapshot: missing asOf field")
	}
	asOf, ok := asOfField.AsInt()
	if !ok {
		return Snapshot{}, errors.Newf("snapshot: asOf field is not an integer")
	}
	tablesField, ok := v.Field("tables")
	if !ok {
		return Snapshot{}, errors.Newf("snapshot: missing tables field")
	}
	tableVals, ok := tablesField.AsList()
	if !ok {
		return Snapshot{}, errors.Newf("snapshot: tables field is not a list")
	}
	out := Snapshot{AsOf: asOf, Tables: make([]Table, 0, len(tableVals))}
	for _, tv := range tableVals {
		nameField, ok := tv.Field("table")
		if !ok {
			return Snapshot{}, errors.Newf("snapshot: table entry missing name")
		}
		name, ok := nameField.AsString()
		if !ok {
			return Snapshot{}, errors.Newf("snapshot: table name is not a string")
		}
		rowsField, ok := tv.Field("rows")
		if !ok {
			return Snapshot{}, errors.Newf("snapshot: table %q missing rows", name)
		}
		rowVals, ok := rowsField.AsList()
		if !ok {
			return Snapshot{}, errors.Newf("snapshot: table %q rows is not a list", name)
		}
		rows := make([]Row, 0, len(rowVals))
		for _, rv := range rowVals {
			pkeyField, ok := rv.Field("pkey")
			if !ok {
				continue
			}
			pKey, ok := pkeyField.ToKey()
			if !ok {
				continue
			}
			obj, _ := rv.Field("obj")
			rows = append(rows, Row{PKey: pKey, Obj: obj})
		}
		out.Tables = append(out.Tables, Table{Name: name, Rows: rows})
	}
	return out, nil
}

var zstdEncoder, _ = zstd.NewWriter(nil)
var zstdDecoder, _ = zstd.NewReader(nil)

// Encode serializes the whole snapshot (BSON, zstd, base64, per the same
// text-safe pipeline pkg/rowcodec and pkg/wal use) and splits the result
// into chunks no longer than chunkLen, the caller's maximum host-KV
// string length, one per `part.<side>.n` slot.
func Encode(s Snapshot, chunkLen int) ([]string, error) {
	raw, err := rowcodec.EncodeBSON(s.toValue())
	if err != nil {
		return nil, errors.Wrap(err, "snapshot: encode")
	}
	compressed := zstdEncoder.EncodeAll(raw, nil)
	encoded := base64.StdEncoding.EncodeToString(compressed)
	if chunkLen <= 0 {
		return []string{encoded}, nil
	}
	var chunks []string
	for i := 0; i < len(encoded); i += chunkLen {
		end := i + chunkLen
		if end > len(encoded) {
			end = len(encoded)
		}
		chunks = append(chunks, encoded[i:end])
	}
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	return chunks, nil
}

// Decode reassembles and parses the chunks Encode produced, in order
// (part.<side>.0 .. part.<side>.k-1).
func Decode(chunks []string) (Snapshot, error) {
	var encoded string
	for _, c := range chunks {
		encoded += c
	}
	if encoded == "" {
		return Snapshot{}, nil
	}
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "snapshot: base64 decode")
	}
	raw, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "snapshot: zstd decode")
	}
	v, err := rowcodec.DecodeBSON(raw)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "snapshot: bson decode")
	}
	return fromValue(v)
}
