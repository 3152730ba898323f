// Package wal implements the write-ahead log half of durability: a WAL
// chunk is a sequence of self-delimiting WAL entries, each one batch of
// per-table mutations `(tableId, pKey, obj | tombstone)` produced by one
// committed transaction. pkg/durability drives the three-step append
// protocol against pkg/hostkv; this package owns only the entry/chunk
// codec.
//
// Framing and checksums are grounded on the teacher's pkg/wal/entry.go
// and pkg/wal/checksum.go (a fixed-size header carrying a magic number,
// version, LSN, payload length and a CRC32-Castagnoli checksum, written
// ahead of each entry's payload) — kept the same header shape and
// checksum choice, replaced the teacher's single-mutation "EntryType"
// framing (Insert/Update/Delete/Begin/Commit/Abort as one WAL record
// each) with one record per whole committed transaction, matching spec
// §4.7's "a WAL entry is a batch of per-table mutations" rather than the
// teacher's statement-at-a-time journal.
package wal

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"

	"github.com/klauspost/compress/zstd"

	"github.com/relcore/db/pkg/errors"
	"github.com/relcore/db/pkg/key"
	"github.com/relcore/db/pkg/rowcodec"
)

// Magic and Version mirror the teacher's own constants (entry.go:
// WALMagic = 0xDEADBEEF, WALVersion = 1); kept verbatim since there is no
// reason to diverge from a working framing constant.
const (
	Magic   uint32 = 0xDEADBEEF
	Version uint8  = 1

	headerSize = 4 + 1 + 3 + 8 + 4 + 4 // magic, version, reserved, txnID, payloadLen, crc32
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Mutation is one table-scoped write belonging to a committed
// transaction: either a new or replacement object, or a tombstone.
type Mutation struct {
	Table     string
	PKey      key.Key
	Obj       rowcodec.Value
	Tombstone bool
}

// Entry is everything one committed transaction contributes to the WAL:
// its id and the full write-set the transaction manager accumulated.
type Entry struct {
	TxnID     int64
	Mutations []Mutation
}

func mutationToValue(m Mutation) rowcodec.Value {
	fields := map[string]rowcodec.Value{
		"table":     rowcodec.Str(m.Table),
		"pkey":      rowcodec.FromKey(m.PKey),
		"tombstone": rowcodec.Bool(m.Tombstone),
	}
	if !m.Tombstone {
		fields["obj"] = m.Obj
	}
	return rowcodec.Doc(fields)
}

func mutationFromValue(v rowcodec.Value) (Mutation, bool) {
	table, ok := v.Field("table")
	if !ok {
		return Mutation{}, false
	}
	tableName, ok := table.AsString()
	if !ok {
		return Mutation{}, false
	}
	pkeyField, ok := v.Field("pkey")
	if !ok {
		return Mutation{}, false
	}
	pKey, ok := pkeyField.ToKey()
	if !ok {
		return Mutation{}, false
	}
	tombstoneField, _ := v.Field("tombstone")
	tombstone, _ := tombstoneField.AsBool()
	m := Mutation{Table: tableName, PKey: pKey, Tombstone: tombstone}
	if !tombstone {
		if obj, ok := v.Field("obj"); ok {
			m.Obj = obj
		}
	}
	return m, true
}

func entryToValue(e Entry) rowcodec.Value {
	muts := make([]rowcodec.Value, len(e.Mutations))
	for i, m := range e.Mutations {
		muts[i] = mutationToValue(m)
	}
	return rowcodec.Doc(map[string]rowcodec.Value{
		"txn":       rowcodec.Int(e.TxnID),
		"mutations": rowcodec.List(muts),
	})
}

func entryFromValue(v rowcodec.Value) (Entry, bool) {
	txnField, ok := v.Field("txn")
	if !ok {
		return Entry{}, false
	}
	txnID, ok := txnField.AsInt()
	if !ok {
		return Entry{}, false
	}
	mutsField, ok := v.Field("mutations")
	if !ok {
		return Entry{}, false
	}
	items, ok := mutsField.AsList()
	if !ok {
		return Entry{}, false
	}
	muts := make([]Mutation, 0, len(items))
	for _, item := range items {
		m, ok := mutationFromValue(item)
		if !ok {
			continue
		}
		muts = append(muts, m)
	}
	return Entry{TxnID: txnID, Mutations: muts}, true
}

// encodeRecord frames one entry's BSON payload behind the teacher-style
// fixed header: magic, version, 3 reserved bytes, the entry's txn id (in
// the header's LSN slot, as this WAL indexes by transaction id rather
// than a separate log sequence number), payload length and CRC32.
func encodeRecord(w *bytes.Buffer, e Entry) error {
	payload, err := rowcodec.EncodeBSON(entryToValue(e))
	if err != nil {
		return errors.Wrap(err, "wal: encode entry")
	}
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	hdr[4] = Version
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(e.TxnID))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[20:24], crc32.Checksum(payload, castagnoli))
	w.Write(hdr[:])
	w.Write(payload)
	return nil
}

// CorruptRecord describes one WAL record the decoder could not trust,
// for the operator-visible warning a recovering caller should log.
type CorruptRecord struct {
	Offset int
	TxnID  int64
	Reason string
}

// decodeRecords walks raw sequentially, yielding every well-framed entry
// and reporting any record whose checksum failed to validate. A bad
// magic number at a record boundary means the stream cannot be
// resynchronized past that point, so decoding stops there: salvage
// every entry read successfully before the first unrecoverable break,
// log the rest and move on rather than failing recovery outright.
func decodeRecords(raw []byte) ([]Entry, []CorruptRecord) {
	var entries []Entry
	var corrupt []CorruptRecord
	off := 0
	for off+headerSize <= len(raw) {
		magic := binary.LittleEndian.Uint32(raw[off : off+4])
		if magic != Magic {
			corrupt = append(corrupt, CorruptRecord{Offset: off, Reason: "bad magic number"})
			break
		}
		txnID := int64(binary.LittleEndian.Uint64(raw[off+8 : off+16]))
		payloadLen := binary.LittleEndian.Uint32(raw[off+16 : off+20])
		wantCRC := binary.LittleEndian.Uint32(raw[off+20 : off+24])
		start := off + headerSize
		end := start + int(payloadLen)
		if end > len(raw) {
			corrupt = append(corrupt, CorruptRecord{Offset: off, TxnID: txnID, Reason: "truncated payload"})
			break
		}
		payload := raw[start:end]
		if crc32.Checksum(payload, castagnoli) != wantCRC {
			corrupt = append(corrupt, CorruptRecord{Offset: off, TxnID: txnID, Reason: "checksum mismatch"})
			off = end
			continue
		}
		val, err := rowcodec.DecodeBSON(payload)
		if err != nil {
			corrupt = append(corrupt, CorruptRecord{Offset: off, TxnID: txnID, Reason: "bson decode failed: " + err.Error()})
			off = end
			continue
		}
		e, ok := entryFromValue(val)
		if !ok {
			corrupt = append(corrupt, CorruptRecord{Offset: off, TxnID: txnID, Reason: "malformed entry value"})
			off = end
			continue
		}
		entries = append(entries, e)
		off = end
	}
	return entries, corrupt
}

var zstdEncoder, _ = zstd.NewWriter(nil)
var zstdDecoder, _ = zstd.NewReader(nil)

// EncodeChunk serializes an ordered list of entries into the text-safe
// string a single host-KV chunk slot holds: frame each entry, zstd
// compress the concatenated frames, then base64-encode.
func EncodeChunk(entries []Entry) (string, error) {
	var buf bytes.Buffer
	for _, e := range entries {
		if err := encodeRecord(&buf, e); err != nil {
			return "", err
		}
	}
	compressed := zstdEncoder.EncodeAll(buf.Bytes(), nil)
	return base64.StdEncoding.EncodeToString(compressed), nil
}

// DecodeChunk reverses EncodeChunk, returning every entry it could
// recover and a list of corrupt records encountered along the way (spec
// §7 policy 3: these are logged and skipped by the caller, never fatal).
func DecodeChunk(s string) ([]Entry, []CorruptRecord, error) {
	if s == "" {
		return nil, nil, nil
	}
	compressed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, nil, errors.Wrap(err, "wal: base64 decode chunk")
	}
	raw, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "wal: zstd decode chunk")
	}
	entries, corrupt := decodeRecords(raw)
	return entries, corrupt, nil
}

// EncodedLen reports the length EncodeChunk(entries) would produce.
func EncodedLen(entries []Entry) (int, error) {
	s, err := EncodeChunk(entries)
	if err != nil {
		return 0, err
	}
	return len(s), nil
}
