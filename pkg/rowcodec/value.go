// Package rowcodec implements the "dynamic storable value" sum type spec
// §9 calls for (row payloads are arbitrary self-describing data, modeled
// here as a tagged enum) together with the wire codec for it. The codec
// follows the teacher's pkg/storage/bson.go almost exactly — BSON via
// go.mongodb.org/mongo-driver/v2/bson as the self-describing binary
// format, wrapped in compression and a text-safe encoding so the bytes
// can travel through the host KV's string-valued slots —
// but is generalized from the teacher's closed five-case DataType enum
// to the full {null,bool,int,float,string,bytes,list,map} sum type, plus
// a timestamp case: timestamp-valued keys must be extractable from
// rows, and BSON's native datetime type is the
// teacher's own vehicle for that (see bson.go's time.Time handling in
// DoesTheKeyExist/GetValueFromBson).
package rowcodec

import (
	"time"

	"github.com/relcore/db/pkg/key"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTimestamp
	KindList
	KindMap
)

// Value is the tagged union every row field (and the row itself, as a
// KindMap) is built from.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	by   []byte
	ts   int64 // unix nanoseconds, used only when kind == KindTimestamp
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int wraps a 64-bit integer.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float wraps a 64-bit float.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Str wraps a UTF-8 string.
func Str(v string) Value { return Value{kind: KindString, s: v} }

// Bin wraps a raw byte sequence.
func Bin(v []byte) Value { return Value{kind: KindBytes, by: v} }

// TimestampUnixNano wraps a point in time given as Unix nanoseconds.
func TimestampUnixNano(nsec int64) Value { return Value{kind: KindTimestamp, ts: nsec} }

// List wraps an ordered sequence of values.
func List(vs []Value) Value { return Value{kind: KindList, list: vs} }

// Doc wraps a field map, representing a row or a nested sub-document.
func Doc(fields map[string]Value) Value { return Value{kind: KindMap, m: fields} }

// Kind reports the variant held.
func (v Value) Kind() Kind { return v.kind }

// AsBool returns the boolean payload; ok is false if v is not KindBool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer payload; ok is false if v is not KindInt.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float payload; ok is false if v is not KindFloat.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsString returns the string payload; ok is false if v is not KindString.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsBytes returns the byte payload; ok is false if v is not KindBytes.
func (v Value) AsBytes() ([]byte, bool) { return v.by, v.kind == KindBytes }

// AsTimestampUnixNano returns the timestamp payload in Unix nanoseconds.
func (v Value) AsTimestampUnixNano() (int64, bool) { return v.ts, v.kind == KindTimestamp }

// AsList returns the list payload; ok is false if v is not KindList.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsMap returns the field map; ok is false if v is not KindMap.
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Field looks up a single field of a KindMap value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	f, ok := v.m[name]
	return f, ok
}

// WithField returns a copy of v (which must be KindMap) with field name set
// to val, leaving v itself untouched. Used by the db facade to inject a
// generated auto-increment primary key into a caller-supplied row before
// it is ever stored.
func (v Value) WithField(name string, val Value) Value {
	out := make(map[string]Value, len(v.m)+1)
	for k, e := range v.m {
		out[k] = e
	}
	out[name] = val
	return Value{kind: KindMap, m: out}
}

// WithPath returns a copy of v with the value at the dotted field path set
// to val, creating intermediate maps as needed. Used alongside WithField
// to inject a generated auto-increment key back into a row when the
// primary key's path is itself nested.
func (v Value) WithPath(path []string, val Value) Value {
	if len(path) == 0 {
		return val
	}
	if len(path) == 1 {
		return v.WithField(path[0], val)
	}
	child, ok := v.Field(path[0])
	if !ok {
		child = Doc(nil)
	}
	return v.WithField(path[0], child.WithPath(path[1:], val))
}

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Clone performs a deep copy, mirroring key.Key's Clone requirement
// for the analogous row-value type.
func (v Value) Clone() Value {
	switch v.kind {
	case KindBytes:
		return Value{kind: KindBytes, by: append([]byte(nil), v.by...)}
	case KindList:
		cp := make([]Value, len(v.list))
		for i, e := range v.list {
			cp[i] = e.Clone()
		}
		return Value{kind: KindList, list: cp}
	case KindMap:
		cp := make(map[string]Value, len(v.m))
		for k, e := range v.m {
			cp[k] = e.Clone()
		}
		return Value{kind: KindMap, m: cp}
	default:
		return v // remaining scalars are immutable value types
	}
}

// ToKey converts a scalar or list Value into the key.Key used by indices
//. It returns ok=false for kinds the Key model has no
// representation for (null, bool, float, map) — callers treat that as
// "this row does not contribute an entry under this key path", matching
// an absent/sparse index entry rather than a hard schema failure, since
// whether a given row's field is key-representable is a per-row data
// condition, not a static schema property.
func (v Value) ToKey() (key.Key, bool) {
	switch v.kind {
	case KindInt:
		return key.Int(v.i), true
	case KindString:
		return key.String(v.s), true
	case KindBytes:
		return key.Bytes(append([]byte(nil), v.by...)), true
	case KindTimestamp:
		return key.Timestamp(unixNanoToTime(v.ts)), true
	case KindList:
		out := make(key.List, 0, len(v.list))
		for _, e := range v.list {
			k, ok := e.ToKey()
			if !ok {
				return nil, false
			}
			out = append(out, k)
		}
		return out, true
	default:
		return nil, false
	}
}

// FromKey converts a key.Key back into the Value it was extracted from
// (the inverse of ToKey), so primary keys can travel through the same
// BSON-based wire codec as row bodies in the WAL and snapshot streams
// (pkg/wal, pkg/snapshot) without a second, parallel key codec. Min/Max
// sentinels have no row-level representation and never need to be
// persisted, so they encode as null.
func FromKey(k key.Key) Value {
	switch v := k.(type) {
	case key.Int:
		return Int(int64(v))
	case key.Timestamp:
		return TimestampUnixNano(time.Time(v).UnixNano())
	case key.String:
		return Str(string(v))
	case key.Bytes:
		return Bin(append([]byte(nil), v...))
	case key.List:
		out := make([]Value, len(v))
		for i, e := range v {
			out[i] = FromKey(e)
		}
		return List(out)
	default:
		return Null()
	}
}
