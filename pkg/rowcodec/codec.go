package rowcodec

import (
	"encoding/base64"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/klauspost/compress/zstd"

	"github.com/relcore/db/pkg/errors"
)

func unixNanoToTime(nsec int64) time.Time {
	return time.Unix(0, nsec).UTC()
}

func timeToUnixNano(t time.Time) int64 {
	return t.UnixNano()
}

// FromBSON converts a decoded BSON document into a Value, recursively.
// Grounded on the teacher's pkg/storage/bson.go, which walks a bson.D in
// the same shape-by-shape manner to build its row representation.
func FromBSON(d bson.D) Value {
	m := make(map[string]Value, len(d))
	for _, e := range d {
		m[e.Key] = fromBSONValue(e.Value)
	}
	return Doc(m)
}

func fromBSONValue(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float64:
		return Float(x)
	case string:
		return Str(x)
	case []byte:
		return Bin(x)
	case bson.Binary:
		return Bin(x.Data)
	case time.Time:
		return TimestampUnixNano(timeToUnixNano(x))
	case bson.DateTime:
		return TimestampUnixNano(timeToUnixNano(x.Time()))
	case bson.A:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = fromBSONValue(e)
		}
		return List(out)
	case bson.D:
		return FromBSON(x)
	case primitiveMap:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = fromBSONValue(e)
		}
		return Doc(m)
	default:
		// Unrecognized BSON element kinds (regex, JS code, min/max key, ...)
		// fall back to null: the storable-value model has no slot for
		// them and rows never populate these through normal table ops.
		return Null()
	}
}

// primitiveMap exists only so fromBSONValue can match a generic
// map[string]interface{} without importing it twice under different
// names; bson.Unmarshal into bson.D never actually produces this, but
// FromBSON stays defensive for hand-built documents passed by callers.
type primitiveMap = map[string]interface{}

// ToBSON converts a Value of kind KindMap back into a bson.D document.
func ToBSON(v Value) bson.D {
	m, ok := v.AsMap()
	if !ok {
		return bson.D{{Key: "_value", Value: toBSONValue(v)}}
	}
	d := make(bson.D, 0, len(m))
	for k, fv := range m {
		d = append(d, bson.E{Key: k, Value: toBSONValue(fv)})
	}
	return d
}

func toBSONValue(v Value) interface{} {
	switch v.Kind() {
	case KindNull:
		return nil
	case KindBool:
		b, _ := v.AsBool()
		return b
	case KindInt:
		i, _ := v.AsInt()
		return i
	case KindFloat:
		f, _ := v.AsFloat()
		return f
	case KindString:
		s, _ := v.AsString()
		return s
	case KindBytes:
		b, _ := v.AsBytes()
		return b
	case KindTimestamp:
		ns, _ := v.AsTimestampUnixNano()
		return unixNanoToTime(ns)
	case KindList:
		list, _ := v.AsList()
		out := make(bson.A, len(list))
		for i, e := range list {
			out[i] = toBSONValue(e)
		}
		return out
	case KindMap:
		return ToBSON(v)
	default:
		return nil
	}
}

var encoder, _ = zstd.NewWriter(nil)
var decoder, _ = zstd.NewReader(nil)

// EncodeBSON serializes v to raw BSON bytes, with no compression or
// text-safe wrapping. The WAL and snapshot codecs (pkg/wal, pkg/snapshot)
// use this directly: they frame many values into one chunk and compress
// and base64-encode the whole chunk once, rather than paying that
// overhead per row the way Marshal does for a single value.
func EncodeBSON(v Value) ([]byte, error) {
	raw, err := bson.Marshal(ToBSON(v))
	if err != nil {
		return nil, errors.Wrap(err, "rowcodec: bson marshal")
	}
	return raw, nil
}

// DecodeBSON reverses EncodeBSON.
func DecodeBSON(raw []byte) (Value, error) {
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return Value{}, errors.Wrap(err, "rowcodec: bson unmarshal")
	}
	return FromBSON(d), nil
}

// Marshal serializes a row Value to a text-safe string: BSON binary ->
// zstd compression -> base64. This mirrors the teacher's bson.go
// (document -> bytes) chained with the compress-then-encode pipeline
// the host-KV boundary's bounded-string values require, using
// klauspost/compress's pure-Go zstd rather than a cgo binding so the
// module stays cgo-free end to end.
func Marshal(v Value) (string, error) {
	raw, err := bson.Marshal(ToBSON(v))
	if err != nil {
		return "", errors.Wrap(err, "rowcodec: bson marshal")
	}
	compressed := encoder.EncodeAll(raw, nil)
	return base64.StdEncoding.EncodeToString(compressed), nil
}

// Unmarshal reverses Marshal.
func Unmarshal(s string) (Value, error) {
	compressed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Value{}, errors.Wrap(err, "rowcodec: base64 decode")
	}
	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return Value{}, errors.Wrap(err, "rowcodec: zstd decode")
	}
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return Value{}, errors.Wrap(err, "rowcodec: bson unmarshal")
	}
	return FromBSON(d), nil
}
