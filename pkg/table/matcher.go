package table

import "github.com/relcore/db/pkg/key"

// Matcher describes an inclusive/exclusive key range used by Table.Match,
// given as a pair of bounds with an inclusivity flag each. A full-compound match
// on a compound index produces a singleton range; a
// prefix match extends the remaining slots with the Min/Max sentinels so
// the range still walks the compound index in the expected order.
type Matcher struct {
	Lo, Hi               key.Key
	LoInclusive, HiInclusive bool
}

func (m Matcher) contains(k key.Key) bool {
	if m.Lo != nil {
		c := k.Compare(m.Lo)
		if c < 0 || (c == 0 && !m.LoInclusive) {
			return false
		}
	}
	if m.Hi != nil {
		c := k.Compare(m.Hi)
		if c > 0 || (c == 0 && !m.HiInclusive) {
			return false
		}
	}
	return true
}

// Equals matches a single key exactly.
func Equals(k key.Key) Matcher {
	return Matcher{Lo: k, Hi: k, LoInclusive: true, HiInclusive: true}
}

// All matches every key.
func All() Matcher {
	return Matcher{Lo: key.Min, Hi: key.Max, LoInclusive: true, HiInclusive: true}
}

// Range matches keys between lo and hi with the given inclusivity on
// each bound. A nil bound means unbounded on that side.
func Range(lo, hi key.Key, loInclusive, hiInclusive bool) Matcher {
	return Matcher{Lo: lo, Hi: hi, LoInclusive: loInclusive, HiInclusive: hiInclusive}
}

// CompoundPrefix builds the range for a match against the first
// len(given) paths of a compound index with the given number of total
// paths: an exact match on every path yields a singleton range, a
// shorter prefix is extended with Min/Max sentinels in the remaining
// slots.
func CompoundPrefix(totalPaths int, given []key.Key) Matcher {
	lo := make(key.List, totalPaths)
	hi := make(key.List, totalPaths)
	for i := 0; i < totalPaths; i++ {
		if i < len(given) {
			lo[i] = given[i]
			hi[i] = given[i]
		} else {
			lo[i] = key.Min
			hi[i] = key.Max
		}
	}
	return Matcher{Lo: lo, Hi: hi, LoInclusive: true, HiInclusive: true}
}
