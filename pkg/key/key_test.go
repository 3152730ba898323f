package key

import (
	"testing"
	"time"
)

func TestInt_Compare(t *testing.T) {
	cases := []struct {
		a, b     Int
		expected int
	}{
		{5, 10, -1},
		{10, 5, 1},
		{10, 10, 0},
		{-5, 5, -1},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.expected {
			t.Errorf("Int(%d).Compare(Int(%d)) = %d, want %d", tc.a, tc.b, got, tc.expected)
		}
	}
}

func TestString_Compare(t *testing.T) {
	if String("a").Compare(String("b")) != -1 {
		t.Fatal("expected a < b")
	}
	if String("b").Compare(String("a")) != 1 {
		t.Fatal("expected b > a")
	}
	if String("a").Compare(String("a")) != 0 {
		t.Fatal("expected a == a")
	}
}

func TestBytes_Compare(t *testing.T) {
	if Bytes("aa").Compare(Bytes("ab")) != -1 {
		t.Fatal("expected aa < ab")
	}
}

func TestTimestamp_Compare(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Second)
	if Timestamp(now).Compare(Timestamp(later)) != -1 {
		t.Fatal("expected now < later")
	}
	if Timestamp(now).Compare(Timestamp(now)) != 0 {
		t.Fatal("expected now == now")
	}
}

func TestTypeRankOrdering(t *testing.T) {
	// integer < timestamp < string < bytes < list.
	ordered := []Key{
		Int(1),
		Timestamp(time.Unix(0, 0)),
		String("x"),
		Bytes("x"),
		List{Int(1)},
	}
	for i := 0; i < len(ordered)-1; i++ {
		if ordered[i].Compare(ordered[i+1]) >= 0 {
			t.Fatalf("expected element %d to sort before element %d", i, i+1)
		}
	}
}

func TestMinMaxSentinels(t *testing.T) {
	values := []Key{Int(-1 << 62), String("zzzzz"), List{Int(1), Int(2)}, Bytes{0xff}}
	for _, v := range values {
		if Min.Compare(v) >= 0 {
			t.Errorf("Min should compare below %v", v)
		}
		if Max.Compare(v) <= 0 {
			t.Errorf("Max should compare above %v", v)
		}
	}
	if Min.Compare(Min) != 0 {
		t.Fatal("Min should equal itself")
	}
	if Max.Compare(Max) != 0 {
		t.Fatal("Max should equal itself")
	}
}

func TestList_Compare_ElementWiseAndPrefix(t *testing.T) {
	a := List{Int(1), Int(2)}
	b := List{Int(1), Int(3)}
	if a.Compare(b) >= 0 {
		t.Fatal("expected [1,2] < [1,3]")
	}

	short := List{Int(1)}
	long := List{Int(1), Int(2)}
	if short.Compare(long) != -1 {
		t.Fatal("expected a strict prefix to sort before its extension")
	}
	if long.Compare(short) != 1 {
		t.Fatal("expected an extension to sort after its strict prefix")
	}
}

func TestClone_IsDeepAndEqual(t *testing.T) {
	original := List{String("a"), List{Int(1), Bytes("b")}}
	cloned := original.Clone()

	if !Equal(original, cloned) {
		t.Fatal("clone must compare equal to the original")
	}

	// Mutate the clone's nested byte slice; the original must be unaffected.
	clonedList := cloned.(List)
	clonedBytes := clonedList[1].(List)[1].(Bytes)
	clonedBytes[0] = 'Z'

	if !Equal(original, List{String("a"), List{Int(1), Bytes("b")}}) {
		t.Fatal("mutating the clone must not affect the original")
	}
}

func TestEqualAndLess(t *testing.T) {
	if !Equal(Int(7), Int(7)) {
		t.Fatal("7 should equal 7")
	}
	if Equal(Int(7), Int(8)) {
		t.Fatal("7 should not equal 8")
	}
	if !Less(Int(7), Int(8)) {
		t.Fatal("7 should be less than 8")
	}
	if Less(Int(8), Int(7)) {
		t.Fatal("8 should not be less than 7")
	}
}
