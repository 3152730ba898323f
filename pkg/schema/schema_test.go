package schema

import (
	"testing"

	"github.com/relcore/db/pkg/rowcodec"
)

func TestParsePrimaryVariants(t *testing.T) {
	s, err := Parse("widgets", "++id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Primary.Intrinsic || !s.Primary.AutoIncrement {
		t.Fatalf("expected intrinsic auto-increment primary, got %+v", s.Primary)
	}

	s2, err := Parse("widgets", "id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s2.Primary.Intrinsic || s2.Primary.AutoIncrement {
		t.Fatalf("expected intrinsic non-auto-increment primary, got %+v", s2.Primary)
	}

	s3, err := Parse("widgets", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s3.Primary.Intrinsic {
		t.Fatal("expected extrinsic primary key for empty declaration")
	}
}

func TestParseSecondaryVariants(t *testing.T) {
	s, err := Parse("widgets", "id, &email, *tags, [a+b], &*labels")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Secondary) != 4 {
		t.Fatalf("expected 4 secondary indices, got %d", len(s.Secondary))
	}

	email, ok := s.IndexByName("email")
	if !ok || !email.Unique || email.MultiEntry {
		t.Fatalf("expected unique non-multi email index, got %+v ok=%v", email, ok)
	}

	tags, ok := s.IndexByName("tags")
	if !ok || tags.Unique || !tags.MultiEntry {
		t.Fatalf("expected multi-entry non-unique tags index, got %+v ok=%v", tags, ok)
	}

	compound, ok := s.IndexByName("a+b")
	if !ok || !compound.Compound() || len(compound.Paths) != 2 {
		t.Fatalf("expected compound index over a,b, got %+v ok=%v", compound, ok)
	}

	labels, ok := s.IndexByName("labels")
	if !ok || !labels.Unique || !labels.MultiEntry {
		t.Fatalf("expected unique multi-entry labels index, got %+v ok=%v", labels, ok)
	}
}

func TestRejectsCompoundMultiEntry(t *testing.T) {
	if _, err := Parse("widgets", "id, *[a+b]"); err == nil {
		t.Fatal("expected schema error for compound + multi-entry")
	}
}

func TestRejectsSinglePathCompound(t *testing.T) {
	if _, err := Parse("widgets", "id, [a]"); err == nil {
		t.Fatal("expected schema error for single-path compound")
	}
}

func TestRejectsDoublePlusOnSecondary(t *testing.T) {
	if _, err := Parse("widgets", "id, ++other"); err == nil {
		t.Fatal("expected schema error for ++ on a secondary index")
	}
}

func TestRejectsAutoIncrementCompoundPrimary(t *testing.T) {
	if _, err := Parse("widgets", "++[a+b]"); err == nil {
		t.Fatal("expected schema error for compound auto-increment primary")
	}
}

func TestExtractKeySimpleAndCompound(t *testing.T) {
	s, err := Parse("widgets", "id, [a+b]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj := rowcodec.Doc(map[string]rowcodec.Value{
		"id": rowcodec.Int(1),
		"a":  rowcodec.Int(10),
		"b":  rowcodec.Str("x"),
	})

	k, ok := s.Primary.ExtractKey(obj)
	if !ok || k.Compare(k) != 0 {
		t.Fatalf("expected primary key extraction to succeed, got %v ok=%v", k, ok)
	}

	compound, _ := s.IndexByName("a+b")
	ck, ok := compound.ExtractKey(obj)
	if !ok {
		t.Fatal("expected compound key extraction to succeed")
	}
	if ck == nil {
		t.Fatal("expected a non-nil compound key")
	}
}

func TestExtractMultiEntry(t *testing.T) {
	s, err := Parse("widgets", "id, *tags")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tags, _ := s.IndexByName("tags")

	obj := rowcodec.Doc(map[string]rowcodec.Value{
		"id":   rowcodec.Int(1),
		"tags": rowcodec.List([]rowcodec.Value{rowcodec.Str("a"), rowcodec.Str("b")}),
	})
	keys, ok := tags.ExtractMultiEntry(obj)
	if !ok || len(keys) != 2 {
		t.Fatalf("expected 2 extracted keys, got %d ok=%v", len(keys), ok)
	}

	missing := rowcodec.Doc(map[string]rowcodec.Value{"id": rowcodec.Int(2)})
	if _, ok := tags.ExtractMultiEntry(missing); ok {
		t.Fatal("expected extraction to fail when the field is absent")
	}
}

func TestExtractKeyMissingField(t *testing.T) {
	s, _ := Parse("widgets", "id")
	obj := rowcodec.Doc(map[string]rowcodec.Value{})
	if _, ok := s.Primary.ExtractKey(obj); ok {
		t.Fatal("expected extraction to fail when primary key field is absent")
	}
}
