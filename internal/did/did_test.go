package did

import (
	"testing"
)

func TestNewConstructDid_Deterministic(t *testing.T) {
	pkg := NewPackageDid("transfer", ".")
	a := NewConstructDid(pkg, "variable", "amount")
	b := NewConstructDid(pkg, "variable", "amount")
	if a != b {
		t.Fatalf("expected identical DIDs, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestNewConstructDid_DistinguishesKindAndName(t *testing.T) {
	pkg := NewPackageDid("transfer", ".")
	byName := NewConstructDid(pkg, "variable", "a")
	other := NewConstructDid(pkg, "variable", "b")
	byKind := NewConstructDid(pkg, "output", "a")
	if byName == other {
		t.Error("different names must produce different DIDs")
	}
	if byName == byKind {
		t.Error("different block types must produce different DIDs")
	}
}

func TestNewConstructDid_DistinguishesPackages(t *testing.T) {
	a := NewConstructDid(NewPackageDid("rb", "./a"), "variable", "x")
	b := NewConstructDid(NewPackageDid("rb", "./b"), "variable", "x")
	if a == b {
		t.Error("different packages must produce different DIDs")
	}
}

func TestDigest_FieldOrderIndependent(t *testing.T) {
	a, err := Digest(map[string]any{"x": 1, "y": "two"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Digest(map[string]any{"y": "two", "x": 1})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("canonicalized digests differ: %s vs %s", a, b)
	}
}
