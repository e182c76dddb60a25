package search

import "testing"

func sample() Store {
	return Store{
		"a": {"x": int64(4), "y": "red", "nested": map[string]any{"z": int64(1)}},
		"b": {"x": float64(4.0), "y": "blue"},
		"c": {"x": int64(5), "y": "red"},
	}
}

func TestEmptyFilterMatchesAll(t *testing.T) {
	idx := New(sample())
	ids, err := idx.Find(map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %v", ids)
	}
}

func TestIntFloatDuplication(t *testing.T) {
	idx := New(sample())
	intIDs, err := idx.Find(map[string]any{"x": int64(4)})
	if err != nil {
		t.Fatal(err)
	}
	floatIDs, err := idx.Find(map[string]any{"x": float64(4.0)})
	if err != nil {
		t.Fatal(err)
	}
	if len(intIDs) != 2 || len(floatIDs) != 2 {
		t.Fatalf("int query %v, float query %v", intIDs, floatIDs)
	}
}

func TestDottedKeyLookup(t *testing.T) {
	idx := New(sample())
	ids, err := idx.Find(map[string]any{"nested.z": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("got %v", ids)
	}
}

func TestOperatorGT(t *testing.T) {
	idx := New(sample())
	ids, err := idx.Find(map[string]any{"x": map[string]any{"$gt": int64(4)}})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "c" {
		t.Fatalf("got %v", ids)
	}
}

func TestAndOrNot(t *testing.T) {
	idx := New(sample())
	ids, err := idx.Find(map[string]any{
		"$and": []any{
			map[string]any{"y": "red"},
			map[string]any{"$not": map[string]any{"x": int64(5)}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("got %v", ids)
	}
}

func TestMisplacedOperatorErrors(t *testing.T) {
	idx := New(sample())
	_, err := idx.Find(map[string]any{"x": map[string]any{"lt$": int64(1)}})
	if err == nil {
		t.Fatal("expected error for misplaced operator")
	}
}

func TestTopLevelOperatorKeyErrors(t *testing.T) {
	idx := New(sample())
	_, err := idx.Find(map[string]any{"$lt": int64(1)})
	if err == nil {
		t.Fatal("expected error for top-level non-logical operator key")
	}
}

func TestNearTolerance(t *testing.T) {
	idx := New(Store{
		"a": {"v": float64(1.0)},
		"b": {"v": float64(1.05)},
		"c": {"v": float64(2.0)},
	})
	ids, err := idx.Find(map[string]any{"v": map[string]any{"$near": []any{float64(1.0), float64(0.1)}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %v", ids)
	}
}

func TestTypeOperatorDistinguishesIntFromWholeFloat(t *testing.T) {
	idx := New(Store{
		"a": {"v": int64(4)},
		"b": {"v": float64(4.0)},
	})
	intIDs, err := idx.Find(map[string]any{"v": map[string]any{"$type": "int"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(intIDs) != 1 || intIDs[0] != "a" {
		t.Fatalf("$type int = %v, want [a]", intIDs)
	}
	floatIDs, err := idx.Find(map[string]any{"v": map[string]any{"$type": "float"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(floatIDs) != 1 || floatIDs[0] != "b" {
		t.Fatalf("$type float = %v, want [b], a whole-valued float must not report as int", floatIDs)
	}
}
