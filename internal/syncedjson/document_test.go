package syncedjson

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	doc := NewMapping(path)

	if err := doc.Root().Set("a", 1.0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := doc.Root().Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 1.0 {
		t.Fatalf("Get() = %v, want 1.0", got)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(raw) != `{"a":1}` {
		t.Fatalf("file contents = %s", raw)
	}
}

func TestResetReplacesWhole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	doc := NewMapping(path)
	_ = doc.Root().Set("a", 1.0)

	if err := doc.Root().Reset(map[string]any{"b": 2.0}); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	reopened := NewMapping(path)
	v, err := reopened.Root().Call()
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["b"] != 2.0 || len(m) != 1 {
		t.Fatalf("after reset, got %#v", v)
	}
}

func TestNestedChildPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	doc := NewMapping(path)

	if err := doc.Root().Child("nested").Set("x", 5.0); err != nil {
		t.Fatalf("Set nested: %v", err)
	}

	reopened := NewMapping(path)
	got, err := reopened.Root().Child("nested").Get("x")
	if err != nil {
		t.Fatalf("Get nested: %v", err)
	}
	if got != 5.0 {
		t.Fatalf("got %v, want 5.0", got)
	}
}

func TestRejectsDottedKey(t *testing.T) {
	dir := t.TempDir()
	doc := NewMapping(filepath.Join(dir, "doc.json"))
	err := doc.Root().Set("a.b", 1.0)
	if err == nil {
		t.Fatal("expected error for dotted key")
	}
}

func TestSequenceAppendAndReverse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.json")
	doc := NewSequence(path)

	if err := doc.Root().Append(1.0); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := doc.Root().Append(2.0); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := doc.Root().Reverse(); err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	v, err := doc.Root().Call()
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	a := v.([]any)
	if len(a) != 2 || a[0] != 2.0 || a[1] != 1.0 {
		t.Fatalf("after reverse, got %#v", a)
	}
}
