package job

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeRegistry struct {
	cached map[string]map[string]any
	dropped []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{cached: map[string]map[string]any{}}
}

func (r *fakeRegistry) CacheSP(id string, sp map[string]any) { r.cached[id] = sp }
func (r *fakeRegistry) DropSP(id string) {
	delete(r.cached, id)
	r.dropped = append(r.dropped, id)
}

func TestInitMaterializesDirectoryAndSPFile(t *testing.T) {
	ws := t.TempDir()
	reg := newFakeRegistry()
	j, err := New(ws, reg, map[string]any{"a": int64(1), "b": int64(2)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wantID := "9bfd29df07674bc4aa960cf661b5acd2"
	if j.ID() != wantID {
		t.Fatalf("id = %s, want %s", j.ID(), wantID)
	}

	if _, err := j.Init(false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	spPath := filepath.Join(ws, wantID, statePointFile)
	if _, err := os.Stat(spPath); err != nil {
		t.Fatalf("expected SP file at %s: %v", spPath, err)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	ws := t.TempDir()
	j, err := New(ws, nil, map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j.Init(false); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	spPath := filepath.Join(ws, j.ID(), statePointFile)
	before, err := os.ReadFile(spPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j.Init(false); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	after, err := os.ReadFile(spPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatalf("Init was not idempotent: %s != %s", before, after)
	}
}

func TestMutatingStatePointRenamesDirectory(t *testing.T) {
	ws := t.TempDir()
	reg := newFakeRegistry()
	j, err := New(ws, reg, map[string]any{"a": int64(0)})
	if err != nil {
		t.Fatal(err)
	}
	oldID := j.ID()
	if _, err := j.Init(false); err != nil {
		t.Fatal(err)
	}

	sp, err := j.StatePoint()
	if err != nil {
		t.Fatal(err)
	}
	if err := sp.Set("a", int64(1)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	newID := j.ID()
	if newID == oldID {
		t.Fatal("expected id to change after SP mutation")
	}
	if _, err := os.Stat(filepath.Join(ws, oldID)); !os.IsNotExist(err) {
		t.Fatalf("old directory %s should no longer exist", oldID)
	}
	if _, err := os.Stat(filepath.Join(ws, newID, statePointFile)); err != nil {
		t.Fatalf("new directory missing SP file: %v", err)
	}
	if _, stillCached := reg.cached[oldID]; stillCached {
		t.Fatal("old id should have been dropped from the registry")
	}
	if _, nowCached := reg.cached[newID]; !nowCached {
		t.Fatal("new id should be cached in the registry")
	}
}

func TestClearKeepsSPAndDocument(t *testing.T) {
	ws := t.TempDir()
	j, err := New(ws, nil, map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	doc, err := j.Document()
	if err != nil {
		t.Fatal(err)
	}
	if err := doc.Set("x", int64(1)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(j.Path(), "extra.dat"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := j.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(filepath.Join(j.Path(), "extra.dat")); !os.IsNotExist(err) {
		t.Fatal("extra.dat should have been removed by Clear")
	}
	if _, err := os.Stat(filepath.Join(j.Path(), statePointFile)); err != nil {
		t.Fatal("Clear should not remove the SP file")
	}
	v, err := doc.Call()
	if err != nil {
		t.Fatal(err)
	}
	if m, ok := v.(map[string]any); !ok || len(m) != 0 {
		t.Fatalf("document should be empty after Clear, got %#v", v)
	}
}

func TestOpenVerifiesHashAgainstID(t *testing.T) {
	ws := t.TempDir()
	j, err := New(ws, nil, map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j.Init(false); err != nil {
		t.Fatal(err)
	}
	realID := j.ID()

	wrongDir := filepath.Join(ws, "deadbeefdeadbeefdeadbeefdeadbeef")
	if err := os.Rename(filepath.Join(ws, realID), wrongDir); err != nil {
		t.Fatal(err)
	}

	bad := Open(ws, nil, "deadbeefdeadbeefdeadbeefdeadbeef")
	if _, err := bad.StatePoint(); err == nil {
		t.Fatal("expected JobsCorruptedError for mismatched id/content")
	}
}
