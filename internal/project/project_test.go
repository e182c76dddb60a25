package project

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitAndOpen(t *testing.T) {
	dir := t.TempDir()
	p, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := os.Stat(p.Workspace()); err != nil {
		t.Fatalf("expected workspace directory: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.Root() != dir {
		t.Fatalf("Root() = %s, want %s", reopened.Root(), dir)
	}
}

func TestOpenJobAndFind(t *testing.T) {
	dir := t.TempDir()
	p, err := Init(dir)
	if err != nil {
		t.Fatal(err)
	}

	j1, err := p.OpenJob(map[string]any{"a": int64(0), "b": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j1.Init(false); err != nil {
		t.Fatal(err)
	}
	j2, err := p.OpenJob(map[string]any{"a": int64(0)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j2.Init(false); err != nil {
		t.Fatal(err)
	}

	cursor := p.FindJobs(map[string]any{"a": int64(0)})
	n, err := cursor.Len()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("Len() = %d, want 2", n)
	}

	narrower := p.FindJobs(map[string]any{"b": int64(1)})
	ids, err := narrower.IDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != j1.ID() {
		t.Fatalf("got %v, want [%s]", ids, j1.ID())
	}
}

func TestCheckDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	p, err := Init(dir)
	if err != nil {
		t.Fatal(err)
	}
	j, err := p.OpenJob(map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j.Init(false); err != nil {
		t.Fatal(err)
	}
	realID := j.ID()

	if err := os.Rename(filepath.Join(p.Workspace(), realID), filepath.Join(p.Workspace(), "deadbeefdeadbeefdeadbeefdeadbeef")); err != nil {
		t.Fatal(err)
	}

	if err := p.Check(); err == nil {
		t.Fatal("expected JobsCorruptedError")
	}
	if err := p.Repair(); err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if err := p.Check(); err != nil {
		t.Fatalf("Check after Repair: %v", err)
	}
}

func TestSchemaExcludesConstantKeys(t *testing.T) {
	dir := t.TempDir()
	p, err := Init(dir)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, a := range []int64{0, 1} {
		j, err := p.OpenJob(map[string]any{"a": a, "const": int64(7)})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := j.Init(false); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, j.ID())
	}

	schema, err := p.Schema(ids, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := schema["const"]; ok {
		t.Fatal("constant key should have been excluded")
	}
	if _, ok := schema["a"]; !ok {
		t.Fatal("varying key 'a' should be present")
	}
}

func TestWriteAndLoadCache(t *testing.T) {
	dir := t.TempDir()
	p, err := Init(dir)
	if err != nil {
		t.Fatal(err)
	}
	j, err := p.OpenJob(map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j.Init(false); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteCache(); err != nil {
		t.Fatalf("WriteCache: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	sp, hit := reopened.cache[j.ID()]
	if !hit {
		t.Fatal("expected cache hit after reload")
	}
	if sp["a"] != int64(1) {
		t.Fatalf("got %#v", sp)
	}
}

func TestFindJobsMatchesDocumentNamespace(t *testing.T) {
	dir := t.TempDir()
	p, err := Init(dir)
	if err != nil {
		t.Fatal(err)
	}

	j1, err := p.OpenJob(map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	doc1, err := j1.Document()
	if err != nil {
		t.Fatal(err)
	}
	if err := doc1.Set("done", true); err != nil {
		t.Fatal(err)
	}

	j2, err := p.OpenJob(map[string]any{"a": int64(2)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j2.Init(false); err != nil {
		t.Fatal(err)
	}

	ids, err := p.FindJobs(map[string]any{"doc.done": true}).IDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != j1.ID() {
		t.Fatalf("got %v, want [%s]", ids, j1.ID())
	}

	// A bare key still defaults to the state-point namespace.
	spIDs, err := p.FindJobs(map[string]any{"a": int64(2)}).IDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(spIDs) != 1 || spIDs[0] != j2.ID() {
		t.Fatalf("got %v, want [%s]", spIDs, j2.ID())
	}

	// Explicit sp. prefix addresses the same namespace a bare key does.
	explicitIDs, err := p.FindJobs(map[string]any{"sp.a": int64(1)}).IDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(explicitIDs) != 1 || explicitIDs[0] != j1.ID() {
		t.Fatalf("got %v, want [%s]", explicitIDs, j1.ID())
	}
}

func TestGroupByKeysDocumentNamespace(t *testing.T) {
	dir := t.TempDir()
	p, err := Init(dir)
	if err != nil {
		t.Fatal(err)
	}

	j1, err := p.OpenJob(map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	doc1, err := j1.Document()
	if err != nil {
		t.Fatal(err)
	}
	if err := doc1.Set("status", "ok"); err != nil {
		t.Fatal(err)
	}

	j2, err := p.OpenJob(map[string]any{"a": int64(2)})
	if err != nil {
		t.Fatal(err)
	}
	doc2, err := j2.Document()
	if err != nil {
		t.Fatal(err)
	}
	if err := doc2.Set("status", "ok"); err != nil {
		t.Fatal(err)
	}

	j3, err := p.OpenJob(map[string]any{"a": int64(3)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j3.Init(false); err != nil {
		t.Fatal(err)
	}

	groups, err := p.FindJobs(nil).GroupByKeys([]string{"doc.status"}, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := groups["ok"]; len(got) != 2 {
		t.Fatalf("group %v, want 2 jobs with doc.status=ok", got)
	}
	if total := len(groups["ok"]); total != 2 {
		t.Fatalf("unexpected total grouped jobs: %d", total)
	}
	var allGrouped int
	for _, ids := range groups {
		allGrouped += len(ids)
	}
	if allGrouped != 2 {
		t.Fatalf("job missing doc.status should be excluded by default, got %d grouped", allGrouped)
	}
}
