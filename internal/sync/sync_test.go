package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/signac-project/signac/internal/project"
)

func TestSyncClonesMissingJob(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src, err := project.Init(srcDir)
	if err != nil {
		t.Fatal(err)
	}
	dst, err := project.Init(dstDir)
	if err != nil {
		t.Fatal(err)
	}

	j, err := src.OpenJob(map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j.Init(false); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(j.Path(), "data.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Sync(src, dst, Options{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	dstJob, err := dst.OpenJobByID(j.ID())
	if err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(filepath.Join(dstJob.Path(), "data.txt"))
	if err != nil {
		t.Fatalf("expected cloned file: %v", err)
	}
	if string(content) != "hello" {
		t.Fatalf("got %q", content)
	}
}

func TestSyncFileConflictWithoutStrategy(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src, err := project.Init(srcDir)
	if err != nil {
		t.Fatal(err)
	}
	dst, err := project.Init(dstDir)
	if err != nil {
		t.Fatal(err)
	}

	srcJob, err := src.OpenJob(map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := srcJob.Init(false); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcJob.Path(), "data.txt"), []byte("from-src"), 0o644); err != nil {
		t.Fatal(err)
	}

	dstJob, err := dst.OpenJob(map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dstJob.Init(false); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dstJob.Path(), "data.txt"), []byte("from-dst"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Sync(src, dst, Options{}); err == nil {
		t.Fatal("expected FileSyncConflict with default Never strategy")
	}

	if err := Sync(src, dst, Options{FileStrategy: Always}); err != nil {
		t.Fatalf("Sync with Always strategy: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(dstJob.Path(), "data.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "from-src" {
		t.Fatalf("got %q, want from-src", content)
	}
}

func TestSyncDryRunMakesNoChanges(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src, err := project.Init(srcDir)
	if err != nil {
		t.Fatal(err)
	}
	dst, err := project.Init(dstDir)
	if err != nil {
		t.Fatal(err)
	}

	j, err := src.OpenJob(map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j.Init(false); err != nil {
		t.Fatal(err)
	}

	if err := Sync(src, dst, Options{DryRun: true}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst.Workspace(), j.ID())); !os.IsNotExist(err) {
		t.Fatal("dry run should not have created the destination job directory")
	}
}

func TestSyncDocumentUpdate(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src, err := project.Init(srcDir)
	if err != nil {
		t.Fatal(err)
	}
	dst, err := project.Init(dstDir)
	if err != nil {
		t.Fatal(err)
	}

	srcJob, err := src.OpenJob(map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	doc, err := srcJob.Document()
	if err != nil {
		t.Fatal(err)
	}
	if err := doc.Set("result", int64(42)); err != nil {
		t.Fatal(err)
	}

	dstJob, err := dst.OpenJob(map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dstJob.Init(false); err != nil {
		t.Fatal(err)
	}

	if err := Sync(src, dst, Options{DocStrategy: Update}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	dstDoc, err := dstJob.Document()
	if err != nil {
		t.Fatal(err)
	}
	v, err := dstDoc.Get("result")
	if err != nil {
		t.Fatal(err)
	}
	// syncedjson decodes every JSON number as float64.
	if v != float64(42) {
		t.Fatalf("got %#v, want 42", v)
	}
}
