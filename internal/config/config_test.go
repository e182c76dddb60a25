package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := New()
	cfg.Set("project", "myproject")

	if err := cfg.Write(dir); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.SchemaVersion != CurrentSchemaVersion {
		t.Fatalf("SchemaVersion = %d, want %d", reloaded.SchemaVersion, CurrentSchemaVersion)
	}
	v, ok := reloaded.Get("project")
	if !ok || v != "myproject" {
		t.Fatalf("Get(project) = %q, %v", v, ok)
	}
}

func TestLoadMissingFileYieldsZeroVersion(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SchemaVersion != 0 {
		t.Fatalf("SchemaVersion = %d, want 0 for an uninitialized directory", cfg.SchemaVersion)
	}
}

func TestCheckSchemaVersionRejectsNewer(t *testing.T) {
	cfg := &Config{SchemaVersion: CurrentSchemaVersion + 1}
	if err := cfg.CheckSchemaVersion(); err == nil {
		t.Fatal("expected IncompatibleSchemaVersion error")
	}
}

func TestLocateUpwardsFindsProjectRoot(t *testing.T) {
	root := t.TempDir()
	cfg := New()
	if err := cfg.Write(root); err != nil {
		t.Fatalf("Write: %v", err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	found, err := LocateUpwards(nested)
	if err != nil {
		t.Fatalf("LocateUpwards: %v", err)
	}
	if found != root {
		t.Fatalf("found %q, want %q", found, root)
	}
}

func TestLocateUpwardsErrorsWhenNotFound(t *testing.T) {
	dir := t.TempDir()
	if _, err := LocateUpwards(dir); err == nil {
		t.Fatal("expected error when no project exists above dir")
	}
}
