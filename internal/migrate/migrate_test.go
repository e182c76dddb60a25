package migrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/signac-project/signac/internal/config"
)

func TestRunMigratesV1ToV2(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "signac.rc"), []byte("schema_version = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New()
	if err := m.Run(dir); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SchemaVersion != config.CurrentSchemaVersion {
		t.Fatalf("SchemaVersion = %d, want %d", cfg.SchemaVersion, config.CurrentSchemaVersion)
	}
	if _, err := os.Stat(filepath.Join(dir, "signac.rc")); !os.IsNotExist(err) {
		t.Fatal("signac.rc should have been moved away")
	}
	if _, err := os.Stat(filepath.Join(dir, config.ConfigDirName, config.ConfigFileName)); err != nil {
		t.Fatalf("expected config at new location: %v", err)
	}
}

func TestRunIsNoOpAtCurrentVersion(t *testing.T) {
	dir := t.TempDir()
	cfg := config.New()
	if err := cfg.Write(dir); err != nil {
		t.Fatal(err)
	}

	m := New()
	if err := m.Run(dir); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, lockFileName)); !os.IsNotExist(err) {
		t.Fatal("lock file should be cleaned up")
	}
}
