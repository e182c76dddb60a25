// Package migrate implements component C9: lock-protected, chained
// schema migrations between on-disk project layouts.
package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/signac-project/signac/internal/config"
	"github.com/signac-project/signac/internal/signaclog"
)

const lockFileName = ".SIGNAC_PROJECT_MIGRATION_LOCK"

// Step rewrites a project directory from one schema version to the
// next. A step must be idempotent only in the sense that it is never
// retried once it reports success — the migrator persists the new
// version immediately after a step returns nil.
type Step func(projectDir string) error

type edge struct{ from, to int }

// Migrator runs a fixed chain of Steps, keyed by (from, to) schema
// version, under an advisory file lock.
type Migrator struct {
	steps  map[edge]Step
	logger zerolog.Logger
}

// New returns a Migrator with the built-in v1->v2 migration
// registered. Callers may register additional steps with Register
// before calling Run.
func New() *Migrator {
	m := &Migrator{steps: map[edge]Step{}, logger: signaclog.Logger("migrate")}
	m.Register(1, 2, MigrateV1ToV2)
	return m
}

// Register adds (or replaces) the step taking a project from schema
// version `from` to `to`.
func (m *Migrator) Register(from, to int, step Step) {
	m.steps[edge{from, to}] = step
}

// Run acquires the migration lock, walks the chain from the project's
// current schema version up to config.CurrentSchemaVersion applying
// each registered step in turn, persisting the new version after
// every success, then releases the lock. A missing edge in the chain
// is an error naming the version it got stuck at.
func (m *Migrator) Run(projectDir string) error {
	lockPath := filepath.Join(projectDir, lockFileName)
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire migration lock %s: %w", lockPath, err)
	}
	if !locked {
		return fmt.Errorf("migration lock %s is held by another process", lockPath)
	}
	defer func() {
		fl.Unlock()
		os.Remove(lockPath)
	}()

	current, err := DetectVersion(projectDir)
	if err != nil {
		return err
	}

	for current < config.CurrentSchemaVersion {
		step, ok := m.steps[edge{current, current + 1}]
		if !ok {
			return fmt.Errorf("no migration registered from schema version %d to %d", current, current+1)
		}
		m.logger.Info().Int("from", current).Int("to", current+1).Msg("applying migration")
		if err := step(projectDir); err != nil {
			return fmt.Errorf("migration %d -> %d failed, project left at version %d: %w", current, current+1, current, err)
		}
		current++
		cfg, err := config.Load(projectDir)
		if err != nil {
			return err
		}
		cfg.SchemaVersion = current
		if err := cfg.Write(projectDir); err != nil {
			return fmt.Errorf("persisting schema version %d after migration: %w", current, err)
		}
	}
	return nil
}

// MigrateV1ToV2 implements the concrete v1->v2 layout change: move
// signac.rc into .signac/config, relocate the state-point cache
// under .signac, and ingest a non-default workspace directory name
// (only "workspace" is valid thereafter). A custom project name is not
// moved: it stays as a key in the config file, and the project
// document is not touched.
func MigrateV1ToV2(projectDir string) error {
	rc := filepath.Join(projectDir, "signac.rc")
	if _, err := os.Stat(rc); err == nil {
		if err := os.MkdirAll(filepath.Join(projectDir, config.ConfigDirName), 0o755); err != nil {
			return err
		}
		if err := os.Rename(rc, filepath.Join(projectDir, config.ConfigDirName, config.ConfigFileName)); err != nil {
			return err
		}
	}

	oldCache := filepath.Join(projectDir, "statepoint_cache.json.gz")
	if _, err := os.Stat(oldCache); err == nil {
		if err := os.MkdirAll(filepath.Join(projectDir, config.ConfigDirName), 0o755); err != nil {
			return err
		}
		if err := os.Rename(oldCache, filepath.Join(projectDir, config.ConfigDirName, "statepoint_cache.json.gz")); err != nil {
			return err
		}
	}

	return ingestLegacyWorkspaceName(projectDir)
}

// ingestLegacyWorkspaceName reads a v1-era custom workspace directory
// name out of the just-moved config (if any legacy key recorded one)
// and, when it differs from "workspace", renames that directory into
// place — v2 allows only the fixed name thereafter.
func ingestLegacyWorkspaceName(projectDir string) error {
	cfg, err := config.Load(projectDir)
	if err != nil {
		return err
	}
	legacyName, ok := cfg.Get("workspace_dir")
	if !ok || legacyName == "" || legacyName == "workspace" {
		return nil
	}
	legacyPath := filepath.Join(projectDir, legacyName)
	if _, err := os.Stat(legacyPath); err != nil {
		return nil
	}
	if err := os.Rename(legacyPath, filepath.Join(projectDir, "workspace")); err != nil {
		return err
	}
	delete(cfg.Keys, "workspace_dir")
	return cfg.Write(projectDir)
}

// DetectVersion tries per-version loaders in descending order,
// returning the highest schema version whose marker is present. It
// is the Migrator's entry point when a project predates a readable
// .signac/config (schema_version 1 kept it at signac.rc).
func DetectVersion(projectDir string) (int, error) {
	if _, err := os.Stat(filepath.Join(projectDir, config.ConfigDirName, config.ConfigFileName)); err == nil {
		cfg, err := config.Load(projectDir)
		if err != nil {
			return 0, err
		}
		return cfg.SchemaVersion, nil
	}
	if _, err := os.Stat(filepath.Join(projectDir, "signac.rc")); err == nil {
		return 1, nil
	}
	return 0, fmt.Errorf("no signac project config found under %s", projectDir)
}

// LockAge reports how long a stale lock file has existed, useful for
// an operator deciding whether to remove one by hand after a crash.
func LockAge(projectDir string) (time.Duration, error) {
	info, err := os.Stat(filepath.Join(projectDir, lockFileName))
	if err != nil {
		return 0, err
	}
	return time.Since(info.ModTime()), nil
}
