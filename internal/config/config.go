// Package config implements component C2: the small flat key-value
// file backing a project's identity (schema_version, project name,
// and any user-defined keys), read through viper the way Conduit's
// internal/config does for its own config file and written back as
// sorted "key = value" lines.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/viper"

	"github.com/signac-project/signac/internal/signacerr"
)

// CurrentSchemaVersion is the workspace/config layout version this
// build understands. Project.Open and the migrator compare a
// workspace's on-disk version against this constant.
const CurrentSchemaVersion = 2

// ConfigDirName is the per-project directory holding config and the
// state point cache, mirroring signac's ".signac" convention.
const ConfigDirName = ".signac"

// ConfigFileName is the flat key=value file inside ConfigDirName.
const ConfigFileName = "config"

// Config is the project's persistent identity: a schema version plus
// an open bag of string keys (project name, custom user settings).
// Unlike Conduit's daemon-wide Config, this is intentionally tiny —
// signac pushes everything else into the state point or job document.
type Config struct {
	SchemaVersion int
	Keys          map[string]string
	path          string
}

// New returns an empty Config for a not-yet-written project.
func New() *Config {
	return &Config{SchemaVersion: CurrentSchemaVersion, Keys: map[string]string{}}
}

// Path returns the file Load read from or Write will write to, empty
// if the Config was never associated with a file.
func (c *Config) Path() string {
	return c.path
}

// Load reads the config file at dir/.signac/config. A missing file is
// not an error — it yields a fresh Config with SchemaVersion 0, the
// "uninitialized" marker Project.Open looks for.
func Load(projectRoot string) (*Config, error) {
	path := filepath.Join(projectRoot, ConfigDirName, ConfigFileName)
	cfg := &Config{Keys: map[string]string{}, path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, &signacerr.ConfigError{Path: path, Cause: err}
	}

	for _, key := range v.AllKeys() {
		if key == "schema_version" {
			cfg.SchemaVersion = v.GetInt(key)
			continue
		}
		cfg.Keys[key] = v.GetString(key)
	}
	return cfg, nil
}

// Get returns a user-defined key, signac's stand-in for the Python
// project document's top-level string settings.
func (c *Config) Get(key string) (string, bool) {
	v, ok := c.Keys[key]
	return v, ok
}

// Set assigns a user-defined key. Callers must call Write to persist
// the change.
func (c *Config) Set(key, value string) {
	c.Keys[key] = value
}

// Write serializes the config to dir/.signac/config using the same
// atomic temp-file-then-rename discipline as syncedjson.Document, so
// a crash mid-write never leaves a truncated config behind.
func (c *Config) Write(projectRoot string) error {
	dir := filepath.Join(projectRoot, ConfigDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &signacerr.ConfigError{Path: dir, Cause: err}
	}
	path := filepath.Join(dir, ConfigFileName)
	c.path = path

	keys := make([]string, 0, len(c.Keys))
	for k := range c.Keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	content := fmt.Sprintf("schema_version = %d\n", c.SchemaVersion)
	for _, k := range keys {
		content += fmt.Sprintf("%s = %s\n", k, c.Keys[k])
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return &signacerr.ConfigError{Path: path, Cause: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &signacerr.ConfigError{Path: path, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &signacerr.ConfigError{Path: path, Cause: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &signacerr.ConfigError{Path: path, Cause: err}
	}
	return nil
}

// CheckSchemaVersion errors with IncompatibleSchemaVersion when the
// config's version is newer than this build understands. Older
// versions are left to the migrator (component C9), not rejected
// here.
func (c *Config) CheckSchemaVersion() error {
	if c.SchemaVersion > CurrentSchemaVersion {
		return &signacerr.IncompatibleSchemaVersion{Found: c.SchemaVersion, Expected: CurrentSchemaVersion}
	}
	return nil
}

// LocateUpwards walks from start upward looking for a ConfigDirName
// directory, the way signac discovers an enclosing project from any
// working directory beneath its root. It returns the directory
// containing .signac, not .signac itself.
func LocateUpwards(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, ConfigDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", &signacerr.WorkspaceError{Path: start, Cause: fmt.Errorf("no %s found above %s", ConfigDirName, start)}
		}
		dir = parent
	}
}
