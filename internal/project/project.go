// Package project implements component C8: ownership of a workspace
// directory and its state-point cache, job construction and lookup,
// integrity checking, schema derivation, and import/export.
package project

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/signac-project/signac/internal/config"
	"github.com/signac-project/signac/internal/hash"
	"github.com/signac-project/signac/internal/job"
	"github.com/signac-project/signac/internal/search"
	"github.com/signac-project/signac/internal/signaclog"
	"github.com/signac-project/signac/internal/signacerr"
	"github.com/signac-project/signac/internal/syncedjson"
)

const (
	workspaceDirName = "workspace"
	cacheFileName    = "statepoint_cache.json.gz"
	projectDocName   = "signac_project_document.json"
	jobDocName       = "signac_job_document.json"

	// cacheMissWarnThreshold is the default count of disk-fallback SP
	// reads after which Project emits a one-shot debug warning
	// suggesting the caller persist the cache (spec §4.8).
	cacheMissWarnThreshold = 500
)

var jobIDPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// Project owns a workspace directory and the in-memory state-point
// cache backing job lookups by id (spec §4.8).
type Project struct {
	root         string
	workspaceDir string
	cfg          *config.Config
	projectDoc   *syncedjson.Document
	logger       zerolog.Logger

	mu           sync.Mutex
	cache        map[string]map[string]any
	cacheMisses  int
	warnedOnce   bool
}

// Init creates a new project rooted at dir: a minimal config and an
// empty workspace directory. It errors if dir already holds a
// project.
func Init(dir string) (*Project, error) {
	if _, err := os.Stat(filepath.Join(dir, config.ConfigDirName, config.ConfigFileName)); err == nil {
		return nil, &signacerr.ConfigError{Path: dir, Cause: fmt.Errorf("project already initialized")}
	}
	cfg := config.New()
	if err := cfg.Write(dir); err != nil {
		return nil, err
	}
	ws := filepath.Join(dir, workspaceDirName)
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return nil, &signacerr.WorkspaceError{Path: ws, Cause: err}
	}
	return Open(dir)
}

// Open opens an existing project rooted at dir, verifying its config
// exists and its schema version is one this build understands.
func Open(dir string) (*Project, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if cfg.SchemaVersion == 0 {
		return nil, &signacerr.ConfigError{Path: dir, Cause: fmt.Errorf("no signac project configuration found")}
	}
	if err := cfg.CheckSchemaVersion(); err != nil {
		return nil, err
	}

	ws := filepath.Join(dir, workspaceDirName)
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return nil, &signacerr.WorkspaceError{Path: ws, Cause: err}
	}

	p := &Project{
		root:         dir,
		workspaceDir: ws,
		cfg:          cfg,
		projectDoc:   syncedjson.NewMapping(filepath.Join(dir, projectDocName)),
		logger:       signaclog.Logger("project"),
		cache:        map[string]map[string]any{},
	}
	_ = p.LoadCache() // a missing or unreadable cache file just means a cold start
	return p, nil
}

// Root returns the project's directory.
func (p *Project) Root() string { return p.root }

// Workspace returns the project's workspace directory.
func (p *Project) Workspace() string { return p.workspaceDir }

// Document returns a Cursor over the project document.
func (p *Project) Document() *syncedjson.Cursor { return p.projectDoc.Root() }

// CacheSP implements job.Registry: it records sp under id in the
// in-memory cache. Callers that want it on disk must call WriteCache.
func (p *Project) CacheSP(id string, sp map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[id] = deepCopyMap(sp)
}

// DropSP implements job.Registry: it evicts id from the in-memory
// cache, used after a rename or a remove.
func (p *Project) DropSP(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, id)
}

// OpenJob constructs an in-memory Job for sp. Its directory is not
// materialized until Init or first access to StatePoint/Document.
func (p *Project) OpenJob(sp map[string]any) (*job.Job, error) {
	return job.New(p.workspaceDir, p, sp)
}

// OpenJobByID reconstructs a Job for a known id, consulting the SP
// cache first; a miss falls through to a disk-verified load the
// first time the job's state point is actually touched, and counts
// toward the cache-miss warning threshold.
func (p *Project) OpenJobByID(id string) (*job.Job, error) {
	if !jobIDPattern.MatchString(id) {
		return nil, fmt.Errorf("invalid job id %q: must match %s", id, jobIDPattern.String())
	}
	p.mu.Lock()
	sp, hit := p.cache[id]
	p.mu.Unlock()
	if hit {
		return job.OpenWithSP(p.workspaceDir, p, id, sp), nil
	}

	p.mu.Lock()
	p.cacheMisses++
	misses := p.cacheMisses
	warn := misses > cacheMissWarnThreshold && !p.warnedOnce
	if warn {
		p.warnedOnce = true
	}
	p.mu.Unlock()
	if warn {
		p.logger.Debug().Int("misses", misses).Msg("state point cache miss threshold exceeded; consider persisting the cache to disk with Project.WriteCache")
	}
	return job.Open(p.workspaceDir, p, id), nil
}

// LoadCache reads the gzip-compressed persistent SP cache into
// memory, merging with whatever is already cached.
func (p *Project) LoadCache() error {
	path := filepath.Join(p.root, config.ConfigDirName, cacheFileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &signacerr.WorkspaceError{Path: path, Cause: err}
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return &signacerr.WorkspaceError{Path: path, Cause: err}
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return &signacerr.WorkspaceError{Path: path, Cause: err}
	}
	if len(raw) == 0 {
		return nil
	}
	decoded, err := decodeNumberPreserving(raw)
	if err != nil {
		return &signacerr.WorkspaceError{Path: path, Cause: err}
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		return &signacerr.WorkspaceError{Path: path, Cause: fmt.Errorf("cache file is not a JSON object")}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, v := range m {
		if sp, ok := v.(map[string]any); ok {
			p.cache[id] = sp
		}
	}
	return nil
}

// WriteCache persists the in-memory SP cache to
// .signac/statepoint_cache.json.gz, gzip-compressed JSON, atomically.
func (p *Project) WriteCache() error {
	p.mu.Lock()
	snapshot := make(map[string]map[string]any, len(p.cache))
	for id, sp := range p.cache {
		snapshot[id] = sp
	}
	p.mu.Unlock()

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}

	dir := filepath.Join(p.root, config.ConfigDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &signacerr.WorkspaceError{Path: dir, Cause: err}
	}
	path := filepath.Join(dir, cacheFileName)
	tmp, err := os.CreateTemp(dir, ".cache-*.tmp")
	if err != nil {
		return &signacerr.WorkspaceError{Path: path, Cause: err}
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &signacerr.WorkspaceError{Path: path, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &signacerr.WorkspaceError{Path: path, Cause: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return &signacerr.WorkspaceError{Path: path, Cause: err}
	}
	return nil
}

// warmCache fills in any id present on disk but missing from the
// in-memory cache, the step FindJobs/AllIDs/Schema take before
// building a view over every job in the workspace.
func (p *Project) warmCache() error {
	entries, err := os.ReadDir(p.workspaceDir)
	if err != nil {
		return &signacerr.WorkspaceError{Path: p.workspaceDir, Cause: err}
	}
	for _, e := range entries {
		if !e.IsDir() || !jobIDPattern.MatchString(e.Name()) {
			continue
		}
		id := e.Name()
		p.mu.Lock()
		_, ok := p.cache[id]
		p.mu.Unlock()
		if ok {
			continue
		}
		sp, err := readStatePointFile(filepath.Join(p.workspaceDir, id, "signac_statepoint.json"))
		if err != nil {
			continue // surfaced by Check/Repair, not here
		}
		p.CacheSP(id, sp)
	}
	return nil
}

// searchStore returns a search.Store built on demand from the SP cache
// plus each job's document (spec §4.5): every id maps to
// {"sp": <state point>, "doc": <document>}, so a dotted filter or
// group key rooted at "sp." or "doc." resolves into the matching
// namespace; see namespacedKey for how a bare key defaults to "sp.".
func (p *Project) searchStore() search.Store {
	p.mu.Lock()
	sps := make(map[string]map[string]any, len(p.cache))
	for id, sp := range p.cache {
		sps[id] = sp
	}
	p.mu.Unlock()

	store := make(search.Store, len(sps))
	for id, sp := range sps {
		doc, err := readDocumentFile(filepath.Join(p.workspaceDir, id, jobDocName))
		if err != nil {
			doc = map[string]any{}
		}
		store[id] = map[string]any{"sp": sp, "doc": doc}
	}
	return store
}

// readDocumentFile reads a job's document file, treating a missing
// file as an empty document since a document is always optional.
func readDocumentFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	v, err := decodeNumberPreserving(raw)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s does not decode to a JSON object", path)
	}
	return doc, nil
}

// AllIDs returns every job id currently in the workspace.
func (p *Project) AllIDs() ([]string, error) {
	if err := p.warmCache(); err != nil {
		return nil, err
	}
	ids := make([]string, 0)
	p.mu.Lock()
	for id := range p.cache {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	sort.Strings(ids)
	return ids, nil
}

func readStatePointFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := decodeNumberPreserving(raw)
	if err != nil {
		return nil, err
	}
	sp, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s does not decode to a JSON object", path)
	}
	return sp, nil
}

// decodeNumberPreserving decodes JSON using json.Number so that
// integer-written and decimal-written numbers stay distinguishable as
// int64 vs float64 — the distinction SearchIndex's numeric-duplication
// rule (spec §9) depends on. syncedjson.Document intentionally does
// not do this (general mutation only needs float64); this decode is
// used for the project's own reads: the SP cache, the job documents in
// the search store, imported state points, and DecodeStatePoint.
func decodeNumberPreserving(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return convertNumbers(v), nil
}

// DecodeStatePoint parses a state point from JSON text, preserving the
// int64/float64 distinction the same way the on-disk cache does, for
// callers (e.g. the CLI) that accept a state point as a JSON argument.
func DecodeStatePoint(raw []byte) (map[string]any, error) {
	v, err := decodeNumberPreserving(raw)
	if err != nil {
		return nil, err
	}
	sp, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("state point must decode to a JSON object")
	}
	return sp, nil
}

func convertNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		s := t.String()
		for _, c := range s {
			if c == '.' || c == 'e' || c == 'E' {
				f, _ := t.Float64()
				return f
			}
		}
		i, err := t.Int64()
		if err != nil {
			f, _ := t.Float64()
			return f
		}
		return i
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = convertNumbers(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = convertNumbers(vv)
		}
		return out
	default:
		return t
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return t
	}
}

// Hash is a small re-export so callers building tooling around
// Project don't need a separate import for the common case of hashing
// a state point by hand.
func Hash(sp map[string]any) (string, error) { return hash.ID(sp) }
