// Package job implements components C6 (StatePoint) and C7 (Job): a
// workspace entry addressed by a content-derived id, with a state
// point whose mutation triggers an atomic directory rename and a
// freely mutable document, both backed by syncedjson.Document.
package job

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/signac-project/signac/internal/hash"
	"github.com/signac-project/signac/internal/signacerr"
	"github.com/signac-project/signac/internal/syncedjson"
)

const (
	statePointFile = "signac_statepoint.json"
	documentFile   = "signac_job_document.json"
)

// Registry is the back-reference a Job uses to keep a project's
// state-point cache in step with an identity-changing rename (spec
// §4.6). Project implements it. Job never imports internal/project —
// the relation is a non-owning handle per spec §9's note on the only
// potentially cyclic relation in the system.
type Registry interface {
	CacheSP(id string, sp map[string]any)
	DropSP(id string)
}

// Job is one workspace entry: a lazily materialized directory plus
// lazily materialized SyncedJSON handles for its state point and
// document (spec §4.7).
type Job struct {
	mu        sync.Mutex
	workspace string
	registry  Registry
	id        string
	pending   map[string]any // seed SP, consumed on first materialization
	sp        *syncedjson.Document
	doc       *syncedjson.Document
}

// New constructs an in-memory Job for sp, whose id is derived
// immediately but whose directory is not created until Init or the
// first access to StatePoint/Document (spec: "open_job(SP) (in-memory
// only)").
func New(workspace string, registry Registry, sp map[string]any) (*Job, error) {
	id, err := hash.ID(sp)
	if err != nil {
		return nil, err
	}
	return &Job{workspace: workspace, registry: registry, id: id, pending: deepCopyMap(sp)}, nil
}

// Open reconstructs a Job for a known id without a state point seed —
// the path taken when a caller already has the id (e.g. from
// iteration or JobsCursor) and the SP must be loaded, and verified
// against id, from disk on first materialization.
func Open(workspace string, registry Registry, id string) *Job {
	return &Job{workspace: workspace, registry: registry, id: id}
}

// OpenWithSP reconstructs a Job for a known id using an SP already
// trusted from the project's cache, skipping the disk-verified load
// (spec §4.6: "seeded from the cache").
func OpenWithSP(workspace string, registry Registry, id string, sp map[string]any) *Job {
	return &Job{workspace: workspace, registry: registry, id: id, pending: deepCopyMap(sp)}
}

// ID returns the job's current 32-character hex id. It changes across
// an SP mutation that alters the canonical hash.
func (j *Job) ID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.id
}

// Path returns the job's current workspace directory.
func (j *Job) Path() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dir()
}

func (j *Job) dir() string { return filepath.Join(j.workspace, j.id) }

// StatePoint returns a Cursor over the job's state point, materializing
// the job directory and SP file on first access.
func (j *Job) StatePoint() (*syncedjson.Cursor, error) {
	if err := j.ensureInitialized(); err != nil {
		return nil, err
	}
	return j.sp.Root(), nil
}

// Document returns a Cursor over the job's freely mutable document,
// materializing the job directory on first access.
func (j *Job) Document() (*syncedjson.Cursor, error) {
	if err := j.ensureInitialized(); err != nil {
		return nil, err
	}
	return j.doc.Root(), nil
}

func (j *Job) ensureInitialized() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.sp != nil {
		return nil
	}
	return j.initLocked(false)
}

// Init ensures the job directory exists and the SP file is present
// and valid; it is idempotent. force re-writes the SP file from the
// in-memory seed (or current value) even if one is already on disk.
func (j *Job) Init(force bool) (*Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.initLocked(force); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Job) initLocked(force bool) error {
	dir := j.dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &signacerr.WorkspaceError{Path: dir, Cause: err}
	}

	spPath := filepath.Join(dir, statePointFile)
	_, statErr := os.Stat(spPath)
	alreadyOnDisk := statErr == nil

	if j.sp == nil {
		j.sp = syncedjson.NewMapping(spPath)
		j.sp.SetBeforeSave(j.beforeSaveSP)
		j.doc = syncedjson.NewMapping(filepath.Join(dir, documentFile))
	}

	switch {
	case !alreadyOnDisk || force:
		seed := j.pending
		if seed == nil && alreadyOnDisk {
			if err := j.sp.EnsureLoaded(); err != nil {
				return err
			}
			if v, err := j.sp.Root().Call(); err == nil {
				if m, ok := v.(map[string]any); ok {
					seed = m
				}
			}
		}
		if seed == nil {
			seed = map[string]any{}
		}
		if err := j.sp.Root().Reset(seed); err != nil {
			return err
		}
	default:
		if err := j.sp.EnsureLoaded(); err != nil {
			return err
		}
		if j.pending == nil {
			// Opened by id alone: verify the loaded SP actually hashes
			// to this job's id (spec §4.6 verified-load semantics).
			v, err := j.sp.Root().Call()
			if err != nil {
				return err
			}
			sp, ok := v.(map[string]any)
			if !ok {
				return &signacerr.JobsCorruptedError{IDs: []string{j.id}}
			}
			got, err := hash.ID(sp)
			if err != nil {
				return err
			}
			if got != j.id {
				return &signacerr.JobsCorruptedError{IDs: []string{j.id}}
			}
		}
	}
	j.pending = nil

	if j.registry != nil {
		if v, err := j.sp.Root().Call(); err == nil {
			if m, ok := v.(map[string]any); ok {
				j.registry.CacheSP(j.id, m)
			}
		}
	}
	return nil
}

// beforeSaveSP implements the C6 rename-on-mutation contract: it runs
// inside the SP document's own save critical section, after the
// pending mutation lands in memory but before it is written to disk.
func (j *Job) beforeSaveSP() error {
	v := j.sp.Peek()
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("state point must encode to a JSON object, got %T", v)
	}
	newID, err := hash.ID(m)
	if err != nil {
		return err
	}
	if newID == j.id {
		return nil
	}

	oldDir := j.dir()
	newDir := filepath.Join(j.workspace, newID)
	if _, err := os.Stat(newDir); err == nil {
		return &signacerr.DestinationExistsError{Path: newDir}
	}
	if err := os.Rename(oldDir, newDir); err != nil {
		if errors.Is(err, syscall.EXDEV) {
			return fmt.Errorf("cannot rename %s to %s: state point rename does not move data across devices", oldDir, newDir)
		}
		return fmt.Errorf("rename %s to %s: %w", oldDir, newDir, err)
	}

	oldID := j.id
	j.id = newID
	j.sp.SetPath(filepath.Join(newDir, statePointFile))
	j.doc.SetPath(filepath.Join(newDir, documentFile))
	if j.registry != nil {
		j.registry.DropSP(oldID)
		j.registry.CacheSP(newID, m)
	}
	return nil
}

// Clear removes every file inside the job directory except the SP
// and document files, and empties the document.
func (j *Job) Clear() error {
	if err := j.ensureInitialized(); err != nil {
		return err
	}
	j.mu.Lock()
	dir := j.dir()
	j.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return &signacerr.WorkspaceError{Path: dir, Cause: err}
	}
	for _, e := range entries {
		name := e.Name()
		if name == statePointFile || name == documentFile {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return &signacerr.WorkspaceError{Path: filepath.Join(dir, name), Cause: err}
		}
	}
	return j.doc.Root().Reset(map[string]any{})
}

// Reset is Clear followed by Init (spec law: "clear; init is
// equivalent to reset").
func (j *Job) Reset() error {
	if err := j.Clear(); err != nil {
		return err
	}
	_, err := j.Init(false)
	return err
}

// Remove recursively deletes the job directory and invalidates all
// handles on this Job.
func (j *Job) Remove() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	dir := j.dir()
	if err := os.RemoveAll(dir); err != nil {
		return &signacerr.WorkspaceError{Path: dir, Cause: err}
	}
	if j.registry != nil {
		j.registry.DropSP(j.id)
	}
	j.sp = nil
	j.doc = nil
	return nil
}

// Move atomically renames this job's directory into another
// project's workspace (same device), refusing if the target id
// already exists there.
func (j *Job) Move(destWorkspace string, destRegistry Registry) error {
	if err := j.ensureInitialized(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	destDir := filepath.Join(destWorkspace, j.id)
	if _, err := os.Stat(destDir); err == nil {
		return &signacerr.DestinationExistsError{Path: destDir}
	}
	if err := os.Rename(j.dir(), destDir); err != nil {
		return fmt.Errorf("move %s to %s: %w", j.dir(), destDir, err)
	}
	if j.registry != nil {
		j.registry.DropSP(j.id)
	}
	j.workspace = destWorkspace
	j.registry = destRegistry
	j.sp.SetPath(filepath.Join(destDir, statePointFile))
	j.doc.SetPath(filepath.Join(destDir, documentFile))
	if j.registry != nil {
		if v, err := j.sp.Root().Call(); err == nil {
			if m, ok := v.(map[string]any); ok {
				j.registry.CacheSP(j.id, m)
			}
		}
	}
	return nil
}

// Fn returns the absolute path of name inside the job directory,
// materializing the directory first.
func (j *Job) Fn(name string) (string, error) {
	if err := j.ensureInitialized(); err != nil {
		return "", err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return filepath.Join(j.dir(), name), nil
}

// Isfile reports whether name exists as a regular file inside the job
// directory.
func (j *Job) Isfile(name string) (bool, error) {
	path, err := j.Fn(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// Open initializes the job with Init(false) and changes the process
// working directory into it. For a job opened by id alone, that Init
// also verifies the on-disk state point against the id and fails with
// JobsCorruptedError on a mismatch; the verification is not skipped
// here. It returns a close function that
// restores the previous working directory. Prefer WithinJob, which
// guarantees restoration on every exit path.
func (j *Job) Open() (func() error, error) {
	if _, err := j.Init(false); err != nil {
		return nil, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if err := os.Chdir(j.Path()); err != nil {
		return nil, err
	}
	return func() error { return os.Chdir(cwd) }, nil
}

// WithinJob runs fn with the working directory scoped to the job,
// restoring the previous working directory on every exit path
// including a panic unwinding through fn.
func (j *Job) WithinJob(fn func() error) error {
	closeFn, err := j.Open()
	if err != nil {
		return err
	}
	defer closeFn()
	return fn()
}

// Equal reports whether two Jobs address the same job: equal ids and
// equal real (symlink-resolved) directory paths.
func (j *Job) Equal(other *Job) bool {
	if other == nil {
		return false
	}
	if j.ID() != other.ID() {
		return false
	}
	ra, errA := filepath.EvalSymlinks(j.Path())
	rb, errB := filepath.EvalSymlinks(other.Path())
	if errA != nil || errB != nil {
		return j.Path() == other.Path()
	}
	return ra == rb
}

// HashKey returns the job's id, suitable as a map key for callers that
// want Job-keyed collections (Go equality on the id is sufficient
// since spec invariant I3 forbids id collisions among initialized
// jobs).
func (j *Job) HashKey() string { return j.id }

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
