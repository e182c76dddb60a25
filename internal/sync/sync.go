// Package sync implements component C10: one-way merge of every job
// in a source project into a destination project, with pluggable
// per-file and per-document conflict resolution.
package sync

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/signac-project/signac/internal/job"
	"github.com/signac-project/signac/internal/signaclog"
	"github.com/signac-project/signac/internal/signacerr"
)

// FileStrategy decides whether the source's copy of a file present on
// both sides (and differing) should overwrite the destination's.
// Inputs are the absolute source and destination file paths.
type FileStrategy func(srcPath, dstPath, relName string) (bool, error)

// Always always takes the source's copy.
func Always(string, string, string) (bool, error) { return true, nil }

// Never always keeps the destination's copy.
func Never(string, string, string) (bool, error) { return false, nil }

// ByTimestamp takes the source's copy iff it is strictly newer.
func ByTimestamp(srcPath, dstPath, _ string) (bool, error) {
	si, err := os.Stat(srcPath)
	if err != nil {
		return false, err
	}
	di, err := os.Stat(dstPath)
	if err != nil {
		return false, err
	}
	return si.ModTime().After(di.ModTime()), nil
}

// Ask is an interactive strategy: it delegates to prompt and caches
// the answer per basename so a later file with the same name in the
// same sync run isn't asked twice.
func Ask(prompt func(relName string) (bool, error)) FileStrategy {
	cache := map[string]bool{}
	return func(_, _, relName string) (bool, error) {
		base := filepath.Base(relName)
		if v, ok := cache[base]; ok {
			return v, nil
		}
		v, err := prompt(relName)
		if err != nil {
			return false, err
		}
		cache[base] = v
		return v, nil
	}
}

// DocStrategy merges the job document during a sync.
type DocStrategy int

const (
	// NoSync leaves the destination document untouched.
	NoSync DocStrategy = iota
	// Update overwrites the destination document with the source's.
	Update
	// Copy treats the document file like any other job file, subject
	// to the same FileStrategy as everything else.
	Copy
	// ByKey overwrites only keys accepted by a supplied predicate.
	ByKey
)

// Options configures one Sync call.
type Options struct {
	FileStrategy       FileStrategy // nil defaults to Never, the conservative "raise on conflict" behavior
	DocStrategy        DocStrategy
	DocKeyFilter       func(key string) bool // required when DocStrategy == ByKey
	Exclude            *regexp.Regexp
	ExcludeNames       map[string]bool
	SelectIDs          map[string]bool // nil means sync every job
	RequireSchemaMatch bool            // if true, refuse to sync when src/dst schemas disagree
	DryRun             bool
	Logger             zerolog.Logger
}

// SchemaSource is implemented by a Project that can report its own
// schema, used only when Options.RequireSchemaMatch is set.
type SchemaSource interface {
	Schema(ids []string, excludeConstant bool) (map[string]map[string][]any, error)
}

func (o Options) excluded(name string) bool {
	if o.ExcludeNames != nil && o.ExcludeNames[name] {
		return true
	}
	if o.Exclude != nil && o.Exclude.MatchString(name) {
		return true
	}
	return false
}

// Project is the minimal surface Sync needs from a project: iterate
// every job id and open it. internal/project.Project satisfies this.
type Project interface {
	AllIDs() ([]string, error)
	OpenJobByID(id string) (*job.Job, error)
}

// Sync merges every job of src into dst according to opts.
func Sync(src, dst Project, opts Options) error {
	if reflect.DeepEqual(opts.Logger, zerolog.Logger{}) {
		opts.Logger = signaclog.Logger("sync")
	}
	if opts.FileStrategy == nil {
		opts.FileStrategy = Never
	}

	ids, err := src.AllIDs()
	if err != nil {
		return err
	}

	if opts.RequireSchemaMatch {
		if err := checkSchemaMatch(src, dst, ids); err != nil {
			return err
		}
	}

	for _, id := range ids {
		if opts.SelectIDs != nil && !opts.SelectIDs[id] {
			continue
		}
		srcJob, err := src.OpenJobByID(id)
		if err != nil {
			return err
		}
		if _, err := srcJob.StatePoint(); err != nil {
			return err
		}
		dstJob, err := dst.OpenJobByID(id)
		if err != nil {
			return err
		}

		dstExists := dirExists(dstJob.Path())
		if !dstExists {
			if err := cloneJob(srcJob, dstJob, opts); err != nil {
				return err
			}
			continue
		}
		if err := mergeJob(srcJob, dstJob, opts); err != nil {
			return err
		}
	}
	return nil
}

// checkSchemaMatch compares the set of dotted keys present in src and
// dst, ignoring the per-key value/type detail, and fails with a
// SchemaSyncConflict on any disagreement. Both sides must implement
// SchemaSource; a project that doesn't is treated as matching, since
// there is nothing to compare against.
func checkSchemaMatch(src, dst Project, ids []string) error {
	ss, ok1 := src.(SchemaSource)
	ds, ok2 := dst.(SchemaSource)
	if !ok1 || !ok2 {
		return nil
	}
	srcSchema, err := ss.Schema(ids, false)
	if err != nil {
		return err
	}
	dstIDs, err := dst.AllIDs()
	if err != nil {
		return err
	}
	dstSchema, err := ds.Schema(dstIDs, false)
	if err != nil {
		return err
	}
	if len(dstSchema) == 0 {
		return nil // empty destination project never conflicts
	}
	for key := range srcSchema {
		if _, ok := dstSchema[key]; !ok {
			return &signacerr.SchemaSyncConflict{Source: "has key " + key, Destination: "missing key " + key}
		}
	}
	for key := range dstSchema {
		if _, ok := srcSchema[key]; !ok {
			return &signacerr.SchemaSyncConflict{Source: "missing key " + key, Destination: "has key " + key}
		}
	}
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func cloneJob(srcJob, dstJob *job.Job, opts Options) error {
	if opts.DryRun {
		opts.Logger.Info().Str("job", srcJob.ID()).Msg("dry-run: would clone job directory")
		return nil
	}
	// Create the bare directory only: the walk below copies the
	// source's state point file into it. Initializing dstJob here
	// (opened by id, with no state point seed) would write an empty
	// state point and rename the directory away from the source id.
	if err := os.MkdirAll(dstJob.Path(), 0o755); err != nil {
		return &signacerr.WorkspaceError{Path: dstJob.Path(), Cause: err}
	}
	return filepath.WalkDir(srcJob.Path(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcJob.Path(), path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if opts.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		dstPath := filepath.Join(dstJob.Path(), rel)
		if d.IsDir() {
			return os.MkdirAll(dstPath, 0o755)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(dstPath, content, 0o644)
	})
}

func mergeJob(srcJob, dstJob *job.Job, opts Options) error {
	entries, err := os.ReadDir(srcJob.Path())
	if err != nil {
		return &signacerr.WorkspaceError{Path: srcJob.Path(), Cause: err}
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if name == "signac_job_document.json" {
			if err := mergeDocument(srcJob, dstJob, opts); err != nil {
				return err
			}
			continue
		}
		if name == "signac_statepoint.json" {
			continue // identity is already synchronized by matching ids
		}
		if opts.excluded(name) {
			continue
		}
		if err := mergeFile(srcJob, dstJob, name, opts); err != nil {
			return err
		}
	}
	return nil
}

func mergeFile(srcJob, dstJob *job.Job, name string, opts Options) error {
	srcPath := filepath.Join(srcJob.Path(), name)
	dstPath := filepath.Join(dstJob.Path(), name)

	if _, err := os.Stat(dstPath); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		return writeFile(srcPath, dstPath, opts)
	}

	same, err := filesEqual(srcPath, dstPath)
	if err != nil {
		return err
	}
	if same {
		return nil
	}

	take, err := opts.FileStrategy(srcPath, dstPath, name)
	if err != nil {
		return err
	}
	if !take {
		return &signacerr.FileSyncConflict{Path: name}
	}
	return writeFile(srcPath, dstPath, opts)
}

func writeFile(srcPath, dstPath string, opts Options) error {
	if opts.DryRun {
		opts.Logger.Info().Str("src", srcPath).Str("dst", dstPath).Msg("dry-run: would copy file")
		return nil
	}
	content, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	return os.WriteFile(dstPath, content, 0o644)
}

func filesEqual(a, b string) (bool, error) {
	ca, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	cb, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	if len(ca) != len(cb) {
		return false, nil
	}
	for i := range ca {
		if ca[i] != cb[i] {
			return false, nil
		}
	}
	return true, nil
}

func mergeDocument(srcJob, dstJob *job.Job, opts Options) error {
	switch opts.DocStrategy {
	case NoSync:
		return nil
	case Copy:
		return mergeFile(srcJob, dstJob, "signac_job_document.json", opts)
	case Update:
		srcDoc, err := srcJob.Document()
		if err != nil {
			return err
		}
		dstDoc, err := dstJob.Document()
		if err != nil {
			return err
		}
		v, err := srcDoc.Call()
		if err != nil {
			return err
		}
		if opts.DryRun {
			opts.Logger.Info().Str("job", dstJob.ID()).Msg("dry-run: would overwrite document")
			return nil
		}
		return dstDoc.Reset(v)
	case ByKey:
		return mergeDocumentByKey(srcJob, dstJob, opts)
	default:
		return fmt.Errorf("unknown document sync strategy %v", opts.DocStrategy)
	}
}

func mergeDocumentByKey(srcJob, dstJob *job.Job, opts Options) error {
	srcDoc, err := srcJob.Document()
	if err != nil {
		return err
	}
	dstDoc, err := dstJob.Document()
	if err != nil {
		return err
	}
	srcVal, err := srcDoc.Call()
	if err != nil {
		return err
	}
	srcMap, ok := srcVal.(map[string]any)
	if !ok {
		return fmt.Errorf("source document is not a JSON object")
	}

	var skipped []string
	for key, v := range srcMap {
		if opts.DocKeyFilter == nil || !opts.DocKeyFilter(key) {
			skipped = append(skipped, key)
			continue
		}
		if opts.DryRun {
			opts.Logger.Info().Str("job", dstJob.ID()).Str("key", key).Msg("dry-run: would set document key")
			continue
		}
		if err := dstDoc.Set(key, v); err != nil {
			return err
		}
	}
	if opts.DocKeyFilter == nil && len(skipped) > 0 {
		return &signacerr.DocumentSyncConflict{Keys: skipped}
	}
	return nil
}
