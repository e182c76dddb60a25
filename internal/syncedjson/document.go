// Package syncedjson implements the dict/list-like value object
// backed by a JSON file described in spec §4.3 (component C3): reads
// load before returning, mutations validate then apply in memory then
// save, and saves are routed through the process buffer (component
// C4) when a buffered region is active.
package syncedjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/signac-project/signac/internal/buffer"
	"github.com/signac-project/signac/internal/signaclog"
)

func init() {
	buffer.SetWriter(atomicWrite)
}

// Document is the root of a synced JSON value: either a mapping
// ({}-rooted) or a non-string sequence ([]-rooted). Only the root
// persists; nested values are addressed through Cursor and always
// forward load/save to their root (spec §9 "lazy sub-collections").
type Document struct {
	path         string
	validators   []Validator
	data         any
	loaded       bool
	writeConcern bool
	logger       zerolog.Logger
	beforeSave   func() error
}

// Option configures a new Document.
type Option func(*Document)

// WithValidators overrides the default validator chain.
func WithValidators(v ...Validator) Option {
	return func(d *Document) { d.validators = v }
}

// WithWriteConcern records a write-concern flag on the Document. The
// flag does not change how saves are written: unbuffered writes always
// go through the atomic-replace path, and buffered writes go to the
// buffer, whatever its value.
func WithWriteConcern(on bool) Option {
	return func(d *Document) { d.writeConcern = on }
}

// NewMapping creates a Document rooted at a mapping, seeded empty.
func NewMapping(path string, opts ...Option) *Document {
	d := newDocument(path, map[string]any{}, opts...)
	return d
}

// NewSequence creates a Document rooted at a sequence, seeded empty.
func NewSequence(path string, opts ...Option) *Document {
	return newDocument(path, []any{}, opts...)
}

func newDocument(path string, zero any, opts ...Option) *Document {
	d := &Document{
		path:   path,
		data:   zero,
		logger: signaclog.Logger("syncedjson"),
	}
	d.validators = DefaultValidators(d.logger)
	for _, o := range opts {
		o(d)
	}
	return d
}

// Path returns the backing file's absolute path.
func (d *Document) Path() string { return d.path }

// SetPath repoints the document at a new backing file, used by
// component C6 (StatePoint) after an identity-changing rename moves
// the job directory out from under an already-open document.
func (d *Document) SetPath(path string) { d.path = path }

// Peek returns the document's current in-memory value without
// loading or locking. It is only safe to call from inside a
// BeforeSave hook, where the caller's goroutine already holds the
// load/save lock for this path.
func (d *Document) Peek() any { return d.data }

// SetBeforeSave installs a hook run inside the mutating critical
// section, after the pending mutation has been applied to d.data but
// before it is marshaled and written. Returning an error aborts the
// save. Used by StatePoint to trigger its rename-on-mutation
// contract at the exact moment the new id is known.
func (d *Document) SetBeforeSave(fn func() error) { d.beforeSave = fn }

// Root returns a Cursor addressing the document's top-level value.
func (d *Document) Root() *Cursor { return &Cursor{doc: d} }

// EnsureLoaded loads from disk (or the buffer) if this Document has
// never been loaded. Safe to call repeatedly.
func (d *Document) EnsureLoaded() error {
	lock := lockFor(d.path)
	lock.Lock()
	defer lock.Unlock()
	return d.loadLocked()
}

func (d *Document) loadLocked() error {
	if d.loaded {
		return nil
	}
	return d.readInto()
}

// readInto always re-reads from buffer-or-disk into d.data; loadLocked
// calls it for the first load.
func (d *Document) readInto() error {
	var raw []byte
	if buffered, ok := buffer.Load(d.path); ok {
		raw = buffered
	} else {
		data, err := os.ReadFile(d.path)
		if err != nil {
			if os.IsNotExist(err) {
				d.loaded = true
				return nil
			}
			return fmt.Errorf("read %s: %w", d.path, err)
		}
		raw = data
	}
	if len(raw) == 0 {
		d.loaded = true
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode %s: %w", d.path, err)
	}
	d.data = v
	d.loaded = true
	return nil
}

// saveLocked serializes d.data and writes it through the buffer (if a
// buffered region is active) or directly via atomic replace.
func (d *Document) saveLocked() error {
	if d.beforeSave != nil {
		if err := d.beforeSave(); err != nil {
			return err
		}
	}
	raw, err := json.Marshal(d.data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.path, err)
	}
	if buffer.Active() {
		return buffer.Save(d.path, raw)
	}
	return atomicWrite(d.path, raw)
}

// loadAndSave is the mutating-path critical section: load, run fn
// against d.data, then save. fn mutates d.data in place (or returns an
// error, in which case nothing is saved).
func (d *Document) loadAndSave(fn func() error) error {
	lock := lockFor(d.path)
	lock.Lock()
	defer lock.Unlock()

	if err := d.loadLocked(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return d.saveLocked()
}

// validate runs the validator chain over a candidate value and
// returns its (possibly key-coerced) normalized form.
func (d *Document) validate(v any) (any, error) {
	cur := v
	var err error
	for _, validator := range d.validators {
		cur, err = validator(cur)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// atomicWrite writes data to a sibling temp file named
// ._<uuid>_<basename> in the same directory, then renames it onto
// path — the atomic-replace discipline spec §5 mandates for every
// persistent JSON resource.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmpName := fmt.Sprintf("._%s_%s", uuid.New().String(), filepath.Base(path))
	tmpPath := filepath.Join(dir, tmpName)

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
