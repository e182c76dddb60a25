// Package signacerr defines the stable error kinds raised across the
// signac core, one exported type per kind in spec §7 so callers can
// use errors.As against a concrete type instead of a string code.
package signacerr

import (
	"fmt"
	"strings"
)

// ConfigError reports an unreadable or malformed project config.
type ConfigError struct {
	Path  string
	Cause error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error at %s: %v", e.Path, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// IncompatibleSchemaVersion reports an on-disk schema the build does
// not understand, or an older schema the caller refused to migrate.
type IncompatibleSchemaVersion struct {
	Found    int
	Expected int
}

func (e *IncompatibleSchemaVersion) Error() string {
	return fmt.Sprintf("incompatible schema version: found %d, this build expects %d", e.Found, e.Expected)
}

// InvalidKeyError reports a mapping key containing '.' in a context
// that forbids it.
type InvalidKeyError struct {
	Key string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid key %q: keys must not contain '.'", e.Key)
}

// KeyTypeError reports a mapping key of unsupported type.
type KeyTypeError struct {
	Key any
}

func (e *KeyTypeError) Error() string {
	return fmt.Sprintf("invalid key type %T for key %v", e.Key, e.Key)
}

// DestinationExistsError reports a rename that would clobber an
// existing job directory.
type DestinationExistsError struct {
	Path string
}

func (e *DestinationExistsError) Error() string {
	return fmt.Sprintf("destination already exists: %s", e.Path)
}

// JobsCorruptedError collects ids that failed an integrity check.
type JobsCorruptedError struct {
	IDs []string
}

func (e *JobsCorruptedError) Error() string {
	return fmt.Sprintf("%d job(s) failed integrity check: %s", len(e.IDs), strings.Join(e.IDs, ", "))
}

// WorkspaceError reports a missing or broken workspace directory.
type WorkspaceError struct {
	Path  string
	Cause error
}

func (e *WorkspaceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("workspace error at %s: %v", e.Path, e.Cause)
	}
	return fmt.Sprintf("workspace error at %s", e.Path)
}

func (e *WorkspaceError) Unwrap() error { return e.Cause }

// FileSyncConflict reports a file present and differing on both sides
// of a sync with no strategy able to resolve it.
type FileSyncConflict struct {
	Path string
}

func (e *FileSyncConflict) Error() string {
	return fmt.Sprintf("unresolved file conflict: %s", e.Path)
}

// DocumentSyncConflict reports document keys a sync could not merge.
type DocumentSyncConflict struct {
	Keys []string
}

func (e *DocumentSyncConflict) Error() string {
	return fmt.Sprintf("unresolved document key conflict: %s", strings.Join(e.Keys, ", "))
}

// SchemaSyncConflict reports source and destination schemas that
// disagree when a sync required them to match.
type SchemaSyncConflict struct {
	Source      string
	Destination string
}

func (e *SchemaSyncConflict) Error() string {
	return fmt.Sprintf("schema mismatch between %s and %s", e.Source, e.Destination)
}

// BufferException reports a buffer contract violation, such as
// weakening force_write while nested.
type BufferException struct {
	Reason string
}

func (e *BufferException) Error() string {
	return fmt.Sprintf("buffer contract violation: %s", e.Reason)
}

// BufferedFileError aggregates flush failures, one reason per path.
type BufferedFileError struct {
	Reasons map[string]error
}

func (e *BufferedFileError) Error() string {
	parts := make([]string, 0, len(e.Reasons))
	for path, cause := range e.Reasons {
		parts = append(parts, fmt.Sprintf("%s: %v", path, cause))
	}
	return fmt.Sprintf("buffer flush failed for %d file(s): %s", len(e.Reasons), strings.Join(parts, "; "))
}

// FetchError reports a referenced blob that cannot be produced.
type FetchError struct {
	Path  string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error for %s: %v", e.Path, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }
