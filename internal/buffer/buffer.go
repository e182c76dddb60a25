// Package buffer implements the process-wide, capacity-bounded,
// integrity-checked write-back buffer for synced JSON files (spec
// §4.4, component C4). It is intentional global state (spec §9
// "Global state"): one singleton per process, guarded by one lock,
// exposed through package-level functions rather than an instance a
// caller could accidentally duplicate.
package buffer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/signac-project/signac/internal/signacerr"
	"github.com/signac-project/signac/internal/signaclog"
)

const defaultCapacity = 32 << 20 // 32 MiB, spec default

var log = signaclog.Logger("buffer")

type entry struct {
	contents    []byte
	baselineSum string
	size        int64
	modTime     int64
}

type state struct {
	mu       sync.Mutex
	entries  map[string]*entry
	size     int64
	capacity int64
	depth    int  // nesting depth of Buffered regions on this process
	force    bool // current region's force_write flag
}

var global = &state{
	entries:  make(map[string]*entry),
	capacity: defaultCapacity,
}

// SetCapacity overrides the default 32 MiB capacity. Intended for
// tests and for a project reading a configured override.
func SetCapacity(bytes int64) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.capacity = bytes
}

// Active reports whether a buffered region is currently entered on
// this process.
func Active() bool {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.depth > 0
}

// Buffered enters a buffered region for the duration of fn, flushing
// on normal exit. Nested calls must not weaken an outer force_write=true
// into force_write=false (spec §4.4); violating that nesting rule
// raises BufferException without running fn.
func Buffered(forceWrite bool, fn func() error) error {
	global.mu.Lock()
	if global.depth > 0 && global.force && !forceWrite {
		global.mu.Unlock()
		return &signacerr.BufferException{Reason: "cannot enter buffered(force_write=false) inside an outer force_write=true region"}
	}
	prevForce := global.force
	global.depth++
	global.force = global.force || forceWrite
	global.mu.Unlock()

	fnErr := fn()

	global.mu.Lock()
	global.depth--
	top := global.depth == 0
	if top {
		global.force = false
	} else {
		global.force = prevForce
	}
	global.mu.Unlock()

	if !top {
		return fnErr
	}
	if flushErr := Flush(); flushErr != nil {
		if fnErr != nil {
			return fmt.Errorf("%w (while handling: %v)", flushErr, fnErr)
		}
		return flushErr
	}
	return fnErr
}

// Load returns the buffered contents for path if present.
func Load(path string) ([]byte, bool) {
	global.mu.Lock()
	defer global.mu.Unlock()
	e, ok := global.entries[path]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(e.contents))
	copy(out, e.contents)
	return out, true
}

// Save stages contents for path, materializing a baseline against the
// current on-disk state the first time the path is touched, and
// triggering a capacity-bound flush if needed.
func Save(path string, contents []byte) error {
	global.mu.Lock()
	e, existed := global.entries[path]
	if !existed {
		baseline, size, modTime := captureBaseline(path)
		e = &entry{baselineSum: baseline, size: size, modTime: modTime}
		global.entries[path] = e
		global.size += int64(len(contents))
	} else {
		global.size += int64(len(contents)) - int64(len(e.contents))
	}
	e.contents = contents
	over := global.size > global.capacity
	global.mu.Unlock()

	if over {
		return Flush()
	}
	return nil
}

func captureBaseline(path string) (sum string, size int64, modTime int64) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, 0
	}
	fi, statErr := os.Stat(path)
	if statErr == nil {
		size, modTime = fi.Size(), fi.ModTime().UnixNano()
	}
	sum = sha256Hex(data)
	return sum, size, modTime
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writer is the atomic-replace primitive the buffer flushes through;
// it is the same discipline syncedjson.Document uses directly when
// unbuffered, injected here to avoid an import cycle.
var writer func(path string, data []byte) error

// SetWriter installs the atomic file writer used on flush. Called once
// at process init by the syncedjson package.
func SetWriter(w func(path string, data []byte) error) {
	writer = w
}

// Flush writes every modified entry through the atomic-replace
// discipline and evicts it, verifying no concurrent external writer
// raced the entry's captured baseline (spec invariant B2/B3).
func Flush() error {
	global.mu.Lock()
	entries := global.entries
	global.entries = make(map[string]*entry)
	global.size = 0
	global.mu.Unlock()

	failures := map[string]error{}
	for path, e := range entries {
		currentSum := sha256Hex(e.contents)
		if currentSum == e.baselineSum {
			continue // unmodified since capture, nothing to write
		}
		fi, statErr := os.Stat(path)
		if statErr == nil {
			if fi.Size() != e.size || fi.ModTime().UnixNano() != e.modTime {
				failures[path] = fmt.Errorf("file changed on disk since buffering began")
				continue
			}
		}
		if writer == nil {
			failures[path] = fmt.Errorf("no atomic writer installed")
			continue
		}
		if err := writer(path, e.contents); err != nil {
			failures[path] = err
		}
	}

	if len(failures) > 0 {
		log.Error().Int("count", len(failures)).Msg("buffer flush failed for one or more files")
		return &signacerr.BufferedFileError{Reasons: failures}
	}
	return nil
}
