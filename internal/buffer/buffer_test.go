package buffer

import (
	"os"
	"path/filepath"
	"testing"
)

func setupWriter(t *testing.T) {
	t.Helper()
	SetWriter(func(path string, data []byte) error {
		return os.WriteFile(path, data, 0o644)
	})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	setupWriter(t)
	path := filepath.Join(t.TempDir(), "a.json")
	// Flush before the temp dir is removed so no entry for it is left
	// behind in the process-wide buffer for later tests.
	defer Flush()

	if err := Save(path, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok := Load(path)
	if !ok {
		t.Fatal("expected a buffered entry")
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("got %q", got)
	}
}

func TestBufferedFlushesOnExit(t *testing.T) {
	setupWriter(t)
	path := filepath.Join(t.TempDir(), "a.json")

	err := Buffered(false, func() error {
		return Save(path, []byte(`{"a":1}`))
	})
	if err != nil {
		t.Fatalf("Buffered: %v", err)
	}
	if _, ok := Load(path); ok {
		t.Fatal("entry should have been evicted on flush")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected file on disk after flush: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("got %q", data)
	}
}

func TestNestedBufferedCannotWeakenForceWrite(t *testing.T) {
	setupWriter(t)
	err := Buffered(true, func() error {
		return Buffered(false, func() error { return nil })
	})
	if err == nil {
		t.Fatal("expected BufferException for weakening force_write while nested")
	}
}

func TestFlushDetectsConcurrentExternalWrite(t *testing.T) {
	setupWriter(t)
	path := filepath.Join(t.TempDir(), "a.json")
	if err := os.WriteFile(path, []byte(`{"orig":true}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Save(path, []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}

	// Simulate an external writer racing the buffered save between
	// capture and flush.
	if err := os.WriteFile(path, []byte(`{"raced":true}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Flush(); err == nil {
		t.Fatal("expected a BufferedFileError from the racing external write")
	}
}

func TestSaveTriggersFlushOverCapacity(t *testing.T) {
	setupWriter(t)
	SetCapacity(4)
	defer SetCapacity(defaultCapacity)

	path := filepath.Join(t.TempDir(), "a.json")
	if err := Save(path, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok := Load(path); ok {
		t.Fatal("entry should have flushed immediately once over capacity")
	}
}
