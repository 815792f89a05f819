package attendance

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileFallbackStoreMissingFile(t *testing.T) {
	store := NewFileFallbackStore(filepath.Join(t.TempDir(), "db.json"))
	db, ok, err := store.Read()
	if err != nil {
		t.Fatalf("read missing file: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing file, got %+v", db)
	}
}

func TestFileFallbackStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db.json")
	store := NewFileFallbackStore(path)
	want := EmptyDatabase()
	want.ActiveSession = &SessionInfo{ID: "session_1", Name: "Math"}
	want.Records = []AttendanceRecord{sampleRecord("r1", "S1", "session_1")}
	if err := store.Write(want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, ok, err := store.Read()
	if err != nil || !ok {
		t.Fatalf("read back: ok=%v err=%v", ok, err)
	}
	if got.ActiveSession == nil || got.ActiveSession.ID != "session_1" || len(got.Records) != 1 {
		t.Fatalf("unexpected database %+v", got)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected temp file to be renamed away, stat err=%v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw file: %v", err)
	}
	if len(data) < 2 || data[0] != '{' || data[1] != '\n' {
		t.Fatalf("expected pretty-printed document, got %q", data)
	}
}

func TestFileFallbackStoreIgnoresStaleTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	store := NewFileFallbackStore(path)
	if err := store.Write(EmptyDatabase()); err != nil {
		t.Fatalf("initial write: %v", err)
	}
	// A crash mid-write leaves a partial temp file behind.
	if err := os.WriteFile(path+".tmp", []byte(`{"records": [`), 0o644); err != nil {
		t.Fatalf("write stale tmp: %v", err)
	}
	if _, ok, err := store.Read(); err != nil || !ok {
		t.Fatalf("expected canonical file to stay readable, ok=%v err=%v", ok, err)
	}

	next := EmptyDatabase()
	next.Records = []AttendanceRecord{sampleRecord("r1", "S1", "session_1")}
	if err := store.Write(next); err != nil {
		t.Fatalf("write over stale tmp: %v", err)
	}
	got, _, err := store.Read()
	if err != nil || len(got.Records) != 1 {
		t.Fatalf("expected one record after write, got %+v err=%v", got, err)
	}
}

func TestFileFallbackStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	_, _, err := NewFileFallbackStore(path).Read()
	if !errors.Is(err, ErrFallbackUnreadable) {
		t.Fatalf("expected ErrFallbackUnreadable, got %v", err)
	}
}

func TestFileFallbackStoreDefaultsPath(t *testing.T) {
	if got := NewFileFallbackStore("  ").Path; got != DefaultFallbackPath {
		t.Fatalf("expected default path %q, got %q", DefaultFallbackPath, got)
	}
}
