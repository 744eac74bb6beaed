package docstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type doc struct {
	Version int            `json:"version"`
	Counts  map[string]int `json:"counts"`
}

func TestLoadMissingFile(t *testing.T) {
	var d doc
	found, err := Load(filepath.Join(t.TempDir(), "missing.json"), &d)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Fatal("found = true, want false")
	}
}

func TestSaveLoadRoundTripLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")

	if err := Save(path, doc{Version: 1, Counts: map[string]int{"a": 2}}, 0o600); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var got doc
	found, err := Load(path, &got)
	if err != nil || !found {
		t.Fatalf("Load found=%v err=%v", found, err)
	}
	if got.Counts["a"] != 2 {
		t.Fatalf("counts[a] = %d, want 2", got.Counts["a"])
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("left temp file %s", e.Name())
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}
}

func TestLoadCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	if err := os.WriteFile(path, []byte(`{"version":`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var d doc
	_, err := Load(path, &d)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestUpdateSkipsWriteWhenUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")

	var d doc
	err := Update(path, &d, 0o644, func() (bool, error) { return false, nil })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file after unchanged update, stat err=%v", err)
	}

	err = Update(path, &d, 0o644, func() (bool, error) {
		d.Version = 3
		return true, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	var reloaded doc
	if _, err := Load(path, &reloaded); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Version != 3 {
		t.Fatalf("version = %d, want 3", reloaded.Version)
	}
}
