package vault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	v, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return v
}

func TestFileStore_RoundTrip(t *testing.T) {
	v := newTestStore(t)

	if err := v.Write("conv-1.md", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := v.Read("conv-1.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Read = %q, want hello", got)
	}
	if !v.Exists("conv-1.md") {
		t.Error("Exists = false after write")
	}
}

func TestFileStore_OverwriteExisting(t *testing.T) {
	v := newTestStore(t)
	if err := v.Write("k", []byte("v1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := v.Write("k", []byte("v2")); err != nil {
		t.Fatalf("Write (overwrite): %v", err)
	}
	got, _ := v.Read("k")
	if string(got) != "v2" {
		t.Errorf("Read = %q, want v2", got)
	}
}

func TestFileStore_WriteSurvivesConcurrentCreate(t *testing.T) {
	dir := t.TempDir()
	v, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	// Simulate another writer creating the file between the existence check
	// and the exclusive create: the file simply already exists.
	if err := os.WriteFile(filepath.Join(dir, "k"), []byte("other"), 0o600); err != nil {
		t.Fatalf("seeding file: %v", err)
	}
	if err := v.Write("k", []byte("mine")); err != nil {
		t.Fatalf("Write must fall back to overwrite: %v", err)
	}
	got, _ := v.Read("k")
	if string(got) != "mine" {
		t.Errorf("Read = %q, want mine", got)
	}
}

func TestFileStore_ReadMissing(t *testing.T) {
	v := newTestStore(t)
	if _, err := v.Read("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read missing = %v, want ErrNotFound", err)
	}
	if err := v.Remove("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove missing = %v, want ErrNotFound", err)
	}
}

func TestFileStore_ListByPrefix(t *testing.T) {
	v := newTestStore(t)
	for _, k := range []string{"conv-b.md", "conv-a.md", "other.bin"} {
		if err := v.Write(k, []byte("x")); err != nil {
			t.Fatalf("Write %s: %v", k, err)
		}
	}
	keys, err := v.List("conv-")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0] != "conv-a.md" || keys[1] != "conv-b.md" {
		t.Errorf("List = %v, want sorted conv-* keys", keys)
	}
}

func TestFileStore_RejectsPathKeys(t *testing.T) {
	v := newTestStore(t)
	if err := v.Write("../escape", []byte("x")); err == nil {
		t.Error("expected error for key with path separator")
	}
}
