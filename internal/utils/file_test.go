package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prd.md")
	if err := os.WriteFile(path, []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got.Hash != want {
		t.Errorf("hash = %s, want %s", got.Hash, want)
	}
	if got.Size != 3 {
		t.Errorf("size = %d, want 3", got.Size)
	}

	if _, err := HashFile(filepath.Join(t.TempDir(), "missing.md")); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.json")
	dst := filepath.Join(dir, "dst.json")
	if err := os.WriteFile(src, []byte(`{"prds":[]}`), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("old content that is longer"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"prds":[]}` {
		t.Errorf("dst = %q", data)
	}
	if !FileExists(dst) {
		t.Error("FileExists(dst) = false")
	}
	if FileExists(dir) {
		t.Error("FileExists(dir) should be false for directories")
	}
}

func TestRenameWithRetry(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	dst := filepath.Join(dir, "b")
	if err := os.WriteFile(src, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := RenameWithRetry(src, dst, 2, time.Millisecond); err != nil {
		t.Fatalf("RenameWithRetry: %v", err)
	}
	if FileExists(src) || !FileExists(dst) {
		t.Error("rename did not move the file")
	}

	if err := DefaultRenameRetry(filepath.Join(dir, "missing"), dst); err == nil {
		t.Error("expected error renaming a missing file")
	}
}
