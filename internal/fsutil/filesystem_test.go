package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_CreateIsAtomic(t *testing.T) {
	fsys := OSFileSystem{}
	dir := t.TempDir()
	target := filepath.Join(dir, "out.npy")

	w, err := fsys.Create(target)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if fsys.Exists(target) {
		t.Fatal("target visible before Close")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !fsys.Exists(target) {
		t.Fatal("target missing after Close")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target in %s, found %d entries", dir, len(entries))
	}

	r, err := fsys.Open(target)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "partial" {
		t.Errorf("expected %q, got %q", "partial", data)
	}
}

func TestOSFileSystem_MkdirAllAndExists(t *testing.T) {
	fsys := OSFileSystem{}
	nested := filepath.Join(t.TempDir(), "a", "b")
	if fsys.Exists(nested) {
		t.Fatal("nested dir should not exist yet")
	}
	if err := fsys.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if !fsys.Exists(nested) {
		t.Error("nested dir should exist")
	}
}

func TestMemoryFileSystem_CreateAndOpen(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("/created.txt")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Write([]byte("hello "))
	w.Write([]byte("world"))
	if mfs.Exists("/created.txt") {
		t.Error("file visible before Close")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("second Close error = %v, want fs.ErrClosed", err)
	}

	r, err := mfs.Open("/created.txt")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, _ := io.ReadAll(r)
	if string(data) != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", data)
	}
}

func TestMemoryFileSystem_OpenMissing(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if _, err := mfs.Open("/nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open error = %v, want fs.ErrNotExist", err)
	}
	if _, err := mfs.ReadFile("/nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile error = %v, want fs.ErrNotExist", err)
	}
}

func TestMemoryFileSystem_CreateNeedsParent(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if _, err := mfs.Create("/plots/z0.png"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Create without parent error = %v, want fs.ErrNotExist", err)
	}
	if err := mfs.MkdirAll("/plots", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	w, err := mfs.Create("/plots/z0.png")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Close()

	if got := mfs.Files(); len(got) != 1 || got[0] != "/plots/z0.png" {
		t.Errorf("Files() = %v", got)
	}
}

func TestMemoryFileSystem_MkdirAllOverFile(t *testing.T) {
	mfs := NewMemoryFileSystem()
	w, _ := mfs.Create("/a")
	w.Close()
	if err := mfs.MkdirAll("/a/b", 0o755); err == nil {
		t.Error("MkdirAll through a file should fail")
	}
}

func TestDiscard(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "half.npy")
	w, err := OSFileSystem{}.Create(target)
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("half"))
	if err := Discard(w); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Discard left %d entries behind", len(entries))
	}

	mfs := NewMemoryFileSystem()
	mw, _ := mfs.Create("/x")
	mw.Write([]byte("x"))
	Discard(mw)
	if mfs.Exists("/x") {
		t.Error("discarded memory file was published")
	}
}
