package fsutil

import (
	"path/filepath"
	"testing"
)

func TestMemoryFileSystem_WriteRead(t *testing.T) {
	fs := NewMemoryFileSystem()

	if err := fs.WriteFile("snapshots/a.jpg", []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := fs.ReadFile("snapshots/a.jpg")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "jpeg" {
		t.Errorf("data = %q", data)
	}

	// Returned slice is a copy; mutating it must not affect the store.
	data[0] = 'X'
	again, _ := fs.ReadFile("snapshots/a.jpg")
	if string(again) != "jpeg" {
		t.Error("ReadFile returned a shared slice")
	}
}

func TestMemoryFileSystem_MissingFile(t *testing.T) {
	fs := NewMemoryFileSystem()
	if _, err := fs.ReadFile("nope.jpg"); err == nil {
		t.Error("expected error for missing file")
	}
	if err := fs.Remove("nope.jpg"); err == nil {
		t.Error("expected error removing missing file")
	}
}

func TestMemoryFileSystem_MkdirAllAndExists(t *testing.T) {
	fs := NewMemoryFileSystem()

	if err := fs.MkdirAll(filepath.Join("data", "snapshots"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if !fs.Exists("data/snapshots") {
		t.Error("expected nested dir to exist")
	}
	if !fs.Exists("data") {
		t.Error("expected parent dir to exist")
	}
	if fs.Exists("other") {
		t.Error("unexpected dir")
	}
}

func TestMemoryFileSystem_Files(t *testing.T) {
	fs := NewMemoryFileSystem()
	fs.WriteFile("b.jpg", nil, 0o644)
	fs.WriteFile("a.jpg", nil, 0o644)

	files := fs.Files()
	if len(files) != 2 || files[0] != "a.jpg" || files[1] != "b.jpg" {
		t.Errorf("Files() = %v", files)
	}
}

func TestOSFileSystem_RoundTrip(t *testing.T) {
	fs := OSFileSystem{}
	dir := t.TempDir()

	name := filepath.Join(dir, "evidence", "main.jpg")
	if err := fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := fs.WriteFile(name, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !fs.Exists(name) {
		t.Error("Exists = false after write")
	}
	data, err := fs.ReadFile(name)
	if err != nil || string(data) != "x" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}
	if err := fs.Remove(name); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if fs.Exists(name) {
		t.Error("Exists = true after remove")
	}
}
