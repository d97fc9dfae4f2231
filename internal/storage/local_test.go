package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLocalStoreArchive(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)

	src := filepath.Join(t.TempDir(), "upload.mp3")
	if err := os.WriteFile(src, []byte("ID3audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	dest, err := store.Archive(context.Background(), src, "abc123.mp3")
	if err != nil {
		t.Fatalf("Archive() = %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("archived file unreadable: %v", err)
	}
	if string(data) != "ID3audio" {
		t.Errorf("archived content = %q", data)
	}

	// Layout is <root>/YYYY/MM/DD/<name>.
	want := filepath.Join(dir, filepath.FromSlash(datePath("abc123.mp3", time.Now())))
	if dest != want {
		t.Errorf("dest = %q, want %q", dest, want)
	}

	if !store.Exists(context.Background(), "abc123.mp3") {
		t.Error("Exists() = false after archive")
	}
	if store.Exists(context.Background(), "missing.mp3") {
		t.Error("Exists() = true for missing file")
	}

	// No leftover temp files.
	entries, err := os.ReadDir(filepath.Dir(dest))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("archive dir has %d entries, want 1", len(entries))
	}
}

func TestLocalStoreArchiveMissingSource(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	if _, err := store.Archive(context.Background(), "/nonexistent/file.mp3", "x.mp3"); err == nil {
		t.Error("Archive() = nil for missing source")
	}
}

func TestDatePath(t *testing.T) {
	at := time.Date(2025, 6, 3, 15, 4, 5, 0, time.UTC)
	if got, want := datePath("call.mp3", at), "2025/06/03/call.mp3"; got != want {
		t.Errorf("datePath() = %q, want %q", got, want)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	store, err := New(Options{ArchiveDir: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if store.Type() != "local" {
		t.Errorf("Type() = %q, want local", store.Type())
	}
}
