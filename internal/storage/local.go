package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// LocalStore archives audio files on the local filesystem.
type LocalStore struct {
	archiveDir string
}

// NewLocalStore creates a local filesystem archive rooted at archiveDir.
func NewLocalStore(archiveDir string) *LocalStore {
	return &LocalStore{archiveDir: archiveDir}
}

func (s *LocalStore) Archive(_ context.Context, localPath, name string) (string, error) {
	dest := filepath.Join(s.archiveDir, filepath.FromSlash(datePath(name, time.Now())))
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	// Atomic write: temp file + rename
	tmp, err := os.CreateTemp(dir, ".audio-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename: %w", err)
	}
	return dest, nil
}

func (s *LocalStore) Exists(_ context.Context, name string) bool {
	_, err := os.Stat(filepath.Join(s.archiveDir, filepath.FromSlash(datePath(name, time.Now()))))
	return err == nil
}

func (s *LocalStore) Type() string { return "local" }

// Dir returns the archive root.
func (s *LocalStore) Dir() string { return s.archiveDir }
