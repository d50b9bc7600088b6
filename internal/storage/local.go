package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
)

// LocalStorage implements Storage on the local filesystem. It serves as the
// fallback when no bucket is configured; objects are served from the
// /media URL prefix by the HTTP server.
type LocalStorage struct {
	rootDir string
}

// NewLocalStorage creates a filesystem store rooted at rootDir, creating
// the directory if needed.
func NewLocalStorage(rootDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media dir: %w", err)
	}
	return &LocalStorage{rootDir: rootDir}, nil
}

func (s *LocalStorage) Put(_ context.Context, path string, data []byte, _ string) error {
	full := filepath.Join(s.rootDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating object dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("writing object %s: %w", path, err)
	}
	return nil
}

func (s *LocalStorage) Get(_ context.Context, path string) ([]byte, string, error) {
	full := filepath.Join(s.rootDir, filepath.FromSlash(path))
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: %s", ErrObjectNotFound, path)
		}
		return nil, "", fmt.Errorf("reading object %s: %w", path, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

func (s *LocalStorage) URL(path string) string {
	return "/media/" + path
}

// Dir returns the root directory objects are written under.
func (s *LocalStorage) Dir() string {
	return s.rootDir
}

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)
