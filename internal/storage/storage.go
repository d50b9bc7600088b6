// Package storage persists media objects (user videos, generated
// illustrations) behind a small object-store interface.
package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Storage reads and writes media objects addressed by path. Paths are
// slash-separated keys relative to the store's root.
type Storage interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, string, error)
	// URL returns the public URL that serves the object at path.
	URL(path string) string
}
