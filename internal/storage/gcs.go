package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStorage implements Storage on a Google Cloud Storage bucket.
type GCSStorage struct {
	client    *storage.Client
	bucket    string
	cdnDomain string
}

// NewGCSStorage creates a GCS-backed store. credentialsFile may be empty,
// in which case application default credentials are used. cdnDomain, when
// set, is used to build public URLs instead of the storage.googleapis.com
// host.
func NewGCSStorage(ctx context.Context, credentialsFile, bucket, cdnDomain string) (*GCSStorage, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSStorage{client: client, bucket: bucket, cdnDomain: cdnDomain}, nil
}

func (s *GCSStorage) Put(ctx context.Context, path string, data []byte, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("writing object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing object %s: %w", path, err)
	}
	return nil
}

func (s *GCSStorage) Get(ctx context.Context, path string) ([]byte, string, error) {
	r, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, "", fmt.Errorf("%w: %s", ErrObjectNotFound, path)
		}
		return nil, "", fmt.Errorf("opening object %s: %w", path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("reading object %s: %w", path, err)
	}
	return data, r.Attrs.ContentType, nil
}

func (s *GCSStorage) URL(path string) string {
	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", s.cdnDomain, path)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, path)
}

func (s *GCSStorage) Close() error {
	return s.client.Close()
}

// Compile-time check that GCSStorage implements Storage.
var _ Storage = (*GCSStorage)(nil)
