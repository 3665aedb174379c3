// Package gcs archives run logs to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the destination bucket.
type Config struct {
	Bucket string
	// ChunkSize is the resumable upload chunk; zero keeps the client default.
	ChunkSize int
}

// BlobStore uploads objects into one bucket.
type BlobStore struct {
	bucket    *storage.BucketHandle
	name      string
	chunkSize int
}

// New returns a BlobStore for cfg.Bucket.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("gcs: storage client is required")
	}
	name := strings.TrimSpace(cfg.Bucket)
	if name == "" {
		return nil, errors.New("gcs: bucket name is required")
	}
	return &BlobStore{bucket: client.Bucket(name), name: name, chunkSize: cfg.ChunkSize}, nil
}

// PutObject streams r into the object at path and returns its gs:// URI. A
// failed copy cancels the upload so no partial object is committed.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("gcs: object path is required")
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(path).NewWriter(uploadCtx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"source": "crawl-supervisor"}
	if s.chunkSize > 0 {
		w.ChunkSize = s.chunkSize
	}

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("gcs: upload %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: finalize %s: %w", path, err)
	}
	return "gs://" + s.name + "/" + path, nil
}
