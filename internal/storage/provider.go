// Package storage defines the blob storage abstraction used to archive run
// logs. Implementations live in the local, gcs and memory subpackages.
package storage

import (
	"context"
	"io"
)

// BlobStore uploads an object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
