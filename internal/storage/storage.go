// Package storage defines the blob store contract shared by the local,
// in-memory, and GCS backends that hold rendered records and attachments.
package storage

import (
	"context"
	"io"
)

// BlobStore writes objects and lists them by prefix. Paths are slash
// separated and relative to the store root.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
