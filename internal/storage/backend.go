// Package storage defines the Backend interface for content storage and
// the key scheme that maps file metadata to stored objects.
package storage

import (
	"context"
	"io"
)

// Backend is the interface for content storage backends.
// Implementations handle raw object I/O (local filesystem, S3/MinIO).
// Metadata (the file tree, trash state) is handled separately by
// postgres.Store.
type Backend interface {
	// GetObject retrieves an object by key with optional range support.
	// If offset=0 and length=0, the entire object is returned.
	GetObject(ctx context.Context, key string, offset, length int64) (io.ReadCloser, int64, error)

	// PutObject uploads content to the given key.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object by key.
	DeleteObject(ctx context.Context, key string) error

	// CopyObject copies an object from srcKey to dstKey.
	CopyObject(ctx context.Context, srcKey, dstKey string) error

	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Type returns the backend type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// ObjectKey returns the backend key for a file's content. Keys are derived
// from the immutable file id, not the path, so renames and moves never
// touch the backend.
func ObjectKey(fileID string) string {
	return "objects/" + fileID
}

// ThumbKey returns the backend key for a file's thumbnail.
func ThumbKey(fileID string) string {
	return "_thumbs/" + fileID + ".jpg"
}
