// Package artifact provides the typed adapter over the S3-compatible object
// store plus the artifact-addressing conventions of the pipeline. It is the
// only package that talks to the object store.
package artifact

import (
	"context"
	"errors"
	"io"
)

// Static errors for artifact operations.
var (
	// ErrNotFound is returned by Stat and Get when the object does not exist.
	ErrNotFound = errors.New("artifact: object not found")
	// ErrInvalidPath is returned when a canonical path cannot be parsed.
	ErrInvalidPath = errors.New("artifact: invalid canonical path")
)

// Info describes a stored object.
type Info struct {
	// Key is the object key within its bucket.
	Key string
	// Size is the object size in bytes.
	Size int64
	// ContentType is the stored content type, when known.
	ContentType string
}

// Store defines the object-store port. Implementations carry no mutable
// state beyond a client handle.
type Store interface {
	// Put uploads an object and returns its canonical path "/{bucket}/{key}".
	Put(ctx context.Context, bucket, key string, data io.Reader, size int64) (string, error)

	// Get returns a reader over an object's content.
	// The caller is responsible for closing the returned ReadCloser.
	// Returns ErrNotFound if the object does not exist.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// Stat returns object metadata, or ErrNotFound.
	Stat(ctx context.Context, bucket, key string) (Info, error)

	// List returns all objects under the given prefix, recursively.
	List(ctx context.Context, bucket, prefix string) ([]Info, error)

	// Delete removes a single object. Deleting a missing object is not an error.
	Delete(ctx context.Context, bucket, key string) error

	// DeletePrefix removes every object under the prefix and returns the
	// number deleted. An empty prefix listing returns 0 without error.
	DeletePrefix(ctx context.Context, bucket, prefix string) (int, error)
}
