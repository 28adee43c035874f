// Package storage fronts the object store that holds problem data packs.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is wrapped by backends when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage is the subset of an S3 style store the judge needs.
// Readers returned by GetObject must be closed by the caller.
type ObjectStorage interface {
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)
}

// ObjectStat is object metadata. The ETag is what data pack caches key on.
type ObjectStat struct {
	SizeBytes    int64
	ETag         string
	ContentType  string
	LastModified time.Time
}
