package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	vodErrs "github.com/clipstream/vod-api/errors"
)

// Bucket selects which of the two object namespaces a path lives in.
type Bucket string

const (
	// BucketRaw holds uploads in flight: chunks, composed originals,
	// thumbnails and metadata documents.
	BucketRaw Bucket = "raw"
	// BucketProcessed holds packaging outputs: segments and manifests.
	BucketProcessed Bucket = "processed"
)

// Object describes one stored blob.
type Object struct {
	Path     string
	Size     int64
	Modified time.Time
}

// Backend is the blob-store contract the facade builds on. Paths are
// forward-slash relative keys. Implementations normalise failures to the
// errors package kinds and never leak provider-specific error types.
type Backend interface {
	Put(ctx context.Context, bucket Bucket, path string, r io.Reader, contentType string) error
	// Get returns ErrNotFound for missing objects.
	Get(ctx context.Context, bucket Bucket, path string) (io.ReadCloser, error)
	// Delete is idempotent: deleting a missing object is not an error.
	Delete(ctx context.Context, bucket Bucket, path string) error
	DeletePrefix(ctx context.Context, bucket Bucket, prefix string) error
	// List streams every object under prefix, recursively, into fn. A non-nil
	// error from fn stops the walk and is returned as-is.
	List(ctx context.Context, bucket Bucket, prefix string, fn func(Object) error) error
	// ListDir lists a single level: objects directly under prefix plus the
	// sub-prefixes ("directories") one level down, each ending in "/".
	ListDir(ctx context.Context, bucket Bucket, prefix string) (files []Object, prefixes []string, err error)
	Exists(ctx context.Context, bucket Bucket, path string) (bool, error)
	Presign(ctx context.Context, bucket Bucket, path string, ttl time.Duration) (string, error)
	// Compose concatenates parts, in the given order, into output. Either the
	// whole object is written or none of it; a missing part is ErrNotFound.
	Compose(ctx context.Context, bucket Bucket, output string, parts []string, contentType string) error
}

// ContentTypeFor infers the MIME type for a stored path from its extension.
func ContentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts":
		return "video/mp2t"
	case ".m4s", ".mp4":
		return "video/mp4"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".mpd":
		return "application/dash+xml"
	case ".json":
		return "application/json"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func notFound(path string) error {
	return fmt.Errorf("%s: %w", path, vodErrs.ErrNotFound)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, err, vodErrs.ErrStorageUnavailable)
}
