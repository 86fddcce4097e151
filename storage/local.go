package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// tempFilePrefix marks in-progress writes so listings skip them.
const tempFilePrefix = ".tmp-"

// LocalBackend stores blobs on the local filesystem under <base>/raw and
// <base>/processed. Writes go through a temp file and rename so readers
// never observe a partial object. Presigned URLs are relative routes served
// by the public router when this backend is active.
type LocalBackend struct {
	base string
}

func NewLocalBackend(base string) (*LocalBackend, error) {
	for _, bucket := range []Bucket{BucketRaw, BucketProcessed} {
		if err := os.MkdirAll(filepath.Join(base, string(bucket)), 0755); err != nil {
			return nil, fmt.Errorf("error creating local storage dir: %w", err)
		}
	}
	return &LocalBackend{base: base}, nil
}

func (l *LocalBackend) root(bucket Bucket) string {
	return filepath.Join(l.base, string(bucket))
}

// abs maps a storage key to an absolute filesystem path, refusing keys that
// would escape the bucket root.
func (l *LocalBackend) abs(bucket Bucket, p string) (string, error) {
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return "", fmt.Errorf("invalid storage path %q", p)
	}
	return filepath.Join(l.root(bucket), filepath.FromSlash(cleaned)), nil
}

func (l *LocalBackend) Put(ctx context.Context, bucket Bucket, p string, r io.Reader, contentType string) error {
	full, err := l.abs(bucket, p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return unavailable("error creating directory for "+p, err)
	}
	return writeAtomic(full, r)
}

func writeAtomic(full string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(full), tempFilePrefix+"*")
	if err != nil {
		return unavailable("error creating temp file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return unavailable("error writing "+full, err)
	}
	if err := tmp.Close(); err != nil {
		return unavailable("error flushing "+full, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return unavailable("error publishing "+full, err)
	}
	return nil
}

func (l *LocalBackend) Get(ctx context.Context, bucket Bucket, p string) (io.ReadCloser, error) {
	full, err := l.abs(bucket, p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, notFound(p)
	}
	if err != nil {
		return nil, unavailable("error opening "+p, err)
	}
	return f, nil
}

func (l *LocalBackend) Delete(ctx context.Context, bucket Bucket, p string) error {
	full, err := l.abs(bucket, p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return unavailable("error deleting "+p, err)
	}
	return nil
}

func (l *LocalBackend) DeletePrefix(ctx context.Context, bucket Bucket, prefix string) error {
	full, err := l.abs(bucket, strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return err
	}
	if info, err := os.Stat(full); err == nil && info.IsDir() {
		if err := os.RemoveAll(full); err != nil {
			return unavailable("error deleting prefix "+prefix, err)
		}
		return nil
	}
	// The prefix is not a directory of its own; fall back to a filtered walk.
	return l.List(ctx, bucket, prefix, func(obj Object) error {
		return l.Delete(ctx, bucket, obj.Path)
	})
}

func (l *LocalBackend) List(ctx context.Context, bucket Bucket, prefix string, fn func(Object) error) error {
	root := l.root(bucket)

	// Walk from the deepest directory the prefix pins down, so listing one
	// video does not scan the whole bucket.
	start := root
	dirPortion := prefix
	if !strings.HasSuffix(dirPortion, "/") {
		dirPortion = path.Dir(dirPortion)
	} else {
		dirPortion = strings.TrimSuffix(dirPortion, "/")
	}
	if dirPortion != "" && dirPortion != "." {
		candidate := filepath.Join(root, filepath.FromSlash(dirPortion))
		info, err := os.Stat(candidate)
		if os.IsNotExist(err) {
			return nil
		}
		if err == nil && info.IsDir() {
			start = candidate
		}
	}

	return filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return unavailable("error walking "+prefix, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempFilePrefix) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// Raced with a concurrent delete.
			return nil
		}
		return fn(Object{Path: key, Size: info.Size(), Modified: info.ModTime()})
	})
}

func (l *LocalBackend) ListDir(ctx context.Context, bucket Bucket, prefix string) ([]Object, []string, error) {
	full, err := l.abs(bucket, strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return nil, nil, err
	}
	entries, err := os.ReadDir(full)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, unavailable("error listing "+prefix, err)
	}

	keyPrefix := prefix
	if keyPrefix != "" && !strings.HasSuffix(keyPrefix, "/") {
		keyPrefix += "/"
	}
	var files []Object
	var prefixes []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), tempFilePrefix) {
			continue
		}
		if entry.IsDir() {
			prefixes = append(prefixes, keyPrefix+entry.Name()+"/")
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, Object{Path: keyPrefix + entry.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	sort.Strings(prefixes)
	return files, prefixes, nil
}

func (l *LocalBackend) Exists(ctx context.Context, bucket Bucket, p string) (bool, error) {
	full, err := l.abs(bucket, p)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, unavailable("error checking "+p, err)
	}
	return true, nil
}

// Presign returns the relative route the public router serves local files
// on. The TTL is not enforced for local storage.
func (l *LocalBackend) Presign(ctx context.Context, bucket Bucket, p string, ttl time.Duration) (string, error) {
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return "", fmt.Errorf("invalid storage path %q", p)
	}
	u := url.URL{Path: "/" + string(bucket) + cleaned}
	return u.String(), nil
}

func (l *LocalBackend) Compose(ctx context.Context, bucket Bucket, output string, parts []string, contentType string) error {
	// Verify every part up front so a missing chunk never yields a partial
	// object.
	for _, part := range parts {
		exists, err := l.Exists(ctx, bucket, part)
		if err != nil {
			return err
		}
		if !exists {
			return notFound(part)
		}
	}

	full, err := l.abs(bucket, output)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return unavailable("error creating directory for "+output, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), tempFilePrefix+"*")
	if err != nil {
		return unavailable("error creating compose temp file", err)
	}
	defer os.Remove(tmp.Name())

	for _, part := range parts {
		if ctxErr := ctx.Err(); ctxErr != nil {
			tmp.Close()
			return ctxErr
		}
		src, err := l.Get(ctx, bucket, part)
		if err != nil {
			tmp.Close()
			return err
		}
		_, err = io.Copy(tmp, src)
		src.Close()
		if err != nil {
			tmp.Close()
			return unavailable("error composing part "+part, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return unavailable("error flushing composed object", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return unavailable("error publishing "+output, err)
	}
	return nil
}
