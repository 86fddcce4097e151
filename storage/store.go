package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/clipstream/vod-api/cache"
	vodErrs "github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/log"
	"github.com/clipstream/vod-api/video"
)

const (
	metadataPrefix = "metadata/"
	videosPrefix   = "videos/"

	DefaultPresignTTL = time.Hour

	// metadataUpdateAttempts bounds the retry cycle when a stale mutator
	// loses a metadata race.
	metadataUpdateAttempts = 3
)

// ErrSkipUpdate lets an UpdateMetadata mutate callback abort the cycle
// without persisting and without failing. UpdateMetadata returns the freshly
// loaded record together with this sentinel.
var ErrSkipUpdate = errors.New("metadata update skipped")

// Store is the storage facade. All path construction and raw/processed
// bucket routing lives here; callers never hand paths to a Backend directly.
// Metadata read-modify-write cycles are serialised per video id.
type Store struct {
	backend    Backend
	locks      *cache.KeyedMutex
	presignTTL time.Duration
}

func NewStore(backend Backend, presignTTL time.Duration) *Store {
	if presignTTL <= 0 {
		presignTTL = DefaultPresignTTL
	}
	return &Store{
		backend:    backend,
		locks:      cache.NewKeyedMutex(),
		presignTTL: presignTTL,
	}
}

// Path layout. The facade owns these shapes; nothing else builds paths.

func MetadataPath(id string) string { return metadataPrefix + id + ".json" }
func VideoPrefix(id string) string  { return videosPrefix + id + "/" }

func ChunksPrefix(id string) string { return VideoPrefix(id) + "chunks/" }
func ChunkPath(id string, index int) string {
	return fmt.Sprintf("%schunk_%d", ChunksPrefix(id), index)
}

// SourcePath is where the composed original lands. Only the base name of
// the uploaded filename is kept.
func SourcePath(id, filename string) string {
	return VideoPrefix(id) + path.Base(filename)
}

func HLSPrefix(id string) string                  { return VideoPrefix(id) + "hls/" }
func HLSMasterPath(id string) string              { return HLSPrefix(id) + "master.m3u8" }
func HLSVariantPath(id, quality string) string    { return HLSPrefix(id) + quality + ".m3u8" }
func HLSSegmentDir(id, quality string) string     { return HLSPrefix(id) + quality + "/" }
func HLSSegmentPath(id, quality string, index int) string {
	return fmt.Sprintf("%ssegment_%03d.ts", HLSSegmentDir(id, quality), index)
}

func DASHPrefix(id string) string              { return VideoPrefix(id) + "dash/" }
func DASHMPDPath(id string) string             { return DASHPrefix(id) + "manifest.mpd" }
func DASHRepresentationDir(id, quality string) string {
	return DASHPrefix(id) + "video_" + quality + "/"
}
func DASHInitPath(id, quality string) string {
	return DASHRepresentationDir(id, quality) + "init.mp4"
}
func DASHSegmentPath(id, quality string, number int) string {
	return fmt.Sprintf("%ssegment-%d.m4s", DASHRepresentationDir(id, quality), number)
}

func ThumbnailsPrefix(id string) string { return VideoPrefix(id) + "thumbnails/" }
func ThumbnailPath(id string, index int) string {
	return fmt.Sprintf("%sthumbnail_%d.jpg", ThumbnailsPrefix(id), index)
}
func PrimaryThumbnailPath(id string) string { return VideoPrefix(id) + "thumbnail.jpg" }
func PosterPath(id string) string           { return VideoPrefix(id) + "poster.jpg" }
func PreviewPath(id string) string          { return VideoPrefix(id) + "preview.gif" }

// bucketFor implements the two-bucket routing rule: packaging outputs (HLS
// and DASH artifacts, plus anything under a processed/ segment) live in the
// processed bucket; chunks, originals, thumbnails and metadata stay raw.
func bucketFor(p string) Bucket {
	if !strings.HasPrefix(p, videosPrefix) {
		return BucketRaw
	}
	rest := strings.TrimPrefix(p, videosPrefix)
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return BucketRaw
	}
	switch {
	case strings.HasPrefix(rest[slash+1:], "hls/"),
		strings.HasPrefix(rest[slash+1:], "dash/"),
		strings.Contains(rest[slash:], "/processed/"):
		return BucketProcessed
	}
	return BucketRaw
}

// LockVideo serialises a critical section against all other metadata
// read-modify-write activity for the same video.
func (s *Store) LockVideo(id string) func() {
	return s.locks.Lock(id)
}

// SaveMetadata persists a record at metadata/{id}.json. UpdatedAt is bumped
// monotonically.
func (s *Store) SaveMetadata(ctx context.Context, record *video.Record) error {
	if now := time.Now().UTC(); now.After(record.UpdatedAt) {
		record.UpdatedAt = now
	}
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("error marshalling metadata for %s: %w", record.ID, err)
	}
	return s.backend.Put(ctx, BucketRaw, MetadataPath(record.ID), bytes.NewReader(doc), "application/json")
}

// GetMetadata loads a record, returning ErrNotFound for unknown ids.
func (s *Store) GetMetadata(ctx context.Context, id string) (*video.Record, error) {
	rc, err := s.backend.Get(ctx, BucketRaw, MetadataPath(id))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var record video.Record
	if err := json.NewDecoder(rc).Decode(&record); err != nil {
		return nil, fmt.Errorf("error parsing metadata for %s: %w", id, err)
	}
	return &record, nil
}

func (s *Store) DeleteMetadata(ctx context.Context, id string) error {
	return s.backend.Delete(ctx, BucketRaw, MetadataPath(id))
}

func (s *Store) MetadataExists(ctx context.Context, id string) (bool, error) {
	return s.backend.Exists(ctx, BucketRaw, MetadataPath(id))
}

// UpdateMetadata runs a read-modify-write cycle under the video's lock.
// The mutate callback sees the freshly loaded record; returning ErrSkipUpdate
// abandons the cycle without persisting. Status changes must follow the
// lifecycle DAG; a violation means the mutator acted on a state that moved
// concurrently, so the cycle is retried with a fresh read before giving up
// with ErrConcurrencyConflict.
func (s *Store) UpdateMetadata(ctx context.Context, id string, mutate func(*video.Record) error) (*video.Record, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var record *video.Record
	operation := func() error {
		loaded, err := s.GetMetadata(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		statusBefore := loaded.Status
		if err := mutate(loaded); err != nil {
			record = loaded
			return backoff.Permanent(err)
		}
		if !video.ValidTransition(statusBefore, loaded.Status) {
			return fmt.Errorf("status %s cannot move to %s: %w", statusBefore, loaded.Status, vodErrs.ErrConcurrencyConflict)
		}
		if err := s.SaveMetadata(ctx, loaded); err != nil {
			return backoff.Permanent(err)
		}
		record = loaded
		return nil
	}
	err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), metadataUpdateAttempts-1))
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return record, err
}

// SaveChunk writes one upload chunk blob.
func (s *Store) SaveChunk(ctx context.Context, id string, index int, r io.Reader) error {
	return s.backend.Put(ctx, BucketRaw, ChunkPath(id, index), r, "application/octet-stream")
}

func (s *Store) ChunkExists(ctx context.Context, id string, index int) (bool, error) {
	return s.backend.Exists(ctx, BucketRaw, ChunkPath(id, index))
}

// ComposeChunks concatenates chunk_0 .. chunk_{total-1}, in numeric order,
// into the composed original and returns its path. A missing chunk aborts
// with ErrNotFound before any byte is written.
func (s *Store) ComposeChunks(ctx context.Context, id, filename string, total int) (string, error) {
	parts := make([]string, total)
	for i := range parts {
		parts[i] = ChunkPath(id, i)
	}
	output := SourcePath(id, filename)
	if err := s.backend.Compose(ctx, BucketRaw, output, parts, ContentTypeFor(filename)); err != nil {
		return "", err
	}
	return output, nil
}

// DeleteChunks removes the chunk directory, leaving the composed original
// and metadata in place.
func (s *Store) DeleteChunks(ctx context.Context, id string) error {
	return s.backend.DeletePrefix(ctx, BucketRaw, ChunksPrefix(id))
}

// ChunksPresent reports whether any chunk blobs remain for the video.
func (s *Store) ChunksPresent(ctx context.Context, id string) (bool, error) {
	present := false
	err := s.backend.List(ctx, BucketRaw, ChunksPrefix(id), func(Object) error {
		present = true
		return io.EOF
	})
	if err != nil && err != io.EOF {
		return false, err
	}
	return present, nil
}

// SaveFile stores a blob at path, routing it to the right bucket and
// inferring the content type from the extension.
func (s *Store) SaveFile(ctx context.Context, p string, r io.Reader) error {
	return s.backend.Put(ctx, bucketFor(p), p, r, ContentTypeFor(p))
}

func (s *Store) GetFile(ctx context.Context, p string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, bucketFor(p), p)
}

func (s *Store) FileExists(ctx context.Context, p string) (bool, error) {
	return s.backend.Exists(ctx, bucketFor(p), p)
}

func (s *Store) DeleteFile(ctx context.Context, p string) error {
	return s.backend.Delete(ctx, bucketFor(p), p)
}

func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	return s.backend.DeletePrefix(ctx, bucketFor(prefix), prefix)
}

// OpenFile reads from an explicit bucket, bypassing path routing. The local
// file routes use it because their URLs name the bucket.
func (s *Store) OpenFile(ctx context.Context, bucket Bucket, p string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, bucket, p)
}

// Presign returns a time-limited URL for a stored path.
func (s *Store) Presign(ctx context.Context, p string) (string, error) {
	return s.backend.Presign(ctx, bucketFor(p), p, s.presignTTL)
}

// PresignHLS returns a presigned URL for the HLS master playlist. The video
// must exist; readiness is the caller's concern.
func (s *Store) PresignHLS(ctx context.Context, id string) (string, error) {
	if _, err := s.MetadataExistsOrErr(ctx, id); err != nil {
		return "", err
	}
	return s.Presign(ctx, HLSMasterPath(id))
}

// PresignDASH returns a presigned URL for the DASH MPD.
func (s *Store) PresignDASH(ctx context.Context, id string) (string, error) {
	if _, err := s.MetadataExistsOrErr(ctx, id); err != nil {
		return "", err
	}
	return s.Presign(ctx, DASHMPDPath(id))
}

func (s *Store) MetadataExistsOrErr(ctx context.Context, id string) (bool, error) {
	exists, err := s.MetadataExists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, notFound(MetadataPath(id))
	}
	return true, nil
}

// DeleteVideo removes every artifact for a video from both buckets plus its
// metadata document.
func (s *Store) DeleteVideo(ctx context.Context, id string) error {
	prefix := VideoPrefix(id)
	if err := s.backend.DeletePrefix(ctx, BucketRaw, prefix); err != nil {
		return err
	}
	if err := s.backend.DeletePrefix(ctx, BucketProcessed, prefix); err != nil {
		return err
	}
	return s.DeleteMetadata(ctx, id)
}

// DeleteProcessedOutputs drops HLS and DASH artifacts, leaving the original
// upload and metadata for a retry.
func (s *Store) DeleteProcessedOutputs(ctx context.Context, id string) error {
	if err := s.backend.DeletePrefix(ctx, BucketProcessed, HLSPrefix(id)); err != nil {
		return err
	}
	return s.backend.DeletePrefix(ctx, BucketProcessed, DASHPrefix(id))
}

// ListVideos scans the metadata space, tolerating corrupt documents, and
// returns records matching the filter (exact match on marshalled fields),
// newest first, paginated by skip/limit. limit <= 0 means no cap.
func (s *Store) ListVideos(ctx context.Context, filter map[string]string, skip, limit int) ([]video.Record, error) {
	var records []video.Record
	err := s.backend.List(ctx, BucketRaw, metadataPrefix, func(obj Object) error {
		doc, err := s.readAll(ctx, BucketRaw, obj.Path)
		if err != nil {
			log.LogNoVideoID("skipping unreadable metadata document", "path", obj.Path, "err", err)
			return nil
		}
		var record video.Record
		if err := json.Unmarshal(doc, &record); err != nil {
			log.LogNoVideoID("skipping corrupt metadata document", "path", obj.Path, "err", err)
			return nil
		}
		if !matchesFilter(doc, filter) {
			return nil
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if skip >= len(records) {
		return []video.Record{}, nil
	}
	end := len(records)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	return records[skip:end], nil
}

func (s *Store) readAll(ctx context.Context, bucket Bucket, p string) ([]byte, error) {
	rc, err := s.backend.Get(ctx, bucket, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func matchesFilter(doc []byte, filter map[string]string) bool {
	if len(filter) == 0 {
		return true
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(doc, &fields); err != nil {
		return false
	}
	for key, want := range filter {
		got, ok := fields[key]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// ListHLSVariants derives the produced quality names from the HLS layout.
func (s *Store) ListHLSVariants(ctx context.Context, id string) ([]string, error) {
	_, prefixes, err := s.backend.ListDir(ctx, BucketProcessed, HLSPrefix(id))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		names = append(names, path.Base(p))
	}
	return names, nil
}

// ListThumbnails returns the stored still paths for a video in index order.
func (s *Store) ListThumbnails(ctx context.Context, id string) ([]string, error) {
	files, _, err := s.backend.ListDir(ctx, BucketRaw, ThumbnailsPrefix(id))
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	return paths, nil
}

// ListDASHAdaptations derives quality names from the DASH layout, stripping
// the representation directory prefix.
func (s *Store) ListDASHAdaptations(ctx context.Context, id string) ([]string, error) {
	_, prefixes, err := s.backend.ListDir(ctx, BucketProcessed, DASHPrefix(id))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		names = append(names, strings.TrimPrefix(path.Base(p), "video_"))
	}
	return names, nil
}

// ListVideoIDs returns every video id that has artifacts in either bucket,
// whether or not a metadata document exists for it.
func (s *Store) ListVideoIDs(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	for _, bucket := range []Bucket{BucketRaw, BucketProcessed} {
		_, prefixes, err := s.backend.ListDir(ctx, bucket, videosPrefix)
		if err != nil {
			return nil, err
		}
		for _, p := range prefixes {
			seen[path.Base(p)] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
