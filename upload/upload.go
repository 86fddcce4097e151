// Package upload owns the chunked upload lifecycle: ticket issue, chunk
// receipt, composition into the original, cancel and retry. All record
// mutations for one video are serialised behind a per-id lock so that the
// final chunk and its finalize step appear atomic to concurrent uploaders.
package upload

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipstream/vod-api/analytics"
	"github.com/clipstream/vod-api/cache"
	"github.com/clipstream/vod-api/clients"
	"github.com/clipstream/vod-api/config"
	vodErrs "github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/events"
	"github.com/clipstream/vod-api/log"
	"github.com/clipstream/vod-api/metrics"
	"github.com/clipstream/vod-api/storage"
	"github.com/clipstream/vod-api/video"
)

// ticketTTL is how long an upload ticket stays usable. Videos that never
// finish their upload become janitor fodder well after this window.
const ticketTTL = 24 * time.Hour

// Request carries the client-declared facts about an upload. TotalChunks is
// optional here; the first chunk pins it either way.
type Request struct {
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type"`
	DeclaredSize int64  `json:"declared_size"`
	TotalChunks  int    `json:"total_chunks"`
	Title        string `json:"title"`
	Description  string `json:"description"`
}

// Ticket tells the client where to send chunks and until when.
type Ticket struct {
	VideoID        string    `json:"video_id"`
	UploadEndpoint string    `json:"upload_endpoint"`
	ChunkSize      int64     `json:"chunk_size"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Coordinator drives uploads from initialization to the composed original.
type Coordinator struct {
	store     *storage.Store
	authz     clients.AuthZ
	publisher events.Publisher
	sink      analytics.Sink

	chunkSize      int64
	allowedFormats []string

	// Clock stamps records and ticket expiries. Tests pin it to a fixed
	// instant; everything else runs on the real one.
	Clock config.Clock

	// locks serialises chunk receipt per video id. The store keeps its own
	// lock for metadata writes; that one always nests inside this one, never
	// the other way around.
	locks *cache.KeyedMutex
}

func NewCoordinator(store *storage.Store, authz clients.AuthZ, publisher events.Publisher, sink analytics.Sink, chunkSize int64, allowedFormats []string) *Coordinator {
	return &Coordinator{
		store:          store,
		authz:          authz,
		publisher:      publisher,
		sink:           sink,
		chunkSize:      chunkSize,
		allowedFormats: allowedFormats,
		Clock:          config.RealClock{},
		locks:          cache.NewKeyedMutex(),
	}
}

// ChunkSize is the maximum chunk body the coordinator was configured for.
// The HTTP shell enforces it; the coordinator only advertises it on tickets.
func (c *Coordinator) ChunkSize() int64 { return c.chunkSize }

// Initialize validates the upload against the format allow-list and the
// authorization service, creates the pending record and issues a ticket.
// Nothing is written if any check refuses.
func (c *Coordinator) Initialize(ctx context.Context, owner clients.User, req Request) (*video.Record, Ticket, error) {
	metrics.Metrics.UploadRequestCount.Inc()

	if !extensionAllowed(req.Filename, c.allowedFormats) {
		return nil, Ticket{}, fmt.Errorf("%s: %w", req.Filename, vodErrs.ErrInvalidFormat)
	}

	companyUser, err := c.authz.GetCompanyUser(ctx, owner.ID, owner.CompanyID)
	if err != nil {
		return nil, Ticket{}, fmt.Errorf("error resolving company membership: %w", err)
	}
	if err := c.authz.CheckUploadPermission(ctx, companyUser.ID); err != nil {
		return nil, Ticket{}, err
	}
	if err := c.authz.CheckStorageLimit(ctx, companyUser.ID, req.DeclaredSize); err != nil {
		return nil, Ticket{}, err
	}

	now := c.Clock.Now()
	record := &video.Record{
		ID:                uuid.New().String(),
		OwnerID:           owner.ID,
		CompanyID:         owner.CompanyID,
		Filename:          req.Filename,
		ContentType:       req.ContentType,
		DeclaredSize:      req.DeclaredSize,
		Title:             req.Title,
		Description:       req.Description,
		Status:            video.StatusPending,
		TotalChunks:       req.TotalChunks,
		CreatedAt:         now,
		CleanupEligible:   true,
		CleanupEligibleAt: now,
	}
	if err := c.store.SaveMetadata(ctx, record); err != nil {
		return nil, Ticket{}, fmt.Errorf("error saving metadata for %s: %w", record.ID, err)
	}

	log.AddContext(record.ID, "filename", req.Filename, "owner", owner.ID)
	log.Log(record.ID, "upload initialized", "declared_size", req.DeclaredSize, "total_chunks", req.TotalChunks)

	ticket := Ticket{
		VideoID:        record.ID,
		UploadEndpoint: fmt.Sprintf("/api/videos/%s/chunks", record.ID),
		ChunkSize:      c.chunkSize,
		ExpiresAt:      now.Add(ticketTTL),
	}
	return record, ticket, nil
}

// UploadChunk stores one chunk blob and updates the record's progress. The
// first chunk pins the total; later chunks must agree. Re-uploading an index
// overwrites the blob without bumping chunks_received. When the last distinct
// index lands, the upload is finalized before the lock is released, so the
// returned record is already `uploaded` and carries the output path.
func (c *Coordinator) UploadChunk(ctx context.Context, id string, index, total int, body io.Reader, owner string) (*video.Record, error) {
	defer c.locks.Lock(id)()

	record, err := c.store.GetMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.OwnerID != owner {
		return nil, fmt.Errorf("video %s does not belong to the caller: %w", id, vodErrs.ErrForbidden)
	}
	if record.Status != video.StatusPending && record.Status != video.StatusUploading {
		return nil, fmt.Errorf("video is already %s: %w", record.Status, vodErrs.ErrConflict)
	}
	if total <= 0 {
		return nil, fmt.Errorf("declared chunk count %d: %w", total, vodErrs.ErrInvalidChunkCount)
	}
	if record.TotalChunks > 0 && total != record.TotalChunks {
		return nil, fmt.Errorf("chunk count changed from %d to %d: %w", record.TotalChunks, total, vodErrs.ErrInvalidChunkCount)
	}
	if index < 0 || index >= total {
		return nil, fmt.Errorf("chunk %d of %d: %w", index, total, vodErrs.ErrInvalidChunkIndex)
	}

	counted := storage.NewReadCounter(body)
	if err := c.store.SaveChunk(ctx, id, index, counted); err != nil {
		return nil, fmt.Errorf("error saving chunk %d for %s: %w", index, id, err)
	}
	metrics.Metrics.ChunkUploadCount.Inc()
	metrics.Metrics.ChunkUploadBytes.Add(float64(counted.Count()))

	record, err = c.store.UpdateMetadata(ctx, id, func(r *video.Record) error {
		if r.TotalChunks == 0 {
			r.TotalChunks = total
		}
		r.MarkChunkReceived(index)
		if r.Status == video.StatusPending {
			r.Status = video.StatusUploading
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Log(id, "chunk received", "index", index, "received", record.ChunksReceived, "total", record.TotalChunks, "bytes", counted.Count())

	if record.AllChunksReceived() {
		return c.finalize(ctx, record)
	}
	return record, nil
}

// finalize composes the chunks into the original, in numeric order, and
// advances the record to uploaded. Callers hold the video's upload lock.
func (c *Coordinator) finalize(ctx context.Context, record *video.Record) (*video.Record, error) {
	outputPath, err := c.store.ComposeChunks(ctx, record.ID, record.Filename, record.TotalChunks)
	if err != nil {
		return nil, fmt.Errorf("error composing %d chunks for %s: %w", record.TotalChunks, record.ID, err)
	}

	record, err = c.store.UpdateMetadata(ctx, record.ID, func(r *video.Record) error {
		r.Status = video.StatusUploaded
		r.OutputPath = outputPath
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.Metrics.UploadsFinalizedCount.Inc()
	log.Log(record.ID, "upload finalized", "output_path", outputPath, "total_chunks", record.TotalChunks)

	// Downstream consumers only ever see uploads that are already durable.
	// Neither a dead bus nor a dead sink rolls the upload back.
	if err := c.publisher.Publish(ctx, events.TopicVideoEvents, events.VideoUploaded(record.ID, record.OwnerID, record.CompanyID)); err != nil {
		log.LogError(record.ID, "error publishing video_uploaded event", err)
	}
	c.sink.RecordUpload(record.ID, record.OwnerID, record.CompanyID, record.DeclaredSize)
	return record, nil
}

// Status returns the record for its owner.
func (c *Coordinator) Status(ctx context.Context, id, owner string) (*video.Record, error) {
	record, err := c.store.GetMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.OwnerID != owner {
		return nil, fmt.Errorf("video %s does not belong to the caller: %w", id, vodErrs.ErrForbidden)
	}
	return record, nil
}

// Cancel removes every trace of a non-terminal video: chunk blobs, the
// composed original, any processed renditions, and the metadata document.
// A video mid-processing loses its record here; the pipeline notices at its
// next metadata write and abandons the job.
func (c *Coordinator) Cancel(ctx context.Context, id, owner string) error {
	defer c.locks.Lock(id)()
	return c.cancelLocked(ctx, id, owner)
}

func (c *Coordinator) cancelLocked(ctx context.Context, id, owner string) error {
	record, err := c.store.GetMetadata(ctx, id)
	if err != nil {
		return err
	}
	if record.OwnerID != owner {
		return fmt.Errorf("video %s does not belong to the caller: %w", id, vodErrs.ErrForbidden)
	}
	if record.Status.Terminal() {
		return fmt.Errorf("video is already %s: %w", record.Status, vodErrs.ErrConflict)
	}
	if err := c.store.DeleteVideo(ctx, id); err != nil {
		return fmt.Errorf("error deleting video %s: %w", id, err)
	}
	metrics.Metrics.UploadsCancelledCount.Inc()
	log.Log(id, "upload cancelled", "status_at_cancel", string(record.Status))
	return nil
}

// Retry takes the one legal back-edge, error to pending, clears the failure
// message, and then re-drives the forward chain as far as the surviving
// artifacts allow. A video whose chunks are all present is re-composed and
// lands back on uploaded; one whose chunks are gone but whose original
// survived skips straight there. A mid-upload failure stays pending so the
// client can resume sending chunks.
func (c *Coordinator) Retry(ctx context.Context, id, owner string) (*video.Record, error) {
	defer c.locks.Lock(id)()

	record, err := c.store.UpdateMetadata(ctx, id, func(r *video.Record) error {
		if r.OwnerID != owner {
			return fmt.Errorf("video %s does not belong to the caller: %w", id, vodErrs.ErrForbidden)
		}
		if r.Status != video.StatusError {
			return fmt.Errorf("video is %s, only failed videos can be retried: %w", r.Status, vodErrs.ErrConflict)
		}
		r.Status = video.StatusPending
		r.ErrorMessage = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Log(id, "retry requested", "chunks_received", record.ChunksReceived, "total_chunks", record.TotalChunks)

	if !record.AllChunksReceived() {
		return record, nil
	}

	record, err = c.store.UpdateMetadata(ctx, id, func(r *video.Record) error {
		r.Status = video.StatusUploading
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunksPresent, err := c.store.ChunksPresent(ctx, id)
	if err != nil {
		return nil, err
	}
	if chunksPresent {
		return c.finalize(ctx, record)
	}
	if record.OutputPath == "" {
		return record, nil
	}
	return c.store.UpdateMetadata(ctx, id, func(r *video.Record) error {
		r.Status = video.StatusUploaded
		return nil
	})
}

func extensionAllowed(filename string, allowed []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	for _, candidate := range allowed {
		if ext == candidate {
			return true
		}
	}
	return false
}
