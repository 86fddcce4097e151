package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clipstream/vod-api/analytics"
	"github.com/clipstream/vod-api/clients"
	"github.com/clipstream/vod-api/config"
	vodErrs "github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/events"
	"github.com/clipstream/vod-api/storage"
	"github.com/clipstream/vod-api/video"
)

type fixture struct {
	coordinator *Coordinator
	store       *storage.Store
	bus         *events.Recorder
	sink        *analytics.Recorder
	owner       clients.User
}

func newFixture(t *testing.T) *fixture {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	store := storage.NewStore(backend, time.Hour)
	bus := events.NewRecorder()
	sink := analytics.NewRecorder()
	return &fixture{
		coordinator: NewCoordinator(store, clients.NoopAuthZ{}, bus, sink, config.DefaultChunkSize, config.DefaultAllowedFormats),
		store:       store,
		bus:         bus,
		sink:        sink,
		owner:       clients.User{ID: "user-1", CompanyID: "company-1"},
	}
}

func (f *fixture) initialize(t *testing.T, filename string) *video.Record {
	record, ticket, err := f.coordinator.Initialize(context.Background(), f.owner, Request{
		Filename:     filename,
		DeclaredSize: 1024,
	})
	require.NoError(t, err)
	require.Equal(t, record.ID, ticket.VideoID)
	return record
}

func TestInitializeIssuesTicket(t *testing.T) {
	f := newFixture(t)
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.coordinator.Clock = config.FixedClock{Instant: frozen}

	record, ticket, err := f.coordinator.Initialize(context.Background(), f.owner, Request{
		Filename:     "movie.mp4",
		DeclaredSize: 2048,
		Title:        "launch keynote",
	})
	require.NoError(t, err)
	require.Equal(t, video.StatusPending, record.Status)
	require.True(t, record.CleanupEligible)
	require.Equal(t, frozen, record.CreatedAt)
	require.Equal(t, frozen, record.CleanupEligibleAt)
	require.Equal(t, "/api/videos/"+record.ID+"/chunks", ticket.UploadEndpoint)
	require.Equal(t, int64(config.DefaultChunkSize), ticket.ChunkSize)
	require.Equal(t, frozen.Add(24*time.Hour), ticket.ExpiresAt)

	// The record is immediately visible to its owner and to nobody else.
	loaded, err := f.coordinator.Status(context.Background(), record.ID, f.owner.ID)
	require.NoError(t, err)
	require.Equal(t, "launch keynote", loaded.Title)
	_, err = f.coordinator.Status(context.Background(), record.ID, "stranger")
	require.ErrorIs(t, err, vodErrs.ErrForbidden)
}

func TestInitializeRejectsUnknownExtensions(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.coordinator.Initialize(context.Background(), f.owner, Request{Filename: "notes.txt"})
	require.ErrorIs(t, err, vodErrs.ErrInvalidFormat)

	_, _, err = f.coordinator.Initialize(context.Background(), f.owner, Request{Filename: "no-extension"})
	require.ErrorIs(t, err, vodErrs.ErrInvalidFormat)

	// Extension matching is case-insensitive.
	_, _, err = f.coordinator.Initialize(context.Background(), f.owner, Request{Filename: "MOVIE.MP4"})
	require.NoError(t, err)
}

type denyingAuthZ struct {
	clients.NoopAuthZ
	uploadErr  error
	storageErr error
}

func (d denyingAuthZ) CheckUploadPermission(ctx context.Context, companyUserID string) error {
	return d.uploadErr
}

func (d denyingAuthZ) CheckStorageLimit(ctx context.Context, companyUserID string, fileSize int64) error {
	return d.storageErr
}

func TestInitializeStopsAtAuthorizationDenials(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	store := storage.NewStore(backend, time.Hour)
	owner := clients.User{ID: "user-1", CompanyID: "company-1"}

	denied := NewCoordinator(store, denyingAuthZ{uploadErr: fmt.Errorf("uploads disabled: %w", vodErrs.ErrForbidden)}, events.NewRecorder(), analytics.NewRecorder(), config.DefaultChunkSize, config.DefaultAllowedFormats)
	_, _, err = denied.Initialize(context.Background(), owner, Request{Filename: "movie.mp4"})
	require.ErrorIs(t, err, vodErrs.ErrForbidden)

	overQuota := NewCoordinator(store, denyingAuthZ{storageErr: fmt.Errorf("plan limit reached: %w", vodErrs.ErrQuotaExceeded)}, events.NewRecorder(), analytics.NewRecorder(), config.DefaultChunkSize, config.DefaultAllowedFormats)
	_, _, err = overQuota.Initialize(context.Background(), owner, Request{Filename: "movie.mp4", DeclaredSize: 1 << 40})
	require.ErrorIs(t, err, vodErrs.ErrQuotaExceeded)

	// Denied initializations leave no metadata behind.
	records, err := store.ListVideos(context.Background(), nil, 0, 10)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestChunksComposeInIndexOrderRegardlessOfArrival(t *testing.T) {
	f := newFixture(t)
	record := f.initialize(t, "movie.mp4")
	ctx := context.Background()

	chunks := [][]byte{
		bytes.Repeat([]byte{'a'}, 1024),
		bytes.Repeat([]byte{'b'}, 1024),
		bytes.Repeat([]byte{'c'}, 512),
	}
	want := sha256.Sum256(bytes.Join(chunks, nil))

	updated, err := f.coordinator.UploadChunk(ctx, record.ID, 2, len(chunks), bytes.NewReader(chunks[2]), f.owner.ID)
	require.NoError(t, err)
	require.Equal(t, video.StatusUploading, updated.Status)
	require.Equal(t, 1, updated.ChunksReceived)

	_, err = f.coordinator.UploadChunk(ctx, record.ID, 0, len(chunks), bytes.NewReader(chunks[0]), f.owner.ID)
	require.NoError(t, err)
	final, err := f.coordinator.UploadChunk(ctx, record.ID, 1, len(chunks), bytes.NewReader(chunks[1]), f.owner.ID)
	require.NoError(t, err)

	require.Equal(t, video.StatusUploaded, final.Status)
	require.Equal(t, "videos/"+record.ID+"/movie.mp4", final.OutputPath)
	require.Equal(t, float64(100), final.UploadProgress)

	rc, err := f.store.GetFile(ctx, final.OutputPath)
	require.NoError(t, err)
	defer rc.Close()
	composed, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, want, sha256.Sum256(composed))
}

func TestReuploadedChunkDoesNotDoubleCount(t *testing.T) {
	f := newFixture(t)
	record := f.initialize(t, "movie.mp4")
	ctx := context.Background()

	updated, err := f.coordinator.UploadChunk(ctx, record.ID, 0, 2, strings.NewReader("first attempt"), f.owner.ID)
	require.NoError(t, err)
	require.Equal(t, 1, updated.ChunksReceived)
	require.Equal(t, video.StatusUploading, updated.Status)

	// Same index again: the blob is overwritten, the count stays put.
	updated, err = f.coordinator.UploadChunk(ctx, record.ID, 0, 2, strings.NewReader("second attempt"), f.owner.ID)
	require.NoError(t, err)
	require.Equal(t, 1, updated.ChunksReceived)
	require.Equal(t, []int{0}, updated.ReceivedChunks)

	updated, err = f.coordinator.UploadChunk(ctx, record.ID, 1, 2, strings.NewReader("tail"), f.owner.ID)
	require.NoError(t, err)
	require.Equal(t, video.StatusUploaded, updated.Status)

	rc, err := f.store.GetFile(ctx, updated.OutputPath)
	require.NoError(t, err)
	defer rc.Close()
	composed, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "second attempttail", string(composed))
}

func TestChunkValidation(t *testing.T) {
	f := newFixture(t)
	record := f.initialize(t, "movie.mp4")
	ctx := context.Background()

	_, err := f.coordinator.UploadChunk(ctx, record.ID, 0, 3, strings.NewReader("aaa"), "someone-else")
	require.ErrorIs(t, err, vodErrs.ErrForbidden)

	_, err = f.coordinator.UploadChunk(ctx, record.ID, 0, 0, strings.NewReader("aaa"), f.owner.ID)
	require.ErrorIs(t, err, vodErrs.ErrInvalidChunkCount)

	_, err = f.coordinator.UploadChunk(ctx, record.ID, 3, 3, strings.NewReader("aaa"), f.owner.ID)
	require.ErrorIs(t, err, vodErrs.ErrInvalidChunkIndex)

	_, err = f.coordinator.UploadChunk(ctx, record.ID, -1, 3, strings.NewReader("aaa"), f.owner.ID)
	require.ErrorIs(t, err, vodErrs.ErrInvalidChunkIndex)

	_, err = f.coordinator.UploadChunk(ctx, record.ID, 0, 3, strings.NewReader("aaa"), f.owner.ID)
	require.NoError(t, err)

	// The first chunk pinned the total; it cannot move afterwards.
	_, err = f.coordinator.UploadChunk(ctx, record.ID, 1, 4, strings.NewReader("bbb"), f.owner.ID)
	require.ErrorIs(t, err, vodErrs.ErrInvalidChunkCount)

	_, err = f.coordinator.UploadChunk(ctx, "no-such-video", 0, 3, strings.NewReader("aaa"), f.owner.ID)
	require.ErrorIs(t, err, vodErrs.ErrNotFound)
}

func TestChunkAfterFinalizeIsRejected(t *testing.T) {
	f := newFixture(t)
	record := f.initialize(t, "movie.mp4")
	ctx := context.Background()

	_, err := f.coordinator.UploadChunk(ctx, record.ID, 0, 1, strings.NewReader("all of it"), f.owner.ID)
	require.NoError(t, err)

	_, err = f.coordinator.UploadChunk(ctx, record.ID, 0, 1, strings.NewReader("too late"), f.owner.ID)
	require.ErrorIs(t, err, vodErrs.ErrConflict)
}

func TestFinalizePublishesEventAndAnalyticsRow(t *testing.T) {
	f := newFixture(t)
	record := f.initialize(t, "movie.mp4")

	_, err := f.coordinator.UploadChunk(context.Background(), record.ID, 0, 1, strings.NewReader("whole thing"), f.owner.ID)
	require.NoError(t, err)

	published := f.bus.ByType(events.TypeVideoUploaded)
	require.Len(t, published, 1)
	require.Equal(t, events.TopicVideoEvents, published[0].Topic)
	require.Equal(t, record.ID, published[0].Event.VideoID)
	require.Equal(t, f.owner.ID, published[0].Event.UserID)

	require.Equal(t, 1, f.sink.UploadCount())
	require.Equal(t, record.ID, f.sink.Uploads[0].VideoID)
	require.Equal(t, int64(1024), f.sink.Uploads[0].SizeBytes)
}

func TestParallelChunkUploadsAllLand(t *testing.T) {
	f := newFixture(t)
	record := f.initialize(t, "movie.mp4")
	ctx := context.Background()

	const total = 8
	var wg sync.WaitGroup
	errs := make([]error, total)
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coordinator.UploadChunk(ctx, record.ID, i, total, strings.NewReader(fmt.Sprintf("part-%d|", i)), f.owner.ID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	final, err := f.coordinator.Status(ctx, record.ID, f.owner.ID)
	require.NoError(t, err)
	require.Equal(t, video.StatusUploaded, final.Status)
	require.Equal(t, total, final.ChunksReceived)

	rc, err := f.store.GetFile(ctx, final.OutputPath)
	require.NoError(t, err)
	defer rc.Close()
	composed, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "part-0|part-1|part-2|part-3|part-4|part-5|part-6|part-7|", string(composed))
}

func TestCancelMidUploadRemovesEverything(t *testing.T) {
	f := newFixture(t)
	record := f.initialize(t, "movie.mp4")
	ctx := context.Background()

	_, err := f.coordinator.UploadChunk(ctx, record.ID, 0, 3, strings.NewReader("partial"), f.owner.ID)
	require.NoError(t, err)

	require.ErrorIs(t, f.coordinator.Cancel(ctx, record.ID, "someone-else"), vodErrs.ErrForbidden)
	require.NoError(t, f.coordinator.Cancel(ctx, record.ID, f.owner.ID))

	_, err = f.coordinator.Status(ctx, record.ID, f.owner.ID)
	require.ErrorIs(t, err, vodErrs.ErrNotFound)

	present, err := f.store.ChunksPresent(ctx, record.ID)
	require.NoError(t, err)
	require.False(t, present)

	// Cancelling twice reports the record gone.
	require.ErrorIs(t, f.coordinator.Cancel(ctx, record.ID, f.owner.ID), vodErrs.ErrNotFound)
}

func TestCancelRefusesTerminalRecords(t *testing.T) {
	f := newFixture(t)
	record := f.initialize(t, "movie.mp4")
	ctx := context.Background()

	_, err := f.coordinator.UploadChunk(ctx, record.ID, 0, 1, strings.NewReader("tiny"), f.owner.ID)
	require.NoError(t, err)

	// Walk the record to ready by hand.
	_, err = f.store.UpdateMetadata(ctx, record.ID, func(r *video.Record) error {
		r.Status = video.StatusProcessing
		return nil
	})
	require.NoError(t, err)
	_, err = f.store.UpdateMetadata(ctx, record.ID, func(r *video.Record) error {
		r.Status = video.StatusReady
		return nil
	})
	require.NoError(t, err)

	require.ErrorIs(t, f.coordinator.Cancel(ctx, record.ID, f.owner.ID), vodErrs.ErrConflict)
}

func TestRetryRewindsAndRedrivesCompletedUploads(t *testing.T) {
	f := newFixture(t)
	record := f.initialize(t, "movie.mp4")
	ctx := context.Background()

	_, err := f.coordinator.UploadChunk(ctx, record.ID, 0, 2, strings.NewReader("first"), f.owner.ID)
	require.NoError(t, err)
	_, err = f.coordinator.UploadChunk(ctx, record.ID, 1, 2, strings.NewReader("second"), f.owner.ID)
	require.NoError(t, err)

	// Fail it downstream.
	_, err = f.store.UpdateMetadata(ctx, record.ID, func(r *video.Record) error {
		r.Status = video.StatusProcessing
		return nil
	})
	require.NoError(t, err)
	_, err = f.store.UpdateMetadata(ctx, record.ID, func(r *video.Record) error {
		r.Status = video.StatusError
		r.ErrorMessage = "transcode blew up"
		return nil
	})
	require.NoError(t, err)

	retried, err := f.coordinator.Retry(ctx, record.ID, f.owner.ID)
	require.NoError(t, err)
	require.Equal(t, video.StatusUploaded, retried.Status)
	require.Empty(t, retried.ErrorMessage)
	require.Equal(t, "videos/"+record.ID+"/movie.mp4", retried.OutputPath)
}

func TestRetryLeavesIncompleteUploadsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record := &video.Record{
		ID:           "half-done",
		OwnerID:      f.owner.ID,
		Filename:     "movie.mp4",
		Status:       video.StatusError,
		ErrorMessage: "store lost the chunks",
		TotalChunks:  3,
	}
	record.MarkChunkReceived(0)
	require.NoError(t, f.store.SaveMetadata(ctx, record))

	retried, err := f.coordinator.Retry(ctx, "half-done", f.owner.ID)
	require.NoError(t, err)
	require.Equal(t, video.StatusPending, retried.Status)
	require.Empty(t, retried.ErrorMessage)

	// The client resumes from where it left off.
	_, err = f.coordinator.UploadChunk(ctx, "half-done", 0, 3, strings.NewReader("aaa"), f.owner.ID)
	require.NoError(t, err)
}

func TestRetryGuards(t *testing.T) {
	f := newFixture(t)
	record := f.initialize(t, "movie.mp4")
	ctx := context.Background()

	_, err := f.coordinator.Retry(ctx, record.ID, "someone-else")
	require.ErrorIs(t, err, vodErrs.ErrForbidden)

	// Only failed videos have anything to retry.
	_, err = f.coordinator.Retry(ctx, record.ID, f.owner.ID)
	require.ErrorIs(t, err, vodErrs.ErrConflict)
}
