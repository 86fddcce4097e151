// Package janitor reclaims storage the request path can no longer clean up:
// stalled processing jobs, videos past their retention window, blob trees
// with no metadata document, and chunk directories left behind after
// packaging.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/clipstream/vod-api/config"
	"github.com/clipstream/vod-api/metrics"
	"github.com/clipstream/vod-api/storage"
	"github.com/clipstream/vod-api/video"
)

const DefaultInterval = time.Hour

// Janitor periodically walks the metadata space and the blob trees and
// repairs what it finds. Every sweep is best effort per record: a failure is
// logged and counted, never fatal to the rest of the sweep.
type Janitor struct {
	store          *storage.Store
	interval       time.Duration
	stallHours     int
	expirationDays int

	// Clock anchors the stall and expiry cutoffs. Tests freeze it instead of
	// backdating every record under test.
	Clock config.Clock
}

func New(store *storage.Store, interval time.Duration, stallHours, expirationDays int) *Janitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if stallHours <= 0 {
		stallHours = config.DefaultStallHours
	}
	if expirationDays <= 0 {
		expirationDays = config.DefaultExpirationDays
	}
	return &Janitor{
		store:          store,
		interval:       interval,
		stallHours:     stallHours,
		expirationDays: expirationDays,
		Clock:          config.RealClock{},
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if err := j.RunOnce(ctx); err != nil {
			glog.Errorf("janitor sweep failed err=%v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes every sweep once. Only a failure to enumerate the store
// is returned; per-record failures are logged and counted.
func (j *Janitor) RunOnce(ctx context.Context) error {
	started := time.Now()
	records, err := j.store.ListVideos(ctx, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("error listing metadata for sweep: %w", err)
	}
	now := j.Clock.Now()
	for i := range records {
		j.sweepRecord(ctx, &records[i], now)
	}
	if err := j.sweepOrphans(ctx); err != nil {
		return err
	}
	glog.V(5).Infof("janitor sweep complete records=%d took=%s", len(records), time.Since(started))
	return nil
}

func (j *Janitor) sweepRecord(ctx context.Context, record *video.Record, now time.Time) {
	if j.expired(record, now) {
		j.expire(ctx, record)
		return
	}
	if record.Status == video.StatusProcessing && record.UpdatedAt.Before(j.stalledCutoff(now)) {
		j.failStalled(ctx, record, now)
		return
	}
	if record.Status == video.StatusReady {
		j.reapChunks(ctx, record)
	}
}

func (j *Janitor) expired(record *video.Record, now time.Time) bool {
	// A zero created_at predates retention bookkeeping; leave those alone.
	if !record.CleanupEligible || record.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(record.CreatedAt) > time.Duration(j.expirationDays)*24*time.Hour
}

func (j *Janitor) stalledCutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(j.stallHours) * time.Hour)
}

// failStalled moves a stuck processing record to error and drops its partial
// packaging outputs so a retry starts from a clean slate. The status is
// re-checked under the video lock: the job may have moved since the listing.
func (j *Janitor) failStalled(ctx context.Context, record *video.Record, now time.Time) {
	cutoff := j.stalledCutoff(now)
	message := fmt.Sprintf("Processing stalled for over %d hours", j.stallHours)
	_, err := j.store.UpdateMetadata(ctx, record.ID, func(r *video.Record) error {
		if r.Status != video.StatusProcessing || !r.UpdatedAt.Before(cutoff) {
			return storage.ErrSkipUpdate
		}
		r.Status = video.StatusError
		r.ErrorMessage = message
		return nil
	})
	if errors.Is(err, storage.ErrSkipUpdate) {
		return
	}
	if err != nil {
		glog.Errorf("error failing stalled video id=%s err=%v", record.ID, err)
		metrics.Metrics.JanitorSweepResults.WithLabelValues("stalled", "error").Inc()
		return
	}
	if err := j.store.DeleteProcessedOutputs(ctx, record.ID); err != nil {
		glog.Errorf("error deleting partial outputs of stalled video id=%s err=%v", record.ID, err)
	}
	glog.Infof("failed stalled video id=%s updated_at=%s", record.ID, record.UpdatedAt.Format(time.RFC3339))
	metrics.Metrics.JanitorSweepResults.WithLabelValues("stalled", "swept").Inc()
}

func (j *Janitor) expire(ctx context.Context, record *video.Record) {
	if err := j.store.DeleteVideo(ctx, record.ID); err != nil {
		glog.Errorf("error deleting expired video id=%s err=%v", record.ID, err)
		metrics.Metrics.JanitorSweepResults.WithLabelValues("expired", "error").Inc()
		return
	}
	glog.Infof("deleted expired video id=%s created_at=%s", record.ID, record.CreatedAt.Format(time.RFC3339))
	metrics.Metrics.JanitorSweepResults.WithLabelValues("expired", "swept").Inc()
}

// reapChunks removes chunk blobs that outlived a successful pipeline run.
// Only blobs are touched; the record stays as-is.
func (j *Janitor) reapChunks(ctx context.Context, record *video.Record) {
	present, err := j.store.ChunksPresent(ctx, record.ID)
	if err != nil {
		glog.Errorf("error checking leftover chunks id=%s err=%v", record.ID, err)
		metrics.Metrics.JanitorSweepResults.WithLabelValues("chunks", "error").Inc()
		return
	}
	if !present {
		return
	}
	if err := j.store.DeleteChunks(ctx, record.ID); err != nil {
		glog.Errorf("error deleting leftover chunks id=%s err=%v", record.ID, err)
		metrics.Metrics.JanitorSweepResults.WithLabelValues("chunks", "error").Inc()
		return
	}
	glog.Infof("deleted leftover chunks id=%s", record.ID)
	metrics.Metrics.JanitorSweepResults.WithLabelValues("chunks", "swept").Inc()
}

// sweepOrphans deletes blob trees whose metadata document is gone, the
// residue of interrupted cancels and deletes.
func (j *Janitor) sweepOrphans(ctx context.Context) error {
	ids, err := j.store.ListVideoIDs(ctx)
	if err != nil {
		return fmt.Errorf("error listing blob trees for sweep: %w", err)
	}
	for _, id := range ids {
		exists, err := j.store.MetadataExists(ctx, id)
		if err != nil {
			glog.Errorf("error checking metadata for blob tree id=%s err=%v", id, err)
			metrics.Metrics.JanitorSweepResults.WithLabelValues("orphans", "error").Inc()
			continue
		}
		if exists {
			continue
		}
		if err := j.store.DeleteVideo(ctx, id); err != nil {
			glog.Errorf("error deleting orphaned blob tree id=%s err=%v", id, err)
			metrics.Metrics.JanitorSweepResults.WithLabelValues("orphans", "error").Inc()
			continue
		}
		glog.Infof("deleted orphaned blob tree id=%s", id)
		metrics.Metrics.JanitorSweepResults.WithLabelValues("orphans", "swept").Inc()
	}
	return nil
}
