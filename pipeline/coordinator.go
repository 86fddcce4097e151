// Package pipeline turns an uploaded original into playable renditions. The
// Coordinator schedules one background job per video: probe, thumbnails,
// ladder transcode to HLS and DASH, manifest generation, presigning. Jobs
// never block the API handlers; progress and failures land on the video
// record, which is the single source of truth throughout.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/clipstream/vod-api/analytics"
	"github.com/clipstream/vod-api/cache"
	"github.com/clipstream/vod-api/clients"
	"github.com/clipstream/vod-api/config"
	vodErrs "github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/events"
	"github.com/clipstream/vod-api/log"
	"github.com/clipstream/vod-api/metrics"
	"github.com/clipstream/vod-api/storage"
	"github.com/clipstream/vod-api/thumbnails"
	"github.com/clipstream/vod-api/transcode"
	"github.com/clipstream/vod-api/video"
)

// maxErrorMessageRunes caps the failure text stored on a record. Stderr from
// a transcode can run to megabytes; operators get the head of it.
const maxErrorMessageRunes = 500

// JobInfo represents the state of a single processing job.
type JobInfo struct {
	mu sync.Mutex

	VideoID    string
	OwnerID    string
	CompanyID  string
	SourcePath string
	StartedAt  time.Time

	result chan bool
}

// Options tune the media work of one coordinator instance.
type Options struct {
	HLSSegmentDuration  int
	DASHSegmentDuration int
	FFmpegThreads       int
	ThumbnailCount      int
	SkipUpscale         bool
	EnablePreviews      bool
	AllowedFormats      []string
}

func (o Options) withDefaults() Options {
	if o.HLSSegmentDuration <= 0 {
		o.HLSSegmentDuration = config.DefaultHLSSegmentDuration
	}
	if o.DASHSegmentDuration <= 0 {
		o.DASHSegmentDuration = config.DefaultDASHSegmentDuration
	}
	if o.ThumbnailCount <= 0 {
		o.ThumbnailCount = config.DefaultThumbnailCount
	}
	if len(o.AllowedFormats) == 0 {
		o.AllowedFormats = config.DefaultAllowedFormats
	}
	return o
}

// Toolbox is the set of media operations the pipeline drives. Production use
// gets DefaultToolbox; tests swap in stubs so no ffmpeg binary is needed.
type Toolbox struct {
	Probe         func(videoID, path string) (video.MediaInfo, error)
	TranscodeHLS  func(ctx context.Context, req transcode.Request) ([]video.Segment, error)
	TranscodeDASH func(ctx context.Context, req transcode.Request) ([]video.DashSegment, error)
	Stills        func(ctx context.Context, source, dir string, count int, duration float64) ([]string, error)
	Poster        func(ctx context.Context, source, out string, duration float64) error
	Animated      func(ctx context.Context, source, out string, clipSeconds, duration float64) error
}

func DefaultToolbox(allowedFormats []string) Toolbox {
	prober := video.Probe{AllowedFormats: allowedFormats}
	return Toolbox{
		Probe: func(videoID, path string) (video.MediaInfo, error) {
			return prober.ProbeFile(videoID, path)
		},
		TranscodeHLS:  transcode.HLS,
		TranscodeDASH: transcode.DASH,
		Stills:        thumbnails.GenerateStills,
		Poster:        thumbnails.GeneratePoster,
		Animated:      thumbnails.GenerateAnimated,
	}
}

// Coordinator provides the main interface to processing. It is called from
// the API handlers and never blocks on execution; the work runs in background
// goroutines, one per video, with the fan-out inside each job bounded by
// config.TranscodingParallelJobs.
type Coordinator struct {
	store     *storage.Store
	authz     clients.AuthZ
	publisher events.Publisher
	sink      analytics.Sink

	ladder  []video.QualityProfile
	options Options
	tools   Toolbox

	// startMu makes the check-then-schedule in start atomic so one video
	// never gets two jobs.
	startMu sync.Mutex
	Jobs    *cache.Cache[*JobInfo]
}

func NewCoordinator(store *storage.Store, authz clients.AuthZ, publisher events.Publisher, sink analytics.Sink, ladder []video.QualityProfile, options Options) *Coordinator {
	options = options.withDefaults()
	return NewCoordinatorWithTools(store, authz, publisher, sink, ladder, options, DefaultToolbox(options.AllowedFormats))
}

// NewCoordinatorWithTools is NewCoordinator with the media operations swapped
// out, for tests that must not shell out to ffmpeg.
func NewCoordinatorWithTools(store *storage.Store, authz clients.AuthZ, publisher events.Publisher, sink analytics.Sink, ladder []video.QualityProfile, options Options, tools Toolbox) *Coordinator {
	if len(ladder) == 0 {
		ladder = video.DefaultQualityLadder
	}
	return &Coordinator{
		store:     store,
		authz:     authz,
		publisher: publisher,
		sink:      sink,
		ladder:    ladder,
		options:   options.withDefaults(),
		tools:     tools,
		Jobs:      cache.New[*JobInfo](),
	}
}

// StartProcessing moves an uploaded video to processing and schedules the
// pipeline for it. The status change is persisted before this returns, so a
// crash right after leaves a record the janitor's stall sweep will recover.
func (c *Coordinator) StartProcessing(ctx context.Context, id string) error {
	_, err := c.start(ctx, id)
	return err
}

func (c *Coordinator) start(ctx context.Context, id string) (*JobInfo, error) {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.Jobs.Get(id) != nil {
		return nil, fmt.Errorf("video %s is already being processed: %w", id, vodErrs.ErrConflict)
	}

	record, err := c.store.UpdateMetadata(ctx, id, func(r *video.Record) error {
		if r.Status != video.StatusUploaded {
			return fmt.Errorf("video is %s, not uploaded: %w", r.Status, vodErrs.ErrConflict)
		}
		r.Status = video.StatusProcessing
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.AddContext(id, "source", record.OutputPath)
	job := &JobInfo{
		VideoID:    record.ID,
		OwnerID:    record.OwnerID,
		CompanyID:  record.CompanyID,
		SourcePath: record.OutputPath,
		StartedAt:  time.Now(),
		result:     make(chan bool, 1),
	}
	c.Jobs.Store(job.VideoID, job)
	metrics.Metrics.ProcessingJobsInFlight.Inc()
	log.Log(job.VideoID, "processing scheduled")

	c.runProcessingAsync(job)
	return job, nil
}

// InFlightJobs is used by the HTTP shell for its capacity check.
func (c *Coordinator) InFlightJobs() int {
	return c.Jobs.Len()
}

// runProcessingAsync runs the pipeline for one job in a background goroutine.
// It locks the JobInfo for the duration and converts panics into ordinary
// failures so a bad input can never take the service down.
func (c *Coordinator) runProcessingAsync(job *JobInfo) {
	// nolint:errcheck
	go recovered(func() (t bool, e error) {
		job.mu.Lock()
		defer job.mu.Unlock()

		_, err := recovered(func() (bool, error) {
			return true, c.processVideo(job)
		})
		c.finishJob(job, err)
		return
	})
}

// finishJob persists the outcome, emits the post-persistence signals and
// drops the job from the cache. A missing record means the video was
// cancelled mid-flight; the outcome is then dropped silently.
func (c *Coordinator) finishJob(job *JobInfo, procErr error) {
	defer close(job.result)
	ctx := context.Background()
	success := procErr == nil
	cancelled := false

	if procErr != nil {
		message := truncateMessage(procErr.Error(), maxErrorMessageRunes)
		_, err := c.store.UpdateMetadata(ctx, job.VideoID, func(r *video.Record) error {
			r.Status = video.StatusError
			r.ErrorMessage = message
			return nil
		})
		switch {
		case err == nil:
			log.LogError(job.VideoID, "processing failed", procErr)
		case vodErrs.IsNotFound(err):
			cancelled = true
			log.Log(job.VideoID, "video disappeared during processing, dropping job")
		default:
			log.LogError(job.VideoID, "error marking video failed", err, "cause", procErr)
		}
	}

	duration := time.Since(job.StartedAt)
	c.Jobs.Remove(job.VideoID)
	metrics.Metrics.ProcessingJobsInFlight.Dec()
	metrics.Metrics.PipelineResults.WithLabelValues(strconv.FormatBool(success)).Inc()
	metrics.Metrics.PipelineDurationSec.WithLabelValues(strconv.FormatBool(success)).Observe(duration.Seconds())

	if !cancelled {
		if err := c.publisher.Publish(ctx, events.TopicVideoEvents, events.VideoProcessed(job.VideoID, success)); err != nil {
			log.LogError(job.VideoID, "error publishing video_processed event", err)
		}
		c.sink.RecordProcessingTime(job.VideoID, job.OwnerID, job.CompanyID, duration.Seconds(), success)
	}

	log.Log(job.VideoID, "processing finished", "success", success, "duration", duration.String())
	job.result <- success
}

func truncateMessage(message string, limit int) string {
	runes := []rune(message)
	if len(runes) <= limit {
		return message
	}
	return string(runes[:limit])
}

func recovered[T any](f func() (T, error)) (t T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogNoVideoID("panic in processing goroutine, recovering", "err", rec)
			err = fmt.Errorf("panic in processing: %v", rec)
		}
	}()
	return f()
}
