package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/clipstream/vod-api/config"
	vodErrs "github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/log"
	"github.com/clipstream/vod-api/manifest"
	"github.com/clipstream/vod-api/metrics"
	"github.com/clipstream/vod-api/storage"
	"github.com/clipstream/vod-api/transcode"
	"github.com/clipstream/vod-api/video"
)

// previewClipSeconds is the length of the animated preview clip.
const previewClipSeconds = 3.0

// processVideo is the full pipeline for one job. The record is already in
// processing when this runs; any error returned here moves it to error with
// the message preserved. Partial cloud artifacts are left behind on failure
// and cleaned up by the janitor.
func (c *Coordinator) processVideo(job *JobInfo) error {
	ctx := context.Background()

	scratch, err := os.MkdirTemp("", fmt.Sprintf("vod_%s_", job.VideoID))
	if err != nil {
		return fmt.Errorf("error creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	sourceFile, sourceHash, err := c.stageSource(ctx, job, scratch)
	if err != nil {
		return err
	}

	probeDone := stageTimer("probe")
	info, err := c.tools.Probe(job.VideoID, sourceFile)
	probeDone()
	if err != nil {
		return err
	}
	if _, err := c.store.UpdateMetadata(ctx, job.VideoID, func(r *video.Record) error {
		r.SourceMD5 = sourceHash.MD5()
		r.SourceSHA256 = sourceHash.SHA256()
		r.DurationSeconds = info.DurationSeconds
		r.Width = info.Width
		r.Height = info.Height
		r.ContainerFormat = info.ContainerFormat
		r.VideoCodec = info.VideoCodec
		r.AudioCodec = info.AudioCodec
		r.BitrateBPS = info.BitrateBPS
		return nil
	}); err != nil {
		return err
	}
	log.Log(job.VideoID, "source probed",
		"duration", info.DurationSeconds,
		"resolution", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"container", info.ContainerFormat,
		"video_codec", info.VideoCodec,
		"audio_codec", info.AudioCodec,
	)

	thumbnailURL, err := c.generateThumbnails(ctx, job, sourceFile, scratch, info.DurationSeconds)
	if err != nil {
		return err
	}

	ladder := video.SelectLadder(c.ladder, info.Width, info.Height, c.options.SkipUpscale)
	log.Log(job.VideoID, "ladder selected", "rungs", len(ladder), "configured", len(c.ladder))

	outputs, err := c.transcodeAll(ctx, job, sourceFile, scratch, ladder)
	if err != nil {
		return err
	}

	if err := c.writeManifests(ctx, job.VideoID, ladder, outputs, info.DurationSeconds); err != nil {
		return err
	}

	hlsURL, err := c.store.PresignHLS(ctx, job.VideoID)
	if err != nil {
		return err
	}
	dashURL, err := c.store.PresignDASH(ctx, job.VideoID)
	if err != nil {
		return err
	}
	record, err := c.store.UpdateMetadata(ctx, job.VideoID, func(r *video.Record) error {
		r.Status = video.StatusReady
		r.HLSMasterURL = hlsURL
		r.DashMPDURL = dashURL
		r.ThumbnailURL = thumbnailURL
		r.PlaybackURL = hlsURL
		return nil
	})
	if err != nil {
		return err
	}

	// The record is durable; everything from here is best effort.
	c.syncUpstream(ctx, record)
	return nil
}

// stageSource copies the composed original out of the store onto local disk
// so ffmpeg and ffprobe can seek in it. The copy is hashed on the way through
// so the record can carry the source checksums.
func (c *Coordinator) stageSource(ctx context.Context, job *JobInfo, scratch string) (string, *storage.ReadHasher, error) {
	defer stageTimer("stage_source")()

	if job.SourcePath == "" {
		return "", nil, fmt.Errorf("video %s has no composed original: %w", job.VideoID, vodErrs.ErrNotFound)
	}
	rc, err := c.store.GetFile(ctx, job.SourcePath)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	local := filepath.Join(scratch, "source"+strings.ToLower(filepath.Ext(job.SourcePath)))
	f, err := os.Create(local)
	if err != nil {
		return "", nil, fmt.Errorf("error creating staging file: %w", err)
	}
	defer f.Close()
	hasher := storage.NewReadHasher(rc)
	if _, err := io.Copy(f, hasher); err != nil {
		return "", nil, fmt.Errorf("error staging source for %s: %w", job.VideoID, err)
	}
	return local, hasher, nil
}

// generateThumbnails produces the still set, the poster and, when enabled,
// the animated preview, and uploads them. It returns the presigned URL of
// the primary thumbnail. The preview is a nicety: its failure is logged and
// the pipeline moves on.
func (c *Coordinator) generateThumbnails(ctx context.Context, job *JobInfo, source, scratch string, duration float64) (string, error) {
	defer stageTimer("thumbnails")()

	dir := filepath.Join(scratch, "thumbnails")
	stills, err := c.tools.Stills(ctx, source, dir, c.options.ThumbnailCount, duration)
	if err != nil {
		return "", err
	}
	for i, still := range stills {
		if err := c.saveFile(ctx, storage.ThumbnailPath(job.VideoID, i), still); err != nil {
			return "", err
		}
	}
	if len(stills) > 0 {
		if err := c.saveFile(ctx, storage.PrimaryThumbnailPath(job.VideoID), stills[0]); err != nil {
			return "", err
		}
	}

	poster := filepath.Join(scratch, "poster.jpg")
	if err := c.tools.Poster(ctx, source, poster, duration); err != nil {
		return "", err
	}
	if err := c.saveFile(ctx, storage.PosterPath(job.VideoID), poster); err != nil {
		return "", err
	}

	if c.options.EnablePreviews {
		preview := filepath.Join(scratch, "preview.gif")
		if err := c.tools.Animated(ctx, source, preview, previewClipSeconds, duration); err != nil {
			log.LogError(job.VideoID, "error generating animated preview", err)
		} else if err := c.saveFile(ctx, storage.PreviewPath(job.VideoID), preview); err != nil {
			return "", err
		}
	}

	if len(stills) == 0 {
		return "", nil
	}
	return c.store.Presign(ctx, storage.PrimaryThumbnailPath(job.VideoID))
}

// renditionOutputs collects the per-quality segment lists from the fan-out.
type renditionOutputs struct {
	mu   sync.Mutex
	hls  map[string][]video.Segment
	dash map[string][]video.DashSegment
}

// transcodeAll fans out one transcode per (quality, format) pair, bounded by
// config.TranscodingParallelJobs, and uploads each rendition's segments as it
// completes. The first failure cancels the rest of the group.
func (c *Coordinator) transcodeAll(ctx context.Context, job *JobInfo, source, scratch string, ladder []video.QualityProfile) (*renditionOutputs, error) {
	defer stageTimer("transcode")()

	outputs := &renditionOutputs{
		hls:  make(map[string][]video.Segment, len(ladder)),
		dash: make(map[string][]video.DashSegment, len(ladder)),
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(config.TranscodingParallelJobs)

	for _, profile := range ladder {
		profile := profile
		group.Go(func() error {
			return c.transcodeHLSRendition(groupCtx, job, source, scratch, profile, outputs)
		})
		group.Go(func() error {
			return c.transcodeDASHRendition(groupCtx, job, source, scratch, profile, outputs)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func (c *Coordinator) transcodeHLSRendition(ctx context.Context, job *JobInfo, source, scratch string, profile video.QualityProfile, outputs *renditionOutputs) error {
	start := time.Now()
	dir := filepath.Join(scratch, "hls", profile.Name)
	segments, err := c.tools.TranscodeHLS(ctx, transcode.Request{
		Source:          source,
		Profile:         profile,
		SegmentDuration: c.options.HLSSegmentDuration,
		OutputDir:       dir,
		Threads:         c.options.FFmpegThreads,
	})
	if err != nil {
		return err
	}
	metrics.Metrics.TranscodeDurationSec.WithLabelValues(profile.Name, "hls").Observe(time.Since(start).Seconds())
	log.Log(job.VideoID, "hls rendition transcoded", "quality", profile.Name, "segments", len(segments))

	for _, segment := range segments {
		local := filepath.Join(dir, segment.Filename)
		if err := c.saveFile(ctx, storage.HLSSegmentPath(job.VideoID, profile.Name, segment.Index), local); err != nil {
			return err
		}
	}

	outputs.mu.Lock()
	outputs.hls[profile.Name] = segments
	outputs.mu.Unlock()
	return nil
}

func (c *Coordinator) transcodeDASHRendition(ctx context.Context, job *JobInfo, source, scratch string, profile video.QualityProfile, outputs *renditionOutputs) error {
	start := time.Now()
	dir := filepath.Join(scratch, "dash", profile.Name)
	segments, err := c.tools.TranscodeDASH(ctx, transcode.Request{
		Source:          source,
		Profile:         profile,
		SegmentDuration: c.options.DASHSegmentDuration,
		OutputDir:       dir,
		Threads:         c.options.FFmpegThreads,
	})
	if err != nil {
		return err
	}
	metrics.Metrics.TranscodeDurationSec.WithLabelValues(profile.Name, "dash").Observe(time.Since(start).Seconds())
	log.Log(job.VideoID, "dash rendition transcoded", "quality", profile.Name, "segments", len(segments))

	if err := c.saveFile(ctx, storage.DASHInitPath(job.VideoID, profile.Name), filepath.Join(dir, "init.mp4")); err != nil {
		return err
	}
	for _, segment := range segments {
		local := filepath.Join(dir, fmt.Sprintf("segment-%d.m4s", segment.Number))
		if err := c.saveFile(ctx, storage.DASHSegmentPath(job.VideoID, profile.Name, segment.Number), local); err != nil {
			return err
		}
	}

	outputs.mu.Lock()
	outputs.dash[profile.Name] = segments
	outputs.mu.Unlock()
	return nil
}

// writeManifests renders and stores the HLS playlists and the DASH MPD.
// Renditions are emitted in ascending bandwidth order in both formats.
func (c *Coordinator) writeManifests(ctx context.Context, videoID string, ladder []video.QualityProfile, outputs *renditionOutputs, duration float64) error {
	defer stageTimer("manifests")()

	ordered := make([]video.QualityProfile, len(ladder))
	copy(ordered, ladder)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Bandwidth() < ordered[j].Bandwidth()
	})

	variants := make([]manifest.Variant, 0, len(ordered))
	sets := make([]manifest.AdaptationSet, 0, len(ordered))
	for _, profile := range ordered {
		variants = append(variants, manifest.Variant{
			Name:       profile.Name,
			Bandwidth:  int(profile.Bandwidth()),
			Resolution: profile.Resolution(),
		})

		playlist := manifest.HLSVariant(prefixedSegments(profile.Name, outputs.hls[profile.Name]))
		if err := c.store.SaveFile(ctx, storage.HLSVariantPath(videoID, profile.Name), strings.NewReader(playlist)); err != nil {
			return err
		}

		sets = append(sets, manifest.AdaptationSet{
			ID:        "video_" + profile.Name,
			MimeType:  "video/mp4",
			Codecs:    profile.Codecs,
			Width:     profile.Width,
			Height:    profile.Height,
			Bandwidth: int(profile.Bandwidth()),
			Timeline:  outputs.dash[profile.Name],
		})
	}

	master := manifest.HLSMaster(variants)
	if err := c.store.SaveFile(ctx, storage.HLSMasterPath(videoID), strings.NewReader(master)); err != nil {
		return err
	}

	mpd := manifest.DASHStatic(sets, duration, int64(c.options.DASHSegmentDuration)*1000)
	return c.store.SaveFile(ctx, storage.DASHMPDPath(videoID), strings.NewReader(mpd))
}

// prefixedSegments rewrites segment filenames relative to the variant
// playlist, which lives one directory above the segments.
func prefixedSegments(quality string, segments []video.Segment) []video.Segment {
	prefixed := make([]video.Segment, len(segments))
	copy(prefixed, segments)
	for i := range prefixed {
		prefixed[i].Filename = quality + "/" + prefixed[i].Filename
	}
	return prefixed
}

// syncUpstream pushes the processed facts to the authorization service and
// notifies it of readiness. The notification gets one extra attempt on an
// upstream timeout; nothing here can fail the pipeline.
func (c *Coordinator) syncUpstream(ctx context.Context, record *video.Record) {
	fields := map[string]interface{}{
		"status":       string(record.Status),
		"duration":     record.DurationSeconds,
		"width":        record.Width,
		"height":       record.Height,
		"playback_url": record.PlaybackURL,
	}
	if err := c.authz.UpdateVideoMetadata(ctx, record.ID, fields); err != nil {
		log.LogError(record.ID, "error syncing video metadata upstream", err)
	}

	operation := func() error {
		err := c.authz.NotifyVideoReady(ctx, record.ID, record.OwnerID)
		if err != nil && !vodErrs.IsUpstreamTimeout(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewConstantBackOff(250*time.Millisecond), 1)); err != nil {
		log.LogError(record.ID, "error sending readiness notification", err)
	}
}

// saveFile uploads one local artifact, retrying once when the backend
// reports a transient outage.
func (c *Coordinator) saveFile(ctx context.Context, objectPath, localPath string) error {
	operation := func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("error opening %s: %w", localPath, err))
		}
		defer f.Close()
		if err := c.store.SaveFile(ctx, objectPath, f); err != nil {
			if vodErrs.IsStorageUnavailable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}
	return backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewConstantBackOff(250*time.Millisecond), 1))
}

func stageTimer(stage string) func() {
	start := time.Now()
	return func() {
		metrics.Metrics.StageDurationSec.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
