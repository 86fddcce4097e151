package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"gopkg.in/vansante/go-ffprobe.v2"

	vodErrs "github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/log"
	"github.com/clipstream/vod-api/subprocess"
	"github.com/clipstream/vod-api/video"
)

const (
	hlsPlaylistName   = "playlist.m3u8"
	hlsSegmentPattern = "segment_%03d.ts"

	dashManifestName   = "manifest.mpd"
	dashInitName       = "init.mp4"
	dashSegmentPattern = "segment-%d.m4s"

	segmentProbeTimeout = 15 * time.Second
)

// Request describes one rendition job: encode Source at Profile into
// OutputDir. Requests on disjoint output dirs are safe to run concurrently.
type Request struct {
	Source          string
	Profile         video.QualityProfile
	SegmentDuration int
	OutputDir       string
	Threads         int
}

// probeSegmentDuration is swappable in tests.
var probeSegmentDuration = func(ctx context.Context, path string) (float64, error) {
	probeCtx, cancel := context.WithTimeout(ctx, segmentProbeTimeout)
	defer cancel()
	data, err := ffprobe.ProbeURL(probeCtx, path)
	if err != nil {
		return 0, err
	}
	return data.Format.DurationSeconds, nil
}

// HLS encodes one HLS rendition and returns its segments in index order.
// ffmpeg's own playlist is written to the output dir but callers are expected
// to build their own from the returned segments.
func HLS(ctx context.Context, req Request) ([]video.Segment, error) {
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to make output dir: %w", err)
	}

	args := encoderArgs(req)
	args["hls_time"] = strconv.Itoa(req.SegmentDuration)
	args["hls_list_size"] = "0"
	args["hls_segment_filename"] = filepath.Join(req.OutputDir, hlsSegmentPattern)
	args["f"] = "hls"

	if err := runFFmpeg(ctx, req.Source, filepath.Join(req.OutputDir, hlsPlaylistName), args); err != nil {
		return nil, err
	}
	return scanHLSSegments(ctx, req.OutputDir, float64(req.SegmentDuration))
}

// DASH encodes one DASH representation and returns its timeline in segment
// order. ffmpeg's manifest is a throwaway; init.mp4 and the media segments
// are the real outputs.
func DASH(ctx context.Context, req Request) ([]video.DashSegment, error) {
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to make output dir: %w", err)
	}

	args := encoderArgs(req)
	args["use_timeline"] = "1"
	args["use_template"] = "1"
	args["init_seg_name"] = dashInitName
	args["media_seg_name"] = "segment-$Number$.m4s"
	args["seg_duration"] = strconv.Itoa(req.SegmentDuration)
	args["adaptation_sets"] = "id=0,streams=v id=1,streams=a"
	args["f"] = "dash"

	if err := runFFmpeg(ctx, req.Source, filepath.Join(req.OutputDir, dashManifestName), args); err != nil {
		return nil, err
	}
	return scanDASHSegments(ctx, req.OutputDir, int64(req.SegmentDuration)*1000)
}

// encoderArgs is the H.264/AAC core shared by both packagings. The keyframe
// cadence is pinned to the segment duration so segment cuts land on IDRs.
func encoderArgs(req Request) ffmpeg.KwArgs {
	args := ffmpeg.KwArgs{
		"c:v":          "libx264",
		"c:a":          "aac",
		"b:v":          strconv.FormatInt(req.Profile.VideoBitrate, 10),
		"b:a":          strconv.FormatInt(req.Profile.AudioBitrate, 10),
		"s":            req.Profile.Resolution(),
		"profile:v":    "main",
		"level":        "3.1",
		"g":            strconv.Itoa(2 * req.SegmentDuration),
		"keyint_min":   strconv.Itoa(req.SegmentDuration),
		"sc_threshold": "0",
	}
	if req.Threads > 0 {
		args["threads"] = strconv.Itoa(req.Threads)
	}
	return args
}

func runFFmpeg(ctx context.Context, source, output string, args ffmpeg.KwArgs) error {
	var ffmpegErr bytes.Buffer
	cmd := ffmpeg.
		Input(source).
		Output(output, args).
		OverWriteOutput().
		WithErrorOutput(&ffmpegErr).
		Compile()
	if err := subprocess.Run(ctx, cmd); err != nil {
		return vodErrs.NewTranscodeError(err, ffmpegErr.String())
	}
	return nil
}

// scanHLSSegments walks segment_000.ts, segment_001.ts, ... until the first
// gap. Durations are re-probed from the actual files since ffmpeg only hits
// the nominal segment duration on keyframe boundaries; a failed probe falls
// back to the nominal value.
func scanHLSSegments(ctx context.Context, dir string, nominal float64) ([]video.Segment, error) {
	var segments []video.Segment
	for i := 0; ; i++ {
		name := fmt.Sprintf(hlsSegmentPattern, i)
		full := filepath.Join(dir, name)
		if _, err := os.Stat(full); err != nil {
			break
		}
		duration, err := probeSegmentDuration(ctx, full)
		if err != nil || duration <= 0 {
			log.LogNoVideoID("segment probe failed, using nominal duration", "segment", full, "err", err)
			duration = nominal
		}
		segments = append(segments, video.Segment{Index: i, Filename: name, Duration: duration})
	}
	if len(segments) == 0 {
		return nil, vodErrs.NewTranscodeError(fmt.Errorf("no segments produced in %s", dir), "")
	}
	return segments, nil
}

// scanDASHSegments walks segment-1.m4s, segment-2.m4s, ... start times
// accumulate from zero in milliseconds.
func scanDASHSegments(ctx context.Context, dir string, nominalMS int64) ([]video.DashSegment, error) {
	var segments []video.DashSegment
	var startMS int64
	for n := 1; ; n++ {
		full := filepath.Join(dir, fmt.Sprintf(dashSegmentPattern, n))
		if _, err := os.Stat(full); err != nil {
			break
		}
		durationMS := nominalMS
		if duration, err := probeSegmentDuration(ctx, full); err == nil && duration > 0 {
			durationMS = int64(duration * 1000)
		} else {
			log.LogNoVideoID("segment probe failed, using nominal duration", "segment", full, "err", err)
		}
		segments = append(segments, video.DashSegment{Number: n, StartMS: startMS, DurationMS: durationMS})
		startMS += durationMS
	}
	if len(segments) == 0 {
		return nil, vodErrs.NewTranscodeError(fmt.Errorf("no segments produced in %s", dir), "")
	}
	return segments, nil
}
