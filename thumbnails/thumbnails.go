package thumbnails

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"golang.org/x/sync/errgroup"

	"github.com/clipstream/vod-api/log"
	"github.com/clipstream/vod-api/subprocess"
)

const (
	stillQuality  = "2"
	posterQuality = "1"

	// previewFilter downsizes the animated preview to a 320-wide GIF at 10fps.
	previewFilter = "fps=10,scale=320:-1:flags=lanczos"

	// posterFilter lifts contrast and sharpens the poster frame.
	posterFilter = "histeq=strength=0.075,eq=contrast=1.05,unsharp=5:5:0.5:5:5:0.0"

	// Cap on concurrent ffmpeg still captures per video.
	stillParallelism = 5
)

func captureRetries() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(250*time.Millisecond), 1)
}

// Positions spreads count capture points across duration. A single still
// lands at the quarter mark; multiple stills cover the 10%..90% span evenly,
// skipping the head and tail where encoders tend to put black frames and
// credits.
func Positions(duration float64, count int) []float64 {
	if count <= 0 || duration <= 0 {
		return nil
	}
	if count == 1 {
		return []float64{duration * 0.25}
	}
	positions := make([]float64, count)
	for i := range positions {
		positions[i] = duration * (0.1 + 0.8*float64(i)/float64(count-1))
	}
	return positions
}

// StillName returns the filename of the i-th gallery still.
func StillName(i int) string {
	return fmt.Sprintf("thumbnail_%d.jpg", i)
}

// GenerateStills captures count JPEG frames from source into dir and returns
// their paths in index order. Captures run concurrently, at most
// stillParallelism at a time.
func GenerateStills(ctx context.Context, source, dir string, count int, duration float64) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to make thumbnails dir: %w", err)
	}

	positions := Positions(duration, count)
	outputs := make([]string, len(positions))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(stillParallelism)
	for i, position := range positions {
		i, position := i, position
		group.Go(func() error {
			out := filepath.Join(dir, StillName(i))
			if err := captureFrame(groupCtx, source, out, position, stillQuality, ""); err != nil {
				return fmt.Errorf("still %d at %.2fs: %w", i, position, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// GenerateAnimated writes a short GIF preview to out. The clip starts at the
// quarter mark, pulled back so the whole clip fits inside the video.
func GenerateAnimated(ctx context.Context, source, out string, clipSeconds, duration float64) error {
	start := duration * 0.25
	if start+clipSeconds > duration {
		start = duration - clipSeconds
	}
	if start < 0 {
		start = 0
	}

	var ffmpegErr bytes.Buffer
	operation := func() error {
		ffmpegErr.Reset()
		cmd := ffmpeg.
			Input(source, ffmpeg.KwArgs{
				"ss": fmt.Sprintf("%.3f", start),
				"t":  fmt.Sprintf("%.3f", clipSeconds),
			}).
			Output(out, ffmpeg.KwArgs{"vf": previewFilter}).
			OverWriteOutput().
			WithErrorOutput(&ffmpegErr).
			Compile()
		return subprocess.Run(ctx, cmd)
	}
	if err := backoff.Retry(operation, captureRetries()); err != nil {
		return fmt.Errorf("error running ffmpeg for preview [%s]: %w", ffmpegErr.String(), err)
	}
	return nil
}

// GeneratePoster captures a frame at the 30% mark and runs it through an
// enhancement filter chain. The enhancement is best effort: not every ffmpeg
// build carries histeq, so on failure the raw frame is kept.
func GeneratePoster(ctx context.Context, source, out string, duration float64) error {
	if err := captureFrame(ctx, source, out, duration*0.30, posterQuality, ""); err != nil {
		return fmt.Errorf("poster frame: %w", err)
	}

	enhanced := out + ".enhanced.jpg"
	if err := captureFrame(ctx, out, enhanced, 0, posterQuality, posterFilter); err != nil {
		log.LogNoVideoID("poster enhancement failed, keeping raw frame", "err", err)
		_ = os.Remove(enhanced)
		return nil
	}
	return os.Rename(enhanced, out)
}

// captureFrame extracts a single frame at position seconds, optionally
// through a video filter.
func captureFrame(ctx context.Context, source, out string, position float64, quality, filter string) error {
	outputArgs := ffmpeg.KwArgs{
		"vframes": "1",
		"q:v":     quality,
	}
	if filter != "" {
		outputArgs["vf"] = filter
	}

	var ffmpegErr bytes.Buffer
	operation := func() error {
		ffmpegErr.Reset()
		cmd := ffmpeg.
			Input(source, ffmpeg.KwArgs{"ss": fmt.Sprintf("%.3f", position)}).
			Output(out, outputArgs).
			OverWriteOutput().
			WithErrorOutput(&ffmpegErr).
			Compile()
		return subprocess.Run(ctx, cmd)
	}
	if err := backoff.Retry(operation, captureRetries()); err != nil {
		return fmt.Errorf("error running ffmpeg for frame capture [%s]: %w", ffmpegErr.String(), err)
	}
	return nil
}
