package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"gopkg.in/vansante/go-ffprobe.v2"

	vodErrs "github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/log"
)

// Prober extracts technical metadata from a media file on local disk.
type Prober interface {
	ProbeFile(videoID, path string, ffProbeOptions ...string) (MediaInfo, error)
}

type Probe struct {
	// AllowedFormats feeds the container-format fallback for inputs whose
	// probed format name is unrecognised.
	AllowedFormats []string
}

func (p Probe) ProbeFile(videoID, path string, ffProbeOptions ...string) (MediaInfo, error) {
	if len(ffProbeOptions) == 0 {
		ffProbeOptions = []string{"-loglevel", "error"}
	}
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer probeCancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path, ffProbeOptions...)
		return err
	}
	err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewConstantBackOff(250*time.Millisecond), 1))
	if err != nil {
		return MediaInfo{}, vodErrs.NewProbeError(err, "")
	}

	info, err := parseProbeOutput(data, filepath.Base(path), p.AllowedFormats)
	if err != nil {
		return MediaInfo{}, err
	}

	// Issue detection is best effort. A failed check leaves its section
	// empty and never fails the probe.
	if info.AudioCodec != "" {
		info.Issues.Audio = detectAudioIssues(videoID, path)
	}
	info.Issues.Video = detectVideoIssues(info)
	if !info.Issues.Empty() {
		log.Log(videoID, "media quality issues detected",
			"silent", info.Issues.Audio.Silent,
			"low_volume", info.Issues.Audio.LowVolume,
			"low_resolution", info.Issues.Video.LowResolution,
			"odd_resolution", info.Issues.Video.OddResolution,
			"low_bitrate", info.Issues.Video.LowBitrate,
			"low_frame_rate", info.Issues.Video.LowFrameRate,
		)
	}
	return info, nil
}

func parseProbeOutput(probeData *ffprobe.ProbeData, filename string, allowedFormats []string) (MediaInfo, error) {
	videoStream := probeData.FirstVideoStream()
	if videoStream == nil {
		return MediaInfo{}, vodErrs.NewProbeError(errors.New("no video stream found"), "")
	}
	// We rely on format information for duration and size, so error out if
	// it is missing entirely.
	if probeData.Format == nil {
		return MediaInfo{}, vodErrs.NewProbeError(errors.New("format information missing"), "")
	}

	duration := probeData.Format.DurationSeconds
	size, _ := strconv.ParseInt(probeData.Format.Size, 10, 64)

	bitrate, _ := strconv.ParseInt(probeData.Format.BitRate, 10, 64)
	if bitrate == 0 && duration > 0 {
		// Some containers omit an overall bitrate; derive it from the size.
		bitrate = int64(float64(size) * 8 / duration)
	}

	fps, err := parseFps(videoStream.AvgFrameRate)
	if err != nil || fps == 0 {
		// The average frame rate can be missing or zero for some inputs
		// where the real frame rate is still valid.
		fps, _ = parseFps(videoStream.RFrameRate)
	}

	info := MediaInfo{
		DurationSeconds: duration,
		Width:           videoStream.Width,
		Height:          videoStream.Height,
		BitrateBPS:      bitrate,
		SizeBytes:       size,
		FPS:             fps,
		VideoCodec:      videoStream.CodecName,
		ContainerFormat: containerFormat(probeData.Format.FormatName, filename, allowedFormats),
	}
	if audioStream := probeData.FirstAudioStream(); audioStream != nil {
		info.AudioCodec = audioStream.CodecName
	}
	return info, nil
}

// containerNames maps substrings of ffprobe's format_name to the container
// labels we persist. Order matters: mp4 sources probe as
// "mov,mp4,m4a,3gp,3g2,mj2" so mp4 has to win over mov.
var containerNames = []struct {
	probed    string
	container string
}{
	{"mp4", "mp4"},
	{"webm", "webm"},
	{"matroska", "mkv"},
	{"avi", "avi"},
	{"mov", "mov"},
	{"quicktime", "mov"},
	{"flv", "flv"},
	{"asf", "wmv"},
	{"mpegts", "ts"},
	{"mpeg", "mpeg-2"},
}

func containerFormat(formatName, filename string, allowedFormats []string) string {
	for _, c := range containerNames {
		if strings.Contains(formatName, c.probed) {
			return c.container
		}
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	for _, allowed := range allowedFormats {
		if ext == allowed {
			return ext
		}
	}
	return "video"
}

var maxVolumePattern = regexp.MustCompile(`max_volume:\s*(-?[0-9]+(?:\.[0-9]+)?) dB`)

// detectAudioIssues runs a volumedetect pass over the audio track and
// classifies the peak level from the filter's stderr report.
func detectAudioIssues(videoID, path string) AudioIssues {
	var ffmpegErr bytes.Buffer
	err := ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{"af": "volumedetect", "vn": "", "f": "null"}).
		WithErrorOutput(&ffmpegErr).
		Run()
	if err != nil {
		log.Log(videoID, "skipping audio issue detection", "err", err)
		return AudioIssues{}
	}
	maxVolume, found := parseMaxVolume(ffmpegErr.String())
	if !found {
		return AudioIssues{}
	}
	return classifyAudioLevel(maxVolume)
}

func parseMaxVolume(volumedetectOutput string) (float64, bool) {
	match := maxVolumePattern.FindStringSubmatch(volumedetectOutput)
	if match == nil {
		return 0, false
	}
	maxVolume, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return maxVolume, true
}

func classifyAudioLevel(maxVolume float64) AudioIssues {
	switch {
	case maxVolume <= -90:
		return AudioIssues{Silent: true}
	case maxVolume < -20:
		return AudioIssues{LowVolume: true, MaxVolume: maxVolume}
	}
	return AudioIssues{}
}

func detectVideoIssues(info MediaInfo) VideoIssues {
	return VideoIssues{
		LowResolution: info.Width < 480 || info.Height < 360,
		OddResolution: info.Width%2 != 0 || info.Height%2 != 0,
		LowBitrate:    info.BitrateBPS > 0 && info.BitrateBPS < 500_000,
		LowFrameRate:  info.FPS > 0 && info.FPS < 24,
	}
}

func parseFps(framerate string) (float64, error) {
	if framerate == "" {
		return 0, nil
	}
	parts := strings.SplitN(framerate, "/", 2)
	if len(parts) < 2 {
		fps, err := strconv.ParseFloat(framerate, 64)
		if err != nil {
			return 0, fmt.Errorf("error parsing framerate: %w", err)
		}
		return fps, nil
	}
	num, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("error parsing framerate numerator: %w", err)
	}
	den, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("error parsing framerate denominator: %w", err)
	}

	if den == 0 {
		// 0/0 can be valid for a video track, e.g. mjpeg attachments.
		if num == 0 {
			return 0, nil
		}
		return 0, errors.New("invalid framerate denominator 0")
	}

	return float64(num) / float64(den), nil
}
