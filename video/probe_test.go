package video

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/vansante/go-ffprobe.v2"
)

func TestItRejectsWhenNoVideoTrackPresent(t *testing.T) {
	_, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "audio",
			},
		},
	}, "clip.mp4", nil)
	require.ErrorContains(t, err, "no video stream found")
}

func TestItRejectsWhenFormatMissing(t *testing.T) {
	_, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
			},
		},
	}, "clip.mp4", nil)
	require.ErrorContains(t, err, "format information missing")
}

func TestParseProbeOutput(t *testing.T) {
	info, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType:    "video",
				CodecName:    "h264",
				Width:        1920,
				Height:       1080,
				AvgFrameRate: "30000/1001",
			},
			{
				CodecType: "audio",
				CodecName: "aac",
			},
		},
		Format: &ffprobe.Format{
			FormatName:      "mov,mp4,m4a,3gp,3g2,mj2",
			DurationSeconds: 16.2,
			Size:            "4000000",
		},
	}, "clip.mp4", nil)
	require.NoError(t, err)
	require.Equal(t, 16.2, info.DurationSeconds)
	require.Equal(t, 1920, info.Width)
	require.Equal(t, 1080, info.Height)
	require.Equal(t, "h264", info.VideoCodec)
	require.Equal(t, "aac", info.AudioCodec)
	require.Equal(t, "mp4", info.ContainerFormat)
	require.InDelta(t, 29.97, info.FPS, 0.01)
}

func TestBitrateFallsBackToSizeOverDuration(t *testing.T) {
	info, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
			},
		},
		Format: &ffprobe.Format{
			DurationSeconds: 10,
			Size:            "1000000",
		},
	}, "clip.mp4", nil)
	require.NoError(t, err)
	require.Equal(t, int64(800_000), info.BitrateBPS)
}

func TestFPSFallsBackToRealFrameRate(t *testing.T) {
	info, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType:    "video",
				AvgFrameRate: "0/0",
				RFrameRate:   "25/1",
			},
		},
		Format: &ffprobe.Format{},
	}, "clip.mp4", nil)
	require.NoError(t, err)
	require.Equal(t, 25.0, info.FPS)
}

func TestContainerFormat(t *testing.T) {
	allowed := []string{"mp4", "webm", "mkv", "flv"}
	tests := []struct {
		formatName string
		filename   string
		expected   string
	}{
		{"mov,mp4,m4a,3gp,3g2,mj2", "clip.mp4", "mp4"},
		{"matroska,webm", "clip.webm", "webm"},
		{"avi", "clip.avi", "avi"},
		{"flv", "clip.flv", "flv"},
		{"asf", "clip.wmv", "wmv"},
		{"mpegts", "clip.ts", "ts"},
		{"mpeg", "clip.mpg", "mpeg-2"},
		{"unknown", "clip.flv", "flv"},
		{"unknown", "clip.xyz", "video"},
		{"unknown", "noextension", "video"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.expected, containerFormat(tt.formatName, tt.filename, allowed), "format %q file %q", tt.formatName, tt.filename)
	}
}

func TestParseMaxVolume(t *testing.T) {
	volumedetectOutput := `[Parsed_volumedetect_0 @ 0x6000009fc0b0] n_samples: 4096000
[Parsed_volumedetect_0 @ 0x6000009fc0b0] mean_volume: -21.1 dB
[Parsed_volumedetect_0 @ 0x6000009fc0b0] max_volume: -7.5 dB
[Parsed_volumedetect_0 @ 0x6000009fc0b0] histogram_0db: 13`

	maxVolume, found := parseMaxVolume(volumedetectOutput)
	require.True(t, found)
	require.Equal(t, -7.5, maxVolume)

	_, found = parseMaxVolume("frame=  100 fps=0.0 q=-0.0 size=N/A")
	require.False(t, found)
}

func TestClassifyAudioLevel(t *testing.T) {
	require.Equal(t, AudioIssues{Silent: true}, classifyAudioLevel(-91.0))
	require.Equal(t, AudioIssues{Silent: true}, classifyAudioLevel(-90.0))
	require.Equal(t, AudioIssues{LowVolume: true, MaxVolume: -35.2}, classifyAudioLevel(-35.2))
	require.Equal(t, AudioIssues{}, classifyAudioLevel(-5.0))
	require.Equal(t, AudioIssues{}, classifyAudioLevel(-20.0))
}

func TestDetectVideoIssues(t *testing.T) {
	clean := detectVideoIssues(MediaInfo{Width: 1920, Height: 1080, BitrateBPS: 5_000_000, FPS: 30})
	require.Equal(t, VideoIssues{}, clean)

	lowRes := detectVideoIssues(MediaInfo{Width: 426, Height: 240, BitrateBPS: 5_000_000, FPS: 30})
	require.True(t, lowRes.LowResolution)

	odd := detectVideoIssues(MediaInfo{Width: 853, Height: 480, BitrateBPS: 5_000_000, FPS: 30})
	require.True(t, odd.OddResolution)

	lowBitrate := detectVideoIssues(MediaInfo{Width: 1920, Height: 1080, BitrateBPS: 400_000, FPS: 30})
	require.True(t, lowBitrate.LowBitrate)

	lowFPS := detectVideoIssues(MediaInfo{Width: 1920, Height: 1080, BitrateBPS: 5_000_000, FPS: 15})
	require.True(t, lowFPS.LowFrameRate)

	// Unknown bitrate or frame rate is not an issue by itself.
	unknown := detectVideoIssues(MediaInfo{Width: 1920, Height: 1080})
	require.False(t, unknown.LowBitrate)
	require.False(t, unknown.LowFrameRate)
}

func TestParseFps(t *testing.T) {
	fps, err := parseFps("30000/1001")
	require.NoError(t, err)
	require.InDelta(t, 29.97, fps, 0.01)

	fps, err = parseFps("25")
	require.NoError(t, err)
	require.Equal(t, 25.0, fps)

	fps, err = parseFps("0/0")
	require.NoError(t, err)
	require.Equal(t, 0.0, fps)

	fps, err = parseFps("")
	require.NoError(t, err)
	require.Equal(t, 0.0, fps)

	_, err = parseFps("10/0")
	require.ErrorContains(t, err, "invalid framerate denominator")

	_, err = parseFps("abc")
	require.ErrorContains(t, err, "error parsing framerate")
}
