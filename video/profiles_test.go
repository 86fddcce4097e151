package video

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultLadderShape(t *testing.T) {
	require.Len(t, DefaultQualityLadder, 5)
	require.Equal(t, "240p", DefaultQualityLadder[0].Name)
	require.Equal(t, "426x240", DefaultQualityLadder[0].Resolution())
	require.Equal(t, int64(300_000+64_000), DefaultQualityLadder[0].Bandwidth())
	require.Equal(t, "1080p", DefaultQualityLadder[4].Name)
	require.Equal(t, "1920x1080", DefaultQualityLadder[4].Resolution())
	for _, profile := range DefaultQualityLadder {
		require.Equal(t, DefaultCodecs, profile.Codecs)
	}
}

func TestSelectLadderDropsUpscaleRungs(t *testing.T) {
	selected := SelectLadder(DefaultQualityLadder, 854, 480, true)

	names := make([]string, 0, len(selected))
	for _, profile := range selected {
		names = append(names, profile.Name)
	}
	require.Equal(t, []string{"240p", "360p", "480p"}, names)
}

func TestSelectLadderKeepsLowestRungForTinySources(t *testing.T) {
	selected := SelectLadder(DefaultQualityLadder, 100, 80, true)

	require.Len(t, selected, 1)
	require.Equal(t, "240p", selected[0].Name)
}

func TestSelectLadderDisabled(t *testing.T) {
	selected := SelectLadder(DefaultQualityLadder, 100, 80, false)
	require.Equal(t, DefaultQualityLadder, selected)
}

func TestSelectLadderUnknownSourceDimensions(t *testing.T) {
	selected := SelectLadder(DefaultQualityLadder, 0, 0, true)
	require.Equal(t, DefaultQualityLadder, selected)
}

func TestLoadQualityLadder(t *testing.T) {
	ladderFile := filepath.Join(t.TempDir(), "ladder.yaml")
	require.NoError(t, os.WriteFile(ladderFile, []byte(`
- name: 360p
  width: 640
  height: 360
  video_bitrate: 800000
  audio_bitrate: 96000
- name: 720p
  width: 1280
  height: 720
  video_bitrate: 2800000
  audio_bitrate: 128000
  codecs: avc1.4d401f
`), 0644))

	ladder, err := LoadQualityLadder(ladderFile)
	require.NoError(t, err)
	require.Len(t, ladder, 2)
	require.Equal(t, "640x360", ladder[0].Resolution())
	require.Equal(t, DefaultCodecs, ladder[0].Codecs)
	require.Equal(t, "avc1.4d401f", ladder[1].Codecs)
}

func TestLoadQualityLadderRejectsBadProfiles(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "empty ladder",
			yaml:   `[]`,
			errMsg: "defines no profiles",
		},
		{
			name:   "missing name",
			yaml:   "- width: 640\n  height: 360\n  video_bitrate: 800000",
			errMsg: "has no name",
		},
		{
			name:   "zero height",
			yaml:   "- name: 360p\n  width: 640\n  video_bitrate: 800000",
			errMsg: "invalid resolution",
		},
		{
			name:   "zero bitrate",
			yaml:   "- name: 360p\n  width: 640\n  height: 360",
			errMsg: "invalid video bitrate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ladderFile := filepath.Join(t.TempDir(), "ladder.yaml")
			require.NoError(t, os.WriteFile(ladderFile, []byte(tt.yaml), 0644))
			_, err := LoadQualityLadder(ladderFile)
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestLoadQualityLadderMissingFile(t *testing.T) {
	_, err := LoadQualityLadder(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "error reading quality ladder file")
}
