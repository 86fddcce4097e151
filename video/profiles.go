package video

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// DefaultCodecs is the RFC 6381 codec string advertised for ladder renditions,
// H.264 High profile level 3.1.
const DefaultCodecs = "avc1.64001f"

// QualityProfile is one rung of the transcode ladder.
type QualityProfile struct {
	Name         string `json:"name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	VideoBitrate int64  `json:"video_bitrate"`
	AudioBitrate int64  `json:"audio_bitrate"`
	Codecs       string `json:"codecs,omitempty"`
}

func (p QualityProfile) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// Bandwidth is the value advertised in manifests, the video bitrate plus the
// audio bitrate.
func (p QualityProfile) Bandwidth() int64 {
	return p.VideoBitrate + p.AudioBitrate
}

// DefaultQualityLadder is used when no ladder file is configured.
var DefaultQualityLadder = []QualityProfile{
	{Name: "240p", Width: 426, Height: 240, VideoBitrate: 300_000, AudioBitrate: 64_000, Codecs: DefaultCodecs},
	{Name: "360p", Width: 640, Height: 360, VideoBitrate: 800_000, AudioBitrate: 96_000, Codecs: DefaultCodecs},
	{Name: "480p", Width: 854, Height: 480, VideoBitrate: 1_400_000, AudioBitrate: 128_000, Codecs: DefaultCodecs},
	{Name: "720p", Width: 1280, Height: 720, VideoBitrate: 2_800_000, AudioBitrate: 128_000, Codecs: DefaultCodecs},
	{Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: 5_000_000, AudioBitrate: 192_000, Codecs: DefaultCodecs},
}

// LoadQualityLadder reads a ladder definition from a YAML (or JSON) file.
func LoadQualityLadder(path string) ([]QualityProfile, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading quality ladder file %q: %w", path, err)
	}
	var ladder []QualityProfile
	if err := yaml.Unmarshal(contents, &ladder); err != nil {
		return nil, fmt.Errorf("error parsing quality ladder file %q: %w", path, err)
	}
	if len(ladder) == 0 {
		return nil, fmt.Errorf("quality ladder file %q defines no profiles", path)
	}
	for i, profile := range ladder {
		if profile.Name == "" {
			return nil, fmt.Errorf("quality ladder profile %d has no name", i)
		}
		if profile.Width <= 0 || profile.Height <= 0 {
			return nil, fmt.Errorf("quality ladder profile %q has invalid resolution %dx%d", profile.Name, profile.Width, profile.Height)
		}
		if profile.VideoBitrate <= 0 {
			return nil, fmt.Errorf("quality ladder profile %q has invalid video bitrate %d", profile.Name, profile.VideoBitrate)
		}
		if profile.Codecs == "" {
			ladder[i].Codecs = DefaultCodecs
		}
	}
	return ladder, nil
}

// SelectLadder returns the rungs to transcode for a source of the given
// dimensions. With skipUpscale set, rungs whose width and height both exceed
// the source are dropped, but the lowest-bitrate rung always survives so
// that every video gets at least one rendition.
func SelectLadder(ladder []QualityProfile, sourceWidth, sourceHeight int, skipUpscale bool) []QualityProfile {
	if !skipUpscale || len(ladder) == 0 || sourceWidth <= 0 || sourceHeight <= 0 {
		return ladder
	}
	selected := make([]QualityProfile, 0, len(ladder))
	for _, profile := range ladder {
		if profile.Width > sourceWidth && profile.Height > sourceHeight {
			continue
		}
		selected = append(selected, profile)
	}
	if len(selected) == 0 {
		selected = append(selected, lowestRung(ladder))
	}
	return selected
}

func lowestRung(ladder []QualityProfile) QualityProfile {
	lowest := ladder[0]
	for _, profile := range ladder[1:] {
		if profile.VideoBitrate < lowest.VideoBitrate {
			lowest = profile
		}
	}
	return lowest
}
