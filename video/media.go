package video

// MediaInfo is what the prober learns about a source file.
type MediaInfo struct {
	DurationSeconds float64
	Width           int
	Height          int
	BitrateBPS      int64
	SizeBytes       int64
	FPS             float64
	VideoCodec      string
	AudioCodec      string
	ContainerFormat string
	Issues          MediaIssues
}

// MediaIssues collects best-effort quality findings. Detection failures leave
// the relevant section empty rather than failing the probe.
type MediaIssues struct {
	Audio AudioIssues
	Video VideoIssues
}

func (m MediaIssues) Empty() bool {
	return m.Audio == (AudioIssues{}) && m.Video == (VideoIssues{})
}

// AudioIssues are findings from a volumedetect pass over the audio track.
// MaxVolume is only meaningful when LowVolume is set.
type AudioIssues struct {
	Silent    bool
	LowVolume bool
	MaxVolume float64
}

type VideoIssues struct {
	LowResolution bool
	OddResolution bool
	LowBitrate    bool
	LowFrameRate  bool
}
