// Package manifest builds HLS playlists and DASH MPDs as plain text. The
// builders are pure functions: identical inputs produce byte-identical
// output, which keeps manifests reproducible and testable without touching
// storage or the clock.
package manifest

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/clipstream/vod-api/video"
)

// Variant is one rendition row in an HLS master playlist. Name is the
// quality label ("720p"); the referenced playlist is <Name>.m3u8 relative
// to the master.
type Variant struct {
	Name       string
	Bandwidth  int
	Resolution string
}

// HLSMaster renders the master playlist. Rows are ordered by ascending
// bandwidth regardless of input order so players start on the cheapest
// rendition; the sort is stable for equal bandwidths.
func HLSMaster(variants []Variant) string {
	ordered := make([]Variant, len(variants))
	copy(ordered, variants)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Bandwidth < ordered[j].Bandwidth
	})

	lines := []string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
	}
	for _, v := range ordered {
		lines = append(lines,
			fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s", v.Bandwidth, v.Resolution),
			v.Name+".m3u8",
		)
	}
	return strings.Join(lines, "\n")
}

// HLSVariant renders a finished (VOD) variant playlist for one rendition.
// Segment filenames are written exactly as given, so callers decide whether
// entries are bare names or prefixed with the rendition directory.
func HLSVariant(segments []video.Segment) string {
	lines := []string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		fmt.Sprintf("#EXT-X-TARGETDURATION:%d", targetDuration(segments)),
		"#EXT-X-MEDIA-SEQUENCE:0",
	}
	lines = appendSegments(lines, segments)
	lines = append(lines, "#EXT-X-ENDLIST")
	return strings.Join(lines, "\n")
}

// HLSLive renders a sliding-window playlist: the media sequence advances as
// segments age out and there is no ENDLIST marker.
func HLSLive(segments []video.Segment, sequence int) string {
	lines := []string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		fmt.Sprintf("#EXT-X-TARGETDURATION:%d", targetDuration(segments)),
		fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d", sequence),
	}
	return strings.Join(appendSegments(lines, segments), "\n")
}

func targetDuration(segments []video.Segment) int {
	var longest float64
	for _, s := range segments {
		if s.Duration > longest {
			longest = s.Duration
		}
	}
	return int(math.Ceil(longest))
}

func appendSegments(lines []string, segments []video.Segment) []string {
	for _, s := range segments {
		lines = append(lines, fmt.Sprintf("#EXTINF:%.6f,", s.Duration), s.Filename)
	}
	return lines
}
