package manifest

import (
	"fmt"
	"io"
	"strings"

	"github.com/grafov/m3u8"

	"github.com/clipstream/vod-api/video"
)

// ParseMaster decodes an HLS master playlist back into its rendition rows.
func ParseMaster(r io.Reader) ([]Variant, error) {
	playlist, playlistType, err := m3u8.DecodeFrom(r, true)
	if err != nil {
		return nil, fmt.Errorf("error decoding master playlist: %s", err)
	}
	if playlistType != m3u8.MASTER {
		return nil, fmt.Errorf("received non-Master manifest where a master playlist was expected")
	}
	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok || master == nil {
		return nil, fmt.Errorf("failed to parse playlist as MasterPlaylist")
	}

	variants := make([]Variant, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v == nil {
			continue
		}
		variants = append(variants, Variant{
			Name:       strings.TrimSuffix(v.URI, ".m3u8"),
			Bandwidth:  int(v.Bandwidth),
			Resolution: v.Resolution,
		})
	}
	return variants, nil
}

// ParseVariant decodes a variant playlist into segments, preserving order.
func ParseVariant(r io.Reader) ([]video.Segment, error) {
	playlist, playlistType, err := m3u8.DecodeFrom(r, true)
	if err != nil {
		return nil, fmt.Errorf("error decoding variant playlist: %s", err)
	}
	if playlistType != m3u8.MEDIA {
		return nil, fmt.Errorf("received non-Media manifest where a variant playlist was expected")
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok || media == nil {
		return nil, fmt.Errorf("failed to parse playlist as MediaPlaylist")
	}

	segments := make([]video.Segment, 0, media.Count())
	for _, s := range media.Segments {
		// The decoder preallocates its segment slice, leaving nil tail slots.
		if s == nil {
			continue
		}
		segments = append(segments, video.Segment{
			Index:    len(segments),
			Filename: s.URI,
			Duration: s.Duration,
		})
	}
	return segments, nil
}
