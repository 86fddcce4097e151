package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clipstream/vod-api/video"
)

func TestDASHStaticWithTimeline(t *testing.T) {
	sets := []AdaptationSet{{
		ID:        "video_720p",
		MimeType:  "video/mp4",
		Codecs:    "avc1.64001f",
		Width:     1280,
		Height:    720,
		Bandwidth: 2500000,
		Timeline: []video.DashSegment{
			{Number: 1, StartMS: 0, DurationMS: 4000},
			{Number: 2, StartMS: 4000, DurationMS: 4000},
			{Number: 3, StartMS: 8000, DurationMS: 1500},
		},
	}}

	expected := strings.Join([]string{
		`<?xml version="1.0" ?>`,
		`<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" profiles="urn:mpeg:dash:profile:isoff-live:2011" type="static" minBufferTime="PT2S" mediaPresentationDuration="PT9.500S">`,
		`  <Period id="1" start="PT0S">`,
		`    <AdaptationSet id="video_720p" mimeType="video/mp4" codecs="avc1.64001f" startWithSAP="1">`,
		`      <Representation id="video_720p" width="1280" height="720" bandwidth="2500000">`,
		`        <SegmentTemplate initialization="video_720p/init.mp4" media="video_720p/segment-$Number$.m4s" timescale="1000" startNumber="1">`,
		`          <SegmentTimeline>`,
		`            <S t="0" d="4000"/>`,
		`            <S t="4000" d="4000"/>`,
		`            <S t="8000" d="1500"/>`,
		`          </SegmentTimeline>`,
		`        </SegmentTemplate>`,
		`      </Representation>`,
		`    </AdaptationSet>`,
		`  </Period>`,
		`</MPD>`,
	}, "\n") + "\n"

	require.Equal(t, expected, DASHStatic(sets, 9.5, 4000))
}

func TestDASHStaticWithoutTimelineUsesFixedDuration(t *testing.T) {
	sets := []AdaptationSet{{
		ID:        "video_240p",
		MimeType:  "video/mp4",
		Codecs:    "avc1.64001f",
		Width:     426,
		Height:    240,
		Bandwidth: 300000,
	}}

	out := DASHStatic(sets, 60, 4000)
	require.Contains(t, out,
		`<SegmentTemplate initialization="video_240p/init.mp4" media="video_240p/segment-$Number$.m4s" timescale="1000" startNumber="1" duration="4000"/>`)
	require.NotContains(t, out, "SegmentTimeline")
}

func TestDASHLive(t *testing.T) {
	sets := []AdaptationSet{{
		ID:          "video_480p",
		MimeType:    "video/mp4",
		Codecs:      "avc1.64001f",
		Width:       854,
		Height:      480,
		Bandwidth:   1000000,
		StartNumber: 12,
		Timeline: []video.DashSegment{
			{Number: 12, StartMS: 44000, DurationMS: 4000},
			{Number: 13, StartMS: 48000, DurationMS: 4000},
		},
	}}

	// 2023-04-01T12:30:45Z
	out := DASHLive(sets, 1680352245000)
	require.Contains(t, out, `type="dynamic"`)
	require.Contains(t, out, `timeShiftBufferDepth="PT30S"`)
	require.Contains(t, out, `availabilityStartTime="1970-01-01T00:00:00Z"`)
	require.Contains(t, out, `publishTime="2023-04-01T12:30:45Z"`)
	require.Contains(t, out, `startNumber="12"`)
	require.Contains(t, out, `<S t="44000" d="4000"/>`)
}

// Identical inputs must render identical documents, so the publish time is
// an argument rather than a clock read.
func TestDASHLiveIsReferentiallyTransparent(t *testing.T) {
	sets := []AdaptationSet{{
		ID:        "video_720p",
		MimeType:  "video/mp4",
		Codecs:    "avc1.64001f",
		Width:     1280,
		Height:    720,
		Bandwidth: 2500000,
		Timeline:  []video.DashSegment{{Number: 1, StartMS: 0, DurationMS: 4000}},
	}}

	first := DASHLive(sets, 1680352245000)
	second := DASHLive(sets, 1680352245000)
	require.Equal(t, first, second)
}

func TestDASHTimelineRendersContiguousStarts(t *testing.T) {
	timeline := []video.DashSegment{
		{Number: 1, StartMS: 0, DurationMS: 4000},
		{Number: 2, StartMS: 4000, DurationMS: 3500},
		{Number: 3, StartMS: 7500, DurationMS: 4000},
	}
	for i := 1; i < len(timeline); i++ {
		require.Equal(t, timeline[i-1].StartMS+timeline[i-1].DurationMS, timeline[i].StartMS)
	}

	out := DASHStatic([]AdaptationSet{{
		ID: "video_720p", MimeType: "video/mp4", Codecs: "avc1.64001f",
		Width: 1280, Height: 720, Bandwidth: 2500000, Timeline: timeline,
	}}, 11.5, 4000)
	require.Contains(t, out, `<S t="4000" d="3500"/>`)
	require.Contains(t, out, `<S t="7500" d="4000"/>`)
}
