package manifest

import (
	"fmt"
	"strings"
	"time"

	"github.com/clipstream/vod-api/video"
)

// AdaptationSet is one DASH rendition. ID doubles as the representation id
// and the directory segment paths are templated under ("video_720p").
type AdaptationSet struct {
	ID          string
	MimeType    string
	Codecs      string
	Width       int
	Height      int
	Bandwidth   int
	StartNumber int
	Timeline    []video.DashSegment
}

const (
	mpdProlog = `<?xml version="1.0" ?>`
	mpdXMLNS  = "urn:mpeg:dash:schema:mpd:2011"
	mpdProfle = "urn:mpeg:dash:profile:isoff-live:2011"
)

// DASHStatic renders an on-demand MPD. Sets without a timeline fall back to
// a fixed per-segment duration of segmentDurationMS.
func DASHStatic(sets []AdaptationSet, duration float64, segmentDurationMS int64) string {
	var b strings.Builder
	b.WriteString(mpdProlog + "\n")
	fmt.Fprintf(&b,
		`<MPD xmlns="%s" profiles="%s" type="static" minBufferTime="PT2S" mediaPresentationDuration="PT%.3fS">`+"\n",
		mpdXMLNS, mpdProfle, duration)
	b.WriteString(`  <Period id="1" start="PT0S">` + "\n")
	for _, set := range sets {
		// startNumber is fixed at 1 for on-demand content.
		writeAdaptationSet(&b, set, 1, segmentDurationMS)
	}
	b.WriteString("  </Period>\n")
	b.WriteString("</MPD>\n")
	return b.String()
}

// DASHLive renders a dynamic MPD with a 30s time-shift window. publishMS is
// caller-supplied (unix milliseconds) so two calls with the same inputs
// produce the same document.
func DASHLive(sets []AdaptationSet, publishMS int64) string {
	publishTime := time.UnixMilli(publishMS).UTC().Format("2006-01-02T15:04:05Z")

	var b strings.Builder
	b.WriteString(mpdProlog + "\n")
	fmt.Fprintf(&b,
		`<MPD xmlns="%s" profiles="%s" type="dynamic" minBufferTime="PT2S" timeShiftBufferDepth="PT30S" availabilityStartTime="1970-01-01T00:00:00Z" publishTime="%s">`+"\n",
		mpdXMLNS, mpdProfle, publishTime)
	b.WriteString(`  <Period id="1" start="PT0S">` + "\n")
	for _, set := range sets {
		startNumber := set.StartNumber
		if startNumber < 1 {
			startNumber = 1
		}
		// Live manifests always carry an explicit timeline, so the
		// fixed-duration fallback never applies.
		writeAdaptationSet(&b, set, startNumber, -1)
	}
	b.WriteString("  </Period>\n")
	b.WriteString("</MPD>\n")
	return b.String()
}

// writeAdaptationSet renders one AdaptationSet subtree. A timeline wins over
// the fixed segment duration; segmentDurationMS < 0 forces the timeline form
// even when it is empty.
func writeAdaptationSet(b *strings.Builder, set AdaptationSet, startNumber int, segmentDurationMS int64) {
	fmt.Fprintf(b, `    <AdaptationSet id="%s" mimeType="%s" codecs="%s" startWithSAP="1">`+"\n",
		set.ID, set.MimeType, set.Codecs)
	fmt.Fprintf(b, `      <Representation id="%s" width="%d" height="%d" bandwidth="%d">`+"\n",
		set.ID, set.Width, set.Height, set.Bandwidth)

	templateAttrs := fmt.Sprintf(`initialization="%s/init.mp4" media="%s/segment-$Number$.m4s" timescale="1000" startNumber="%d"`,
		set.ID, set.ID, startNumber)

	switch {
	case len(set.Timeline) == 0 && segmentDurationMS >= 0:
		fmt.Fprintf(b, `        <SegmentTemplate %s duration="%d"/>`+"\n", templateAttrs, segmentDurationMS)
	case len(set.Timeline) == 0:
		fmt.Fprintf(b, `        <SegmentTemplate %s>`+"\n", templateAttrs)
		b.WriteString("          <SegmentTimeline/>\n")
		b.WriteString("        </SegmentTemplate>\n")
	default:
		fmt.Fprintf(b, `        <SegmentTemplate %s>`+"\n", templateAttrs)
		b.WriteString("          <SegmentTimeline>\n")
		for _, s := range set.Timeline {
			fmt.Fprintf(b, `            <S t="%d" d="%d"/>`+"\n", s.StartMS, s.DurationMS)
		}
		b.WriteString("          </SegmentTimeline>\n")
		b.WriteString("        </SegmentTemplate>\n")
	}

	b.WriteString("      </Representation>\n")
	b.WriteString("    </AdaptationSet>\n")
}
