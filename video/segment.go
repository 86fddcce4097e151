package video

// Segment is one HLS media segment on disk, identified by its zero-based
// index into segment_%03d.ts.
type Segment struct {
	Index    int
	Filename string
	Duration float64
}

// DashSegment is one DASH media segment. Numbers start at 1 to match the
// $Number$ template; StartMS accumulates the preceding durations from 0.
type DashSegment struct {
	Number     int
	StartMS    int64
	DurationMS int64
}

// TotalDuration sums segment durations in seconds.
func TotalDuration(segments []Segment) float64 {
	var total float64
	for _, segment := range segments {
		total += segment.Duration
	}
	return total
}
