// Package analytics records high-cardinality usage rows that would blow up
// Prometheus label space: per-video views, completed uploads and processing
// time samples. Writes are asynchronous and best effort; losing a row must
// never affect the request that produced it.
package analytics

// Sink is the analytics collaborator consumed by the upload coordinator, the
// processing pipeline and the playback handlers.
type Sink interface {
	RecordView(videoID, userID, companyID string)
	RecordUpload(videoID, userID, companyID string, sizeBytes int64)
	RecordProcessingTime(videoID, userID, companyID string, seconds float64, success bool)
	Close() error
}

// NoopSink is used when no analytics database is configured.
type NoopSink struct{}

func (NoopSink) RecordView(videoID, userID, companyID string)                    {}
func (NoopSink) RecordUpload(videoID, userID, companyID string, sizeBytes int64) {}
func (NoopSink) RecordProcessingTime(videoID, userID, companyID string, seconds float64, success bool) {
}
func (NoopSink) Close() error { return nil }
