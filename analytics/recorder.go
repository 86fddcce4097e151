package analytics

import "sync"

// Recorder is an in-memory Sink for tests.
type Recorder struct {
	mu              sync.Mutex
	Views           []RecordedRow
	Uploads         []RecordedRow
	ProcessingTimes []RecordedRow
}

type RecordedRow struct {
	VideoID   string
	UserID    string
	CompanyID string
	SizeBytes int64
	Seconds   float64
	Success   bool
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) RecordView(videoID, userID, companyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Views = append(r.Views, RecordedRow{VideoID: videoID, UserID: userID, CompanyID: companyID})
}

func (r *Recorder) RecordUpload(videoID, userID, companyID string, sizeBytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Uploads = append(r.Uploads, RecordedRow{VideoID: videoID, UserID: userID, CompanyID: companyID, SizeBytes: sizeBytes})
}

func (r *Recorder) RecordProcessingTime(videoID, userID, companyID string, seconds float64, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ProcessingTimes = append(r.ProcessingTimes, RecordedRow{VideoID: videoID, UserID: userID, CompanyID: companyID, Seconds: seconds, Success: success})
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) ViewCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Views)
}

func (r *Recorder) UploadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Uploads)
}
