package video

import (
	"sort"
	"time"
)

// Status is the lifecycle stage of a video. Transitions form a DAG with a
// single back-edge, error to pending, taken on explicit retry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusUploading},
	StatusUploading:  {StatusUploaded},
	StatusUploaded:   {StatusProcessing},
	StatusProcessing: {StatusReady, StatusError},
	StatusError:      {StatusPending},
}

// ValidTransition reports whether a record may move from one status to
// another. Self-transitions are allowed so that repeated persistence of the
// same stage is not treated as a violation.
func ValidTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status ends the pipeline. An error record can
// still leave via retry, but absent one it stays put.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusUploaded, StatusProcessing, StatusReady, StatusError:
		return true
	}
	return false
}

// Record is the persisted metadata document for one video, stored as JSON
// at metadata/{id}.json in the raw bucket.
type Record struct {
	ID           string `json:"id"`
	OwnerID      string `json:"owner_id"`
	CompanyID    string `json:"company_id,omitempty"`
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type,omitempty"`
	DeclaredSize int64  `json:"declared_size,omitempty"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`

	Status         Status  `json:"status"`
	ChunksReceived int     `json:"chunks_received"`
	TotalChunks    int     `json:"total_chunks"`
	ReceivedChunks []int   `json:"received_chunks,omitempty"`
	UploadProgress float64 `json:"upload_progress"`

	OutputPath      string  `json:"output_path,omitempty"`
	SourceMD5       string  `json:"source_md5,omitempty"`
	SourceSHA256    string  `json:"source_sha256,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	ContainerFormat string  `json:"container_format,omitempty"`
	VideoCodec      string  `json:"video_codec,omitempty"`
	AudioCodec      string  `json:"audio_codec,omitempty"`
	BitrateBPS      int64   `json:"bitrate_bps,omitempty"`

	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	HLSMasterURL string `json:"hls_master_url,omitempty"`
	DashMPDURL   string `json:"dash_mpd_url,omitempty"`
	PlaybackURL  string `json:"playback_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CleanupEligible   bool      `json:"cleanup_eligible"`
	CleanupEligibleAt time.Time `json:"cleanup_eligible_at,omitempty"`
}

// HasChunk reports whether the given chunk index was already received.
func (r *Record) HasChunk(index int) bool {
	for _, got := range r.ReceivedChunks {
		if got == index {
			return true
		}
	}
	return false
}

// MarkChunkReceived records a chunk index in the distinct-index set and
// recomputes the derived counters. Re-uploads of an index are idempotent.
func (r *Record) MarkChunkReceived(index int) {
	if !r.HasChunk(index) {
		r.ReceivedChunks = append(r.ReceivedChunks, index)
		sort.Ints(r.ReceivedChunks)
	}
	r.ChunksReceived = len(r.ReceivedChunks)
	if r.TotalChunks > 0 {
		r.UploadProgress = 100 * float64(r.ChunksReceived) / float64(r.TotalChunks)
	}
}

// AllChunksReceived is true once every declared chunk index arrived.
func (r *Record) AllChunksReceived() bool {
	return r.TotalChunks > 0 && r.ChunksReceived == r.TotalChunks
}
