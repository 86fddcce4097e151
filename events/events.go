package events

import (
	"context"

	"github.com/clipstream/vod-api/config"
)

// Topics on the bus. Lifecycle events ride video-events; playback telemetry
// rides video-analytics.
const (
	TopicVideoEvents    = "video-events"
	TopicVideoAnalytics = "video-analytics"
)

const (
	TypeVideoUploaded  = "video_uploaded"
	TypeVideoProcessed = "video_processed"
	TypeVideoView      = "video_view"
)

// Event is the JSON message consumers see. Downstream services key off
// event_type; the remaining fields are populated per type.
type Event struct {
	EventType string `json:"event_type"`
	VideoID   string `json:"video_id"`
	UserID    string `json:"user_id,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// VideoUploaded is emitted once the original has been composed and the
// record persisted as uploaded.
func VideoUploaded(videoID, userID, companyID string) Event {
	return Event{
		EventType: TypeVideoUploaded,
		VideoID:   videoID,
		UserID:    userID,
		CompanyID: companyID,
		Timestamp: config.DefaultClock.Now().Unix(),
	}
}

// VideoProcessed is emitted after the pipeline persists its terminal state,
// with status success or error.
func VideoProcessed(videoID string, success bool) Event {
	status := "success"
	if !success {
		status = "error"
	}
	return Event{
		EventType: TypeVideoProcessed,
		VideoID:   videoID,
		Status:    status,
		Timestamp: config.DefaultClock.Now().Unix(),
	}
}

// VideoView is emitted when a playback manifest URL is handed out.
func VideoView(videoID, userID, companyID string) Event {
	return Event{
		EventType: TypeVideoView,
		VideoID:   videoID,
		UserID:    userID,
		CompanyID: companyID,
		Timestamp: config.DefaultClock.Now().Unix(),
	}
}

// Publisher delivers events to the bus. Publishing is best effort from the
// caller's point of view: record state is already persisted by the time an
// event is emitted, so failures are logged, never propagated into state.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
	Close() error
}

// NoopPublisher is used when no bus is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, topic string, event Event) error { return nil }
func (NoopPublisher) Close() error                                                 { return nil }
