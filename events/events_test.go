package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clipstream/vod-api/config"
)

func withFrozenClock(t *testing.T, ts int64) {
	t.Helper()
	original := config.DefaultClock
	config.DefaultClock = config.FixedClock{Instant: time.Unix(ts, 0).UTC()}
	t.Cleanup(func() { config.DefaultClock = original })
}

func TestVideoUploadedWireFormat(t *testing.T) {
	withFrozenClock(t, 1700000000)

	event := VideoUploaded("vid-1", "user-1", "company-1")
	data, err := json.Marshal(event)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"event_type": "video_uploaded",
		"video_id": "vid-1",
		"user_id": "user-1",
		"company_id": "company-1",
		"timestamp": 1700000000
	}`, string(data))
}

func TestVideoProcessedStatus(t *testing.T) {
	withFrozenClock(t, 1700000000)

	success := VideoProcessed("vid-1", true)
	require.Equal(t, "success", success.Status)

	failed := VideoProcessed("vid-1", false)
	require.Equal(t, "error", failed.Status)

	data, err := json.Marshal(failed)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"event_type": "video_processed",
		"video_id": "vid-1",
		"status": "error",
		"timestamp": 1700000000
	}`, string(data))
}

func TestVideoViewOmitsUnknownViewer(t *testing.T) {
	withFrozenClock(t, 1700000000)

	event := VideoView("vid-1", "", "")
	data, err := json.Marshal(event)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"event_type": "video_view",
		"video_id": "vid-1",
		"timestamp": 1700000000
	}`, string(data))
}

func TestRecorderCollectsByType(t *testing.T) {
	recorder := NewRecorder()
	ctx := context.Background()

	require.NoError(t, recorder.Publish(ctx, TopicVideoEvents, VideoUploaded("v1", "u", "c")))
	require.NoError(t, recorder.Publish(ctx, TopicVideoEvents, VideoProcessed("v1", true)))
	require.NoError(t, recorder.Publish(ctx, TopicVideoAnalytics, VideoView("v1", "u", "c")))

	require.Len(t, recorder.Published(), 3)
	require.Len(t, recorder.ByType(TypeVideoProcessed), 1)
	require.Equal(t, TopicVideoAnalytics, recorder.ByType(TypeVideoView)[0].Topic)
}
