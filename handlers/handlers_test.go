package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	"github.com/clipstream/vod-api/analytics"
	"github.com/clipstream/vod-api/clients"
	"github.com/clipstream/vod-api/config"
	"github.com/clipstream/vod-api/events"
	"github.com/clipstream/vod-api/pipeline"
	"github.com/clipstream/vod-api/storage"
	"github.com/clipstream/vod-api/transcode"
	"github.com/clipstream/vod-api/upload"
	"github.com/clipstream/vod-api/video"
)

const testChunkSize = 1024

var testUser = clients.User{ID: "user-1", CompanyID: "company-1"}

type fixture struct {
	*VODHandlersCollection
	store     *storage.Store
	publisher *events.Recorder
	sink      *analytics.Recorder
}

// newFixture builds the handler collection on a throwaway local store. The
// pipeline's media tools are stubbed: every job parks in Probe until test
// cleanup releases it, so responses observed mid-test are deterministic.
func newFixture(t *testing.T) *fixture {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	store := storage.NewStore(backend, time.Hour)
	publisher := events.NewRecorder()
	sink := analytics.NewRecorder()

	release := make(chan struct{})
	stubErr := fmt.Errorf("media tools are stubbed out")
	tools := pipeline.Toolbox{
		Probe: func(videoID, path string) (video.MediaInfo, error) {
			<-release
			return video.MediaInfo{}, stubErr
		},
		TranscodeHLS: func(ctx context.Context, req transcode.Request) ([]video.Segment, error) {
			return nil, stubErr
		},
		TranscodeDASH: func(ctx context.Context, req transcode.Request) ([]video.DashSegment, error) {
			return nil, stubErr
		},
		Stills: func(ctx context.Context, source, dir string, count int, duration float64) ([]string, error) {
			return nil, stubErr
		},
		Poster: func(ctx context.Context, source, out string, duration float64) error {
			return stubErr
		},
		Animated: func(ctx context.Context, source, out string, clipSeconds, duration float64) error {
			return stubErr
		},
	}
	engine := pipeline.NewCoordinatorWithTools(store, clients.NoopAuthZ{}, publisher, sink, nil, pipeline.Options{}, tools)
	t.Cleanup(func() {
		close(release)
		require.Eventually(t, func() bool { return engine.InFlightJobs() == 0 }, 5*time.Second, 10*time.Millisecond)
	})

	return &fixture{
		VODHandlersCollection: &VODHandlersCollection{
			Uploads:   upload.NewCoordinator(store, clients.NoopAuthZ{}, publisher, sink, testChunkSize, config.DefaultAllowedFormats),
			Engine:    engine,
			Store:     store,
			AuthZ:     clients.NoopAuthZ{},
			Publisher: publisher,
			Sink:      sink,
		},
		store:     store,
		publisher: publisher,
		sink:      sink,
	}
}

// asUser attaches a resolved caller identity the way the auth middleware does.
func asUser(req *http.Request, user clients.User) *http.Request {
	return req.WithContext(clients.WithCaller(req.Context(), user))
}

func idParams(id string) httprouter.Params {
	return httprouter.Params{{Key: "id", Value: id}}
}

func TestOKHandler(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	req := httptest.NewRequest("GET", "/ok", nil)
	rr := httptest.NewRecorder()
	f.Ok()(rr, req, nil)

	require.Equal(http.StatusOK, rr.Code)
	require.Equal("OK", rr.Body.String())
}

type unhealthyAuthZ struct {
	clients.NoopAuthZ
}

func (unhealthyAuthZ) Health(ctx context.Context) error {
	return fmt.Errorf("authorization service is down")
}

func TestOKHandlerReportsAuthZOutage(t *testing.T) {
	f := newFixture(t)
	f.AuthZ = unhealthyAuthZ{}

	req := httptest.NewRequest("GET", "/ok", nil)
	rr := httptest.NewRecorder()
	f.Ok()(rr, req, nil)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), "Authorization service unhealthy")
}

func TestRequestsWithoutCallerAreRejected(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("GET", "/api/videos/some-id", nil)
	rr := httptest.NewRecorder()
	f.VideoStatus()(rr, req, idParams("some-id"))

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.JSONEq(t, `{"error": "No authenticated caller", "error_detail": ""}`, rr.Body.String())
}

func TestHasContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
		expected    bool
	}{
		{"application/json", "application/json", true},
		{"application/json; charset=utf-8", "application/json", true},
		{"", "application/octet-stream", true},
		{"text/plain", "application/json", false},
		{"json", "application/json", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("POST", "/", strings.NewReader(""))
		if tt.contentType != "" {
			req.Header.Set("Content-Type", tt.contentType)
		}
		require.Equal(t, tt.expected, HasContentType(req, tt.want), "content type %q", tt.contentType)
	}
}
