package steps

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/clipstream/vod-api/analytics"
	"github.com/clipstream/vod-api/api"
	"github.com/clipstream/vod-api/clients"
	"github.com/clipstream/vod-api/config"
	"github.com/clipstream/vod-api/events"
	"github.com/clipstream/vod-api/handlers"
	"github.com/clipstream/vod-api/janitor"
	"github.com/clipstream/vod-api/pipeline"
	"github.com/clipstream/vod-api/storage"
	"github.com/clipstream/vod-api/transcode"
	"github.com/clipstream/vod-api/upload"
	"github.com/clipstream/vod-api/video"
)

const (
	// APIToken doubles as the static API token and the bearer token the
	// stub authorization service resolves.
	APIToken = "IAmAuthorized"

	testChunkSize = 1024
)

// StartApp wires the whole service in-process against a local storage backend
// in a scratch directory. The media tools are hermetic stand-ins that write
// placeholder artifacts, so scenarios run without ffmpeg installed.
func (s *StepContext) StartApp() error {
	dir, err := os.MkdirTemp("", "vod-cucumber-")
	if err != nil {
		return err
	}
	s.workDir = dir

	backend, err := storage.NewLocalBackend(dir)
	if err != nil {
		return err
	}
	s.store = storage.NewStore(backend, time.Hour)

	var authz clients.AuthZ = clients.NoopAuthZ{}
	if s.authzServer != nil {
		authz = clients.NewAuthZClient(s.authzServer.URL, "service-token")
	}

	s.engine = pipeline.NewCoordinatorWithTools(
		s.store, authz, events.NoopPublisher{}, analytics.NoopSink{}, nil,
		pipeline.Options{SkipUpscale: true},
		hermeticToolbox(),
	)
	uploads := upload.NewCoordinator(s.store, authz, events.NoopPublisher{}, analytics.NoopSink{}, testChunkSize, config.DefaultAllowedFormats)

	vodHandlers := &handlers.VODHandlersCollection{
		Uploads:   uploads,
		Engine:    s.engine,
		Store:     s.store,
		AuthZ:     authz,
		Publisher: events.NoopPublisher{},
		Sink:      analytics.NoopSink{},
	}

	cli := config.Cli{
		StorageBackend:  "local",
		LocalStorageDir: dir,
		APIToken:        APIToken,
		ChunkSize:       testChunkSize,
	}
	s.apiServer = httptest.NewServer(api.NewVODAPIRouter(cli, vodHandlers))
	s.BaseURL = s.apiServer.URL

	jan := janitor.New(s.store, time.Hour, config.DefaultStallHours, config.DefaultExpirationDays)
	s.internalServer = httptest.NewServer(api.NewVODAPIRouterInternal(jan))
	s.BaseInternalURL = s.internalServer.URL

	return waitForStartup(s.BaseURL + "/ok")
}

// StopApp tears the servers down and waits for in-flight pipeline jobs to
// drain before the scratch directory goes away under them.
func (s *StepContext) StopApp() {
	if s.apiServer != nil {
		s.apiServer.Close()
		s.apiServer = nil
	}
	if s.internalServer != nil {
		s.internalServer.Close()
		s.internalServer = nil
	}
	if s.authzServer != nil {
		s.authzServer.Close()
		s.authzServer = nil
	}
	if s.engine != nil {
		deadline := time.Now().Add(10 * time.Second)
		for s.engine.InFlightJobs() > 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		s.engine = nil
	}
	if s.workDir != "" {
		_ = os.RemoveAll(s.workDir)
		s.workDir = ""
	}
}

func waitForStartup(url string) error {
	retries := backoff.WithMaxRetries(backoff.NewConstantBackOff(250*time.Millisecond), 5)
	return backoff.Retry(func() error {
		resp, err := http.Get(url)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}, retries)
}

// hermeticToolbox stands in for ffmpeg and ffprobe. Every tool writes real
// files where the pipeline expects them, just with placeholder bytes.
func hermeticToolbox() pipeline.Toolbox {
	return pipeline.Toolbox{
		Probe: func(videoID, path string) (video.MediaInfo, error) {
			return video.MediaInfo{
				DurationSeconds: 8,
				Width:           1280,
				Height:          720,
				BitrateBPS:      1_500_000,
				VideoCodec:      "h264",
				AudioCodec:      "aac",
				ContainerFormat: "mov,mp4,m4a,3gp,3g2,mj2",
			}, nil
		},
		TranscodeHLS: func(ctx context.Context, req transcode.Request) ([]video.Segment, error) {
			segments := []video.Segment{
				{Index: 0, Filename: "segment_0.ts", Duration: 4},
				{Index: 1, Filename: "segment_1.ts", Duration: 4},
			}
			for _, segment := range segments {
				if err := writePlaceholder(filepath.Join(req.OutputDir, segment.Filename), "ts"); err != nil {
					return nil, err
				}
			}
			return segments, nil
		},
		TranscodeDASH: func(ctx context.Context, req transcode.Request) ([]video.DashSegment, error) {
			if err := writePlaceholder(filepath.Join(req.OutputDir, "init.mp4"), "init"); err != nil {
				return nil, err
			}
			segments := []video.DashSegment{
				{Number: 1, StartMS: 0, DurationMS: 4000},
				{Number: 2, StartMS: 4000, DurationMS: 4000},
			}
			for _, segment := range segments {
				name := fmt.Sprintf("segment-%d.m4s", segment.Number)
				if err := writePlaceholder(filepath.Join(req.OutputDir, name), "m4s"); err != nil {
					return nil, err
				}
			}
			return segments, nil
		},
		Stills: func(ctx context.Context, source, dir string, count int, duration float64) ([]string, error) {
			stills := make([]string, 0, count)
			for i := 0; i < count; i++ {
				still := filepath.Join(dir, fmt.Sprintf("thumbnail_%d.jpg", i))
				if err := writePlaceholder(still, "jpg"); err != nil {
					return nil, err
				}
				stills = append(stills, still)
			}
			return stills, nil
		},
		Poster: func(ctx context.Context, source, out string, duration float64) error {
			return writePlaceholder(out, "jpg")
		},
		Animated: func(ctx context.Context, source, out string, clipSeconds, duration float64) error {
			return writePlaceholder(out, "gif")
		},
	}
}

func writePlaceholder(path, contents string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(contents), 0644)
}
