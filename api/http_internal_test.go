package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clipstream/vod-api/janitor"
	"github.com/clipstream/vod-api/storage"
	"github.com/clipstream/vod-api/video"
)

func newInternalServer(t *testing.T) (*httptest.Server, *storage.Store) {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	store := storage.NewStore(backend, time.Hour)
	jan := janitor.New(store, time.Hour, 0, 0)

	server := httptest.NewServer(NewVODAPIRouterInternal(jan))
	t.Cleanup(server.Close)
	return server, store
}

func TestMetricsEndpoint(t *testing.T) {
	require := require.New(t)
	server, _ := newInternalServer(t)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(err)
	require.Contains(string(body), "processing_jobs_in_flight")
}

func TestJanitorTrigger(t *testing.T) {
	require := require.New(t)
	server, store := newInternalServer(t)
	ctx := context.Background()

	// An orphaned blob tree with no metadata is janitor fodder.
	require.NoError(store.SaveFile(ctx, storage.ChunkPath("ghost", 0), strings.NewReader("chunk")))
	// A live video is untouched.
	require.NoError(store.SaveMetadata(ctx, &video.Record{ID: "alive", OwnerID: "user-1", Status: video.StatusPending}))

	resp, err := http.Post(server.URL+"/internal/janitor/run", "", nil)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusNoContent, resp.StatusCode)

	gone, err := store.FileExists(ctx, storage.ChunkPath("ghost", 0))
	require.NoError(err)
	require.False(gone)

	_, err = store.GetMetadata(ctx, "alive")
	require.NoError(err)
}
