package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clipstream/vod-api/clients"
	"github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/storage"
	"github.com/clipstream/vod-api/video"
)

func TestVideoStatusReturnsRecord(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	ticket := startUpload(t, f, 2)
	postChunk(f, ticket.VideoID, 0, 2, "part0")

	req := asUser(httptest.NewRequest("GET", "/api/videos/"+ticket.VideoID, nil), testUser)
	rr := httptest.NewRecorder()
	f.VideoStatus()(rr, req, idParams(ticket.VideoID))

	require.Equal(http.StatusOK, rr.Code)
	var record video.Record
	require.NoError(json.Unmarshal(rr.Body.Bytes(), &record))
	require.Equal(ticket.VideoID, record.ID)
	require.Equal(video.StatusUploading, record.Status)
	require.Equal(1, record.ChunksReceived)
}

func TestVideoStatusErrorMapping(t *testing.T) {
	f := newFixture(t)
	ticket := startUpload(t, f, 2)

	req := asUser(httptest.NewRequest("GET", "/api/videos/no-such-video", nil), testUser)
	rr := httptest.NewRecorder()
	f.VideoStatus()(rr, req, idParams("no-such-video"))
	require.Equal(t, http.StatusNotFound, rr.Code)

	req = asUser(httptest.NewRequest("GET", "/api/videos/"+ticket.VideoID, nil), clients.User{ID: "intruder"})
	rr = httptest.NewRecorder()
	f.VideoStatus()(rr, req, idParams(ticket.VideoID))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestCancelVideoRemovesEverything(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	ticket := startUpload(t, f, 2)
	postChunk(f, ticket.VideoID, 0, 2, "part0")

	req := asUser(httptest.NewRequest("DELETE", "/api/videos/"+ticket.VideoID, nil), testUser)
	rr := httptest.NewRecorder()
	f.CancelVideo()(rr, req, idParams(ticket.VideoID))

	require.Equal(http.StatusNoContent, rr.Code)
	require.Empty(rr.Body.String())

	ctx := context.Background()
	_, err := f.store.GetMetadata(ctx, ticket.VideoID)
	require.ErrorIs(err, errors.ErrNotFound)
	stored, err := f.store.FileExists(ctx, storage.ChunkPath(ticket.VideoID, 0))
	require.NoError(err)
	require.False(stored)
}

func TestCancelRefusesTerminalVideo(t *testing.T) {
	f := newFixture(t)
	id := "ready-1"
	require.NoError(t, f.store.SaveMetadata(context.Background(), &video.Record{
		ID:      id,
		OwnerID: testUser.ID,
		Status:  video.StatusReady,
	}))

	req := asUser(httptest.NewRequest("DELETE", "/api/videos/"+id, nil), testUser)
	rr := httptest.NewRecorder()
	f.CancelVideo()(rr, req, idParams(id))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "Cannot cancel video")
}

func TestRetryVideoRestartsProcessing(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	id := "failed-1"
	sourcePath := storage.SourcePath(id, "movie.mp4")
	require.NoError(f.store.SaveFile(ctx, sourcePath, strings.NewReader("original bytes")))
	require.NoError(f.store.SaveMetadata(ctx, &video.Record{
		ID:             id,
		OwnerID:        testUser.ID,
		Filename:       "movie.mp4",
		Status:         video.StatusError,
		ErrorMessage:   "transcode failed: Invalid data found",
		TotalChunks:    1,
		ChunksReceived: 1,
		ReceivedChunks: []int{0},
		UploadProgress: 100,
		OutputPath:     sourcePath,
	}))

	req := asUser(httptest.NewRequest("POST", "/api/videos/"+id+"/retry", nil), testUser)
	rr := httptest.NewRecorder()
	f.RetryVideo()(rr, req, idParams(id))

	require.Equal(http.StatusOK, rr.Code)
	var record video.Record
	require.NoError(json.Unmarshal(rr.Body.Bytes(), &record))
	require.Equal(video.StatusProcessing, record.Status)
	require.Empty(record.ErrorMessage)
	require.Equal(1, f.Engine.InFlightJobs())
}

func TestRetryRefusesHealthyVideo(t *testing.T) {
	f := newFixture(t)
	ticket := startUpload(t, f, 2)

	req := asUser(httptest.NewRequest("POST", "/api/videos/"+ticket.VideoID+"/retry", nil), testUser)
	rr := httptest.NewRecorder()
	f.RetryVideo()(rr, req, idParams(ticket.VideoID))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "Cannot retry video")
}

func seedListRecord(t *testing.T, f *fixture, id, owner, companyID string, status video.Status, age time.Duration) {
	t.Helper()
	require.NoError(t, f.store.SaveMetadata(context.Background(), &video.Record{
		ID:        id,
		OwnerID:   owner,
		CompanyID: companyID,
		Filename:  "movie.mp4",
		Status:    status,
		CreatedAt: time.Now().UTC().Add(-age),
	}))
}

func TestListVideos(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	seedListRecord(t, f, "vid-newest", testUser.ID, "company-1", video.StatusReady, 1*time.Hour)
	seedListRecord(t, f, "vid-middle", testUser.ID, "company-1", video.StatusError, 2*time.Hour)
	seedListRecord(t, f, "vid-oldest", testUser.ID, "company-2", video.StatusReady, 3*time.Hour)
	seedListRecord(t, f, "vid-foreign", "someone-else", "company-1", video.StatusReady, 1*time.Minute)

	list := func(query string) ListVideosResponse {
		req := asUser(httptest.NewRequest("GET", "/api/videos"+query, nil), testUser)
		rr := httptest.NewRecorder()
		f.ListVideos()(rr, req, nil)
		require.Equal(http.StatusOK, rr.Code)
		var resp ListVideosResponse
		require.NoError(json.Unmarshal(rr.Body.Bytes(), &resp))
		return resp
	}

	resp := list("")
	require.Equal(3, resp.Count)
	require.Equal("vid-newest", resp.Videos[0].ID)
	require.Equal("vid-middle", resp.Videos[1].ID)
	require.Equal("vid-oldest", resp.Videos[2].ID)

	resp = list("?status=ready")
	require.Equal(2, resp.Count)

	resp = list("?company_id=company-2")
	require.Equal(1, resp.Count)
	require.Equal("vid-oldest", resp.Videos[0].ID)

	resp = list("?skip=1&limit=1")
	require.Equal(1, resp.Count)
	require.Equal("vid-middle", resp.Videos[0].ID)
}

func TestListVideosRejectsBadParameters(t *testing.T) {
	f := newFixture(t)
	h := f.ListVideos()

	for name, query := range map[string]string{
		"unknown status":  "?status=exploded",
		"negative skip":   "?skip=-1",
		"malformed limit": "?limit=ten",
	} {
		t.Run(name, func(t *testing.T) {
			req := asUser(httptest.NewRequest("GET", "/api/videos"+query, nil), testUser)
			rr := httptest.NewRecorder()
			h(rr, req, nil)
			require.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}
