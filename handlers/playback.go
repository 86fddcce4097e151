package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/events"
	"github.com/clipstream/vod-api/log"
	"github.com/clipstream/vod-api/metrics"
	"github.com/clipstream/vod-api/storage"
	"github.com/clipstream/vod-api/video"
)

type ManifestResponse struct {
	VideoID     string `json:"video_id"`
	Format      string `json:"format"`
	ManifestURL string `json:"manifest_url"`
}

func (d *VODHandlersCollection) HLSManifest() httprouter.Handle {
	return d.manifestURL("hls", d.Store.PresignHLS)
}

func (d *VODHandlersCollection) DASHManifest() httprouter.Handle {
	return d.manifestURL("dash", d.Store.PresignDASH)
}

// manifestURL hands out a presigned playback manifest URL. Handing one out
// counts as a view: the event and the analytics row fire here, never on the
// segment requests that follow.
func (d *VODHandlersCollection) manifestURL(format string, presign func(ctx context.Context, id string) (string, error)) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		id := params.ByName("id")
		status := http.StatusOK
		defer func() {
			metrics.Metrics.PlaybackRequestCount.WithLabelValues(format, strconv.Itoa(status)).Inc()
		}()

		user, ok := caller(w, req)
		if !ok {
			status = http.StatusUnauthorized
			return
		}

		record, err := d.Uploads.Status(req.Context(), id, user.ID)
		if err != nil {
			status = errors.WriteHTTPForError(w, "Cannot fetch video", err).Status
			return
		}
		if record.Status != video.StatusReady {
			status = errors.WriteHTTPBadRequest(w, fmt.Sprintf("video is %s, not ready for playback", record.Status), nil).Status
			return
		}

		manifestURL, err := presign(req.Context(), id)
		if err != nil {
			status = errors.WriteHTTPForError(w, "Cannot build manifest URL", err).Status
			return
		}

		if err := d.Publisher.Publish(req.Context(), events.TopicVideoAnalytics, events.VideoView(id, user.ID, user.CompanyID)); err != nil {
			log.LogError(id, "error publishing video_view event", err)
		}
		d.Sink.RecordView(id, user.ID, user.CompanyID)

		writeJSON(w, http.StatusOK, ManifestResponse{VideoID: id, Format: format, ManifestURL: manifestURL}, id)
	}
}

type ThumbnailsResponse struct {
	VideoID    string   `json:"video_id"`
	Thumbnails []string `json:"thumbnails"`
	PosterURL  string   `json:"poster_url,omitempty"`
	PreviewURL string   `json:"preview_url,omitempty"`
}

// Thumbnails lists presigned URLs for whatever stills exist. Videos that
// have not finished processing simply return fewer artifacts, not an error.
func (d *VODHandlersCollection) Thumbnails() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		id := params.ByName("id")
		user, ok := caller(w, req)
		if !ok {
			return
		}
		if _, err := d.Uploads.Status(req.Context(), id, user.ID); err != nil {
			errors.WriteHTTPForError(w, "Cannot fetch video", err)
			return
		}

		ctx := req.Context()
		paths, err := d.Store.ListThumbnails(ctx, id)
		if err != nil {
			errors.WriteHTTPForError(w, "Cannot list thumbnails", err)
			return
		}
		response := ThumbnailsResponse{VideoID: id, Thumbnails: make([]string, 0, len(paths))}
		for _, p := range paths {
			signed, err := d.Store.Presign(ctx, p)
			if err != nil {
				errors.WriteHTTPForError(w, "Cannot sign thumbnail URL", err)
				return
			}
			response.Thumbnails = append(response.Thumbnails, signed)
		}
		if response.PosterURL, err = d.presignIfStored(ctx, storage.PosterPath(id)); err != nil {
			errors.WriteHTTPForError(w, "Cannot sign poster URL", err)
			return
		}
		if response.PreviewURL, err = d.presignIfStored(ctx, storage.PreviewPath(id)); err != nil {
			errors.WriteHTTPForError(w, "Cannot sign preview URL", err)
			return
		}
		writeJSON(w, http.StatusOK, response, id)
	}
}

func (d *VODHandlersCollection) presignIfStored(ctx context.Context, p string) (string, error) {
	exists, err := d.Store.FileExists(ctx, p)
	if err != nil || !exists {
		return "", err
	}
	return d.Store.Presign(ctx, p)
}
