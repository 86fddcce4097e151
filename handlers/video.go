package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/log"
	"github.com/clipstream/vod-api/video"
)

const defaultListLimit = 100

func (d *VODHandlersCollection) VideoStatus() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		id := params.ByName("id")
		user, ok := caller(w, req)
		if !ok {
			return
		}
		record, err := d.Uploads.Status(req.Context(), id, user.ID)
		if err != nil {
			errors.WriteHTTPForError(w, "Cannot fetch video", err)
			return
		}
		writeJSON(w, http.StatusOK, record, id)
	}
}

func (d *VODHandlersCollection) CancelVideo() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		id := params.ByName("id")
		user, ok := caller(w, req)
		if !ok {
			return
		}
		if err := d.Uploads.Cancel(req.Context(), id, user.ID); err != nil {
			errors.WriteHTTPForError(w, "Cannot cancel video", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RetryVideo rewinds a failed video and, when its artifacts allow, puts it
// straight back into processing.
func (d *VODHandlersCollection) RetryVideo() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		id := params.ByName("id")
		user, ok := caller(w, req)
		if !ok {
			return
		}
		record, err := d.Uploads.Retry(req.Context(), id, user.ID)
		if err != nil {
			errors.WriteHTTPForError(w, "Cannot retry video", err)
			return
		}

		if record.Status == video.StatusUploaded {
			if err := d.Engine.StartProcessing(req.Context(), id); err != nil {
				log.LogError(id, "retry accepted but processing did not start", err)
			} else if refreshed, err := d.Uploads.Status(req.Context(), id, user.ID); err == nil {
				record = refreshed
			}
		}
		writeJSON(w, http.StatusOK, record, id)
	}
}

type ListVideosResponse struct {
	Videos []video.Record `json:"videos"`
	Count  int            `json:"count"`
}

// ListVideos returns the caller's videos, newest first. Results are always
// scoped to the authenticated owner; company and status narrow them further.
func (d *VODHandlersCollection) ListVideos() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		user, ok := caller(w, req)
		if !ok {
			return
		}
		query := req.URL.Query()

		filter := map[string]string{"owner_id": user.ID}
		if status := query.Get("status"); status != "" {
			if !video.Status(status).Valid() {
				errors.WriteHTTPBadRequest(w, "Unknown status filter", fmt.Errorf("status %q", status))
				return
			}
			filter["status"] = status
		}
		if companyID := query.Get("company_id"); companyID != "" {
			filter["company_id"] = companyID
		}

		skip, err := queryInt(query.Get("skip"), 0)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Malformed skip parameter", err)
			return
		}
		limit, err := queryInt(query.Get("limit"), defaultListLimit)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Malformed limit parameter", err)
			return
		}

		records, err := d.Store.ListVideos(req.Context(), filter, skip, limit)
		if err != nil {
			errors.WriteHTTPForError(w, "Cannot list videos", err)
			return
		}
		writeJSON(w, http.StatusOK, ListVideosResponse{Videos: records, Count: len(records)}, "")
	}
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%q is not a non-negative integer", raw)
	}
	return value, nil
}
