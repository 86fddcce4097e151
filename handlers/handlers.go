package handlers

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/clipstream/vod-api/analytics"
	"github.com/clipstream/vod-api/clients"
	"github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/events"
	"github.com/clipstream/vod-api/log"
	"github.com/clipstream/vod-api/pipeline"
	"github.com/clipstream/vod-api/storage"
	"github.com/clipstream/vod-api/upload"
)

// VODHandlersCollection is the HTTP shell over the upload coordinator and
// the processing pipeline. Handlers stay thin: parse, delegate, translate
// errors. All request semantics live in the core packages.
type VODHandlersCollection struct {
	Uploads   *upload.Coordinator
	Engine    *pipeline.Coordinator
	Store     *storage.Store
	AuthZ     clients.AuthZ
	Publisher events.Publisher
	Sink      analytics.Sink
}

// Ok answers healthchecks. When an authorization service is configured its
// health is part of ours; the noop provider always passes.
func (d *VODHandlersCollection) Ok() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if err := d.AuthZ.Health(req.Context()); err != nil {
			errors.WriteHTTPInternalServerError(w, "Authorization service unhealthy", err)
			return
		}
		io.WriteString(w, "OK")
	}
}

func HasContentType(r *http.Request, mimetype string) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return mimetype == "application/octet-stream"
	}

	for _, v := range strings.Split(contentType, ",") {
		t, _, err := mime.ParseMediaType(v)
		if err != nil {
			break
		}
		if t == mimetype {
			return true
		}
	}
	return false
}

// caller pulls the identity the auth middleware resolved. Routes behind the
// middleware always have one; a missing identity means the route was mounted
// without it, which is a 401 rather than a panic.
func caller(w http.ResponseWriter, req *http.Request) (clients.User, bool) {
	user, ok := clients.CallerFrom(req.Context())
	if !ok || user.ID == "" {
		errors.WriteHTTPUnauthorized(w, "No authenticated caller", nil)
		return clients.User{}, false
	}
	return user, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}, videoID string) {
	respBytes, err := json.Marshal(body)
	if err != nil {
		log.LogError(videoID, "failed to build HTTP API response", err)
		errors.WriteHTTPInternalServerError(w, "Failed to build response", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(respBytes); err != nil {
		log.LogError(videoID, "failed to write HTTP API response", err)
	}
}
