package middleware

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/clipstream/vod-api/config"
	"github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/metrics"
	"github.com/clipstream/vod-api/pipeline"
)

// HasCapacity refuses requests that could spawn a processing job while the
// pipeline is saturated. Back-pressure lands here, before a chunk body is
// read, so clients pause instead of uploading bytes that would only queue.
func HasCapacity(engine *pipeline.Coordinator, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Keep a gauge of HTTP requests in flight
		metrics.Metrics.HTTPRequestsInFlight.Add(1)
		defer metrics.Metrics.HTTPRequestsInFlight.Add(-1)

		if engine.InFlightJobs() >= config.MaxInFlightJobs {
			w.Header().Set("Retry-After", "10")
			errors.WriteHTTPServiceUnavailable(w, "Too many videos processing, try again shortly", nil)
			return
		}

		next(w, r, ps)
	}
}
