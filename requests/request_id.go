// Package requests carries per-request correlation helpers shared by the
// middleware and handlers.
package requests

import (
	"net/http"

	"github.com/clipstream/vod-api/config"
)

// HeaderRequestID is the correlation header. Inbound values are kept as
// provided so callers can stitch API log lines into their own traces.
const HeaderRequestID = "X-Request-ID"

// GetRequestID returns the request's correlation id, minting one on first
// use and pinning it to the request headers so later middleware and
// handlers see the same value.
func GetRequestID(req *http.Request) string {
	requestID := req.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = config.RandomTrailer(8)
		req.Header.Set(HeaderRequestID, requestID)
	}
	return requestID
}
