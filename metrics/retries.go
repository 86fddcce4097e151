package metrics

import (
	"context"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

type contextKey string

func (c contextKey) String() string {
	return "vodAPIMetricsKey" + string(c)
}

var retriesKey = contextKey("OutboundRetries")

// Retries counts the attempts an outbound request needed beyond the first.
// A request that succeeds immediately reports zero.
type Retries struct {
	count int
}

func (r *Retries) Count() int {
	if r == nil {
		return 0
	}
	return r.count
}

// WithRetries installs a fresh retry counter on the context and returns it.
// The counter is advanced by TrackRetries set as the client's RequestLogHook.
func WithRetries(ctx context.Context) (context.Context, *Retries) {
	r := &Retries{}
	return context.WithValue(ctx, retriesKey, r), r
}

// TrackRetries is a retryablehttp.RequestLogHook that records the attempt
// number on the counter carried by the request context. retryablehttp numbers
// attempts from zero, so the last recorded value is the retry count.
func TrackRetries(_ retryablehttp.Logger, req *http.Request, attempt int) {
	if r, ok := req.Context().Value(retriesKey).(*Retries); ok {
		r.count = attempt
	}
}
