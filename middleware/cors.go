package middleware

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// corsHeaders opens responses to browser players. Manifest and segment
// fetches come from hls.js and dash.js on other origins, and segment
// requests carry Range headers.
func corsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
}

func AllowCORS() func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			corsHeaders(w)
			next(w, r, ps)
		}
	}
}

// PreflightHandler answers OPTIONS requests. Routed methods never see
// preflights, so the router mounts this as its global OPTIONS handler.
func PreflightHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		w.WriteHeader(http.StatusNoContent)
	})
}
