package handlers

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// LocalFiles serves a bucket directory of the local backend. It backs the
// relative URLs local presigning hands out; the S3 backend signs real URLs
// and these routes are never mounted.
func LocalFiles(root string) httprouter.Handle {
	fileServer := http.FileServer(http.Dir(root))
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		req.URL.Path = params.ByName("filepath")
		fileServer.ServeHTTP(w, req)
	}
}
