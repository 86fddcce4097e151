// Package pprof exposes the Go profiling endpoints on their own side port,
// away from the public API surface.
package pprof

import (
	"fmt"
	"net/http"
	"net/http/pprof"
)

// ListenAndServe blocks serving the profiling handlers on localhost. The
// handlers get their own mux so nothing leaks onto http.DefaultServeMux.
func ListenAndServe(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return fmt.Errorf("pprof listener stopped: %w", http.ListenAndServe(fmt.Sprintf("127.0.0.1:%d", port), mux))
}
