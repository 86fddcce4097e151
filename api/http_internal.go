package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipstream/vod-api/config"
	"github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/janitor"
	"github.com/clipstream/vod-api/log"
	"github.com/clipstream/vod-api/middleware"
)

func ListenAndServeInternal(ctx context.Context, cli config.Cli, jan *janitor.Janitor) error {
	router := NewVODAPIRouterInternal(jan)
	server := http.Server{Addr: cli.HTTPInternalAddress, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoVideoID(
		"Starting VOD API internal listener!",
		"version", config.Version,
		"host", cli.HTTPInternalAddress,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// NewVODAPIRouterInternal mounts the privileged surface: Prometheus metrics
// and the manual janitor trigger. It binds to loopback by default and never
// carries caller authentication.
func NewVODAPIRouterInternal(jan *janitor.Janitor) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest()

	router.Handler("GET", "/metrics", promhttp.Handler())

	router.POST("/internal/janitor/run", withLogging(runJanitor(jan)))

	return router
}

// runJanitor triggers one sweep synchronously, for operators who do not want
// to wait out the interval after changing retention settings.
func runJanitor(jan *janitor.Janitor) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if err := jan.RunOnce(req.Context()); err != nil {
			errors.WriteHTTPInternalServerError(w, "Janitor sweep failed", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
