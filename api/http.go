package api

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/clipstream/vod-api/config"
	"github.com/clipstream/vod-api/handlers"
	"github.com/clipstream/vod-api/log"
	"github.com/clipstream/vod-api/middleware"
)

func ListenAndServe(ctx context.Context, cli config.Cli, vodHandlers *handlers.VODHandlersCollection) error {
	router := NewVODAPIRouter(cli, vodHandlers)
	server := http.Server{Addr: cli.HTTPAddress, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoVideoID(
		"Starting VOD API!",
		"version", config.Version,
		"host", cli.HTTPAddress,
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

// NewVODAPIRouter mounts the public surface: the upload and playback API and,
// for the local backend, the raw and processed file routes that serve the
// relative URLs local presigning hands out.
func NewVODAPIRouter(cli config.Cli, vodHandlers *handlers.VODHandlersCollection) *httprouter.Router {
	router := httprouter.New()
	router.GlobalOPTIONS = middleware.PreflightHandler()
	withLogging := middleware.LogRequest()
	withCORS := middleware.AllowCORS()
	authenticator := middleware.Authenticator{AuthZ: vodHandlers.AuthZ, APIToken: cli.APIToken}
	withAuth := authenticator.Authenticate
	withCapacityChecking := func(next httprouter.Handle) httprouter.Handle {
		return middleware.HasCapacity(vodHandlers.Engine, next)
	}

	// Simple endpoint for healthchecks
	router.GET("/ok", withLogging(vodHandlers.Ok()))

	// Upload lifecycle
	router.POST("/api/videos",
		withLogging(
			withCORS(
				withAuth(
					vodHandlers.InitializeUpload(),
				),
			),
		),
	)
	router.POST("/api/videos/:id/chunks",
		withLogging(
			withCORS(
				withAuth(
					withCapacityChecking(
						vodHandlers.UploadChunk(),
					),
				),
			),
		),
	)
	router.POST("/api/videos/:id/retry",
		withLogging(
			withCORS(
				withAuth(
					withCapacityChecking(
						vodHandlers.RetryVideo(),
					),
				),
			),
		),
	)

	// Queries and playback
	router.GET("/api/videos", withLogging(withCORS(withAuth(vodHandlers.ListVideos()))))
	router.GET("/api/videos/:id", withLogging(withCORS(withAuth(vodHandlers.VideoStatus()))))
	router.DELETE("/api/videos/:id", withLogging(withCORS(withAuth(vodHandlers.CancelVideo()))))
	router.GET("/api/videos/:id/hls", withLogging(withCORS(withAuth(vodHandlers.HLSManifest()))))
	router.GET("/api/videos/:id/dash", withLogging(withCORS(withAuth(vodHandlers.DASHManifest()))))
	router.GET("/api/videos/:id/thumbnails", withLogging(withCORS(withAuth(vodHandlers.Thumbnails()))))

	// Local storage serves its presigned routes itself; S3 mode signs real
	// bucket URLs and never mounts these.
	if cli.StorageBackend == "local" {
		router.GET("/raw/*filepath", withLogging(withCORS(handlers.LocalFiles(filepath.Join(cli.LocalStorageDir, "raw")))))
		router.GET("/processed/*filepath", withLogging(withCORS(handlers.LocalFiles(filepath.Join(cli.LocalStorageDir, "processed")))))
	}

	return router
}
