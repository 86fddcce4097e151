package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/clipstream/vod-api/analytics"
	"github.com/clipstream/vod-api/api"
	"github.com/clipstream/vod-api/clients"
	"github.com/clipstream/vod-api/config"
	"github.com/clipstream/vod-api/events"
	"github.com/clipstream/vod-api/handlers"
	"github.com/clipstream/vod-api/janitor"
	"github.com/clipstream/vod-api/pipeline"
	"github.com/clipstream/vod-api/pprof"
	"github.com/clipstream/vod-api/storage"
	"github.com/clipstream/vod-api/upload"
	"github.com/clipstream/vod-api/video"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	vFlag := flag.Lookup("v")
	fs := flag.NewFlagSet("vod-api", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	// listen addresses
	config.AddrFlag(fs, &cli.HTTPAddress, "http-addr", "0.0.0.0:8989", "Address to bind for external-facing VOD HTTP handling")
	config.AddrFlag(fs, &cli.HTTPInternalAddress, "http-internal-addr", "127.0.0.1:7979", "Address to bind for internal privileged HTTP commands")
	fs.IntVar(&cli.PprofPort, "pprof-port", 6061, "Pprof listen port")

	// storage parameters
	fs.StringVar(&cli.StorageBackend, "storage-backend", "local", "Blob storage backend to use. One of: local, s3")
	fs.StringVar(&cli.LocalStorageDir, "local-storage-dir", "./data", "Directory the local storage backend keeps its buckets in")
	fs.StringVar(&cli.RawBucket, "raw-bucket", "", "Bucket for uploaded chunks and composed source files")
	fs.StringVar(&cli.ProcessedBucket, "processed-bucket", "", "Bucket for transcoded renditions, manifests and thumbnails")
	fs.StringVar(&cli.S3Endpoint, "s3-endpoint", "", "Custom S3 endpoint, for MinIO or other S3-compatible stores")
	fs.StringVar(&cli.S3Region, "s3-region", "", "Region of the S3 buckets")
	fs.BoolVar(&cli.S3PathStyle, "s3-path-style", false, "Use path-style S3 addressing instead of virtual-hosted-style")
	config.CommaMapFlag(fs, &cli.S3ObjectMetadata, "s3-object-metadata", map[string]string{}, "Static key=value metadata attached to every object the s3 backend writes")
	fs.StringVar(&cli.AWSAccessKeyID, "aws-access-key-id", "", "Access key for the S3 buckets. Falls back to the SDK default credential chain when unset")
	fs.StringVar(&cli.AWSAccessKeySecret, "aws-secret-access-key", "", "Secret key for the S3 buckets")
	fs.DurationVar(&cli.PresignTTL, "presign-ttl", time.Hour, "How long presigned playback and artifact URLs stay valid")

	// upload parameters
	fs.Int64Var(&cli.ChunkSize, "chunk-size", config.DefaultChunkSize, "Upload chunk size in bytes. Every chunk but the last must be exactly this size")
	config.CommaSliceFlag(fs, &cli.AllowedFormats, "allowed-formats", config.DefaultAllowedFormats, "Comma delimited list of file extensions accepted for upload")

	// transcoding parameters
	fs.IntVar(&cli.HLSSegmentDuration, "hls-segment-duration", config.DefaultHLSSegmentDuration, "Target HLS segment duration in seconds")
	fs.IntVar(&cli.DASHSegmentDuration, "dash-segment-duration", config.DefaultDASHSegmentDuration, "Target DASH segment duration in seconds")
	fs.StringVar(&cli.QualityLadderPath, "quality-ladder", "", "Path to a YAML file overriding the built-in quality ladder")
	fs.IntVar(&cli.FFmpegThreads, "ffmpeg-threads", config.DefaultFFmpegThreads, "Thread count passed to each ffmpeg invocation")
	fs.BoolVar(&cli.SkipUpscale, "skip-upscale", true, "Skip ladder rungs taller than the source video")
	fs.BoolVar(&cli.EnablePreviews, "enable-previews", true, "Generate poster frames and animated previews alongside thumbnails")
	fs.IntVar(&cli.ThumbnailCount, "thumbnail-count", config.DefaultThumbnailCount, "Number of still thumbnails extracted per video")
	fs.IntVar(&config.MaxInFlightJobs, "max-inflight-jobs", 8, "Maximum number of videos processed concurrently by this instance")
	fs.IntVar(&config.TranscodingParallelJobs, "parallel-transcode-jobs", 2, "Number of parallel transcode jobs within one video")

	// janitor parameters
	fs.IntVar(&cli.StallHours, "stall-hours", config.DefaultStallHours, "Hours a video may sit in processing before the janitor fails it")
	fs.IntVar(&cli.ExpirationDays, "expiration-days", config.DefaultExpirationDays, "Days an abandoned upload may linger before its data is removed")
	fs.DurationVar(&cli.JanitorInterval, "janitor-interval", time.Hour, "How often the janitor sweeps for stalled and expired videos")

	// caller identity parameters
	fs.StringVar(&cli.APIToken, "api-token", "IAmAuthorized", "Auth header value for API access")
	fs.StringVar(&cli.AuthzURL, "authz-url", "", "Base URL of the authorization service. Static token auth applies when unset")
	fs.StringVar(&cli.AuthzToken, "authz-token", "", "Bearer token the authorization service expects from this service")

	// downstream integrations
	fs.StringVar(&cli.AMQPURL, "amqp-url", "", "RabbitMQ url")
	fs.StringVar(&cli.AMQPExchange, "amqp-exchange", "vod.events", "Exchange lifecycle events are published to")
	fs.StringVar(&cli.AnalyticsDBConnectionString, "analytics-db-connection-string", "", "Connection string to use for the analytics Postgres DB. Takes the form: host=X port=X user=X password=X dbname=X")

	// special parameters
	verbosity := fs.String("v", "", "Log verbosity.  {4|5|6}")
	_ = fs.String("config", "", "config file (optional)")

	err = ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("VOD_API"),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}
	err = flag.CommandLine.Parse(nil)
	if err != nil {
		glog.Fatal(err)
	}

	if *version {
		fmt.Printf("vod-api version: %s", config.Version)
		return
	}

	go func() {
		log.Println(pprof.ListenAndServe(cli.PprofPort))
	}()

	if *verbosity != "" {
		err = vFlag.Value.Set(*verbosity)
		if err != nil {
			glog.Fatal(err)
		}
	}

	var backend storage.Backend
	switch cli.StorageBackend {
	case "local":
		backend, err = storage.NewLocalBackend(cli.LocalStorageDir)
		if err != nil {
			glog.Fatalf("Error creating local storage backend: %v", err)
		}
	case "s3":
		backend, err = storage.NewS3Backend(storage.S3BackendOptions{
			Endpoint:        cli.S3Endpoint,
			Region:          cli.S3Region,
			PathStyle:       cli.S3PathStyle,
			RawBucket:       cli.RawBucket,
			ProcessedBucket: cli.ProcessedBucket,
			AccessKeyID:     cli.AWSAccessKeyID,
			AccessKeySecret: cli.AWSAccessKeySecret,
			ObjectMetadata:  cli.S3ObjectMetadata,
		})
		if err != nil {
			glog.Fatalf("Error creating s3 storage backend: %v", err)
		}
	default:
		glog.Fatalf("Unknown storage backend %q, must be one of: local, s3", cli.StorageBackend)
	}
	store := storage.NewStore(backend, cli.PresignTTL)

	var ladder []video.QualityProfile
	if cli.QualityLadderPath != "" {
		ladder, err = video.LoadQualityLadder(cli.QualityLadderPath)
		if err != nil {
			glog.Fatalf("Error loading quality ladder: %v", err)
		}
	}

	var authz clients.AuthZ = clients.NoopAuthZ{}
	if cli.AuthzURL != "" {
		authz = clients.NewAuthZClient(cli.AuthzURL, cli.AuthzToken)
	}

	// Lifecycle events go to RabbitMQ if configured
	var publisher events.Publisher = events.NoopPublisher{}
	if cli.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cli.AMQPURL, cli.AMQPExchange)
		if err != nil {
			glog.Fatalf("Error creating AMQP event publisher: %v", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	// Emit high-cardinality usage rows to a Postgres database if configured
	var sink analytics.Sink = analytics.NoopSink{}
	if cli.AnalyticsDBConnectionString != "" {
		postgresSink, err := analytics.NewPostgresSink(cli.AnalyticsDBConnectionString)
		if err != nil {
			glog.Fatalf("Error creating postgres analytics connection: %v", err)
		}
		defer postgresSink.Close()
		sink = postgresSink
	} else {
		glog.Info("Postgres analytics connection string was not set, postgres analytics are disabled.")
	}

	vodEngine := pipeline.NewCoordinator(store, authz, publisher, sink, ladder, pipeline.Options{
		HLSSegmentDuration:  cli.HLSSegmentDuration,
		DASHSegmentDuration: cli.DASHSegmentDuration,
		FFmpegThreads:       cli.FFmpegThreads,
		ThumbnailCount:      cli.ThumbnailCount,
		SkipUpscale:         cli.SkipUpscale,
		EnablePreviews:      cli.EnablePreviews,
		AllowedFormats:      cli.AllowedFormats,
	})

	uploads := upload.NewCoordinator(store, authz, publisher, sink, cli.ChunkSize, cli.AllowedFormats)

	vodHandlers := &handlers.VODHandlersCollection{
		Uploads:   uploads,
		Engine:    vodEngine,
		Store:     store,
		AuthZ:     authz,
		Publisher: publisher,
		Sink:      sink,
	}

	jan := janitor.New(store, cli.JanitorInterval, cli.StallHours, cli.ExpirationDays)

	// Initialize root context; cancelling this prompts all components to shut down cleanly
	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, cli, vodHandlers)
	})

	group.Go(func() error {
		return api.ListenAndServeInternal(ctx, cli, jan)
	})

	group.Go(func() error {
		jan.Run(ctx)
		return nil
	})

	err = group.Wait()
	glog.Infof("Shutdown complete. Reason for shutdown: %s", err)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			glog.Errorf("caught signal=%v, attempting clean shutdown", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
