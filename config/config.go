package config

import (
	"math/rand"
	"os"

	"github.com/go-kit/log"
)

var Version string

// Used so that we can generate fixed timestamps in tests
var DefaultClock Clock = RealClock{}

// Maximum number of videos processed concurrently by one instance.
var MaxInFlightJobs = 8

// Number of (quality, format) transcodes running in parallel within one job.
var TranscodingParallelJobs = 2

const (
	DefaultChunkSize           = 5 * 1024 * 1024
	DefaultHLSSegmentDuration  = 6
	DefaultDASHSegmentDuration = 4
	DefaultThumbnailCount      = 3
	DefaultStallHours          = 4
	DefaultExpirationDays      = 30
	DefaultFFmpegThreads       = 4
)

// DefaultAllowedFormats is the upload extension allow-list.
var DefaultAllowedFormats = []string{"mp4", "mov", "wmv", "avi", "avchd", "flv", "f4v", "swf", "mkv", "webm", "mpeg-2"}

// Global variable, but easier than passing a logger around throughout the system
var Logger log.Logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

func init() {
	Logger = log.With(Logger, "ts", log.DefaultTimestampUTC)
}

const randomTrailerCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func RandomTrailer(length int) string {
	res := make([]byte, length)
	for i := 0; i < length; i++ {
		res[i] = randomTrailerCharset[rand.Intn(len(randomTrailerCharset))]
	}
	return string(res)
}
