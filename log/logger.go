package log

import (
	"io"
	"os"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/patrickmn/go-cache"
)

var loggerCache *cache.Cache
var defaultLoggerCacheExpiry = 6 * time.Hour

// swapped out by tests to capture output
var logDestination io.Writer = os.Stderr

func init() {
	loggerCache = cache.New(defaultLoggerCacheExpiry, 10*time.Minute)
}

// Permanently add context to the logger. Any future logging for this video ID will include this context
func AddContext(videoID string, keyvals ...interface{}) {
	loggerCache.Set(videoID, kitlog.With(getLogger(videoID), keyvals...), defaultLoggerCacheExpiry)
}

func Log(videoID string, message string, keyvals ...interface{}) {
	_ = kitlog.With(getLogger(videoID), "msg", message).Log(keyvals...)
}

// Log in situations where we don't have access to the video ID.
// Should be used sparingly and with as much context inserted into the message as possible
func LogNoVideoID(message string, keyvals ...interface{}) {
	_ = kitlog.With(newLogger(), "msg", message).Log(keyvals...)
}

func LogError(videoID string, message string, err error, keyvals ...interface{}) {
	msgLogger := kitlog.With(getLogger(videoID), "msg", message)
	errLogger := kitlog.With(msgLogger, "err", err.Error())
	_ = errLogger.Log(keyvals...)
}

func getLogger(videoID string) kitlog.Logger {
	logger, found := loggerCache.Get(videoID)
	if found {
		return logger.(kitlog.Logger)
	}

	newLogger := kitlog.With(newLogger(), "video_id", videoID)
	err := loggerCache.Add(videoID, newLogger, defaultLoggerCacheExpiry)
	if err != nil {
		_ = newLogger.Log("msg", "error adding logger to cache", "video_id", videoID)
	}
	return newLogger
}

func newLogger() kitlog.Logger {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(logDestination))
	return kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
}
