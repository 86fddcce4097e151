package log

import (
	"github.com/golang/glog"
	"github.com/hashicorp/go-retryablehttp"
)

var _ retryablehttp.LeveledLogger = retryableHTTPLogger{}

// retryableHTTPLogger funnels retryablehttp's chatter through our logger,
// gated behind verbosity levels so retries only show up when asked for.
type retryableHTTPLogger struct{}

func NewRetryableHTTPLogger() retryablehttp.LeveledLogger {
	return retryableHTTPLogger{}
}

func (r retryableHTTPLogger) Error(msg string, keysAndValues ...interface{}) {
	r.logAt(3, msg, keysAndValues...)
}

func (r retryableHTTPLogger) Warn(msg string, keysAndValues ...interface{}) {
	r.logAt(4, msg, keysAndValues...)
}

func (r retryableHTTPLogger) Info(msg string, keysAndValues ...interface{}) {
	r.logAt(5, msg, keysAndValues...)
}

func (r retryableHTTPLogger) Debug(msg string, keysAndValues ...interface{}) {
	r.logAt(6, msg, keysAndValues...)
}

func (r retryableHTTPLogger) logAt(level glog.Level, msg string, keysAndValues ...interface{}) {
	if glog.V(level) {
		LogNoVideoID(msg, keysAndValues...)
	}
}
