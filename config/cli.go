package config

import (
	"flag"
	"fmt"
	"net"
	"strings"
	"time"
)

type Cli struct {
	HTTPAddress         string
	HTTPInternalAddress string
	PprofPort           int

	StorageBackend     string
	LocalStorageDir    string
	RawBucket          string
	ProcessedBucket    string
	S3Endpoint         string
	S3Region           string
	S3PathStyle        bool
	S3ObjectMetadata   map[string]string
	AWSAccessKeyID     string
	AWSAccessKeySecret string

	ChunkSize      int64
	AllowedFormats []string

	HLSSegmentDuration  int
	DASHSegmentDuration int
	QualityLadderPath   string
	FFmpegThreads       int
	SkipUpscale         bool
	EnablePreviews      bool
	ThumbnailCount      int

	StallHours      int
	ExpirationDays  int
	JanitorInterval time.Duration

	APIToken   string
	AuthzURL   string
	AuthzToken string

	AMQPURL      string
	AMQPExchange string

	AnalyticsDBConnectionString string

	PresignTTL time.Duration
}

// OwnInternalURL returns the base URL the internal listener answers on,
// substituting loopback for a wildcard bind address.
func (cli *Cli) OwnInternalURL() string {
	addr := strings.TrimPrefix(cli.HTTPInternalAddress, "http://")
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("http://%s", addr)
	}
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%s", host, port)
}

// AddrFlag registers a host:port flag that validates its value at parse time.
func AddrFlag(fs *flag.FlagSet, dest *string, name, value, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if _, _, err := net.SplitHostPort(s); err != nil {
			return err
		}
		*dest = s
		return nil
	})
}

// CommaSliceFlag handles `-foo=one,two,three`. An explicitly empty value
// clears the default.
func CommaSliceFlag(fs *flag.FlagSet, dest *[]string, name string, value []string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if s == "" {
			*dest = []string{}
			return nil
		}
		split := strings.Split(s, ",")
		out := make([]string, 0, len(split))
		for _, part := range split {
			out = append(out, strings.TrimSpace(part))
		}
		*dest = out
		return nil
	})
}

// CommaMapFlag handles `-foo=key1=value1,key2=value2`.
func CommaMapFlag(fs *flag.FlagSet, dest *map[string]string, name string, value map[string]string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		m := map[string]string{}
		if s == "" {
			*dest = m
			return nil
		}
		for _, pair := range strings.Split(s, ",") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				return fmt.Errorf("invalid map entry: %s", pair)
			}
			m[kv[0]] = kv[1]
		}
		*dest = m
		return nil
	})
}
