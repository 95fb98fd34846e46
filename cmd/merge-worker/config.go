package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/wehubfusion/Gorilla/pkg/concurrency"
)

// workerConfig is everything the worker reads from flags and GORILLA_*
// environment variables. Flags win over the environment.
type workerConfig struct {
	NATSURL         string
	Stream          string
	Consumer        string
	Workers         int
	BatchSize       int
	ProcessTimeout  time.Duration
	MaxDeliver      int
	ResultStream    string
	ResultSubject   string
	OTLPEndpoint    string
	SampleRatio     float64
	SentryDSN       string
	Environment     string
	BlobConnString  string
	BlobContainer   string
	ArchiveResults  bool
	DevelopmentLogs bool
}

// defaultWorkerConfig sizes the pool from host unless GORILLA_WORKERS or
// GORILLA_BATCH_SIZE say otherwise.
func defaultWorkerConfig(getenv func(string) string, host concurrency.Host) (workerConfig, error) {
	cfg := workerConfig{
		NATSURL:        envString(getenv, "GORILLA_NATS_URL", "nats://127.0.0.1:4222"),
		Stream:         envString(getenv, "GORILLA_STREAM", "MERGE_REQUESTS"),
		Consumer:       envString(getenv, "GORILLA_CONSUMER", "merge-worker"),
		ResultStream:   envString(getenv, "GORILLA_RESULT_STREAM", "MERGE_RESULTS"),
		ResultSubject:  envString(getenv, "GORILLA_RESULT_SUBJECT", "MERGE_RESULTS.merged"),
		OTLPEndpoint:   getenv("GORILLA_OTLP_ENDPOINT"),
		SentryDSN:      getenv("GORILLA_SENTRY_DSN"),
		Environment:    envString(getenv, "GORILLA_ENVIRONMENT", "development"),
		BlobConnString: getenv("GORILLA_BLOB_CONNECTION_STRING"),
		BlobContainer:  envString(getenv, "GORILLA_BLOB_CONTAINER", "gorilla-results"),
	}

	var err error
	if cfg.Workers, err = envInt(getenv, "GORILLA_WORKERS", host.Workers()); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = envInt(getenv, "GORILLA_BATCH_SIZE", host.BatchSize()); err != nil {
		return cfg, err
	}
	if cfg.MaxDeliver, err = envInt(getenv, "GORILLA_MAX_DELIVER", 5); err != nil {
		return cfg, err
	}
	if cfg.ProcessTimeout, err = envDuration(getenv, "GORILLA_PROCESS_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.SampleRatio, err = envFloat(getenv, "GORILLA_TRACE_SAMPLE_RATIO", 1.0); err != nil {
		return cfg, err
	}
	if cfg.ArchiveResults, err = envBool(getenv, "GORILLA_ARCHIVE_RESULTS", false); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *workerConfig) bindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.NATSURL, "nats-url", c.NATSURL, "NATS server URL")
	fs.StringVar(&c.Stream, "stream", c.Stream, "JetStream stream carrying merge requests")
	fs.StringVar(&c.Consumer, "consumer", c.Consumer, "durable consumer name")
	fs.IntVar(&c.Workers, "workers", c.Workers, "number of merge workers")
	fs.IntVar(&c.BatchSize, "batch-size", c.BatchSize, "requests fetched per pull")
	fs.DurationVar(&c.ProcessTimeout, "process-timeout", c.ProcessTimeout, "timeout for one merge")
	fs.IntVar(&c.MaxDeliver, "max-deliver", c.MaxDeliver, "delivery attempts before a retryable failure is published")
	fs.StringVar(&c.ResultStream, "result-stream", c.ResultStream, "stream for merge results")
	fs.StringVar(&c.ResultSubject, "result-subject", c.ResultSubject, "subject for merge results")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", c.OTLPEndpoint, "OTLP/HTTP endpoint (host:port); empty disables tracing")
	fs.Float64Var(&c.SampleRatio, "trace-sample-ratio", c.SampleRatio, "trace sampling ratio")
	fs.StringVar(&c.SentryDSN, "sentry-dsn", c.SentryDSN, "Sentry DSN; empty disables error reporting")
	fs.StringVar(&c.Environment, "environment", c.Environment, "deployment environment")
	fs.StringVar(&c.BlobConnString, "blob-connection-string", c.BlobConnString, "Azure Blob connection string; empty disables offload")
	fs.StringVar(&c.BlobContainer, "blob-container", c.BlobContainer, "Azure Blob container")
	fs.BoolVar(&c.ArchiveResults, "archive-results", c.ArchiveResults, "save every outcome to the run's merged result file")
	fs.BoolVar(&c.DevelopmentLogs, "dev-logs", c.DevelopmentLogs, "human-readable development logging")
}

func (c workerConfig) validate() error {
	if c.NATSURL == "" {
		return fmt.Errorf("nats url is required")
	}
	if c.Workers <= 0 || c.BatchSize <= 0 {
		return fmt.Errorf("workers and batch size must be positive")
	}
	if c.ProcessTimeout <= 0 {
		return fmt.Errorf("process timeout must be positive")
	}
	if c.ArchiveResults && c.BlobConnString == "" {
		return fmt.Errorf("archiving results needs a blob connection string")
	}
	return nil
}

func envString(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(getenv func(string) string, key string, def float64) (float64, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envBool(getenv func(string) string, key string, def bool) (bool, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
