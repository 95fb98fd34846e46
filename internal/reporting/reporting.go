// Package reporting sends unexpected failures, such as a corrupted slot list,
// to Sentry. Without a DSN every call is a no-op.
package reporting

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// DefaultFlushTimeout bounds Flush on shutdown.
const DefaultFlushTimeout = 2 * time.Second

// Config holds the Sentry client settings.
type Config struct {
	// DSN of the Sentry project. Empty disables reporting.
	DSN string
	// Environment tag, e.g. "production".
	Environment string
	// Release tag, usually the build version.
	Release string
	// FlushTimeout bounds Flush. Default: DefaultFlushTimeout.
	FlushTimeout time.Duration
	// BeforeSend may inspect or drop events before they leave the process.
	BeforeSend func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event
}

// Reporter captures errors with tags.
type Reporter interface {
	CaptureError(err error, tags map[string]string)
	Flush() bool
}

// New returns a Sentry reporter, or a no-op one when cfg.DSN is empty.
func New(cfg Config, logger *zap.Logger) (Reporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DSN == "" {
		return NoOp{}, nil
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend:  cfg.BeforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}

	logger.Info("Sentry reporting enabled", zap.String("environment", cfg.Environment))
	return &SentryReporter{
		hub:          sentry.NewHub(client, sentry.NewScope()),
		flushTimeout: cfg.FlushTimeout,
		logger:       logger,
	}, nil
}

// SentryReporter reports through its own hub so it never touches the
// process-global one.
type SentryReporter struct {
	hub          *sentry.Hub
	flushTimeout time.Duration
	logger       *zap.Logger
}

// CaptureError sends err with tags. A nil error is ignored.
func (r *SentryReporter) CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if id := r.hub.CaptureException(err); id != nil {
			r.logger.Debug("Reported error to Sentry", zap.String("event_id", string(*id)), zap.Error(err))
		}
	})
}

// Flush waits for queued events.
func (r *SentryReporter) Flush() bool {
	return r.hub.Flush(r.flushTimeout)
}

// NoOp drops everything.
type NoOp struct{}

func (NoOp) CaptureError(error, map[string]string) {}
func (NoOp) Flush() bool                           { return true }

var (
	_ Reporter = (*SentryReporter)(nil)
	_ Reporter = NoOp{}
)
