// Package runner pulls merge requests from a JetStream consumer, runs them
// through the ordered merge node on a worker pool and reports the results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Gorilla/internal/reporting"
	internaltracing "github.com/wehubfusion/Gorilla/internal/tracing"
	"github.com/wehubfusion/Gorilla/pkg/component"
	"github.com/wehubfusion/Gorilla/pkg/concurrency"
	gerrors "github.com/wehubfusion/Gorilla/pkg/errors"
	"github.com/wehubfusion/Gorilla/pkg/embedded/processors/orderedmerge"
	"github.com/wehubfusion/Gorilla/pkg/embedded/runtime"
	"github.com/wehubfusion/Gorilla/pkg/message"
	"github.com/wehubfusion/Gorilla/pkg/slots"
	"github.com/wehubfusion/Gorilla/pkg/storage"
	"github.com/wehubfusion/Gorilla/pkg/tree"
)

// Config configures a Runner.
type Config struct {
	Stream   string
	Consumer string
	// Subject filters the consumer; empty means "<Stream>.>".
	Subject string

	BatchSize int
	Workers   int

	// ReportTimeout bounds publishing a result, independent of the run
	// context so results still go out during shutdown.
	ReportTimeout time.Duration

	// IdleWait is the pause after an empty pull.
	IdleWait time.Duration

	// Breaker stops pulling while JetStream keeps failing.
	Breaker concurrency.BreakerConfig
}

// DefaultConfig returns defaults for the given stream and consumer.
func DefaultConfig(stream, consumer string) Config {
	return Config{
		Stream:        stream,
		Consumer:      consumer,
		BatchSize:     10,
		Workers:       4,
		ReportTimeout: 5 * time.Second,
		IdleWait:      500 * time.Millisecond,
		Breaker:       concurrency.DefaultBreakerConfig(),
	}
}

// Validate checks required fields and fills optional ones.
func (c *Config) Validate() error {
	if c.Stream == "" {
		return errors.New("stream name cannot be empty")
	}
	if c.Consumer == "" {
		return errors.New("consumer name cannot be empty")
	}
	if c.BatchSize <= 0 {
		return errors.New("batchSize must be greater than 0")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be greater than 0")
	}
	if c.Subject == "" {
		c.Subject = c.Stream + ".>"
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = 5 * time.Second
	}
	if c.IdleWait <= 0 {
		c.IdleWait = 500 * time.Millisecond
	}
	return nil
}

// Option customizes a Runner.
type Option func(*Runner)

// WithArchive saves every outcome to the run's merged result file.
func WithArchive(archive *storage.ResultFileClient) Option {
	return func(r *Runner) { r.archive = archive }
}

// WithReporter sets where merge failures are reported.
func WithReporter(rep reporting.Reporter) Option {
	return func(r *Runner) {
		if rep != nil {
			r.reporter = rep
		}
	}
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithTracing installs an OTLP tracer provider owned by the runner and shut
// down by Close.
func WithTracing(cfg TracingConfig) Option {
	return func(r *Runner) { r.tracingConfig = &cfg }
}

// Runner consumes merge requests with a pool of workers.
type Runner struct {
	service  *message.MessageService
	executor *runtime.Executor
	archive  *storage.ResultFileClient
	reporter reporting.Reporter
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer
	handler  message.Handler
	breaker  *concurrency.CircuitBreaker

	tracingConfig   *TracingConfig
	tracingShutdown func(context.Context) error
}

// NewRunner validates cfg, makes sure the stream and consumer exist and
// returns a runner ready to Run.
func NewRunner(service *message.MessageService, executor *runtime.Executor, cfg Config, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if service == nil {
		return nil, errors.New("message service cannot be nil")
	}
	if executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := service.EnsureStream(cfg.Stream); err != nil {
		return nil, fmt.Errorf("failed to ensure stream '%s' exists: %w", cfg.Stream, err)
	}
	if err := service.EnsureConsumer(cfg.Stream, cfg.Consumer, cfg.Subject); err != nil {
		return nil, fmt.Errorf("failed to ensure consumer '%s' exists: %w", cfg.Consumer, err)
	}

	r := &Runner{
		service:  service,
		executor: executor,
		reporter: reporting.NoOp{},
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("gorilla/runner"),
		breaker:  concurrency.NewCircuitBreaker(cfg.Breaker),
	}
	r.breaker.OnStateChange(func(from, to concurrency.State) {
		logger.Warn("Pull circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.String("stream", cfg.Stream),
			zap.String("consumer", cfg.Consumer))
	})
	for _, opt := range opts {
		opt(r)
	}

	if r.tracingConfig != nil {
		shutdown, err := internaltracing.SetupTracing(context.Background(), r.tracingConfig.toInternalConfig(), logger)
		if err != nil {
			logger.Warn("Failed to setup tracing, continuing without tracing", zap.Error(err))
		} else {
			r.tracingShutdown = shutdown
			r.tracer = otel.Tracer("gorilla/runner")
		}
	}

	r.handler = message.Chain(
		message.RecoveryMiddleware(),
		message.LoggingMiddleware(logger),
		message.ValidationMiddleware(),
	)(r.handle)

	return r, nil
}

// Close flushes tracing and error reporting.
func (r *Runner) Close() error {
	r.reporter.Flush()
	if r.tracingShutdown != nil {
		return internaltracing.ShutdownTracing(r.tracingShutdown, r.logger)
	}
	return nil
}

// Run pulls and processes requests until ctx is done, then waits for the
// workers to finish what they hold and returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	requests := make(chan *message.MergeRequest, r.cfg.BatchSize)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(ctx, workerID, requests)
		}(i)
	}

	go func() {
		defer close(requests)
		r.pull(ctx, requests)
	}()

	wg.Wait()
	m := r.executor.Metrics()
	r.logger.Info("Runner stopped",
		zap.Int64("merged", m.TotalProcessed),
		zap.Int64("failed", m.TotalErrors),
		zap.Int64("skipped_inputs", m.TotalSkipped),
		zap.Int64("items", m.TotalItems),
		zap.Error(ctx.Err()))
	return ctx.Err()
}

func (r *Runner) pull(ctx context.Context, out chan<- *message.MergeRequest) {
	const (
		minBackoff = 100 * time.Millisecond
		maxBackoff = 5 * time.Second
	)
	backoff := minBackoff

	for ctx.Err() == nil {
		if !r.breaker.Allow() {
			if !sleep(ctx, r.cfg.IdleWait) {
				return
			}
			continue
		}
		reqs, err := r.service.PullRequests(ctx, r.cfg.Stream, r.cfg.Consumer, r.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.breaker.Failure()
			r.logger.Error("Error pulling merge requests", zap.Error(err))
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		r.breaker.Success()
		backoff = minBackoff

		if len(reqs) == 0 {
			if !sleep(ctx, r.cfg.IdleWait) {
				return
			}
			continue
		}

		for _, req := range reqs {
			select {
			case out <- req:
			case <-ctx.Done():
				// Undelivered requests go back for redelivery.
				_ = req.Nak()
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) worker(ctx context.Context, workerID int, in <-chan *message.MergeRequest) {
	r.logger.Debug("Worker started", zap.Int("worker_id", workerID))
	defer r.logger.Debug("Worker stopped", zap.Int("worker_id", workerID))

	for req := range in {
		if ctx.Err() != nil {
			_ = req.Nak()
			continue
		}
		spanCtx, span := r.tracer.Start(ctx, "runner.process_request",
			trace.WithAttributes(
				attribute.Int("worker.id", workerID),
				attribute.String("workflow.id", req.WorkflowID()),
				attribute.String("workflow.run_id", req.RunID()),
				attribute.String("node.id", req.NodeID),
				attribute.String("stream", r.cfg.Stream),
				attribute.String("consumer", r.cfg.Consumer),
			))
		if err := r.handler(spanCtx, req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "merged")
		}
		span.End()
	}
}

// Process runs one request synchronously. It is what each worker does and
// is exposed for callers that bring their own delivery loop.
func (r *Runner) Process(ctx context.Context, req *message.MergeRequest) error {
	return r.handler(ctx, req)
}

func (r *Runner) handle(ctx context.Context, req *message.MergeRequest) error {
	executionID := uuid.NewString()
	start := time.Now()

	if err := r.service.LoadSlots(ctx, req); err != nil {
		return r.fail(req, executionID, start, err)
	}

	node := runtime.EmbeddedNodeConfig{
		NodeId:     req.NodeID,
		Label:      req.NodeID,
		PluginType: orderedmerge.PluginType,
		NodeConfig: runtime.NodeConfig{
			NodeId:     req.NodeID,
			WorkflowId: req.WorkflowID(),
			Config:     req.Configuration,
		},
	}

	execCtx, span := r.tracer.Start(ctx, "executor.execute",
		trace.WithAttributes(attribute.Int("slots", len(req.Slots))))
	out := r.executor.Execute(execCtx, node, req.Inputs())
	span.SetAttributes(
		attribute.Int("items", out.ItemCount),
		attribute.Int("skipped_inputs", out.SkippedInputs))
	if out.Error != nil {
		span.RecordError(out.Error)
		span.SetStatus(codes.Error, out.Error.Error())
	}
	span.End()

	if out.Error != nil {
		return r.fail(req, executionID, start, classify(out.Error))
	}

	merged, ok := out.Data[component.OutputName].(*tree.DataTree)
	if !ok {
		return r.fail(req, executionID, start,
			gerrors.NewInternalError("merge produced no tree", runtime.ErrProcessingFailed))
	}

	res := message.NewMergeResult(executionID, req, message.StatusSuccess).WithMerged(merged)
	res.PluginType = orderedmerge.PluginType
	res.SkippedInputs = out.SkippedInputs
	res.ExecutionTimeMs = time.Since(start).Milliseconds()

	r.archiveResult(req, &storage.MergedResult{
		Meta:   r.meta(req, res),
		Merged: merged,
	})

	reportCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ReportTimeout)
	defer cancel()
	if err := r.service.ReportSuccess(reportCtx, req, res); err != nil {
		r.reporter.CaptureError(err, r.tags(req, "report_success"))
		return fmt.Errorf("failed to report success: %w", err)
	}
	return nil
}

// fail archives, reports and publishes a failed merge. It returns cause so
// the middleware logs it.
func (r *Runner) fail(req *message.MergeRequest, executionID string, start time.Time, cause error) error {
	if !gerrors.IsRetryable(cause) {
		r.reporter.CaptureError(cause, r.tags(req, "merge"))
	}

	res := message.NewMergeResult(executionID, req, message.StatusFailed)
	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	r.archiveResult(req, &storage.MergedResult{
		Meta: r.meta(req, res),
		Error: &storage.MergedResultError{
			Code:      gerrors.Code(cause),
			Message:   cause.Error(),
			Retryable: gerrors.IsRetryable(cause),
		},
	})

	reportCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ReportTimeout)
	defer cancel()
	if err := r.service.ReportError(reportCtx, req, executionID, cause); err != nil {
		r.logger.Error("Failed to report merge failure",
			zap.String("request", req.Identifier()),
			zap.Error(err))
	}
	return cause
}

func (r *Runner) meta(req *message.MergeRequest, res *message.MergeResult) storage.MergedResultMeta {
	return storage.MergedResultMeta{
		Status:          res.Status,
		NodeID:          req.NodeID,
		CorrelationID:   req.CorrelationID,
		PluginType:      orderedmerge.PluginType,
		Items:           res.ItemCount,
		SkippedInputs:   res.SkippedInputs,
		ExecutionTimeMs: res.ExecutionTimeMs,
	}
}

// archiveResult is best effort: a failed archive write never fails the
// merge.
func (r *Runner) archiveResult(req *message.MergeRequest, result *storage.MergedResult) {
	if r.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ReportTimeout)
	defer cancel()
	if _, err := r.archive.SaveMerged(ctx, req.WorkflowID(), req.RunID(), req.NodeID, result); err != nil {
		r.logger.Warn("Failed to archive merged result",
			zap.String("request", req.Identifier()),
			zap.Error(err))
	}
}

func (r *Runner) tags(req *message.MergeRequest, phase string) map[string]string {
	return map[string]string{
		"workflow_id": req.WorkflowID(),
		"run_id":      req.RunID(),
		"node_id":     req.NodeID,
		"phase":       phase,
	}
}

// classify gives executor failures a wire code. Bad configuration, bad
// inputs and broken slot lists are permanent; timeouts stay retryable.
func classify(err error) error {
	switch {
	case errors.Is(err, runtime.ErrInvalidConfig),
		errors.Is(err, runtime.ErrInvalidInput),
		errors.Is(err, runtime.ErrNoExecutor),
		errors.Is(err, slots.ErrModeSelectorMissing),
		errors.Is(err, slots.ErrCorruptSlots),
		errors.Is(err, slots.ErrSlotPosition):
		return gerrors.NewValidationError(err.Error(), err)
	case errors.Is(err, runtime.ErrContextCancelled):
		return gerrors.NewError(gerrors.CodeCanceled, err.Error(), err)
	}
	return err
}
