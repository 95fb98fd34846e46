// Command merge-worker consumes ordered-merge requests from NATS JetStream
// and publishes the merged data trees.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	internalnats "github.com/wehubfusion/Gorilla/internal/nats"
	"github.com/wehubfusion/Gorilla/internal/reporting"
	"github.com/wehubfusion/Gorilla/pkg/concurrency"
	"github.com/wehubfusion/Gorilla/pkg/embedded/processors"
	"github.com/wehubfusion/Gorilla/pkg/embedded/runtime"
	"github.com/wehubfusion/Gorilla/pkg/embedded/runtime/logging"
	"github.com/wehubfusion/Gorilla/pkg/message"
	"github.com/wehubfusion/Gorilla/pkg/runner"
	"github.com/wehubfusion/Gorilla/pkg/storage"
)

const serviceName = "gorilla-merge-worker"

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	undo := concurrency.SetMaxProcs(nil)
	defer undo()

	if err := newRootCmd(os.Getenv).Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	host := concurrency.DetectHost(getenv)
	cfg, envErr := defaultWorkerConfig(getenv, host)

	root := &cobra.Command{
		Use:          "merge-worker",
		Short:        "Ordered merge worker for data trees",
		Version:      version,
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Consume merge requests from JetStream until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, cfg, host)
		},
	}
	cfg.bindFlags(runCmd.Flags())

	var input string
	mergeCmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge one request read from a file (or stdin) and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return mergeOnce(cmd.Context(), r, cmd.OutOrStdout())
		},
	}
	mergeCmd.Flags().StringVarP(&input, "file", "f", "-", "merge request JSON, '-' for stdin")

	root.AddCommand(runCmd, mergeCmd)
	return root
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newExecutor(cfg workerConfig, logger *zap.Logger) *runtime.Executor {
	return runtime.NewExecutor(
		processors.NewProcessorRegistryWithLogger(logger),
		runtime.DefaultProcessorConfig().
			WithMetrics(true).
			WithLogger(logging.NewZapLogger(logger)).
			WithTimeout(cfg.ProcessTimeout).
			WithWorkers(cfg.Workers),
	)
}

func runWorker(ctx context.Context, cfg workerConfig, host concurrency.Host) error {
	logger, err := newLogger(cfg.DevelopmentLogs)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	connCfg := internalnats.DefaultConnectionConfig(cfg.NATSURL)
	connCfg.Name = serviceName
	conn, err := internalnats.Connect(ctx, connCfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = internalnats.Close(conn) }()

	js, err := internalnats.JetStream(conn)
	if err != nil {
		return err
	}

	service, err := message.NewMessageService(message.WrapNATSJetStream(js), message.ServiceConfig{
		MaxDeliver:    cfg.MaxDeliver,
		ResultStream:  cfg.ResultStream,
		ResultSubject: cfg.ResultSubject,
	}, logger)
	if err != nil {
		return err
	}

	var opts []runner.Option
	if cfg.BlobConnString != "" {
		blobs, err := storage.NewAzureBlobClient(cfg.BlobConnString, cfg.BlobContainer, logger)
		if err != nil {
			return err
		}
		service.SetBlobStorage(blobs)
		if cfg.ArchiveResults {
			opts = append(opts, runner.WithArchive(storage.NewResultFileClient(blobs, logger)))
		}
	}

	reporter, err := reporting.New(reporting.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     version,
	}, logger)
	if err != nil {
		return err
	}
	opts = append(opts, runner.WithReporter(reporter))

	if cfg.OTLPEndpoint != "" {
		tc := runner.DefaultTracingConfig(serviceName)
		tc.ServiceVersion = version
		tc.Environment = cfg.Environment
		tc.OTLPEndpoint = cfg.OTLPEndpoint
		tc.SampleRatio = cfg.SampleRatio
		opts = append(opts, runner.WithTracing(tc))
	}

	rcfg := runner.DefaultConfig(cfg.Stream, cfg.Consumer)
	rcfg.Workers = cfg.Workers
	rcfg.BatchSize = cfg.BatchSize

	r, err := runner.NewRunner(service, newExecutor(cfg, logger), rcfg, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			logger.Warn("Runner close failed", zap.Error(err))
		}
	}()

	logger.Info("Merge worker started",
		zap.String("stream", cfg.Stream),
		zap.String("consumer", cfg.Consumer),
		zap.Int("workers", cfg.Workers),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Stringer("host", host))

	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("Merge worker stopped")
	return nil
}

// mergeOnce runs a single request through the same pipeline as the worker,
// backed by an in-process JetStream.
func mergeOnce(ctx context.Context, in io.Reader, out io.Writer) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	req, err := message.MergeRequestFromBytes(data)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	js := message.NewMemoryJetStream()
	service, err := message.NewMessageService(js, message.ServiceConfig{}, logger)
	if err != nil {
		return err
	}

	cfg := workerConfig{ProcessTimeout: runtime.DefaultProcessTimeout, Workers: 1}
	r, err := runner.NewRunner(service, newExecutor(cfg, logger), runner.DefaultConfig("LOCAL_MERGE", "local"), logger)
	if err != nil {
		return err
	}
	defer r.Close()

	// Failures are published as results too, so the processing error is
	// only surfaced when nothing was published.
	procErr := r.Process(ctx, req)

	published := js.Published(service.Config().ResultSubject)
	if len(published) == 0 {
		if procErr != nil {
			return procErr
		}
		return fmt.Errorf("merge produced no result")
	}
	res, err := message.MergeResultFromBytes(published[len(published)-1].Data)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.IsFailed() {
		return fmt.Errorf("merge failed: %s", res.Error.Message)
	}
	return nil
}
